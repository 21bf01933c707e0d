package client

// Strategy is the notification sink for strategy code. Both hooks are
// invoked from the stream read goroutine after the corresponding state has
// been updated; implementations must return quickly and push any outbound
// commands through the dispatcher, which detaches them from the read loop.
type Strategy interface {
	// OnOrderBookUpdate fires after an order-book update batch has been
	// applied to the filtered book.
	OnOrderBookUpdate()
	// OnPortfolioUpdate fires after a private-queue push has replaced the
	// portfolio.
	OnPortfolioUpdate()
}

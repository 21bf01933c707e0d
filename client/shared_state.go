package client

import (
	"bookflow/book"
	"bookflow/portfolio"
)

// SharedState is the immutable handle pair strategy code reads from: the
// filtered order book and the portfolio. The referenced objects are mutated
// by the stream read loop; the handles themselves never change.
type SharedState struct {
	book    *book.FilteredBook
	account *portfolio.Portfolio
}

// OrderBook returns the filtered order book.
func (s *SharedState) OrderBook() *book.FilteredBook {
	return s.book
}

// Portfolio returns the account portfolio.
func (s *SharedState) Portfolio() *portfolio.Portfolio {
	return s.account
}

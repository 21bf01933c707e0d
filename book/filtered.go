package book

import (
	"sync"

	"bookflow/models"
)

// FilteredBook wraps a raw Book and materialises a second view with the
// account's own resting orders subtracted, so strategy code never reacts to
// its own quotes. The filtered view is rebuilt by deep copy on every update
// batch; at the volumes this client sees (tens of tickers, hundreds of
// levels) that is cheaper than keeping an incremental delta structure
// correct across portfolio replaces.
type FilteredBook struct {
	raw *Book

	mu       sync.RWMutex
	filtered *Book
}

// NewFiltered wraps raw. The filtered view starts as a plain copy; own
// orders are first subtracted on the next ApplyUpdates call.
func NewFiltered(raw *Book) *FilteredBook {
	return &FilteredBook{raw: raw, filtered: raw.clone()}
}

// ApplyUpdates forwards the batch verbatim to the raw book, then rebuilds
// the filtered view: deep copy of the raw state minus every open order's
// volume at its exact (ticker, side, price) level. An order whose level is
// no longer present is skipped; a decrement reaching zero removes the level.
// A malformed batch rejects atomically and leaves both views untouched.
func (f *FilteredBook) ApplyUpdates(updates []models.BookUpdate, openOrders map[string][]models.Order) error {
	if err := f.raw.ApplyUpdates(updates); err != nil {
		return err
	}
	f.refilter(openOrders)
	return nil
}

// refilter rebuilds the filtered view from the current raw state minus the
// given open orders.
func (f *FilteredBook) refilter(openOrders map[string][]models.Order) {
	next := f.raw.clone()
	for _, orders := range openOrders {
		for _, o := range orders {
			next.decrement(o.Ticker, o.Side, o.Price, o.Volume)
		}
	}
	f.mu.Lock()
	f.filtered = next
	f.mu.Unlock()
}

// Raw returns the unfiltered book.
func (f *FilteredBook) Raw() *Book {
	return f.raw
}

// Filtered returns the current filtered view. The returned book is the
// materialised snapshot; it is replaced, not mutated, on the next update.
func (f *FilteredBook) Filtered() *Book {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filtered
}

// BestBid returns the filtered best bid for ticker.
func (f *FilteredBook) BestBid(ticker string) (models.PriceLevel, bool) {
	return f.Filtered().BestBid(ticker)
}

// BestAsk returns the filtered best ask for ticker.
func (f *FilteredBook) BestAsk(ticker string) (models.PriceLevel, bool) {
	return f.Filtered().BestAsk(ticker)
}

// Mid returns the filtered mid price for ticker.
func (f *FilteredBook) Mid(ticker string) (float64, bool) {
	return f.Filtered().Mid(ticker)
}

// WeightedMid returns the filtered weighted mid price for ticker.
func (f *FilteredBook) WeightedMid(ticker string) (float64, bool) {
	return f.Filtered().WeightedMid(ticker)
}

// Spread returns the filtered spread for ticker.
func (f *FilteredBook) Spread(ticker string) (float64, bool) {
	return f.Filtered().Spread(ticker)
}

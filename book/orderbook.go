// Package book maintains the per-ticker two-sided order-book state mirrored
// from the venue, plus a filtered view with the account's own resting
// liquidity removed.
package book

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"bookflow/models"
)

// ErrMalformedUpdate is returned when an update batch contains an entry
// missing one of ticker, price, side or volume. The whole batch is rejected
// before any entry is applied.
var ErrMalformedUpdate = errors.New("malformed orderbook update")

// side is one half of a ticker's book: price -> volume with an ascending
// price index. Bid lookups reverse the index at the query layer.
type side struct {
	volumes map[float64]float64
	prices  []float64 // ascending
}

func newSide() *side {
	return &side{volumes: make(map[float64]float64)}
}

// set inserts or overwrites the level at price. Volume is an absolute
// replacement, never a delta.
func (s *side) set(price, volume float64) {
	if _, ok := s.volumes[price]; !ok {
		i := sort.SearchFloat64s(s.prices, price)
		s.prices = append(s.prices, 0)
		copy(s.prices[i+1:], s.prices[i:])
		s.prices[i] = price
	}
	s.volumes[price] = volume
}

func (s *side) remove(price float64) {
	if _, ok := s.volumes[price]; !ok {
		return
	}
	delete(s.volumes, price)
	i := sort.SearchFloat64s(s.prices, price)
	s.prices = append(s.prices[:i], s.prices[i+1:]...)
}

// best returns the top of the side: the highest price for bids, the lowest
// for asks.
func (s *side) best(highest bool) (models.PriceLevel, bool) {
	if len(s.prices) == 0 {
		return models.PriceLevel{}, false
	}
	p := s.prices[0]
	if highest {
		p = s.prices[len(s.prices)-1]
	}
	return models.PriceLevel{Price: p, Volume: s.volumes[p]}, true
}

// levels returns the side ordered best-first.
func (s *side) levels(highest bool) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(s.prices))
	if highest {
		for i := len(s.prices) - 1; i >= 0; i-- {
			out = append(out, models.PriceLevel{Price: s.prices[i], Volume: s.volumes[s.prices[i]]})
		}
		return out
	}
	for _, p := range s.prices {
		out = append(out, models.PriceLevel{Price: p, Volume: s.volumes[p]})
	}
	return out
}

func (s *side) clone() *side {
	c := &side{
		volumes: make(map[float64]float64, len(s.volumes)),
		prices:  make([]float64, len(s.prices)),
	}
	copy(c.prices, s.prices)
	for p, v := range s.volumes {
		c.volumes[p] = v
	}
	return c
}

type tickerBook struct {
	bids *side
	asks *side
}

func newTickerBook() *tickerBook {
	return &tickerBook{bids: newSide(), asks: newSide()}
}

// Book is the authoritative mirror of the venue's order book. It is created
// empty or from a buildup snapshot and mutated only through ApplyUpdates.
type Book struct {
	mu    sync.RWMutex
	books map[string]*tickerBook
}

// New creates an empty book.
func New() *Book {
	return &Book{books: make(map[string]*tickerBook)}
}

// FromSnapshot builds a book from the raw buildup snapshot. Price keys
// arrive as strings and are parsed; unparsable keys fail the whole load.
func FromSnapshot(raw models.RawSnapshot) (*Book, error) {
	b := New()
	for ticker, sides := range raw {
		tb := newTickerBook()
		if err := loadSide(tb.bids, sides.BidVolumes); err != nil {
			return nil, fmt.Errorf("snapshot bids for %s: %w", ticker, err)
		}
		if err := loadSide(tb.asks, sides.AskVolumes); err != nil {
			return nil, fmt.Errorf("snapshot asks for %s: %w", ticker, err)
		}
		b.books[ticker] = tb
	}
	return b, nil
}

func loadSide(s *side, volumes map[string]models.Float) error {
	for priceKey, volume := range volumes {
		price, err := strconv.ParseFloat(priceKey, 64)
		if err != nil {
			return fmt.Errorf("price key %q: %w", priceKey, err)
		}
		if float64(volume) != 0 {
			s.set(price, float64(volume))
		}
	}
	return nil
}

// ApplyUpdates applies a batch of absolute-volume level updates. The batch
// is validated up front: any entry missing a field or carrying an unknown
// side rejects the whole batch with ErrMalformedUpdate and nothing is
// applied. Volume zero deletes the level, any other volume overwrites it.
// An unknown ticker auto-creates an empty two-sided book.
func (b *Book) ApplyUpdates(updates []models.BookUpdate) error {
	type applied struct {
		ticker string
		side   models.Side
		price  float64
		volume float64
	}

	plan := make([]applied, len(updates))
	for i, u := range updates {
		if u.Ticker == nil || u.Price == nil || u.Side == nil || u.Volume == nil {
			return fmt.Errorf("%w: entry %d must have ticker, price, side and volume", ErrMalformedUpdate, i)
		}
		side, err := models.ParseSide(*u.Side)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrMalformedUpdate, i, err)
		}
		plan[i] = applied{
			ticker: *u.Ticker,
			side:   side,
			price:  float64(*u.Price),
			volume: float64(*u.Volume),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, u := range plan {
		tb, ok := b.books[u.ticker]
		if !ok {
			tb = newTickerBook()
			b.books[u.ticker] = tb
		}
		s := tb.asks
		if u.side == models.SideBid {
			s = tb.bids
		}
		if u.volume == 0 {
			s.remove(u.price)
		} else {
			s.set(u.price, u.volume)
		}
	}
	return nil
}

// BestBid returns the highest-priced bid level for ticker.
func (b *Book) BestBid(ticker string) (models.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tb, ok := b.books[ticker]
	if !ok {
		return models.PriceLevel{}, false
	}
	return tb.bids.best(true)
}

// BestAsk returns the lowest-priced ask level for ticker.
func (b *Book) BestAsk(ticker string) (models.PriceLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tb, ok := b.books[ticker]
	if !ok {
		return models.PriceLevel{}, false
	}
	return tb.asks.best(false)
}

// Mid returns the average of the best bid and best ask prices. It is absent
// when either side is empty.
func (b *Book) Mid(ticker string) (float64, bool) {
	bid, okB := b.BestBid(ticker)
	ask, okA := b.BestAsk(ticker)
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// WeightedMid returns the volume-weighted mid, leaning toward the side with
// less resting volume. Absent when either side is empty.
func (b *Book) WeightedMid(ticker string) (float64, bool) {
	bid, okB := b.BestBid(ticker)
	ask, okA := b.BestAsk(ticker)
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price*ask.Volume + ask.Price*bid.Volume) / (bid.Volume + ask.Volume), true
}

// Spread returns best ask minus best bid. A crossed book yields a negative
// spread; callers must tolerate it. Absent when either side is empty.
func (b *Book) Spread(ticker string) (float64, bool) {
	bid, okB := b.BestBid(ticker)
	ask, okA := b.BestAsk(ticker)
	if !okB || !okA {
		return 0, false
	}
	return ask.Price - bid.Price, true
}

// Levels returns one side of a ticker's book ordered best-first. The slice
// is a copy.
func (b *Book) Levels(ticker string, s models.Side) []models.PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tb, ok := b.books[ticker]
	if !ok {
		return nil
	}
	if s == models.SideBid {
		return tb.bids.levels(true)
	}
	return tb.asks.levels(false)
}

// Volume returns the resting volume at an exact (ticker, side, price) key,
// or false when the level does not exist.
func (b *Book) Volume(ticker string, s models.Side, price float64) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tb, ok := b.books[ticker]
	if !ok {
		return 0, false
	}
	levels := tb.asks.volumes
	if s == models.SideBid {
		levels = tb.bids.volumes
	}
	v, ok := levels[price]
	return v, ok
}

// Tickers lists all tickers the book has seen, sorted.
func (b *Book) Tickers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.books))
	for t := range b.books {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// clone deep-copies the book. Used by the filtered view on every update.
func (b *Book) clone() *Book {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c := New()
	for ticker, tb := range b.books {
		c.books[ticker] = &tickerBook{bids: tb.bids.clone(), asks: tb.asks.clone()}
	}
	return c
}

// decrement lowers the level at an exact (ticker, side, price) key by the
// given volume, removing the level when it reaches or crosses zero. A
// missing ticker or level is a no-op.
func (b *Book) decrement(ticker string, s models.Side, price, volume float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tb, ok := b.books[ticker]
	if !ok {
		return
	}
	sd := tb.asks
	if s == models.SideBid {
		sd = tb.bids
	}
	current, ok := sd.volumes[price]
	if !ok {
		return
	}
	remaining := current - volume
	if remaining <= 0 {
		sd.remove(price)
		return
	}
	sd.volumes[price] = remaining
}

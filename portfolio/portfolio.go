// Package portfolio tracks the account's balance, pnl, positions and
// resting orders. State is replaced wholesale by private-queue pushes and
// patched optimistically after confirmed command responses; a later push
// always wins.
package portfolio

import (
	"sync"

	"bookflow/logger"
	"bookflow/models"
)

// Portfolio is the single source of truth for account state. All methods
// are safe for concurrent use: pushes arrive on the stream read goroutine
// while optimistic updates arrive from detached command goroutines.
type Portfolio struct {
	mu        sync.RWMutex
	balance   float64
	pnl       float64
	username  string
	positions map[string]models.Position
	orders    map[string][]models.Order

	log *logger.Log
}

// New creates a clean-slate portfolio.
func New() *Portfolio {
	return &Portfolio{
		positions: make(map[string]models.Position),
		orders:    make(map[string][]models.Order),
		log:       logger.GetLogger(),
	}
}

// Replace overwrites balance, pnl, positions and orders from a private
// queue push. Everything not present in the message resets to its zero
// value; intervening optimistic updates are overwritten by design.
func (p *Portfolio) Replace(msg models.PortfolioMessage) {
	positions := make(map[string]models.Position, len(msg.Positions))
	for ticker, pos := range msg.Positions {
		positions[ticker] = pos
	}

	orders := make(map[string][]models.Order, len(msg.Orders))
	for ticker, entries := range msg.Orders {
		list := make([]models.Order, 0, len(entries))
		for _, e := range entries {
			side, err := models.ParseSide(e.Side)
			if err != nil {
				p.log.WithComponent("portfolio").WithError(err).WithFields(logger.Fields{
					"ticker":   ticker,
					"order_id": e.OrderID,
				}).Warn("skipping order with unknown side")
				continue
			}
			list = append(list, models.Order{
				Ticker: ticker,
				Price:  e.Price,
				Volume: e.Volume,
				Side:   side,
				ID:     e.OrderID,
			})
		}
		orders[ticker] = list
	}

	var balance float64
	if msg.Balance != nil {
		balance = float64(*msg.Balance)
	}

	p.mu.Lock()
	p.balance = balance
	p.pnl = float64(msg.Pnl)
	p.username = msg.Username
	p.positions = positions
	p.orders = orders
	p.mu.Unlock()
}

// AddOrder appends a resting order to the per-ticker open-order list. Used
// for optimistic bookkeeping of an unfilled limit-order remainder.
func (p *Portfolio) AddOrder(order models.Order) {
	p.mu.Lock()
	p.orders[order.Ticker] = append(p.orders[order.Ticker], order)
	p.mu.Unlock()
}

// AddPosition applies a confirmed fill as a position delta at the given
// price, maintaining the volume-weighted average entry price. A position
// returning to exactly zero resets its average price to zero.
func (p *Portfolio) AddPosition(ticker string, delta, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[ticker]
	notional := pos.AveragePrice*pos.Quantity + delta*price
	pos.Quantity += delta
	if pos.Quantity == 0 {
		pos.AveragePrice = 0
	} else {
		pos.AveragePrice = notional / pos.Quantity
	}
	p.positions[ticker] = pos
}

// ClearOrders empties all open-order tracking after a confirmed remove-all.
func (p *Portfolio) ClearOrders() {
	p.mu.Lock()
	p.orders = make(map[string][]models.Order)
	p.mu.Unlock()
}

// Balance returns the account balance.
func (p *Portfolio) Balance() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balance
}

// Pnl returns the account pnl.
func (p *Portfolio) Pnl() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pnl
}

// Username returns the username last reported by the venue.
func (p *Portfolio) Username() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.username
}

// Position returns the position for a single ticker.
func (p *Portfolio) Position(ticker string) models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[ticker]
}

// Positions returns a copy of all positions.
func (p *Portfolio) Positions() map[string]models.Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]models.Position, len(p.positions))
	for ticker, pos := range p.positions {
		out[ticker] = pos
	}
	return out
}

// Orders returns a copy of the open-order lists keyed by ticker.
func (p *Portfolio) Orders() map[string][]models.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]models.Order, len(p.orders))
	for ticker, list := range p.orders {
		cp := make([]models.Order, len(list))
		copy(cp, list)
		out[ticker] = cp
	}
	return out
}

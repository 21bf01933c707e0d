// Package dispatch applies admission control to outbound order commands.
// The venue enforces a hard cap of operations per rolling second; commands
// over budget are dropped, never queued.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"bookflow/logger"
)

// Commander is the downstream that admitted commands are forwarded to,
// implemented by the client façade.
type Commander interface {
	PlaceLimit(ctx context.Context, ticker string, volume, price float64, isBid bool) error
	PlaceMarket(ctx context.Context, ticker string, volume float64, isBid bool) error
	RemoveAll(ctx context.Context) error
}

// Dispatcher admits at most limit commands per trailing one-second window.
// The window is a pruned sequence of admission timestamps; it is shared by
// limit orders, market orders and cancel-alls alike.
type Dispatcher struct {
	limit  int
	client Commander
	log    *logger.Log

	// now is swapped in tests to drive the window deterministically.
	now func() time.Time

	mu     sync.Mutex
	window []time.Time
}

// New creates a dispatcher with the venue's per-second command cap.
func New(limit int, client Commander) *Dispatcher {
	return &Dispatcher{
		limit:  limit,
		client: client,
		log:    logger.GetLogger(),
		now:    time.Now,
	}
}

// admit prunes timestamps older than one second and, when the window has
// room, records the call. Commands are dispatched from detached goroutines,
// so the prune-and-append is a critical section.
func (d *Dispatcher) admit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	cutoff := now.Add(-time.Second)
	expired := 0
	for _, ts := range d.window {
		if ts.After(cutoff) {
			break
		}
		expired++
	}
	d.window = d.window[expired:]

	if len(d.window) >= d.limit {
		return false
	}
	d.window = append(d.window, now)
	return true
}

func (d *Dispatcher) reject(kind string, fields logger.Fields) {
	if fields == nil {
		fields = logger.Fields{}
	}
	fields["command"] = kind
	fields["command_id"] = uuid.NewString()
	fields["limit"] = d.limit
	d.log.WithComponent("dispatch").WithFields(fields).Warn("command rejected by rate limit")
	logger.IncrementCommandDropped()
	d.log.LogMetric("dispatch", "CommandRejected", 1, "counter", logger.Fields{"command": kind})
}

// PlaceLimit forwards a limit order when the rate window has room. An
// over-budget call is a logged no-op, indistinguishable to the caller from
// a slow acceptance.
func (d *Dispatcher) PlaceLimit(ctx context.Context, ticker string, volume, price float64, isBid bool) error {
	if !d.admit() {
		d.reject("limit", logger.Fields{"ticker": ticker, "volume": volume, "price": price, "is_bid": isBid})
		return nil
	}
	return d.client.PlaceLimit(ctx, ticker, volume, price, isBid)
}

// PlaceMarket forwards a market order when the rate window has room.
func (d *Dispatcher) PlaceMarket(ctx context.Context, ticker string, volume float64, isBid bool) error {
	if !d.admit() {
		d.reject("market", logger.Fields{"ticker": ticker, "volume": volume, "is_bid": isBid})
		return nil
	}
	return d.client.PlaceMarket(ctx, ticker, volume, isBid)
}

// RemoveAll forwards a cancel-all when the rate window has room.
func (d *Dispatcher) RemoveAll(ctx context.Context) error {
	if !d.admit() {
		d.reject("remove_all", nil)
		return nil
	}
	return d.client.RemoveAll(ctx)
}

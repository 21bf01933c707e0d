package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

// countingCommander records how many of each command reached the downstream.
type countingCommander struct {
	mu      sync.Mutex
	limits  int
	markets int
	removes int
}

func (c *countingCommander) PlaceLimit(ctx context.Context, ticker string, volume, price float64, isBid bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits++
	return nil
}

func (c *countingCommander) PlaceMarket(ctx context.Context, ticker string, volume float64, isBid bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markets++
	return nil
}

func (c *countingCommander) RemoveAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removes++
	return nil
}

func (c *countingCommander) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limits + c.markets + c.removes
}

// fakeClock drives the dispatcher window deterministically.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestDispatcher(limit int) (*Dispatcher, *countingCommander, *fakeClock) {
	downstream := &countingCommander{}
	clock := &fakeClock{now: time.Unix(1000, 0)}
	d := New(limit, downstream)
	d.now = clock.Now
	return d, downstream, clock
}

func TestDispatcherDropsOverBudget(t *testing.T) {
	d, downstream, clock := newTestDispatcher(5)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := d.PlaceLimit(ctx, "AAPL", 1, 100, true); err != nil {
			t.Fatalf("PlaceLimit returned error: %v", err)
		}
		clock.Advance(40 * time.Millisecond)
	}

	if got := downstream.total(); got != 5 {
		t.Errorf("expected 5 commands forwarded, got %d", got)
	}
}

func TestDispatcherWindowSlides(t *testing.T) {
	d, downstream, clock := newTestDispatcher(5)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_ = d.PlaceMarket(ctx, "AAPL", 1, true)
		clock.Advance(40 * time.Millisecond)
	}
	if got := downstream.total(); got != 5 {
		t.Fatalf("expected 5 forwarded before window slides, got %d", got)
	}

	// All admissions are older than one second now; the next call passes.
	clock.Advance(1100 * time.Millisecond)
	if err := d.PlaceMarket(ctx, "AAPL", 1, true); err != nil {
		t.Fatalf("PlaceMarket returned error: %v", err)
	}
	if got := downstream.total(); got != 6 {
		t.Errorf("expected 6 forwarded after window slid, got %d", got)
	}
}

func TestDispatcherWindowSharedAcrossCommandKinds(t *testing.T) {
	d, downstream, _ := newTestDispatcher(3)
	ctx := context.Background()

	_ = d.PlaceLimit(ctx, "AAPL", 1, 100, true)
	_ = d.PlaceMarket(ctx, "AAPL", 1, false)
	_ = d.RemoveAll(ctx)
	_ = d.RemoveAll(ctx)

	if got := downstream.total(); got != 3 {
		t.Errorf("expected shared window to admit 3 of 4, got %d", got)
	}
	if downstream.removes != 1 {
		t.Errorf("expected the second remove to be dropped, got %d removes", downstream.removes)
	}
}

func TestDispatcherDropReturnsNil(t *testing.T) {
	d, _, _ := newTestDispatcher(1)
	ctx := context.Background()

	if err := d.PlaceLimit(ctx, "AAPL", 1, 100, true); err != nil {
		t.Fatalf("first command errored: %v", err)
	}
	// A drop is silent toward the caller; only logs and counters record it.
	if err := d.PlaceLimit(ctx, "AAPL", 1, 100, true); err != nil {
		t.Errorf("dropped command must not surface an error, got %v", err)
	}
}

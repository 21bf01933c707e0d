package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bookflow/config"
	"bookflow/models"
	"bookflow/venue"
)

// fakeVenue serves buildup and command endpoints with scripted responses.
type fakeVenue struct {
	mu       sync.Mutex
	requests []string
	bodies   []map[string]any

	commandResponse map[string]any
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{
		commandResponse: map[string]any{
			"message": map[string]any{"errorCode": 0},
		},
	}
}

func (f *fakeVenue) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		f.requests = append(f.requests, r.URL.Path)
		f.bodies = append(f.bodies, body)
		resp := f.commandResponse
		f.mu.Unlock()

		if r.URL.Path == "/buildup" {
			snapshot := `{"AAPL":{"bidVolumes":{"99":6},"askVolumes":{"100":10}}}`
			json.NewEncoder(w).Encode(map[string]any{
				"sessionToken":  "tok-123",
				"orderBookData": snapshot,
			})
			return
		}
		json.NewEncoder(w).Encode(resp)
	})
}

func (f *fakeVenue) setCommandResponse(resp map[string]any) {
	f.mu.Lock()
	f.commandResponse = resp
	f.mu.Unlock()
}

func (f *fakeVenue) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.requests))
	copy(out, f.requests)
	return out
}

func testClient(t *testing.T) (*Client, *fakeVenue) {
	t.Helper()
	f := newFakeVenue()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Venue: config.VenueConfig{
			HTTPURL:    srv.URL,
			WSURL:      "ws://unused/ws",
			Username:   "trader",
			APIKey:     "secret",
			ErrorCheck: config.ErrorCheckCode,
			Rest: config.RestConfig{
				Timeout:           2 * time.Second,
				RequestsPerSecond: 100,
				BurstSize:         100,
			},
		},
		Trading: config.TradingConfig{RateLimit: 100},
		Stream: config.StreamConfig{
			ReconnectDelay:   50 * time.Millisecond,
			HandshakeTimeout: time.Second,
		},
	}

	c, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, f
}

func TestNewLoadsSnapshot(t *testing.T) {
	c, _ := testClient(t)

	state := c.SharedState()
	if bid, ok := state.OrderBook().BestBid("AAPL"); !ok || bid.Price != 99 || bid.Volume != 6 {
		t.Errorf("snapshot not loaded into book: %+v ok=%v", bid, ok)
	}
	if ask, ok := state.OrderBook().BestAsk("AAPL"); !ok || ask.Price != 100 || ask.Volume != 10 {
		t.Errorf("snapshot not loaded into book: %+v ok=%v", ask, ok)
	}
}

func TestNewFailsOnAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := &config.Config{
		Venue: config.VenueConfig{
			HTTPURL:  srv.URL,
			WSURL:    "ws://unused/ws",
			Username: "trader",
			APIKey:   "wrong",
		},
		Trading: config.TradingConfig{RateLimit: 100},
	}
	if _, err := New(context.Background(), cfg); !errors.Is(err, venue.ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestPlaceLimitOptimisticUpdates(t *testing.T) {
	c, f := testClient(t)
	f.setCommandResponse(map[string]any{
		"message": map[string]any{"errorCode": 0, "volumeFilled": 2, "orderId": 77},
	})

	if err := c.PlaceLimit(context.Background(), "AAPL", 5, 101, true); err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	c.Unsubscribe() // joins the detached command task

	pos := c.SharedState().Portfolio().Position("AAPL")
	if pos.Quantity != 2 || pos.AveragePrice != 101 {
		t.Errorf("expected optimistic position of 2@101, got %+v", pos)
	}

	orders := c.SharedState().Portfolio().Orders()["AAPL"]
	if len(orders) != 1 {
		t.Fatalf("expected one resting order for the remainder, got %d", len(orders))
	}
	if orders[0].Volume != 3 || orders[0].Price != 101 || orders[0].Side != models.SideBid || orders[0].ID != 77 {
		t.Errorf("unexpected resting order: %+v", orders[0])
	}
}

func TestPlaceLimitFullFillLeavesNoOrder(t *testing.T) {
	c, f := testClient(t)
	f.setCommandResponse(map[string]any{
		"message": map[string]any{"errorCode": 0, "volumeFilled": 5, "orderId": 77},
	})

	if err := c.PlaceLimit(context.Background(), "AAPL", 5, 101, false); err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	c.Unsubscribe()

	pos := c.SharedState().Portfolio().Position("AAPL")
	if pos.Quantity != -5 {
		t.Errorf("sell fill must decrease the position, got %+v", pos)
	}
	if orders := c.SharedState().Portfolio().Orders()["AAPL"]; len(orders) != 0 {
		t.Errorf("full fill must leave no resting order, got %+v", orders)
	}
}

func TestPlaceLimitRejectedLeavesStateUntouched(t *testing.T) {
	c, f := testClient(t)
	f.setCommandResponse(map[string]any{
		"message": map[string]any{"errorCode": 3, "error": "insufficient balance"},
	})

	if err := c.PlaceLimit(context.Background(), "AAPL", 5, 101, true); err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	c.Unsubscribe()

	if pos := c.SharedState().Portfolio().Position("AAPL"); pos.Quantity != 0 {
		t.Errorf("rejected command must not update the position, got %+v", pos)
	}
	if orders := c.SharedState().Portfolio().Orders(); len(orders) != 0 {
		t.Errorf("rejected command must not record an order, got %+v", orders)
	}
}

func TestPlaceMarketUsesReportedFillPrice(t *testing.T) {
	c, f := testClient(t)
	f.setCommandResponse(map[string]any{
		"message": map[string]any{"errorCode": 0, "volumeFilled": 3, "price": 100.5},
	})

	if err := c.PlaceMarket(context.Background(), "AAPL", 3, true); err != nil {
		t.Fatalf("PlaceMarket returned error: %v", err)
	}
	c.Unsubscribe()

	pos := c.SharedState().Portfolio().Position("AAPL")
	if pos.Quantity != 3 || pos.AveragePrice != 100.5 {
		t.Errorf("expected 3@100.5 from reported fill, got %+v", pos)
	}
}

func TestRemoveAllClearsOrders(t *testing.T) {
	c, f := testClient(t)
	f.setCommandResponse(map[string]any{
		"message": map[string]any{"errorCode": 0, "volumeFilled": 1, "orderId": 5},
	})

	if err := c.PlaceLimit(context.Background(), "AAPL", 4, 101, true); err != nil {
		t.Fatalf("PlaceLimit returned error: %v", err)
	}
	c.Unsubscribe()
	if orders := c.SharedState().Portfolio().Orders()["AAPL"]; len(orders) != 1 {
		t.Fatalf("expected one resting order before remove, got %d", len(orders))
	}

	f.setCommandResponse(map[string]any{"message": map[string]any{"errorCode": 0}})
	if err := c.RemoveAll(context.Background()); err != nil {
		t.Fatalf("RemoveAll returned error: %v", err)
	}
	c.Unsubscribe()

	if orders := c.SharedState().Portfolio().Orders(); len(orders) != 0 {
		t.Errorf("expected no orders after remove all, got %+v", orders)
	}

	paths := f.paths()
	if paths[len(paths)-1] != "/remove_all" {
		t.Errorf("expected final request to /remove_all, got %v", paths)
	}
}

func TestDispatcherForwardsToClient(t *testing.T) {
	c, f := testClient(t)

	if err := c.Dispatcher().PlaceMarket(context.Background(), "AAPL", 1, true); err != nil {
		t.Fatalf("dispatcher PlaceMarket returned error: %v", err)
	}
	c.Unsubscribe()

	paths := f.paths()
	if paths[len(paths)-1] != "/market_order" {
		t.Errorf("expected /market_order request, got %v", paths)
	}
}

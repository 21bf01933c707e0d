package portfolio

import (
	"testing"

	"bookflow/models"
)

func float(v float64) *models.Float {
	f := models.Float(v)
	return &f
}

func TestReplace(t *testing.T) {
	p := New()
	p.Replace(models.PortfolioMessage{
		Balance:  float(1000),
		Pnl:      25,
		Username: "trader",
		Positions: map[string]models.Position{
			"AAPL": {Quantity: 5, AveragePrice: 100},
		},
		Orders: map[string][]models.OrderEntry{
			"AAPL": {{Volume: 3, Price: 101, Side: "ASK", OrderID: 7}},
		},
	})

	if p.Balance() != 1000 {
		t.Errorf("unexpected balance: %v", p.Balance())
	}
	if p.Pnl() != 25 {
		t.Errorf("unexpected pnl: %v", p.Pnl())
	}
	if p.Username() != "trader" {
		t.Errorf("unexpected username: %s", p.Username())
	}
	if pos := p.Position("AAPL"); pos.Quantity != 5 || pos.AveragePrice != 100 {
		t.Errorf("unexpected position: %+v", pos)
	}

	orders := p.Orders()["AAPL"]
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	if orders[0].Ticker != "AAPL" || orders[0].Side != models.SideAsk || orders[0].ID != 7 {
		t.Errorf("unexpected order: %+v", orders[0])
	}
}

func TestReplaceOverwritesOptimisticState(t *testing.T) {
	p := New()
	p.AddPosition("AAPL", 5, 100)
	p.AddOrder(models.Order{Ticker: "AAPL", Price: 99, Volume: 1, Side: models.SideBid, ID: 1})

	p.Replace(models.PortfolioMessage{Balance: float(500)})

	if pos := p.Position("AAPL"); pos.Quantity != 0 {
		t.Errorf("push should wholesale-replace positions, got %+v", pos)
	}
	if len(p.Orders()) != 0 {
		t.Errorf("push should wholesale-replace orders, got %v", p.Orders())
	}
}

func TestReplaceSkipsOrdersWithUnknownSide(t *testing.T) {
	p := New()
	p.Replace(models.PortfolioMessage{
		Orders: map[string][]models.OrderEntry{
			"AAPL": {
				{Volume: 3, Price: 101, Side: "SELL", OrderID: 1},
				{Volume: 2, Price: 99, Side: "bid", OrderID: 2},
			},
		},
	})

	orders := p.Orders()["AAPL"]
	if len(orders) != 1 {
		t.Fatalf("expected malformed order to be skipped, got %d orders", len(orders))
	}
	if orders[0].ID != 2 || orders[0].Side != models.SideBid {
		t.Errorf("unexpected surviving order: %+v", orders[0])
	}
}

func TestAddPositionVolumeWeightedAverage(t *testing.T) {
	p := New()

	p.AddPosition("AAPL", 10, 100)
	if pos := p.Position("AAPL"); pos.Quantity != 10 || pos.AveragePrice != 100 {
		t.Fatalf("unexpected position after first fill: %+v", pos)
	}

	p.AddPosition("AAPL", 10, 110)
	if pos := p.Position("AAPL"); pos.Quantity != 20 || pos.AveragePrice != 105 {
		t.Errorf("unexpected position after second fill: %+v", pos)
	}

	// Selling half keeps notional bookkeeping consistent.
	p.AddPosition("AAPL", -10, 120)
	pos := p.Position("AAPL")
	if pos.Quantity != 10 {
		t.Errorf("unexpected quantity after partial close: %+v", pos)
	}
}

func TestAddPositionResetsAverageAtZero(t *testing.T) {
	p := New()
	p.AddPosition("AAPL", 10, 100)
	p.AddPosition("AAPL", -10, 120)

	pos := p.Position("AAPL")
	if pos.Quantity != 0 {
		t.Fatalf("expected flat position, got %+v", pos)
	}
	if pos.AveragePrice != 0 {
		t.Errorf("flat position must reset average price, got %v", pos.AveragePrice)
	}
}

func TestClearOrders(t *testing.T) {
	p := New()
	p.AddOrder(models.Order{Ticker: "AAPL", Price: 99, Volume: 1, Side: models.SideBid, ID: 1})
	p.AddOrder(models.Order{Ticker: "MSFT", Price: 50, Volume: 2, Side: models.SideAsk, ID: 2})

	p.ClearOrders()

	if len(p.Orders()) != 0 {
		t.Errorf("expected no orders after clear, got %v", p.Orders())
	}
}

func TestOrdersReturnsCopy(t *testing.T) {
	p := New()
	p.AddOrder(models.Order{Ticker: "AAPL", Price: 99, Volume: 1, Side: models.SideBid, ID: 1})

	orders := p.Orders()
	orders["AAPL"][0].Volume = 999

	if got := p.Orders()["AAPL"][0].Volume; got != 1 {
		t.Errorf("caller mutation leaked into portfolio state: %v", got)
	}
}

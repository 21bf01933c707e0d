package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Side identifies which half of the book an order or update belongs to.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// ParseSide normalises a wire side string to a Side constant.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(s)) {
	case SideBid:
		return SideBid, nil
	case SideAsk:
		return SideAsk, nil
	default:
		return "", fmt.Errorf("side must be 'BID' or 'ASK', got %q", s)
	}
}

// Float unmarshals a JSON number that some venue payloads encode as a
// quoted string (snapshot price keys and a few older message formats).
type Float float64

func (f *Float) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	*f = Float(v)
	return nil
}

// Order is a resting order owned by the account, as reported by the venue
// or recorded optimistically after a partial fill.
type Order struct {
	Ticker string  `json:"ticker"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Side   Side    `json:"side"`
	ID     int64   `json:"orderId"`
}

// PriceLevel is one (price, volume) pair on a single side of a ticker's book.
// Volume is strictly positive while the level exists; a zero-volume level is
// removed, never stored.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// BookUpdate is one entry of an order-book update batch from the public
// topic. All four fields are required; pointer fields let the book engine
// distinguish a missing field from a legitimate zero (zero volume deletes
// the level).
type BookUpdate struct {
	Ticker *string `json:"ticker"`
	Price  *Float  `json:"price"`
	Side   *string `json:"side"`
	Volume *Float  `json:"volume"`
}

// Update builds a validated BookUpdate for local use (tests, replays).
func Update(ticker string, side Side, price, volume float64) BookUpdate {
	s := string(side)
	p := Float(price)
	v := Float(volume)
	return BookUpdate{Ticker: &ticker, Price: &p, Side: &s, Volume: &v}
}

// Position is the account's holding in a single ticker. AveragePrice is the
// volume-weighted entry price and resets to zero whenever the quantity
// returns to exactly zero.
type Position struct {
	Quantity     float64 `json:"quantity"`
	AveragePrice float64 `json:"averagePrice"`
}

var _ json.Unmarshaler = (*Float)(nil)

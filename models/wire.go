package models

import "encoding/json"

// RawSnapshot is the initial order-book snapshot returned by the buildup
// endpoint, keyed by ticker. Prices arrive as JSON object keys, so both
// prices and volumes are parsed leniently.
type RawSnapshot map[string]SnapshotSides

// SnapshotSides carries one ticker's resting volumes. The venue has shipped
// two field namings for the same payload (bidVolumes/askVolumes and
// bids/asks); both are accepted and merged, so a compatibility flag only
// needs to select which naming outbound tooling should expect.
type SnapshotSides struct {
	BidVolumes map[string]Float
	AskVolumes map[string]Float
}

func (s *SnapshotSides) UnmarshalJSON(data []byte) error {
	var raw struct {
		BidVolumes map[string]Float `json:"bidVolumes"`
		AskVolumes map[string]Float `json:"askVolumes"`
		Bids       map[string]Float `json:"bids"`
		Asks       map[string]Float `json:"asks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.BidVolumes = raw.BidVolumes
	if s.BidVolumes == nil {
		s.BidVolumes = raw.Bids
	}
	s.AskVolumes = raw.AskVolumes
	if s.AskVolumes == nil {
		s.AskVolumes = raw.Asks
	}
	return nil
}

// BuildupResponse is the body of a successful buildup (authentication) call.
// OrderBookData is a JSON-encoded RawSnapshot, doubly encoded by the venue.
type BuildupResponse struct {
	SessionToken  string `json:"sessionToken"`
	OrderBookData string `json:"orderBookData"`
}

// BookTopicPayload is the body published on the public order-book topic.
// Content is a JSON-encoded list of BookUpdate entries, doubly encoded.
type BookTopicPayload struct {
	Content string `json:"content"`
}

// PortfolioMessage is the body published on the private per-session queue.
// It wholesale-replaces local portfolio state.
type PortfolioMessage struct {
	Balance   *Float                  `json:"balance"`
	Pnl       Float                   `json:"pnl"`
	Positions map[string]Position     `json:"positions"`
	Username  string                  `json:"username"`
	Orders    map[string][]OrderEntry `json:"Orders"`
}

// OrderEntry is a resting order inside a PortfolioMessage, keyed by ticker
// at the map level rather than carrying its own ticker field.
type OrderEntry struct {
	Volume  float64 `json:"volume"`
	Price   float64 `json:"price"`
	Side    string  `json:"side"`
	OrderID int64   `json:"orderId"`
}

// CommandResponse wraps every order-management response from the venue.
type CommandResponse struct {
	Message CommandMessage `json:"message"`
}

// CommandMessage is the venue's per-command result. Depending on the venue
// build, failure is signalled either through ErrorCode or through Error
// (see config error_check).
type CommandMessage struct {
	ErrorCode    int     `json:"errorCode"`
	Error        string  `json:"error"`
	VolumeFilled float64 `json:"volumeFilled"`
	OrderID      int64   `json:"orderId"`
	Price        float64 `json:"price"`
}

// Package client composes the venue client: authentication, the filtered
// order book, the portfolio, and the streaming connection, behind a façade
// the strategy layer drives through the dispatcher.
package client

import (
	"context"
	"fmt"
	"net/url"

	"bookflow/book"
	"bookflow/config"
	"bookflow/dispatch"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/portfolio"
	"bookflow/stream"
	"bookflow/venue"
)

// Client is the composition root. Construction performs the one-shot
// buildup exchange; everything after that flows through the stream
// connection and the command entry points.
type Client struct {
	cfg     *config.Config
	venue   *venue.Client
	session string

	book       *book.FilteredBook
	account    *portfolio.Portfolio
	stream     *stream.Manager
	dispatcher *dispatch.Dispatcher
	shared     *SharedState

	log *logger.Log
}

// New authenticates against the venue and assembles the client. An
// authentication failure is fatal and returned to the caller; retry policy,
// if any, belongs to the bootstrap layer.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	v := venue.New(cfg)

	result, err := v.Buildup(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := book.FromSnapshot(result.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("loading initial orderbook snapshot: %w", err)
	}

	fb := book.NewFiltered(raw)
	account := portfolio.New()

	endpoint := fmt.Sprintf("%s?Session-ID=%s&Username=%s",
		cfg.Venue.WSURL,
		url.QueryEscape(result.SessionToken),
		url.QueryEscape(cfg.Venue.Username),
	)

	c := &Client{
		cfg:     cfg,
		venue:   v,
		session: result.SessionToken,
		book:    fb,
		account: account,
		stream:  stream.NewManager(cfg, endpoint, fb, account),
		log:     logger.GetLogger(),
	}
	c.shared = &SharedState{book: fb, account: account}
	c.dispatcher = dispatch.New(cfg.Trading.RateLimit, c)

	c.log.WithComponent("client").WithFields(logger.Fields{
		"username": cfg.Venue.Username,
		"tickers":  raw.Tickers(),
	}).Info("client constructed")

	return c, nil
}

// SharedState returns the read handles for strategy code.
func (c *Client) SharedState() *SharedState {
	return c.shared
}

// Dispatcher returns the rate-limited command entry point. Strategies
// submit orders through it rather than calling the client directly, so the
// venue's per-second command cap is honoured.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// SetStrategy registers the strategy callback sink with the stream.
func (c *Client) SetStrategy(s Strategy) {
	c.stream.SetCallbacks(s)
}

// Stream exposes the connection manager, mainly for observing connection
// state.
func (c *Client) Stream() *stream.Manager {
	return c.stream
}

// Subscribe connects the streaming feed and blocks until subscribed.
func (c *Client) Subscribe(ctx context.Context) error {
	return c.stream.Subscribe(ctx)
}

// Unsubscribe tears the streaming connection down and joins outstanding
// command tasks.
func (c *Client) Unsubscribe() {
	c.stream.Unsubscribe()
}

// PlaceLimit submits a limit order as a detached task so callers on the
// stream read loop are never blocked on the HTTP round trip. Transport and
// venue rejections are logged, not returned; the next portfolio push is
// authoritative either way.
func (c *Client) PlaceLimit(ctx context.Context, ticker string, volume, price float64, isBid bool) error {
	c.stream.Spawn(func() {
		c.doPlaceLimit(ticker, volume, price, isBid)
	})
	return nil
}

// PlaceMarket submits a market order as a detached task.
func (c *Client) PlaceMarket(ctx context.Context, ticker string, volume float64, isBid bool) error {
	c.stream.Spawn(func() {
		c.doPlaceMarket(ticker, volume, isBid)
	})
	return nil
}

// RemoveAll cancels all open orders as a detached task.
func (c *Client) RemoveAll(ctx context.Context) error {
	c.stream.Spawn(c.doRemoveAll)
	return nil
}

// Detached commands deliberately run on a background context: the only
// timeout on an outbound command is the transport's own.

func (c *Client) doPlaceLimit(ticker string, volume, price float64, isBid bool) {
	log := c.log.WithComponent("client").WithFields(logger.Fields{
		"command": "limit",
		"ticker":  ticker,
		"volume":  volume,
		"price":   price,
		"is_bid":  isBid,
	})

	msg, err := c.venue.PlaceLimit(context.Background(), c.session, ticker, volume, price, isBid)
	if err != nil {
		log.WithError(err).Warn("limit order submission failed")
		return
	}
	logger.IncrementCommandSent()
	if !c.venue.Accepted(msg) {
		log.WithFields(logger.Fields{"error_code": msg.ErrorCode, "error": msg.Error}).Warn("limit order rejected by venue")
		return
	}

	filled := msg.VolumeFilled
	remaining := volume - filled
	if filled > 0 {
		delta := filled
		if !isBid {
			delta = -filled
		}
		c.account.AddPosition(ticker, delta, price)
	}
	if remaining > 0 {
		side := models.SideAsk
		if isBid {
			side = models.SideBid
		}
		c.account.AddOrder(models.Order{
			Ticker: ticker,
			Price:  price,
			Volume: remaining,
			Side:   side,
			ID:     msg.OrderID,
		})
	}
	log.WithFields(logger.Fields{"volume_filled": filled, "order_id": msg.OrderID}).Debug("limit order acknowledged")
}

func (c *Client) doPlaceMarket(ticker string, volume float64, isBid bool) {
	log := c.log.WithComponent("client").WithFields(logger.Fields{
		"command": "market",
		"ticker":  ticker,
		"volume":  volume,
		"is_bid":  isBid,
	})

	msg, err := c.venue.PlaceMarket(context.Background(), c.session, ticker, volume, isBid)
	if err != nil {
		log.WithError(err).Warn("market order submission failed")
		return
	}
	logger.IncrementCommandSent()
	if !c.venue.Accepted(msg) {
		log.WithFields(logger.Fields{"error_code": msg.ErrorCode, "error": msg.Error}).Warn("market order rejected by venue")
		return
	}

	if msg.VolumeFilled > 0 {
		delta := msg.VolumeFilled
		if !isBid {
			delta = -msg.VolumeFilled
		}
		c.account.AddPosition(ticker, delta, msg.Price)
	}
	log.WithFields(logger.Fields{"volume_filled": msg.VolumeFilled, "fill_price": msg.Price}).Debug("market order acknowledged")
}

func (c *Client) doRemoveAll() {
	log := c.log.WithComponent("client").WithFields(logger.Fields{"command": "remove_all"})

	msg, err := c.venue.RemoveAll(context.Background(), c.session)
	if err != nil {
		log.WithError(err).Warn("remove all submission failed")
		return
	}
	logger.IncrementCommandSent()
	if !c.venue.Accepted(msg) {
		log.WithFields(logger.Fields{"error_code": msg.ErrorCode, "error": msg.Error}).Warn("remove all rejected by venue")
		return
	}

	c.account.ClearOrders()
	log.Debug("open orders cleared")
}

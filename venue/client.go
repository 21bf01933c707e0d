// Package venue is the thin HTTP collaborator for the trading venue's
// request/response API: the one-shot buildup (authentication) exchange and
// the per-call order command submissions. All robustness beyond a single
// attempt lives with the caller.
package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
)

// ErrAuthFailed marks a failed buildup exchange. It is fatal to client
// construction; no retry is attempted at this layer.
var ErrAuthFailed = errors.New("venue authentication failed")

// Client talks to the venue's REST API. A token-bucket limiter paces calls
// as a courtesy throttle below the venue's documented request cap; order
// command admission is enforced separately by the dispatcher.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	apiKey     string
	errCheck   config.ErrorCheckMode
	limiter    *rate.Limiter
	log        *logger.Log
}

// New creates a venue client from the venue section of the configuration.
func New(cfg *config.Config) *Client {
	rl := cfg.Venue.Rest
	rps := rl.RequestsPerSecond
	if rps <= 0 {
		rps = 15
	}
	burst := rl.BurstSize
	if burst <= 0 {
		burst = 1
	}
	timeout := rl.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.Venue.HTTPURL,
		username:   cfg.Venue.Username,
		apiKey:     cfg.Venue.APIKey,
		errCheck:   cfg.Venue.ErrorCheck,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		log:        logger.GetLogger(),
	}
}

// BuildupResult is the outcome of a successful authentication exchange.
type BuildupResult struct {
	SessionToken string
	Snapshot     models.RawSnapshot
}

// Buildup authenticates the user and returns the session token plus the
// initial raw order-book snapshot.
func (c *Client) Buildup(ctx context.Context) (*BuildupResult, error) {
	body, err := c.post(ctx, "/buildup", map[string]any{
		"username": c.username,
		"apiKey":   c.apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	var resp models.BuildupResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding buildup response: %v", ErrAuthFailed, err)
	}
	if resp.SessionToken == "" {
		return nil, fmt.Errorf("%w: no session token in response", ErrAuthFailed)
	}

	snapshot := models.RawSnapshot{}
	if resp.OrderBookData != "" {
		if err := json.Unmarshal([]byte(resp.OrderBookData), &snapshot); err != nil {
			return nil, fmt.Errorf("%w: decoding orderbook snapshot: %v", ErrAuthFailed, err)
		}
	}

	c.log.WithComponent("venue").WithFields(logger.Fields{
		"username": c.username,
		"tickers":  len(snapshot),
	}).Info("buildup complete")

	return &BuildupResult{SessionToken: resp.SessionToken, Snapshot: snapshot}, nil
}

// PlaceLimit submits a limit order. The venue's wire contract takes whole
// units for volume and price.
func (c *Client) PlaceLimit(ctx context.Context, session, ticker string, volume, price float64, isBid bool) (*models.CommandMessage, error) {
	return c.command(ctx, "/limit_order", map[string]any{
		"username":     c.username,
		"sessionToken": session,
		"ticker":       ticker,
		"volume":       int64(volume),
		"price":        int64(price),
		"isBid":        isBid,
	})
}

// PlaceMarket submits a market order.
func (c *Client) PlaceMarket(ctx context.Context, session, ticker string, volume float64, isBid bool) (*models.CommandMessage, error) {
	return c.command(ctx, "/market_order", map[string]any{
		"username":     c.username,
		"sessionToken": session,
		"ticker":       ticker,
		"volume":       int64(volume),
		"isBid":        isBid,
	})
}

// RemoveAll cancels every open order for the session.
func (c *Client) RemoveAll(ctx context.Context, session string) (*models.CommandMessage, error) {
	return c.command(ctx, "/remove_all", map[string]any{
		"username":     c.username,
		"sessionToken": session,
	})
}

// Accepted reports whether the venue accepted the command, applying the
// configured error-check mode.
func (c *Client) Accepted(msg *models.CommandMessage) bool {
	if msg == nil {
		return false
	}
	if c.errCheck == config.ErrorCheckMessage {
		return msg.Error == ""
	}
	return msg.ErrorCode == 0
}

func (c *Client) command(ctx context.Context, path string, form map[string]any) (*models.CommandMessage, error) {
	body, err := c.post(ctx, path, form)
	if err != nil {
		return nil, err
	}

	var resp models.CommandResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return &resp.Message, nil
}

func (c *Client) post(ctx context.Context, path string, form map[string]any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting %s: %w", path, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", path, err)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %s", path, res.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

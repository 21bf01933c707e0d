// Package stream owns the persistent websocket connection to the venue: the
// subscription handshake, frame parsing and routing, and the reconnection
// loop that keeps the local book and portfolio mirrors alive for the whole
// process lifetime.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookflow/book"
	"bookflow/config"
	"bookflow/logger"
	"bookflow/models"
	"bookflow/portfolio"
)

// State is the connection lifecycle position of the manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakeSent
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// Callbacks receives change notifications from the read loop. Implementations
// must not block: slow work belongs in a detached task via Spawn.
type Callbacks interface {
	OnOrderBookUpdate()
	OnPortfolioUpdate()
}

// Manager drives the streaming connection. One background goroutine per
// manager runs the read loop and is the only writer of book and portfolio
// state from inbound events.
type Manager struct {
	cfg      *config.Config
	endpoint string
	book     *book.FilteredBook
	account  *portfolio.Portfolio
	log      *logger.Log

	mu          sync.Mutex
	state       State
	conn        *websocket.Conn
	cancel      context.CancelFunc
	ready       chan struct{}
	readyClosed bool
	readDone    chan struct{}
	callbacks   Callbacks

	// tasks tracks detached command goroutines spawned from strategy
	// callbacks so Unsubscribe can join them instead of leaking work.
	tasks sync.WaitGroup
}

// NewManager creates a manager for the given streaming endpoint. The
// endpoint must already carry the session query parameters.
func NewManager(cfg *config.Config, endpoint string, fb *book.FilteredBook, account *portfolio.Portfolio) *Manager {
	return &Manager{
		cfg:      cfg,
		endpoint: endpoint,
		book:     fb,
		account:  account,
		log:      logger.GetLogger(),
		state:    StateDisconnected,
	}
}

// SetCallbacks registers the strategy notification sink. Safe to call before
// or after Subscribe.
func (m *Manager) SetCallbacks(cb Callbacks) {
	m.mu.Lock()
	m.callbacks = cb
	m.mu.Unlock()
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe starts the background read loop and blocks until the handshake
// completes (both topic subscriptions sent) or ctx is cancelled. It is
// idempotent: when a subscription is already pending or active the caller
// waits on the existing handshake instead of starting a second one.
func (m *Manager) Subscribe(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateDisconnected {
		ready := m.ready
		m.mu.Unlock()
		return m.waitReady(ctx, ready)
	}

	m.state = StateConnecting
	m.ready = make(chan struct{})
	m.readyClosed = false
	m.readDone = make(chan struct{})
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	ready := m.ready
	m.mu.Unlock()

	go m.run(runCtx)
	return m.waitReady(ctx, ready)
}

func (m *Manager) waitReady(ctx context.Context, ready chan struct{}) error {
	if ready == nil {
		return fmt.Errorf("subscription not started")
	}
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe cancels the background read loop, waits for it and any
// detached command tasks to finish, closes the socket, and resets state to
// Disconnected so a later Subscribe performs a full fresh handshake.
func (m *Manager) Unsubscribe() {
	m.mu.Lock()
	cancel := m.cancel
	readDone := m.readDone
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Closing the socket unblocks a read in progress.
	m.closeConn()
	if readDone != nil {
		<-readDone
	}
	m.tasks.Wait()

	m.mu.Lock()
	m.state = StateDisconnected
	m.ready = nil
	m.readyClosed = false
	m.readDone = nil
	m.mu.Unlock()

	m.log.WithComponent("stream").Info("unsubscribed from venue stream")
}

// Spawn runs fn as a detached unit of work owned by the manager. Used for
// fire-and-forget command dispatch out of strategy callbacks; Unsubscribe
// joins all spawned tasks.
func (m *Manager) Spawn(fn func()) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		fn()
	}()
}

// run is the outer retry loop. Every failure path closes the socket, logs,
// waits the fixed venue-documented delay, and retries the whole handshake.
// Retry is unconditional; the connection is expected to live as long as the
// process does.
func (m *Manager) run(ctx context.Context) {
	defer func() {
		m.mu.Lock()
		readDone := m.readDone
		m.mu.Unlock()
		if readDone != nil {
			close(readDone)
		}
	}()

	log := m.log.WithComponent("stream")

	for {
		if ctx.Err() != nil {
			return
		}

		err := m.connectAndRead(ctx)
		m.closeConn()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("stream connection lost, scheduling reconnect")
		}

		m.setState(StateConnecting)
		logger.IncrementStreamReconnect()

		timer := time.NewTimer(m.cfg.Stream.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectAndRead dials the endpoint, performs the CONNECT plus two
// SUBSCRIBE handshake, then drains messages until the connection errors or
// ctx is cancelled.
func (m *Manager) connectAndRead(ctx context.Context) error {
	log := m.log.WithComponent("stream")

	dialer := websocket.Dialer{HandshakeTimeout: m.cfg.Stream.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, m.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.endpoint, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := conn.WriteMessage(websocket.TextMessage, connectFrame()); err != nil {
		return fmt.Errorf("send CONNECT frame: %w", err)
	}
	m.setState(StateHandshakeSent)

	if err := conn.WriteMessage(websocket.TextMessage, subscribeFrame("sub-0", m.cfg.Venue.OrderbookTopic)); err != nil {
		return fmt.Errorf("subscribe to orderbook topic: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, subscribeFrame("sub-1", m.cfg.Venue.PrivateQueue)); err != nil {
		return fmt.Errorf("subscribe to private queue: %w", err)
	}

	m.setState(StateSubscribed)
	m.signalReady()
	log.WithFields(logger.Fields{
		"orderbook_topic": m.cfg.Venue.OrderbookTopic,
		"private_queue":   m.cfg.Venue.PrivateQueue,
	}).Info("stream handshake complete")

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		logger.IncrementStreamRead(len(data))
		m.handleMessage(data)
	}
}

// handleMessage parses and routes one inbound frame. Every failure here is
// local: logged, counted, and the read loop moves on. A single bad message
// never terminates the connection.
func (m *Manager) handleMessage(data []byte) {
	log := m.log.WithComponent("stream")

	frame, err := ParseFrame(data)
	if err != nil {
		log.WithError(err).Debug("skipping unparseable frame")
		return
	}

	switch frame.Destination {
	case m.cfg.Venue.OrderbookTopic:
		m.handleOrderbookFrame(frame)
	case m.cfg.Venue.PrivateQueue:
		m.handlePortfolioFrame(frame)
	default:
		log.WithFields(logger.Fields{"destination": frame.Destination}).Debug("unhandled destination")
	}
}

func (m *Manager) handleOrderbookFrame(frame Frame) {
	log := m.log.WithComponent("stream")

	var payload models.BookTopicPayload
	if err := json.Unmarshal(frame.Body, &payload); err != nil {
		log.WithError(err).Warn("failed to decode orderbook payload")
		return
	}
	if payload.Content == "" {
		return
	}

	var updates []models.BookUpdate
	if err := json.Unmarshal([]byte(payload.Content), &updates); err != nil {
		log.WithError(err).Warn("failed to decode orderbook update list")
		return
	}

	if err := m.book.ApplyUpdates(updates, m.account.Orders()); err != nil {
		log.WithError(err).Warn("rejected orderbook update batch")
		return
	}
	logger.IncrementBookUpdates(len(updates))

	if cb := m.currentCallbacks(); cb != nil {
		cb.OnOrderBookUpdate()
	}
}

func (m *Manager) handlePortfolioFrame(frame Frame) {
	log := m.log.WithComponent("stream")

	// Only frames carrying account state replace the portfolio; the queue
	// also carries acknowledgements this client has no use for.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(frame.Body, &probe); err != nil {
		log.WithError(err).Warn("ignoring malformed portfolio push")
		return
	}
	_, hasBalance := probe["balance"]
	_, hasOrders := probe["Orders"]
	if !hasBalance && !hasOrders {
		return
	}

	var msg models.PortfolioMessage
	if err := json.Unmarshal(frame.Body, &msg); err != nil {
		log.WithError(err).Warn("ignoring malformed portfolio push")
		return
	}

	m.account.Replace(msg)
	logger.IncrementPortfolioPush(len(frame.Body))

	if cb := m.currentCallbacks(); cb != nil {
		cb.OnPortfolioUpdate()
	}
}

func (m *Manager) currentCallbacks() Callbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callbacks
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// signalReady releases every caller blocked in Subscribe. Only the first
// successful handshake closes the channel; reconnects find it already
// closed.
func (m *Manager) signalReady() {
	m.mu.Lock()
	if m.ready != nil && !m.readyClosed {
		close(m.ready)
		m.readyClosed = true
	}
	m.mu.Unlock()
}

// closeConn closes the socket exactly once regardless of whether the close
// races the read loop or Unsubscribe.
func (m *Manager) closeConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

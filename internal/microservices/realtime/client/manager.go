package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"haulhub/internal/protocol"
)

// ErrNotConnected is returned by Send outside the connected state.
var ErrNotConnected = errors.New("client: not connected")

// State is the manager's connectivity.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SubscriberPanicError wraps a value recovered from a subscriber callback.
type SubscriberPanicError struct {
	Type  string
	Value any
}

func (e *SubscriberPanicError) Error() string {
	return fmt.Sprintf("subscriber for %q panicked: %v", e.Type, e.Value)
}

type timer interface {
	Stop() bool
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithBackoff(b *Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

// WithMaxAttempts bounds consecutive failed dials; zero means retry forever.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// Manager keeps one client connection to the realtime server alive,
// reconnecting with exponential backoff and fanning inbound envelopes out
// to per-type subscribers.
type Manager struct {
	dialer      Dialer
	backoff     *Backoff
	maxAttempts int
	dialTimeout time.Duration
	logger      *slog.Logger
	subs        *subscriptions

	mu       sync.Mutex
	state    State
	conn     Conn
	failures int
	retry    timer
	// gen changes on Connect and Disconnect so stale dials, timers and read
	// loops from an earlier session become no-ops.
	gen uint64

	observersMu sync.RWMutex
	onState     []func(State)
	onError     []func(error)

	afterFunc func(d time.Duration, f func()) timer
}

func NewManager(dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		dialer:      dialer,
		backoff:     NewBackoff(DefaultInitialBackoff, DefaultMaxBackoff, DefaultBackoffFactor),
		maxAttempts: DefaultMaxAttempts,
		dialTimeout: 10 * time.Second,
		logger:      slog.Default(),
		subs:        newSubscriptions(),
		state:       StateDisconnected,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect dials the server. It is a no-op while connecting or connected.
// A failed dial is retried in the background and its error returned.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	gen := m.gen
	m.failures = 0
	m.backoff.Reset()
	m.stopRetryLocked()
	notify := m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	notify()

	return m.dial(ctx, gen)
}

// Disconnect closes the transport, cancels any pending reconnect and stays
// disconnected until the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.stopRetryLocked()
	conn := m.conn
	m.conn = nil
	notify := m.setStateLocked(StateDisconnected)
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	notify()
	m.logger.Info("client_disconnected")
}

// Send encodes and writes one envelope. It never queues.
func (m *Manager) Send(msgType string, data any) error {
	env, err := protocol.New(msgType, data)
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return ErrNotConnected
	}
	if err := m.conn.WriteMessage(frame); err != nil {
		return fmt.Errorf("send %s: %w", msgType, err)
	}
	return nil
}

// Subscribe registers fn for msgType. Subscriptions survive reconnects.
func (m *Manager) Subscribe(msgType string, fn Callback) Subscription {
	return m.subs.add(msgType, fn)
}

// Unsubscribe removes exactly sub and reports whether it was registered.
func (m *Manager) Unsubscribe(msgType string, sub Subscription) bool {
	return m.subs.remove(msgType, sub)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool { return m.State() == StateConnected }

// OnStateChange registers an observer called after every transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.onState = append(m.onState, fn)
}

// OnError registers an observer for decode failures and subscriber panics.
func (m *Manager) OnError(fn func(error)) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	m.onError = append(m.onError, fn)
}

func (m *Manager) dial(ctx context.Context, gen uint64) error {
	if m.dialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.dialTimeout)
		defer cancel()
	}
	conn, err := m.dialer.Dial(ctx)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrNotConnected
	}
	if err != nil {
		m.failures++
		notify := m.scheduleLocked(gen)
		failures := m.failures
		m.mu.Unlock()
		notify()
		m.logger.Warn("client_dial_failed", "error", err, "attempt", failures)
		return err
	}
	m.conn = conn
	m.failures = 0
	m.backoff.Reset()
	notify := m.setStateLocked(StateConnected)
	m.mu.Unlock()
	notify()

	m.logger.Info("client_connected")
	go m.readLoop(conn, gen)
	return nil
}

// scheduleLocked arms the reconnect timer, or gives up once maxAttempts
// consecutive dials have failed.
func (m *Manager) scheduleLocked(gen uint64) func() {
	if m.maxAttempts > 0 && m.failures >= m.maxAttempts {
		m.logger.Error("client_reconnect_exhausted", "attempts", m.failures)
		return m.setStateLocked(StateFailed)
	}
	delay := m.backoff.Next()
	m.stopRetryLocked()
	m.retry = m.afterFunc(delay, func() { m.reconnect(gen) })
	m.logger.Info("client_reconnect_scheduled", "delay", delay, "attempt", m.failures+1)
	return m.setStateLocked(StateConnecting)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.mu.Unlock()

	_ = m.dial(context.Background(), gen)
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	for {
		frame, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(conn, gen, err)
			return
		}
		m.dispatch(frame)
	}
}

func (m *Manager) connectionLost(conn Conn, gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	notify := m.scheduleLocked(gen)
	m.mu.Unlock()

	conn.Close()
	if cleanClose(err) {
		m.logger.Info("client_connection_closed")
	} else {
		m.logger.Warn("client_connection_lost", "error", err)
	}
	notify()
}

func (m *Manager) dispatch(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		m.logger.Warn("client_decode_failed", "error", err)
		m.reportError(err)
		return
	}
	if env.Type == protocol.TypePing {
		if err := m.Send(protocol.TypePong, nil); err != nil {
			m.logger.Debug("client_pong_failed", "error", err)
		}
	}
	for _, fn := range m.subs.snapshot(env.Type) {
		m.invoke(env.Type, fn, env.Data)
	}
}

func (m *Manager) invoke(msgType string, fn Callback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			err := &SubscriberPanicError{Type: msgType, Value: r}
			m.logger.Error("client_subscriber_panic", "type", msgType, "panic", r)
			m.reportError(err)
		}
	}()
	fn(data)
}

func (m *Manager) reportError(err error) {
	m.observersMu.RLock()
	observers := append(([]func(error))(nil), m.onError...)
	m.observersMu.RUnlock()
	for _, fn := range observers {
		fn(err)
	}
}

// setStateLocked records the transition and returns the observer
// notification, to be run after m.mu is released.
func (m *Manager) setStateLocked(s State) func() {
	if m.state == s {
		return func() {}
	}
	m.state = s
	m.observersMu.RLock()
	observers := append(([]func(State))(nil), m.onState...)
	m.observersMu.RUnlock()
	return func() {
		for _, fn := range observers {
			fn(s)
		}
	}
}

func (m *Manager) stopRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

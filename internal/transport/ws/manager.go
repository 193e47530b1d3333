// Package ws manages the push connection to the quiz server: dialing with the
// handshake parameters, reading frames, bounded reconnects and outbound sends.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-sync-client/internal/protocol"
)

// Kind classifies a connection event.
type Kind int

const (
	EventConnected Kind = iota + 1
	EventDisconnected
	EventGaveUp
	EventFrame
)

func (k Kind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventGaveUp:
		return "gave_up"
	case EventFrame:
		return "frame"
	}
	return "unknown"
}

// Event is one item of the manager's status stream.
type Event struct {
	Kind    Kind
	Frame   []byte
	Err     error
	Attempt int
}

const (
	defaultMaxAttempts    = 5
	defaultReconnectDelay = time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultPingWait       = 60 * time.Second
	defaultMaxMessageSize = 1 << 20
	eventBuffer           = 64
)

// Options configures a Manager. Zero values take defaults.
type Options struct {
	URL         string
	SessionID   string
	DisplayName string
	Token       string

	MaxAttempts      int
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingWait         time.Duration
	MaxMessageSize   int64

	Clock  clockwork.Clock
	Dialer *websocket.Dialer
}

// Manager keeps at most one live push connection.
type Manager struct {
	opts   Options
	clock  clockwork.Clock
	dialer *websocket.Dialer
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	gen     int
	cancel  context.CancelFunc
	lastErr error

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingWait <= 0 {
		opts.PingWait = defaultPingWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaultMaxMessageSize
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		if opts.HandshakeTimeout > 0 {
			d.HandshakeTimeout = opts.HandshakeTimeout
		}
		dialer = &d
	}
	return &Manager{
		opts:   opts,
		clock:  clock,
		dialer: dialer,
		events: make(chan Event, eventBuffer),
	}
}

// Events returns the status stream. The channel lives as long as the Manager.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect starts the connection loop. It is a no-op while a loop is running.
func (m *Manager) Connect(ctx context.Context) error {
	target, err := m.target()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.gen++
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(runCtx, m.gen, target)
	return nil
}

// Disconnect stops the loop and closes the connection. It returns once the
// reader has exited, so no event is emitted afterwards.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	m.cancel = nil
	m.conn = nil
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	m.wg.Wait()
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Send writes one outbound message. It reports false when not connected or the
// write failed; it never retries.
func (m *Manager) Send(t protocol.Type, data any) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		log.Warn().Str("type", string(t)).Msg("push send skipped: not connected")
		return false
	}

	frame, err := protocol.Encode(t, m.opts.SessionID, data, m.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("push encode failed")
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Warn().Err(err).Str("type", string(t)).Msg("push send failed")
		return false
	}
	return true
}

func (m *Manager) target() (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("sessionId", m.opts.SessionID)
	q.Set("displayName", m.opts.DisplayName)
	if m.opts.Token != "" {
		q.Set("token", m.opts.Token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) run(ctx context.Context, gen int, target string) {
	defer m.wg.Done()
	defer m.finish(gen)

	retries := 0
	for {
		connID := uuid.NewString()
		conn, err := m.dial(ctx, target)
		if err == nil {
			if !m.attach(ctx, conn) {
				_ = conn.Close()
				return
			}
			retries = 0
			log.Info().Str("conn_id", connID).Str("session_id", m.opts.SessionID).Msg("push connected")
			if !m.emit(ctx, Event{Kind: EventConnected}) {
				return
			}
			err = m.read(ctx, conn)
			m.detach(conn)
		}
		if ctx.Err() != nil {
			return
		}

		m.setErr(err)
		log.Warn().Err(err).Str("conn_id", connID).Int("attempt", retries).Msg("push connection lost")
		if !m.emit(ctx, Event{Kind: EventDisconnected, Err: err, Attempt: retries}) {
			return
		}
		if retries >= m.opts.MaxAttempts {
			log.Error().Err(err).Int("attempts", retries).Msg("push reconnect gave up")
			m.emit(ctx, Event{Kind: EventGaveUp, Err: err, Attempt: retries})
			return
		}
		retries++

		select {
		case <-m.clock.After(m.opts.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) dial(ctx context.Context, target string) (*websocket.Conn, error) {
	conn, resp, err := m.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(m.opts.MaxMessageSize)
	wait := m.opts.PingWait
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wait))
	})
	return conn, nil
}

func (m *Manager) read(ctx context.Context, conn *websocket.Conn) error {
	for {
		typ, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(m.opts.PingWait))
		if typ != websocket.TextMessage {
			continue
		}
		if !m.emit(ctx, Event{Kind: EventFrame, Frame: frame}) {
			return ctx.Err()
		}
	}
}

// emit delivers ev unless the loop is stopping.
func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) attach(ctx context.Context, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.conn = conn
	m.lastErr = nil
	return true
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) setErr(err error) {
	if err == nil {
		err = errors.New("connection closed")
	}
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) finish(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || !m.running {
		return
	}
	m.running = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"quiz-sync-client/internal/countdown"
	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
	"quiz-sync-client/internal/state"
	"quiz-sync-client/internal/transport/api"
	"quiz-sync-client/internal/transport/ws"
)

// Connection is the push transport the engine drives.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Send(t protocol.Type, data any) bool
	Events() <-chan ws.Event
}

// API is the part of the request surface the engine consumes.
type API interface {
	SessionInfo(ctx context.Context, sessionID string) (domain.Session, error)
	JoinSession(ctx context.Context, sessionID, displayName string) (api.JoinResult, error)
	Participants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	SubmitAnswer(ctx context.Context, sessionID string, sub domain.AnswerSubmission) (domain.AnswerOutcome, error)
}

// AnswerLedger persists which questions a user has answered so the
// one-answer rule survives restarts. Claim reports false for a repeat.
type AnswerLedger interface {
	Claim(ctx context.Context, sessionID, userID, questionID string) (bool, error)
}

// Config identifies the local participant.
type Config struct {
	SessionID   string
	DisplayName string
	// UserID may be empty until Join learns it from the server.
	UserID string
}

// SubmitResult is the combined outcome of one dual-path submission.
type SubmitResult struct {
	QuestionID string
	// Pushed is false when the push half could not be written.
	Pushed  bool
	Outcome domain.AnswerOutcome
}

type Option func(*Engine)

func WithLedger(l AnswerLedger) Option { return func(e *Engine) { e.ledger = l } }

func WithRecorder(r *Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithClock(c clockwork.Clock) Option { return func(e *Engine) { e.clock = c } }

// Engine owns the session view. Inbound frames, countdown ticks and user
// intents are applied one at a time under a single lock.
type Engine struct {
	cfg      Config
	conn     Connection
	api      API
	ledger   AnswerLedger
	recorder *Recorder
	clock    clockwork.Clock

	mu            sync.Mutex
	store         *state.Store
	attached      bool
	attaching     bool
	joined        bool
	everConnected bool
	subscribers   map[chan state.Snapshot]struct{}
}

func NewEngine(cfg Config, conn Connection, client API, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		conn:        conn,
		api:         client,
		subscribers: make(map[chan state.Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	e.store = state.New(cfg.UserID, e.clock)
	return e
}

// Join registers with the server over the request path and loads the session
// and roster. The push join follows once the connection is up.
func (e *Engine) Join(ctx context.Context) error {
	if e.cfg.SessionID == "" {
		return domain.ErrNoSession
	}
	res, err := e.api.JoinSession(ctx, e.cfg.SessionID, e.cfg.DisplayName)
	if err != nil {
		e.failRequest("join session", err)
		return fmt.Errorf("join session: %w", err)
	}

	e.mu.Lock()
	if res.UserID != "" {
		e.store.SetSelfID(res.UserID)
	}
	e.joined = true
	connected := e.store.Connected()
	e.mu.Unlock()

	if err := e.pull(ctx); err != nil {
		return err
	}
	if connected {
		e.conn.Send(protocol.TypeJoinSession, protocol.JoinSession{SessionID: e.cfg.SessionID})
	}
	log.Info().Str("session_id", e.cfg.SessionID).Str("user_id", res.UserID).Msg("joined session")
	return nil
}

// Load pulls the session and roster without joining, for spectators.
func (e *Engine) Load(ctx context.Context) error {
	if e.cfg.SessionID == "" {
		return domain.ErrNoSession
	}
	return e.pull(ctx)
}

// RefreshParticipants replaces the roster with the server's list.
func (e *Engine) RefreshParticipants(ctx context.Context) error {
	list, err := e.api.Participants(ctx, e.cfg.SessionID)
	if err != nil {
		e.failRequest("list participants", err)
		return fmt.Errorf("list participants: %w", err)
	}
	e.mu.Lock()
	e.store.ReplaceParticipants(list)
	e.broadcastLocked()
	e.mu.Unlock()
	return nil
}

func (e *Engine) pull(ctx context.Context) error {
	sess, err := e.api.SessionInfo(ctx, e.cfg.SessionID)
	if err != nil {
		e.failRequest("session info", err)
		return fmt.Errorf("session info: %w", err)
	}
	if sess.ID == "" {
		sess.ID = e.cfg.SessionID
	}
	e.mu.Lock()
	e.store.SetSession(sess)
	e.broadcastLocked()
	e.mu.Unlock()
	return e.RefreshParticipants(ctx)
}

// Connect starts the push connection. Frames are applied again only after the
// next connected event, so frames still queued from an earlier connection are
// dropped.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if !e.attached {
		e.attaching = true
	}
	e.mu.Unlock()
	return e.conn.Connect(ctx)
}

// Disconnect marks the view disconnected, stops the countdown and detaches the
// frame path before closing the connection. Safe from any goroutine.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	e.attached = false
	e.attaching = false
	e.store.SetConnected(false)
	e.store.StopCountdown()
	e.broadcastLocked()
	e.mu.Unlock()

	e.conn.Disconnect()
}

// Close disconnects and drops the session view.
func (e *Engine) Close() {
	e.Disconnect()

	e.mu.Lock()
	e.store.ClearSession()
	e.joined = false
	e.everConnected = false
	e.broadcastLocked()
	e.mu.Unlock()
}

// Run dispatches connection events and countdown ticks until ctx ends.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(countdown.TickInterval)
	defer ticker.Stop()

	events := e.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			e.handle(ctx, ev)
		case <-ticker.Chan():
			e.tick()
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev ws.Event) {
	var replies []protocol.Type
	resync := false

	e.mu.Lock()
	if !e.attached {
		if !e.attaching || ev.Kind == ws.EventFrame {
			e.mu.Unlock()
			return
		}
		if ev.Kind == ws.EventConnected {
			e.attached = true
			e.attaching = false
		}
	}
	changed := true
	switch ev.Kind {
	case ws.EventConnected:
		e.store.SetConnected(true)
		if e.joined {
			replies = append(replies, protocol.TypeJoinSession)
			resync = e.everConnected
		}
		e.everConnected = true
	case ws.EventDisconnected:
		e.store.SetConnected(false)
		e.store.SetConnectionError(errText(ev.Err))
	case ws.EventGaveUp:
		e.store.SetConnected(false)
		e.store.SetConnectionError(fmt.Sprintf("reconnect failed after %d attempts: %s", ev.Attempt, errText(ev.Err)))
	case ws.EventFrame:
		var reply bool
		changed, reply = e.applyFrameLocked(ev.Frame)
		if reply {
			replies = append(replies, protocol.TypePong)
		}
	default:
		changed = false
	}
	if changed {
		e.broadcastLocked()
	}
	e.mu.Unlock()

	for _, t := range replies {
		switch t {
		case protocol.TypeJoinSession:
			e.conn.Send(t, protocol.JoinSession{SessionID: e.cfg.SessionID})
		default:
			e.conn.Send(t, nil)
		}
	}
	if resync {
		go e.resync(ctx)
	}
}

// applyFrameLocked decodes and applies one frame. Unknown or malformed frames
// are dropped.
func (e *Engine) applyFrameLocked(frame []byte) (changed, pong bool) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		log.Debug().Err(err).Msg("dropping push frame")
		return false, false
	}
	if held := e.store.SessionID(); msg.SessionID != "" && held != "" && msg.SessionID != held {
		log.Debug().Str("frame_session", msg.SessionID).Str("session_id", held).Msg("dropping frame for another session")
		return false, false
	}
	if _, ok := msg.Event.(protocol.Ping); ok {
		return false, true
	}
	if e.recorder != nil {
		e.recorder.Record(e.cfg.SessionID, msg)
	}
	return e.store.Apply(msg.Event), false
}

// resync re-pulls server state after a reconnect. The answer latch is kept.
func (e *Engine) resync(ctx context.Context) {
	if err := e.pull(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", e.cfg.SessionID).Msg("resync after reconnect failed")
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store.Tick() {
		e.broadcastLocked()
	}
}

// SubmitAnswer answers the current question over both paths at once. Guard
// failures return before any I/O; a request failure sets the session error but
// keeps the answered latch.
func (e *Engine) SubmitAnswer(ctx context.Context, option int, responseTime time.Duration) (SubmitResult, error) {
	e.mu.Lock()
	q, err := e.store.BeginAnswer(option)
	if err != nil {
		e.mu.Unlock()
		return SubmitResult{}, err
	}
	userID := e.store.SelfID()
	e.broadcastLocked()
	e.mu.Unlock()

	return e.dispatch(ctx, userID, q.ID, option, responseTime, false)
}

// SubmitRevivalAnswer is SubmitAnswer scoped to the revival question. Users
// outside the candidate list never reach the network.
func (e *Engine) SubmitRevivalAnswer(ctx context.Context, option int, responseTime time.Duration) (SubmitResult, error) {
	e.mu.Lock()
	q, err := e.store.BeginRevivalAnswer(option)
	if err != nil {
		e.mu.Unlock()
		return SubmitResult{}, err
	}
	userID := e.store.SelfID()
	e.broadcastLocked()
	e.mu.Unlock()

	return e.dispatch(ctx, userID, q.ID, option, responseTime, true)
}

func (e *Engine) dispatch(ctx context.Context, userID, questionID string, option int, responseTime time.Duration, revival bool) (SubmitResult, error) {
	if e.ledger != nil {
		fresh, err := e.ledger.Claim(ctx, e.cfg.SessionID, userID, questionID)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("question_id", questionID).Msg("answer ledger unavailable")
		case !fresh:
			return SubmitResult{}, domain.ErrAlreadyAnswered
		}
	}

	if responseTime < 0 {
		responseTime = 0
	}
	sub := domain.AnswerSubmission{
		QuestionID:     questionID,
		SelectedOption: option,
		ResponseTimeMs: responseTime.Milliseconds(),
	}

	var (
		g      errgroup.Group
		pushed bool
		out    domain.AnswerOutcome
	)
	g.Go(func() error {
		pushed = e.conn.Send(protocol.TypeAnswerSubmit, sub)
		return nil
	})
	g.Go(func() error {
		var err error
		out, err = e.api.SubmitAnswer(ctx, e.cfg.SessionID, sub)
		return err
	})
	err := g.Wait()

	result := SubmitResult{QuestionID: questionID, Pushed: pushed}
	if err != nil {
		e.failRequest("submit answer", err)
		return result, fmt.Errorf("submit answer: %w", err)
	}
	if out.Answer.QuestionID == "" {
		out.Answer.QuestionID = questionID
	}

	e.mu.Lock()
	if revival {
		e.store.RecordRevivalAnswer(out)
	} else {
		e.store.RecordAnswer(out)
	}
	e.broadcastLocked()
	e.mu.Unlock()

	result.Outcome = out
	log.Info().
		Str("question_id", questionID).
		Bool("correct", out.Answer.IsCorrect).
		Bool("pushed", pushed).
		Msg("answer submitted")
	return result, nil
}

// AcknowledgeResult dismisses the round result.
func (e *Engine) AcknowledgeResult() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.AcknowledgeResult()
	e.broadcastLocked()
}

// ClearError dismisses the session-level error.
func (e *Engine) ClearError() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.ClearError()
	e.broadcastLocked()
}

func (e *Engine) Snapshot() state.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// Subscribe returns a channel of snapshots, starting with the current one. A
// slow reader only loses stale snapshots. Call cancel to release it.
func (e *Engine) Subscribe() (<-chan state.Snapshot, func()) {
	ch := make(chan state.Snapshot, 8)

	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	ch <- e.store.Snapshot()
	e.mu.Unlock()

	cancel := func() {
		e.mu.Lock()
		if _, ok := e.subscribers[ch]; ok {
			delete(e.subscribers, ch)
			close(ch)
		}
		e.mu.Unlock()
	}
	return ch, cancel
}

func (e *Engine) broadcastLocked() {
	if len(e.subscribers) == 0 {
		return
	}
	snap := e.store.Snapshot()
	for ch := range e.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

func (e *Engine) failRequest(op string, err error) {
	log.Warn().Err(err).Str("op", op).Str("session_id", e.cfg.SessionID).Msg("request failed")
	e.mu.Lock()
	e.store.SetError(err.Error())
	e.broadcastLocked()
	e.mu.Unlock()
}

func errText(err error) string {
	if err == nil {
		return "connection closed"
	}
	return err.Error()
}

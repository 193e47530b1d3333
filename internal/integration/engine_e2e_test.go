package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-sync-client/internal/app"
	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/infra/memory"
	"quiz-sync-client/internal/protocol"
	"quiz-sync-client/internal/quiztest"
	"quiz-sync-client/internal/state"
	"quiz-sync-client/internal/transport/api"
	"quiz-sync-client/internal/transport/ws"
)

const waitFor = 5 * time.Second

func intPtr(v int) *int { return &v }

func questionBank() []domain.Question {
	opts := []string{"a", "b", "c", "d"}
	return []domain.Question{
		{ID: "q1", Text: "first", Options: opts, CorrectAnswerIndex: intPtr(1)},
		{ID: "q2", Text: "second chance", Options: opts, CorrectAnswerIndex: intPtr(0)},
		{ID: "q3", Text: "third", Options: opts, CorrectAnswerIndex: intPtr(2)},
	}
}

type player struct {
	engine *app.Engine
	conn   *ws.Manager
}

func newPlayer(t *testing.T, ctx context.Context, srv *quiztest.Server, userID, name string) *player {
	t.Helper()
	return newPlayerWithDelay(t, ctx, srv, userID, name, 20*time.Millisecond)
}

func newPlayerWithDelay(t *testing.T, ctx context.Context, srv *quiztest.Server, userID, name string, delay time.Duration) *player {
	t.Helper()
	conn := ws.NewManager(ws.Options{
		URL:            srv.WSURL(),
		SessionID:      "s1",
		DisplayName:    name,
		Token:          userID,
		ReconnectDelay: delay,
	})
	client := api.NewClient(api.Options{BaseURL: srv.URL, Token: userID})
	engine := app.NewEngine(app.Config{SessionID: "s1", DisplayName: name}, conn, client,
		app.WithLedger(memory.NewAnswerLedger(time.Hour)))

	require.NoError(t, engine.Join(ctx))
	go func() { _ = engine.Run(ctx) }()
	require.NoError(t, engine.Connect(ctx))
	t.Cleanup(engine.Close)

	p := &player{engine: engine, conn: conn}
	p.await(t, "connected", func(s state.Snapshot) bool { return s.Connected })
	return p
}

func (p *player) await(t *testing.T, what string, cond func(state.Snapshot) bool) state.Snapshot {
	t.Helper()
	var last state.Snapshot
	ok := assert.Eventually(t, func() bool {
		last = p.engine.Snapshot()
		return cond(last)
	}, waitFor, 10*time.Millisecond, what)
	if !ok {
		t.FailNow()
	}
	return last
}

func selfStatus(s state.Snapshot) domain.ParticipantStatus {
	self, _ := s.Self()
	return self.Status
}

func TestEnginePlaysSuddenDeathSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := quiztest.NewServer(t, questionBank()...)
	srv.CreateSession(domain.Session{
		ID:    "s1",
		Title: "Friday quiz",
		Settings: domain.SessionSettings{
			AnswerTimeLimitSeconds: 30,
			RevivalEnabled:         true,
			RevivalSeatCount:       1,
		},
	})
	admin := api.NewClient(api.Options{BaseURL: srv.URL})

	alice := newPlayer(t, ctx, srv, "u1", "Alice")
	bob := newPlayer(t, ctx, srv, "u2", "Bob")
	alice.await(t, "alice sees bob join", func(s state.Snapshot) bool { return len(s.Participants) == 2 })

	require.NoError(t, admin.ControlSession(ctx, "s1", api.ActionStart))
	for _, p := range []*player{alice, bob} {
		p.await(t, "session active", func(s state.Snapshot) bool {
			return s.Session != nil && s.Session.Phase == domain.PhaseActive
		})
	}

	_, err := admin.GenerateQuestion(ctx, "s1")
	require.NoError(t, err)
	for _, p := range []*player{alice, bob} {
		snap := p.await(t, "question open", func(s state.Snapshot) bool { return s.Question != nil && s.Question.ID == "q1" })
		assert.Nil(t, snap.Question.CorrectAnswerIndex)
		assert.True(t, snap.TimerRunning)
	}

	res, err := alice.engine.SubmitAnswer(ctx, 1, 1200*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, res.Pushed)
	assert.True(t, res.Outcome.Answer.IsCorrect)
	_, err = alice.engine.SubmitAnswer(ctx, 2, time.Second)
	require.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	res, err = bob.engine.SubmitAnswer(ctx, 0, 900*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Outcome.Answer.IsCorrect)

	require.Eventually(t, func() bool {
		rest, push := srv.AnswerCounts("s1")
		return rest == 2 && push == 2
	}, waitFor, 10*time.Millisecond)

	snap := alice.engine.Snapshot()
	self, ok := snap.Self()
	require.True(t, ok)
	assert.Equal(t, quiztest.PointsPerAnswer, self.Score)
	assert.Equal(t, 1, self.CorrectAnswerCount)

	require.NoError(t, admin.NextRound(ctx, "s1"))
	snap = bob.await(t, "bob eliminated", func(s state.Snapshot) bool {
		return s.RoundResult != nil && selfStatus(s) == domain.StatusEliminated
	})
	assert.Len(t, snap.RoundResult.Eliminated, 1)
	alice.await(t, "alice survives", func(s state.Snapshot) bool {
		return s.RoundResult != nil && selfStatus(s) == domain.StatusActive
	})
	alice.engine.AcknowledgeResult()
	assert.Nil(t, alice.engine.Snapshot().RoundResult)

	require.NoError(t, admin.StartRevival(ctx, "s1", 0))
	bob.await(t, "revival offered", func(s state.Snapshot) bool {
		return s.Revival != nil && s.Revival.InProgress && s.Revival.Question != nil
	})
	alice.await(t, "alice sees revival", func(s state.Snapshot) bool {
		return s.Session != nil && s.Session.Phase == domain.PhaseRevival
	})

	_, err = alice.engine.SubmitRevivalAnswer(ctx, 0, time.Second)
	require.ErrorIs(t, err, domain.ErrNotRevivalCandidate)
	restBefore, _ := srv.AnswerCounts("s1")

	res, err = bob.engine.SubmitRevivalAnswer(ctx, 0, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Outcome.Answer.IsCorrect)
	restAfter, _ := srv.AnswerCounts("s1")
	assert.Equal(t, restBefore+1, restAfter)

	for _, p := range []*player{alice, bob} {
		p.await(t, "bob revived", func(s state.Snapshot) bool {
			return len(s.Revived) == 1 && s.Revived[0].UserID == "u2" && s.Session.Phase == domain.PhaseActive
		})
	}
	assert.Equal(t, domain.StatusRevived, selfStatus(bob.engine.Snapshot()))

	require.NoError(t, admin.ControlSession(ctx, "s1", api.ActionFinish))
	bob.await(t, "session finished", func(s state.Snapshot) bool { return s.Session.Phase == domain.PhaseFinished })
}

func TestEngineReconnectsAndResyncs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := quiztest.NewServer(t, questionBank()...)
	srv.CreateSession(domain.Session{ID: "s1", Settings: domain.SessionSettings{AnswerTimeLimitSeconds: 30}})
	admin := api.NewClient(api.Options{BaseURL: srv.URL})

	alice := newPlayerWithDelay(t, ctx, srv, "u1", "Alice", 300*time.Millisecond)
	require.NoError(t, admin.ControlSession(ctx, "s1", api.ActionStart))
	_, err := admin.GenerateQuestion(ctx, "s1")
	require.NoError(t, err)
	alice.await(t, "question open", func(s state.Snapshot) bool { return s.Question != nil })

	_, err = alice.engine.SubmitAnswer(ctx, 1, time.Second)
	require.NoError(t, err)

	srv.DropConnections("s1")
	alice.await(t, "disconnected", func(s state.Snapshot) bool { return !s.Connected && s.ConnectionError != "" })
	snap := alice.await(t, "reconnected", func(s state.Snapshot) bool { return s.Connected })
	assert.True(t, snap.HasAnswered, "answered latch survives reconnect")

	// let the resync pull land before the roster changes again
	time.Sleep(50 * time.Millisecond)
	newPlayer(t, ctx, srv, "u3", "Carol")
	alice.await(t, "roster resynced", func(s state.Snapshot) bool { return len(s.Participants) == 2 })

	srv.Broadcast("s1", protocol.TypeError, protocol.ServerError{Message: "moderator paused the quiz"})
	alice.await(t, "pushed error applied", func(s state.Snapshot) bool { return s.Error == "moderator paused the quiz" })

	require.NoError(t, admin.ControlSession(ctx, "s1", api.ActionFinish))
	alice.await(t, "session finished", func(s state.Snapshot) bool { return s.Session.Phase == domain.PhaseFinished })
}

func TestEngineDisconnectStopsPushPath(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := quiztest.NewServer(t, questionBank()...)
	srv.CreateSession(domain.Session{ID: "s1", Settings: domain.SessionSettings{AnswerTimeLimitSeconds: 30}})
	admin := api.NewClient(api.Options{BaseURL: srv.URL})

	alice := newPlayer(t, ctx, srv, "u1", "Alice")
	require.NoError(t, admin.ControlSession(ctx, "s1", api.ActionStart))
	_, err := admin.GenerateQuestion(ctx, "s1")
	require.NoError(t, err)
	alice.await(t, "question open", func(s state.Snapshot) bool { return s.TimerRunning })

	alice.engine.Disconnect()
	snap := alice.engine.Snapshot()
	assert.False(t, snap.Connected)
	assert.False(t, snap.TimerRunning)
	assert.False(t, alice.conn.IsConnected())

	require.NoError(t, admin.NextRound(ctx, "s1"))
	time.Sleep(100 * time.Millisecond)
	assert.Nil(t, alice.engine.Snapshot().RoundResult, "frames after disconnect are not applied")
}

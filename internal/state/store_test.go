package state

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
)

func intp(v int) *int { return &v }

func newActiveStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	s := New("me", clock)
	s.SetSession(domain.Session{
		ID:       "s1",
		Phase:    domain.PhaseActive,
		Settings: domain.SessionSettings{AnswerTimeLimitSeconds: 30, RevivalEnabled: true},
	})
	return s, clock
}

func question(id string) domain.Question {
	return domain.Question{ID: id, Text: "?", Options: []string{"a", "b", "c", "d"}, Round: 1}
}

func TestQuestionStartResetsRoundState(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	_, err := s.BeginAnswer(1)
	require.NoError(t, err)
	s.Apply(protocol.RoundResult{Round: 1, Survivors: []protocol.ParticipantRef{{UserID: "me"}}})
	require.NotNil(t, s.Snapshot().RoundResult)

	s.Apply(protocol.QuestionStart{Question: question("q2"), TimeLimit: 20})

	snap := s.Snapshot()
	require.NotNil(t, snap.Question)
	assert.Equal(t, "q2", snap.Question.ID)
	assert.False(t, snap.HasAnswered)
	assert.False(t, snap.Missed)
	assert.Nil(t, snap.RoundResult)
	assert.Nil(t, snap.LastAnswer)
	assert.Equal(t, 20, snap.TimeRemaining)
	assert.True(t, snap.TimerRunning)
}

func TestQuestionStartFallsBackToSessionLimitAndSyncsDeadline(t *testing.T) {
	s, clock := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1")})
	assert.Equal(t, 30, s.Snapshot().TimeRemaining)

	s.Apply(protocol.QuestionStart{
		Question:  question("q2"),
		TimeLimit: 30,
		Deadline:  protocol.Instant{Time: clock.Now().Add(25 * time.Second)},
	})
	assert.Equal(t, 25, s.Snapshot().TimeRemaining)
}

func TestQuestionEndRecordsCorrectAnswer(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})

	assert.False(t, s.Apply(protocol.QuestionEnd{QuestionID: "other", CorrectAnswer: 1}))
	assert.True(t, s.Apply(protocol.QuestionEnd{QuestionID: "q1", CorrectAnswer: 2}))

	snap := s.Snapshot()
	require.NotNil(t, snap.Question.CorrectAnswerIndex)
	assert.Equal(t, 2, *snap.Question.CorrectAnswerIndex)
	assert.False(t, snap.TimerRunning)
}

func TestAnswerGuards(t *testing.T) {
	s, _ := newActiveStore(t)

	_, err := s.BeginAnswer(0)
	assert.ErrorIs(t, err, domain.ErrNoActiveQuestion)

	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	_, err = s.BeginAnswer(4)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)
	_, err = s.BeginAnswer(-1)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)
	assert.False(t, s.Snapshot().HasAnswered, "rejected submissions do not latch")

	q, err := s.BeginAnswer(3)
	require.NoError(t, err)
	assert.Equal(t, "q1", q.ID)
	assert.True(t, s.Snapshot().HasAnswered)

	_, err = s.BeginAnswer(0)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)
}

func TestCountdownExpiryMarksMissed(t *testing.T) {
	s, clock := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 2})

	clock.Advance(time.Second)
	assert.True(t, s.Tick())
	assert.False(t, s.Snapshot().Missed)

	clock.Advance(time.Second)
	assert.True(t, s.Tick())
	snap := s.Snapshot()
	assert.True(t, snap.Missed)
	assert.Nil(t, snap.LastAnswer, "no synthetic answer")
	assert.Empty(t, snap.Answers)

	clock.Advance(time.Second)
	assert.False(t, s.Tick())
}

func TestCountdownExpiryAfterAnswerIsNotMissed(t *testing.T) {
	s, clock := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 1})
	_, err := s.BeginAnswer(0)
	require.NoError(t, err)

	clock.Advance(time.Second)
	s.Tick()
	assert.False(t, s.Snapshot().Missed)
}

func TestRoundResultMatchesRosterAndCarriesFields(t *testing.T) {
	s, _ := newActiveStore(t)
	joined := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ReplaceParticipants([]domain.Participant{
		{UserID: "u1", DisplayName: "A", Status: domain.StatusActive, Score: 10, CorrectAnswerCount: 1, JoinedAt: joined},
		{UserID: "u2", DisplayName: "B", Status: domain.StatusActive, Score: 5, JoinedAt: joined},
	})

	s.Apply(protocol.RoundResult{
		Round:      1,
		Survivors:  []protocol.ParticipantRef{{UserID: "u1", DisplayName: "A", Score: intp(20), CorrectAnswerCount: intp(2)}},
		Eliminated: []protocol.ParticipantRef{{UserID: "u2", DisplayName: "B"}},
	})

	snap := s.Snapshot()
	require.NotNil(t, snap.RoundResult)
	require.Len(t, snap.RoundResult.Survivors, 1)
	require.Len(t, snap.RoundResult.Eliminated, 1)

	u1, _ := findParticipant(snap.Participants, "u1")
	u2, _ := findParticipant(snap.Participants, "u2")
	assert.Equal(t, snap.RoundResult.Survivors[0], u1)
	assert.Equal(t, snap.RoundResult.Eliminated[0], u2)

	assert.Equal(t, domain.StatusActive, u1.Status)
	assert.Equal(t, 20, u1.Score)
	assert.Equal(t, 2, u1.CorrectAnswerCount)
	assert.Equal(t, joined, u1.JoinedAt)

	assert.Equal(t, domain.StatusEliminated, u2.Status)
	assert.Equal(t, 5, u2.Score, "absent score carries over")
	assert.Equal(t, joined, u2.JoinedAt)

	s.AcknowledgeResult()
	assert.Nil(t, s.Snapshot().RoundResult)
}

func TestParticipantJoinAndLeave(t *testing.T) {
	s, clock := newActiveStore(t)
	s.Apply(protocol.ParticipantJoin{ParticipantRef: protocol.ParticipantRef{UserID: "u1", DisplayName: "A"}})
	s.Apply(protocol.ParticipantJoin{ParticipantRef: protocol.ParticipantRef{UserID: "u1", DisplayName: "A again"}})

	snap := s.Snapshot()
	require.Len(t, snap.Participants, 1)
	assert.Equal(t, "A again", snap.Participants[0].DisplayName)
	assert.Equal(t, domain.StatusActive, snap.Participants[0].Status)
	assert.Equal(t, clock.Now().UTC(), snap.Participants[0].JoinedAt)

	s.Apply(protocol.ParticipantLeave{UserID: "u1"})
	assert.Empty(t, s.Snapshot().Participants)
}

func TestSessionUpdateWithoutSessionIsIgnored(t *testing.T) {
	s := New("me", clockwork.NewFakeClock())
	assert.False(t, s.Apply(protocol.SessionUpdate{Status: "active", CurrentRound: intp(3)}))
	assert.Nil(t, s.Snapshot().Session)
}

func TestSessionPhaseTransitions(t *testing.T) {
	s := New("me", clockwork.NewFakeClock())
	s.SetSession(domain.Session{ID: "s1", Phase: domain.PhaseWaiting})

	s.Apply(protocol.SessionUpdate{Status: "revival"})
	assert.Equal(t, domain.PhaseWaiting, s.Phase(), "revival is entered only by revival_start")

	s.Apply(protocol.SessionUpdate{Status: "active", CurrentRound: intp(1), ParticipantCount: intp(120)})
	assert.Equal(t, domain.PhaseActive, s.Phase())
	assert.Equal(t, 120, s.Snapshot().Session.ParticipantCount)

	s.Apply(protocol.SessionUpdate{Status: "waiting"})
	assert.Equal(t, domain.PhaseActive, s.Phase())

	s.Apply(protocol.SessionUpdate{Status: "finished"})
	assert.Equal(t, domain.PhaseFinished, s.Phase())

	s.Apply(protocol.SessionUpdate{Status: "active"})
	assert.Equal(t, domain.PhaseFinished, s.Phase(), "finished is terminal")
}

func TestSessionUpdateCannotLeaveRevivalExceptToFinished(t *testing.T) {
	s, _ := newActiveStore(t)
	require.True(t, s.Apply(protocol.RevivalStart{Candidates: []protocol.ParticipantRef{{UserID: "me"}}}))

	s.Apply(protocol.SessionUpdate{Status: "active"})
	assert.Equal(t, domain.PhaseRevival, s.Phase())

	s.Apply(protocol.SessionUpdate{Status: "finished"})
	assert.Equal(t, domain.PhaseFinished, s.Phase())
	assert.Nil(t, s.Snapshot().Revival)
}

func TestRevivalFlow(t *testing.T) {
	s, _ := newActiveStore(t)
	s.ReplaceParticipants([]domain.Participant{
		{UserID: "me", Status: domain.StatusEliminated, Score: 3},
		{UserID: "u2", Status: domain.StatusEliminated},
		{UserID: "u3", Status: domain.StatusEliminated},
	})
	rq := question("rq")
	ok := s.Apply(protocol.RevivalStart{
		Candidates: []protocol.ParticipantRef{{UserID: "me"}, {UserID: "u2"}},
		Question:   &rq,
		TimeLimit:  15,
	})
	require.True(t, ok)

	snap := s.Snapshot()
	assert.Equal(t, domain.PhaseRevival, snap.Session.Phase)
	require.NotNil(t, snap.Revival)
	assert.True(t, snap.Revival.InProgress)
	assert.Len(t, snap.Revival.Candidates, 2)
	assert.Equal(t, 3, snap.Revival.Candidates[0].Score)
	assert.Equal(t, 15, snap.TimeRemaining)

	q, err := s.BeginRevivalAnswer(1)
	require.NoError(t, err)
	assert.Equal(t, "rq", q.ID)
	_, err = s.BeginRevivalAnswer(1)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	s.Apply(protocol.RevivalTimeout{UserIDs: []string{"u2", "u2"}})
	assert.Equal(t, []string{"u2"}, s.Snapshot().Revival.TimedOut)

	require.True(t, s.Apply(protocol.RevivalResult{Revived: []protocol.ParticipantRef{{UserID: "me"}}}))
	snap = s.Snapshot()
	assert.Equal(t, domain.PhaseActive, snap.Session.Phase)
	assert.Nil(t, snap.Revival)
	require.Len(t, snap.Revived, 1)

	me, _ := snap.Self()
	assert.Equal(t, domain.StatusRevived, me.Status)
	assert.True(t, me.Status.InPlay())
	assert.Equal(t, 3, me.Score)
	u2, _ := findParticipant(snap.Participants, "u2")
	assert.Equal(t, domain.StatusEliminated, u2.Status)
}

func TestRevivalStartOnlyFromActive(t *testing.T) {
	s := New("me", clockwork.NewFakeClock())
	assert.False(t, s.Apply(protocol.RevivalStart{}), "no session")

	s.SetSession(domain.Session{ID: "s1", Phase: domain.PhaseWaiting})
	assert.False(t, s.Apply(protocol.RevivalStart{}))
	assert.Equal(t, domain.PhaseWaiting, s.Phase())

	assert.False(t, s.Apply(protocol.RevivalResult{}), "no revival in progress")
}

func TestRevivalGuards(t *testing.T) {
	s, _ := newActiveStore(t)
	_, err := s.BeginRevivalAnswer(0)
	assert.ErrorIs(t, err, domain.ErrNoRevivalInProgress)

	rq := question("rq")
	s.Apply(protocol.RevivalStart{Candidates: []protocol.ParticipantRef{{UserID: "someone-else"}}, Question: &rq})
	_, err = s.BeginRevivalAnswer(0)
	assert.ErrorIs(t, err, domain.ErrNotRevivalCandidate)
	assert.False(t, s.Snapshot().Revival.HasAnswered)
}

func TestRevivalQuestionByQuestionStart(t *testing.T) {
	for _, tc := range []struct {
		name      string
		candidate string
		wantRound error
		wantRev   error
	}{
		{name: "candidate", candidate: "me", wantRound: domain.ErrNoActiveQuestion},
		{name: "bystander", candidate: "u2", wantRound: domain.ErrNotRevivalCandidate, wantRev: domain.ErrNotRevivalCandidate},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newActiveStore(t)
			s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
			require.True(t, s.Apply(protocol.RevivalStart{
				Candidates: []protocol.ParticipantRef{{UserID: tc.candidate}},
				QuestionID: "rq1",
			}))
			assert.Equal(t, "rq1", s.Snapshot().Revival.QuestionID)

			s.Apply(protocol.QuestionStart{Question: question("rq1"), TimeLimit: 20})
			snap := s.Snapshot()
			require.NotNil(t, snap.Revival.Question)
			assert.Equal(t, "rq1", snap.Revival.Question.ID)
			assert.Equal(t, "q1", snap.Question.ID, "round question is left alone")
			assert.Equal(t, 20, snap.TimeRemaining)

			_, err := s.BeginAnswer(1)
			assert.ErrorIs(t, err, tc.wantRound)
			assert.False(t, s.Snapshot().HasAnswered)

			q, err := s.BeginRevivalAnswer(1)
			if tc.wantRev != nil {
				assert.ErrorIs(t, err, tc.wantRev)
				assert.False(t, s.Snapshot().Revival.HasAnswered)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "rq1", q.ID)
			assert.True(t, s.Snapshot().Revival.HasAnswered)
		})
	}
}

func TestRevivalCountdownNeverInfersTimeout(t *testing.T) {
	s, clock := newActiveStore(t)
	rq := question("rq")
	s.Apply(protocol.RevivalStart{Candidates: []protocol.ParticipantRef{{UserID: "me"}}, Question: &rq, TimeLimit: 1})

	clock.Advance(2 * time.Second)
	s.Tick()
	snap := s.Snapshot()
	assert.Empty(t, snap.Revival.TimedOut)
	assert.False(t, snap.Missed)
}

func TestRecordAnswerAppliesServerTruth(t *testing.T) {
	s, _ := newActiveStore(t)
	joined := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s.ReplaceParticipants([]domain.Participant{{UserID: "me", Status: domain.StatusActive, JoinedAt: joined}})
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	_, err := s.BeginAnswer(2)
	require.NoError(t, err)

	next := question("q2")
	s.RecordAnswer(domain.AnswerOutcome{
		Answer:       domain.Answer{QuestionID: "q1", SelectedOption: 2, IsCorrect: true, Score: intp(10)},
		Participant:  &domain.Participant{UserID: "me", Status: domain.StatusActive, Score: 10, CorrectAnswerCount: 1},
		NextQuestion: &next,
		TimeLimit:    25,
	})

	snap := s.Snapshot()
	assert.Equal(t, "q2", snap.Question.ID)
	assert.False(t, snap.HasAnswered)
	assert.Nil(t, snap.LastAnswer, "next question resets the previous verdict")
	require.Len(t, snap.Answers, 1)
	assert.True(t, snap.Answers[0].IsCorrect)

	me, _ := snap.Self()
	assert.Equal(t, 10, me.Score)
	assert.Equal(t, joined, me.JoinedAt)
}

func TestLateVerdictDoesNotReopenPushedQuestion(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	_, err := s.BeginAnswer(0)
	require.NoError(t, err)

	s.Apply(protocol.QuestionStart{Question: question("q2"), TimeLimit: 30})
	_, err = s.BeginAnswer(1)
	require.NoError(t, err)

	next := question("q2")
	s.RecordAnswer(domain.AnswerOutcome{
		Answer:       domain.Answer{QuestionID: "q1", SelectedOption: 0},
		NextQuestion: &next,
		TimeLimit:    30,
	})
	snap := s.Snapshot()
	assert.Equal(t, "q2", snap.Question.ID)
	assert.True(t, snap.HasAnswered)

	_, err = s.BeginAnswer(2)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)
}

func TestLateVerdictDoesNotRewindRound(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	_, err := s.BeginAnswer(0)
	require.NoError(t, err)
	s.Apply(protocol.QuestionStart{Question: question("q3"), TimeLimit: 30})

	stale := question("q2")
	s.RecordAnswer(domain.AnswerOutcome{Answer: domain.Answer{QuestionID: "q1"}, NextQuestion: &stale})
	assert.Equal(t, "q3", s.Snapshot().Question.ID)
}

func TestAnsweredQuestionKeepsLatchWhenRepeated(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	_, err := s.BeginAnswer(0)
	require.NoError(t, err)

	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	assert.True(t, s.Snapshot().HasAnswered)
	_, err = s.BeginAnswer(0)
	assert.ErrorIs(t, err, domain.ErrAlreadyAnswered)

	s.ClearSession()
	s.SetSession(domain.Session{ID: "s2", Phase: domain.PhaseActive})
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	assert.False(t, s.Snapshot().HasAnswered, "a new session starts unlatched")
}

func TestServerErrorAndBroadcast(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.ServerError{Message: "boom"})
	correct := false
	s.Apply(protocol.AnswerSubmitted{UserID: "u9", Answer: protocol.BroadcastAnswer{QuestionID: "q1", IsCorrect: &correct}})

	snap := s.Snapshot()
	assert.Equal(t, "boom", snap.Error)
	require.NotNil(t, snap.LastBroadcast)
	assert.Equal(t, "u9", snap.LastBroadcast.UserID)
	assert.Empty(t, snap.Answers, "broadcasts are display only")
	assert.False(t, s.Apply(protocol.Ping{}))
}

func TestSnapshotIsIndependent(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	snap := s.Snapshot()
	snap.Question.Options[0] = "mutated"
	snap.Session.Title = "mutated"

	again := s.Snapshot()
	assert.Equal(t, "a", again.Question.Options[0])
	assert.Empty(t, again.Session.Title)
}

func TestClearSession(t *testing.T) {
	s, _ := newActiveStore(t)
	s.Apply(protocol.QuestionStart{Question: question("q1"), TimeLimit: 30})
	s.Apply(protocol.ParticipantJoin{ParticipantRef: protocol.ParticipantRef{UserID: "u1"}})
	s.ClearSession()

	snap := s.Snapshot()
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Question)
	assert.Empty(t, snap.Participants)
	assert.False(t, snap.TimerRunning)
}

func findParticipant(list []domain.Participant, id string) (domain.Participant, bool) {
	for _, p := range list {
		if p.UserID == id {
			return p, true
		}
	}
	return domain.Participant{}, false
}

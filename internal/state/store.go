// Package state holds one participant's view of a quiz session and the
// transitions that inbound events and local intents drive through it.
//
// A Store has a single owner and is not safe for concurrent use. Every mutation
// goes through a named operation; nothing outside the package touches fields.
package state

import (
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-sync-client/internal/countdown"
	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
)

// Round is the lifecycle of the question currently on screen.
type Round struct {
	Question    *domain.Question
	HasAnswered bool
	Missed      bool
	Result      *domain.RoundResult
	LastAnswer  *domain.Answer
}

type Store struct {
	selfID string
	clock  clockwork.Clock

	session   *domain.Session
	roster    *Roster
	round     Round
	revival   *domain.RevivalState
	revived   []domain.Participant
	countdown *countdown.Countdown
	answers   []domain.Answer
	answered  map[string]bool

	connected     bool
	connErr       string
	err           string
	lastBroadcast *protocol.AnswerSubmitted
}

// New creates an empty store for the local user selfID.
func New(selfID string, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		selfID:    selfID,
		clock:     clock,
		roster:    NewRoster(),
		countdown: countdown.New(clock),
		answered:  make(map[string]bool),
	}
}

func (s *Store) SelfID() string { return s.selfID }

// SetSelfID records the local user id, typically learned from the join response.
func (s *Store) SetSelfID(id string) { s.selfID = id }

// SetSession installs a server-provided session snapshot.
func (s *Store) SetSession(sess domain.Session) {
	s.session = &sess
}

// HasSession reports whether a session snapshot is held.
func (s *Store) HasSession() bool { return s.session != nil }

func (s *Store) SessionID() string {
	if s.session == nil {
		return ""
	}
	return s.session.ID
}

// Phase returns the held phase, or the empty phase without a session.
func (s *Store) Phase() domain.Phase {
	if s.session == nil {
		return ""
	}
	return s.session.Phase
}

// ClearSession drops everything tied to the session.
func (s *Store) ClearSession() {
	s.session = nil
	s.roster = NewRoster()
	s.round = Round{}
	s.revival = nil
	s.revived = nil
	s.answers = nil
	s.answered = make(map[string]bool)
	s.lastBroadcast = nil
	s.err = ""
	s.countdown.Stop()
}

// ReplaceParticipants installs a full roster pulled from the request API.
func (s *Store) ReplaceParticipants(list []domain.Participant) {
	s.roster.Replace(list)
}

func (s *Store) SetConnected(connected bool) {
	s.connected = connected
	if connected {
		s.connErr = ""
	}
}

func (s *Store) Connected() bool { return s.connected }

func (s *Store) SetConnectionError(msg string) { s.connErr = msg }

func (s *Store) SetError(msg string) { s.err = msg }

func (s *Store) ClearError() { s.err = "" }

// StopCountdown halts the timer and zeroes the display.
func (s *Store) StopCountdown() { s.countdown.Stop() }

// Apply routes one inbound event to its transition. It reports whether the
// view changed; events that do not apply in the current state are dropped.
func (s *Store) Apply(ev protocol.Event) bool {
	switch e := ev.(type) {
	case protocol.QuestionStart:
		s.StartQuestion(e.Question, e.TimeLimit, e.Deadline.Time)
		return true
	case protocol.QuestionEnd:
		return s.EndQuestion(e.QuestionID, e.CorrectAnswer)
	case protocol.RoundResult:
		s.ApplyRoundResult(e)
		return true
	case protocol.ParticipantJoin:
		s.JoinParticipant(e.ParticipantRef)
		return true
	case protocol.ParticipantLeave:
		s.roster.Remove(e.UserID)
		return true
	case protocol.SessionUpdate:
		return s.UpdateSession(e)
	case protocol.RevivalStart:
		return s.StartRevival(e)
	case protocol.RevivalResult:
		return s.FinishRevival(e.Revived)
	case protocol.RevivalTimeout:
		return s.TimeoutRevival(e.UserIDs)
	case protocol.AnswerSubmitted:
		b := e
		s.lastBroadcast = &b
		return true
	case protocol.ServerError:
		s.err = e.Message
		return true
	case protocol.Ping, protocol.Pong:
		return false
	}
	return false
}

// StartQuestion replaces the current question and resets all per-question state.
// While a revival is in progress the question is the revival question and the
// round stays as it was. A question already answered keeps its latch.
func (s *Store) StartQuestion(q domain.Question, timeLimit int, deadline time.Time) {
	cloned := q.Clone()
	if rv := s.revival; rv != nil {
		rv.QuestionID = cloned.ID
		rv.Question = &cloned
		rv.HasAnswered = s.answered[cloned.ID]
	} else {
		s.round = Round{Question: &cloned, HasAnswered: s.answered[cloned.ID]}
	}
	if timeLimit <= 0 && s.session != nil {
		timeLimit = s.session.Settings.AnswerTimeLimitSeconds
	}
	s.countdown.Reset(timeLimit)
	s.countdown.SyncDeadline(deadline)
}

// EndQuestion records the correct option when questionID names the question on
// screen (round or revival) and stops the countdown.
func (s *Store) EndQuestion(questionID string, correct int) bool {
	matched := false
	if q := s.round.Question; q != nil && q.ID == questionID {
		idx := correct
		q.CorrectAnswerIndex = &idx
		matched = true
	}
	if s.revival != nil && s.revival.Question != nil && s.revival.Question.ID == questionID {
		idx := correct
		s.revival.Question.CorrectAnswerIndex = &idx
		matched = true
	}
	if matched {
		s.countdown.Stop()
	}
	return matched
}

// ApplyRoundResult builds survivor and eliminated records once and uses the same
// records for both the result and the roster.
func (s *Store) ApplyRoundResult(e protocol.RoundResult) {
	result := domain.RoundResult{
		Round:      e.Round,
		Survivors:  make([]domain.Participant, 0, len(e.Survivors)),
		Eliminated: make([]domain.Participant, 0, len(e.Eliminated)),
	}
	for _, ref := range e.Survivors {
		p := s.merge(ref, domain.StatusActive)
		result.Survivors = append(result.Survivors, p)
		s.roster.Upsert(p)
	}
	for _, ref := range e.Eliminated {
		p := s.merge(ref, domain.StatusEliminated)
		result.Eliminated = append(result.Eliminated, p)
		s.roster.Upsert(p)
	}
	s.round.Result = &result
	s.countdown.Stop()
}

// AcknowledgeResult dismisses the round result.
func (s *Store) AcknowledgeResult() {
	s.round.Result = nil
}

// JoinParticipant upserts a joining participant. A rejoin keeps the held status.
func (s *Store) JoinParticipant(ref protocol.ParticipantRef) {
	status := domain.StatusActive
	if held, ok := s.roster.Get(ref.UserID); ok {
		status = held.Status
	}
	p := s.merge(ref, status)
	if p.JoinedAt.IsZero() {
		p.JoinedAt = s.clock.Now().UTC()
	}
	s.roster.Upsert(p)
}

// UpdateSession applies a session_update. It is ignored without a held session.
func (s *Store) UpdateSession(e protocol.SessionUpdate) bool {
	if s.session == nil {
		return false
	}
	if e.CurrentRound != nil {
		s.session.CurrentRound = *e.CurrentRound
	}
	if e.ParticipantCount != nil {
		s.session.ParticipantCount = *e.ParticipantCount
	}
	if next, ok := domain.ParsePhase(e.Status); ok && canMove(s.session.Phase, next) {
		s.session.Phase = next
		if next == domain.PhaseFinished {
			s.revival = nil
			s.countdown.Stop()
		}
	}
	return true
}

// canMove encodes waiting -> active -> (revival -> active)* -> finished for
// session_update. Revival is entered and left only by revival events.
func canMove(from, to domain.Phase) bool {
	switch {
	case from == to:
		return true
	case from == domain.PhaseFinished:
		return false
	case to == domain.PhaseFinished:
		return true
	case from == domain.PhaseWaiting:
		return to == domain.PhaseActive
	}
	return false
}

// StartRevival enters the revival sub-flow. Only legal from the active phase.
func (s *Store) StartRevival(e protocol.RevivalStart) bool {
	if s.session == nil || s.session.Phase != domain.PhaseActive {
		return false
	}
	rv := &domain.RevivalState{InProgress: true, QuestionID: e.QuestionID}
	for _, ref := range e.Candidates {
		rv.Candidates = append(rv.Candidates, s.merge(ref, domain.StatusEliminated))
	}
	if e.Question != nil {
		q := e.Question.Clone()
		rv.Question = &q
		rv.QuestionID = q.ID
		rv.HasAnswered = s.answered[q.ID]
	}
	s.revival = rv
	s.revived = nil
	s.session.Phase = domain.PhaseRevival

	limit := e.TimeLimit
	if limit <= 0 {
		limit = s.session.Settings.AnswerTimeLimitSeconds
	}
	s.countdown.Reset(limit)
	s.countdown.SyncDeadline(e.Deadline.Time)
	return true
}

// FinishRevival marks every listed participant revived, clears the sub-flow and
// returns the session to active.
func (s *Store) FinishRevival(refs []protocol.ParticipantRef) bool {
	if s.session == nil || s.session.Phase != domain.PhaseRevival {
		return false
	}
	revived := make([]domain.Participant, 0, len(refs))
	for _, ref := range refs {
		p := s.merge(ref, domain.StatusRevived)
		revived = append(revived, p)
		s.roster.Upsert(p)
	}
	s.revived = revived
	s.revival = nil
	s.session.Phase = domain.PhaseActive
	s.countdown.Stop()
	return true
}

// TimeoutRevival records candidates whose revival attempt expired.
func (s *Store) TimeoutRevival(userIDs []string) bool {
	if s.revival == nil {
		return false
	}
	seen := make(map[string]bool, len(s.revival.TimedOut))
	for _, id := range s.revival.TimedOut {
		seen[id] = true
	}
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			s.revival.TimedOut = append(s.revival.TimedOut, id)
		}
	}
	return true
}

// BeginAnswer checks the answer guards and latches hasAnswered. The returned
// question is the one the answer is for. During revival there is no round
// question to answer: candidates go through BeginRevivalAnswer.
func (s *Store) BeginAnswer(option int) (domain.Question, error) {
	if s.revival != nil || s.Phase() == domain.PhaseRevival {
		if s.revival != nil && !s.revival.IsCandidate(s.selfID) {
			return domain.Question{}, domain.ErrNotRevivalCandidate
		}
		return domain.Question{}, domain.ErrNoActiveQuestion
	}
	q := s.round.Question
	if q == nil {
		return domain.Question{}, domain.ErrNoActiveQuestion
	}
	if s.round.HasAnswered || s.answered[q.ID] {
		return domain.Question{}, domain.ErrAlreadyAnswered
	}
	if !validOption(*q, option) {
		return domain.Question{}, domain.ErrInvalidOption
	}
	s.round.HasAnswered = true
	s.answered[q.ID] = true
	return q.Clone(), nil
}

// BeginRevivalAnswer is BeginAnswer scoped to the revival question.
func (s *Store) BeginRevivalAnswer(option int) (domain.Question, error) {
	rv := s.revival
	if rv == nil || !rv.InProgress {
		return domain.Question{}, domain.ErrNoRevivalInProgress
	}
	if !rv.IsCandidate(s.selfID) {
		return domain.Question{}, domain.ErrNotRevivalCandidate
	}
	if rv.Question == nil {
		return domain.Question{}, domain.ErrNoActiveQuestion
	}
	if rv.HasAnswered || s.answered[rv.Question.ID] {
		return domain.Question{}, domain.ErrAlreadyAnswered
	}
	if !validOption(*rv.Question, option) {
		return domain.Question{}, domain.ErrInvalidOption
	}
	rv.HasAnswered = true
	s.answered[rv.Question.ID] = true
	return rv.Question.Clone(), nil
}

func validOption(q domain.Question, option int) bool {
	n := len(q.Options)
	if n == 0 {
		n = domain.OptionCount
	}
	return option >= 0 && option < n
}

// RecordAnswer applies the request-path verdict. It never clears the latch. A
// next question in the verdict is only taken while the answered question is
// still on screen; a push that already moved the round on wins.
func (s *Store) RecordAnswer(out domain.AnswerOutcome) {
	ans := out.Answer
	s.round.LastAnswer = &ans
	s.answers = append(s.answers, ans)

	if out.Participant != nil && out.Participant.UserID != "" {
		p := *out.Participant
		if held, ok := s.roster.Get(p.UserID); ok && p.JoinedAt.IsZero() {
			p.JoinedAt = held.JoinedAt
		}
		s.roster.Upsert(p)
	}
	if next := out.NextQuestion; next != nil && s.advancesFrom(ans.QuestionID, next.ID) {
		s.StartQuestion(*next, out.TimeLimit, time.Time{})
	}
}

// advancesFrom reports whether a verdict for answeredID may move the round on
// to nextID.
func (s *Store) advancesFrom(answeredID, nextID string) bool {
	q := s.round.Question
	if s.revival != nil || q == nil || q.ID == nextID {
		return false
	}
	return answeredID == "" || q.ID == answeredID
}

// RecordRevivalAnswer applies the request-path verdict for a revival answer.
func (s *Store) RecordRevivalAnswer(out domain.AnswerOutcome) {
	ans := out.Answer
	s.round.LastAnswer = &ans
	s.answers = append(s.answers, ans)
	if out.Participant != nil && out.Participant.UserID != "" {
		s.roster.Upsert(*out.Participant)
	}
}

// Tick advances the countdown. A round question that expires unanswered is
// marked missed; revival timeouts come only from the server.
func (s *Store) Tick() bool {
	if !s.countdown.Running() {
		return false
	}
	before := s.countdown.Remaining()
	expired := s.countdown.Tick()
	if expired && s.round.Question != nil && !s.round.HasAnswered && s.revival == nil {
		s.round.Missed = true
	}
	return expired || before != s.countdown.Remaining()
}

// merge builds a participant record from a payload, carrying over fields the
// payload omitted from the held record.
func (s *Store) merge(ref protocol.ParticipantRef, status domain.ParticipantStatus) domain.Participant {
	p, _ := s.roster.Get(ref.UserID)
	p.UserID = ref.UserID
	p.Status = status
	if ref.DisplayName != "" {
		p.DisplayName = ref.DisplayName
	}
	if ref.Score != nil {
		p.Score = *ref.Score
	}
	if ref.CorrectAnswerCount != nil {
		p.CorrectAnswerCount = *ref.CorrectAnswerCount
	}
	if !ref.JoinedAt.IsZero() {
		p.JoinedAt = ref.JoinedAt.Time
	}
	return p
}

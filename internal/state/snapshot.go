package state

import (
	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
)

// Snapshot is an immutable copy of the view, safe to hand to other goroutines.
type Snapshot struct {
	SelfID          string
	Session         *domain.Session
	Participants    []domain.Participant
	Question        *domain.Question
	HasAnswered     bool
	Missed          bool
	TimeRemaining   int
	TimerRunning    bool
	RoundResult     *domain.RoundResult
	LastAnswer      *domain.Answer
	Answers         []domain.Answer
	Revival         *domain.RevivalState
	Revived         []domain.Participant
	Connected       bool
	ConnectionError string
	Error           string
	LastBroadcast   *protocol.AnswerSubmitted
}

// Self returns the local participant's roster entry.
func (s Snapshot) Self() (domain.Participant, bool) {
	for _, p := range s.Participants {
		if p.UserID == s.SelfID {
			return p, true
		}
	}
	return domain.Participant{}, false
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		SelfID:          s.selfID,
		Participants:    s.roster.List(),
		HasAnswered:     s.round.HasAnswered,
		Missed:          s.round.Missed,
		TimeRemaining:   s.countdown.Remaining(),
		TimerRunning:    s.countdown.Running(),
		Answers:         append([]domain.Answer(nil), s.answers...),
		Revived:         append([]domain.Participant(nil), s.revived...),
		Connected:       s.connected,
		ConnectionError: s.connErr,
		Error:           s.err,
	}
	if s.session != nil {
		sess := *s.session
		snap.Session = &sess
	}
	if s.round.Question != nil {
		q := s.round.Question.Clone()
		snap.Question = &q
	}
	if s.round.Result != nil {
		r := domain.RoundResult{
			Round:      s.round.Result.Round,
			Survivors:  append([]domain.Participant(nil), s.round.Result.Survivors...),
			Eliminated: append([]domain.Participant(nil), s.round.Result.Eliminated...),
		}
		snap.RoundResult = &r
	}
	if s.round.LastAnswer != nil {
		a := *s.round.LastAnswer
		snap.LastAnswer = &a
	}
	if s.revival != nil {
		rv := *s.revival
		rv.Candidates = append([]domain.Participant(nil), s.revival.Candidates...)
		rv.Revived = append([]domain.Participant(nil), s.revival.Revived...)
		rv.TimedOut = append([]string(nil), s.revival.TimedOut...)
		if s.revival.Question != nil {
			q := s.revival.Question.Clone()
			rv.Question = &q
		}
		snap.Revival = &rv
	}
	if s.lastBroadcast != nil {
		b := *s.lastBroadcast
		snap.LastBroadcast = &b
	}
	return snap
}

package quiztest

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
)

var (
	errNoQuestion     = errors.New("no question is open")
	errWrongQuestion  = errors.New("question is not open")
	errDuplicate      = errors.New("answer already recorded")
	errNotParticipant = errors.New("user has not joined")
	errNotCandidate   = errors.New("user is not a revival candidate")
	errBadPhase       = errors.New("session is not in the required phase")
	errNoCandidates   = errors.New("no eliminated participants to revive")
	errBankEmpty      = errors.New("question bank is empty")
)

// PointsPerAnswer is awarded for each correct answer.
const PointsPerAnswer = 10

const subscriberBuffer = 64

// session is the server-side state of one quiz. All methods lock s.mu.
type session struct {
	now func() time.Time

	mu           sync.Mutex
	info         domain.Session
	order        []string
	participants map[string]*domain.Participant
	question     *domain.Question
	answers      map[string]domain.Answer
	revival      *revivalRound
	bankNext     int
	restAnswers  int
	pushAnswers  int
	subscribers  map[chan []byte]struct{}
}

type revivalRound struct {
	candidates []string
	question   domain.Question
	answers    map[string]domain.Answer
}

func newSession(info domain.Session, now func() time.Time) *session {
	if info.Phase == "" {
		info.Phase = domain.PhaseWaiting
	}
	return &session{
		now:          now,
		info:         info,
		participants: make(map[string]*domain.Participant),
		answers:      make(map[string]domain.Answer),
		subscribers:  make(map[chan []byte]struct{}),
	}
}

func (s *session) snapshot() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.info
	out.ParticipantCount = len(s.participants)
	return out
}

func (s *session) roster() []domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.participants[id])
	}
	return out
}

func (s *session) currentQuestion() (domain.Question, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.question == nil {
		return domain.Question{}, false
	}
	return public(*s.question), true
}

func (s *session) join(userID, displayName string) domain.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[userID]
	if ok {
		p.DisplayName = displayName
	} else {
		p = &domain.Participant{
			UserID:      userID,
			DisplayName: displayName,
			Status:      domain.StatusActive,
			JoinedAt:    s.now().UTC(),
		}
		s.participants[userID] = p
		s.order = append(s.order, userID)
	}
	s.broadcastLocked(protocol.TypeParticipantJoin, ref(*p))
	return *p
}

func (s *session) leave(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return
	}
	delete(s.participants, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.broadcastLocked(protocol.TypeParticipantLeave, protocol.ParticipantLeave{UserID: p.UserID, DisplayName: p.DisplayName})
}

func (s *session) setPhase(phase domain.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Phase = phase
	if phase == domain.PhaseActive && s.info.CurrentRound == 0 {
		s.info.CurrentRound = 1
	}
	round := s.info.CurrentRound
	s.broadcastLocked(protocol.TypeSessionUpdate, protocol.SessionUpdate{Status: string(phase), CurrentRound: &round})
}

// openQuestion publishes the next bank question for the current round.
func (s *session) openQuestion(bank []domain.Question) (domain.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Phase != domain.PhaseActive {
		return domain.Question{}, errBadPhase
	}
	q, err := s.takeLocked(bank)
	if err != nil {
		return domain.Question{}, err
	}
	s.question = &q
	s.answers = make(map[string]domain.Answer)

	limit := s.info.Settings.AnswerTimeLimitSeconds
	s.broadcastLocked(protocol.TypeQuestionStart, protocol.QuestionStart{
		Question:  public(q),
		TimeLimit: limit,
		Deadline:  protocol.Instant{Time: s.now().Add(time.Duration(limit) * time.Second)},
	})
	return public(q), nil
}

func (s *session) takeLocked(bank []domain.Question) (domain.Question, error) {
	if len(bank) == 0 {
		return domain.Question{}, errBankEmpty
	}
	q := bank[s.bankNext%len(bank)].Clone()
	s.bankNext++
	q.Round = s.info.CurrentRound
	return q, nil
}

// answer judges a submission against the open question or the revival question.
func (s *session) answer(userID string, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restAnswers++

	p, ok := s.participants[userID]
	if !ok {
		return domain.AnswerOutcome{}, errNotParticipant
	}

	if s.revival != nil && sub.QuestionID == s.revival.question.ID {
		return s.revivalAnswerLocked(p, sub)
	}
	if s.question == nil {
		return domain.AnswerOutcome{}, errNoQuestion
	}
	if sub.QuestionID != s.question.ID {
		return domain.AnswerOutcome{}, errWrongQuestion
	}
	if _, dup := s.answers[userID]; dup {
		return domain.AnswerOutcome{}, errDuplicate
	}

	a := s.judgeLocked(*s.question, sub)
	s.answers[userID] = a
	if a.IsCorrect {
		p.Score += PointsPerAnswer
		p.CorrectAnswerCount++
	}
	return domain.AnswerOutcome{Answer: a, Participant: clonePtr(p)}, nil
}

func (s *session) revivalAnswerLocked(p *domain.Participant, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	r := s.revival
	if !contains(r.candidates, p.UserID) {
		return domain.AnswerOutcome{}, errNotCandidate
	}
	if _, dup := r.answers[p.UserID]; dup {
		return domain.AnswerOutcome{}, errDuplicate
	}
	a := s.judgeLocked(r.question, sub)
	r.answers[p.UserID] = a
	if len(r.answers) == len(r.candidates) {
		s.resolveRevivalLocked()
	}
	return domain.AnswerOutcome{Answer: a, Participant: clonePtr(p)}, nil
}

func (s *session) judgeLocked(q domain.Question, sub domain.AnswerSubmission) domain.Answer {
	correct := q.CorrectAnswerIndex != nil && *q.CorrectAnswerIndex == sub.SelectedOption
	score := 0
	if correct {
		score = PointsPerAnswer
	}
	return domain.Answer{
		QuestionID:     sub.QuestionID,
		SelectedOption: sub.SelectedOption,
		ResponseTimeMs: sub.ResponseTimeMs,
		IsCorrect:      correct,
		Score:          &score,
		AnsweredAt:     s.now().UTC(),
	}
}

// pushAnswer echoes a push-path submission to every connection.
func (s *session) pushAnswer(userID string, sub domain.AnswerSubmission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushAnswers++
	s.broadcastLocked(protocol.TypeAnswerSubmitted, protocol.AnswerSubmitted{
		UserID: userID,
		Answer: protocol.BroadcastAnswer{
			QuestionID:     sub.QuestionID,
			SelectedOption: sub.SelectedOption,
			ResponseTimeMs: sub.ResponseTimeMs,
		},
	})
}

// closeRound ends the open question: in-play participants who answered
// correctly survive, everyone else in play is eliminated.
func (s *session) closeRound() (protocol.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Phase != domain.PhaseActive {
		return protocol.RoundResult{}, errBadPhase
	}

	result := protocol.RoundResult{Round: s.info.CurrentRound}
	if s.question != nil {
		correct := 0
		if s.question.CorrectAnswerIndex != nil {
			correct = *s.question.CorrectAnswerIndex
		}
		s.broadcastLocked(protocol.TypeQuestionEnd, protocol.QuestionEnd{QuestionID: s.question.ID, CorrectAnswer: correct})
	}
	for _, id := range s.order {
		p := s.participants[id]
		if !p.Status.InPlay() {
			continue
		}
		if a, ok := s.answers[id]; ok && a.IsCorrect {
			p.Status = domain.StatusActive
			result.Survivors = append(result.Survivors, ref(*p))
		} else {
			p.Status = domain.StatusEliminated
			result.Eliminated = append(result.Eliminated, ref(*p))
		}
	}
	s.broadcastLocked(protocol.TypeRoundResult, result)

	s.question = nil
	s.answers = make(map[string]domain.Answer)
	s.info.CurrentRound++
	round := s.info.CurrentRound
	s.broadcastLocked(protocol.TypeSessionUpdate, protocol.SessionUpdate{CurrentRound: &round})
	return result, nil
}

// openRevival offers a second chance to up to seats eliminated participants,
// earliest joiners first.
func (s *session) openRevival(bank []domain.Question, seats int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.Phase != domain.PhaseActive {
		return errBadPhase
	}
	if seats <= 0 {
		seats = s.info.Settings.RevivalSeatCount
	}

	var candidates []string
	var refs []protocol.ParticipantRef
	for _, id := range s.order {
		p := s.participants[id]
		if p.Status != domain.StatusEliminated {
			continue
		}
		if seats > 0 && len(candidates) == seats {
			break
		}
		candidates = append(candidates, id)
		refs = append(refs, ref(*p))
	}
	if len(candidates) == 0 {
		return errNoCandidates
	}
	q, err := s.takeLocked(bank)
	if err != nil {
		return err
	}

	s.revival = &revivalRound{candidates: candidates, question: q, answers: make(map[string]domain.Answer)}
	s.info.Phase = domain.PhaseRevival
	limit := s.info.Settings.AnswerTimeLimitSeconds
	pq := public(q)
	s.broadcastLocked(protocol.TypeRevivalStart, protocol.RevivalStart{
		Candidates: refs,
		QuestionID: pq.ID,
		Question:   &pq,
		TimeLimit:  limit,
		Deadline:   protocol.Instant{Time: s.now().Add(time.Duration(limit) * time.Second)},
	})
	return nil
}

// expireRevival times out candidates that never answered and settles the round.
func (s *session) expireRevival() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revival == nil {
		return errBadPhase
	}
	s.resolveRevivalLocked()
	return nil
}

func (s *session) resolveRevivalLocked() {
	r := s.revival
	var timedOut []string
	var revived []protocol.ParticipantRef
	for _, id := range r.candidates {
		a, answered := r.answers[id]
		if !answered {
			timedOut = append(timedOut, id)
			continue
		}
		p, ok := s.participants[id]
		if ok && a.IsCorrect {
			p.Status = domain.StatusRevived
			revived = append(revived, ref(*p))
		}
	}
	if len(timedOut) > 0 {
		s.broadcastLocked(protocol.TypeRevivalTimeout, protocol.RevivalTimeout{UserIDs: timedOut})
	}
	if revived == nil {
		revived = []protocol.ParticipantRef{}
	}
	s.broadcastLocked(protocol.TypeRevivalResult, protocol.RevivalResult{Revived: revived})
	s.revival = nil
	s.info.Phase = domain.PhaseActive
}

func (s *session) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// dropSubscribers closes every push connection of the session.
func (s *session) dropSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *session) broadcast(t protocol.Type, data any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcastLocked(t, data)
}

// broadcastLocked fans a frame out to every connection. A connection whose
// buffer is full is cut off rather than allowed to block the session.
func (s *session) broadcastLocked(t protocol.Type, data any) {
	frame, err := protocol.Encode(t, s.info.ID, data, s.now())
	if err != nil {
		log.Error().Err(err).Str("type", string(t)).Msg("encode broadcast")
		return
	}
	for ch := range s.subscribers {
		select {
		case ch <- frame:
		default:
			delete(s.subscribers, ch)
			close(ch)
		}
	}
}

func (s *session) counts() (rest, push int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restAnswers, s.pushAnswers
}

func (s *session) participant(userID string) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// public strips the answer key before a question leaves the server.
func public(q domain.Question) domain.Question {
	out := q.Clone()
	out.CorrectAnswerIndex = nil
	return out
}

func ref(p domain.Participant) protocol.ParticipantRef {
	score, correct := p.Score, p.CorrectAnswerCount
	return protocol.ParticipantRef{
		UserID:             p.UserID,
		DisplayName:        p.DisplayName,
		Score:              &score,
		CorrectAnswerCount: &correct,
		JoinedAt:           protocol.Instant{Time: p.JoinedAt},
	}
}

func clonePtr(p *domain.Participant) *domain.Participant {
	c := *p
	return &c
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

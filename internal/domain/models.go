package domain

import (
	"encoding/json"
	"time"
)

// Phase is the top-level lifecycle state of a quiz session.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseRevival  Phase = "revival"
	PhaseFinished Phase = "finished"
)

// ParsePhase maps a server status string to a Phase. Unknown values report false.
func ParsePhase(raw string) (Phase, bool) {
	switch Phase(raw) {
	case PhaseWaiting, PhaseActive, PhaseRevival, PhaseFinished:
		return Phase(raw), true
	}
	return "", false
}

// ParticipantStatus is a participant's standing in the current round cycle.
type ParticipantStatus string

const (
	StatusActive     ParticipantStatus = "active"
	StatusEliminated ParticipantStatus = "eliminated"
	StatusRevived    ParticipantStatus = "revived"
)

// InPlay reports whether a participant with this status may answer the next question.
func (s ParticipantStatus) InPlay() bool {
	return s == StatusActive || s == StatusRevived
}

// OptionCount is the fixed number of answer options per question.
const OptionCount = 4

// SessionSettings are the moderator-chosen rules of a session.
type SessionSettings struct {
	AnswerTimeLimitSeconds int  `json:"timeLimit"`
	RevivalEnabled         bool `json:"revivalEnabled"`
	RevivalSeatCount       int  `json:"revivalCount"`
}

// Session is the client's snapshot of a quiz session.
type Session struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Phase            Phase           `json:"status"`
	CurrentRound     int             `json:"currentRound"`
	MaxParticipants  int             `json:"maxParticipants,omitempty"`
	ParticipantCount int             `json:"participantCount,omitempty"`
	Settings         SessionSettings `json:"settings"`
}

// Participant is one entry of the roster.
type Participant struct {
	UserID             string            `json:"userId"`
	DisplayName        string            `json:"displayName"`
	Status             ParticipantStatus `json:"status"`
	Score              int               `json:"score"`
	CorrectAnswerCount int               `json:"correctAnswers"`
	JoinedAt           time.Time         `json:"joinedAt"`
}

// Question is a multiple-choice question. CorrectAnswerIndex is only known
// after the question closes or for moderators.
type Question struct {
	ID                 string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	Round              int      `json:"round"`
	Category           string   `json:"category"`
	Difficulty         string   `json:"difficulty,omitempty"`
	CorrectAnswerIndex *int     `json:"correctAnswer,omitempty"`
}

// Clone returns a deep copy so snapshots never share option slices.
func (q Question) Clone() Question {
	out := q
	out.Options = append([]string(nil), q.Options...)
	if q.CorrectAnswerIndex != nil {
		idx := *q.CorrectAnswerIndex
		out.CorrectAnswerIndex = &idx
	}
	return out
}

// AnswerSubmission is what the client sends for one question.
type AnswerSubmission struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	ResponseTimeMs int64  `json:"responseTime"`
}

// Answer is the server's verdict on a submission.
type Answer struct {
	ID             string    `json:"id,omitempty"`
	QuestionID     string    `json:"questionId"`
	SelectedOption int       `json:"selectedOption"`
	ResponseTimeMs int64     `json:"responseTime"`
	IsCorrect      bool      `json:"isCorrect"`
	Score          *int      `json:"score,omitempty"`
	AnsweredAt     time.Time `json:"answeredAt,omitempty"`
}

// AnswerOutcome is the request-path response to a submission: the verdict, the
// participant record as the server now holds it, and, when the participant
// advances, the next question.
type AnswerOutcome struct {
	Answer       Answer       `json:"answer"`
	Participant  *Participant `json:"participant,omitempty"`
	NextQuestion *Question    `json:"nextQuestion,omitempty"`
	TimeLimit    int          `json:"timeLimit,omitempty"`
}

// UnmarshalJSON also accepts a bare Answer object, which older servers return.
func (o *AnswerOutcome) UnmarshalJSON(b []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	if _, wrapped := probe["answer"]; !wrapped {
		*o = AnswerOutcome{}
		return json.Unmarshal(b, &o.Answer)
	}
	type plain AnswerOutcome
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*o = AnswerOutcome(out)
	return nil
}

// RoundResult partitions the roster after a round closes.
type RoundResult struct {
	Round      int           `json:"round"`
	Survivors  []Participant `json:"survivors"`
	Eliminated []Participant `json:"eliminated"`
}

// RevivalState exists only while the session is in the revival phase.
type RevivalState struct {
	InProgress  bool          `json:"inProgress"`
	Candidates  []Participant `json:"candidates"`
	Revived     []Participant `json:"revived"`
	TimedOut    []string      `json:"timedOut"`
	QuestionID  string        `json:"questionId,omitempty"`
	Question    *Question     `json:"question,omitempty"`
	HasAnswered bool          `json:"hasAnswered"`
}

// IsCandidate reports whether userID may attempt the revival question.
func (r *RevivalState) IsCandidate(userID string) bool {
	for _, c := range r.Candidates {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

// RecordedEvent is one inbound push message as kept by the event journal.
type RecordedEvent struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"sessionId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	SentAt     time.Time       `json:"sentAt"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

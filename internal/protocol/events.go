package protocol

import (
	"encoding/json"
	"time"

	"quiz-sync-client/internal/domain"
)

// Type names an inbound or outbound push message.
type Type string

const (
	TypeQuestionStart    Type = "question_start"
	TypeQuestionEnd      Type = "question_end"
	TypeAnswerSubmitted  Type = "answer_submitted"
	TypeRoundResult      Type = "round_result"
	TypeParticipantJoin  Type = "participant_join"
	TypeParticipantLeave Type = "participant_leave"
	TypeSessionUpdate    Type = "session_update"
	TypeRevivalStart     Type = "revival_start"
	TypeRevivalResult    Type = "revival_result"
	TypeRevivalTimeout   Type = "revival_timeout"
	TypeError            Type = "error"
	TypePing             Type = "ping"
	TypePong             Type = "pong"

	// outbound only
	TypeAnswerSubmit Type = "answer_submit"
	TypeJoinSession  Type = "join_session"
)

// Event is one decoded inbound message. The set is closed: only types in this
// package implement it.
type Event interface {
	Type() Type
	event()
}

// ParticipantRef is a participant as it appears inside a push payload. Nil or
// zero fields were absent on the wire and must not overwrite held values.
type ParticipantRef struct {
	UserID             string  `json:"userId"`
	DisplayName        string  `json:"displayName"`
	Score              *int    `json:"score,omitempty"`
	CorrectAnswerCount *int    `json:"correctAnswers,omitempty"`
	JoinedAt           Instant `json:"joinedAt"`
}

// QuestionStart opens a question. Deadline is optional.
type QuestionStart struct {
	Question  domain.Question `json:"question"`
	TimeLimit int             `json:"timeLimit"`
	Deadline  Instant         `json:"deadline"`
}

type QuestionEnd struct {
	QuestionID    string `json:"questionId"`
	CorrectAnswer int    `json:"correctAnswer"`
}

// AnswerSubmitted is the server's broadcast of someone's submission. Display only.
type AnswerSubmitted struct {
	UserID string          `json:"userId"`
	Answer BroadcastAnswer `json:"answer"`
}

type BroadcastAnswer struct {
	QuestionID     string `json:"questionId"`
	SelectedOption int    `json:"selectedOption"`
	ResponseTimeMs int64  `json:"responseTime"`
	IsCorrect      *bool  `json:"isCorrect,omitempty"`
}

type RoundResult struct {
	Round      int              `json:"round"`
	Survivors  []ParticipantRef `json:"survivors"`
	Eliminated []ParticipantRef `json:"eliminated"`
}

type ParticipantJoin struct {
	ParticipantRef
}

type ParticipantLeave struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// SessionUpdate carries a phase change and/or counters. An empty Status leaves
// the phase alone.
type SessionUpdate struct {
	Status           string `json:"status"`
	CurrentRound     *int   `json:"currentRound,omitempty"`
	ParticipantCount *int   `json:"participantCount,omitempty"`
}

type RevivalStart struct {
	Candidates []ParticipantRef `json:"candidates"`
	QuestionID string           `json:"questionId,omitempty"`
	Question   *domain.Question `json:"question,omitempty"`
	TimeLimit  int              `json:"timeLimit"`
	Deadline   Instant          `json:"deadline"`
}

type RevivalResult struct {
	Revived []ParticipantRef `json:"revived"`
}

// RevivalTimeout lists candidates whose revival attempt expired unanswered.
type RevivalTimeout struct {
	UserIDs []string `json:"userIds"`
}

type ServerError struct {
	Message string `json:"error"`
}

type Ping struct{}

type Pong struct{}

func (QuestionStart) Type() Type    { return TypeQuestionStart }
func (QuestionEnd) Type() Type      { return TypeQuestionEnd }
func (AnswerSubmitted) Type() Type  { return TypeAnswerSubmitted }
func (RoundResult) Type() Type      { return TypeRoundResult }
func (ParticipantJoin) Type() Type  { return TypeParticipantJoin }
func (ParticipantLeave) Type() Type { return TypeParticipantLeave }
func (SessionUpdate) Type() Type    { return TypeSessionUpdate }
func (RevivalStart) Type() Type     { return TypeRevivalStart }
func (RevivalResult) Type() Type    { return TypeRevivalResult }
func (RevivalTimeout) Type() Type   { return TypeRevivalTimeout }
func (ServerError) Type() Type      { return TypeError }
func (Ping) Type() Type             { return TypePing }
func (Pong) Type() Type             { return TypePong }

func (QuestionStart) event()    {}
func (QuestionEnd) event()      {}
func (AnswerSubmitted) event()  {}
func (RoundResult) event()      {}
func (ParticipantJoin) event()  {}
func (ParticipantLeave) event() {}
func (SessionUpdate) event()    {}
func (RevivalStart) event()     {}
func (RevivalResult) event()    {}
func (RevivalTimeout) event()   {}
func (ServerError) event()      {}
func (Ping) event()             {}
func (Pong) event()             {}

// Message is a decoded frame: envelope metadata plus the typed event.
type Message struct {
	Type      Type
	SessionID string
	SentAt    time.Time
	Data      json.RawMessage
	Event     Event
}

package api

import (
	"context"
	"net/http"
	"time"

	"quiz-sync-client/internal/domain"
)

// SessionStatus is the lightweight status lookup.
type SessionStatus struct {
	SessionID       string `json:"sessionId"`
	Status          string `json:"status"`
	CurrentRound    int    `json:"currentRound"`
	ActiveCount     int    `json:"activeCount"`
	MaxParticipants int    `json:"maxParticipants"`
	TimeLimit       int    `json:"timeLimit"`
	RevivalEnabled  bool   `json:"revivalEnabled"`
}

// JoinResult is the server's record of a successful join.
type JoinResult struct {
	ParticipantID string    `json:"participantId"`
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	DisplayName   string    `json:"displayName"`
	Status        string    `json:"status"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// ControlAction is a moderator lifecycle command.
type ControlAction string

const (
	ActionStart  ControlAction = "start"
	ActionFinish ControlAction = "finish"
)

func (c *Client) SessionInfo(ctx context.Context, sessionID string) (domain.Session, error) {
	return lookup[domain.Session](ctx, c, sessionPath(sessionID, "/info"))
}

func (c *Client) SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	return lookup[SessionStatus](ctx, c, sessionPath(sessionID, "/status"))
}

func (c *Client) JoinSession(ctx context.Context, sessionID, displayName string) (JoinResult, error) {
	var out JoinResult
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/join"), map[string]string{"displayName": displayName}, &out)
	return out, err
}

func (c *Client) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return lookup[[]domain.Participant](ctx, c, sessionPath(sessionID, "/participants"))
}

func (c *Client) CurrentQuestion(ctx context.Context, sessionID string) (domain.Question, error) {
	return lookup[domain.Question](ctx, c, sessionPath(sessionID, "/current-question"))
}

// SubmitAnswer is never deduplicated or retried here; the caller owns that.
func (c *Client) SubmitAnswer(ctx context.Context, sessionID string, sub domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	var out domain.AnswerOutcome
	err := c.do(ctx, http.MethodPost, sessionPath(sessionID, "/answers"), sub, &out)
	return out, err
}

func (c *Client) ControlSession(ctx context.Context, sessionID string, action ControlAction) error {
	return c.do(ctx, http.MethodPut, adminPath(sessionID, "/control"), map[string]string{"action": string(action)}, nil)
}

func (c *Client) GenerateQuestion(ctx context.Context, sessionID string) (domain.Question, error) {
	var out domain.Question
	err := c.do(ctx, http.MethodPost, adminPath(sessionID, "/generate-question"), nil, &out)
	return out, err
}

func (c *Client) NextRound(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, adminPath(sessionID, "/next-round"), nil, nil)
}

// StartRevival opens a revival round. seats <= 0 leaves the count to the
// session's settings.
func (c *Client) StartRevival(ctx context.Context, sessionID string, seats int) error {
	var body any
	if seats > 0 {
		body = map[string]int{"count": seats}
	}
	return c.do(ctx, http.MethodPost, adminPath(sessionID, "/revival"), body, nil)
}

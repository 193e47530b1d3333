package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AnswerLedger records answered questions in Redis so a restarted client (or a
// second device for the same user) cannot answer twice.
type AnswerLedger struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnswerLedger(client *redis.Client, ttl time.Duration) *AnswerLedger {
	return &AnswerLedger{client: client, ttl: ttl}
}

// Claim sets the key only if absent and reports whether this call set it.
func (l *AnswerLedger) Claim(ctx context.Context, sessionID, userID, questionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(sessionID, userID, questionID), time.Now().UTC().Format(time.RFC3339Nano), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim answer: %w", err)
	}
	return ok, nil
}

func (l *AnswerLedger) Has(ctx context.Context, sessionID, userID, questionID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(sessionID, userID, questionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check answer: %w", err)
	}
	return n > 0, nil
}

func (l *AnswerLedger) key(sessionID, userID, questionID string) string {
	return "quiz:answered:" + sessionID + ":" + userID + ":" + questionID
}

package memory

import (
	"context"
	"sync"
	"time"
)

// AnswerLedger is an in-process implementation of app.AnswerLedger.
type AnswerLedger struct {
	ttl   time.Duration
	clock func() time.Time

	mu     sync.Mutex
	claims map[string]time.Time
}

// NewAnswerLedger keeps claims for ttl; zero keeps them forever.
func NewAnswerLedger(ttl time.Duration) *AnswerLedger {
	return &AnswerLedger{
		ttl:    ttl,
		clock:  time.Now,
		claims: make(map[string]time.Time),
	}
}

func ledgerKey(sessionID, userID, questionID string) string {
	return sessionID + "/" + userID + "/" + questionID
}

// Claim records the answer and reports whether it was the first one.
func (l *AnswerLedger) Claim(_ context.Context, sessionID, userID, questionID string) (bool, error) {
	key := ledgerKey(sessionID, userID, questionID)
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if at, ok := l.claims[key]; ok && (l.ttl <= 0 || now.Sub(at) < l.ttl) {
		return false, nil
	}
	l.claims[key] = now
	return true, nil
}

// Has reports whether an unexpired claim exists.
func (l *AnswerLedger) Has(_ context.Context, sessionID, userID, questionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.claims[ledgerKey(sessionID, userID, questionID)]
	if !ok {
		return false, nil
	}
	return l.ttl <= 0 || l.clock().Sub(at) < l.ttl, nil
}

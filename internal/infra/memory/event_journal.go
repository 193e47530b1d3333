package memory

import (
	"context"
	"sync"

	"quiz-sync-client/internal/domain"
)

// EventJournal keeps recorded events in process, per session.
type EventJournal struct {
	mu     sync.RWMutex
	nextID int64
	events map[string][]domain.RecordedEvent
}

func NewEventJournal() *EventJournal {
	return &EventJournal{events: make(map[string][]domain.RecordedEvent)}
}

func (j *EventJournal) Append(_ context.Context, ev domain.RecordedEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	ev.ID = j.nextID
	ev.Payload = append([]byte(nil), ev.Payload...)
	j.events[ev.SessionID] = append(j.events[ev.SessionID], ev)
	return nil
}

func (j *EventJournal) Events(_ context.Context, sessionID string) ([]domain.RecordedEvent, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]domain.RecordedEvent, len(j.events[sessionID]))
	copy(out, j.events[sessionID])
	return out, nil
}

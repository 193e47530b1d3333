package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-sync-client/internal/domain"
)

// EventJournal stores received push events in the session_events table.
type EventJournal struct {
	pool *pgxpool.Pool
}

func NewEventJournal(pool *pgxpool.Pool) *EventJournal {
	return &EventJournal{pool: pool}
}

func (j *EventJournal) Append(ctx context.Context, ev domain.RecordedEvent) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	var sentAt *time.Time
	if !ev.SentAt.IsZero() {
		t := ev.SentAt.UTC()
		sentAt = &t
	}
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := j.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, event_type, payload, sent_at, received_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.SessionID, ev.Type, payload, sentAt, receivedAt.UTC())
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns a session's events in insertion order.
func (j *EventJournal) Events(ctx context.Context, sessionID string) ([]domain.RecordedEvent, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id, session_id, event_type, payload, sent_at, received_at FROM session_events WHERE session_id=$1 ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []domain.RecordedEvent
	for rows.Next() {
		var (
			ev      domain.RecordedEvent
			payload []byte
			sentAt  sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Type, &payload, &sentAt, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		if sentAt.Valid {
			ev.SentAt = sentAt.Time
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return out, nil
}

package app

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
	"quiz-sync-client/internal/state"
)

// JournalReader lists recorded events for a session in arrival order.
type JournalReader interface {
	Events(ctx context.Context, sessionID string) ([]domain.RecordedEvent, error)
}

// ReplayReport summarizes an offline replay.
type ReplayReport struct {
	Applied  int
	Ignored  int
	Rejected int
	Final    state.Snapshot
}

// Replay re-applies a recorded session through a fresh store, as a spectator
// selfID would have seen it. The store starts from a waiting session so phase
// transitions apply.
func Replay(ctx context.Context, journal JournalReader, sessionID, selfID string) (ReplayReport, error) {
	events, err := journal.Events(ctx, sessionID)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("load journal: %w", err)
	}

	store := state.New(selfID, clockwork.NewFakeClock())
	store.SetSession(domain.Session{ID: sessionID, Phase: domain.PhaseWaiting})

	var report ReplayReport
	for _, rec := range events {
		ev, err := protocol.DecodeEvent(protocol.Type(rec.Type), rec.Payload)
		if err != nil {
			report.Rejected++
			log.Debug().Err(err).Int64("event_id", rec.ID).Msg("skipping recorded event")
			continue
		}
		if store.Apply(ev) {
			report.Applied++
		} else {
			report.Ignored++
		}
	}
	report.Final = store.Snapshot()
	return report, nil
}

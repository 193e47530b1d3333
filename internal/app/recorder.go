package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-sync-client/internal/domain"
	"quiz-sync-client/internal/protocol"
)

// EventSink stores recorded push events.
type EventSink interface {
	Append(ctx context.Context, ev domain.RecordedEvent) error
}

const (
	defaultRecorderBuffer = 256
	recorderWriteTimeout  = 5 * time.Second
)

// Recorder hands decoded events to an EventSink off the dispatch path. When the
// queue is full the event is dropped rather than stalling dispatch.
type Recorder struct {
	sink    EventSink
	clock   clockwork.Clock
	queue   chan domain.RecordedEvent
	dropped atomic.Int64
}

func NewRecorder(sink EventSink, buffer int, clock clockwork.Clock) *Recorder {
	if buffer <= 0 {
		buffer = defaultRecorderBuffer
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		sink:  sink,
		clock: clock,
		queue: make(chan domain.RecordedEvent, buffer),
	}
}

// Record enqueues msg without blocking.
func (r *Recorder) Record(sessionID string, msg *protocol.Message) {
	if msg.SessionID != "" {
		sessionID = msg.SessionID
	}
	ev := domain.RecordedEvent{
		SessionID:  sessionID,
		Type:       string(msg.Type),
		Payload:    append([]byte(nil), msg.Data...),
		SentAt:     msg.SentAt,
		ReceivedAt: r.clock.Now().UTC(),
	}
	select {
	case r.queue <- ev:
	default:
		n := r.dropped.Add(1)
		log.Warn().Str("type", ev.Type).Int64("dropped", n).Msg("event journal queue full")
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run writes queued events until ctx ends, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		case <-ctx.Done():
			r.flush(ctx)
			return nil
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.write(ctx, ev)
		default:
			return
		}
	}
}

// write outlives cancellation of ctx so events dequeued during shutdown still land.
func (r *Recorder) write(ctx context.Context, ev domain.RecordedEvent) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recorderWriteTimeout)
	defer cancel()
	if err := r.sink.Append(wctx, ev); err != nil {
		log.Error().Err(err).Str("type", ev.Type).Str("session_id", ev.SessionID).Msg("event journal append failed")
	}
}

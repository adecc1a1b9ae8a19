package eventstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/Nomoos/PrismQ-sub002/internal/dispatch"
	"github.com/Nomoos/PrismQ-sub002/internal/logfields"
)

// Sink adapts the audit store to the dispatcher's event interface. Appends
// run with a short deadline and failures are logged, never propagated; the
// audit trail must not fail a step that already committed.
type Sink struct {
	store *SQLiteStore
}

// NewSink wraps the audit store as a step-event sink.
func NewSink(store *SQLiteStore) *Sink {
	return &Sink{store: store}
}

// RecordStep implements dispatch.EventSink.
func (s *Sink) RecordStep(ev dispatch.StepEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.store.Append(ctx, StepRecord{
		StepID:    ev.StepID,
		StoryID:   ev.StoryID,
		Stage:     ev.Stage,
		Outcome:   ev.Outcome,
		FromStage: ev.From,
		ToStage:   ev.To,
		Detail:    ev.Detail,
	})
	if err != nil {
		slog.Warn("Failed to record step event",
			logfields.StepID(ev.StepID),
			logfields.StoryID(ev.StoryID),
			logfields.Error(err))
	}
}

package dispatch

// ResultKind classifies the outcome of one dispatcher step.
type ResultKind string

const (
	// ResultAdvanced means a story moved to its next stage.
	ResultAdvanced ResultKind = "advanced"
	// ResultNoWork means the stage had no candidate, or another worker won
	// the story while this step was running.
	ResultNoWork ResultKind = "nowork"
	// ResultAlreadyDone means the idempotency guard found the work for this
	// state already recorded; nothing changed.
	ResultAlreadyDone ResultKind = "already_done"
)

// Result reports a completed step. ArtifactID and ReviewID are zero when the
// step persisted nothing of that kind.
type Result struct {
	Kind       ResultKind
	StepID     string
	StoryID    int64
	From       string
	To         string
	ArtifactID int64
	ReviewID   int64
}

// StepEvent is the audit record handed to the event sink after each step.
type StepEvent struct {
	StepID  string
	StoryID int64
	Stage   string
	Outcome string
	From    string
	To      string
	Detail  string
}

// EventSink receives step events; implementations must not block the step.
type EventSink interface {
	RecordStep(ev StepEvent)
}

// NoopSink discards step events.
type NoopSink struct{}

func (NoopSink) RecordStep(StepEvent) {}

// MultiSink fans one step event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) RecordStep(ev StepEvent) {
	for _, s := range m {
		s.RecordStep(ev)
	}
}

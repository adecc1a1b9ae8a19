// Package metrics defines the observability hooks of the workflow engine.
// The core records through the Recorder interface; wiring Prometheus (or
// nothing at all) is a composition decision made at startup.
package metrics

import "time"

// Recorder defines observability hooks for dispatcher steps and backlog
// depth. All methods must be safe on the NoopRecorder so injection stays
// optional.
type Recorder interface {
	ObserveStepDuration(stage string, d time.Duration)
	IncStepAdvanced(stage string)
	IncStepNoWork(stage string)
	IncStepFailed(stage string, kind string)
	IncStepRetry(stage string)
	SetBacklog(stage string, n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not
// configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration) {}
func (NoopRecorder) IncStepAdvanced(string)                    {}
func (NoopRecorder) IncStepNoWork(string)                      {}
func (NoopRecorder) IncStepFailed(string, string)              {}
func (NoopRecorder) IncStepRetry(string)                       {}
func (NoopRecorder) SetBacklog(string, int)                    {}

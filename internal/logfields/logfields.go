package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyStoryID    = "story_id"
	KeyStage      = "stage"
	KeyFromStage  = "from_stage"
	KeyToStage    = "to_stage"
	KeyStepID     = "step_id"
	KeyVersion    = "version"
	KeyScore      = "score"
	KeyOutcome    = "outcome"
	KeyWorker     = "worker"
	KeyAttempt    = "attempt"
	KeyDurationMS = "duration_ms"
	KeyIdeaRef    = "idea_ref"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func StoryID(id int64) slog.Attr      { return slog.Int64(KeyStoryID, id) }
func Stage(name string) slog.Attr     { return slog.String(KeyStage, name) }
func FromStage(name string) slog.Attr { return slog.String(KeyFromStage, name) }
func ToStage(name string) slog.Attr   { return slog.String(KeyToStage, name) }
func StepID(id string) slog.Attr      { return slog.String(KeyStepID, id) }
func Version(v int) slog.Attr         { return slog.Int(KeyVersion, v) }
func Score(s int) slog.Attr           { return slog.Int(KeyScore, s) }
func Outcome(o string) slog.Attr      { return slog.String(KeyOutcome, o) }
func Worker(w string) slog.Attr       { return slog.String(KeyWorker, w) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func IdeaRef(ref string) slog.Attr    { return slog.String(KeyIdeaRef, ref) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

package stage

// ArtifactKind names the artifact family an outcome targets.
type ArtifactKind string

const (
	ArtifactTitle   ArtifactKind = "title"
	ArtifactContent ArtifactKind = "content"
)

// Severity grades a review finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Finding is a single issue a review processor reports alongside its score.
type Finding struct {
	Severity Severity
	Message  string
}

// Outcome is the closed set of results a processor can return.
type Outcome interface {
	isOutcome()
}

// ProducedArtifact is returned by generation stages: a new artifact version
// of the given kind is appended for the story.
type ProducedArtifact struct {
	Kind ArtifactKind
	Text string
}

// ProducedReview is returned by review stages: the review attaches to the
// story's latest artifact of the target kind, and the threshold rule decides
// the next stage.
type ProducedReview struct {
	Score    int
	Text     string
	Target   ArtifactKind
	Findings []Finding
}

// Decision is returned by stages whose only effect is a state change.
type Decision struct {
	NextStage string
}

// Failed signals a processor failure. Recoverable failures are retried by the
// driver loop; fatal ones leave the story in place, flagged for an operator.
type Failed struct {
	Recoverable bool
	Message     string
}

func (ProducedArtifact) isOutcome() {}
func (ProducedReview) isOutcome()   {}
func (Decision) isOutcome()         {}
func (Failed) isOutcome()           {}

// HasCritical reports whether any finding carries critical severity.
func (r ProducedReview) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

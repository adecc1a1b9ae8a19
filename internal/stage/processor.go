// Package stage defines the contract between the workflow core and the
// external stage processors. Processors are black boxes: they receive a
// read-only snapshot of their declared inputs and return an outcome; they
// never touch the repositories.
package stage

import (
	"context"

	"github.com/Nomoos/PrismQ-sub002/internal/store"
)

// InputSpec declares which inputs a processor needs assembled before Run.
type InputSpec struct {
	IdeaRef       bool // the story's opaque idea reference
	IdeaBody      bool // the idea body fetched through the idea source
	LatestTitle   bool // maximum-version title
	LatestContent bool // maximum-version content
}

// Inputs is the read-only snapshot handed to a processor. Fields the
// processor did not declare are zero.
type Inputs struct {
	Story         store.Story
	IdeaRef       string
	IdeaBody      string
	LatestTitle   *store.Artifact
	LatestContent *store.Artifact
}

// Processor implements one stage's generation or review logic.
type Processor interface {
	// RequiredInputs enumerates what the dispatcher must assemble.
	RequiredInputs() InputSpec
	// Run produces the stage outcome. It should honour ctx cancellation;
	// generation and review calls may be long-running.
	Run(ctx context.Context, in Inputs) (Outcome, error)
}

// Thresholder is an optional interface: review processors may override the
// stage manifest's pass threshold.
type Thresholder interface {
	PassThreshold() int
}

// DoneChecker is an optional interface: a processor may declare the work for
// the story's current state already done, making the step a no-op. Stages
// must be re-entrant after a crash; this is one half of that guard.
type DoneChecker interface {
	AlreadyDone(in Inputs) bool
}

// Package stagetest provides deterministic stub processors for tests and for
// dry runs of the pipeline without external generation or review services.
package stagetest

import (
	"context"
	"fmt"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	"github.com/Nomoos/PrismQ-sub002/internal/stage"
)

// Generator returns a fixed artifact text on every run.
type Generator struct {
	Kind   stage.ArtifactKind
	Text   string
	Inputs stage.InputSpec
}

func (g Generator) RequiredInputs() stage.InputSpec { return g.Inputs }

func (g Generator) Run(_ context.Context, _ stage.Inputs) (stage.Outcome, error) {
	return stage.ProducedArtifact{Kind: g.Kind, Text: g.Text}, nil
}

// Reviewer returns a fixed review on every run.
type Reviewer struct {
	Score     int
	Text      string
	Target    stage.ArtifactKind
	Findings  []stage.Finding
	Threshold int // 0 = no override
}

func (r Reviewer) RequiredInputs() stage.InputSpec {
	if r.Target == stage.ArtifactTitle {
		return stage.InputSpec{LatestTitle: true}
	}
	return stage.InputSpec{LatestContent: true}
}

func (r Reviewer) Run(_ context.Context, _ stage.Inputs) (stage.Outcome, error) {
	return stage.ProducedReview{Score: r.Score, Text: r.Text, Target: r.Target, Findings: r.Findings}, nil
}

// PassThreshold implements stage.Thresholder when a non-zero override is set.
func (r Reviewer) PassThreshold() int { return r.Threshold }

// Decider returns a fixed next-stage decision.
type Decider struct {
	NextStage string
}

func (Decider) RequiredInputs() stage.InputSpec { return stage.InputSpec{} }

func (d Decider) Run(_ context.Context, _ stage.Inputs) (stage.Outcome, error) {
	return stage.Decision{NextStage: d.NextStage}, nil
}

// Failer always fails, recoverably or not.
type Failer struct {
	Recoverable bool
	Message     string
}

func (Failer) RequiredInputs() stage.InputSpec { return stage.InputSpec{} }

func (f Failer) Run(_ context.Context, _ stage.Inputs) (stage.Outcome, error) {
	return stage.Failed{Recoverable: f.Recoverable, Message: f.Message}, nil
}

// EchoGenerator derives its text from the declared inputs, useful for
// exercising input assembly end to end.
type EchoGenerator struct {
	Kind stage.ArtifactKind
}

func (EchoGenerator) RequiredInputs() stage.InputSpec {
	return stage.InputSpec{IdeaRef: true, IdeaBody: true}
}

func (g EchoGenerator) Run(_ context.Context, in stage.Inputs) (stage.Outcome, error) {
	return stage.ProducedArtifact{
		Kind: g.Kind,
		Text: fmt.Sprintf("[%s] %s", in.IdeaRef, in.IdeaBody),
	}, nil
}

// RegisterDefaults binds a stub to every non-terminal stage in the catalog,
// passing reviews with the given score. Used by `step --stub` dry runs.
func RegisterDefaults(reg *stage.Registry, cat *catalog.Catalog, score int) error {
	for _, name := range cat.Stages() {
		m, _ := cat.Manifest(name)
		if m.Terminal() {
			continue
		}
		var p stage.Processor
		switch {
		case m.Review():
			target := stage.ArtifactContent
			if m.Kind == catalog.KindReviewTitle {
				target = stage.ArtifactTitle
			}
			p = Reviewer{Score: score, Text: "stub review", Target: target}
		case m.Decision():
			p = Decider{NextStage: m.Next[0]}
		case m.Kind == catalog.KindTitle:
			p = Generator{Kind: stage.ArtifactTitle, Text: "stub title"}
		default:
			p = Generator{Kind: stage.ArtifactContent, Text: "stub content"}
		}
		if err := reg.Register(name, p); err != nil {
			return err
		}
	}
	return nil
}

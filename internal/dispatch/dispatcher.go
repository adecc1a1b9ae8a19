// Package dispatch executes stage steps: pick a story, assemble inputs, run
// the stage's processor, persist the outcome, and advance the story's state
// through the transition validator. The dispatcher is the only component that
// mutates story state, and it is stage-agnostic: the graph lives in the
// catalog, the work in the processors.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
	"github.com/Nomoos/PrismQ-sub002/internal/idea"
	"github.com/Nomoos/PrismQ-sub002/internal/logfields"
	"github.com/Nomoos/PrismQ-sub002/internal/metrics"
	"github.com/Nomoos/PrismQ-sub002/internal/selector"
	"github.com/Nomoos/PrismQ-sub002/internal/stage"
	"github.com/Nomoos/PrismQ-sub002/internal/store"
)

// errLostRace aborts the unit of work when another worker advanced the story
// first; the step then reports NoWork.
var errLostRace = errors.New("story state changed by another worker")

// Dispatcher runs single transactional steps for stages.
type Dispatcher struct {
	cat              *catalog.Catalog
	st               *store.Store
	sel              *selector.Selector
	reg              *stage.Registry
	ideas            idea.Source
	defaultThreshold int
	recorder         metrics.Recorder
	sink             EventSink
}

// New creates a dispatcher. ideas may be nil when no registered processor
// declares IdeaBody. defaultThreshold applies to review stages whose manifest
// and processor declare none.
func New(cat *catalog.Catalog, st *store.Store, sel *selector.Selector, reg *stage.Registry, ideas idea.Source, defaultThreshold int) *Dispatcher {
	if defaultThreshold <= 0 || defaultThreshold > 100 {
		defaultThreshold = 75
	}
	return &Dispatcher{
		cat:              cat,
		st:               st,
		sel:              sel,
		reg:              reg,
		ideas:            ideas,
		defaultThreshold: defaultThreshold,
		recorder:         metrics.NoopRecorder{},
		sink:             NoopSink{},
	}
}

// SetRecorder injects a metrics recorder (optional).
func (d *Dispatcher) SetRecorder(r metrics.Recorder) {
	if r == nil {
		r = metrics.NoopRecorder{}
	}
	d.recorder = r
}

// SetEventSink injects a step-event sink (optional).
func (d *Dispatcher) SetEventSink(s EventSink) {
	if s == nil {
		s = NoopSink{}
	}
	d.sink = s
}

// Step processes the next story in the given stage, or reports NoWork.
//
// The read phase (selection, input assembly, the processor call) runs outside
// any write transaction so long-running processors never pin the store. The
// write phase persists the outcome and advances the state in one unit of
// work, guarded by a compare-and-set on the story state: if another worker
// advanced the story meanwhile, everything rolls back and the step reports
// NoWork.
func (d *Dispatcher) Step(ctx context.Context, stageName string) (Result, error) {
	stepID := uuid.NewString()
	started := time.Now()

	m, ok := d.cat.Manifest(stageName)
	if !ok {
		return Result{}, pqerrors.Newf(pqerrors.KindUnknownStage, "cannot dispatch unknown stage %q", stageName)
	}
	if m.Terminal() {
		// Terminal stages have no processors; by construction there is
		// nothing to do.
		return Result{Kind: ResultNoWork, StepID: stepID}, nil
	}
	proc, ok := d.reg.Lookup(stageName)
	if !ok {
		return Result{}, pqerrors.Newf(pqerrors.KindConfig, "no processor registered for stage %q", stageName)
	}

	pick, err := d.sel.Next(ctx, stageName)
	if err != nil {
		return Result{}, err
	}
	if pick == nil {
		return Result{Kind: ResultNoWork, StepID: stepID}, nil
	}
	story := pick.Story

	inputs, err := d.assembleInputs(ctx, story, proc.RequiredInputs())
	if err != nil {
		return Result{}, err
	}

	res, done, err := d.alreadyDone(ctx, inputs, m, proc, stepID)
	if err != nil {
		return Result{}, err
	}
	if done {
		d.emit(res, stageName, "idempotency guard")
		return res, nil
	}

	outcome, err := proc.Run(ctx, inputs)
	if err != nil {
		return Result{}, pqerrors.WrapRetryable(err, pqerrors.KindProcessorFailed, "processor run").
			WithContext("stage", stageName).
			WithContext("story_id", story.ID)
	}
	if f, isFailed := outcome.(stage.Failed); isFailed {
		pe := pqerrors.New(pqerrors.KindProcessorFailed, f.Message).
			WithContext("stage", stageName).
			WithContext("story_id", story.ID)
		pe.Retryable = f.Recoverable
		return Result{}, pe
	}

	res, err = d.persist(ctx, story, m, proc, outcome, stepID)
	if err != nil {
		return Result{}, err
	}

	d.recorder.ObserveStepDuration(stageName, time.Since(started))
	if res.Kind == ResultAdvanced {
		d.recorder.IncStepAdvanced(stageName)
		slog.Info("Story advanced",
			logfields.StepID(stepID),
			logfields.StoryID(res.StoryID),
			logfields.FromStage(res.From),
			logfields.ToStage(res.To),
			logfields.DurationMS(float64(time.Since(started).Milliseconds())))
	}
	d.emit(res, stageName, "")
	return res, nil
}

// assembleInputs reads the processor's declared inputs. A missing required
// input fails the step with missing_input.
func (d *Dispatcher) assembleInputs(ctx context.Context, story store.Story, spec stage.InputSpec) (stage.Inputs, error) {
	in := stage.Inputs{Story: story}

	if spec.IdeaRef || spec.IdeaBody {
		if story.IdeaRef == "" {
			return in, pqerrors.Newf(pqerrors.KindMissingInput, "story %d has no idea_ref", story.ID)
		}
		in.IdeaRef = story.IdeaRef
	}
	if spec.IdeaBody {
		if d.ideas == nil {
			return in, pqerrors.New(pqerrors.KindConfig, "processor requires idea body but no idea source is configured")
		}
		body, err := d.ideas.GetIdea(ctx, story.IdeaRef)
		if err != nil {
			if idea.IsNotFound(err) {
				return in, pqerrors.Newf(pqerrors.KindMissingInput, "idea %q not found for story %d", story.IdeaRef, story.ID)
			}
			return in, err
		}
		in.IdeaBody = body
	}
	if spec.LatestTitle {
		latest, err := d.st.Titles.FindLatestVersion(ctx, story.ID)
		if err != nil {
			return in, err
		}
		if latest == nil {
			return in, pqerrors.Newf(pqerrors.KindMissingInput, "story %d has no title", story.ID)
		}
		in.LatestTitle = latest
	}
	if spec.LatestContent {
		latest, err := d.st.Contents.FindLatestVersion(ctx, story.ID)
		if err != nil {
			return in, err
		}
		if latest == nil {
			return in, pqerrors.Newf(pqerrors.KindMissingInput, "story %d has no content", story.ID)
		}
		in.LatestContent = latest
	}
	return in, nil
}

// alreadyDone applies the idempotency guard. For a review stage the linked
// review counts as this state's work only when it was created after the
// story entered the state (updated_at marks the entry); an older link was
// set by an earlier review stage and must not stall the story. Processors
// may additionally declare their work done through DoneChecker.
func (d *Dispatcher) alreadyDone(ctx context.Context, in stage.Inputs, m catalog.Manifest, proc stage.Processor, stepID string) (Result, bool, error) {
	done := Result{Kind: ResultAlreadyDone, StepID: stepID, StoryID: in.Story.ID, From: in.Story.State}

	if m.Review() {
		target := in.LatestContent
		if m.Kind == catalog.KindReviewTitle {
			target = in.LatestTitle
		}
		if target != nil && target.ReviewID != nil {
			rev, err := d.st.Reviews.FindByID(ctx, *target.ReviewID)
			if err != nil {
				return Result{}, false, err
			}
			if rev.CreatedAt.After(in.Story.UpdatedAt) {
				return done, true, nil
			}
		}
	}
	if dc, ok := proc.(stage.DoneChecker); ok && dc.AlreadyDone(in) {
		return done, true, nil
	}
	return Result{}, false, nil
}

// persist writes the outcome and the state change in one unit of work.
func (d *Dispatcher) persist(ctx context.Context, story store.Story, m catalog.Manifest, proc stage.Processor, outcome stage.Outcome, stepID string) (Result, error) {
	res := Result{StepID: stepID, StoryID: story.ID, From: story.State}

	err := d.st.WithUnitOfWork(ctx, func(uow *store.UnitOfWork) error {
		nextStage := ""

		switch out := outcome.(type) {
		case stage.ProducedArtifact:
			repo, err := d.artifactRepo(uow, out.Kind)
			if err != nil {
				return err
			}
			latest, err := repo.FindLatestVersion(ctx, story.ID)
			if err != nil {
				return err
			}
			version := 0
			if latest != nil {
				version = latest.Version + 1
			}
			a := store.Artifact{StoryID: story.ID, Version: version, Text: out.Text}
			if err := repo.Insert(ctx, &a); err != nil {
				return err
			}
			res.ArtifactID = a.ID
			nextStage = d.staticNext(m)

		case stage.ProducedReview:
			repo, err := d.artifactRepo(uow, out.Target)
			if err != nil {
				return err
			}
			target, err := repo.FindLatestVersion(ctx, story.ID)
			if err != nil {
				return err
			}
			if target == nil {
				return pqerrors.Newf(pqerrors.KindMissingInput, "story %d has no %s to review", story.ID, out.Target)
			}
			review := store.Review{Text: out.Text, Score: out.Score}
			if err := uow.Reviews.Insert(ctx, &review); err != nil {
				return err
			}
			// An artifact links at most one review; when an earlier stage
			// already claimed the link, this review stands unlinked and the
			// threshold rule still decides the transition.
			if target.ReviewID == nil {
				if err := repo.SetReviewID(ctx, target.ID, review.ID); err != nil {
					return err
				}
			}
			res.ReviewID = review.ID
			nextStage = d.reviewNext(m, proc, out)

		case stage.Decision:
			if !m.Decision() {
				return pqerrors.Newf(pqerrors.KindInternal, "stage %q is not a decision stage but returned a decision", m.Name)
			}
			nextStage = out.NextStage

		default:
			return pqerrors.Newf(pqerrors.KindInternal, "stage %q returned unsupported outcome %T", m.Name, outcome)
		}

		if nextStage == "" {
			return pqerrors.Newf(pqerrors.KindConfig, "stage %q has no next stage declared", m.Name)
		}

		// Compare-and-set guards against a concurrent advance; the validator
		// inside rejects illegal transitions before the attempt.
		won, err := uow.Stories.UpdateStateCAS(ctx, story.ID, story.State, nextStage)
		if err != nil {
			return err
		}
		if !won {
			return errLostRace
		}
		res.To = nextStage
		return nil
	})

	if errors.Is(err, errLostRace) {
		return Result{Kind: ResultNoWork, StepID: stepID, StoryID: story.ID, From: story.State}, nil
	}
	if err != nil {
		return Result{}, err
	}
	res.Kind = ResultAdvanced
	return res, nil
}

func (d *Dispatcher) artifactRepo(uow *store.UnitOfWork, kind stage.ArtifactKind) (*store.ArtifactRepo, error) {
	switch kind {
	case stage.ArtifactTitle:
		return uow.Titles, nil
	case stage.ArtifactContent:
		return uow.Contents, nil
	default:
		return nil, pqerrors.Newf(pqerrors.KindInternal, "unsupported artifact kind %q", kind)
	}
}

// staticNext is the manifest-declared successor for generation stages.
func (d *Dispatcher) staticNext(m catalog.Manifest) string {
	if len(m.Next) == 0 {
		return ""
	}
	return m.Next[0]
}

// reviewNext applies the threshold rule. The threshold comes from the
// processor override when positive, else the manifest, else the configured
// default. Stages that block on critical findings refuse to pass regardless
// of score.
func (d *Dispatcher) reviewNext(m catalog.Manifest, proc stage.Processor, out stage.ProducedReview) string {
	threshold := m.PassThreshold
	if th, ok := proc.(stage.Thresholder); ok && th.PassThreshold() > 0 {
		threshold = th.PassThreshold()
	}
	if threshold <= 0 {
		threshold = d.defaultThreshold
	}

	pass := out.Score >= threshold
	if m.BlockOnCritical && out.HasCritical() {
		pass = false
	}
	if pass {
		return m.Pass
	}
	return m.Fail
}

func (d *Dispatcher) emit(res Result, stageName, detail string) {
	d.sink.RecordStep(StepEvent{
		StepID:  res.StepID,
		StoryID: res.StoryID,
		Stage:   stageName,
		Outcome: string(res.Kind),
		From:    res.From,
		To:      res.To,
		Detail:  detail,
	})
}

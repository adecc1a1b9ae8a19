package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
	"github.com/Nomoos/PrismQ-sub002/internal/idea"
	"github.com/Nomoos/PrismQ-sub002/internal/selector"
	"github.com/Nomoos/PrismQ-sub002/internal/stage"
	"github.com/Nomoos/PrismQ-sub002/internal/stage/stagetest"
	"github.com/Nomoos/PrismQ-sub002/internal/store"
	"github.com/Nomoos/PrismQ-sub002/internal/transition"
)

// engine bundles the wired components a dispatcher test needs.
type engine struct {
	cat   *catalog.Catalog
	st    *store.Store
	reg   *stage.Registry
	ideas *idea.MemorySource
	d     *Dispatcher
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	cat := catalog.Default()
	validator := transition.NewValidator(cat)
	st, err := store.Open(":memory:", validator)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := stage.NewRegistry(cat)
	ideas := idea.NewMemorySource(nil)
	sel := selector.New(cat, st.Stories)
	return &engine{
		cat:   cat,
		st:    st,
		reg:   reg,
		ideas: ideas,
		d:     New(cat, st, sel, reg, ideas, 75),
	}
}

func (e *engine) seedStory(t *testing.T, ideaRef, state string) store.Story {
	t.Helper()
	s := store.Story{IdeaRef: ideaRef, State: state}
	require.NoError(t, e.st.Stories.Insert(t.Context(), &s))
	return s
}

func (e *engine) seedContent(t *testing.T, storyID int64, version int, text string) store.Artifact {
	t.Helper()
	a := store.Artifact{StoryID: storyID, Version: version, Text: text}
	require.NoError(t, e.st.Contents.Insert(t.Context(), &a))
	return a
}

func (e *engine) seedTitle(t *testing.T, storyID int64, version int, text string) store.Artifact {
	t.Helper()
	a := store.Artifact{StoryID: storyID, Version: version, Text: text}
	require.NoError(t, e.st.Titles.Insert(t.Context(), &a))
	return a
}

// funcProcessor adapts a closure, letting tests inject side effects between
// selection and persistence.
type funcProcessor struct {
	inputs stage.InputSpec
	run    func(ctx context.Context, in stage.Inputs) (stage.Outcome, error)
}

func (p funcProcessor) RequiredInputs() stage.InputSpec { return p.inputs }
func (p funcProcessor) Run(ctx context.Context, in stage.Inputs) (stage.Outcome, error) {
	return p.run(ctx, in)
}

func TestStepGeneratesFirstTitle(t *testing.T) {
	e := newEngine(t)
	e.ideas.Put("idea-1", "A lighthouse keeper who collects storms")
	require.NoError(t, e.reg.Register(catalog.StageTitleFromIdea, stagetest.EchoGenerator{Kind: stage.ArtifactTitle}))

	s := e.seedStory(t, "idea-1", catalog.StageTitleFromIdea)

	res, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.NoError(t, err)
	assert.Equal(t, ResultAdvanced, res.Kind)
	assert.Equal(t, s.ID, res.StoryID)
	assert.Equal(t, catalog.StageTitleFromIdea, res.From)
	assert.Equal(t, catalog.StageScriptFromIdea, res.To)
	assert.NotEmpty(t, res.StepID)

	updated, err := e.st.Stories.FindByID(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageScriptFromIdea, updated.State)

	title, err := e.st.Titles.FindLatestVersion(t.Context(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, title)
	assert.Equal(t, 0, title.Version)
	assert.Equal(t, "[idea-1] A lighthouse keeper who collects storms", title.Text)
}

func TestStepGenerationAppendsNextVersion(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageScriptRefineGrammar,
		stagetest.Generator{Kind: stage.ArtifactContent, Text: "refined draft"}))

	s := e.seedStory(t, "idea-1", catalog.StageScriptRefineGrammar)
	e.seedContent(t, s.ID, 0, "first draft")

	res, err := e.d.Step(t.Context(), catalog.StageScriptRefineGrammar)
	require.NoError(t, err)
	assert.Equal(t, ResultAdvanced, res.Kind)
	assert.Equal(t, catalog.StageReviewScriptGrammar, res.To)

	latest, err := e.st.Contents.FindLatestVersion(t.Context(), s.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1, latest.Version)
	assert.Equal(t, "refined draft", latest.Text)
}

func TestStepReviewPass(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptGrammar,
		stagetest.Reviewer{Score: 85, Text: "clean grammar", Target: stage.ArtifactContent}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewScriptGrammar)
	content := e.seedContent(t, s.ID, 0, "draft script")

	res, err := e.d.Step(t.Context(), catalog.StageReviewScriptGrammar)
	require.NoError(t, err)
	assert.Equal(t, ResultAdvanced, res.Kind)
	assert.Equal(t, catalog.StageReviewScriptTone, res.To)
	assert.NotZero(t, res.ReviewID)

	reviewed, err := e.st.Contents.FindByID(t.Context(), content.ID)
	require.NoError(t, err)
	require.NotNil(t, reviewed.ReviewID)
	assert.Equal(t, res.ReviewID, *reviewed.ReviewID)

	review, err := e.st.Reviews.FindByID(t.Context(), res.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, 85, review.Score)
	assert.Equal(t, "clean grammar", review.Text)
}

func TestStepReviewFailBelowThreshold(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptGrammar,
		stagetest.Reviewer{Score: 60, Text: "tense drift throughout", Target: stage.ArtifactContent}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewScriptGrammar)
	e.seedContent(t, s.ID, 0, "draft script")

	res, err := e.d.Step(t.Context(), catalog.StageReviewScriptGrammar)
	require.NoError(t, err)
	assert.Equal(t, ResultAdvanced, res.Kind)
	assert.Equal(t, catalog.StageScriptRefineGrammar, res.To)

	updated, err := e.st.Stories.FindByID(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageScriptRefineGrammar, updated.State)
}

func TestStepReviewCriticalBlocksPass(t *testing.T) {
	e := newEngine(t)
	// Grammar blocks on critical findings; a high score alone must not pass.
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptGrammar,
		stagetest.Reviewer{
			Score:  95,
			Text:   "excellent except for one broken sentence",
			Target: stage.ArtifactContent,
			Findings: []stage.Finding{
				{Severity: stage.SeverityCritical, Message: "sentence fragment in closing paragraph"},
			},
		}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewScriptGrammar)
	e.seedContent(t, s.ID, 0, "draft script")

	res, err := e.d.Step(t.Context(), catalog.StageReviewScriptGrammar)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageScriptRefineGrammar, res.To)
}

func TestStepReviewCriticalIgnoredWithoutBlockFlag(t *testing.T) {
	e := newEngine(t)
	// Tone does not block on critical findings; score decides alone.
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptTone,
		stagetest.Reviewer{
			Score:  90,
			Text:   "confident voice",
			Target: stage.ArtifactContent,
			Findings: []stage.Finding{
				{Severity: stage.SeverityCritical, Message: "abrupt register shift"},
			},
		}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewScriptTone)
	e.seedContent(t, s.ID, 0, "draft script")

	res, err := e.d.Step(t.Context(), catalog.StageReviewScriptTone)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageReviewTitleClarity, res.To)
}

func TestStepReviewThresholdOverride(t *testing.T) {
	e := newEngine(t)
	// Manifest threshold for Tone is 75; the processor lowers it to 70 so a
	// score of 72 passes.
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptTone,
		stagetest.Reviewer{Score: 72, Text: "adequate", Target: stage.ArtifactContent, Threshold: 70}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewScriptTone)
	e.seedContent(t, s.ID, 0, "draft script")

	res, err := e.d.Step(t.Context(), catalog.StageReviewScriptTone)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageReviewTitleClarity, res.To)
}

func TestStepTitleReviewTargetsTitle(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageReviewTitleClarity,
		stagetest.Reviewer{Score: 88, Text: "unambiguous", Target: stage.ArtifactTitle}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewTitleClarity)
	title := e.seedTitle(t, s.ID, 0, "The Storm Collector")
	e.seedContent(t, s.ID, 0, "draft script")

	res, err := e.d.Step(t.Context(), catalog.StageReviewTitleClarity)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageStoryReviewExpert, res.To)

	reviewed, err := e.st.Titles.FindByID(t.Context(), title.ID)
	require.NoError(t, err)
	require.NotNil(t, reviewed.ReviewID)

	// The content row is untouched.
	content, err := e.st.Contents.FindLatestVersion(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Nil(t, content.ReviewID)
}

func TestStepDecision(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageStoryReviewExpert,
		stagetest.Decider{NextStage: catalog.StagePublishing}))

	s := e.seedStory(t, "idea-1", catalog.StageStoryReviewExpert)

	res, err := e.d.Step(t.Context(), catalog.StageStoryReviewExpert)
	require.NoError(t, err)
	assert.Equal(t, ResultAdvanced, res.Kind)
	assert.Equal(t, catalog.StagePublishing, res.To)

	updated, err := e.st.Stories.FindByID(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StagePublishing, updated.State)
}

func TestStepDecisionToPolishLoop(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageStoryReviewExpert,
		stagetest.Decider{NextStage: catalog.StageStoryPolish}))

	e.seedStory(t, "idea-1", catalog.StageStoryReviewExpert)

	res, err := e.d.Step(t.Context(), catalog.StageStoryReviewExpert)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageStoryPolish, res.To)
}

func TestStepDecisionIllegalNextStage(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageStoryReviewExpert,
		stagetest.Decider{NextStage: catalog.StageTitleFromIdea}))

	s := e.seedStory(t, "idea-1", catalog.StageStoryReviewExpert)

	_, err := e.d.Step(t.Context(), catalog.StageStoryReviewExpert)
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindIllegalTransition))

	// The rejected decision leaves the story in place.
	updated, findErr := e.st.Stories.FindByID(t.Context(), s.ID)
	require.NoError(t, findErr)
	assert.Equal(t, catalog.StageStoryReviewExpert, updated.State)
}

func TestStepNoWorkOnEmptyStage(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageTitleFromIdea,
		stagetest.Generator{Kind: stage.ArtifactTitle, Text: "unused"}))

	res, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.NoError(t, err)
	assert.Equal(t, ResultNoWork, res.Kind)
}

func TestStepTerminalStageIsNoWork(t *testing.T) {
	e := newEngine(t)
	e.seedStory(t, "idea-1", catalog.StagePublishing)

	res, err := e.d.Step(t.Context(), catalog.StagePublishing)
	require.NoError(t, err)
	assert.Equal(t, ResultNoWork, res.Kind)
}

func TestStepUnknownStage(t *testing.T) {
	e := newEngine(t)

	_, err := e.d.Step(t.Context(), "Script.Imaginary.Stage")
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindUnknownStage))
}

func TestStepUnregisteredProcessor(t *testing.T) {
	e := newEngine(t)
	e.seedStory(t, "idea-1", catalog.StageTitleFromIdea)

	_, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindConfig))
}

func TestStepMissingIdeaBody(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageTitleFromIdea, stagetest.EchoGenerator{Kind: stage.ArtifactTitle}))

	// The story references an idea the source does not hold.
	e.seedStory(t, "idea-ghost", catalog.StageTitleFromIdea)

	_, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindMissingInput))
}

func TestStepMissingContentInput(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptGrammar,
		stagetest.Reviewer{Score: 80, Text: "x", Target: stage.ArtifactContent}))

	// In-stage story with no content artifact at all.
	e.seedStory(t, "idea-1", catalog.StageReviewScriptGrammar)

	_, err := e.d.Step(t.Context(), catalog.StageReviewScriptGrammar)
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindMissingInput))
}

func TestStepAlreadyDoneReviewGuard(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageReviewScriptGrammar,
		stagetest.Reviewer{Score: 80, Text: "x", Target: stage.ArtifactContent}))

	s := e.seedStory(t, "idea-1", catalog.StageReviewScriptGrammar)
	content := e.seedContent(t, s.ID, 0, "draft script")

	// A prior crashed step persisted the review but not the state change.
	review := store.Review{Text: "earlier pass", Score: 90}
	require.NoError(t, e.st.Reviews.Insert(t.Context(), &review))
	require.NoError(t, e.st.Contents.SetReviewID(t.Context(), content.ID, review.ID))

	res, err := e.d.Step(t.Context(), catalog.StageReviewScriptGrammar)
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyDone, res.Kind)
	assert.Equal(t, s.ID, res.StoryID)

	// No second review appeared.
	latest, err := e.st.Contents.FindLatestVersion(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, review.ID, *latest.ReviewID)
}

func TestStepProcessorRecoverableFailure(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageTitleFromIdea,
		stagetest.Failer{Recoverable: true, Message: "generation service timeout"}))

	s := e.seedStory(t, "idea-1", catalog.StageTitleFromIdea)

	_, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindProcessorFailed))
	assert.True(t, pqerrors.IsRetryable(err))

	// The story stays put for a later retry.
	updated, findErr := e.st.Stories.FindByID(t.Context(), s.ID)
	require.NoError(t, findErr)
	assert.Equal(t, catalog.StageTitleFromIdea, updated.State)
}

func TestStepProcessorFatalFailure(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageTitleFromIdea,
		stagetest.Failer{Recoverable: false, Message: "idea violates content policy"}))

	e.seedStory(t, "idea-1", catalog.StageTitleFromIdea)

	_, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.Error(t, err)
	assert.True(t, pqerrors.IsKind(err, pqerrors.KindProcessorFailed))
	assert.False(t, pqerrors.IsRetryable(err))
}

func TestStepLostRaceRollsBackEverything(t *testing.T) {
	e := newEngine(t)

	var s store.Story
	// The processor simulates a concurrent worker advancing the story while
	// this step's generation is in flight.
	require.NoError(t, e.reg.Register(catalog.StageTitleFromIdea, funcProcessor{
		run: func(ctx context.Context, in stage.Inputs) (stage.Outcome, error) {
			won, err := e.st.Stories.UpdateStateCAS(ctx, in.Story.ID, in.Story.State, catalog.StageScriptFromIdea)
			if err != nil {
				return nil, err
			}
			if !won {
				return nil, context.Canceled
			}
			return stage.ProducedArtifact{Kind: stage.ArtifactTitle, Text: "late title"}, nil
		},
	}))

	s = e.seedStory(t, "idea-1", catalog.StageTitleFromIdea)

	res, err := e.d.Step(t.Context(), catalog.StageTitleFromIdea)
	require.NoError(t, err)
	assert.Equal(t, ResultNoWork, res.Kind)

	// The losing step persisted nothing: no title row survives the rollback.
	titles, err := e.st.Titles.FindVersions(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Empty(t, titles)

	// The concurrent winner's state change stands.
	updated, err := e.st.Stories.FindByID(t.Context(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, catalog.StageScriptFromIdea, updated.State)
}

func TestStepEmitsEvents(t *testing.T) {
	e := newEngine(t)
	require.NoError(t, e.reg.Register(catalog.StageStoryReviewExpert,
		stagetest.Decider{NextStage: catalog.StagePublishing}))

	var events []StepEvent
	e.d.SetEventSink(sinkFunc(func(ev StepEvent) { events = append(events, ev) }))

	s := e.seedStory(t, "idea-1", catalog.StageStoryReviewExpert)

	_, err := e.d.Step(t.Context(), catalog.StageStoryReviewExpert)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, s.ID, events[0].StoryID)
	assert.Equal(t, catalog.StageStoryReviewExpert, events[0].Stage)
	assert.Equal(t, string(ResultAdvanced), events[0].Outcome)
	assert.Equal(t, catalog.StagePublishing, events[0].To)
}

// sinkFunc adapts a closure to EventSink.
type sinkFunc func(StepEvent)

func (f sinkFunc) RecordStep(ev StepEvent) { f(ev) }

// Package catalog is the single source of truth for workflow stage names, the
// transition graph, and per-stage manifest data (kinds, review targets,
// thresholds). No other package enumerates stages.
package catalog

// Stage name constants. Names are opaque dotted strings everywhere else; the
// constants exist so tests and seeding code do not scatter literals.
const (
	StageTitleFromIdea       = "Title.From.Idea"
	StageScriptFromIdea      = "Script.From.Idea.Title"
	StageReviewScriptGrammar = "Review.Script.Grammar"
	StageScriptRefineGrammar = "Script.Refine.Grammar"
	StageReviewScriptTone    = "Review.Script.Tone"
	StageScriptRefineTone    = "Script.Refine.Tone"
	StageReviewTitleClarity  = "Review.Title.Clarity"
	StageTitleRefineClarity  = "Title.Refine.Clarity"
	StageStoryReviewExpert   = "Story.Review.Expert"
	StageStoryPolish         = "Story.Polish"
	StagePublishing          = "Publishing"
)

// Manifest describes one stage: its module kind, successor set, and, for
// review stages, the pass/fail targets and threshold. Thresholds live here
// rather than in code so per-stage overrides are data, not constants.
type Manifest struct {
	Name            string
	Kind            Kind
	Next            []string // permitted successor stages; empty means terminal
	Pass            string   // review stages: target when score passes
	Fail            string   // review stages: target when score fails
	PassThreshold   int      // 0 means use the configured default
	BlockOnCritical bool     // refuse to pass on any CRITICAL finding regardless of score
	Initial         bool     // stories are created in this stage
}

// Terminal reports whether the stage has no successors.
func (m Manifest) Terminal() bool { return len(m.Next) == 0 }

// Review reports whether the stage records a Review and applies the threshold rule.
func (m Manifest) Review() bool { return m.Kind == KindReviewTitle || m.Kind == KindReviewScript }

// Decision reports whether the stage's Processor returns the next stage itself.
func (m Manifest) Decision() bool { return m.Kind == KindDecision }

// Catalog holds the fixed, closed stage graph.
type Catalog struct {
	stages map[string]Manifest
	order  []string
}

// New builds a catalog from manifests. Order is preserved for listing.
func New(manifests []Manifest) *Catalog {
	c := &Catalog{stages: make(map[string]Manifest, len(manifests))}
	for _, m := range manifests {
		if _, dup := c.stages[m.Name]; dup {
			continue
		}
		c.stages[m.Name] = m
		c.order = append(c.order, m.Name)
	}
	return c
}

// Default returns the production stage graph. The graph is a DAG except for
// the explicit refinement and polish loops.
func Default() *Catalog {
	return New([]Manifest{
		{Name: StageTitleFromIdea, Kind: KindTitle, Initial: true,
			Next: []string{StageScriptFromIdea}},
		{Name: StageScriptFromIdea, Kind: KindScript,
			Next: []string{StageReviewScriptGrammar}},
		{Name: StageReviewScriptGrammar, Kind: KindReviewScript,
			Next:          []string{StageReviewScriptTone, StageScriptRefineGrammar},
			Pass:          StageReviewScriptTone,
			Fail:          StageScriptRefineGrammar,
			PassThreshold: 70, BlockOnCritical: true},
		{Name: StageScriptRefineGrammar, Kind: KindScript,
			Next: []string{StageReviewScriptGrammar}},
		{Name: StageReviewScriptTone, Kind: KindReviewScript,
			Next:          []string{StageReviewTitleClarity, StageScriptRefineTone},
			Pass:          StageReviewTitleClarity,
			Fail:          StageScriptRefineTone,
			PassThreshold: 75},
		{Name: StageScriptRefineTone, Kind: KindScript,
			Next: []string{StageReviewScriptTone}},
		{Name: StageReviewTitleClarity, Kind: KindReviewTitle,
			Next:          []string{StageStoryReviewExpert, StageTitleRefineClarity},
			Pass:          StageStoryReviewExpert,
			Fail:          StageTitleRefineClarity,
			PassThreshold: 80},
		{Name: StageTitleRefineClarity, Kind: KindTitle,
			Next: []string{StageReviewTitleClarity}},
		{Name: StageStoryReviewExpert, Kind: KindDecision,
			Next:          []string{StagePublishing, StageStoryPolish},
			PassThreshold: 85},
		{Name: StageStoryPolish, Kind: KindStory,
			Next: []string{StageStoryReviewExpert}},
		{Name: StagePublishing, Kind: KindStory},
	})
}

// Known reports whether name is a catalog stage.
func (c *Catalog) Known(name string) bool {
	_, ok := c.stages[name]
	return ok
}

// Manifest returns the manifest for a stage name.
func (c *Catalog) Manifest(name string) (Manifest, bool) {
	m, ok := c.stages[name]
	return m, ok
}

// Stages returns all stage names in declaration order.
func (c *Catalog) Stages() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// NextStates returns the stored successor set; empty for unknown or terminal stages.
func (c *Catalog) NextStates(name string) []string {
	m, ok := c.stages[name]
	if !ok || len(m.Next) == 0 {
		return nil
	}
	out := make([]string, len(m.Next))
	copy(out, m.Next)
	return out
}

// InitialStages returns the designated entry stages.
func (c *Catalog) InitialStages() []string {
	var out []string
	for _, name := range c.order {
		if c.stages[name].Initial {
			out = append(out, name)
		}
	}
	return out
}

// TerminalStages returns stages with an empty successor set.
func (c *Catalog) TerminalStages() []string {
	var out []string
	for _, name := range c.order {
		if c.stages[name].Terminal() {
			out = append(out, name)
		}
	}
	return out
}

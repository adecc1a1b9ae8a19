// Package selector implements work selection: for a given stage, pick the
// single Story to process next under a deterministic priority policy. The
// selector only reads; it never mutates state.
package selector

import (
	"context"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
	"github.com/Nomoos/PrismQ-sub002/internal/store"
)

// Pick is a selected Story with the diagnostic context the policy derived it
// from.
type Pick struct {
	Story       store.Story
	Stage       string
	WorkVersion int
	StoryScore  float64
}

// Selector applies the selection policy over the store's candidate reads.
type Selector struct {
	cat     *catalog.Catalog
	stories *store.StoryRepo
}

// New creates a selector over the given catalog and story repository.
func New(cat *catalog.Catalog, stories *store.StoryRepo) *Selector {
	return &Selector{cat: cat, stories: stories}
}

// Next returns the Story to process next in the stage, or nil when the stage
// has no candidates. The policy, in order of precedence: lowest work-version
// bucket, highest story score, oldest created_at, lowest id. Given a fixed
// store snapshot the same Story wins on every call.
func (s *Selector) Next(ctx context.Context, stage string) (*Pick, error) {
	return s.pick(ctx, s.stories, stage)
}

// NextIn is Next running against the repositories of an open unit of work.
func (s *Selector) NextIn(ctx context.Context, stories *store.StoryRepo, stage string) (*Pick, error) {
	return s.pick(ctx, stories, stage)
}

// Preview returns the same pick as Next with its diagnostics, holding nothing
// beyond the read.
func (s *Selector) Preview(ctx context.Context, stage string) (*Pick, error) {
	return s.Next(ctx, stage)
}

func (s *Selector) pick(ctx context.Context, stories *store.StoryRepo, stage string) (*Pick, error) {
	candidates, err := stories.CandidatesByState(ctx, stage)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	src := s.versionSource(stage)

	best := candidates[0]
	bestVersion := workVersion(best, src)
	bestScore := storyScore(best)
	for _, c := range candidates[1:] {
		v := workVersion(c, src)
		score := storyScore(c)
		if better(c, v, score, best, bestVersion, bestScore) {
			best, bestVersion, bestScore = c, v, score
		}
	}

	return &Pick{
		Story:       best.Story,
		Stage:       stage,
		WorkVersion: bestVersion,
		StoryScore:  bestScore,
	}, nil
}

func (s *Selector) versionSource(stage string) catalog.VersionSource {
	m, ok := s.cat.Manifest(stage)
	if !ok {
		// Unknown stage kinds bucket on both families.
		return catalog.VersionsBoth
	}
	return m.Kind.WorkVersionSource()
}

// better reports whether candidate c beats the incumbent under the policy.
// Candidates arrive ordered by (created_at, id), so on full ties the
// incumbent, being earlier, wins.
func better(c store.Candidate, v int, score float64, inc store.Candidate, incV int, incScore float64) bool {
	if v != incV {
		return v < incV
	}
	if score != incScore {
		return score > incScore
	}
	if !c.Story.CreatedAt.Equal(inc.Story.CreatedAt) {
		return c.Story.CreatedAt.Before(inc.Story.CreatedAt)
	}
	return c.Story.ID < inc.Story.ID
}

// workVersion derives the bucket for a candidate from the stage's version
// source. Versions are 0 when no artifact exists.
func workVersion(c store.Candidate, src catalog.VersionSource) int {
	switch src {
	case catalog.VersionsContent:
		return c.MaxContentVersion
	case catalog.VersionsTitle:
		return c.MaxTitleVersion
	default:
		return max(c.MaxTitleVersion, c.MaxContentVersion)
	}
}

// storyScore is the mean of the latest-title and latest-content review
// scores; missing reviews contribute 0, deliberately favouring stories with
// full review coverage.
func storyScore(c store.Candidate) float64 {
	return (float64(c.LatestTitleScore) + float64(c.LatestContentScore)) / 2
}

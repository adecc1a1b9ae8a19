package store

import "time"

// Story is the unit of work progressing through the pipeline. State is the
// only mutable field outside of timestamps; stories are never deleted.
type Story struct {
	ID        int64
	IdeaRef   string
	State     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Artifact is a versioned Title or Content row. The two families share one
// shape; the repository decides the table. Artifacts are append-only: text
// and version never change after insert, and ReviewID may be assigned exactly
// once (null -> some review id).
type Artifact struct {
	ID        int64
	StoryID   int64
	Version   int
	Text      string
	ReviewID  *int64
	CreatedAt time.Time
}

// Review is an immutable record of a scoring pass. The artifact points to the
// review, never the reverse, so a review belongs to at most one artifact.
type Review struct {
	ID        int64
	Text      string
	Score     int
	CreatedAt time.Time
}

// Candidate is one Story in a stage together with the derived values the Work
// Selector orders by. Version fields are 0 when no artifact exists; score
// fields are 0 when the latest artifact carries no review.
type Candidate struct {
	Story              Story
	MaxTitleVersion    int
	MaxContentVersion  int
	LatestTitleScore   int
	LatestContentScore int
}

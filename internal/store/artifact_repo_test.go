package store

import (
	"testing"

	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
)

func TestArtifactInsertAndVersioning(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	// Version numbering starts at 0.
	v0 := &Artifact{StoryID: story.ID, Version: 0, Text: "The Keeper"}
	if err := s.Titles.Insert(ctx, v0); err != nil {
		t.Fatalf("failed to insert v0: %v", err)
	}
	v1 := &Artifact{StoryID: story.ID, Version: 1, Text: "The Keeper of the Light"}
	if err := s.Titles.Insert(ctx, v1); err != nil {
		t.Fatalf("failed to insert v1: %v", err)
	}

	// Duplicate (story_id, version) fails with version_conflict.
	dup := &Artifact{StoryID: story.ID, Version: 1, Text: "Conflicting"}
	err := s.Titles.Insert(ctx, dup)
	if !pqerrors.IsKind(err, pqerrors.KindVersionConflict) {
		t.Fatalf("expected version_conflict, got %v", err)
	}

	latest, err := s.Titles.FindLatestVersion(ctx, story.ID)
	if err != nil {
		t.Fatalf("failed to find latest: %v", err)
	}
	if latest == nil || latest.Version != 1 || latest.Text != "The Keeper of the Light" {
		t.Errorf("unexpected latest: %+v", latest)
	}

	versions, err := s.Titles.FindVersions(ctx, story.ID)
	if err != nil {
		t.Fatalf("failed to list versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 0 || versions[1].Version != 1 {
		t.Errorf("expected ascending versions 0,1, got %+v", versions)
	}

	got, err := s.Titles.FindVersion(ctx, story.ID, 0)
	if err != nil {
		t.Fatalf("failed to find version 0: %v", err)
	}
	if got == nil || got.Text != "The Keeper" {
		t.Errorf("unexpected version 0: %+v", got)
	}

	missing, err := s.Titles.FindVersion(ctx, story.ID, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for absent version, got %+v", missing)
	}
}

func TestArtifactLatestNilWhenNone(t *testing.T) {
	s := newTestStore(t)
	story := seedStory(t, s, "i1")

	latest, err := s.Contents.FindLatestVersion(t.Context(), story.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil latest for story without contents, got %+v", latest)
	}
}

func TestArtifactRejectsEmptyTextAndNegativeVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	err := s.Contents.Insert(ctx, &Artifact{StoryID: story.ID, Version: 0, Text: ""})
	if !pqerrors.IsKind(err, pqerrors.KindValidation) {
		t.Fatalf("expected validation error for empty text, got %v", err)
	}
	err = s.Contents.Insert(ctx, &Artifact{StoryID: story.ID, Version: -1, Text: "x"})
	if !pqerrors.IsKind(err, pqerrors.KindValidation) {
		t.Fatalf("expected validation error for negative version, got %v", err)
	}
}

func TestArtifactForeignKeyEnforced(t *testing.T) {
	s := newTestStore(t)

	err := s.Titles.Insert(t.Context(), &Artifact{StoryID: 12345, Version: 0, Text: "orphan"})
	if err == nil {
		t.Fatal("expected foreign key violation for missing story")
	}
}

func TestArtifactTextNormalisedToNFC(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	// "e" + combining acute accent; NFC form is a single rune.
	decomposed := "Café"
	a := &Artifact{StoryID: story.ID, Version: 0, Text: decomposed}
	if err := s.Titles.Insert(ctx, a); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if a.Text != "Café" {
		t.Errorf("expected NFC-normalised text, got %q", a.Text)
	}
}

func TestSetReviewIDIdempotentLaw(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	a := &Artifact{StoryID: story.ID, Version: 0, Text: "script text"}
	if err := s.Contents.Insert(ctx, a); err != nil {
		t.Fatalf("failed to insert artifact: %v", err)
	}
	r1 := &Review{Text: "clean", Score: 90}
	if err := s.Reviews.Insert(ctx, r1); err != nil {
		t.Fatalf("failed to insert review: %v", err)
	}
	r2 := &Review{Text: "other", Score: 10}
	if err := s.Reviews.Insert(ctx, r2); err != nil {
		t.Fatalf("failed to insert review: %v", err)
	}

	if err := s.Contents.SetReviewID(ctx, a.ID, r1.ID); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	// Same (artifact, review) pair succeeds again.
	if err := s.Contents.SetReviewID(ctx, a.ID, r1.ID); err != nil {
		t.Fatalf("idempotent re-assignment failed: %v", err)
	}
	// A different review fails.
	err := s.Contents.SetReviewID(ctx, a.ID, r2.ID)
	if !pqerrors.IsKind(err, pqerrors.KindAlreadyReviewed) {
		t.Fatalf("expected already_reviewed, got %v", err)
	}

	got, err := s.Contents.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("failed to re-read artifact: %v", err)
	}
	if got.ReviewID == nil || *got.ReviewID != r1.ID {
		t.Errorf("review link should still point at %d, got %v", r1.ID, got.ReviewID)
	}
}

func TestReviewScoreBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	for _, score := range []int{0, 100} {
		r := &Review{Text: "boundary", Score: score}
		if err := s.Reviews.Insert(ctx, r); err != nil {
			t.Errorf("score %d should be accepted: %v", score, err)
		}
	}
	for _, score := range []int{-1, 101} {
		r := &Review{Text: "boundary", Score: score}
		err := s.Reviews.Insert(ctx, r)
		if !pqerrors.IsKind(err, pqerrors.KindInvalidScore) {
			t.Errorf("score %d should be rejected with invalid_score, got %v", score, err)
		}
	}
}

func TestReviewFindByID(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	r := &Review{Text: "solid pacing", Score: 82}
	if err := s.Reviews.Insert(ctx, r); err != nil {
		t.Fatalf("failed to insert review: %v", err)
	}
	got, err := s.Reviews.FindByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to find review: %v", err)
	}
	if got.Text != "solid pacing" || got.Score != 82 {
		t.Errorf("unexpected review: %+v", got)
	}

	_, err = s.Reviews.FindByID(ctx, 999)
	if !pqerrors.IsKind(err, pqerrors.KindNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestVersionContiguity(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	// Derive each new version as latest+1, the way stage processing does.
	for i := range 5 {
		latest, err := s.Contents.FindLatestVersion(ctx, story.ID)
		if err != nil {
			t.Fatalf("failed to find latest: %v", err)
		}
		next := 0
		if latest != nil {
			next = latest.Version + 1
		}
		a := &Artifact{StoryID: story.ID, Version: next, Text: "draft"}
		if err := s.Contents.Insert(ctx, a); err != nil {
			t.Fatalf("failed to insert draft %d: %v", i, err)
		}
	}

	versions, err := s.Contents.FindVersions(ctx, story.ID)
	if err != nil {
		t.Fatalf("failed to list versions: %v", err)
	}
	for i, v := range versions {
		if v.Version != i {
			t.Fatalf("versions must form a contiguous 0..k sequence, got %d at index %d", v.Version, i)
		}
	}
}

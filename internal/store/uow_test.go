package store

import (
	"errors"
	"testing"

	"github.com/Nomoos/PrismQ-sub002/internal/catalog"
)

func TestUnitOfWorkCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	err := s.WithUnitOfWork(ctx, func(uow *UnitOfWork) error {
		if err := uow.Titles.Insert(ctx, &Artifact{StoryID: story.ID, Version: 0, Text: "t"}); err != nil {
			return err
		}
		won, err := uow.Stories.UpdateStateCAS(ctx, story.ID, catalog.StageTitleFromIdea, catalog.StageScriptFromIdea)
		if err != nil {
			return err
		}
		if !won {
			t.Fatal("CAS should win inside fresh unit of work")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unit of work failed: %v", err)
	}

	got, err := s.Stories.FindByID(ctx, story.ID)
	if err != nil {
		t.Fatalf("failed to re-read story: %v", err)
	}
	if got.State != catalog.StageScriptFromIdea {
		t.Errorf("expected committed state change, got %s", got.State)
	}
	latest, err := s.Titles.FindLatestVersion(ctx, story.ID)
	if err != nil || latest == nil {
		t.Fatalf("expected committed title, got %v / %v", latest, err)
	}
}

func TestUnitOfWorkRollbackLeavesNoPartialWrites(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	story := seedStory(t, s, "i1")

	boom := errors.New("boom")
	err := s.WithUnitOfWork(ctx, func(uow *UnitOfWork) error {
		if err := uow.Titles.Insert(ctx, &Artifact{StoryID: story.ID, Version: 0, Text: "t"}); err != nil {
			return err
		}
		if err := uow.Reviews.Insert(ctx, &Review{Text: "r", Score: 50}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the inner error back, got %v", err)
	}

	latest, err := s.Titles.FindLatestVersion(ctx, story.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest != nil {
		t.Errorf("rolled-back title is still visible: %+v", latest)
	}
	if _, err := s.Reviews.FindByID(ctx, 1); err == nil {
		t.Error("rolled-back review is still visible")
	}
}

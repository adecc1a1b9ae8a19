package store

import (
	"context"
	"database/sql"
	"errors"

	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
	"github.com/Nomoos/PrismQ-sub002/internal/transition"
)

// StoryRepo provides typed access to the story table. Update guards every
// state change through the transition validator against the previously
// persisted state.
type StoryRepo struct {
	q         querier
	validator *transition.Validator
}

const storyColumns = "id, idea_ref, state, created_at, updated_at"

// Insert persists a new Story. The id and timestamps are assigned by the
// store; the state must be a known catalog stage.
func (r *StoryRepo) Insert(ctx context.Context, story *Story) error {
	if story.IdeaRef == "" {
		return pqerrors.New(pqerrors.KindValidation, "story idea_ref must not be empty").
			WithContext("field", "idea_ref")
	}
	if !r.validator.KnownStage(story.State) {
		return pqerrors.Newf(pqerrors.KindUnknownStage, "story state %q is not a known stage", story.State)
	}

	ts := now()
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO story (idea_ref, state, created_at, updated_at) VALUES (?, ?, ?, ?)",
		story.IdeaRef, story.State, formatTime(ts), formatTime(ts),
	)
	if err != nil {
		return classify(err, "insert story")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, "insert story id")
	}
	story.ID = id
	story.CreatedAt = ts
	story.UpdatedAt = ts
	return nil
}

// FindByID returns the Story with the given id, or a not_found error.
func (r *StoryRepo) FindByID(ctx context.Context, id int64) (*Story, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+storyColumns+" FROM story WHERE id = ?", id)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pqerrors.Newf(pqerrors.KindNotFound, "story %d not found", id)
	}
	if err != nil {
		return nil, classify(err, "find story by id")
	}
	return s, nil
}

// FindByState returns all stories in the given stage, oldest first.
func (r *StoryRepo) FindByState(ctx context.Context, stage string) ([]Story, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+storyColumns+" FROM story WHERE state = ? ORDER BY created_at ASC, id ASC", stage)
	if err != nil {
		return nil, classify(err, "find stories by state")
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		s, err := scanStory(rows)
		if err != nil {
			return nil, classify(err, "scan story")
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate stories")
	}
	return out, nil
}

// FindOldestByState returns the oldest story in the stage, or nil when the
// stage has no candidates.
func (r *StoryRepo) FindOldestByState(ctx context.Context, stage string) (*Story, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+storyColumns+" FROM story WHERE state = ? ORDER BY created_at ASC, id ASC LIMIT 1", stage)
	s, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "find oldest story by state")
	}
	return s, nil
}

// CountByState returns the number of stories in the stage.
func (r *StoryRepo) CountByState(ctx context.Context, stage string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM story WHERE state = ?", stage).Scan(&n)
	if err != nil {
		return 0, classify(err, "count stories by state")
	}
	return n, nil
}

// CountsByState returns story counts for every stage that has at least one story.
func (r *StoryRepo) CountsByState(ctx context.Context) (map[string]int, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT state, COUNT(*) FROM story GROUP BY state")
	if err != nil {
		return nil, classify(err, "count stories grouped by state")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, classify(err, "scan state count")
		}
		out[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate state counts")
	}
	return out, nil
}

// Update persists the story's state and updated_at only. On a state change it
// validates the transition from the previously persisted state and fails with
// illegal_transition when the graph forbids it.
func (r *StoryRepo) Update(ctx context.Context, story *Story) error {
	current, err := r.FindByID(ctx, story.ID)
	if err != nil {
		return err
	}
	if current.State != story.State {
		if res := r.validator.Validate(current.State, story.State); !res.OK {
			return pqerrors.New(pqerrors.KindIllegalTransition, res.Reason).
				WithContext("story_id", story.ID)
		}
	}

	ts := now()
	_, err = r.q.ExecContext(ctx,
		"UPDATE story SET state = ?, updated_at = ? WHERE id = ?",
		story.State, formatTime(ts), story.ID)
	if err != nil {
		return classify(err, "update story")
	}
	story.UpdatedAt = ts
	return nil
}

// UpdateStateCAS performs a compare-and-set on the story state: the update
// applies only when the persisted state still equals from. It returns false
// without error when another writer won the race. The transition itself is
// validated before the attempt.
func (r *StoryRepo) UpdateStateCAS(ctx context.Context, id int64, from, to string) (bool, error) {
	if res := r.validator.Validate(from, to); !res.OK {
		return false, pqerrors.New(pqerrors.KindIllegalTransition, res.Reason).
			WithContext("story_id", id)
	}

	ts := now()
	res, err := r.q.ExecContext(ctx,
		"UPDATE story SET state = ?, updated_at = ? WHERE id = ? AND state = ?",
		to, formatTime(ts), id, from)
	if err != nil {
		return false, classify(err, "compare-and-set story state")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify(err, "compare-and-set rows affected")
	}
	return n == 1, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan code.
type scanner interface {
	Scan(dest ...any) error
}

func scanStory(sc scanner) (*Story, error) {
	var s Story
	var createdAt, updatedAt string
	if err := sc.Scan(&s.ID, &s.IdeaRef, &s.State, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

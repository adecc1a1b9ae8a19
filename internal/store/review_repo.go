package store

import (
	"context"
	"database/sql"
	"errors"

	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
)

// ReviewRepo provides typed access to the review table. Reviews are created
// once and never modified.
type ReviewRepo struct {
	q querier
}

// Insert persists a new Review. Scores outside 0..100 fail with invalid_score
// before any write happens.
func (r *ReviewRepo) Insert(ctx context.Context, review *Review) error {
	if review.Score < 0 || review.Score > 100 {
		return pqerrors.Newf(pqerrors.KindInvalidScore, "score %d out of range 0..100", review.Score)
	}
	if review.Text == "" {
		return pqerrors.New(pqerrors.KindValidation, "review text must not be empty")
	}

	ts := now()
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO review (text, score, created_at) VALUES (?, ?, ?)",
		review.Text, review.Score, formatTime(ts),
	)
	if err != nil {
		return classify(err, "insert review")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, "insert review id")
	}
	review.ID = id
	review.CreatedAt = ts
	return nil
}

// FindByID returns the Review with the given id, or a not_found error.
func (r *ReviewRepo) FindByID(ctx context.Context, id int64) (*Review, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT id, text, score, created_at FROM review WHERE id = ?", id)

	var rev Review
	var createdAt string
	err := row.Scan(&rev.ID, &rev.Text, &rev.Score, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pqerrors.Newf(pqerrors.KindNotFound, "review %d not found", id)
	}
	if err != nil {
		return nil, classify(err, "find review by id")
	}
	if rev.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, classify(err, "parse review timestamp")
	}
	return &rev, nil
}

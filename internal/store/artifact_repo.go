package store

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/text/unicode/norm"

	pqerrors "github.com/Nomoos/PrismQ-sub002/internal/errors"
)

// ArtifactRepo provides typed access to one artifact table (title or
// content). Both tables share the same shape and invariants; the table name
// is fixed at construction.
type ArtifactRepo struct {
	q     querier
	table string
}

// Table returns the artifact table this repository is bound to.
func (r *ArtifactRepo) Table() string { return r.table }

// Insert appends a new artifact version. The caller supplies the version;
// a conflicting (story_id, version) pair fails with version_conflict. Text is
// NFC-normalised so equal-looking titles compare equal.
func (r *ArtifactRepo) Insert(ctx context.Context, a *Artifact) error {
	if a.Text == "" {
		return pqerrors.Newf(pqerrors.KindValidation, "%s text must not be empty", r.table)
	}
	if a.Version < 0 {
		return pqerrors.Newf(pqerrors.KindValidation, "%s version must be non-negative, got %d", r.table, a.Version)
	}
	a.Text = norm.NFC.String(a.Text)

	ts := now()
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO "+r.table+" (story_id, version, text, review_id, created_at) VALUES (?, ?, ?, ?, ?)",
		a.StoryID, a.Version, a.Text, a.ReviewID, formatTime(ts),
	)
	if err != nil {
		return classify(err, "insert "+r.table)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return classify(err, "insert "+r.table+" id")
	}
	a.ID = id
	a.CreatedAt = ts
	return nil
}

// FindByID returns the artifact with the given id, or a not_found error.
func (r *ArtifactRepo) FindByID(ctx context.Context, id int64) (*Artifact, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT id, story_id, version, text, review_id, created_at FROM "+r.table+" WHERE id = ?", id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pqerrors.Newf(pqerrors.KindNotFound, "%s %d not found", r.table, id)
	}
	if err != nil {
		return nil, classify(err, "find "+r.table+" by id")
	}
	return a, nil
}

// FindLatestVersion returns the maximum-version artifact for the story, or
// nil when the story has none. The current artifact is always this derived
// row; stories carry no pointer to it.
func (r *ArtifactRepo) FindLatestVersion(ctx context.Context, storyID int64) (*Artifact, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT id, story_id, version, text, review_id, created_at FROM "+r.table+
			" WHERE story_id = ? ORDER BY version DESC LIMIT 1", storyID)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "find latest "+r.table)
	}
	return a, nil
}

// FindVersions returns all versions for the story, ascending by version.
func (r *ArtifactRepo) FindVersions(ctx context.Context, storyID int64) ([]Artifact, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT id, story_id, version, text, review_id, created_at FROM "+r.table+
			" WHERE story_id = ? ORDER BY version ASC", storyID)
	if err != nil {
		return nil, classify(err, "find "+r.table+" versions")
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, classify(err, "scan "+r.table)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate "+r.table+" versions")
	}
	return out, nil
}

// FindVersion returns one specific version for the story, or nil when absent.
func (r *ArtifactRepo) FindVersion(ctx context.Context, storyID int64, version int) (*Artifact, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT id, story_id, version, text, review_id, created_at FROM "+r.table+
			" WHERE story_id = ? AND version = ?", storyID, version)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "find "+r.table+" version")
	}
	return a, nil
}

// SetReviewID performs the one-time null -> review id assignment. Repeating
// the call with the same review id succeeds (idempotent); a different id
// fails with already_reviewed.
func (r *ArtifactRepo) SetReviewID(ctx context.Context, artifactID, reviewID int64) error {
	a, err := r.FindByID(ctx, artifactID)
	if err != nil {
		return err
	}
	if a.ReviewID != nil {
		if *a.ReviewID == reviewID {
			return nil
		}
		return pqerrors.Newf(pqerrors.KindAlreadyReviewed,
			"%s %d already reviewed by review %d", r.table, artifactID, *a.ReviewID)
	}

	_, err = r.q.ExecContext(ctx,
		"UPDATE "+r.table+" SET review_id = ? WHERE id = ? AND review_id IS NULL",
		reviewID, artifactID)
	if err != nil {
		return classify(err, "set "+r.table+" review id")
	}
	return nil
}

func scanArtifact(sc scanner) (*Artifact, error) {
	var a Artifact
	var createdAt string
	var reviewID sql.NullInt64
	if err := sc.Scan(&a.ID, &a.StoryID, &a.Version, &a.Text, &reviewID, &createdAt); err != nil {
		return nil, err
	}
	if reviewID.Valid {
		a.ReviewID = &reviewID.Int64
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &a, nil
}

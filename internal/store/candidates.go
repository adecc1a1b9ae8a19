package store

import (
	"context"
)

// candidateQuery fetches every story in a stage together with the derived
// max-version and latest-review-score values in one bounded query. The
// LEFT JOIN inside each score subquery makes a latest artifact without a
// review contribute 0 instead of falling through to an older version.
const candidateQuery = `
SELECT s.id, s.idea_ref, s.state, s.created_at, s.updated_at,
	COALESCE((SELECT MAX(t.version) FROM title t WHERE t.story_id = s.id), 0),
	COALESCE((SELECT MAX(c.version) FROM content c WHERE c.story_id = s.id), 0),
	COALESCE((SELECT r.score FROM title t LEFT JOIN review r ON r.id = t.review_id
		WHERE t.story_id = s.id ORDER BY t.version DESC LIMIT 1), 0),
	COALESCE((SELECT r.score FROM content c LEFT JOIN review r ON r.id = c.review_id
		WHERE c.story_id = s.id ORDER BY c.version DESC LIMIT 1), 0)
FROM story s
WHERE s.state = ?
ORDER BY s.created_at ASC, s.id ASC`

// CandidatesByState returns the work-selection candidates for a stage. The
// selection policy itself lives in the selector; this is only the read.
func (r *StoryRepo) CandidatesByState(ctx context.Context, stage string) ([]Candidate, error) {
	rows, err := r.q.QueryContext(ctx, candidateQuery, stage)
	if err != nil {
		return nil, classify(err, "query candidates by state")
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var createdAt, updatedAt string
		err := rows.Scan(&c.Story.ID, &c.Story.IdeaRef, &c.Story.State, &createdAt, &updatedAt,
			&c.MaxTitleVersion, &c.MaxContentVersion, &c.LatestTitleScore, &c.LatestContentScore)
		if err != nil {
			return nil, classify(err, "scan candidate")
		}
		if c.Story.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, classify(err, "parse candidate timestamp")
		}
		if c.Story.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, classify(err, "parse candidate timestamp")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate candidates")
	}
	return out, nil
}

package db

import (
	"context"
	"database/sql"
)

// AppendMergedSummary adds the text of a duplicate merged into goalID and
// marks the goal's consolidation pending.
func AppendMergedSummary(ctx context.Context, q Querier, goalID, text string, now int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO merged_summaries (goal_id, merged_text, pending, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(goal_id) DO UPDATE SET
			merged_text = merged_text || char(10) || char(10) || excluded.merged_text,
			pending = 1,
			updated_at = excluded.updated_at
	`, goalID, text, now)
	return MapError(err)
}

// GetMergedSummary returns the merged duplicate text of goalID and whether
// its consolidation is pending. text is empty if nothing was merged into it.
func GetMergedSummary(ctx context.Context, q Querier, goalID string) (text string, pending bool, err error) {
	var p int
	err = q.QueryRowContext(ctx,
		`SELECT merged_text, pending FROM merged_summaries WHERE goal_id = ?`, goalID).Scan(&text, &p)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, MapError(err)
	}
	return text, p == 1, nil
}

// CompleteMergedSummary clears the pending flag if merged_text is still
// text. A merge that appended more text in the meantime keeps it pending.
func CompleteMergedSummary(ctx context.Context, q Querier, goalID, text string) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE merged_summaries SET pending = 0 WHERE goal_id = ? AND merged_text = ?`, goalID, text)
	if err != nil {
		return false, MapError(err)
	}
	n, err := res.RowsAffected()
	return n > 0, MapError(err)
}

// PendingMergedSummaries returns the user's live goals whose consolidation
// is pending.
func PendingMergedSummaries(ctx context.Context, q Querier, userID string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT m.goal_id
		FROM merged_summaries m
		JOIN goals g ON g.id = m.goal_id
		WHERE g.user_id = ? AND g.archived_at IS NULL AND m.pending = 1
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	pending := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		pending[id] = true
	}
	return pending, MapError(rows.Err())
}

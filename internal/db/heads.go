package db

import (
	"context"
	"database/sql"
)

// BumpHead increments the user's graph version and returns the new value.
// Mutations call it as their first write so the transaction takes SQLite's
// write lock before reading the snapshot it validates against.
func BumpHead(ctx context.Context, q Querier, userID string, now int64) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO graph_heads (user_id, version, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(user_id) DO UPDATE SET version = version + 1, updated_at = excluded.updated_at
		RETURNING version
	`, userID, now).Scan(&version)
	if err != nil {
		return 0, MapError(err)
	}
	return version, nil
}

// GetHead returns the user's graph version, 0 if the user never mutated.
func GetHead(ctx context.Context, q Querier, userID string) (int64, error) {
	var version int64
	err := q.QueryRowContext(ctx, `SELECT version FROM graph_heads WHERE user_id = ?`, userID).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, MapError(err)
	}
	return version, nil
}

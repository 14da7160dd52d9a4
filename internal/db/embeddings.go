package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aimi/goalgraph/internal/goal"
)

// EncodeVector packs a vector as little-endian float32s.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector unpacks a vector written by EncodeVector.
func DecodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// InsertEmbedding stores an embedding row. Callers deactivate the previous
// active row first; the partial unique index rejects two active rows.
func InsertEmbedding(ctx context.Context, q Querier, e *goal.Embedding) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO goal_embeddings (
			id, goal_id, summary_text, vector, dimensions, model, content_hash, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.GoalID, e.SummaryText, EncodeVector(e.Vector), len(e.Vector), e.Model,
		e.ContentHash, boolToInt(e.Active), e.CreatedAt)
	return MapError(err)
}

// DeactivateEmbeddings clears the active flag on every embedding of goalID.
func DeactivateEmbeddings(ctx context.Context, q Querier, goalID string) (int64, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE goal_embeddings SET active = 0 WHERE goal_id = ? AND active = 1`, goalID)
	if err != nil {
		return 0, MapError(err)
	}
	n, err := res.RowsAffected()
	return n, MapError(err)
}

// GetActiveEmbedding returns the active embedding of goalID, or nil if none.
func GetActiveEmbedding(ctx context.Context, q Querier, goalID string) (*goal.Embedding, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, goal_id, summary_text, vector, model, content_hash, active, created_at
		FROM goal_embeddings
		WHERE goal_id = ? AND active = 1
	`, goalID)
	e, err := scanEmbedding(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, MapError(err)
	}
	return e, nil
}

// ListActiveEmbeddings returns the active embeddings of a user's
// non-archived goals.
func ListActiveEmbeddings(ctx context.Context, q Querier, userID string) ([]goal.Embedding, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.id, e.goal_id, e.summary_text, e.vector, e.model, e.content_hash, e.active, e.created_at
		FROM goal_embeddings e
		JOIN goals g ON g.id = e.goal_id
		WHERE g.user_id = ? AND g.archived_at IS NULL AND e.active = 1
		ORDER BY e.goal_id
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	var out []goal.Embedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, MapError(err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return out, nil
}

// ActiveContentHashes maps goal id to the content hash of its active
// embedding, for a user's non-archived goals.
func ActiveContentHashes(ctx context.Context, q Querier, userID string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e.goal_id, e.content_hash
		FROM goal_embeddings e
		JOIN goals g ON g.id = e.goal_id
		WHERE g.user_id = ? AND g.archived_at IS NULL AND e.active = 1
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var goalID, hash string
		if err := rows.Scan(&goalID, &hash); err != nil {
			return nil, MapError(err)
		}
		hashes[goalID] = hash
	}
	return hashes, MapError(rows.Err())
}

func scanEmbedding(row rowScanner) (*goal.Embedding, error) {
	var (
		e      goal.Embedding
		blob   []byte
		active int
	)
	if err := row.Scan(&e.ID, &e.GoalID, &e.SummaryText, &blob, &e.Model, &e.ContentHash, &active, &e.CreatedAt); err != nil {
		return nil, err
	}
	v, err := DecodeVector(blob)
	if err != nil {
		return nil, err
	}
	e.Vector = v
	e.Active = active == 1
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

const goalColumns = `
	id, user_id, chat_id, title, description, status, category, priority,
	deadline, estimated_duration_days, difficulty_level, motivation,
	success_criteria, created_at, updated_at, archived_at, merged_into_id
`

// InsertGoal stores a new goal.
func InsertGoal(ctx context.Context, q Querier, g *goal.Goal) error {
	query := `INSERT INTO goals (` + goalColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, query,
		g.ID, g.UserID, g.ChatID, g.Title, toNullString(g.Description), string(g.Status),
		categoryValue(g.Category), g.Priority, toNullString(g.Deadline), toNullInt(g.EstimatedDurationDays),
		g.DifficultyLevel, toNullString(g.Motivation), toNullString(g.SuccessCriteria),
		g.CreatedAt, g.UpdatedAt, toNullInt64(g.ArchivedAt), toNullString(g.MergedIntoID),
	)
	return MapError(err)
}

// GetGoal retrieves a goal by its ULID, archived goals included.
func GetGoal(ctx context.Context, q Querier, id string) (*goal.Goal, error) {
	row := q.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewUnknownGoal(id)
	}
	if err != nil {
		return nil, MapError(err)
	}
	return g, nil
}

// UpdateGoal writes every mutable field of g.
func UpdateGoal(ctx context.Context, q Querier, g *goal.Goal) error {
	query := `
		UPDATE goals SET
			title = ?, description = ?, status = ?, category = ?, priority = ?,
			deadline = ?, estimated_duration_days = ?, difficulty_level = ?,
			motivation = ?, success_criteria = ?, updated_at = ?,
			archived_at = ?, merged_into_id = ?
		WHERE id = ?
	`
	res, err := q.ExecContext(ctx, query,
		g.Title, toNullString(g.Description), string(g.Status), categoryValue(g.Category), g.Priority,
		toNullString(g.Deadline), toNullInt(g.EstimatedDurationDays), g.DifficultyLevel,
		toNullString(g.Motivation), toNullString(g.SuccessCriteria), g.UpdatedAt,
		toNullInt64(g.ArchivedAt), toNullString(g.MergedIntoID),
		g.ID,
	)
	if err != nil {
		return MapError(err)
	}
	return requireOneRow(res, g.ID)
}

// UpdateGoalStatus sets a goal's status.
func UpdateGoalStatus(ctx context.Context, q Querier, id string, status goal.Status, now int64) error {
	res, err := q.ExecContext(ctx,
		`UPDATE goals SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id,
	)
	if err != nil {
		return MapError(err)
	}
	return requireOneRow(res, id)
}

// ArchiveGoal marks a goal as merged into primaryID: canceled and archived.
func ArchiveGoal(ctx context.Context, q Querier, id, primaryID string, now int64) error {
	res, err := q.ExecContext(ctx, `
		UPDATE goals
		SET status = 'canceled', archived_at = ?, merged_into_id = ?, updated_at = ?
		WHERE id = ? AND archived_at IS NULL
	`, now, primaryID, now, id)
	if err != nil {
		return MapError(err)
	}
	return requireOneRow(res, id)
}

// ListFilter selects goals for ListGoals.
type ListFilter struct {
	UserID          string
	Statuses        []goal.Status
	IncludeArchived bool
	Limit           int
	Offset          int
}

// ListGoals returns a user's goals, most recently updated first, and the total
// count of matches ignoring Limit/Offset.
func ListGoals(ctx context.Context, q Querier, f ListFilter) ([]goal.Goal, int, error) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if !f.IncludeArchived {
		where = append(where, "archived_at IS NULL")
	}
	if len(f.Statuses) > 0 {
		placeholders := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, MapError(err)
	}

	query := `SELECT ` + goalColumns + ` FROM goals WHERE ` + whereSQL + ` ORDER BY updated_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}

	goals, err := queryGoals(ctx, q, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return goals, total, nil
}

// ListUserGoals returns every goal of a user, archived included, ordered by id.
// This is the node set of the user's graph snapshot.
func ListUserGoals(ctx context.Context, q Querier, userID string) ([]goal.Goal, error) {
	return queryGoals(ctx, q, `SELECT `+goalColumns+` FROM goals WHERE user_id = ? ORDER BY id`, userID)
}

// ListAvailableGoals returns a user's todo goals: priority descending, then
// deadline ascending with undated goals last.
func ListAvailableGoals(ctx context.Context, q Querier, userID string) ([]goal.Goal, error) {
	return queryGoals(ctx, q, `
		SELECT `+goalColumns+` FROM goals
		WHERE user_id = ? AND status = 'todo' AND archived_at IS NULL
		ORDER BY priority DESC, deadline IS NULL, deadline ASC, id
	`, userID)
}

// ListUserIDs returns every user that owns at least one goal.
func ListUserIDs(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT DISTINCT user_id FROM goals ORDER BY user_id`)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, MapError(err)
		}
		ids = append(ids, id)
	}
	return ids, MapError(rows.Err())
}

// Stats summarizes a user's non-archived goals.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByCategory map[string]int `json:"by_category"`

	// GraphVersion is the user's graph head, set by callers that read it in
	// the same transaction.
	GraphVersion int64 `json:"graph_version"`
}

// GoalStats counts a user's non-archived goals by status and category.
// Goals without a category are counted under "uncategorized".
func GoalStats(ctx context.Context, q Querier, userID string) (*Stats, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT status, COALESCE(category, 'uncategorized'), COUNT(*)
		FROM goals
		WHERE user_id = ? AND archived_at IS NULL
		GROUP BY status, category
	`, userID)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: map[string]int{}, ByCategory: map[string]int{}}
	for _, s := range goal.AllStatuses {
		stats.ByStatus[string(s)] = 0
	}
	for rows.Next() {
		var status, category string
		var n int
		if err := rows.Scan(&status, &category, &n); err != nil {
			return nil, MapError(err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByCategory[category] += n
	}
	return stats, MapError(rows.Err())
}

func queryGoals(ctx context.Context, q Querier, query string, args ...any) ([]goal.Goal, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	var goals []goal.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, MapError(err)
		}
		goals = append(goals, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return goals, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (*goal.Goal, error) {
	var (
		g               goal.Goal
		status          string
		description     sql.NullString
		category        sql.NullString
		deadline        sql.NullString
		duration        sql.NullInt64
		motivation      sql.NullString
		successCriteria sql.NullString
		archivedAt      sql.NullInt64
		mergedInto      sql.NullString
	)

	err := row.Scan(
		&g.ID, &g.UserID, &g.ChatID, &g.Title, &description, &status, &category, &g.Priority,
		&deadline, &duration, &g.DifficultyLevel, &motivation,
		&successCriteria, &g.CreatedAt, &g.UpdatedAt, &archivedAt, &mergedInto,
	)
	if err != nil {
		return nil, err
	}

	g.Status = goal.Status(status)
	g.Description = fromNullString(description)
	if category.Valid {
		c := goal.Category(category.String)
		g.Category = &c
	}
	g.Deadline = fromNullString(deadline)
	if duration.Valid {
		d := int(duration.Int64)
		g.EstimatedDurationDays = &d
	}
	g.Motivation = fromNullString(motivation)
	g.SuccessCriteria = fromNullString(successCriteria)
	if archivedAt.Valid {
		g.ArchivedAt = &archivedAt.Int64
	}
	g.MergedIntoID = fromNullString(mergedInto)

	return &g, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewUnknownGoal(id)
	}
	return nil
}

func categoryValue(c *goal.Category) sql.NullString {
	if c == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*c), Valid: true}
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func toNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

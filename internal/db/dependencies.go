package db

import (
	"context"
	"database/sql"

	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

const depColumns = `d.id, d.parent_goal_id, d.dependent_goal_id, d.dependency_type, d.strength, d.notes, d.created_at`

// InsertDependency stores a new edge.
func InsertDependency(ctx context.Context, q Querier, d *goal.Dependency) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO goal_dependencies (
			id, parent_goal_id, dependent_goal_id, dependency_type, strength, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.ParentID, d.DependentID, string(d.Type), d.Strength, toNullString(d.Notes), d.CreatedAt)
	return MapError(err)
}

// DeleteDependency removes the edge parent -> dependent.
// Returns the deleted edge; a missing edge is an INVALID_REQUEST.
func DeleteDependency(ctx context.Context, q Querier, parentID, dependentID string) (*goal.Dependency, error) {
	d, err := GetDependency(ctx, q, parentID, dependentID)
	if err != nil {
		return nil, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM goal_dependencies WHERE id = ?`, d.ID); err != nil {
		return nil, MapError(err)
	}
	return d, nil
}

// DeleteDependencyByID removes one edge by id.
func DeleteDependencyByID(ctx context.Context, q Querier, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM goal_dependencies WHERE id = ?`, id)
	return MapError(err)
}

// GetDependency retrieves the edge parent -> dependent.
func GetDependency(ctx context.Context, q Querier, parentID, dependentID string) (*goal.Dependency, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+depColumns+` FROM goal_dependencies d
		WHERE d.parent_goal_id = ? AND d.dependent_goal_id = ?
	`, parentID, dependentID)
	d, err := scanDependency(row)
	if err == sql.ErrNoRows {
		gErr := errors.NewInvalidRequest("dependency " + parentID + " -> " + dependentID + " does not exist")
		gErr.Details = map[string]any{"parent_id": parentID, "dependent_id": dependentID}
		return nil, gErr
	}
	if err != nil {
		return nil, MapError(err)
	}
	return d, nil
}

// ListUserDependencies returns every edge between a user's goals, ordered by
// creation. The edge set of the user's graph snapshot.
func ListUserDependencies(ctx context.Context, q Querier, userID string) ([]goal.Dependency, error) {
	return queryDependencies(ctx, q, `
		SELECT `+depColumns+` FROM goal_dependencies d
		JOIN goals p ON p.id = d.parent_goal_id
		WHERE p.user_id = ?
		ORDER BY d.created_at, d.id
	`, userID)
}

// ListGoalDependencies returns edges touching goalID in either direction.
func ListGoalDependencies(ctx context.Context, q Querier, goalID string) ([]goal.Dependency, error) {
	return queryDependencies(ctx, q, `
		SELECT `+depColumns+` FROM goal_dependencies d
		WHERE d.parent_goal_id = ? OR d.dependent_goal_id = ?
		ORDER BY d.created_at, d.id
	`, goalID, goalID)
}

func queryDependencies(ctx context.Context, q Querier, query string, args ...any) ([]goal.Dependency, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, MapError(err)
	}
	defer rows.Close()

	var deps []goal.Dependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, MapError(err)
		}
		deps = append(deps, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}
	return deps, nil
}

func scanDependency(row rowScanner) (*goal.Dependency, error) {
	var (
		d     goal.Dependency
		typ   string
		notes sql.NullString
	)
	if err := row.Scan(&d.ID, &d.ParentID, &d.DependentID, &typ, &d.Strength, &notes, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Type = goal.DependencyType(typ)
	d.Notes = fromNullString(notes)
	return &d, nil
}

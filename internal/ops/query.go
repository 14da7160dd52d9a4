package ops

import (
	"context"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

// GoalView is a goal with the edges touching it.
type GoalView struct {
	goal.Goal
	Dependencies []goal.Dependency `json:"dependencies,omitempty"`
}

// GetGoal returns a goal and every edge where it is parent or dependent.
// Archived goals are returned too; callers can follow merged_into_id.
func (e *Engine) GetGoal(ctx context.Context, goalID string) (*GoalView, error) {
	if err := requireGoalID("goal_id", goalID); err != nil {
		return nil, err
	}
	g, err := db.GetGoal(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}
	deps, err := db.ListGoalDependencies(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}
	return &GoalView{Goal: *g, Dependencies: nonNil(deps)}, nil
}

// ListGoalsInput contains parameters for the ListGoals operation.
type ListGoalsInput struct {
	UserID              string   `json:"user_id" validate:"required,uuid"`
	Statuses            []string `json:"statuses"`
	IncludeArchived     bool     `json:"include_archived"`
	IncludeDependencies bool     `json:"include_dependencies"`
	Limit               int      `json:"limit"`
	Offset              int      `json:"offset"`
}

// ListGoalsOutput contains the result of the ListGoals operation.
type ListGoalsOutput struct {
	Goals      []GoalView `json:"goals"`
	Pagination Pagination `json:"pagination"`
}

// ListGoals returns a user's goals, most recently updated first.
func (e *Engine) ListGoals(ctx context.Context, input ListGoalsInput) (*ListGoalsOutput, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.Offset < 0 {
		return nil, errors.NewInvalidRequest("offset must not be negative")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	statuses := make([]goal.Status, 0, len(input.Statuses))
	for _, s := range input.Statuses {
		st, err := goal.ParseStatus(s)
		if err != nil {
			return nil, errors.NewInvalidRequest(err.Error())
		}
		statuses = append(statuses, st)
	}

	goals, total, err := db.ListGoals(ctx, e.db, db.ListFilter{
		UserID:          input.UserID,
		Statuses:        statuses,
		IncludeArchived: input.IncludeArchived,
		Limit:           limit,
		Offset:          input.Offset,
	})
	if err != nil {
		return nil, err
	}

	var byGoal map[string][]goal.Dependency
	if input.IncludeDependencies {
		deps, err := db.ListUserDependencies(ctx, e.db, input.UserID)
		if err != nil {
			return nil, err
		}
		byGoal = make(map[string][]goal.Dependency)
		for _, d := range deps {
			byGoal[d.ParentID] = append(byGoal[d.ParentID], d)
			byGoal[d.DependentID] = append(byGoal[d.DependentID], d)
		}
	}

	views := make([]GoalView, 0, len(goals))
	for _, g := range goals {
		v := GoalView{Goal: g}
		if byGoal != nil {
			v.Dependencies = nonNil(byGoal[g.ID])
		}
		views = append(views, v)
	}

	return &ListGoalsOutput{
		Goals: views,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  input.Offset,
			HasMore: input.Offset+len(goals) < total,
			Total:   total,
		},
	}, nil
}

// AvailableGoals returns the goals a user can work on now: todo, highest
// priority first, then earliest deadline, goals without one last.
func (e *Engine) AvailableGoals(ctx context.Context, userID string) ([]goal.Goal, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	goals, err := db.ListAvailableGoals(ctx, e.db, userID)
	if err != nil {
		return nil, err
	}
	return nonNil(goals), nil
}

// Stats counts a user's live goals by status and category, together with
// the graph version the counts were read at.
func (e *Engine) Stats(ctx context.Context, userID string) (*db.Stats, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	stats, err := db.GoalStats(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if stats.GraphVersion, err = db.GetHead(ctx, tx, userID); err != nil {
		return nil, err
	}
	return stats, nil
}

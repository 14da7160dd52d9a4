package ops

import (
	"context"
	"fmt"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
)

// StatusOutput contains the result of a status operation.
type StatusOutput struct {
	GoalID string `json:"goal_id"`

	// Status is the goal's status after the operation. For a requested
	// todo or blocked it is whatever the dependency rule yields.
	Status  goal.Status         `json:"status"`
	Changes []goal.StatusChange `json:"status_changes"`
}

// SetTerminalStatus marks a goal done or canceled and cascades the change
// breadth-first through its dependents. The goal's own transition is the
// first change returned.
func (e *Engine) SetTerminalStatus(ctx context.Context, goalID string, status goal.Status) (*StatusOutput, error) {
	if !status.Terminal() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("status must be done or canceled, got %q", status))
	}
	if err := requireGoalID("goal_id", goalID); err != nil {
		return nil, err
	}
	owner, err := db.GetGoal(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}

	var final goal.Status
	u, err := e.mutate(ctx, "set_terminal_status", owner.UserID, func(ctx context.Context, u *unitOfWork) error {
		if err := graph.CheckLive(u.graph, goalID); err != nil {
			return err
		}
		if err := u.persistChanges(ctx, graph.Finish(u.graph, goalID, status)); err != nil {
			return err
		}
		final = u.graph.Goal(goalID).Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &StatusOutput{GoalID: goalID, Status: final, Changes: nonNil(u.changes)}, nil
}

// SetStatus applies a caller-requested status. done and canceled take the
// terminal path. todo and blocked are never written as requested: the goal is
// re-evaluated with the dependency rule instead. Reopening a done or canceled
// goal is rejected.
func (e *Engine) SetStatus(ctx context.Context, goalID string, status goal.Status) (*StatusOutput, error) {
	if status.Terminal() {
		return e.SetTerminalStatus(ctx, goalID, status)
	}
	if status != goal.StatusTodo && status != goal.StatusBlocked {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid status %q", status))
	}
	if err := requireGoalID("goal_id", goalID); err != nil {
		return nil, err
	}
	owner, err := db.GetGoal(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}

	var final goal.Status
	u, err := e.mutate(ctx, "set_status", owner.UserID, func(ctx context.Context, u *unitOfWork) error {
		if err := graph.CheckLive(u.graph, goalID); err != nil {
			return err
		}
		gl := u.graph.Goal(goalID)
		if gl.Status.Terminal() {
			gerr := errors.NewInvalidRequest(fmt.Sprintf("goal %s is %s; reopening finished goals is not supported", goalID, gl.Status))
			gerr.Details = map[string]any{"goal_id": goalID, "status": string(gl.Status)}
			return gerr
		}
		if err := u.propagate(ctx, goalID); err != nil {
			return err
		}
		final = gl.Status
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &StatusOutput{GoalID: goalID, Status: final, Changes: nonNil(u.changes)}, nil
}

package ops

import (
	"context"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
)

// GoalAtDepth is a goal reached by a traversal. Depth is the length of the
// longest requires-chain between it and the starting goal.
type GoalAtDepth struct {
	Goal  goal.Goal `json:"goal"`
	Depth int       `json:"depth"`
}

// ResolvePrerequisites returns every goal the given goal transitively
// requires, nearest first: each goal appears after everything that depends
// on it within the result.
func (e *Engine) ResolvePrerequisites(ctx context.Context, goalID string) ([]GoalAtDepth, error) {
	return e.traverse(ctx, goalID, graph.Prerequisites)
}

// ResolveImpact returns every goal that transitively requires the given
// goal, ordered by depth, then priority descending, then id.
func (e *Engine) ResolveImpact(ctx context.Context, goalID string) ([]GoalAtDepth, error) {
	return e.traverse(ctx, goalID, graph.Impact)
}

func (e *Engine) traverse(ctx context.Context, goalID string, walk func(*graph.Graph, string) []graph.Reach) ([]GoalAtDepth, error) {
	if err := requireGoalID("goal_id", goalID); err != nil {
		return nil, err
	}
	start, err := db.GetGoal(ctx, e.db, goalID)
	if err != nil {
		return nil, err
	}
	if err := requireLive(start); err != nil {
		return nil, err
	}
	g, err := e.snapshot(ctx, start.UserID)
	if err != nil {
		return nil, err
	}

	reached := walk(g, goalID)
	out := make([]GoalAtDepth, 0, len(reached))
	for _, r := range reached {
		out = append(out, GoalAtDepth{Goal: *g.Goal(r.ID), Depth: r.Depth})
	}
	return out, nil
}

// CriticalPathOutput is the longest chain of open goals by estimated duration.
type CriticalPathOutput struct {
	Goals             []goal.Goal `json:"goals"`
	TotalDurationDays int         `json:"total_duration_days"`
}

// CriticalPath finds the requires-chain of open goals with the largest total
// estimated duration for a user. Goals without an estimate count as zero days.
func (e *Engine) CriticalPath(ctx context.Context, userID string) (*CriticalPathOutput, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	g, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	res := graph.CriticalPath(g)
	out := &CriticalPathOutput{Goals: make([]goal.Goal, 0, len(res.GoalIDs)), TotalDurationDays: res.TotalDurationDays}
	for _, id := range res.GoalIDs {
		out.Goals = append(out.Goals, *g.Goal(id))
	}
	return out, nil
}

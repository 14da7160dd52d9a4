package ops

import (
	"context"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
)

// AddDependencyInput contains parameters for the AddDependency operation.
type AddDependencyInput struct {
	ParentID    string `json:"parent_goal_id" validate:"required"`
	DependentID string `json:"dependent_goal_id" validate:"required"`

	// Type defaults to requires.
	Type string `json:"dependency_type"`

	// Strength 0 means goal.DefaultStrength.
	Strength int     `json:"strength" validate:"omitempty,min=1,max=5"`
	Notes    *string `json:"notes"`
}

// AddDependencyOutput contains the result of the AddDependency operation.
type AddDependencyOutput struct {
	Dependency goal.Dependency     `json:"dependency"`
	Changes    []goal.StatusChange `json:"status_changes"`
}

// AddDependency adds parent -> dependent after validating it against the
// user's current graph, then re-evaluates the dependent.
func (e *Engine) AddDependency(ctx context.Context, input AddDependencyInput) (*AddDependencyOutput, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	typ, err := goal.ParseDependencyType(input.Type)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if input.Strength == 0 {
		input.Strength = goal.DefaultStrength
	}
	if input.ParentID == input.DependentID {
		return nil, errors.NewSelfDependency(input.ParentID)
	}

	userID, err := e.sameOwner(ctx, input.ParentID, input.DependentID)
	if err != nil {
		return nil, err
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	dep := goal.Dependency{
		ID:          id,
		ParentID:    input.ParentID,
		DependentID: input.DependentID,
		Type:        typ,
		Strength:    input.Strength,
		Notes:       cleanOptional(input.Notes),
	}

	u, err := e.mutate(ctx, "add_dependency", userID, func(ctx context.Context, u *unitOfWork) error {
		if err := graph.Validate(u.graph, dep.ParentID, dep.DependentID, dep.Type); err != nil {
			return err
		}
		dep.CreatedAt = u.now
		if err := db.InsertDependency(ctx, u.tx, &dep); err != nil {
			return err
		}
		u.graph.AddEdge(dep.ParentID, dep.DependentID, dep.Type)
		if !dep.Type.Gates() {
			return nil
		}
		return u.propagate(ctx, dep.DependentID)
	})
	if err != nil {
		return nil, err
	}

	return &AddDependencyOutput{Dependency: dep, Changes: nonNil(u.changes)}, nil
}

// RemoveDependencyOutput contains the result of the RemoveDependency operation.
type RemoveDependencyOutput struct {
	Dependency goal.Dependency     `json:"dependency"`
	Changes    []goal.StatusChange `json:"status_changes"`
}

// RemoveDependency deletes parent -> dependent and re-evaluates the dependent.
func (e *Engine) RemoveDependency(ctx context.Context, parentID, dependentID string) (*RemoveDependencyOutput, error) {
	if err := requireGoalID("parent_goal_id", parentID); err != nil {
		return nil, err
	}
	if err := requireGoalID("dependent_goal_id", dependentID); err != nil {
		return nil, err
	}
	userID, err := e.sameOwner(ctx, parentID, dependentID)
	if err != nil {
		return nil, err
	}

	var removed *goal.Dependency
	u, err := e.mutate(ctx, "remove_dependency", userID, func(ctx context.Context, u *unitOfWork) error {
		dep, err := db.DeleteDependency(ctx, u.tx, parentID, dependentID)
		if err != nil {
			return err
		}
		removed = dep
		u.graph.RemoveEdge(parentID, dependentID)
		if !dep.Type.Gates() {
			return nil
		}
		return u.propagate(ctx, dependentID)
	})
	if err != nil {
		return nil, err
	}
	return &RemoveDependencyOutput{Dependency: *removed, Changes: nonNil(u.changes)}, nil
}

// sameOwner loads both goals and returns their user, failing when either is
// missing or they belong to different users.
func (e *Engine) sameOwner(ctx context.Context, a, b string) (string, error) {
	ga, err := db.GetGoal(ctx, e.db, a)
	if err != nil {
		return "", err
	}
	gb, err := db.GetGoal(ctx, e.db, b)
	if err != nil {
		return "", err
	}
	if ga.UserID != gb.UserID {
		return "", errors.NewCrossUserReference(a, b)
	}
	return ga.UserID, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

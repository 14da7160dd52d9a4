package ops

import (
	"context"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/graph"
)

// UpdateGoalInput contains parameters for the UpdateGoal operation.
// Nil fields are left unchanged; an empty string clears an optional field.
type UpdateGoalInput struct {
	GoalID string `json:"goal_id" validate:"required"`

	Title                 *string `json:"title" validate:"omitempty,max=500"`
	Description           *string `json:"description"`
	Category              *string `json:"category"`
	Priority              *int    `json:"priority" validate:"omitempty,min=1,max=5"`
	Deadline              *string `json:"deadline"`
	EstimatedDurationDays *int    `json:"estimated_duration_days" validate:"omitempty,min=0"`
	DifficultyLevel       *int    `json:"difficulty_level" validate:"omitempty,min=0,max=10"`
	Motivation            *string `json:"motivation"`
	SuccessCriteria       *string `json:"success_criteria"`
}

func (in UpdateGoalInput) empty() bool {
	return in.Title == nil && in.Description == nil && in.Category == nil &&
		in.Priority == nil && in.Deadline == nil && in.EstimatedDurationDays == nil &&
		in.DifficultyLevel == nil && in.Motivation == nil && in.SuccessCriteria == nil
}

// UpdateGoal edits a goal's descriptive fields. Status and edges are not
// touched here. When the text an embedding is computed from changes, a
// refresh is queued after commit.
func (e *Engine) UpdateGoal(ctx context.Context, input UpdateGoalInput) (*goal.Goal, error) {
	if input.Title != nil {
		title := goal.CleanTitle(*input.Title)
		if title == "" {
			return nil, errors.NewInvalidRequest("title must not be empty")
		}
		input.Title = &title
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.empty() {
		return nil, errors.NewInvalidRequest("at least one editable field must be provided")
	}

	var category *goal.Category
	if input.Category != nil {
		c, err := optionalCategory(*input.Category)
		if err != nil {
			return nil, err
		}
		category = c
	}
	var deadline *string
	if input.Deadline != nil {
		d, err := optionalDeadline(*input.Deadline)
		if err != nil {
			return nil, err
		}
		deadline = d
	}

	owner, err := db.GetGoal(ctx, e.db, input.GoalID)
	if err != nil {
		return nil, err
	}

	var updated goal.Goal
	var contentChanged bool
	_, err = e.mutate(ctx, "update_goal", owner.UserID, func(ctx context.Context, u *unitOfWork) error {
		if err := graph.CheckLive(u.graph, input.GoalID); err != nil {
			return err
		}
		g := *u.graph.Goal(input.GoalID)
		before := goal.SummaryText(&g)

		if input.Title != nil {
			g.Title = *input.Title
		}
		if input.Description != nil {
			g.Description = cleanOptional(input.Description)
		}
		if input.Category != nil {
			g.Category = category
		}
		if input.Priority != nil {
			g.Priority = *input.Priority
		}
		if input.Deadline != nil {
			g.Deadline = deadline
		}
		if input.EstimatedDurationDays != nil {
			g.EstimatedDurationDays = input.EstimatedDurationDays
		}
		if input.DifficultyLevel != nil {
			g.DifficultyLevel = *input.DifficultyLevel
		}
		if input.Motivation != nil {
			g.Motivation = cleanOptional(input.Motivation)
		}
		if input.SuccessCriteria != nil {
			g.SuccessCriteria = cleanOptional(input.SuccessCriteria)
		}
		g.UpdatedAt = u.now

		if err := db.UpdateGoal(ctx, u.tx, &g); err != nil {
			return err
		}
		updated = g
		contentChanged = goal.SummaryText(&g) != before
		return nil
	})
	if err != nil {
		return nil, err
	}

	if contentChanged {
		e.scheduleRefresh(updated.ID)
	}
	return &updated, nil
}

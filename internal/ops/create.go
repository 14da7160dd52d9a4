package ops

import (
	"context"

	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

// CreateGoalInput contains parameters for the CreateGoal operation.
type CreateGoalInput struct {
	UserID      string  `json:"user_id" validate:"required,uuid"`
	ChatID      string  `json:"chat_id" validate:"required,uuid"`
	Title       string  `json:"title" validate:"required,max=500"`
	Description *string `json:"description"`
	Category    string  `json:"category"`

	// Priority 0 means goal.DefaultPriority.
	Priority int `json:"priority" validate:"omitempty,min=1,max=5"`

	// Deadline is YYYY-MM-DD; empty means none.
	Deadline string `json:"deadline"`

	EstimatedDurationDays *int    `json:"estimated_duration_days" validate:"omitempty,min=0"`
	DifficultyLevel       int     `json:"difficulty_level" validate:"min=0,max=10"`
	Motivation            *string `json:"motivation"`
	SuccessCriteria       *string `json:"success_criteria"`
}

// CreateGoal adds a goal to the user's graph. A new goal has no parents,
// so it starts as todo.
func (e *Engine) CreateGoal(ctx context.Context, input CreateGoalInput) (*goal.Goal, error) {
	input.Title = goal.CleanTitle(input.Title)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	category, err := optionalCategory(input.Category)
	if err != nil {
		return nil, err
	}
	deadline, err := optionalDeadline(input.Deadline)
	if err != nil {
		return nil, err
	}
	if input.Priority == 0 {
		input.Priority = goal.DefaultPriority
	}

	id, err := generateULID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	g := &goal.Goal{
		ID:                    id,
		UserID:                input.UserID,
		ChatID:                input.ChatID,
		Title:                 input.Title,
		Description:           cleanOptional(input.Description),
		Status:                goal.StatusTodo,
		Category:              category,
		Priority:              input.Priority,
		Deadline:              deadline,
		EstimatedDurationDays: input.EstimatedDurationDays,
		DifficultyLevel:       input.DifficultyLevel,
		Motivation:            cleanOptional(input.Motivation),
		SuccessCriteria:       cleanOptional(input.SuccessCriteria),
	}

	_, err = e.mutate(ctx, "create_goal", input.UserID, func(ctx context.Context, u *unitOfWork) error {
		g.CreatedAt = u.now
		g.UpdatedAt = u.now
		return db.InsertGoal(ctx, u.tx, g)
	})
	if err != nil {
		return nil, err
	}

	e.scheduleRefresh(g.ID)
	return g, nil
}

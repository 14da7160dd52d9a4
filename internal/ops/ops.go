package ops

import (
	"crypto/rand"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so messages match what callers sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// validateInput checks struct tags and returns INVALID_REQUEST on failure.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.NewInvalidRequest(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	gerr := errors.NewInvalidRequest(strings.Join(msgs, "; "))
	gerr.Details = map[string]any{"field": verrs[0].Field()}
	return gerr
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "uuid":
		return fmt.Sprintf("%s must be a UUID", field)
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// requireUserID checks that id is a UUID as issued by the chat layer.
func requireUserID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewInvalidRequest("user_id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.NewInvalidRequest("user_id must be a UUID")
	}
	return nil
}

// requireGoalID rejects blank goal ids before they reach storage.
func requireGoalID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.NewInvalidRequest(field + " is required")
	}
	return nil
}

// requireLive returns UNKNOWN_GOAL for goals archived by a merge.
func requireLive(g *goal.Goal) error {
	if g.Archived() {
		return errors.NewArchivedGoal(g.ID, g.MergedInto())
	}
	return nil
}

// optionalCategory parses a category; blank means none.
func optionalCategory(s string) (*goal.Category, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	c, err := goal.ParseCategory(s)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &c, nil
}

// optionalDeadline parses a YYYY-MM-DD deadline; blank means none.
func optionalDeadline(s string) (*string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := goal.ParseDeadline(s)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &d, nil
}

// generateULID generates a new ULID.
func generateULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// cleanOptional trims s; blank strings become nil.
func cleanOptional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

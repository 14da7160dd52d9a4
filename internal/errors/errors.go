package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a goalgraph error code.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"              // 400
	ErrSelfDependency      ErrorCode = "SELF_DEPENDENCY"              // 400
	ErrCrossUserReference  ErrorCode = "CROSS_USER_REFERENCE"         // 403
	ErrUnknownGoal         ErrorCode = "UNKNOWN_GOAL"                 // 404
	ErrCycleDetected       ErrorCode = "CYCLE_DETECTED"               // 409
	ErrRedundantEdge       ErrorCode = "REDUNDANT_EDGE"               // 409
	ErrDuplicateEdge       ErrorCode = "DUPLICATE_EDGE"               // 409
	ErrConflict            ErrorCode = "CONCURRENT_MUTATION_CONFLICT" // 409, retryable
	ErrStorageInvariant    ErrorCode = "STORAGE_INVARIANT_VIOLATION"  // 500
	ErrInternal            ErrorCode = "INTERNAL"                     // 500
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"         // 503, retryable
)

// Validator rejection reasons, carried in Details["reason"].
const (
	ReasonCycleDetected  = "cycle_detected"
	ReasonRedundantEdge  = "redundant_transitive_edge"
	ReasonSelfDependency = "self_dependency"
	ReasonDuplicateEdge  = "duplicate_edge"
)

// GraphError represents a structured error with code, status, and details.
type GraphError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is kept for logging only and never rendered to callers.
	cause error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *GraphError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the operation may succeed if attempted again.
func (e *GraphError) Retryable() bool {
	return e.Code == ErrConflict || e.Code == ErrProviderUnavailable
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *GraphError {
	return &GraphError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewSelfDependency creates a 400 error for an edge from a goal to itself.
func NewSelfDependency(goalID string) *GraphError {
	return &GraphError{
		Code:    ErrSelfDependency,
		Status:  400,
		Message: fmt.Sprintf("goal cannot depend on itself: %s", goalID),
		Details: map[string]any{"reason": ReasonSelfDependency, "goal_id": goalID},
	}
}

// NewCrossUserReference creates a 403 error when two goals belong to different users.
func NewCrossUserReference(a, b string) *GraphError {
	return &GraphError{
		Code:    ErrCrossUserReference,
		Status:  403,
		Message: fmt.Sprintf("goals %s and %s belong to different users", a, b),
		Details: map[string]any{"goal_ids": []string{a, b}},
	}
}

// NewUnknownGoal creates a 404 error for when a goal cannot be found.
func NewUnknownGoal(goalID string) *GraphError {
	return &GraphError{
		Code:    ErrUnknownGoal,
		Status:  404,
		Message: fmt.Sprintf("goal not found: %s", goalID),
		Details: map[string]any{"goal_id": goalID},
	}
}

// NewArchivedGoal creates a 404 error for a goal that was merged away.
// mergedIntoID may be empty.
func NewArchivedGoal(goalID, mergedIntoID string) *GraphError {
	e := NewUnknownGoal(goalID)
	e.Message = fmt.Sprintf("goal is archived: %s", goalID)
	e.Details["archived"] = true
	if mergedIntoID != "" {
		e.Details["merged_into_id"] = mergedIntoID
	}
	return e
}

// NewCycleDetected creates a 409 error when an edge would close a requires-cycle.
// path lists the existing chain from dependent back to parent.
func NewCycleDetected(parentID, dependentID string, path []string) *GraphError {
	return &GraphError{
		Code:    ErrCycleDetected,
		Status:  409,
		Message: fmt.Sprintf("dependency %s -> %s would create a cycle", parentID, dependentID),
		Details: map[string]any{
			"reason":       ReasonCycleDetected,
			"parent_id":    parentID,
			"dependent_id": dependentID,
			"path":         path,
		},
	}
}

// NewRedundantEdge creates a 409 error when an edge is implied by an existing path.
func NewRedundantEdge(parentID, dependentID string, path []string) *GraphError {
	return &GraphError{
		Code:    ErrRedundantEdge,
		Status:  409,
		Message: fmt.Sprintf("dependency %s -> %s is implied by an existing path", parentID, dependentID),
		Details: map[string]any{
			"reason":       ReasonRedundantEdge,
			"parent_id":    parentID,
			"dependent_id": dependentID,
			"path":         path,
		},
	}
}

// NewSupersedesEdge creates a 409 error when a new edge would make an existing
// edge redundant. The existing edge has to be removed first.
func NewSupersedesEdge(parentID, dependentID, existingParent, existingDependent string) *GraphError {
	return &GraphError{
		Code:   ErrRedundantEdge,
		Status: 409,
		Message: fmt.Sprintf("dependency %s -> %s would make existing dependency %s -> %s redundant",
			parentID, dependentID, existingParent, existingDependent),
		Details: map[string]any{
			"reason":       ReasonRedundantEdge,
			"parent_id":    parentID,
			"dependent_id": dependentID,
			"supersedes":   []string{existingParent, existingDependent},
		},
	}
}

// NewDuplicateEdge creates a 409 error when the ordered pair already exists.
func NewDuplicateEdge(parentID, dependentID string) *GraphError {
	return &GraphError{
		Code:    ErrDuplicateEdge,
		Status:  409,
		Message: fmt.Sprintf("dependency %s -> %s already exists", parentID, dependentID),
		Details: map[string]any{
			"reason":       ReasonDuplicateEdge,
			"parent_id":    parentID,
			"dependent_id": dependentID,
		},
	}
}

// NewConflict creates a retryable 409 error for lock or isolation contention.
func NewConflict(msg string) *GraphError {
	return &GraphError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewProviderUnavailable creates a retryable 503 error for embedding or
// summarization failures.
func NewProviderUnavailable(provider string, err error) *GraphError {
	return &GraphError{
		Code:    ErrProviderUnavailable,
		Status:  503,
		Message: fmt.Sprintf("%s provider unavailable", provider),
		Details: map[string]any{"provider": provider},
		cause:   err,
	}
}

// NewStorageInvariant creates a 500 error for a constraint that fired at the
// storage layer. kind is a taxonomy name, never a raw constraint name.
func NewStorageInvariant(kind string, err error) *GraphError {
	return &GraphError{
		Code:    ErrStorageInvariant,
		Status:  500,
		Message: fmt.Sprintf("storage invariant violated: %s", kind),
		Details: map[string]any{"violation": kind},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *GraphError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &GraphError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		cause:   err,
	}
}

// Is checks if an error is a GraphError with the given code.
// Wrapped errors are unwrapped.
func Is(err error, code ErrorCode) bool {
	var gErr *GraphError
	if stderrors.As(err, &gErr) {
		return gErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a GraphError worth retrying.
func IsRetryable(err error) bool {
	var gErr *GraphError
	if stderrors.As(err, &gErr) {
		return gErr.Retryable()
	}
	return false
}

// As extracts a GraphError from err.
func As(err error) (*GraphError, bool) {
	var gErr *GraphError
	ok := stderrors.As(err, &gErr)
	return gErr, ok
}

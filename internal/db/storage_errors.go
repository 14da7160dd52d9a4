package db

import (
	"strings"

	"github.com/aimi/goalgraph/internal/errors"
)

// Storage violation kinds reported in STORAGE_INVARIANT_VIOLATION details.
const (
	ViolationPriorityRange   = "priority_out_of_range"
	ViolationStrengthRange   = "strength_out_of_range"
	ViolationSelfDependency  = "self_dependency"
	ViolationDuplicateEdge   = "duplicate_edge"
	ViolationCrossUser       = "cross_user_dependency"
	ViolationDuplicateActive = "duplicate_active_embedding"
	ViolationDuplicateID     = "duplicate_id"
	ViolationForeignKey      = "foreign_key"
	ViolationCheck           = "check_constraint"
)

// constraintKinds maps substrings of SQLite constraint messages to violation kinds.
// Order matters: the first match wins.
var constraintKinds = []struct {
	match string
	kind  string
}{
	{"goals_priority_range", ViolationPriorityRange},
	{"deps_strength_range", ViolationStrengthRange},
	{"deps_no_self", ViolationSelfDependency},
	{"cross_user_dependency", ViolationCrossUser},
	{"UNIQUE constraint failed: goal_dependencies.parent_goal_id", ViolationDuplicateEdge},
	{"UNIQUE constraint failed: goal_embeddings.goal_id", ViolationDuplicateActive},
	{"UNIQUE constraint failed", ViolationDuplicateID},
	{"FOREIGN KEY constraint failed", ViolationForeignKey},
	{"CHECK constraint failed", ViolationCheck},
}

// MapError converts a driver error into the error taxonomy.
// Lock contention becomes a retryable conflict; constraint failures become
// STORAGE_INVARIANT_VIOLATION with a kind, never the raw constraint text.
// Errors that are already GraphErrors pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if isBusyError(err) {
		return errors.NewConflict("graph is being modified concurrently, retry")
	}
	if kind, ok := ConstraintKind(err); ok {
		return errors.NewStorageInvariant(kind, err)
	}
	return errors.NewInternal(err)
}

// ConstraintKind returns the violation kind for a constraint error.
func ConstraintKind(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	msg := err.Error()
	for _, ck := range constraintKinds {
		if strings.Contains(msg, ck.match) {
			return ck.kind, true
		}
	}
	return "", false
}

// isBusyError checks for SQLITE_BUSY / SQLITE_LOCKED after busy_timeout expired.
func isBusyError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

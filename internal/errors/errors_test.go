package errors

import (
	"fmt"
	"testing"
)

func TestGraphError_Error(t *testing.T) {
	err := &GraphError{
		Code:    ErrUnknownGoal,
		Status:  404,
		Message: "goal not found: g1",
	}

	expected := "UNKNOWN_GOAL: goal not found: g1"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *GraphError
		code   ErrorCode
		status int
	}{
		{"invalid request", NewInvalidRequest("title is required"), ErrInvalidRequest, 400},
		{"self dependency", NewSelfDependency("g1"), ErrSelfDependency, 400},
		{"cross user", NewCrossUserReference("g1", "g2"), ErrCrossUserReference, 403},
		{"unknown goal", NewUnknownGoal("g1"), ErrUnknownGoal, 404},
		{"cycle", NewCycleDetected("g1", "g2", []string{"g2", "g1"}), ErrCycleDetected, 409},
		{"redundant", NewRedundantEdge("g1", "g3", []string{"g1", "g2", "g3"}), ErrRedundantEdge, 409},
		{"supersedes", NewSupersedesEdge("g1", "g2", "g0", "g2"), ErrRedundantEdge, 409},
		{"duplicate", NewDuplicateEdge("g1", "g2"), ErrDuplicateEdge, 409},
		{"conflict", NewConflict("lock busy"), ErrConflict, 409},
		{"storage", NewStorageInvariant("foreign_key", nil), ErrStorageInvariant, 500},
		{"internal", NewInternal(fmt.Errorf("boom")), ErrInternal, 500},
		{"provider", NewProviderUnavailable("embed", nil), ErrProviderUnavailable, 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.code)
			}
			if tt.err.Status != tt.status {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.status)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestValidatorReasons(t *testing.T) {
	tests := []struct {
		err    *GraphError
		reason string
	}{
		{NewSelfDependency("g1"), ReasonSelfDependency},
		{NewCycleDetected("g1", "g2", nil), ReasonCycleDetected},
		{NewRedundantEdge("g1", "g3", nil), ReasonRedundantEdge},
		{NewSupersedesEdge("g1", "g2", "g0", "g2"), ReasonRedundantEdge},
		{NewDuplicateEdge("g1", "g2"), ReasonDuplicateEdge},
	}
	for _, tt := range tests {
		if got := tt.err.Details["reason"]; got != tt.reason {
			t.Errorf("%s reason = %v, want %q", tt.err.Code, got, tt.reason)
		}
	}
}

func TestNewCycleDetected_Path(t *testing.T) {
	err := NewCycleDetected("a", "c", []string{"c", "b", "a"})

	path, ok := err.Details["path"].([]string)
	if !ok || len(path) != 3 || path[0] != "c" || path[2] != "a" {
		t.Errorf("Details[path] = %v, want [c b a]", err.Details["path"])
	}
	if err.Details["parent_id"] != "a" || err.Details["dependent_id"] != "c" {
		t.Errorf("Details = %v", err.Details)
	}
}

func TestNewSupersedesEdge(t *testing.T) {
	err := NewSupersedesEdge("a", "b", "root", "c")

	sup, ok := err.Details["supersedes"].([]string)
	if !ok || len(sup) != 2 || sup[0] != "root" || sup[1] != "c" {
		t.Errorf("Details[supersedes] = %v, want [root c]", err.Details["supersedes"])
	}
}

func TestNewArchivedGoal(t *testing.T) {
	err := NewArchivedGoal("dup", "primary")

	if err.Code != ErrUnknownGoal {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnknownGoal)
	}
	if err.Details["archived"] != true {
		t.Errorf("Details[archived] = %v, want true", err.Details["archived"])
	}
	if err.Details["merged_into_id"] != "primary" {
		t.Errorf("Details[merged_into_id] = %v, want primary", err.Details["merged_into_id"])
	}

	bare := NewArchivedGoal("dup", "")
	if _, ok := bare.Details["merged_into_id"]; ok {
		t.Error("merged_into_id should be absent when unknown")
	}
}

func TestRetryable(t *testing.T) {
	if !NewConflict("busy").Retryable() {
		t.Error("conflict should be retryable")
	}
	if !NewProviderUnavailable("embed", nil).Retryable() {
		t.Error("provider unavailable should be retryable")
	}
	if NewCycleDetected("a", "b", nil).Retryable() {
		t.Error("cycle should not be retryable")
	}

	wrapped := fmt.Errorf("attempt 2: %w", NewConflict("busy"))
	if !IsRetryable(wrapped) {
		t.Error("IsRetryable should unwrap")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestIs(t *testing.T) {
	err := NewUnknownGoal("g1")
	if !Is(err, ErrUnknownGoal) {
		t.Error("Is should match its own code")
	}
	if Is(err, ErrInvalidRequest) {
		t.Error("Is should not match other codes")
	}
	if !Is(fmt.Errorf("wrapped: %w", err), ErrUnknownGoal) {
		t.Error("Is should unwrap")
	}
	if Is(fmt.Errorf("plain"), ErrUnknownGoal) {
		t.Error("Is should not match non-GraphError")
	}
}

func TestAs(t *testing.T) {
	original := NewDuplicateEdge("a", "b")
	got, ok := As(fmt.Errorf("ctx: %w", original))
	if !ok || got != original {
		t.Errorf("As = %v, %v; want original", got, ok)
	}
	if _, ok := As(fmt.Errorf("plain")); ok {
		t.Error("As should fail on non-GraphError")
	}
}

func TestCauseIsUnwrapped(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewProviderUnavailable("embed", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want cause", err.Unwrap())
	}
	if err.Message != "embed provider unavailable" {
		t.Errorf("Message = %q, cause must not leak", err.Message)
	}
}

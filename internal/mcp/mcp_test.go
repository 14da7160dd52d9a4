package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/db"
	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/ops"
)

const (
	testUser = "7f1d2c3b-4a5e-4f60-8a9b-0c1d2e3f4a5b"
	testChat = "3c2b1a09-8f7e-4d6c-8b5a-493827160504"
)

// testSetup creates a temporary database, engine and config for testing.
func testSetup(t *testing.T) (*ops.Engine, *config.Config) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.RefreshWorkers = 0
	engine := ops.New(database, ops.Options{Config: cfg})
	t.Cleanup(engine.Close)
	return engine, cfg
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func createGoal(t *testing.T, h *Handlers, title string) string {
	t.Helper()
	result, err := h.HandleCreate(context.Background(), makeRequest(map[string]any{
		"user_id": testUser,
		"chat_id": testChat,
		"title":   title,
	}))
	if err != nil {
		t.Fatalf("HandleCreate error: %v", err)
	}
	out := parseOutput(t, result)
	id, _ := out["id"].(string)
	if id == "" {
		t.Fatalf("created goal has no id: %v", out)
	}
	return id
}

func TestHandleCreate(t *testing.T) {
	engine, _ := testSetup(t)
	h := NewHandlers(engine)

	tests := []struct {
		name     string
		args     map[string]any
		wantCode string
	}{
		{
			name: "valid",
			args: map[string]any{"user_id": testUser, "chat_id": testChat, "title": "Learn Go", "priority": float64(4), "category": "learning"},
		},
		{
			name:     "missing title",
			args:     map[string]any{"user_id": testUser, "chat_id": testChat},
			wantCode: "INVALID_REQUEST",
		},
		{
			name:     "fractional priority",
			args:     map[string]any{"user_id": testUser, "chat_id": testChat, "title": "x", "priority": 2.5},
			wantCode: "INVALID_REQUEST",
		},
		{
			name:     "wrong type",
			args:     map[string]any{"user_id": testUser, "chat_id": testChat, "title": 12},
			wantCode: "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := h.HandleCreate(context.Background(), makeRequest(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantCode != "" {
				if !result.IsError {
					t.Fatal("expected error result")
				}
				assertErrorCode(t, result, tt.wantCode)
				return
			}
			out := parseOutput(t, result)
			if out["status"] != "todo" {
				t.Errorf("status = %v, want todo", out["status"])
			}
			if out["priority"] != float64(4) {
				t.Errorf("priority = %v, want 4", out["priority"])
			}
		})
	}
}

func TestHandleCreate_MistypedArgument(t *testing.T) {
	engine, _ := testSetup(t)
	h := NewHandlers(engine)

	result, err := h.HandleCreate(context.Background(), makeRequest(map[string]any{
		"user_id":  testUser,
		"chat_id":  testChat,
		"title":    "Learn Go",
		"priority": "high",
	}))
	if err != nil {
		t.Fatalf("HandleCreate error: %v", err)
	}
	assertErrorCode(t, result, string(errors.ErrInvalidRequest))
	details, _ := errorObject(t, result)["details"].(map[string]any)
	if details["field"] != "priority" {
		t.Errorf("details = %v, want field priority", details)
	}
}

func TestHandleDependencyLifecycle(t *testing.T) {
	engine, _ := testSetup(t)
	h := NewHandlers(engine)
	ctx := context.Background()

	a := createGoal(t, h, "A")
	b := createGoal(t, h, "B")

	result, err := h.HandleAddDependency(ctx, makeRequest(map[string]any{
		"parent_goal_id":    a,
		"dependent_goal_id": b,
	}))
	if err != nil {
		t.Fatal(err)
	}
	out := parseOutput(t, result)
	changes, _ := out["status_changes"].([]any)
	if len(changes) != 1 {
		t.Fatalf("status_changes = %v, want one", out["status_changes"])
	}

	// Reverse edge is a cycle; details survive for client errors.
	result, _ = h.HandleAddDependency(ctx, makeRequest(map[string]any{
		"parent_goal_id":    b,
		"dependent_goal_id": a,
	}))
	assertErrorCode(t, result, "CYCLE_DETECTED")
	details := errorObject(t, result)["details"].(map[string]any)
	if details["reason"] != "cycle_detected" {
		t.Errorf("reason = %v, want cycle_detected", details["reason"])
	}

	result, _ = h.HandleGet(ctx, makeRequest(map[string]any{"goal_id": b}))
	out = parseOutput(t, result)
	if out["status"] != "blocked" {
		t.Errorf("B status = %v, want blocked", out["status"])
	}
	if deps, _ := out["dependencies"].([]any); len(deps) != 1 {
		t.Errorf("dependencies = %v, want one", out["dependencies"])
	}

	result, _ = h.HandlePrerequisites(ctx, makeRequest(map[string]any{"goal_id": b}))
	out = parseOutput(t, result)
	if prereqs, _ := out["prerequisites"].([]any); len(prereqs) != 1 {
		t.Errorf("prerequisites = %v, want [A]", out["prerequisites"])
	}

	result, _ = h.HandleImpact(ctx, makeRequest(map[string]any{"goal_id": a}))
	out = parseOutput(t, result)
	if impacted, _ := out["impacted"].([]any); len(impacted) != 1 {
		t.Errorf("impacted = %v, want [B]", out["impacted"])
	}

	result, _ = h.HandleSetStatus(ctx, makeRequest(map[string]any{"goal_id": a, "status": "done"}))
	out = parseOutput(t, result)
	if out["status"] != "done" {
		t.Errorf("status = %v, want done", out["status"])
	}

	result, _ = h.HandleAvailable(ctx, makeRequest(map[string]any{"user_id": testUser}))
	out = parseOutput(t, result)
	if goals, _ := out["goals"].([]any); len(goals) != 1 {
		t.Errorf("available = %v, want [B]", out["goals"])
	}

	result, _ = h.HandleRemoveDependency(ctx, makeRequest(map[string]any{"parent_goal_id": a, "dependent_goal_id": b}))
	parseOutput(t, result)
	result, _ = h.HandleRemoveDependency(ctx, makeRequest(map[string]any{"parent_goal_id": a, "dependent_goal_id": b}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestHandleMergeAndList(t *testing.T) {
	engine, _ := testSetup(t)
	h := NewHandlers(engine)
	ctx := context.Background()

	primary := createGoal(t, h, "Run a marathon")
	dup := createGoal(t, h, "Complete a marathon")

	result, _ := h.HandleMerge(ctx, makeRequest(map[string]any{"primary_goal_id": primary, "duplicate_goal_id": dup}))
	out := parseOutput(t, result)
	if out["already_merged"] != false {
		t.Errorf("already_merged = %v, want false", out["already_merged"])
	}

	result, _ = h.HandleMerge(ctx, makeRequest(map[string]any{"primary_goal_id": primary, "duplicate_goal_id": dup}))
	out = parseOutput(t, result)
	if out["already_merged"] != true {
		t.Errorf("already_merged = %v, want true", out["already_merged"])
	}

	result, _ = h.HandleList(ctx, makeRequest(map[string]any{"user_id": testUser}))
	out = parseOutput(t, result)
	if goals, _ := out["goals"].([]any); len(goals) != 1 {
		t.Errorf("goals = %d, want 1 without archived", len(goals))
	}
	result, _ = h.HandleList(ctx, makeRequest(map[string]any{"user_id": testUser, "include_archived": true, "statuses": []any{"canceled"}}))
	out = parseOutput(t, result)
	if goals, _ := out["goals"].([]any); len(goals) != 1 {
		t.Errorf("canceled goals = %d, want the archived duplicate", len(goals))
	}

	result, _ = h.HandleStats(ctx, makeRequest(map[string]any{"user_id": testUser}))
	out = parseOutput(t, result)
	if out["total"] != float64(1) {
		t.Errorf("total = %v, want 1", out["total"])
	}

	result, _ = h.HandleCriticalPath(ctx, makeRequest(map[string]any{"user_id": testUser}))
	out = parseOutput(t, result)
	if goals, _ := out["goals"].([]any); len(goals) != 1 {
		t.Errorf("critical path = %v, want the primary alone", out["goals"])
	}
}

func TestHandleSimilar_NoProvider(t *testing.T) {
	engine, _ := testSetup(t)
	h := NewHandlers(engine)
	ctx := context.Background()
	id := createGoal(t, h, "Learn Go")

	result, _ := h.HandleSimilar(ctx, makeRequest(map[string]any{"goal_id": id}))
	assertErrorCode(t, result, "PROVIDER_UNAVAILABLE")
	if errorObject(t, result)["retryable"] != true {
		t.Error("provider errors should be retryable")
	}

	result, _ = h.HandleSimilarText(ctx, makeRequest(map[string]any{"user_id": testUser, "text": "golang"}))
	assertErrorCode(t, result, "PROVIDER_UNAVAILABLE")
}

func TestHandleUpdate(t *testing.T) {
	engine, _ := testSetup(t)
	h := NewHandlers(engine)
	ctx := context.Background()
	id := createGoal(t, h, "Learn Go")

	result, _ := h.HandleUpdate(ctx, makeRequest(map[string]any{"goal_id": id, "title": "Learn Go generics", "deadline": "2026-09-01"}))
	out := parseOutput(t, result)
	if out["title"] != "Learn Go generics" || out["deadline"] != "2026-09-01" {
		t.Errorf("updated = %v", out)
	}

	result, _ = h.HandleUpdate(ctx, makeRequest(map[string]any{"goal_id": id}))
	assertErrorCode(t, result, "INVALID_REQUEST")

	result, _ = h.HandleUpdate(ctx, makeRequest(map[string]any{"goal_id": "01HZZZZZZZZZZZZZZZZZZZZZZZ", "title": "x"}))
	assertErrorCode(t, result, "UNKNOWN_GOAL")
}

func TestHandleExportImport(t *testing.T) {
	engine, cfg := testSetup(t)
	dir := t.TempDir()
	cfg.AllowedPaths = []string{dir}
	h := NewHandlers(engine)
	ctx := context.Background()

	a := createGoal(t, h, "Save an emergency fund")
	b := createGoal(t, h, "Buy a house")
	result, _ := h.HandleAddDependency(ctx, makeRequest(map[string]any{"parent_goal_id": a, "dependent_goal_id": b}))
	parseOutput(t, result)

	path := filepath.Join(dir, "backup.jsonl")
	result, err := h.HandleExport(ctx, makeRequest(map[string]any{"user_id": testUser, "path": path}))
	if err != nil {
		t.Fatalf("HandleExport error: %v", err)
	}
	out := parseOutput(t, result)
	if out["goals"] != float64(2) || out["dependencies"] != float64(1) {
		t.Errorf("export = %v, want 2 goals and 1 dependency", out)
	}

	const otherUser = "0b7e9a34-2f1c-4d5e-9a8b-7c6d5e4f3a21"
	result, _ = h.HandleImport(ctx, makeRequest(map[string]any{"path": path, "user_id": otherUser}))
	out = parseOutput(t, result)
	if out["goals"] != float64(2) || out["dependencies"] != float64(1) {
		t.Errorf("import = %v, want 2 goals and 1 dependency", out)
	}

	result, _ = h.HandleExport(ctx, makeRequest(map[string]any{"user_id": testUser, "path": filepath.Join(t.TempDir(), "x.jsonl")}))
	assertErrorCode(t, result, "INVALID_REQUEST")
}

func TestServerRegistration(t *testing.T) {
	engine, cfg := testSetup(t)

	s := NewServer(engine, cfg, nil, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"goal_create",
		"goal_get",
		"goal_list",
		"goal_available",
		"goal_update",
		"goal_set_status",
		"goal_stats",
		"goal_similar",
		"goal_similar_text",
		"goal_merge",
		"dependency_add",
		"dependency_remove",
		"graph_prerequisites",
		"graph_impact",
		"graph_critical_path",
		"graph_export",
		"graph_import",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}
	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	engine, cfg := testSetup(t)

	cfg.DisabledTools = []string{"goal_merge", "goal_merge", "dependency_remove"}
	s := NewServer(engine, cfg, nil, "test")
	tools := s.ListTools()

	if len(tools) != 15 {
		t.Errorf("registered tool count = %d, want 15", len(tools))
	}
	for _, name := range []string{"goal_merge", "dependency_remove"} {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}
}

func TestServerRegistration_WithDisabledTypes(t *testing.T) {
	engine, cfg := testSetup(t)

	cfg.DisabledTypes = []string{"graph"}
	s := NewServer(engine, cfg, nil, "test")
	tools := s.ListTools()

	if len(tools) != 12 {
		t.Errorf("registered tool count = %d, want 12", len(tools))
	}
	if _, ok := tools["graph_impact"]; ok {
		t.Error("graph tools should be disabled")
	}
}

func TestServerRegistration_AllToolsDisabled(t *testing.T) {
	engine, cfg := testSetup(t)

	cfg.DisabledTools = AllToolNames()
	s := NewServer(engine, cfg, nil, "test")
	if tools := s.ListTools(); len(tools) != 0 {
		t.Errorf("registered tool count = %d, want 0 (all disabled)", len(tools))
	}
}

func TestValidateDisabled(t *testing.T) {
	if unknown := ValidateDisabledTools([]string{"goal_merge", "goal_delete"}); len(unknown) != 1 || unknown[0] != "goal_delete" {
		t.Errorf("ValidateDisabledTools unknown = %v, want [goal_delete]", unknown)
	}
	if unknown := ValidateDisabledTypes([]string{"goal", "dependency", "graph"}); len(unknown) != 0 {
		t.Errorf("ValidateDisabledTypes unknown = %v, want none", unknown)
	}
	if unknown := ValidateDisabledTypes([]string{"habit"}); len(unknown) != 1 {
		t.Errorf("ValidateDisabledTypes unknown = %v, want [habit]", unknown)
	}
	if got := GetTypeForTool("goal_similar_text"); got != "goal" {
		t.Errorf("GetTypeForTool = %q, want goal", got)
	}
	if got := len(ExpandTypesToTools([]string{"dependency"})); got != 2 {
		t.Errorf("ExpandTypesToTools(dependency) = %d tools, want 2", got)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrInternal) {
		t.Fatalf("code=%v, want %v", errObj["code"], errors.ErrInternal)
	}
	if _, ok := errObj["details"]; ok {
		t.Fatal("expected INTERNAL errors to omit details")
	}
}

func TestErrorResult_WrappedGraphError(t *testing.T) {
	r := errorResult(fmt.Errorf("merge: %w", errors.NewUnknownGoal("abc")))
	errObj := errorObject(t, r)
	if errObj["code"] != string(errors.ErrUnknownGoal) {
		t.Errorf("code=%v, want %v", errObj["code"], errors.ErrUnknownGoal)
	}
	if _, ok := errObj["details"]; !ok {
		t.Error("expected client errors to include details")
	}
}

func TestErrorResult_PlainError(t *testing.T) {
	errObj := errorObject(t, errorResult(fmt.Errorf("boom")))
	if errObj["code"] != string(errors.ErrInternal) || errObj["message"] != "an internal error occurred" {
		t.Errorf("plain error rendered as %v", errObj)
	}
}

// Helper functions

// parseOutput extracts and unmarshals the JSON output from an MCP result.
func parseOutput(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	if result.IsError {
		t.Fatalf("expected success, got error: %v", extractErrorMessage(result))
	}
	var output map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].(mcp.TextContent).Text), &output); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	return output
}

func errorObject(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal([]byte(extractErrorMessage(result)), &payload); err != nil {
		t.Fatalf("failed to unmarshal error payload: %v", err)
	}
	errObj, ok := payload["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in payload: %v", payload)
	}
	return errObj
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, expectedCode string) {
	t.Helper()
	if !result.IsError {
		t.Fatalf("expected error %s, got success: %s", expectedCode, extractErrorMessage(result))
	}
	if code := errorObject(t, result)["code"]; code != expectedCode {
		t.Errorf("got error code %q, want %q", code, expectedCode)
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return "<no content>"
	}
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		return "<not text content>"
	}
	return text.Text
}

package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aimi/goalgraph/internal/errors"
	"github.com/aimi/goalgraph/internal/goal"
	"github.com/aimi/goalgraph/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	engine *ops.Engine
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(engine *ops.Engine) *Handlers {
	return &Handlers{engine: engine}
}

// Request types for tools whose operation takes positional arguments.
// The rest decode straight into the ops input.

// GoalRequest represents the arguments for tools addressing one goal.
type GoalRequest struct {
	GoalID string `json:"goal_id"`
}

// UserRequest represents the arguments for tools addressing one user's graph.
type UserRequest struct {
	UserID string `json:"user_id"`
}

// SetStatusRequest represents the arguments for goal_set_status.
type SetStatusRequest struct {
	GoalID string `json:"goal_id"`
	Status string `json:"status"`
}

// RemoveDependencyRequest represents the arguments for dependency_remove.
type RemoveDependencyRequest struct {
	ParentID    string `json:"parent_goal_id"`
	DependentID string `json:"dependent_goal_id"`
}

// call decodes the request into In, runs fn and renders the result.
func call[In, Out any](ctx context.Context, req mcp.CallToolRequest, fn func(context.Context, In) (Out, error)) (*mcp.CallToolResult, error) {
	input, err := decode[In](req)
	if err != nil {
		return errorResult(err), nil
	}
	result, err := fn(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleCreate handles the goal_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.CreateGoal)
}

// HandleGet handles the goal_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in GoalRequest) (*ops.GoalView, error) {
		return h.engine.GetGoal(ctx, in.GoalID)
	})
}

// HandleList handles the goal_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.ListGoals)
}

// HandleAvailable handles the goal_available tool call.
func (h *Handlers) HandleAvailable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in UserRequest) (map[string]any, error) {
		goals, err := h.engine.AvailableGoals(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"goals": goals}, nil
	})
}

// HandleUpdate handles the goal_update tool call.
func (h *Handlers) HandleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.UpdateGoal)
}

// HandleSetStatus handles the goal_set_status tool call.
func (h *Handlers) HandleSetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in SetStatusRequest) (*ops.StatusOutput, error) {
		return h.engine.SetStatus(ctx, in.GoalID, goal.Status(in.Status))
	})
}

// HandleStats handles the goal_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in UserRequest) (any, error) {
		return h.engine.Stats(ctx, in.UserID)
	})
}

// HandleSimilar handles the goal_similar tool call.
func (h *Handlers) HandleSimilar(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in ops.SimilarInput) (map[string]any, error) {
		matches, err := h.engine.FindSimilar(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"matches": matches}, nil
	})
}

// HandleSimilarText handles the goal_similar_text tool call.
func (h *Handlers) HandleSimilarText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in ops.SimilarTextInput) (map[string]any, error) {
		matches, err := h.engine.FindSimilarText(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"matches": matches}, nil
	})
}

// HandleMerge handles the goal_merge tool call.
func (h *Handlers) HandleMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.Merge)
}

// HandleAddDependency handles the dependency_add tool call.
func (h *Handlers) HandleAddDependency(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.AddDependency)
}

// HandleRemoveDependency handles the dependency_remove tool call.
func (h *Handlers) HandleRemoveDependency(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in RemoveDependencyRequest) (*ops.RemoveDependencyOutput, error) {
		return h.engine.RemoveDependency(ctx, in.ParentID, in.DependentID)
	})
}

// HandlePrerequisites handles the graph_prerequisites tool call.
func (h *Handlers) HandlePrerequisites(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in GoalRequest) (map[string]any, error) {
		goals, err := h.engine.ResolvePrerequisites(ctx, in.GoalID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"goal_id": in.GoalID, "prerequisites": goals}, nil
	})
}

// HandleImpact handles the graph_impact tool call.
func (h *Handlers) HandleImpact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in GoalRequest) (map[string]any, error) {
		goals, err := h.engine.ResolveImpact(ctx, in.GoalID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"goal_id": in.GoalID, "impacted": goals}, nil
	})
}

// HandleCriticalPath handles the graph_critical_path tool call.
func (h *Handlers) HandleCriticalPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, func(ctx context.Context, in UserRequest) (*ops.CriticalPathOutput, error) {
		return h.engine.CriticalPath(ctx, in.UserID)
	})
}

// HandleExport handles the graph_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.ExportGraph)
}

// HandleImport handles the graph_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return call(ctx, req, h.engine.ImportGraph)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal and storage errors never expose their details or cause.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if gerr, ok := errors.As(err); ok {
		errorObj := map[string]any{
			"code":      gerr.Code,
			"message":   gerr.Message,
			"status":    gerr.Status,
			"retryable": gerr.Retryable(),
		}
		if gerr.Status < 500 && gerr.Details != nil {
			errorObj["details"] = gerr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}

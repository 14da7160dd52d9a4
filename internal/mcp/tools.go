package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	statusValues     = []string{"todo", "blocked", "done", "canceled"}
	categoryValues   = []string{"career", "health", "learning", "finance", "personal", "social", "creative"}
	dependencyValues = []string{"requires", "enables", "related"}
)

func goalIDParam(name, desc string) mcp.ToolOption {
	return mcp.WithString(name, mcp.Required(), mcp.Description(desc))
}

func userIDParam() mcp.ToolOption {
	return mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the graph (UUID)"))
}

var createToolDef = mcp.NewTool("goal_create",
	mcp.WithDescription("Create a goal. New goals have no dependencies and start as todo."),
	userIDParam(),
	mcp.WithString("chat_id", mcp.Required(), mcp.Description("Conversation the goal came from (UUID)")),
	mcp.WithString("title", mcp.Required(), mcp.Description("Short title, at most 500 characters")),
	mcp.WithString("description", mcp.Description("Longer description, markdown allowed")),
	mcp.WithString("category", mcp.Enum(categoryValues...)),
	mcp.WithNumber("priority", mcp.Min(1), mcp.Max(5), mcp.Description("1 (low) to 5 (high), default 3")),
	mcp.WithString("deadline", mcp.Description("YYYY-MM-DD")),
	mcp.WithNumber("estimated_duration_days", mcp.Min(0)),
	mcp.WithNumber("difficulty_level", mcp.Min(0), mcp.Max(10)),
	mcp.WithString("motivation"),
	mcp.WithString("success_criteria"),
)

var getToolDef = mcp.NewTool("goal_get",
	mcp.WithDescription("Get a goal with every dependency edge touching it. Archived goals carry merged_into_id."),
	goalIDParam("goal_id", "Goal ID"),
)

var listToolDef = mcp.NewTool("goal_list",
	mcp.WithDescription("List a user's goals, most recently updated first."),
	userIDParam(),
	mcp.WithArray("statuses", mcp.Items(map[string]any{"type": "string", "enum": statusValues}),
		mcp.Description("Only goals in these statuses")),
	mcp.WithBoolean("include_archived", mcp.Description("Include merged duplicates (default: false)")),
	mcp.WithBoolean("include_dependencies", mcp.Description("Attach each goal's edges (default: false)")),
	mcp.WithNumber("limit", mcp.Min(1), mcp.Max(100), mcp.Description("Page size, default 20")),
	mcp.WithNumber("offset", mcp.Min(0)),
)

var availableToolDef = mcp.NewTool("goal_available",
	mcp.WithDescription("List goals that can be worked on now (todo), by priority then deadline."),
	userIDParam(),
)

var updateToolDef = mcp.NewTool("goal_update",
	mcp.WithDescription("Edit a goal's descriptive fields. Omitted fields are unchanged; an empty string clears an optional field."),
	goalIDParam("goal_id", "Goal ID"),
	mcp.WithString("title"),
	mcp.WithString("description"),
	mcp.WithString("category", mcp.Enum(append([]string{""}, categoryValues...)...)),
	mcp.WithNumber("priority", mcp.Min(1), mcp.Max(5)),
	mcp.WithString("deadline", mcp.Description("YYYY-MM-DD, or empty to clear")),
	mcp.WithNumber("estimated_duration_days", mcp.Min(0)),
	mcp.WithNumber("difficulty_level", mcp.Min(0), mcp.Max(10)),
	mcp.WithString("motivation"),
	mcp.WithString("success_criteria"),
)

var setStatusToolDef = mcp.NewTool("goal_set_status",
	mcp.WithDescription("Set a goal's status. done and canceled cascade to dependents; todo and blocked are recomputed from the goal's prerequisites."),
	goalIDParam("goal_id", "Goal ID"),
	mcp.WithString("status", mcp.Required(), mcp.Enum(statusValues...)),
)

var statsToolDef = mcp.NewTool("goal_stats",
	mcp.WithDescription("Count a user's live goals by status and category."),
	userIDParam(),
)

var similarToolDef = mcp.NewTool("goal_similar",
	mcp.WithDescription("Find the user's goals most similar to a goal, best first."),
	goalIDParam("goal_id", "Goal ID"),
	mcp.WithNumber("top_k", mcp.Min(1), mcp.Max(50)),
	mcp.WithNumber("threshold", mcp.Min(-1), mcp.Max(1), mcp.Description("Minimum cosine score")),
)

var similarTextToolDef = mcp.NewTool("goal_similar_text",
	mcp.WithDescription("Find the user's goals most similar to free text. Use before goal_create to spot duplicates."),
	userIDParam(),
	mcp.WithString("text", mcp.Required()),
	mcp.WithNumber("top_k", mcp.Min(1), mcp.Max(50)),
	mcp.WithNumber("threshold", mcp.Min(-1), mcp.Max(1)),
)

var mergeToolDef = mcp.NewTool("goal_merge",
	mcp.WithDescription("Merge a duplicate goal into a primary. The duplicate's edges move to the primary and the duplicate is archived. Repeating a merge is a no-op."),
	goalIDParam("primary_goal_id", "Goal that survives"),
	goalIDParam("duplicate_goal_id", "Goal to fold in and archive"),
)

var addDependencyToolDef = mcp.NewTool("dependency_add",
	mcp.WithDescription("Add parent -> dependent. requires edges gate the dependent until the parent is done; they may not form cycles or repeat an existing path."),
	goalIDParam("parent_goal_id", "Prerequisite goal"),
	goalIDParam("dependent_goal_id", "Goal that waits"),
	mcp.WithString("dependency_type", mcp.Enum(dependencyValues...), mcp.Description("Default: requires")),
	mcp.WithNumber("strength", mcp.Min(1), mcp.Max(5)),
	mcp.WithString("notes"),
)

var removeDependencyToolDef = mcp.NewTool("dependency_remove",
	mcp.WithDescription("Remove parent -> dependent and re-evaluate the dependent."),
	goalIDParam("parent_goal_id", "Prerequisite goal"),
	goalIDParam("dependent_goal_id", "Goal that waits"),
)

var prerequisitesToolDef = mcp.NewTool("graph_prerequisites",
	mcp.WithDescription("Every goal the given goal transitively requires, nearest first."),
	goalIDParam("goal_id", "Goal ID"),
)

var impactToolDef = mcp.NewTool("graph_impact",
	mcp.WithDescription("Every goal that transitively waits for the given goal, nearest first."),
	goalIDParam("goal_id", "Goal ID"),
)

var criticalPathToolDef = mcp.NewTool("graph_critical_path",
	mcp.WithDescription("The chain of open goals with the largest total estimated duration."),
	userIDParam(),
)

var exportToolDef = mcp.NewTool("graph_export",
	mcp.WithDescription("Write a user's goals and dependencies to a JSONL file. Files must be directly in ~/.goalgraph/exports or a configured allowed path."),
	userIDParam(),
	mcp.WithString("path", mcp.Description("Output .jsonl path (default: ~/.goalgraph/exports/<user>-<timestamp>.jsonl)")),
	mcp.WithBoolean("include_archived", mcp.Description("Also export goals archived by a merge")),
)

var importToolDef = mcp.NewTool("graph_import",
	mcp.WithDescription("Load a graph_export file under fresh goal ids. Atomic: malformed records are listed and nothing is written."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Input .jsonl path")),
	mcp.WithString("user_id", mcp.Description("Owner of the imported goals (default: the user in the file header)")),
)

package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/aimi/goalgraph/internal/config"
	"github.com/aimi/goalgraph/internal/ops"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"goal", "dependency", "graph"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"goal_create": {
		def:     createToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreate },
	},
	"goal_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"goal_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"goal_available": {
		def:     availableToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAvailable },
	},
	"goal_update": {
		def:     updateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleUpdate },
	},
	"goal_set_status": {
		def:     setStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSetStatus },
	},
	"goal_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"goal_similar": {
		def:     similarToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSimilar },
	},
	"goal_similar_text": {
		def:     similarTextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSimilarText },
	},
	"goal_merge": {
		def:     mergeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleMerge },
	},
	"dependency_add": {
		def:     addDependencyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAddDependency },
	},
	"dependency_remove": {
		def:     removeDependencyToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleRemoveDependency },
	},
	"graph_prerequisites": {
		def:     prerequisitesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandlePrerequisites },
	},
	"graph_impact": {
		def:     impactToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImpact },
	},
	"graph_critical_path": {
		def:     criticalPathToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCriticalPath },
	},
	"graph_export": {
		def:     exportToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExport },
	},
	"graph_import": {
		def:     importToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleImport },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "goal_merge" → "goal").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	tools := make([]string, 0)
	for name := range toolRegistry {
		if typeSet[GetTypeForTool(name)] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with the goal graph tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(engine *ops.Engine, cfg *config.Config, logger *zap.Logger, version string) *server.MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := server.NewMCPServer(
		"goalgraph",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(engine)

	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, logged(logger, name, entry.handler(h)))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(engine *ops.Engine, cfg *config.Config, logger *zap.Logger, version string) error {
	s := NewServer(engine, cfg, logger, version)
	return server.ServeStdio(s)
}

// logged records each tool call at debug level, and failures at warn.
func logged(logger *zap.Logger, name string, next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		started := time.Now()
		res, err := next(ctx, req)
		fields := []zap.Field{zap.String("tool", name), zap.Duration("elapsed", time.Since(started))}
		if err != nil || (res != nil && res.IsError) {
			logger.Warn("tool call failed", append(fields, zap.Error(err))...)
			return res, err
		}
		logger.Debug("tool call", fields...)
		return res, err
	}
}

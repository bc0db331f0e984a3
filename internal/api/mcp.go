package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/caldant/attuned/internal/advisor"
	"github.com/caldant/attuned/internal/feature"
	"github.com/caldant/attuned/internal/signals"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Advisor     *advisor.Advisor
	DefaultUser string // used when a tool call omits user_id
}

// NewMCPServer creates an MCP server with the attuned tools registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"attuned",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("attuned: context-aware intent suggestions that learn from your choices."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("suggest",
			mcp.WithDescription("Suggest an intent (focus, relax, workout, sleep, energize) for the current context."),
			mcp.WithString("user_id", mcp.Description("User to suggest for (defaults to the configured local user)")),
			mcp.WithString("signals", mcp.Description("Optional JSON context override: {recovery, strain, sleep_hours, calendar, mood}")),
		),
		mcpSuggest(deps),
	)

	s.AddTool(
		mcp.NewTool("record_feedback",
			mcp.WithDescription("Record which intent the user actually chose so future suggestions improve."),
			mcp.WithString("selected_intent", mcp.Description("The intent the user chose"), mcp.Required()),
			mcp.WithString("suggested_intent", mcp.Description("What was suggested, if anything")),
			mcp.WithNumber("suggested_confidence", mcp.Description("Confidence of the original suggestion")),
			mcp.WithString("override_reason", mcp.Description("Why the user overrode the suggestion")),
			mcp.WithString("features", mcp.Description("The features object from the suggestion, echoed back verbatim so learning sees the context the suggestion was made under")),
			mcp.WithString("user_id", mcp.Description("User recording feedback (defaults to the configured local user)")),
		),
		mcpRecordFeedback(deps),
	)

	s.AddTool(
		mcp.NewTool("get_stats",
			mcp.WithDescription("Report learning progress: feedback counts, override rate, and discovered patterns."),
			mcp.WithString("user_id", mcp.Description("User to report on (defaults to the configured local user)")),
		),
		mcpGetStats(deps),
	)

	return s
}

func mcpSuggest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := req.GetString("user_id", deps.DefaultUser)

		var sig *signals.Context
		if raw := req.GetString("signals", ""); raw != "" {
			var parsed signals.Context
			if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
				return mcpError(fmt.Sprintf("invalid signals JSON: %v", err)), nil
			}
			sig = &parsed
		}

		suggestion, err := deps.Advisor.Suggest(ctx, advisor.SuggestRequest{
			UserID:  userID,
			Signals: sig,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("suggest failed: %v", err)), nil
		}

		b, err := json.Marshal(suggestion)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal suggestion: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecordFeedback(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		selected, err := req.RequireString("selected_intent")
		if err != nil {
			return mcpError("selected_intent is required"), nil
		}

		var feats *feature.Snapshot
		if raw := req.GetString("features", ""); raw != "" {
			var parsed feature.Snapshot
			if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
				return mcpError(fmt.Sprintf("invalid features JSON: %v", err)), nil
			}
			feats = &parsed
		}

		result, err := deps.Advisor.RecordFeedback(ctx, advisor.FeedbackRequest{
			UserID:              req.GetString("user_id", deps.DefaultUser),
			SuggestedIntent:     req.GetString("suggested_intent", ""),
			SuggestedConfidence: req.GetFloat("suggested_confidence", 0),
			SelectedIntent:      selected,
			OverrideReason:      req.GetString("override_reason", ""),
			Features:            feats,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to record feedback: %v", err)), nil
		}

		b, err := json.Marshal(result)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Advisor.Stats(ctx, req.GetString("user_id", deps.DefaultUser))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get stats: %v", err)), nil
		}

		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

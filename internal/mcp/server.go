// Package mcp registers the playbook tools on an MCP server so agent
// runtimes can read context, submit deltas, and record strategy feedback.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/pkg/kit"

	"github.com/hazyhaar/aceplaybook/internal/db"
	"github.com/hazyhaar/aceplaybook/internal/delta"
	"github.com/hazyhaar/aceplaybook/internal/playbook"
	"github.com/hazyhaar/aceplaybook/pkg/audit"
)

// NewServer creates an MCPServer with all playbook tools registered.
func NewServer(database *db.DB, engine *playbook.Engine, builder *playbook.Builder,
	orchestrator *playbook.Orchestrator, auditLog audit.Logger) *server.MCPServer {
	srv := server.NewMCPServer(
		"aceplaybook",
		"0.1.0",
		server.WithToolCapabilities(true),
	)

	registerGetPlaybook(srv, builder)
	registerApplyDelta(srv, engine, auditLog)
	registerRecordFeedback(srv, orchestrator, auditLog)
	registerBuildContext(srv, orchestrator)
	registerListRevisions(srv, database)

	return srv
}

// --- get_playbook ---

func registerGetPlaybook(srv *server.MCPServer, builder *playbook.Builder) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*getPlaybookReq)
		return builder.Build(ctx, r.Sections...)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sections": map[string]any{"type": "array", "items": map[string]string{"type": "string"}, "description": "Optional section names to filter by"},
		},
	})
	tool := mcp.NewToolWithRawSchema("get_playbook", "Read the full playbook snapshot, ordered sections first", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &getPlaybookReq{}
		if sections, ok := args["sections"].([]any); ok {
			for _, s := range sections {
				if name, ok := s.(string); ok && name != "" {
					r.Sections = append(r.Sections, name)
				}
			}
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type getPlaybookReq struct {
	Sections []string `json:"sections"`
}

// --- apply_delta ---

func registerApplyDelta(srv *server.MCPServer, engine *playbook.Engine, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*applyDeltaReq)
		appliedBy := r.AppliedBy
		if appliedBy == "" {
			appliedBy = "mcp:" + kit.GetUserID(ctx)
		}
		return engine.Apply(ctx, r.Operations, playbook.ApplyOptions{
			AppliedBy:   appliedBy,
			Description: r.Description,
			Metadata:    db.Metadata{"source": "mcp"},
		})
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "apply_delta")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operations": map[string]any{
				"type":        "array",
				"description": "Delta operations to apply as one atomic batch",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"action":               map[string]string{"type": "string", "description": "One of: ADD, UPDATE, TAG, REMOVE"},
						"bullet_id":            map[string]string{"type": "string", "description": "Target bullet ID"},
						"section_name":         map[string]string{"type": "string", "description": "Section name (required for ADD)"},
						"section_display_name": map[string]string{"type": "string", "description": "Human-readable section title"},
						"content":              map[string]string{"type": "string", "description": "Bullet content (required for ADD)"},
						"metadata":             map[string]string{"type": "object", "description": "Metadata to merge into the bullet"},
						"helpful_delta":        map[string]string{"type": "integer", "description": "Helpful counter delta (TAG)"},
						"harmful_delta":        map[string]string{"type": "integer", "description": "Harmful counter delta (TAG)"},
					},
					"required": []string{"action", "bullet_id"},
				},
			},
			"applied_by":  map[string]string{"type": "string", "description": "Actor recorded on the revision"},
			"description": map[string]string{"type": "string", "description": "Revision description"},
		},
		"required": []string{"operations"},
	})
	tool := mcp.NewToolWithRawSchema("apply_delta", "Apply a batch of playbook delta operations atomically", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		raw, err := json.Marshal(args["operations"])
		if err != nil {
			return nil, fmt.Errorf("invalid operations: %w", err)
		}
		r := &applyDeltaReq{
			AppliedBy:   stringArg(args, "applied_by"),
			Description: stringArg(args, "description"),
		}
		if err := json.Unmarshal(raw, &r.Operations); err != nil {
			return nil, fmt.Errorf("invalid operations: %w", err)
		}
		if len(r.Operations) == 0 {
			return nil, fmt.Errorf("operations are required")
		}
		for i, op := range r.Operations {
			if err := op.Validate(); err != nil {
				return nil, fmt.Errorf("operation %d: %w", i, err)
			}
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type applyDeltaReq struct {
	Operations  []delta.Operation `json:"operations"`
	AppliedBy   string            `json:"applied_by"`
	Description string            `json:"description"`
}

// --- record_feedback ---

func registerRecordFeedback(srv *server.MCPServer, orchestrator *playbook.Orchestrator, auditLog audit.Logger) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*recordFeedbackReq)
		result, err := orchestrator.RecordFeedback(ctx, r.BulletIDs, r.Success, r.Reason)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = &playbook.Result{}
		}
		return result, nil
	}
	if auditLog != nil {
		endpoint = audit.Middleware(auditLog, "record_feedback")(endpoint)
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"bullet_ids": map[string]any{"type": "array", "items": map[string]string{"type": "string"}, "description": "Cited strategy bullet IDs"},
			"success":    map[string]string{"type": "boolean", "description": "Whether the strategies helped"},
			"reason":     map[string]string{"type": "string", "description": "Optional revision description"},
		},
		"required": []string{"bullet_ids", "success"},
	})
	tool := mcp.NewToolWithRawSchema("record_feedback", "Tag cited strategies as helpful or harmful", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &recordFeedbackReq{Reason: stringArg(args, "reason")}
		if success, ok := args["success"].(bool); ok {
			r.Success = success
		}
		if ids, ok := args["bullet_ids"].([]any); ok {
			for _, id := range ids {
				if s, ok := id.(string); ok && s != "" {
					r.BulletIDs = append(r.BulletIDs, s)
				}
			}
		}
		if len(r.BulletIDs) == 0 {
			return nil, fmt.Errorf("bullet_ids are required")
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type recordFeedbackReq struct {
	BulletIDs []string `json:"bullet_ids"`
	Success   bool     `json:"success"`
	Reason    string   `json:"reason"`
}

// --- build_context ---

func registerBuildContext(srv *server.MCPServer, orchestrator *playbook.Orchestrator) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		block, err := orchestrator.BuildContextBlock(ctx)
		if err != nil {
			return nil, err
		}
		if block == nil {
			return &playbook.ContextBlock{BulletIDs: []string{}}, nil
		}
		return block, nil
	}

	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema("build_context", "Build the strategy context block for agent prompts", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &struct{}{}}, nil
	})
}

// --- list_revisions ---

func registerListRevisions(srv *server.MCPServer, database *db.DB) {
	var endpoint kit.Endpoint = func(ctx context.Context, request any) (any, error) {
		r := request.(*listRevisionsReq)
		revisions, err := database.Store().ListRecentRevisions(ctx, r.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"revisions": revisions}, nil
	}

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"limit": map[string]string{"type": "integer", "description": "Max revisions to return (default 20)"},
		},
	})
	tool := mcp.NewToolWithRawSchema("list_revisions", "List recent playbook revisions, newest first", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &listRevisionsReq{}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			r.Limit = int(limit)
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

type listRevisionsReq struct {
	Limit int `json:"limit"`
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

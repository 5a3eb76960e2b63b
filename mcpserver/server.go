// Package mcpserver provides the Model Context Protocol (MCP) server
// implementation.
//
// The mcpserver package exposes the execution engine to agent tooling as
// three MCP tools: execute_script, list_runs, and cleanup_runs. It uses the
// mark3labs/mcp-go library to handle the protocol details; all execution
// semantics live in the engine package.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/engine"
)

// MCPServer represents the MCP server.
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	engine    *engine.Engine
	mcpServer *server.MCPServer
}

// New creates a new MCPServer over the engine.
func New(cfg *config.Config, logger *zap.Logger, eng *engine.Engine) (*MCPServer, error) {
	s := &MCPServer{
		config: cfg,
		logger: logger,
		engine: eng,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("engine.default_language", cfg.Engine.DefaultLanguage),
		zap.Int("engine.default_timeout_sec", cfg.Engine.DefaultTimeoutSec),
		zap.Int("engine.default_attempts", cfg.Engine.DefaultAttempts),
		zap.Bool("engine.auto_correct", cfg.Engine.AutoCorrect),
		zap.Int("sandbox.memory_mb", cfg.Sandbox.MemoryMB),
		zap.Int("sandbox.max_file_size_mb", cfg.Sandbox.MaxFileSizeMB),
		zap.Int("sandbox.max_open_files", cfg.Sandbox.MaxOpenFiles),
		zap.String("workspace.root", cfg.Workspace.Root))

	s.mcpServer = server.NewMCPServer("scriptbox", "A sandboxed script execution engine")
	s.registerExecuteScriptTool()
	s.registerListRunsTool()
	s.registerCleanupRunsTool()

	return s, nil
}

func (s *MCPServer) registerExecuteScriptTool() {
	tool := mcp.Tool{
		Name:        "execute_script",
		Description: "Validate and execute an untrusted script in a resource-limited sandbox, with bounded automatic repair on failure",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session the run belongs to",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Script source to execute",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Guest language",
					"enum":        []string{"python", "lua"},
				},
				"timeout_seconds": map[string]any{
					"type":        "number",
					"description": "Wall-clock timeout, clamped to [1, 300]",
				},
				"auto_correct": map[string]any{
					"type":        "boolean",
					"description": "Attempt automatic repair of failing code",
				},
				"max_attempts": map[string]any{
					"type":        "number",
					"description": "Attempt budget, clamped to [1, 3]",
				},
			},
			Required: []string{"session_id", "code"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleExecuteScript)
}

func (s *MCPServer) handleExecuteScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	params := engine.ExecuteParams{
		SessionID:      sessionID,
		Source:         code,
		Language:       request.GetString("language", s.config.Engine.DefaultLanguage),
		TimeoutSeconds: request.GetInt("timeout_seconds", s.config.Engine.DefaultTimeoutSec),
		AutoCorrect:    request.GetBool("auto_correct", s.config.Engine.AutoCorrect),
		MaxAttempts:    request.GetInt("max_attempts", s.config.Engine.DefaultAttempts),
	}

	s.logger.Info("script execution requested",
		zap.String("session_id", sessionID),
		zap.String("language", params.Language),
		zap.Int("code_len", len(code)))

	r, err := s.engine.Execute(ctx, params)
	if err != nil {
		s.logger.Error("execution failed", zap.Error(err), zap.String("session_id", sessionID))
		return errorResult(fmt.Sprintf("Execution failed: %v", err)), nil
	}
	return jsonResult(r)
}

func (s *MCPServer) registerListRunsTool() {
	tool := mcp.Tool{
		Name:        "list_runs",
		Description: "List recent runs for a session in ascending chronological order",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session to list runs for",
				},
				"limit": map[string]any{
					"type":        "number",
					"description": "Maximum entries, clamped to [1, 200]",
				},
			},
			Required: []string{"session_id"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListRuns)
}

func (s *MCPServer) handleListRuns(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}
	limit := request.GetInt("limit", 50)

	items, err := s.engine.ListRuns(sessionID, limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err), zap.String("session_id", sessionID))
		return errorResult(fmt.Sprintf("Listing runs failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"session_id": sessionID,
		"items":      items,
	})
}

func (s *MCPServer) registerCleanupRunsTool() {
	tool := mcp.Tool{
		Name:        "cleanup_runs",
		Description: "Remove old run directories for a session, or all of them",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"session_id": map[string]any{
					"type":        "string",
					"description": "Session to clean up",
				},
				"max_age_hours": map[string]any{
					"type":        "number",
					"description": "Remove runs older than this, clamped to [1, 720]",
				},
				"remove_all": map[string]any{
					"type":        "boolean",
					"description": "Remove every run and truncate the session index",
				},
			},
			Required: []string{"session_id"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleCleanupRuns)
}

func (s *MCPServer) handleCleanupRuns(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return nil, fmt.Errorf("session_id parameter is required: %w", err)
	}
	maxAge := request.GetInt("max_age_hours", s.config.Retention.MaxAgeHours)
	removeAll := request.GetBool("remove_all", false)

	rep, err := s.engine.Cleanup(sessionID, maxAge, removeAll)
	if err != nil {
		s.logger.Error("cleanup failed", zap.Error(err), zap.String("session_id", sessionID))
		return errorResult(fmt.Sprintf("Cleanup failed: %v", err)), nil
	}

	s.logger.Info("cleanup completed",
		zap.String("session_id", sessionID),
		zap.Bool("remove_all", removeAll),
		zap.Int("removed_runs", rep.RemovedRuns),
		zap.Int("removed_files", rep.RemovedFiles))
	return jsonResult(rep)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP.
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

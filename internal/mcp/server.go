package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"admitflow/backend/internal/engine"
	"admitflow/backend/internal/repository"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server exposes the pipeline engine as MCP tools so that assistant clients
// can inspect enrollments. The surface is read-only: the mount does not pass
// through the HTTP auth middleware, so tools take an explicit tenant_id and
// mutations stay on the authenticated REST API.
type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	repo      repository.Repository
}

func NewServer(eng *engine.Engine, repo repository.Repository) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"AdmitFlow Pipelines",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: eng,
		repo:   repo,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"pipeline_progress",
			mcp.WithDescription("Get the progress view for a pipeline entry: stage breakdown, overall percentage, SLA status and next steps"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant the entry belongs to")),
			mcp.WithString("entry_id", mcp.Required(), mcp.Description("The pipeline entry ID")),
		),
		s.handleProgress,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"recent_activity",
			mcp.WithDescription("List the most recent journey events for a pipeline entry"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant the entry belongs to")),
			mcp.WithString("entry_id", mcp.Required(), mcp.Description("The pipeline entry ID")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of events to return (default 15)")),
		),
		s.handleRecentActivity,
	)
}

func stringArg(args map[string]interface{}, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func (s *Server) handleProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := stringArg(args, "tenant_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	entryID, ok := stringArg(args, "entry_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: entry_id"), nil
	}

	view, err := s.engine.GetProgress(ctx, tenantID, entryID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load progress: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(view)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleRecentActivity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := stringArg(args, "tenant_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	entryID, ok := stringArg(args, "entry_id")
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: entry_id"), nil
	}

	limit := 15
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	// The entry lookup enforces tenant scoping before any events are read.
	if _, err := s.repo.GetEntry(ctx, tenantID, entryID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load entry: %v", err)), nil
	}

	events, err := s.repo.ListEvents(ctx, entryID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(events)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}

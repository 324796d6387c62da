// Package mcp exposes the controlled database operations to external callers
// over the Model Context Protocol.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"outreach-mcp/internal/services"
)

type Server struct {
	mcpServer *server.MCPServer
	tools     *services.DatabaseToolService
}

func NewServer(tools *services.DatabaseToolService) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Outreach Database Tools",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		tools: tools,
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
			"execute_query",
			mcp.WithDescription("Execute a validated, parameter-bound SQL query"),
			mcp.WithString("query", mcp.Required(), mcp.Description("SQL text using @name placeholders")),
			mcp.WithObject("parameters", mcp.Description("Named parameter bindings")),
			mcp.WithString("fetch_mode", mcp.Description("One of all, one, scalar, none (default all)")),
			mcp.WithNumber("timeout", mcp.Description("Execution timeout in seconds")),
		),
		s.handleExecuteQuery,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"bulk_insert",
			mcp.WithDescription("Insert records into an allow-listed table in batches"),
			mcp.WithString("table_name", mcp.Required(), mcp.Description("Target table (must be allow-listed)")),
			mcp.WithArray("records", mcp.Required(), mcp.Description("Records to insert, one object per row")),
			mcp.WithNumber("batch_size", mcp.Description("Records per batch (default 100)")),
			mcp.WithString("on_conflict", mcp.Description("One of ignore, update, error (default error)")),
		),
		s.handleBulkInsert,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"transaction_manager",
			mcp.WithDescription("Execute an ordered sequence of statements as one atomic unit"),
			mcp.WithArray("operations", mcp.Required(), mcp.Description("Operations with query and params fields")),
			mcp.WithString("isolation_level", mcp.Description("read committed, repeatable read or serializable")),
		),
		s.handleTransaction,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"health_check",
			mcp.WithDescription("Report pool utilization, counters and optional CRUD round-trip"),
			mcp.WithBoolean("include_stats", mcp.Description("Include table counts")),
			mcp.WithBoolean("test_operations", mcp.Description("Execute a CRUD round-trip against the probe table")),
		),
		s.handleHealthCheck,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"query_optimization",
			mcp.WithDescription("Statically classify query complexity and suggest indexes (no execution)"),
			mcp.WithString("query", mcp.Required(), mcp.Description("SQL text to analyze")),
		),
		s.handleQueryOptimization,
	)
}

func (s *Server) handleExecuteQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	params, _ := args["parameters"].(map[string]interface{})

	mode := services.FetchAll
	if m, ok := args["fetch_mode"].(string); ok && m != "" {
		mode = services.FetchMode(m)
	}

	timeout := 30 * time.Second
	if t, ok := args["timeout"].(float64); ok && t > 0 {
		timeout = time.Duration(t * float64(time.Second))
	}

	result, err := s.tools.ExecuteQuery(ctx, query, params, mode, timeout)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleBulkInsert(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	table, ok := args["table_name"].(string)
	if !ok || table == "" {
		return mcp.NewToolResultError("Missing required parameter: table_name"), nil
	}

	rawRecords, ok := args["records"].([]interface{})
	if !ok || len(rawRecords) == 0 {
		return mcp.NewToolResultError("Missing required parameter: records"), nil
	}
	records := make([]map[string]any, 0, len(rawRecords))
	for i, raw := range rawRecords {
		rec, ok := raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("Record %d is not an object", i)), nil
		}
		records = append(records, rec)
	}

	batchSize := 0
	if b, ok := args["batch_size"].(float64); ok {
		batchSize = int(b)
	}

	onConflict := services.ConflictError
	if c, ok := args["on_conflict"].(string); ok && c != "" {
		onConflict = services.ConflictMode(c)
	}

	result, err := s.tools.BulkInsert(ctx, table, records, batchSize, onConflict)
	if err != nil {
		// Partial results still matter to the caller under error mode.
		if result != nil {
			jsonBytes, _ := json.Marshal(result)
			return mcp.NewToolResultError(fmt.Sprintf("Bulk insert failed: %v; partial result: %s", err, jsonBytes)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("Bulk insert failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleTransaction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	rawOps, ok := args["operations"].([]interface{})
	if !ok || len(rawOps) == 0 {
		return mcp.NewToolResultError("Missing required parameter: operations"), nil
	}

	ops := make([]services.TxOperation, 0, len(rawOps))
	for i, raw := range rawOps {
		obj, ok := raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("Operation %d is not an object", i)), nil
		}
		query, ok := obj["query"].(string)
		if !ok || query == "" {
			return mcp.NewToolResultError(fmt.Sprintf("Operation %d is missing query", i)), nil
		}
		params, _ := obj["params"].(map[string]interface{})
		ops = append(ops, services.TxOperation{Query: query, Params: params})
	}

	isolation, _ := args["isolation_level"].(string)

	result, err := s.tools.RunTransaction(ctx, ops, isolation)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Transaction failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleHealthCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	includeStats := false
	testOps := false
	if args != nil {
		includeStats, _ = args["include_stats"].(bool)
		testOps, _ = args["test_operations"].(bool)
	}

	report, err := s.tools.HealthCheck(ctx, includeStats, testOps)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Health check failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(report)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleQueryOptimization(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("Missing required parameter: query"), nil
	}

	analysis, err := s.tools.AnalyzeQuery(query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(analysis)
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

// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the linking engine to LLM agents via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/fraudlink/internal/graph"
	"github.com/starford/fraudlink/internal/matcher"
	"github.com/starford/fraudlink/internal/models"
	"github.com/starford/fraudlink/internal/worker"
)

// MatchersURI is the resource holding the active matcher weights.
const MatchersURI = "fraudlink://matchers"

// Engine is the slice of the linker the tools call.
type Engine interface {
	DirectConnections(ctx context.Context, transactionID string) ([]models.DirectConnection, error)
	ConnectedTransactions(ctx context.Context, transactionID string, opts graph.Options) ([]models.ConnectedTransaction, error)
	Registry() *matcher.Registry
}

// Processor runs a transaction through extraction, linking and feature computation.
type Processor interface {
	Process(ctx context.Context, tx models.Transaction) (*worker.Result, error)
}

// Server wraps the MCP server with fraudlink tools.
type Server struct {
	mcp      *server.MCPServer
	engine   Engine
	pipeline Processor
}

// New creates a new MCP server with all fraudlink tools registered.
func New(engine Engine, pipeline Processor, version string) *Server {
	s := &Server{engine: engine, pipeline: pipeline}

	s.mcp = server.NewMCPServer(
		"fraudlink",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("link_transaction",
		mcp.WithDescription("Extract matching fields from a transaction payload, link it into the "+
			"identity graph and return its connections and graph features."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Transaction id")),
		mcp.WithString("payload", mcp.Required(), mcp.Description("Transaction payload as a JSON object")),
	), s.linkTransaction)

	s.mcp.AddTool(mcp.NewTool("get_direct_connections",
		mcp.WithDescription("List transactions sharing at least one match node with the given transaction."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Transaction id")),
	), s.getDirectConnections)

	s.mcp.AddTool(mcp.NewTool("find_connected_transactions",
		mcp.WithDescription("List every transaction transitively linked to the given one, "+
			"each with its strongest path and decayed confidence."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Transaction id")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum number of hops (default 10)")),
		mcp.WithNumber("min_confidence", mcp.Description("Minimum confidence, 0-100")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results")),
	), s.findConnected)

	s.mcp.AddTool(mcp.NewTool("get_matcher_config",
		mcp.WithDescription("Return the confidence and importance configured per matcher. "+
			"Matchers not listed use confidence 80 and importance 50."),
	), s.getMatcherConfig)

	s.mcp.AddResource(
		mcp.NewResource(MatchersURI, "Matcher Weights",
			mcp.WithResourceDescription("Per-matcher confidence and importance used for new match nodes."),
			mcp.WithMIMEType("application/json"),
		),
		s.readMatchersResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) linkTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	payload, err := req.RequireString("payload")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.pipeline.Process(ctx, models.Transaction{ID: id, Payload: json.RawMessage(payload)})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) getDirectConnections(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	conns, err := s.engine.DirectConnections(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(conns) == 0 {
		return mcp.NewToolResultText("no direct connections found"), nil
	}
	return jsonResult(conns)
}

func (s *Server) findConnected(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var opts graph.Options
	args := req.GetArguments()
	for _, p := range []struct {
		name string
		dst  **int
	}{
		{"max_depth", &opts.MaxDepth},
		{"min_confidence", &opts.MinConfidence},
		{"limit", &opts.Limit},
	} {
		v, ok, err := intArg(args, p.name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if ok {
			*p.dst = graph.Int(v)
		}
	}

	conns, err := s.engine.ConnectedTransactions(ctx, id, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(conns) == 0 {
		return mcp.NewToolResultText("no connected transactions found"), nil
	}
	return jsonResult(conns)
}

func (s *Server) getMatcherConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.Registry().Snapshot())
}

func (s *Server) readMatchersResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	out, err := json.MarshalIndent(s.engine.Registry().Snapshot(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      MatchersURI,
			MIMEType: "application/json",
			Text:     string(out),
		},
	}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

// intArg reads an optional whole-number argument. JSON numbers arrive as float64.
func intArg(args map[string]any, name string) (int, bool, error) {
	raw, ok := args[name]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false, fmt.Errorf("%s must be a whole number", name)
		}
		return int(v), true, nil
	case int:
		return v, true, nil
	default:
		return 0, false, fmt.Errorf("%s must be a number", name)
	}
}

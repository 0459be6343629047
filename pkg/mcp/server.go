package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolHandler serves one tool call with decoded arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)

// Server hosts tools over MCP. It backs fixture tool sources for local runs
// and tests.
type Server struct {
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server.
func NewServer(name, version string) *Server {
	return &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
	}
}

// RegisterTool registers a tool taking the given required string arguments.
func (s *Server) RegisterTool(name, description string, required []string, handler ToolHandler) {
	opts := []mcp.ToolOption{mcp.WithDescription(description)}
	for _, arg := range required {
		opts = append(opts, mcp.WithString(arg, mcp.Required()))
	}
	s.mcpServer.AddTool(mcp.NewTool(name, opts...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handler(ctx, request.GetArguments())
	})
}

// RegisterFixture registers a tool that always answers with payload
// encoded as JSON text.
func (s *Server) RegisterFixture(name, description string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.RegisterTool(name, description, nil, func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
		return TextResult(string(body)), nil
	})
	return nil
}

// Handler returns the streamable HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// ServeStdio starts the server on Stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// TextResult builds a successful result with a single text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

// ErrorResult builds a tool-reported error result.
func ErrorResult(text string) *mcp.CallToolResult {
	res := TextResult(text)
	res.IsError = true
	return res
}

// Package mcp binds external tool sources reachable over the Model Context
// Protocol. A Binding wraps one MCP server: it discovers the tools the server
// publishes and invokes them under a timeout, retry, rate limit and circuit
// breaker.
package mcp

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/errors"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultCacheTTL    = 30 * time.Second
	clientName         = "techpulse"
	clientVersion      = "0.1.0"
)

// Session is the subset of the mcp-go client used by a Client.
type Session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithToolCacheTTL sets the tool discovery cache TTL. Use 0 to disable caching.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client wraps an MCP session with a tool discovery cache.
type Client struct {
	session  Session
	cacheTTL time.Duration

	mu          sync.Mutex
	toolsCache  []mcp.Tool
	cacheExpiry time.Time
	closed      bool
}

// NewClient wraps an initialized session.
func NewClient(s Session, opts ...ClientOption) *Client {
	c := &Client{session: s, cacheTTL: defaultCacheTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to the MCP server declared by cfg and performs the protocol
// handshake. Streamable HTTP and stdio transports are supported.
func Dial(ctx context.Context, cfg config.ToolConfig, opts ...ClientOption) (*Client, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.Transport {
	case "http", "":
		var tr *transport.StreamableHTTP
		tr, err = transport.NewStreamableHTTP(cfg.URL, transport.WithHTTPHeaders(expandAll(cfg.Headers)))
		if err != nil {
			return nil, dialErr(cfg, err)
		}
		c = client.NewClient(tr)
		if err = c.Start(ctx); err != nil {
			return nil, dialErr(cfg, err)
		}
	case "stdio":
		// The stdio client starts its subprocess on construction.
		c, err = client.NewStdioMCPClient(cfg.Command, envSlice(cfg.Env), cfg.Args...)
		if err != nil {
			return nil, dialErr(cfg, err)
		}
	default:
		return nil, errors.Newf(errors.CodeConfiguration, "tool %s: unsupported transport %q", cfg.Name, cfg.Transport)
	}

	initCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(initCtx, req); err != nil {
		_ = c.Close()
		return nil, dialErr(cfg, err)
	}
	return NewClient(c, opts...), nil
}

// ListTools returns the tools published by the server, served from cache
// while it is fresh.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	if cached := c.cachedTools(); cached != nil {
		return cached, nil
	}
	resp, err := c.session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	c.storeTools(resp.Tools)
	return resp.Tools, nil
}

// CallTool executes a tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return c.session.CallTool(ctx, req)
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.session.Ping(ctx)
}

// Close closes the session. Calling it more than once is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.session.Close()
}

func (c *Client) cachedTools() []mcp.Tool {
	if c.cacheTTL == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.toolsCache) == 0 || time.Now().After(c.cacheExpiry) {
		return nil
	}
	out := make([]mcp.Tool, len(c.toolsCache))
	copy(out, c.toolsCache)
	return out
}

func (c *Client) storeTools(tools []mcp.Tool) {
	if c.cacheTTL == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsCache = make([]mcp.Tool, len(tools))
	copy(c.toolsCache, tools)
	c.cacheExpiry = time.Now().Add(c.cacheTTL)
}

func dialErr(cfg config.ToolConfig, err error) error {
	target := cfg.URL
	if cfg.Transport == "stdio" {
		target = cfg.Command
	}
	return errors.New(errors.CodeInitialization, fmt.Sprintf("tool %s: connect %s", cfg.Name, target), err).
		WithContext("binding", cfg.Name).
		WithContext("transport", cfg.Transport)
}

func expandAll(m map[string]string) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}

// envSlice renders env for a child process. Values may reference the
// parent environment as ${NAME}.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+os.ExpandEnv(v))
	}
	sort.Strings(out)
	return out
}

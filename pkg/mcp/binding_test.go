package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/llm"
	"github.com/jllopis/techpulse/pkg/resilience"
)

type stubCaller struct {
	mu       sync.Mutex
	calls    int
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
	delay    time.Duration
	pingErr  error
	closed   atomic.Bool
}

func (s *stubCaller) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls++
	s.lastName = name
	s.lastArgs = args
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *stubCaller) Ping(context.Context) error { return s.pingErr }

func (s *stubCaller) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *stubCaller) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func searchTool() mcp.Tool {
	return mcp.NewTool("web_search",
		mcp.WithDescription("Search the web"),
		mcp.WithString("query", mcp.Required()),
	)
}

func searchConfig() config.ToolConfig {
	return config.ToolConfig{
		Name:        "brave",
		Source:      "search",
		Transport:   "http",
		Timeout:     time.Second,
		DefaultArgs: map[string]any{"count": 5},
	}
}

func noRetry() BindingOption {
	return WithRetryConfig(resilience.DefaultRetryConfig().WithMaxAttempts(1))
}

func TestNewBindingDefaults(t *testing.T) {
	b, err := NewBinding(searchConfig(), &stubCaller{}, []mcp.Tool{searchTool()})
	require.NoError(t, err)

	assert.Equal(t, "brave", b.Name())
	assert.Equal(t, core.SourceSearch, b.Source())
	assert.Equal(t, []string{"web_search"}, b.ToolNames())
	assert.True(t, b.HasTool("web_search"))
	assert.False(t, b.HasTool("other"))
	assert.Equal(t, "web_search", b.Config().DefaultTool, "single tool becomes the default")

	defs := b.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, llm.ToolTypeFunction, defs[0].Type)
	assert.Equal(t, "brave__web_search", defs[0].Function.Name)

	tool, args, ok := b.DefaultCall("rust async runtimes")
	require.True(t, ok)
	assert.Equal(t, "web_search", tool)
	assert.Equal(t, map[string]any{"query": "rust async runtimes", "count": 5}, args)
}

func TestNewBindingRejectsBadConfig(t *testing.T) {
	_, err := NewBinding(config.ToolConfig{Name: "x", Source: "weather"}, &stubCaller{}, nil)
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration))

	cfg := searchConfig()
	cfg.DefaultTool = "missing"
	_, err = NewBinding(cfg, &stubCaller{}, []mcp.Tool{searchTool()})
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration))

	_, err = NewBinding(searchConfig(), nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration))
}

func TestNewBindingFiltersTools(t *testing.T) {
	create := mcp.NewTool("create_issue", mcp.WithString("title", mcp.Required()))
	cfg := searchConfig()
	cfg.DefaultTool = "web_search"
	cfg.DenyTools = []string{"create_*"}

	caller := &stubCaller{result: TextResult(`[]`)}
	b, err := NewBinding(cfg, caller, []mcp.Tool{searchTool(), create})
	require.NoError(t, err)
	assert.Equal(t, []string{"web_search"}, b.ToolNames())
	assert.Len(t, b.Definitions(), 1)

	_, err = b.Invoke(context.Background(), "create_issue", map[string]any{"title": "x"})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
	assert.Zero(t, caller.callCount())

	cfg.DenyTools = nil
	cfg.AllowTools = []string{"create_issue"}
	_, err = NewBinding(cfg, caller, []mcp.Tool{searchTool(), create})
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration), "default tool hidden by the allowlist")

	cfg.AllowTools = []string{"web_["}
	_, err = NewBinding(cfg, caller, []mcp.Tool{searchTool()})
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration))
}

func TestInvokeDecodesJSONText(t *testing.T) {
	caller := &stubCaller{result: TextResult(`{"results":[{"title":"Tokio","url":"https://tokio.rs","score":0.9}]}`)}
	b, err := NewBinding(searchConfig(), caller, []mcp.Tool{searchTool()})
	require.NoError(t, err)

	out, err := b.Invoke(context.Background(), "web_search", map[string]any{"query": "tokio"})
	require.NoError(t, err)

	m, ok := out.(map[string]any)
	require.True(t, ok, "expected decoded JSON object, got %T", out)
	assert.Len(t, m["results"], 1)
	assert.Equal(t, "web_search", caller.lastName)
	assert.Equal(t, "tokio", caller.lastArgs["query"])
}

func TestInvokeReturnsPlainText(t *testing.T) {
	b, err := NewBinding(searchConfig(), &stubCaller{result: TextResult("no results")}, []mcp.Tool{searchTool()})
	require.NoError(t, err)

	out, err := b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, "no results", out)
}

func TestInvokeStructuredContentWins(t *testing.T) {
	res := TextResult("ignored")
	res.StructuredContent = map[string]any{"items": []any{}}
	b, err := NewBinding(searchConfig(), &stubCaller{result: res}, []mcp.Tool{searchTool()})
	require.NoError(t, err)

	out, err := b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"items": []any{}}, out)
}

func TestInvokeFailures(t *testing.T) {
	tests := []struct {
		name     string
		caller   *stubCaller
		tool     string
		args     map[string]any
		cause    errors.ErrorCode
		maxCalls int
	}{
		{
			name:   "unknown tool",
			caller: &stubCaller{},
			tool:   "nope",
			args:   map[string]any{"query": "x"},
			cause:  errors.CodeNotFound,
		},
		{
			name:   "missing required argument",
			caller: &stubCaller{},
			tool:   "web_search",
			args:   nil,
			cause:  errors.CodeInvalidInput,
		},
		{
			name:     "tool reported error",
			caller:   &stubCaller{result: ErrorResult("quota exceeded")},
			tool:     "web_search",
			args:     map[string]any{"query": "x"},
			cause:    errors.CodeToolFailure,
			maxCalls: 1,
		},
		{
			name:     "timeout",
			caller:   &stubCaller{delay: time.Second, result: TextResult("late")},
			tool:     "web_search",
			args:     map[string]any{"query": "x"},
			cause:    errors.CodeTimeout,
			maxCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := searchConfig()
			cfg.Timeout = 30 * time.Millisecond
			b, err := NewBinding(cfg, tt.caller, []mcp.Tool{searchTool()}, noRetry())
			require.NoError(t, err)

			_, err = b.Invoke(context.Background(), tt.tool, tt.args)
			require.Error(t, err)
			assert.Equal(t, errors.CodeToolFailure, errors.CodeOf(err))

			var e *errors.Error
			require.True(t, stderrors.As(err, &e))
			assert.Equal(t, "brave", e.Context["binding"])
			assert.True(t, errors.HasCode(e.Err, tt.cause), "cause %v", e.Err)
			assert.LessOrEqual(t, tt.caller.callCount(), tt.maxCalls)
		})
	}
}

func TestInvokeRetriesTransientErrors(t *testing.T) {
	caller := &stubCaller{err: stderrors.New("connection reset")}
	cfg := searchConfig()
	cfg.Retries = 2
	b, err := NewBinding(cfg, caller, []mcp.Tool{searchTool()},
		WithRetryConfig(resilience.DefaultRetryConfig().WithMaxAttempts(3).WithInitialDelay(time.Millisecond)))
	require.NoError(t, err)

	_, err = b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
	require.Error(t, err)
	assert.Equal(t, 3, caller.callCount())
}

func TestBreakerOpensAndDegradesHealth(t *testing.T) {
	caller := &stubCaller{err: stderrors.New("upstream 500")}
	cfg := searchConfig()
	cfg.BreakerFailures = 2
	b, err := NewBinding(cfg, caller, []mcp.Tool{searchTool()}, noRetry(), WithBreakerTimeout(time.Minute))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, b.BreakerState())

	_, err = b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeCircuitOpen))
	assert.Equal(t, 2, caller.callCount(), "open breaker must not reach the server")

	res := b.Check(context.Background())
	assert.Equal(t, core.HealthDegraded, res.Status)
	assert.Equal(t, "mcp:brave", res.Component)
}

func TestInvalidArgumentsDoNotTripBreaker(t *testing.T) {
	cfg := searchConfig()
	cfg.BreakerFailures = 1
	b, err := NewBinding(cfg, &stubCaller{}, []mcp.Tool{searchTool()}, noRetry())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := b.Invoke(context.Background(), "web_search", nil)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, b.BreakerState())
}

func TestRateLimitHonoursTimeout(t *testing.T) {
	cfg := searchConfig()
	cfg.RateLimit = 0.001
	cfg.Burst = 1
	cfg.Timeout = 50 * time.Millisecond
	caller := &stubCaller{result: TextResult("ok")}
	b, err := NewBinding(cfg, caller, []mcp.Tool{searchTool()}, noRetry())
	require.NoError(t, err)

	_, err = b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
	require.NoError(t, err)

	start := time.Now()
	_, err = b.Invoke(context.Background(), "web_search", map[string]any{"query": "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, caller.callCount())
}

func TestCheckAndClose(t *testing.T) {
	caller := &stubCaller{pingErr: stderrors.New("refused")}
	b, err := NewBinding(searchConfig(), caller, []mcp.Tool{searchTool()})
	require.NoError(t, err)

	res := b.Check(context.Background())
	assert.Equal(t, core.HealthUnhealthy, res.Status)
	assert.Error(t, res.Error)

	caller.pingErr = nil
	assert.Equal(t, core.HealthHealthy, b.Check(context.Background()).Status)

	require.NoError(t, b.Close())
	assert.True(t, caller.closed.Load())
}

func TestConnectOverStreamableHTTP(t *testing.T) {
	srv := NewServer("hn", "1.0.0")
	srv.RegisterTool("top_stories", "Top stories", []string{"query"}, func(_ context.Context, args map[string]any) (*mcp.CallToolResult, error) {
		return TextResult(`[{"title":"` + args["query"].(string) + `","url":"https://news.ycombinator.com/item?id=1"}]`), nil
	})
	httpServer := mcpserver.NewTestStreamableHTTPServer(srv.mcpServer)
	defer httpServer.Close()

	b, err := Connect(context.Background(), config.ToolConfig{
		Name:        "hacker_news",
		Source:      "discussion",
		Transport:   "http",
		URL:         httpServer.URL,
		DefaultTool: "top_stories",
		Timeout:     5 * time.Second,
	})
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, []string{"top_stories"}, b.ToolNames())
	assert.Equal(t, core.HealthHealthy, b.Check(context.Background()).Status)

	tool, args, ok := b.DefaultCall("zig")
	require.True(t, ok)
	out, err := b.Invoke(context.Background(), tool, args)
	require.NoError(t, err)

	items, ok := out.([]any)
	require.True(t, ok, "expected JSON array, got %T", out)
	require.Len(t, items, 1)
	assert.Equal(t, "zig", items[0].(map[string]any)["title"])
}

func TestQualifiedName(t *testing.T) {
	binding, tool, ok := SplitQualifiedName(QualifiedName("github", "search_repositories"))
	require.True(t, ok)
	assert.Equal(t, "github", binding)
	assert.Equal(t, "search_repositories", tool)

	_, _, ok = SplitQualifiedName("delegate_to_specialist")
	assert.False(t, ok)
}

func TestServerRegisterFixture(t *testing.T) {
	srv := NewServer("fixtures", "1.0.0")
	require.NoError(t, srv.RegisterFixture("trending", "Trending repositories", []map[string]any{{"title": "a"}}))

	httpServer := mcpserver.NewTestStreamableHTTPServer(srv.mcpServer)
	defer httpServer.Close()

	client, err := Dial(context.Background(), config.ToolConfig{Name: "fixtures", Transport: "http", URL: httpServer.URL})
	require.NoError(t, err)
	defer client.Close()

	res, err := client.CallTool(context.Background(), "trending", nil)
	require.NoError(t, err)
	out, err := toolResultToOutput(res)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"title": "a"}}, out)
}

package mcp

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jllopis/techpulse/pkg/config"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/governance"
	"github.com/jllopis/techpulse/pkg/llm"
	"github.com/jllopis/techpulse/pkg/resilience"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

const defaultToolTimeout = 15 * time.Second

// ToolCaller abstracts MCP tool execution for bindings.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// BindingOption customizes a Binding.
type BindingOption func(*Binding)

// WithLogger sets the binding logger.
func WithLogger(l *slog.Logger) BindingOption {
	return func(b *Binding) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics records tool calls and breaker transitions on m.
func WithMetrics(m *telemetry.Metrics) BindingOption {
	return func(b *Binding) { b.metrics = m }
}

// WithRetryConfig overrides the retry policy derived from the binding config.
func WithRetryConfig(rc resilience.RetryConfig) BindingOption {
	return func(b *Binding) { b.retry = rc }
}

// WithBreakerTimeout sets how long an open breaker waits before probing.
func WithBreakerTimeout(d time.Duration) BindingOption {
	return func(b *Binding) { b.breakerTimeout = d }
}

// Binding is a named handle to one MCP tool source. It is safe for
// concurrent use and is shared read-only by the services it is bound into.
type Binding struct {
	cfg     config.ToolConfig
	source  core.Source
	caller  ToolCaller
	tools   []mcp.Tool
	index   map[string]mcp.Tool
	limiter *rate.Limiter
	breaker *resilience.Breaker[*mcp.CallToolResult]
	retry   resilience.RetryConfig

	breakerTimeout time.Duration
	metrics        *telemetry.Metrics
	logger         *slog.Logger
	tracer         trace.Tracer
}

// Connect dials the server declared by cfg, discovers its tools and returns
// the binding.
func Connect(ctx context.Context, cfg config.ToolConfig, opts ...BindingOption) (*Binding, error) {
	c, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	tools, err := c.ListTools(ctx)
	if err != nil {
		_ = c.Close()
		return nil, errors.New(errors.CodeInitialization, fmt.Sprintf("tool %s: list tools", cfg.Name), err).
			WithContext("binding", cfg.Name)
	}
	b, err := NewBinding(cfg, c, tools, opts...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return b, nil
}

// NewBinding builds a binding over caller publishing tools.
func NewBinding(cfg config.ToolConfig, caller ToolCaller, tools []mcp.Tool, opts ...BindingOption) (*Binding, error) {
	if cfg.Name == "" {
		return nil, errors.New(errors.CodeConfiguration, "tool binding name is required", nil)
	}
	if caller == nil {
		return nil, errors.Newf(errors.CodeConfiguration, "tool %s: caller is required", cfg.Name)
	}
	source, err := core.ParseSource(cfg.Source)
	if err != nil {
		return nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("tool %s", cfg.Name), err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultToolTimeout
	}
	tools, dropped, err := filterTools(cfg, tools)
	if err != nil {
		return nil, err
	}

	b := &Binding{
		cfg:    cfg,
		source: source,
		caller: caller,
		tools:  tools,
		index:  make(map[string]mcp.Tool, len(tools)),
		retry:  resilience.DefaultRetryConfig().WithMaxAttempts(cfg.Retries + 1),
		logger: slog.Default(),
		tracer: otel.Tracer("techpulse/mcp"),
	}
	for _, t := range tools {
		b.index[t.Name] = t
	}
	if cfg.DefaultTool == "" && len(tools) == 1 {
		b.cfg.DefaultTool = tools[0].Name
	}
	if b.cfg.DefaultTool != "" {
		if _, ok := b.index[b.cfg.DefaultTool]; !ok {
			return nil, errors.Newf(errors.CodeConfiguration, "tool %s: default tool %q is not published by the server", cfg.Name, b.cfg.DefaultTool)
		}
	}
	if cfg.RateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("binding", cfg.Name)
	if len(dropped) > 0 {
		b.logger.Info("tools hidden by filter", "tools", dropped)
	}

	b.breaker = resilience.NewBreaker[*mcp.CallToolResult](cfg.Name, resilience.BreakerConfig{
		MaxFailures: uint32(max(cfg.BreakerFailures, 0)),
		Timeout:     b.breakerTimeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("tool breaker state change", "from", from.String(), "to", to.String())
			b.metrics.RecordCircuitBreakerState(context.Background(), name, resilience.StateValue(to))
		},
		IsFailure: countsAgainstBreaker,
	})
	return b, nil
}

// filterTools drops the tools cfg's allow and deny lists exclude. Hidden
// tools are neither offered to the model nor callable.
func filterTools(cfg config.ToolConfig, tools []mcp.Tool) ([]mcp.Tool, []string, error) {
	tf, err := governance.NewToolFilter(governance.WithAllowlist(cfg.AllowTools), governance.WithDenylist(cfg.DenyTools))
	if err != nil {
		return nil, nil, errors.New(errors.CodeConfiguration, fmt.Sprintf("tool %s", cfg.Name), err)
	}
	if tf.Empty() {
		return tools, nil, nil
	}
	kept := make([]mcp.Tool, 0, len(tools))
	var dropped []string
	for _, t := range tools {
		if tf.IsAllowed(t.Name).Allowed {
			kept = append(kept, t)
		} else {
			dropped = append(dropped, t.Name)
		}
	}
	return kept, dropped, nil
}

// Name returns the binding name.
func (b *Binding) Name() string { return b.cfg.Name }

// Source returns the kind of back-end behind the binding.
func (b *Binding) Source() core.Source { return b.source }

// Config returns the binding declaration with defaults applied.
func (b *Binding) Config() config.ToolConfig { return b.cfg }

// Timeout returns the per-call timeout.
func (b *Binding) Timeout() time.Duration { return b.cfg.Timeout }

// ToolNames returns the published tool names in server order.
func (b *Binding) ToolNames() []string {
	names := make([]string, 0, len(b.tools))
	for _, t := range b.tools {
		names = append(names, t.Name)
	}
	return names
}

// HasTool reports whether the server publishes name.
func (b *Binding) HasTool(name string) bool {
	_, ok := b.index[name]
	return ok
}

// Definitions returns the published tools as model function definitions.
func (b *Binding) Definitions() []llm.Tool {
	defs := make([]llm.Tool, 0, len(b.tools))
	for _, t := range b.tools {
		defs = append(defs, ToolDefinition(b.cfg.Name, t))
	}
	return defs
}

// DefaultCall returns the tool and arguments used to query this binding
// when no model decision is available. ok is false when the binding has no
// default tool.
func (b *Binding) DefaultCall(query string) (tool string, args map[string]any, ok bool) {
	if b.cfg.DefaultTool == "" {
		return "", nil, false
	}
	args = make(map[string]any, len(b.cfg.DefaultArgs)+1)
	for k, v := range b.cfg.DefaultArgs {
		args[k] = v
	}
	queryArg := b.cfg.QueryArg
	if queryArg == "" {
		queryArg = "query"
	}
	args[queryArg] = query
	return b.cfg.DefaultTool, args, true
}

// Invoke calls tool with args and decodes its output. Failures are
// TOOL_FAILURE errors carrying the binding and tool names; the cause keeps
// the original code (TIMEOUT, CIRCUIT_OPEN, RATE_LIMITED, ...).
func (b *Binding) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	ctx, span := b.tracer.Start(ctx, "mcp.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.ToolCallAttributes(b.cfg.Name, tool, string(b.source))...),
	)
	defer span.End()

	start := time.Now()
	out, err := b.invoke(ctx, tool, args)
	elapsed := time.Since(start)
	b.metrics.RecordToolCall(ctx, b.cfg.Name, tool, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		b.logger.WarnContext(ctx, "tool call failed", "tool", tool, "duration", elapsed, "error", err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	b.logger.DebugContext(ctx, "tool call completed", "tool", tool, "duration", elapsed)
	return out, nil
}

func (b *Binding) invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	def, ok := b.index[tool]
	if !ok {
		return nil, b.fail(tool, errors.Newf(errors.CodeNotFound, "tool %q is not published by %s", tool, b.cfg.Name))
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateRequiredArgs(def, args); err != nil {
		return nil, b.fail(tool, err)
	}

	result, err := resilience.WithTimeout(ctx, b.cfg.Timeout, func(ctx context.Context) (*mcp.CallToolResult, error) {
		if b.limiter != nil {
			if err := b.limiter.Wait(ctx); err != nil {
				return nil, errors.New(errors.CodeRateLimit, "rate limit wait aborted", err)
			}
		}
		return resilience.Retry(ctx, b.retry, func(ctx context.Context) (*mcp.CallToolResult, error) {
			return b.breaker.Execute(func() (*mcp.CallToolResult, error) {
				res, err := b.caller.CallTool(ctx, tool, args)
				if err != nil {
					return nil, err
				}
				if res != nil && res.IsError {
					return nil, errors.Newf(errors.CodeToolFailure, "tool reported error: %s", extractTextContent(res.Content)).
						WithRecoverable(false)
				}
				return res, nil
			})
		})
	})
	if err != nil {
		return nil, b.fail(tool, err)
	}

	out, err := toolResultToOutput(result)
	if err != nil {
		return nil, b.fail(tool, err)
	}
	return out, nil
}

func (b *Binding) fail(tool string, err error) error {
	return errors.New(errors.CodeToolFailure, fmt.Sprintf("tool %s/%s failed", b.cfg.Name, tool), err).
		WithContext("binding", b.cfg.Name).
		WithContext("tool", tool)
}

// BreakerState returns the circuit breaker state.
func (b *Binding) BreakerState() gobreaker.State { return b.breaker.State() }

// Ping checks the server is reachable. Callers without a ping are assumed
// reachable.
func (b *Binding) Ping(ctx context.Context) error {
	if p, ok := b.caller.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Check implements core.HealthChecker.
func (b *Binding) Check(ctx context.Context) core.HealthResult {
	res := core.HealthResult{
		Component: "mcp:" + b.cfg.Name,
		LastCheck: time.Now(),
		Details: map[string]string{
			"source":    string(b.source),
			"transport": b.cfg.Transport,
			"tools":     strconv.Itoa(len(b.tools)),
			"breaker":   b.breaker.State().String(),
		},
	}
	switch err := b.Ping(ctx); {
	case err != nil:
		res.Status = core.HealthUnhealthy
		res.Message = "ping failed"
		res.Error = err
	case b.breaker.State() != gobreaker.StateClosed:
		res.Status = core.HealthDegraded
		res.Message = "circuit breaker " + b.breaker.State().String()
	default:
		res.Status = core.HealthHealthy
	}
	return res
}

// Close releases the underlying connection when the caller holds one.
func (b *Binding) Close() error {
	if c, ok := b.caller.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// countsAgainstBreaker excludes caller-side mistakes and cancellations so
// only back-end failures trip the breaker.
func countsAgainstBreaker(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}
	switch errors.CodeOf(err) {
	case errors.CodeInvalidInput, errors.CodeNotFound:
		return false
	}
	return true
}

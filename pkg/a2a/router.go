// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// peer delivers delegations to one role.
type peer interface {
	deliver(ctx context.Context, req DelegationRequest) (DelegationResponse, error)
	ready(ctx context.Context) error
	remote() bool
	endpoint() string
	close() error
}

// PeerInfo describes a registered peer.
type PeerInfo struct {
	Role     core.AgentRole `json:"role"`
	Remote   bool           `json:"remote"`
	Endpoint string         `json:"endpoint,omitempty"`
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records delegations on m.
func WithMetrics(m *telemetry.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// Router is the Delegator used by agent services. It owns the channels and
// clients that reach each registered role.
type Router struct {
	mu     sync.RWMutex
	peers  map[core.AgentRole]peer
	closed bool

	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// NewRouter creates an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		peers:  make(map[core.AgentRole]peer),
		logger: slog.Default(),
		tracer: otel.Tracer("techpulse/a2a"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register serves svc in-process. Requests reach it over a channel and are
// handled on their own goroutines.
func (r *Router) Register(svc Service) error {
	return r.add(svc.Role(), newLocalPeer(svc, r.logger))
}

// RegisterRemote routes role to the A2A agent published at baseURL. The
// agent card is resolved on first use.
func (r *Router) RegisterRemote(role core.AgentRole, baseURL string) error {
	return r.add(role, newRemotePeer(role, baseURL))
}

func (r *Router) add(role core.AgentRole, p peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = p.close()
		return errors.New(errors.CodeDelegationUnavailable, "router is closed", nil)
	}
	if _, exists := r.peers[role]; exists {
		_ = p.close()
		return errors.Newf(errors.CodeConfiguration, "role %s is already registered", role)
	}
	r.peers[role] = p
	r.logger.Info("delegation peer registered", "role", role, "remote", p.remote(), "endpoint", p.endpoint())
	return nil
}

// Send delivers req to target and waits up to timeout for the response
// carrying the same correlation id.
func (r *Router) Send(ctx context.Context, target core.AgentRole, req DelegationRequest, timeout time.Duration) (DelegationResponse, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	req.Depth = max(req.Depth, Depth(ctx), 0)

	r.mu.RLock()
	p, ok := r.peers[target]
	closed := r.closed
	r.mu.RUnlock()

	ctx, span := r.tracer.Start(ctx, "a2a.delegate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.DelegationAttributes(string(req.From), string(target), req.CorrelationID, ok && p.remote())...),
	)
	defer span.End()

	logger := r.logger.With("target", target, "correlation_id", req.CorrelationID)
	start := time.Now()
	resp, err := r.send(ctx, p, ok && !closed, target, req, timeout)
	elapsed := time.Since(start)
	r.metrics.RecordDelegation(ctx, string(target), elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "delegation failed", "duration", elapsed, "error", err)
		return resp, err
	}
	span.SetStatus(codes.Ok, "")
	logger.DebugContext(ctx, "delegation completed", "duration", elapsed, "items", len(resp.Outcome.Items))
	return resp, nil
}

func (r *Router) send(ctx context.Context, p peer, available bool, target core.AgentRole, req DelegationRequest, timeout time.Duration) (DelegationResponse, error) {
	if !available {
		return DelegationResponse{}, errors.Newf(errors.CodeDelegationUnavailable, "role %s is not registered", target).
			WithContext("target", string(target))
	}
	if req.Depth >= MaxDepth {
		return DelegationResponse{}, errors.Newf(errors.CodeDelegationFailed, "delegation depth %d exceeds limit %d", req.Depth+1, MaxDepth).
			WithContext("target", string(target)).
			WithRecoverable(false)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		resp DelegationResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := p.deliver(ctx, req)
		done <- result{resp, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return DelegationResponse{}, contextErr(target, timeout, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		if ctx.Err() != nil {
			return DelegationResponse{}, contextErr(target, timeout, ctx.Err())
		}
		return DelegationResponse{}, res.err
	}
	if res.resp.CorrelationID != req.CorrelationID {
		return DelegationResponse{}, errors.Newf(errors.CodeDelegationFailed,
			"response correlation id %q does not match request %q", res.resp.CorrelationID, req.CorrelationID).
			WithContext("target", string(target))
	}
	return res.resp, res.resp.Err()
}

// contextErr reports a delegation cut short by ctx. Only an expired deadline
// is a timeout; a cancelled caller is a failed delegation.
func contextErr(target core.AgentRole, timeout time.Duration, cause error) error {
	if stderrors.Is(cause, context.Canceled) {
		return errors.New(errors.CodeDelegationFailed, "delegation to "+string(target)+" cancelled", cause).
			WithContext("target", string(target)).
			WithRecoverable(false)
	}
	return errors.New(errors.CodeDelegationTimeout, "delegation to "+string(target)+" timed out", cause).
		WithContext("target", string(target)).
		WithContext("timeout", timeout.String())
}

// Has reports whether role has a registered peer.
func (r *Router) Has(role core.AgentRole) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[role]
	return ok
}

// Peers lists the registered peers sorted by role.
func (r *Router) Peers() []PeerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PeerInfo, 0, len(r.peers))
	for role, p := range r.peers {
		out = append(out, PeerInfo{Role: role, Remote: p.remote(), Endpoint: p.endpoint()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// Check implements core.HealthChecker. Unreachable remote peers degrade the
// router; local peers are always ready while the router is open.
func (r *Router) Check(ctx context.Context) core.HealthResult {
	res := core.HealthResult{
		Component: "a2a",
		Status:    core.HealthHealthy,
		LastCheck: time.Now(),
		Details:   map[string]string{},
	}
	r.mu.RLock()
	closed := r.closed
	peers := make(map[core.AgentRole]peer, len(r.peers))
	for role, p := range r.peers {
		peers[role] = p
	}
	r.mu.RUnlock()

	if closed {
		res.Status = core.HealthUnhealthy
		res.Message = "router closed"
		return res
	}
	res.Details["peers"] = strconv.Itoa(len(peers))
	for role, p := range peers {
		if err := p.ready(ctx); err != nil {
			res.Status = core.HealthDegraded
			res.Details[string(role)] = err.Error()
			continue
		}
		res.Details[string(role)] = "ready"
	}
	return res
}

// Close stops every peer. Calling it more than once is a no-op.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	peers := r.peers
	r.peers = make(map[core.AgentRole]peer)
	r.mu.Unlock()

	var errs []error
	for _, p := range peers {
		if err := p.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

var _ Delegator = (*Router)(nil)

// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the agent manager over HTTP.
package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/techpulse/pkg/a2a"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/manager"
	"github.com/jllopis/techpulse/pkg/telemetry"
)

// Server routes HTTP requests to a Manager.
type Server struct {
	mgr         *manager.Manager
	metrics     http.Handler
	httpMetrics *telemetry.Metrics
	version     string
	publicURL   string
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time

	mu    sync.Mutex
	roles map[core.AgentRole]roleHandlers
}

type roleHandlers struct {
	rpc  http.Handler
	card http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsHandler serves h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithMetrics records served requests on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.httpMetrics = m }
}

// WithVersion sets the version published in agent cards.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithPublicURL sets the externally reachable base URL. When empty the
// request host is used.
func WithPublicURL(u string) Option {
	return func(s *Server) { s.publicURL = strings.TrimRight(u, "/") }
}

// New creates a Server for mgr.
func New(mgr *manager.Manager, opts ...Option) *Server {
	s := &Server{
		mgr:     mgr,
		version: "dev",
		logger:  slog.Default(),
		tracer:  otel.Tracer("techpulse/httpapi"),
		now:     time.Now,
		roles:   make(map[core.AgentRole]roleHandlers),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/trends", s.handleTrends)
		r.Post("/trends", s.handleTrends)
		r.Post("/repositories", s.handleRepositories)
		r.Get("/agents/status", s.handleAgents)
		r.Get("/mcp/status", s.handleMCP)
	})

	r.Route("/a2a/{role}", func(r chi.Router) {
		r.Get(a2asrv.WellKnownAgentCardPath, s.handleCard)
		r.Post("/", s.handleRPC)
	})
	return r
}

// a2aHandlers returns the A2A handlers for role, building them on first use.
func (s *Server) a2aHandlers(r *http.Request) (roleHandlers, error) {
	role, err := core.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		return roleHandlers{}, errors.New(errors.CodeNotFound, "unknown role", err)
	}
	svc, err := s.mgr.Service(role)
	if err != nil {
		return roleHandlers{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.roles[role]; ok {
		return h, nil
	}
	rpc, card := a2a.Handlers(svc, s.baseURL(r)+"/a2a/"+string(role), s.version, s.logger)
	h := roleHandlers{rpc: rpc, card: card}
	s.roles[role] = h
	return h, nil
}

func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	h, err := s.a2aHandlers(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.card.ServeHTTP(w, r)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	h, err := s.a2aHandlers(r)
	if err != nil {
		writeError(w, err)
		return
	}
	h.rpc.ServeHTTP(w, r)
}

// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/techpulse/pkg/a2a"
	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
	"github.com/jllopis/techpulse/pkg/manager"
)

const (
	maxQueryLength  = 500
	maxRepositories = 20
	maxBodyBytes    = 1 << 20
)

// TrendsRequest is the body of POST /api/v1/trends. GET accepts the same
// fields as query parameters (q, limit, source, timeout).
type TrendsRequest struct {
	Query        string   `json:"query"`
	Limit        int      `json:"limit,omitempty"`
	Sources      []string `json:"sources,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
	Repositories []string `json:"repositories,omitempty"`
}

// RepositoriesRequest is the body of POST /api/v1/repositories.
type RepositoriesRequest struct {
	Repositories []string `json:"repositories"`
	Query        string   `json:"query,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Timeout      string   `json:"timeout,omitempty"`
}

// Response wraps an outcome with request metadata.
type Response struct {
	RunID     string           `json:"run_id"`
	Role      string           `json:"role"`
	Query     string           `json:"query"`
	ElapsedMS int64            `json:"elapsed_ms"`
	Items     []core.TrendItem `json:"items"`
	Summary   string           `json:"summary"`
	Faults    []core.Fault     `json:"errors"`
	Failed    bool             `json:"failed"`
	Error     *errors.Error    `json:"error,omitempty"`
}

// MCPStatus is the body of GET /api/v1/mcp/status.
type MCPStatus struct {
	Bindings []manager.BindingStatus `json:"bindings"`
	Peers    []a2a.PeerInfo          `json:"peers"`
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	var body TrendsRequest
	if r.Method == http.MethodGet {
		body = trendsFromQuery(r)
	} else if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}

	req, err := body.toRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, core.RoleEntry, req)
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	var body RepositoriesRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, err)
		return
	}
	s.execute(w, r, core.RoleSpecialist, req)
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, role core.AgentRole, req core.Request) {
	ctx, runID := core.EnsureRunID(r.Context())
	w.Header().Set("X-Run-ID", runID)
	start := s.now()

	out, err := s.mgr.ExecuteRole(ctx, role, req)
	if err != nil && out == nil {
		s.logger.WarnContext(ctx, "request failed", "role", role, "run_id", runID, "error", err)
		writeError(w, err)
		return
	}

	resp := Response{
		RunID:     runID,
		Role:      string(role),
		Query:     req.Query,
		ElapsedMS: s.now().Sub(start).Milliseconds(),
		Items:     out.Items,
		Summary:   out.Summary,
		Faults:    out.Errors,
		Failed:    out.Failed,
	}
	if resp.Items == nil {
		resp.Items = []core.TrendItem{}
	}
	if resp.Faults == nil {
		resp.Faults = []core.Fault{}
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = errors.As(err)
		status = errors.HTTPStatus(err)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.mgr.Health(r.Context())
	status := http.StatusOK
	if report.Status == core.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	agents, err := s.mgr.Agents()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleMCP(w http.ResponseWriter, _ *http.Request) {
	bindings, err := s.mgr.Bindings()
	if err != nil {
		writeError(w, err)
		return
	}
	peers, err := s.mgr.Peers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MCPStatus{Bindings: bindings, Peers: peers})
}

func trendsFromQuery(r *http.Request) TrendsRequest {
	q := r.URL.Query()
	body := TrendsRequest{
		Query:   q.Get("q"),
		Timeout: q.Get("timeout"),
	}
	if body.Query == "" {
		body.Query = q.Get("query")
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			n = -1
		}
		body.Limit = n
	}
	for _, v := range q["source"] {
		body.Sources = append(body.Sources, strings.Split(v, ",")...)
	}
	body.Repositories = q["repository"]
	return body
}

func (b TrendsRequest) toRequest() (core.Request, error) {
	req := core.Request{
		Query:        strings.TrimSpace(b.Query),
		Options:      core.Options{Limit: b.Limit},
		Repositories: b.Repositories,
	}
	if req.Query == "" {
		return req, invalid("query is required")
	}
	if len(req.Query) > maxQueryLength {
		return req, invalid("query exceeds %d characters", maxQueryLength)
	}
	if b.Limit < 0 {
		return req, invalid("limit must not be negative")
	}
	for _, raw := range b.Sources {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		src, err := core.ParseSource(raw)
		if err != nil {
			return req, errors.New(errors.CodeInvalidInput, "invalid source", err)
		}
		req.Options.Sources = append(req.Options.Sources, src)
	}
	timeout, err := parseTimeout(b.Timeout)
	if err != nil {
		return req, err
	}
	req.Options.Timeout = timeout
	return req, nil
}

func (b RepositoriesRequest) toRequest() (core.Request, error) {
	req := core.Request{
		Query:   strings.TrimSpace(b.Query),
		Options: core.Options{Limit: b.Limit},
	}
	if len(b.Repositories) == 0 {
		return req, invalid("at least one repository is required")
	}
	if len(b.Repositories) > maxRepositories {
		return req, invalid("at most %d repositories are allowed", maxRepositories)
	}
	for _, repo := range b.Repositories {
		repo = strings.TrimSpace(repo)
		owner, name, ok := strings.Cut(repo, "/")
		if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
			return req, invalid("repository %q must be owner/repo", repo)
		}
		req.Repositories = append(req.Repositories, repo)
	}
	if b.Limit < 0 {
		return req, invalid("limit must not be negative")
	}
	timeout, err := parseTimeout(b.Timeout)
	if err != nil {
		return req, err
	}
	req.Options.Timeout = timeout
	return req, nil
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.New(errors.CodeInvalidInput, "invalid timeout", err)
	}
	if d <= 0 {
		return 0, invalid("timeout must be positive")
	}
	return d, nil
}

func invalid(format string, args ...any) error {
	return errors.Newf(errors.CodeInvalidInput, format, args...)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return invalid("empty body")
		}
		return errors.New(errors.CodeInvalidInput, "invalid body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with an application/problem+json body.
func writeError(w http.ResponseWriter, err error) {
	e := errors.As(err)
	status := errors.HTTPStatus(e)
	body := map[string]any{
		"type":   "about:blank",
		"title":  string(e.Code),
		"status": status,
		"detail": detail(e),
	}
	if len(e.Context) > 0 {
		body["context"] = e.Context
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func detail(e *errors.Error) string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

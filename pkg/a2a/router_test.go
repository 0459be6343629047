// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
)

type stubService struct {
	role    core.AgentRole
	outcome core.Outcome
	err     error
	block   bool
	calls   atomic.Int32

	mu     sync.Mutex
	depths []int
	seen   []core.Request
}

func (s *stubService) Role() core.AgentRole { return s.role }

func (s *stubService) Execute(ctx context.Context, req core.Request) (*core.Outcome, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.depths = append(s.depths, Depth(ctx))
	s.seen = append(s.seen, req)
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	out := s.outcome
	return &out, s.err
}

func (s *stubService) RoleManifest() core.RoleManifest {
	return core.RoleManifest{Role: s.role, Responsibility: "repository intelligence", Tools: []string{"github"}}
}

func specialist() *stubService {
	return &stubService{
		role: core.RoleSpecialist,
		outcome: core.Outcome{
			Items:   []core.TrendItem{{Title: "tokio-rs/tokio", Source: core.SourceCode, URL: "https://github.com/tokio-rs/tokio", Score: 0.8}},
			Summary: "tokio leads",
		},
	}
}

func TestRouterLocalRoundTrip(t *testing.T) {
	svc := specialist()
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(svc))

	resp, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{
		From:    core.RoleEntry,
		Task:    "find trending repositories",
		Request: core.Request{Query: "rust async runtimes"},
	}, time.Second)
	require.NoError(t, err)

	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, core.RoleSpecialist, resp.From)
	require.Len(t, resp.Outcome.Items, 1)
	assert.Equal(t, "tokio-rs/tokio", resp.Outcome.Items[0].Title)
	assert.Equal(t, []int{1}, svc.depths, "delegated work runs one level deep")
	assert.Equal(t, "rust async runtimes", svc.seen[0].Query)
}

func TestRouterKeepsCallerCorrelationID(t *testing.T) {
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(specialist()))

	resp, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{CorrelationID: "corr-1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", resp.CorrelationID)
}

func TestRouterUnavailable(t *testing.T) {
	r := NewRouter()
	defer r.Close()

	_, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationUnavailable))
	assert.ErrorIs(t, err, errors.ErrDelegationUnavailable)
}

func TestRouterTimeout(t *testing.T) {
	svc := &stubService{role: core.RoleSpecialist, block: true}
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(svc))

	start := time.Now()
	_, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{}, 20*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationTimeout))
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestRouterCallerCancelled(t *testing.T) {
	svc := &stubService{role: core.RoleSpecialist, block: true}
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(svc))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	_, err := r.Send(ctx, core.RoleSpecialist, DelegationRequest{}, time.Minute)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationFailed))
	assert.False(t, errors.HasCode(err, errors.CodeDelegationTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRouterRejectsNestedDelegation(t *testing.T) {
	svc := specialist()
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(svc))

	ctx := WithDepth(context.Background(), 1)
	_, err := r.Send(ctx, core.RoleSpecialist, DelegationRequest{}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationFailed))
	assert.Equal(t, int32(0), svc.calls.Load())
}

func TestNegativeDepthIsClamped(t *testing.T) {
	svc := specialist()
	resp := Serve(context.Background(), svc, DelegationRequest{CorrelationID: "c-1", Depth: -1})
	assert.Equal(t, StatusCompleted, resp.Status)
	assert.Equal(t, []int{1}, svc.depths, "served work always counts as delegated")

	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(svc))
	_, err := r.Send(WithDepth(context.Background(), 1), core.RoleSpecialist, DelegationRequest{Depth: -5}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationFailed))
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestRouterFailedResponse(t *testing.T) {
	svc := specialist()
	svc.err = errors.New(errors.CodeAllSourcesFailed, "every tool failed", nil)
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(svc))

	resp, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{}, time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationFailed))
	assert.Equal(t, StatusFailed, resp.Status)
	assert.Equal(t, errors.CodeAllSourcesFailed, resp.Code)
}

func TestRouterConcurrentSends(t *testing.T) {
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.Register(specialist()))

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{}, time.Second)
			assert.NoError(t, err)
			ids[i] = resp.CorrelationID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "correlation ids must be unique")
		seen[id] = true
	}
}

func TestRouterRegisterAndClose(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Register(specialist()))
	assert.True(t, r.Has(core.RoleSpecialist))

	err := r.Register(specialist())
	assert.True(t, errors.HasCode(err, errors.CodeConfiguration))

	assert.Equal(t, []PeerInfo{{Role: core.RoleSpecialist, Endpoint: "local"}}, r.Peers())
	assert.Equal(t, core.HealthHealthy, r.Check(context.Background()).Status)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{}, time.Second)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationUnavailable))
	assert.Equal(t, core.HealthUnhealthy, r.Check(context.Background()).Status)
	assert.Error(t, r.Register(specialist()))
}

func serveRole(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	base := srv.URL + "/a2a/" + string(svc.Role())
	rpc, card := Handlers(svc, base, "test", nil)
	mux.Handle("/a2a/"+string(svc.Role()), rpc)
	mux.Handle("/a2a/"+string(svc.Role())+a2asrv.WellKnownAgentCardPath, card)
	return srv
}

func TestRouterRemoteRoundTrip(t *testing.T) {
	svc := specialist()
	srv := serveRole(t, svc)

	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.RegisterRemote(core.RoleSpecialist, srv.URL+"/a2a/specialist"))

	resp, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{
		From:    core.RoleEntry,
		Task:    "trending repositories",
		Request: core.Request{Query: "zig", Repositories: []string{"ziglang/zig"}},
	}, 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, resp.Status)
	require.Len(t, resp.Outcome.Items, 1)
	assert.Equal(t, 0.8, resp.Outcome.Items[0].Score)
	assert.Equal(t, "tokio leads", resp.Outcome.Summary)
	assert.Equal(t, []string{"ziglang/zig"}, svc.seen[0].Repositories)
	assert.Equal(t, []int{1}, svc.depths)

	peers := r.Peers()
	require.Len(t, peers, 1)
	assert.True(t, peers[0].Remote)
	assert.Equal(t, core.HealthHealthy, r.Check(context.Background()).Status)
}

func TestRouterRemoteUnreachable(t *testing.T) {
	r := NewRouter()
	defer r.Close()
	require.NoError(t, r.RegisterRemote(core.RoleSpecialist, "http://127.0.0.1:1/a2a/specialist"))

	_, err := r.Send(context.Background(), core.RoleSpecialist, DelegationRequest{}, 2*time.Second)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeDelegationUnavailable))
	assert.Equal(t, core.HealthDegraded, r.Check(context.Background()).Status)
}

func TestMessageCodecs(t *testing.T) {
	req := DelegationRequest{CorrelationID: "c1", From: core.RoleEntry, Task: "t", Request: core.Request{Query: "q"}}
	msg, err := requestMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "c1", msg.Metadata[correlationKey])

	got, err := requestFromMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	text := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "what is trending in go?"})
	text.Metadata = map[string]any{correlationKey: "c2"}
	got, err = requestFromMessage(text)
	require.NoError(t, err)
	assert.Equal(t, "what is trending in go?", got.Request.Query)
	assert.Equal(t, "c2", got.CorrelationID)

	_, err = requestFromMessage(a2a.NewMessage(a2a.MessageRoleUser))
	assert.Error(t, err)
}

func TestBuildCard(t *testing.T) {
	card := BuildCard(specialist(), CardConfig{URL: "http://localhost:8080/a2a/specialist"})
	assert.Equal(t, "techpulse-specialist", card.Name)
	assert.Equal(t, "repository intelligence", card.Description)
	assert.Equal(t, "dev", card.Version)
	require.Len(t, card.Skills, 1)
	assert.Contains(t, card.Skills[0].Tags, "github")
}

// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/a2aproject/a2a-go/a2asrv/eventqueue"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
)

// Executor exposes a local Service over the A2A protocol.
type Executor struct {
	svc    Service
	logger *slog.Logger
}

// NewExecutor wraps svc. A nil logger uses slog.Default.
func NewExecutor(svc Service, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{svc: svc, logger: logger.With("role", svc.Role())}
}

// Execute implements a2asrv.AgentExecutor. It answers with a single agent
// message carrying the DelegationResponse.
func (e *Executor) Execute(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	msg := reqCtx.Message
	if msg == nil {
		return fmt.Errorf("message not provided")
	}
	ctx = extractTraceContext(ctx, msg.Metadata)

	req, err := requestFromMessage(msg)
	if err != nil {
		e.logger.WarnContext(ctx, "rejecting a2a message", "error", err)
		return e.fail(ctx, queue, req, err)
	}
	e.logger.DebugContext(ctx, "serving remote delegation", "correlation_id", req.CorrelationID, "from", req.From)

	out, err := responseMessage(Serve(ctx, e.svc, req))
	if err != nil {
		return e.fail(ctx, queue, req, err)
	}
	return queue.Write(ctx, out)
}

// fail answers with a failed response so remote callers always get a
// message to decode.
func (e *Executor) fail(ctx context.Context, queue eventqueue.Queue, req DelegationRequest, cause error) error {
	out, err := responseMessage(DelegationResponse{
		CorrelationID: req.CorrelationID,
		From:          e.svc.Role(),
		Status:        StatusFailed,
		Code:          errors.CodeInvalidInput,
		Message:       cause.Error(),
	})
	if err != nil {
		return err
	}
	return queue.Write(ctx, out)
}

// Cancel implements a2asrv.AgentExecutor.
func (e *Executor) Cancel(ctx context.Context, reqCtx *a2asrv.RequestContext, queue eventqueue.Queue) error {
	ev := a2a.NewStatusUpdateEvent(reqCtx, a2a.TaskStateCanceled, nil)
	ev.Final = true
	return queue.Write(ctx, ev)
}

var _ a2asrv.AgentExecutor = (*Executor)(nil)

// CardConfig describes AgentCard fields derived from runtime settings.
type CardConfig struct {
	// URL is the JSON-RPC endpoint of the role.
	URL         string
	Version     string
	Description string
}

// BuildCard assembles the AgentCard published for svc. Skills come from the
// role manifest when the service provides one.
func BuildCard(svc Service, cfg CardConfig) *a2a.AgentCard {
	role := svc.Role()
	description := cfg.Description
	var skills []a2a.AgentSkill
	if mp, ok := svc.(core.RoleManifestProvider); ok {
		m := mp.RoleManifest()
		if description == "" {
			description = m.Responsibility
		}
		skills = append(skills, a2a.AgentSkill{
			ID:          string(role),
			Name:        string(role),
			Description: m.Responsibility,
			Tags:        append([]string{string(role)}, m.Tools...),
		})
	}
	if description == "" {
		description = "techpulse " + string(role) + " agent"
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &a2a.AgentCard{
		Name:               "techpulse-" + string(role),
		Description:        description,
		URL:                cfg.URL,
		Version:            version,
		ProtocolVersion:    "0.3.0",
		DefaultInputModes:  []string{"application/json", "text/plain"},
		DefaultOutputModes: []string{"application/json", "text/plain"},
		Skills:             skills,
		Capabilities:       a2a.AgentCapabilities{Streaming: false},
		PreferredTransport: a2a.TransportProtocolJSONRPC,
		Provider: &a2a.AgentProvider{
			Org: "techpulse",
			URL: "https://github.com/jllopis/techpulse",
		},
	}
}

// Handlers returns the JSON-RPC handler and the agent card handler that
// publish svc. baseURL is the public URL the role is mounted at.
func Handlers(svc Service, baseURL, version string, logger *slog.Logger) (rpc http.Handler, card http.Handler) {
	card = a2asrv.NewStaticAgentCardHandler(BuildCard(svc, CardConfig{
		URL:     strings.TrimRight(baseURL, "/"),
		Version: version,
	}))
	rpc = a2asrv.NewJSONRPCHandler(a2asrv.NewHandler(NewExecutor(svc, logger)))
	return rpc, card
}

// SPDX-License-Identifier: Apache-2.0

// Package a2a carries delegations between agent services. A Router sends a
// DelegationRequest to the service owning a role and waits for the matching
// DelegationResponse, whether the peer runs in-process behind a channel or
// remotely behind the A2A protocol.
package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
)

// MaxDepth bounds delegation chains: a delegated task never delegates again.
const MaxDepth = 1

// DelegationStatus is the terminal state of a delegation.
type DelegationStatus string

const (
	StatusCompleted DelegationStatus = "completed"
	StatusFailed    DelegationStatus = "failed"
)

// DelegationRequest asks a peer role to carry out a task.
type DelegationRequest struct {
	CorrelationID string         `json:"correlation_id"`
	From          core.AgentRole `json:"from"`
	// Task is the instruction for the peer.
	Task string `json:"task"`
	// Request is the context payload the peer executes.
	Request core.Request `json:"request"`
	// Depth is the number of delegations that led to this one.
	Depth int `json:"depth"`
}

// DelegationResponse is the peer's answer to a DelegationRequest.
type DelegationResponse struct {
	CorrelationID string           `json:"correlation_id"`
	From          core.AgentRole   `json:"from"`
	Status        DelegationStatus `json:"status"`
	Outcome       core.Outcome     `json:"outcome"`
	Code          errors.ErrorCode `json:"code,omitempty"`
	Message       string           `json:"message,omitempty"`
	Elapsed       time.Duration    `json:"elapsed,omitempty"`
}

// Service is a role that can serve delegations.
type Service interface {
	Role() core.AgentRole
	Execute(ctx context.Context, req core.Request) (*core.Outcome, error)
}

// Delegator sends delegations. A zero or negative timeout means no bound
// beyond ctx.
type Delegator interface {
	Send(ctx context.Context, target core.AgentRole, req DelegationRequest, timeout time.Duration) (DelegationResponse, error)
}

// Serve runs req against svc and builds the response. Service errors become
// failed responses, never a Go error. The work always runs at depth one or
// more, whatever depth the caller declared.
func Serve(ctx context.Context, svc Service, req DelegationRequest) DelegationResponse {
	start := time.Now()
	ctx = WithDepth(ctx, max(req.Depth, 0)+1)

	resp := DelegationResponse{
		CorrelationID: req.CorrelationID,
		From:          svc.Role(),
		Status:        StatusCompleted,
	}
	outcome, err := svc.Execute(ctx, req.Request)
	if outcome != nil {
		resp.Outcome = *outcome
	}
	if err != nil {
		resp.Status = StatusFailed
		resp.Code = errors.CodeOf(err)
		resp.Message = err.Error()
	}
	resp.Elapsed = time.Since(start)
	return resp
}

// Err converts a failed response into a DELEGATION_FAILED error.
func (r DelegationResponse) Err() error {
	if r.Status != StatusFailed {
		return nil
	}
	return errors.New(errors.CodeDelegationFailed, fmt.Sprintf("%s reported %s", r.From, r.Code), fmt.Errorf("%s", r.Message)).
		WithContext("peer_code", string(r.Code))
}

type depthKey struct{}

// WithDepth records the delegation depth of the work running under ctx.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// Depth returns the delegation depth recorded in ctx; zero for top-level work.
func Depth(ctx context.Context) int {
	d, _ := ctx.Value(depthKey{}).(int)
	return d
}

func encodePayload(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodePayload(data map[string]any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

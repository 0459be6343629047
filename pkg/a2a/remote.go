// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2aclient/agentcard"

	"github.com/jllopis/techpulse/pkg/core"
	"github.com/jllopis/techpulse/pkg/errors"
)

const correlationKey = "techpulse:correlation_id"

// remotePeer reaches a role served by another process over A2A JSON-RPC.
type remotePeer struct {
	role    core.AgentRole
	baseURL string

	mu     sync.Mutex
	client *a2aclient.Client
	card   *a2a.AgentCard
}

func newRemotePeer(role core.AgentRole, baseURL string) *remotePeer {
	return &remotePeer{role: role, baseURL: strings.TrimRight(baseURL, "/")}
}

// connect resolves the agent card and builds the client once.
func (p *remotePeer) connect(ctx context.Context) (*a2aclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	card, err := agentcard.DefaultResolver.Resolve(ctx, p.baseURL)
	if err != nil {
		return nil, errors.New(errors.CodeDelegationUnavailable, fmt.Sprintf("resolve agent card for %s at %s", p.role, p.baseURL), err)
	}
	client, err := a2aclient.NewFromCard(ctx, card)
	if err != nil {
		return nil, errors.New(errors.CodeDelegationUnavailable, fmt.Sprintf("create a2a client for %s", p.role), err)
	}
	p.card = card
	p.client = client
	return client, nil
}

func (p *remotePeer) deliver(ctx context.Context, req DelegationRequest) (DelegationResponse, error) {
	client, err := p.connect(ctx)
	if err != nil {
		return DelegationResponse{}, err
	}

	msg, err := requestMessage(ctx, req)
	if err != nil {
		return DelegationResponse{}, errors.New(errors.CodeInvalidInput, "encode delegation request", err)
	}
	result, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return DelegationResponse{}, errors.New(errors.CodeDelegationFailed, fmt.Sprintf("send to %s", p.role), err)
	}

	var reply *a2a.Message
	switch v := result.(type) {
	case *a2a.Message:
		reply = v
	case *a2a.Task:
		reply = v.Status.Message
		if v.Status.State == a2a.TaskStateFailed && reply == nil {
			return DelegationResponse{}, errors.Newf(errors.CodeDelegationFailed, "task %s failed on %s", v.ID, p.role)
		}
	}
	if reply == nil {
		return DelegationResponse{}, errors.Newf(errors.CodeDelegationFailed, "%s returned no message", p.role)
	}
	resp, err := responseFromMessage(reply)
	if err != nil {
		return DelegationResponse{}, errors.New(errors.CodeDelegationFailed, fmt.Sprintf("decode response from %s", p.role), err)
	}
	return resp, nil
}

func (p *remotePeer) ready(ctx context.Context) error {
	_, err := p.connect(ctx)
	return err
}

func (p *remotePeer) remote() bool     { return true }
func (p *remotePeer) endpoint() string { return p.baseURL }

func (p *remotePeer) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return nil
	}
	err := p.client.Destroy()
	p.client = nil
	return err
}

// requestMessage encodes req as a data part with a text rendering of the
// task for peers that only read text.
func requestMessage(ctx context.Context, req DelegationRequest) (*a2a.Message, error) {
	data, err := encodePayload(req)
	if err != nil {
		return nil, err
	}
	text := req.Task
	if text == "" {
		text = req.Request.Query
	}
	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.DataPart{Data: data}, a2a.TextPart{Text: text})
	msg.Metadata = map[string]any{correlationKey: req.CorrelationID}
	injectTraceContext(ctx, msg.Metadata)
	return msg, nil
}

// requestFromMessage decodes a delegation from msg. Plain text messages
// become a request whose query is the text.
func requestFromMessage(msg *a2a.Message) (DelegationRequest, error) {
	var req DelegationRequest
	var text []string
	for _, part := range msg.Parts {
		switch v := part.(type) {
		case a2a.DataPart:
			if err := decodePayload(v.Data, &req); err != nil {
				return req, err
			}
			return req, nil
		case a2a.TextPart:
			text = append(text, v.Text)
		}
	}
	req.Task = strings.Join(text, "\n")
	req.Request.Query = req.Task
	if id, ok := msg.Metadata[correlationKey].(string); ok {
		req.CorrelationID = id
	}
	if strings.TrimSpace(req.Task) == "" {
		return req, fmt.Errorf("message carries no delegation payload")
	}
	return req, nil
}

func responseMessage(resp DelegationResponse) (*a2a.Message, error) {
	data, err := encodePayload(resp)
	if err != nil {
		return nil, err
	}
	text := resp.Outcome.Summary
	if resp.Status == StatusFailed {
		text = resp.Message
	}
	msg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.DataPart{Data: data}, a2a.TextPart{Text: text})
	msg.Metadata = map[string]any{correlationKey: resp.CorrelationID}
	return msg, nil
}

func responseFromMessage(msg *a2a.Message) (DelegationResponse, error) {
	for _, part := range msg.Parts {
		if v, ok := part.(a2a.DataPart); ok {
			var resp DelegationResponse
			err := decodePayload(v.Data, &resp)
			return resp, err
		}
	}
	return DelegationResponse{}, fmt.Errorf("message carries no delegation response")
}

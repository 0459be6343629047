// SPDX-License-Identifier: Apache-2.0

package a2a

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jllopis/techpulse/pkg/errors"
)

type envelope struct {
	ctx   context.Context
	req   DelegationRequest
	reply chan DelegationResponse
}

// localPeer serves an in-process role behind an inbox channel so callers
// never invoke the service directly.
type localPeer struct {
	svc    Service
	inbox  chan envelope
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
}

func newLocalPeer(svc Service, logger *slog.Logger) *localPeer {
	p := &localPeer{
		svc:    svc,
		inbox:  make(chan envelope),
		done:   make(chan struct{}),
		logger: logger.With("role", svc.Role()),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

func (p *localPeer) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case env := <-p.inbox:
			// reply is buffered: a caller that timed out never blocks us.
			go func() { env.reply <- Serve(env.ctx, p.svc, env.req) }()
		}
	}
}

func (p *localPeer) deliver(ctx context.Context, req DelegationRequest) (DelegationResponse, error) {
	env := envelope{ctx: ctx, req: req, reply: make(chan DelegationResponse, 1)}
	select {
	case p.inbox <- env:
	case <-p.done:
		return DelegationResponse{}, p.unavailable()
	case <-ctx.Done():
		return DelegationResponse{}, ctx.Err()
	}

	select {
	case resp := <-env.reply:
		return resp, nil
	case <-ctx.Done():
		return DelegationResponse{}, ctx.Err()
	}
}

func (p *localPeer) unavailable() error {
	return errors.Newf(errors.CodeDelegationUnavailable, "role %s is shut down", p.svc.Role())
}

func (p *localPeer) ready(context.Context) error {
	select {
	case <-p.done:
		return p.unavailable()
	default:
	}
	if rp, ok := p.svc.(interface{ Ready() bool }); ok && !rp.Ready() {
		return errors.Newf(errors.CodeNotReady, "role %s is not ready", p.svc.Role())
	}
	return nil
}

func (p *localPeer) remote() bool     { return false }
func (p *localPeer) endpoint() string { return "local" }

// close stops accepting delegations. In-flight handlers finish on their own
// once their callers' contexts end.
func (p *localPeer) close() error {
	p.once.Do(func() { close(p.done) })
	p.wg.Wait()
	return nil
}

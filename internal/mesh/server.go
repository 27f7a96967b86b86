package mesh

import (
	"context"
	"errors"
	"net"
	"slices"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/channel"
)

// serve accepts inbound connections until the listener closes.
func (p *Participant) serve(ln net.Listener) {
	defer p.wg.Done()
	for {
		raw, err := ln.Accept()
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("accept failed", "listener", ln.Addr().String(), "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		if !p.track(raw) {
			_ = raw.Close()
			return
		}
		p.wg.Add(1)
		go p.handleConn(raw)
	}
}

// handleConn answers envelopes on one connection until the peer closes it
// or a relay takes the connection over.
func (p *Participant) handleConn(raw net.Conn) {
	defer p.wg.Done()
	defer p.untrack(raw)

	ch := channel.Wrap(raw, p.cfg.Channel)
	defer ch.Close()

	for {
		var env Envelope
		if err := ch.Receive(p.ctx, &env); err != nil {
			if !errors.Is(err, domain.ErrClosed) && p.ctx.Err() == nil {
				p.metrics.RecordChannelError(domain.GetErrorCode(err))
				p.logger.Debug("inbound channel closed", "remote", hostOf(raw.RemoteAddr()), "error", err)
			}
			return
		}

		if env.Type == MsgRelay {
			p.handleRelay(ch, &env)
			return
		}

		reply := p.dispatch(p.ctx, ch.RemoteAddr(), &env)
		reply.ID = env.ID
		if err := ch.Send(p.ctx, reply); err != nil {
			p.metrics.RecordChannelError(domain.GetErrorCode(err))
			return
		}
	}
}

func (p *Participant) dispatch(ctx context.Context, remote net.Addr, env *Envelope) *Reply {
	switch env.Type {
	case MsgPing:
		r := okReply(env.ID)
		r.Payload = []byte(p.id.String())
		return r
	case MsgCall:
		return p.handleCall(ctx, env)
	case MsgForward:
		return p.handleForward(ctx, env)
	case MsgJoin:
		return p.handleJoin(ctx, remote, env)
	case MsgLeave:
		return p.handleLeave(ctx, env)
	case MsgUpdate:
		return p.handleUpdate(ctx, env)
	default:
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails("unknown message type "+string(env.Type)), nil)
	}
}

func (p *Participant) handleCall(ctx context.Context, env *Envelope) *Reply {
	if env.To != "" && env.To != p.id.String() {
		return errorReply(env.ID, domain.ErrNotFound.WithDetails(env.To+" is not hosted here"), nil)
	}
	if p.cfg.Handler == nil {
		return errorReply(env.ID, domain.ErrNotFound.WithDetails("no handler for "+p.id.String()), nil)
	}
	from, _ := domain.ParseServiceIdentity(env.From)
	out, err := p.cfg.Handler.ServeMesh(ctx, from, env.Payload)
	if err != nil {
		return errorReply(env.ID, err, nil)
	}
	r := okReply(env.ID)
	r.Payload = out
	return r
}

// handleForward delivers a call on behalf of a caller that cannot reach the
// callee itself. The callee endpoint must belong to the callee's entry and
// the delivery is always direct.
func (p *Participant) handleForward(ctx context.Context, env *Envelope) *Reply {
	if !p.cfg.Translator {
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails("not a translator"), nil)
	}
	if env.Forward == nil {
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails("forward without endpoint"), nil)
	}
	callee, err := domain.ParseServiceIdentity(env.To)
	if err != nil {
		return errorReply(env.ID, err, nil)
	}
	entry, ok := p.book.Snapshot().Get(callee)
	if !ok {
		return errorReply(env.ID, domain.ErrNotFound.WithDetails(callee.String()), nil)
	}
	if !slices.Contains(entry.Endpoints, env.Forward.Endpoint) {
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails(
			env.Forward.Endpoint.String()+" is not an endpoint of "+callee.String()), nil)
	}

	call := &Envelope{ID: env.ID, Type: MsgCall, From: env.From, To: env.To, Payload: env.Payload}
	reply, err := p.request(ctx, env.Forward.Endpoint, call)
	if err != nil {
		p.logger.Debug("forward delivery failed",
			"callee", callee.String(),
			"endpoint", env.Forward.Endpoint.String(),
			"error", err)
		return errorReply(env.ID, err, nil)
	}
	return reply
}

func (p *Participant) handleJoin(ctx context.Context, remote net.Addr, env *Envelope) *Reply {
	if env.Join == nil {
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails("join without entry"), nil)
	}
	if !p.engine.IsLeader() {
		return p.notLeaderReply(env.ID)
	}
	if !p.joinLimiter.Allow(remote) {
		return errorReply(env.ID, domain.ErrRateLimited, nil)
	}
	idx, err := p.admitJoin(ctx, AdmissionRequest{Entry: env.Join.Entry, Token: env.Join.Token, Remote: remote}, true)
	if err != nil {
		if errors.Is(err, domain.ErrNotLeader) {
			return p.notLeaderReply(env.ID)
		}
		return errorReply(env.ID, err, nil)
	}
	r := okReply(env.ID)
	r.Index = idx
	return r
}

func (p *Participant) handleLeave(ctx context.Context, env *Envelope) *Reply {
	if env.Leave == nil || env.Leave.Identity.String() != env.From {
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails("a participant may only remove itself"), nil)
	}
	if !p.engine.IsLeader() {
		return p.notLeaderReply(env.ID)
	}
	idx, err := p.removeMember(ctx, env.Leave.Identity, domain.LeaveReasonGraceful)
	if err != nil {
		if errors.Is(err, domain.ErrNotLeader) {
			return p.notLeaderReply(env.ID)
		}
		return errorReply(env.ID, err, nil)
	}
	r := okReply(env.ID)
	r.Index = idx
	return r
}

func (p *Participant) handleUpdate(ctx context.Context, env *Envelope) *Reply {
	if env.Update == nil || env.Update.Identity.String() != env.From {
		return errorReply(env.ID, domain.ErrInvalidArgument.WithDetails("a participant may only update itself"), nil)
	}
	if !p.engine.IsLeader() {
		return p.notLeaderReply(env.ID)
	}
	idx, err := p.engine.Propose(ctx, updateEvent(env.Update.Identity, env.Update.Transports, env.Update.Endpoints))
	if err != nil {
		if errors.Is(err, domain.ErrNotLeader) {
			return p.notLeaderReply(env.ID)
		}
		return errorReply(env.ID, err, nil)
	}
	r := okReply(env.ID)
	r.Index = idx
	return r
}

// notLeaderReply redirects the caller to the current leader, including the
// leader's mesh endpoints when the book knows them.
func (p *Participant) notLeaderReply(id string) *Reply {
	redirect := &Redirect{}
	if leader, ok := p.engine.CurrentLeader(); ok {
		redirect.LeaderID = leader.String()
		redirect.LeaderAddr = p.engine.LeaderAddr()
		if entry, ok := p.book.Snapshot().Get(leader); ok {
			redirect.Endpoints = entry.Endpoints
		}
	}
	return errorReply(id, domain.ErrNotLeader, redirect)
}

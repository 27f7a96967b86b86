package mesh

import (
	"context"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/channel"
	"github.com/norpie/constellation/internal/negotiator"
)

// Resolve returns the endpoints of id from the local address book.
func (p *Participant) Resolve(ctx context.Context, id domain.ServiceIdentity) ([]domain.Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrTimeout.WithCause(err)
	}
	return p.book.Resolve(id)
}

// Negotiate picks how this participant reaches id. An Unreachable outcome is
// returned together with ErrUnreachable.
func (p *Participant) Negotiate(id domain.ServiceIdentity) (negotiator.Result, error) {
	snap := p.book.Snapshot()
	entry, ok := snap.Get(id)
	if !ok {
		return negotiator.Result{}, domain.ErrNotFound.WithDetails(id.String())
	}

	res := p.negotiator.Negotiate(p.capabilities(), entry, snap)
	p.metrics.RecordNegotiation(res.Outcome.String())
	if res.Outcome == negotiator.Unreachable {
		p.events.emit(EventNegotiation, "callee", id.String(), "epoch", formatUint(snap.Epoch()))
		return res, domain.ErrUnreachable.WithDetails(id.String())
	}
	return res, nil
}

// Call sends payload to the service id and returns its answer. The path is
// negotiated from the local address book: the callee is dialed directly
// when possible, otherwise through one translator.
func (p *Participant) Call(ctx context.Context, id domain.ServiceIdentity, payload []byte) ([]byte, error) {
	start := time.Now()
	res, err := p.Negotiate(id)
	if err != nil {
		p.metrics.RecordCall("none", "unreachable", time.Since(start).Seconds())
		return nil, err
	}

	var (
		env    *Envelope
		target domain.Endpoint
		path   = res.Outcome.String()
	)
	switch res.Outcome {
	case negotiator.Direct:
		env = newEnvelope(MsgCall, p.id)
		target = res.Endpoint
	default:
		env = newEnvelope(MsgForward, p.id)
		env.Forward = &ForwardRequest{Endpoint: res.Endpoint}
		target = res.IngressEndpoint
	}
	env.To = id.String()
	env.Payload = payload

	reply, err := p.request(ctx, target, env)
	if err != nil {
		code := domain.GetErrorCode(err)
		p.metrics.RecordChannelError(code)
		p.metrics.RecordCall(path, "error", time.Since(start).Seconds())
		p.events.emit(EventChannelError, "callee", id.String(), "endpoint", target.String(), "code", code)
		return nil, err
	}
	if err := reply.Err(); err != nil {
		p.metrics.RecordCall(path, "error", time.Since(start).Seconds())
		return nil, err
	}
	p.metrics.RecordCall(path, "ok", time.Since(start).Seconds())
	return reply.Payload, nil
}

// Ping checks that the participant behind ep answers and returns its
// identity.
func (p *Participant) Ping(ctx context.Context, ep domain.Endpoint) (domain.ServiceIdentity, error) {
	reply, err := p.request(ctx, ep, newEnvelope(MsgPing, p.id))
	if err != nil {
		return domain.ServiceIdentity{}, err
	}
	if err := reply.Err(); err != nil {
		return domain.ServiceIdentity{}, err
	}
	return domain.ParseServiceIdentity(string(reply.Payload))
}

// request sends env over a fresh channel to ep and waits for the reply.
func (p *Participant) request(ctx context.Context, ep domain.Endpoint, env *Envelope) (*Reply, error) {
	var reply Reply
	if err := channel.Request(ctx, p.registry, ep, p.cfg.Channel, env, &reply); err != nil {
		return nil, err
	}
	if reply.ID != env.ID {
		return nil, domain.ErrDecodeFailed.WithDetails("reply " + reply.ID + " does not answer " + env.ID)
	}
	return &reply, nil
}

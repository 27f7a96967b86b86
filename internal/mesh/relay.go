package mesh

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/channel"
)

// Relay opens a consensus stream to target through another participant. The
// stream layer falls back to it when target cannot be dialed directly, so a
// partitioned pair of members keeps exchanging raft traffic as long as some
// third member reaches both.
func (p *Participant) Relay(ctx context.Context, target string) (net.Conn, error) {
	snap := p.book.Snapshot()
	self := p.engine.LocalAddr()

	var lastErr error = domain.ErrUnreachable.WithDetails("no relay for " + target)
	for _, entry := range snap.Entries() {
		if entry.Identity == p.id || entry.RaftAddr == "" || entry.RaftAddr == target || entry.RaftAddr == self {
			continue
		}
		ep, ok := p.directEndpoint(entry, snap)
		if !ok {
			continue
		}
		conn, err := p.relayVia(ctx, ep, target)
		if err != nil {
			lastErr = err
			continue
		}
		p.metrics.RecordRelay("ok")
		p.logger.Debug("consensus stream relayed", "target", target, "via", entry.Identity.String())
		return conn, nil
	}
	p.metrics.RecordRelay("failed")
	return nil, lastErr
}

func (p *Participant) relayVia(ctx context.Context, ep domain.Endpoint, target string) (net.Conn, error) {
	ch, err := channel.Open(ctx, p.registry, ep, p.cfg.Channel)
	if err != nil {
		return nil, err
	}
	env := newEnvelope(MsgRelay, p.id)
	env.Relay = &RelayRequest{Target: target}
	if err := ch.Send(ctx, env); err != nil {
		_ = ch.Close()
		return nil, err
	}
	var reply Reply
	if err := ch.Receive(ctx, &reply); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := reply.Err(); err != nil {
		_ = ch.Close()
		return nil, err
	}

	raw := ch.Conn().Raw()
	_ = raw.SetDeadline(time.Time{})
	return raw, nil
}

// handleRelay splices ch to a consensus member. Only addresses in the raft
// configuration are accepted.
func (p *Participant) handleRelay(ch *channel.Channel, env *Envelope) {
	refuse := func(err error) {
		p.metrics.RecordRelay("refused")
		_ = ch.Send(p.ctx, errorReply(env.ID, err, nil))
	}

	if !p.relayLimiter.Allow(ch.RemoteAddr()) {
		refuse(domain.ErrRateLimited)
		return
	}
	if env.Relay == nil || env.Relay.Target == "" {
		refuse(domain.ErrInvalidArgument.WithDetails("relay without target"))
		return
	}
	if p.layer == nil {
		refuse(domain.ErrUnsupportedTransport.WithDetails("consensus transport does not relay"))
		return
	}
	target := env.Relay.Target
	if !p.isConsensusMember(target) {
		refuse(domain.ErrInvalidArgument.WithDetails(target + " is not a consensus member"))
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.RaftTimeout)
	upstream, err := p.layer.DialDirect(ctx, target)
	cancel()
	if err != nil {
		refuse(err)
		return
	}
	if !p.track(upstream) {
		_ = upstream.Close()
		return
	}
	defer p.untrack(upstream)

	if err := ch.Send(p.ctx, okReply(env.ID)); err != nil {
		_ = upstream.Close()
		return
	}
	p.metrics.RecordRelay("served")

	downstream := ch.Conn().Raw()
	_ = downstream.SetDeadline(time.Time{})
	splice(downstream, upstream)
}

func (p *Participant) isConsensusMember(addr string) bool {
	members, err := p.engine.Members()
	if err != nil {
		return false
	}
	for _, m := range members {
		if m.Address == addr {
			return true
		}
	}
	return false
}

// splice copies in both directions until either side closes, then closes
// both.
func splice(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	pipe := func(dst, src net.Conn) {
		defer wg.Done()
		_, _ = io.Copy(dst, src)
		_ = dst.Close()
		_ = src.Close()
	}
	go pipe(a, b)
	go pipe(b, a)
	wg.Wait()
}

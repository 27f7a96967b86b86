package mesh

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/negotiator"
)

// redirectBackoff is the pause before asking again when a follower does not
// know the leader yet.
const redirectBackoff = 200 * time.Millisecond

// Join makes the participant a mesh member. An empty leaderAddr bootstraps a
// new mesh with this participant as its first member; otherwise leaderAddr
// ("kind://address", or a bare socket address) names any member's mesh
// endpoint, and NotLeader redirects are followed up to JoinRedirects times.
//
// A participant restarted over durable consensus state treats an empty
// leaderAddr as a rejoin of the mesh recorded in that state.
//
// Join returns once the participant's own entry is visible in its local
// address book.
func (p *Participant) Join(ctx context.Context, leaderAddr string) error {
	if leaderAddr == "" && p.discovery != nil {
		if targets := p.discovery.joinTargets(); len(targets) > 0 {
			return p.joinAny(ctx, targets)
		}
	}
	if leaderAddr == "" {
		return p.bootstrap(ctx)
	}
	ep, err := ParseAddress(leaderAddr)
	if err != nil {
		return err
	}
	return p.joinAny(ctx, []domain.Endpoint{ep})
}

func (p *Participant) joinAny(ctx context.Context, targets []domain.Endpoint) error {
	var lastErr error
	for _, target := range targets {
		err := p.joinVia(ctx, target)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, domain.ErrAdmissionDenied) {
			break
		}
		p.logger.Debug("join attempt failed", "target", target.String(), "error", err)
	}
	return lastErr
}

func (p *Participant) joinVia(ctx context.Context, target domain.Endpoint) error {
	entry := p.Entry()
	env := newEnvelope(MsgJoin, p.id)
	env.Join = &JoinRequest{Entry: entry, Token: p.cfg.AdmissionToken}

	reply, err := p.leaderRequest(ctx, target, env)
	if err != nil {
		return err
	}
	p.logger.Info("join accepted", "via", target.String(), "index", reply.Index)
	return p.awaitOwnEntry(ctx, entry.RaftAddr)
}

// bootstrap forms a single-member mesh and admits this participant. A
// participant restarted over durable consensus state rejoins the mesh that
// state describes instead.
func (p *Participant) bootstrap(ctx context.Context) error {
	existing, err := p.engine.Bootstrap()
	if err != nil {
		return err
	}
	if existing {
		return p.rejoin(ctx)
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.JoinTimeout)
	defer cancel()
	if err := p.awaitLeadership(waitCtx); err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			return domain.ErrTimeout.WithDetails("waiting for bootstrap leadership")
		}
		return err
	}

	entry := p.Entry()
	if _, err := p.admitJoin(ctx, AdmissionRequest{Entry: entry}, false); err != nil {
		return err
	}
	p.logger.Info("mesh bootstrapped")
	return p.awaitOwnEntry(ctx, entry.RaftAddr)
}

// awaitLeadership waits until this node leads and its LeaderChange for the
// current term is folded. A LeaderChange replayed from an earlier term does
// not count.
func (p *Participant) awaitLeadership(ctx context.Context) error {
	_, err := p.book.WaitFor(ctx, p.leadsAt)
	return err
}

func (p *Participant) leadsAt(s *addressbook.Snapshot) bool {
	leader, ok := s.Leader()
	return ok && leader == p.id && p.engine.IsLeader() && s.Epoch() == p.engine.CurrentTerm()
}

// rejoin re-admits a participant restarted over durable consensus state.
// Its listeners may have moved, so the entry is always proposed again:
// locally when this node won the election, otherwise through the leader.
func (p *Participant) rejoin(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.JoinTimeout)
	defer cancel()

	for {
		if p.engine.IsLeader() {
			snap, err := p.book.WaitFor(waitCtx, func(s *addressbook.Snapshot) bool {
				return !p.engine.IsLeader() || p.leadsAt(s)
			})
			if err == nil && p.leadsAt(snap) {
				entry := p.Entry()
				_, err = p.admitJoin(waitCtx, AdmissionRequest{Entry: entry}, false)
				if err == nil {
					p.logger.Info("rejoined mesh as transponder")
					return p.awaitOwnEntry(ctx, entry.RaftAddr)
				}
				if !domain.Retryable(err) {
					return err
				}
			}
		} else if targets := p.rejoinTargets(); len(targets) > 0 {
			err := p.joinAny(waitCtx, targets)
			if err == nil {
				p.logger.Info("rejoined mesh")
				return nil
			}
			if errors.Is(err, domain.ErrAdmissionDenied) {
				return err
			}
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrTimeout.WithDetails("waiting to rejoin mesh")
		case <-time.After(redirectBackoff):
		}
	}
}

// rejoinTargets lists the mesh endpoints of other members reachable without
// a translator, the current leader first. Members that are not the leader
// answer with a redirect.
func (p *Participant) rejoinTargets() []domain.Endpoint {
	leader, known := p.engine.CurrentLeader()
	if !known || leader == p.id {
		return nil
	}
	snap := p.book.Snapshot()
	var targets []domain.Endpoint
	if entry, ok := snap.Get(leader); ok {
		if ep, ok := p.directEndpoint(entry, snap); ok {
			targets = append(targets, ep)
		}
	}
	for _, entry := range snap.Entries() {
		if entry.Identity == p.id || entry.Identity == leader {
			continue
		}
		if ep, ok := p.directEndpoint(entry, snap); ok {
			targets = append(targets, ep)
		}
	}
	return targets
}

func (p *Participant) awaitOwnEntry(ctx context.Context, raftAddr string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.JoinTimeout)
	defer cancel()
	_, err := p.book.WaitFor(waitCtx, func(s *addressbook.Snapshot) bool {
		e, ok := s.Get(p.id)
		return ok && e.RaftAddr == raftAddr
	})
	if err != nil && ctx.Err() == nil && waitCtx.Err() != nil {
		return domain.ErrTimeout.WithDetails("waiting for own address book entry")
	}
	return err
}

// admitJoin runs on the leader. The Join is committed before the raft
// configuration changes, so a failed configuration change is rolled back
// with a Leave.
func (p *Participant) admitJoin(ctx context.Context, req AdmissionRequest, remote bool) (uint64, error) {
	entry := req.Entry
	entry.Normalize()
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	if entry.RaftAddr == "" {
		return 0, domain.ErrInvalidArgument.WithDetails("entry without raft address")
	}
	if remote && !p.admit(ctx, req) {
		return 0, domain.ErrAdmissionDenied.WithDetails(entry.Identity.String())
	}

	idx, err := p.engine.Propose(ctx, &domain.MembershipEvent{
		Type: domain.EventJoin,
		Join: &domain.JoinEvent{Entry: entry},
	})
	if err != nil {
		return 0, err
	}
	if !remote {
		return idx, nil
	}

	if err := p.engine.AddMember(ctx, entry.Identity, entry.RaftAddr); err != nil {
		p.logger.Warn("consensus membership change failed, rolling back join",
			"identity", entry.Identity.String(),
			"error", err)
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Consensus.ProposeTimeout)
		defer cancel()
		if _, rerr := p.engine.Propose(rollbackCtx, leaveEvent(entry.Identity, domain.LeaveReasonRollback)); rerr != nil {
			p.logger.Error("join rollback failed", "identity", entry.Identity.String(), "error", rerr)
		}
		return 0, err
	}
	return idx, nil
}

// removeMember runs on the leader.
func (p *Participant) removeMember(ctx context.Context, id domain.ServiceIdentity, reason string) (uint64, error) {
	idx, err := p.engine.Propose(ctx, leaveEvent(id, reason))
	if err != nil {
		return idx, err
	}
	if err := p.engine.RemoveMember(ctx, id); err != nil {
		return idx, err
	}
	return idx, nil
}

// Leave removes the participant from the mesh. On the leader the Leave is
// proposed locally and leadership passes to another member; elsewhere the
// leader is asked to do it. The participant keeps running until Close.
func (p *Participant) Leave(ctx context.Context) error {
	if p.engine.IsLeader() {
		_, err := p.removeMember(ctx, p.id, domain.LeaveReasonGraceful)
		if err == nil {
			p.logger.Info("left mesh")
		}
		return err
	}

	env := newEnvelope(MsgLeave, p.id)
	env.Leave = &LeaveRequest{Identity: p.id}
	if _, err := p.requestLeader(ctx, env); err != nil {
		return err
	}
	p.logger.Info("left mesh")
	return nil
}

// UpdateEndpoints replaces the endpoints advertised for this participant.
// The advertised transport set becomes the set of endpoint kinds.
func (p *Participant) UpdateEndpoints(ctx context.Context, endpoints []domain.Endpoint) error {
	transports := make([]domain.TransportKind, 0, len(endpoints))
	for _, ep := range endpoints {
		transports = append(transports, ep.Kind)
	}
	slices.Sort(transports)
	transports = slices.Compact(transports)

	ev := updateEvent(p.id, transports, endpoints)
	if err := ev.Validate(); err != nil {
		return err
	}

	if p.engine.IsLeader() {
		if _, err := p.engine.Propose(ctx, ev); err != nil {
			return err
		}
	} else {
		env := newEnvelope(MsgUpdate, p.id)
		env.Update = &UpdateRequest{Identity: p.id, Transports: transports, Endpoints: endpoints}
		if _, err := p.requestLeader(ctx, env); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.endpoints = slices.Clone(endpoints)
	p.mu.Unlock()
	return nil
}

// requestLeader sends env to the leader the local book names.
func (p *Participant) requestLeader(ctx context.Context, env *Envelope) (*Reply, error) {
	leader, ok := p.engine.CurrentLeader()
	if !ok {
		return nil, domain.ErrNoQuorum.WithDetails("leader unknown")
	}
	snap := p.book.Snapshot()
	entry, ok := snap.Get(leader)
	if !ok {
		return nil, domain.ErrNotFound.WithDetails("leader " + leader.String() + " has no address book entry")
	}
	ep, ok := p.directEndpoint(entry, snap)
	if !ok {
		return nil, domain.ErrUnreachable.WithDetails("no direct path to leader " + leader.String())
	}
	return p.leaderRequest(ctx, ep, env)
}

// leaderRequest sends env to target and follows NotLeader redirects.
func (p *Participant) leaderRequest(ctx context.Context, target domain.Endpoint, env *Envelope) (*Reply, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.JoinRedirects; attempt++ {
		reply, err := p.request(ctx, target, env)
		if err != nil {
			return nil, err
		}
		err = reply.Err()
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrNotLeader) {
			return nil, err
		}

		next, ok := p.redirectTarget(reply.Redirect)
		if !ok {
			select {
			case <-ctx.Done():
				return nil, domain.ErrTimeout.WithCause(ctx.Err())
			case <-time.After(redirectBackoff):
			}
			continue
		}
		p.logger.Debug("following leader redirect",
			"from", target.String(),
			"to", next.String(),
			"leader", reply.Redirect.LeaderID)
		target = next
	}
	return nil, lastErr
}

func (p *Participant) redirectTarget(r *Redirect) (domain.Endpoint, bool) {
	if r == nil || r.LeaderID == "" || len(r.Endpoints) == 0 {
		return domain.Endpoint{}, false
	}
	id, err := domain.ParseServiceIdentity(r.LeaderID)
	if err != nil {
		return domain.Endpoint{}, false
	}
	entry := domain.AddressBookEntry{Identity: id, Endpoints: r.Endpoints}
	for _, ep := range r.Endpoints {
		entry.Transports = append(entry.Transports, ep.Kind)
	}
	entry.Normalize()
	return p.directEndpoint(entry, addressbook.Empty())
}

// directEndpoint picks the endpoint of entry this participant can dial
// without a translator.
func (p *Participant) directEndpoint(entry domain.AddressBookEntry, snap *addressbook.Snapshot) (domain.Endpoint, bool) {
	res := p.negotiator.Negotiate(p.capabilities(), entry, snap)
	if res.Outcome != negotiator.Direct {
		return domain.Endpoint{}, false
	}
	return res.Endpoint, true
}

func leaveEvent(id domain.ServiceIdentity, reason string) *domain.MembershipEvent {
	return &domain.MembershipEvent{
		Type:  domain.EventLeave,
		Leave: &domain.LeaveEvent{Identity: id, Reason: reason},
	}
}

func updateEvent(id domain.ServiceIdentity, transports []domain.TransportKind, endpoints []domain.Endpoint) *domain.MembershipEvent {
	return &domain.MembershipEvent{
		Type: domain.EventEndpointUpdate,
		EndpointUpdate: &domain.EndpointUpdateEvent{
			Identity:   id,
			Transports: transports,
			Endpoints:  endpoints,
		},
	}
}

package consensus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	"github.com/oklog/ulid/v2"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/storage"
	"github.com/norpie/constellation/internal/telemetry/logger"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

// Engine replicates membership events through hashicorp/raft and folds them
// into an address book.
type Engine struct {
	cfg     Config
	raft    *raft.Raft
	fsm     *FSM
	book    *addressbook.Book
	hub     *hub
	stores  *storage.Stores
	trans   raft.Transport
	logger  *slog.Logger
	metrics *metric.Registry

	liveness *livenessTracker
	leaderCh chan bool
	obsCh    chan raft.Observation
	observer *raft.Observer

	stopCh       chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// Member is one server in the consensus configuration.
type Member struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Voter   bool   `json:"voter"`
	Leader  bool   `json:"leader"`
}

// New starts a consensus node. It does not bootstrap a cluster; call
// Bootstrap on the first node or have an existing leader AddMember this one.
//
// The engine takes ownership of stores and, when it implements io.Closer,
// of trans.
func New(cfg Config, book *addressbook.Book, stores *storage.Stores, trans raft.Transport) (*Engine, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if book == nil || stores == nil || trans == nil {
		return nil, fmt.Errorf("consensus: book, stores and transport are required")
	}

	log := cfg.Logger.With("component", "consensus", "node_id", cfg.ID.String())

	e := &Engine{
		cfg:      cfg,
		book:     book,
		hub:      newHub(),
		stores:   stores,
		trans:    trans,
		logger:   log,
		metrics:  cfg.Metrics,
		liveness: newLivenessTracker(cfg.Clock, cfg.LivenessTimeout),
		leaderCh: make(chan bool, 8),
		obsCh:    make(chan raft.Observation, 64),
		stopCh:   make(chan struct{}),
	}

	e.fsm = NewFSM(book, log)
	e.fsm.onCommit = e.onCommit
	e.fsm.onRestore = e.hub.reset

	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.ID.String())
	rc.Logger = logger.HCLog(cfg.Logger, "raft")
	rc.NotifyCh = e.leaderCh
	if cfg.HeartbeatTimeout > 0 {
		rc.HeartbeatTimeout = cfg.HeartbeatTimeout
	}
	if cfg.ElectionTimeout > 0 {
		rc.ElectionTimeout = cfg.ElectionTimeout
	}
	if cfg.CommitTimeout > 0 {
		rc.CommitTimeout = cfg.CommitTimeout
	}
	if cfg.LeaderLeaseTimeout > 0 {
		rc.LeaderLeaseTimeout = cfg.LeaderLeaseTimeout
	}
	if cfg.SnapshotThreshold > 0 {
		rc.SnapshotThreshold = cfg.SnapshotThreshold
	}
	if cfg.SnapshotInterval > 0 {
		rc.SnapshotInterval = cfg.SnapshotInterval
	}
	if cfg.TrailingLogs > 0 {
		rc.TrailingLogs = cfg.TrailingLogs
	}
	if err := raft.ValidateConfig(rc); err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}

	r, err := raft.NewRaft(rc, e.fsm, stores.Log, stores.Stable, stores.Snapshots, trans)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}
	e.raft = r

	e.observer = raft.NewObserver(e.obsCh, false, func(o *raft.Observation) bool {
		switch o.Data.(type) {
		case raft.FailedHeartbeatObservation, raft.ResumedHeartbeatObservation,
			raft.PeerObservation, raft.LeaderObservation:
			return true
		}
		return false
	})
	r.RegisterObserver(e.observer)

	e.wg.Add(2)
	go e.leadershipLoop()
	go e.observeLoop()
	if cfg.LivenessTimeout > 0 {
		e.wg.Add(1)
		go e.livenessLoop()
	}

	log.Info("consensus node started",
		"raft_addr", string(trans.LocalAddr()),
		"heartbeat_timeout", rc.HeartbeatTimeout,
		"election_timeout", rc.ElectionTimeout)
	return e, nil
}

// Bootstrap makes this node the sole voter of a new cluster. When the node
// already has consensus state it does nothing and reports existing as true;
// the node then rejoins whatever cluster that state describes.
func (e *Engine) Bootstrap() (existing bool, err error) {
	f := e.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{
			Suffrage: raft.Voter,
			ID:       raft.ServerID(e.cfg.ID.String()),
			Address:  e.trans.LocalAddr(),
		}},
	})
	if err := f.Error(); err != nil {
		if errors.Is(err, raft.ErrCantBootstrap) {
			e.logger.Info("existing consensus state found, not bootstrapping")
			return true, nil
		}
		return false, fmt.Errorf("bootstrap cluster: %w", err)
	}
	e.logger.Info("consensus cluster bootstrapped", "raft_addr", string(e.trans.LocalAddr()))
	return false, nil
}

// ID returns this node's identity.
func (e *Engine) ID() domain.ServiceIdentity { return e.cfg.ID }

// LocalAddr returns this node's raft address.
func (e *Engine) LocalAddr() string { return string(e.trans.LocalAddr()) }

// Book returns the address book this engine folds into.
func (e *Engine) Book() *addressbook.Book { return e.book }

// CurrentTerm returns the raft term this node is in. A leader's
// LeaderChange carries it as the epoch.
func (e *Engine) CurrentTerm() uint64 { return e.raft.CurrentTerm() }

// IsLeader reports whether this node is the transponder.
func (e *Engine) IsLeader() bool {
	return e.raft.State() == raft.Leader
}

// CurrentLeader returns the leader as known to raft.
func (e *Engine) CurrentLeader() (domain.ServiceIdentity, bool) {
	_, id := e.raft.LeaderWithID()
	if id == "" {
		return domain.ServiceIdentity{}, false
	}
	sid, err := domain.ParseServiceIdentity(string(id))
	if err != nil {
		return domain.ServiceIdentity{}, false
	}
	return sid, true
}

// LeaderAddr returns the leader's raft address, empty when unknown.
func (e *Engine) LeaderAddr() string {
	addr, _ := e.raft.LeaderWithID()
	return string(addr)
}

// Propose replicates ev and returns its committed index.
//
// A follower that knows the leader fails at once with a *domain.NotLeaderError
// carrying the redirect hint. Without a known leader, or when leadership is
// lost mid-flight, the proposal is retried with exponential backoff and
// finally fails with ErrNoQuorum. An event the fold rejects is still
// committed: its index is returned together with the rejection.
func (e *Engine) Propose(ctx context.Context, ev *domain.MembershipEvent) (uint64, error) {
	if ev == nil {
		return 0, domain.ErrInvalidArgument.WithDetails("nil event")
	}
	if err := ev.Validate(); err != nil {
		e.metrics.RecordProposal("invalid", 0)
		return 0, err
	}
	stamped := *ev
	if stamped.ID == "" {
		stamped.ID = ulid.Make().String()
	}
	if stamped.Timestamp == 0 {
		stamped.Timestamp = e.cfg.Clock.Now().UnixMilli()
	}
	data, err := stamped.Marshal()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	backoff := e.cfg.ProposeBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.ProposeAttempts; attempt++ {
		index, rejected, err := e.apply(ctx, data)
		switch {
		case err == nil && rejected == nil:
			e.metrics.RecordProposal("committed", time.Since(start).Seconds())
			return index, nil
		case err == nil:
			e.metrics.RecordProposal("rejected", 0)
			return index, rejected
		case errors.Is(err, domain.ErrNotLeader):
			e.metrics.RecordProposal("not_leader", 0)
			return 0, err
		case !errors.Is(err, errRetry):
			e.metrics.RecordProposal(resultLabel(err), 0)
			return 0, err
		}

		lastErr = err
		if attempt == e.cfg.ProposeAttempts {
			break
		}
		e.logger.Debug("proposal not committed, retrying",
			"event_id", stamped.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
		select {
		case <-e.cfg.Clock.After(backoff):
		case <-ctx.Done():
			e.metrics.RecordProposal("timeout", 0)
			return 0, domain.ErrTimeout.WithDetails("proposal").WithCause(ctx.Err())
		case <-e.stopCh:
			return 0, domain.ErrClosed.WithDetails("consensus engine shut down")
		}
		backoff *= 2
		if backoff > e.cfg.ProposeMaxBackoff {
			backoff = e.cfg.ProposeMaxBackoff
		}
	}

	e.metrics.RecordProposal("no_quorum", 0)
	return 0, domain.ErrNoQuorum.
		WithDetails(fmt.Sprintf("not committed after %d attempts", e.cfg.ProposeAttempts)).
		WithCause(lastErr)
}

// errRetry marks apply failures Propose retries.
var errRetry = errors.New("retry proposal")

type retryError struct{ cause error }

func (e *retryError) Error() string   { return "retry proposal: " + e.cause.Error() }
func (e *retryError) Unwrap() []error { return []error{errRetry, e.cause} }

func retry(cause error) error { return &retryError{cause: cause} }

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrClosed):
		return "closed"
	default:
		return "error"
	}
}

// apply runs one raft.Apply attempt. rejected is the fold result of a
// committed entry; err means the entry was not committed (or its fate is
// unknown).
func (e *Engine) apply(ctx context.Context, data []byte) (index uint64, rejected error, err error) {
	if e.raft.State() != raft.Leader {
		addr, id := e.raft.LeaderWithID()
		if id != "" && id != raft.ServerID(e.cfg.ID.String()) {
			return 0, nil, &domain.NotLeaderError{LeaderID: string(id), LeaderAddr: string(addr)}
		}
		return 0, nil, retry(raft.ErrNotLeader)
	}

	timeout := e.cfg.ProposeTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	if timeout <= 0 {
		return 0, nil, domain.ErrTimeout.WithDetails("proposal").WithCause(ctx.Err())
	}

	f := e.raft.Apply(data, timeout)
	done := make(chan error, 1)
	go func() { done <- f.Error() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		return 0, nil, domain.ErrTimeout.WithDetails("proposal").WithCause(ctx.Err())
	}

	switch {
	case err == nil:
	case errors.Is(err, raft.ErrNotLeader),
		errors.Is(err, raft.ErrLeadershipLost),
		errors.Is(err, raft.ErrEnqueueTimeout),
		errors.Is(err, raft.ErrLeadershipTransferInProgress):
		return 0, nil, retry(err)
	case errors.Is(err, raft.ErrRaftShutdown):
		return 0, nil, domain.ErrClosed.WithDetails("consensus engine shut down")
	default:
		return 0, nil, domain.ErrInternal.WithDetails("raft apply").WithCause(err)
	}

	if resp, ok := f.Response().(error); ok && resp != nil {
		return f.Index(), resp, nil
	}
	return f.Index(), nil, nil
}

// Subscribe streams committed events starting at fromIndex (0 and 1 both
// mean the beginning of the log). Retained entries are replayed from the log
// store before live delivery continues; an index that was compacted away
// fails with ErrLogCompacted.
func (e *Engine) Subscribe(ctx context.Context, fromIndex uint64) (*Subscription, error) {
	select {
	case <-e.stopCh:
		return nil, domain.ErrClosed.WithDetails("consensus engine shut down")
	default:
	}
	if fromIndex == 0 {
		fromIndex = 1
	}

	s := &Subscription{
		events: make(chan domain.CommittedEvent, e.cfg.SubscriberBuffer),
		live:   make(chan domain.CommittedEvent, e.cfg.SubscriberBuffer),
		done:   make(chan struct{}),
		hub:    e.hub,
	}
	upto := e.hub.add(s)

	if fromIndex <= upto {
		first, err := e.stores.Log.FirstIndex()
		if err != nil {
			s.Close()
			return nil, domain.ErrInternal.WithDetails("read first log index").WithCause(err)
		}
		if first == 0 || fromIndex < first {
			s.Close()
			return nil, domain.ErrLogCompacted.WithDetails(
				fmt.Sprintf("requested index %d, first retained index %d", fromIndex, first))
		}
	} else {
		upto = fromIndex - 1
	}

	go s.run(ctx, e.stores.Log, fromIndex, upto)
	return s, nil
}

func (e *Engine) onCommit(ce domain.CommittedEvent) {
	e.hub.publish(ce)
	snap := e.book.Snapshot()
	e.metrics.SetMembers(snap.Len())
	e.metrics.SetApplied(snap.Index(), snap.Epoch())
}

// AddMember adds a participant to the raft configuration. Voters are added
// until MaxVoters is reached; later members join as non-voters. Adding a
// server already present at the same address is a no-op.
func (e *Engine) AddMember(ctx context.Context, id domain.ServiceIdentity, raftAddr string) error {
	if err := id.Validate(); err != nil {
		return err
	}
	if raftAddr == "" {
		return domain.ErrInvalidArgument.WithDetails("raft address is required")
	}
	if err := e.requireLeader(); err != nil {
		return err
	}

	cf := e.raft.GetConfiguration()
	if err := cf.Error(); err != nil {
		return e.mapMembershipErr(err)
	}
	sid := raft.ServerID(id.String())
	voters := 0
	for _, srv := range cf.Configuration().Servers {
		if srv.ID == sid && srv.Address == raft.ServerAddress(raftAddr) {
			return nil
		}
		if srv.Suffrage == raft.Voter && srv.ID != sid {
			voters++
		}
	}

	timeout := e.timeoutFor(ctx)
	var f raft.IndexFuture
	voter := voters < e.cfg.MaxVoters
	if voter {
		f = e.raft.AddVoter(sid, raft.ServerAddress(raftAddr), 0, timeout)
	} else {
		f = e.raft.AddNonvoter(sid, raft.ServerAddress(raftAddr), 0, timeout)
	}
	if err := e.wait(ctx, f); err != nil {
		return e.mapMembershipErr(err)
	}
	e.logger.Info("member added to consensus",
		"member", id.String(),
		"raft_addr", raftAddr,
		"voter", voter)
	return nil
}

// RemoveMember removes a participant from the raft configuration.
func (e *Engine) RemoveMember(ctx context.Context, id domain.ServiceIdentity) error {
	if err := e.requireLeader(); err != nil {
		return err
	}
	f := e.raft.RemoveServer(raft.ServerID(id.String()), 0, e.timeoutFor(ctx))
	if err := e.wait(ctx, f); err != nil {
		return e.mapMembershipErr(err)
	}
	e.liveness.forget(raft.ServerID(id.String()))
	e.logger.Info("member removed from consensus", "member", id.String())
	return nil
}

// Members returns the raft configuration.
func (e *Engine) Members() ([]Member, error) {
	f := e.raft.GetConfiguration()
	if err := f.Error(); err != nil {
		return nil, e.mapMembershipErr(err)
	}
	_, leaderID := e.raft.LeaderWithID()
	servers := f.Configuration().Servers
	out := make([]Member, 0, len(servers))
	for _, srv := range servers {
		out = append(out, Member{
			ID:      string(srv.ID),
			Address: string(srv.Address),
			Voter:   srv.Suffrage == raft.Voter,
			Leader:  srv.ID == leaderID,
		})
	}
	return out, nil
}

// Stats returns raft's internal statistics.
func (e *Engine) Stats() map[string]string {
	return e.raft.Stats()
}

// State returns the raft role name.
func (e *Engine) State() string {
	return e.raft.State().String()
}

// Snapshot forces a consensus snapshot, compacting the log down to
// TrailingLogs entries.
func (e *Engine) Snapshot() error {
	if err := e.raft.Snapshot().Error(); err != nil {
		return domain.ErrInternal.WithDetails("snapshot").WithCause(err)
	}
	return nil
}

// Barrier waits until every preceding entry is applied locally.
func (e *Engine) Barrier(ctx context.Context) error {
	if err := e.requireLeader(); err != nil {
		return err
	}
	return e.mapMembershipErr(e.wait(ctx, e.raft.Barrier(e.timeoutFor(ctx))))
}

func (e *Engine) requireLeader() error {
	if e.raft.State() == raft.Leader {
		return nil
	}
	addr, id := e.raft.LeaderWithID()
	return &domain.NotLeaderError{LeaderID: string(id), LeaderAddr: string(addr)}
}

func (e *Engine) timeoutFor(ctx context.Context) time.Duration {
	timeout := e.cfg.ProposeTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}
	return timeout
}

func (e *Engine) wait(ctx context.Context, f raft.Future) error {
	done := make(chan error, 1)
	go func() { done <- f.Error() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return domain.ErrTimeout.WithCause(ctx.Err())
	}
}

func (e *Engine) mapMembershipErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, raft.ErrNotLeader), errors.Is(err, raft.ErrLeadershipLost):
		addr, id := e.raft.LeaderWithID()
		return &domain.NotLeaderError{LeaderID: string(id), LeaderAddr: string(addr)}
	case errors.Is(err, raft.ErrRaftShutdown):
		return domain.ErrClosed.WithDetails("consensus engine shut down")
	case errors.Is(err, domain.ErrTimeout):
		return err
	default:
		return domain.ErrInternal.WithDetails("raft membership change").WithCause(err)
	}
}

// leadershipLoop reacts to leadership transitions. A new leader commits a
// LeaderChange carrying the raft term as its epoch.
func (e *Engine) leadershipLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case isLeader := <-e.leaderCh:
			e.metrics.SetLeader(isLeader)
			if !isLeader {
				e.liveness.reset()
				e.logger.Info("lost consensus leadership")
				continue
			}
			e.metrics.IncLeaderChanges()
			e.wg.Add(1)
			go e.announceLeadership()
		}
	}
}

func (e *Engine) announceLeadership() {
	defer e.wg.Done()

	if err := e.raft.Barrier(e.cfg.ProposeTimeout).Error(); err != nil {
		e.logger.Warn("leader barrier failed", "error", err)
		return
	}
	term := e.raft.CurrentTerm()
	ev := &domain.MembershipEvent{
		ID:        ulid.Make().String(),
		Type:      domain.EventLeaderChange,
		Timestamp: e.cfg.Clock.Now().UnixMilli(),
		LeaderChange: &domain.LeaderChangeEvent{
			Leader: e.cfg.ID,
			Epoch:  term,
		},
	}
	data, err := ev.Marshal()
	if err != nil {
		e.logger.Error("encode leader change", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ProposeTimeout)
	defer cancel()
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	index, rejected, err := e.apply(ctx, data)
	switch {
	case err != nil:
		e.logger.Warn("leader change not committed", "epoch", term, "error", err)
	case rejected != nil:
		e.logger.Debug("leader change rejected", "epoch", term, "error", rejected)
	default:
		e.logger.Info("transponder elected",
			"epoch", term,
			"index", index)
	}
}

func (e *Engine) observeLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case o := <-e.obsCh:
			switch d := o.Data.(type) {
			case raft.FailedHeartbeatObservation:
				e.liveness.failed(d.PeerID)
			case raft.ResumedHeartbeatObservation:
				e.liveness.resumed(d.PeerID)
			case raft.PeerObservation:
				if d.Removed {
					e.liveness.forget(d.Peer.ID)
				}
			case raft.LeaderObservation:
				e.logger.Debug("leader observed",
					"leader_id", string(d.LeaderID),
					"leader_addr", string(d.LeaderAddr))
			}
		}
	}
}

func (e *Engine) livenessLoop() {
	defer e.wg.Done()
	ticker := e.cfg.Clock.Ticker(e.liveness.checkInterval())
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if !e.IsLeader() {
				continue
			}
			for _, id := range e.liveness.expired() {
				e.evict(id)
			}
		}
	}
}

// evict removes a peer that missed heartbeats past the liveness timeout:
// every service it hosts leaves the book, then the server leaves raft.
func (e *Engine) evict(id raft.ServerID) {
	if id == raft.ServerID(e.cfg.ID.String()) {
		e.liveness.forget(id)
		return
	}

	var addr string
	if cf := e.raft.GetConfiguration(); cf.Error() == nil {
		for _, srv := range cf.Configuration().Servers {
			if srv.ID == id {
				addr = string(srv.Address)
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ProposeTimeout)
	defer cancel()

	since, _ := e.liveness.failingSince(id)
	e.logger.Warn("evicting unresponsive member",
		"member", string(id),
		"raft_addr", addr,
		"failing_since", since)

	for _, entry := range e.book.Snapshot().Entries() {
		if entry.Identity.String() != string(id) && (addr == "" || entry.RaftAddr != addr) {
			continue
		}
		ev := &domain.MembershipEvent{
			Type:  domain.EventLeave,
			Leave: &domain.LeaveEvent{Identity: entry.Identity, Reason: domain.LeaveReasonEvicted},
		}
		if _, err := e.Propose(ctx, ev); err != nil {
			e.logger.Warn("eviction leave failed", "service", entry.Identity.String(), "error", err)
			return
		}
	}

	if err := e.raft.RemoveServer(id, 0, e.cfg.ProposeTimeout).Error(); err != nil {
		e.logger.Warn("eviction remove server failed", "member", string(id), "error", err)
		return
	}
	e.liveness.forget(id)
	e.metrics.IncEvictions()
}

// Shutdown stops the node and releases its stores and transport.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdownOnce.Do(func() {
		close(e.stopCh)
		e.raft.DeregisterObserver(e.observer)
		if ferr := e.raft.Shutdown().Error(); ferr != nil {
			err = fmt.Errorf("shutdown raft: %w", ferr)
		}
		e.wg.Wait()
		e.hub.closeAll()
		if c, ok := e.trans.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
		err = errors.Join(err, e.stores.Close())
		e.logger.Info("consensus node stopped")
	})
	return err
}

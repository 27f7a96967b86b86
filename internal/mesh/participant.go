package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/consensus"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/transport"
	"github.com/norpie/constellation/internal/negotiator"
	"github.com/norpie/constellation/internal/storage"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

// Handler serves calls addressed to the participant's service.
type Handler interface {
	ServeMesh(ctx context.Context, from domain.ServiceIdentity, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, from domain.ServiceIdentity, payload []byte) ([]byte, error)

func (f HandlerFunc) ServeMesh(ctx context.Context, from domain.ServiceIdentity, payload []byte) ([]byte, error) {
	return f(ctx, from, payload)
}

// Participant is one service's view of the mesh. It owns the consensus
// engine replica, the address book it feeds, and the inbound listeners.
type Participant struct {
	cfg     Config
	id      domain.ServiceIdentity
	logger  *slog.Logger
	metrics *metric.Registry

	registry   *transport.Registry
	negotiator *negotiator.Negotiator
	book       *addressbook.Book
	engine     *consensus.Engine
	layer      *consensus.StreamLayer
	stores     *storage.Stores

	listeners []net.Listener
	endpoints []domain.Endpoint
	dialKinds []domain.TransportKind

	joinLimiter  *peerLimiter
	relayLimiter *peerLimiter
	events       *eventRing
	discovery    *discovery

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}

	closeOnce sync.Once
	closeErr  error
}

// New starts a participant: it binds the listeners, opens storage and
// starts the consensus engine. The participant is not a mesh member until
// Join succeeds.
func New(cfg Config) (*Participant, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Participant{
		cfg:          cfg,
		id:           cfg.Identity,
		logger:       cfg.Logger.With("component", "mesh", "identity", cfg.Identity.String()),
		metrics:      cfg.Metrics,
		registry:     cfg.Registry,
		negotiator:   negotiator.New(cfg.Preference...),
		joinLimiter:  newPeerLimiter(cfg.JoinRate),
		relayLimiter: newPeerLimiter(cfg.RelayRate),
		events:       newEventRing(cfg.EventRingSize, cfg.EventSink),
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[net.Conn]struct{}),
	}

	p.dialKinds = slices.Clone(cfg.DialKinds)
	if len(p.dialKinds) == 0 {
		p.dialKinds = p.registry.Kinds()
	}

	if err := p.listen(); err != nil {
		p.abort()
		return nil, err
	}

	stores, err := storage.Open(cfg.Storage, cfg.Logger)
	if err != nil {
		p.abort()
		return nil, err
	}
	p.stores = stores
	if cfg.Metrics != nil {
		if err := stores.RegisterMetrics(cfg.Metrics.Prometheus()); err != nil {
			p.logger.Debug("storage metrics not registered", "error", err)
		}
	}

	trans := cfg.RaftTransport
	if trans == nil {
		trans, err = p.raftTransport()
		if err != nil {
			_ = stores.Close()
			p.abort()
			return nil, err
		}
	}

	p.book = addressbook.New(addressbook.WithLogger(cfg.Logger))
	p.engine, err = consensus.New(cfg.Consensus, p.book, stores, trans)
	if err != nil {
		_ = stores.Close()
		if c, ok := trans.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		p.abort()
		return nil, err
	}

	for _, ln := range p.listeners {
		p.wg.Add(1)
		go p.serve(ln)
	}
	p.wg.Add(1)
	go p.watchCommits(ctx)

	if cfg.Discovery.Enabled {
		p.discovery, err = newDiscovery(p, cfg.Discovery)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	p.logger.Info("participant started",
		"endpoints", endpointStrings(p.endpoints),
		"raft_addr", p.engine.LocalAddr(),
		"translator", cfg.Translator)
	return p, nil
}

// listen binds every configured listener and records the advertised
// endpoints.
func (p *Participant) listen() error {
	for _, l := range p.cfg.Listeners {
		bind := l.Bind
		if bind == "" {
			bind = l.Endpoint.Address
		}
		ln, err := p.registry.Listen(domain.Endpoint{Kind: l.Endpoint.Kind, Address: bind})
		if err != nil {
			return fmt.Errorf("mesh: listen %s://%s: %w", l.Endpoint.Kind, bind, err)
		}
		p.listeners = append(p.listeners, ln)

		ep := l.Endpoint
		ep.Address = advertisedAddress(ep, ln.Addr())
		p.endpoints = append(p.endpoints, ep)
	}
	return nil
}

// advertisedAddress fills in the bound port for network listeners bound to
// port 0.
func advertisedAddress(ep domain.Endpoint, bound net.Addr) string {
	if ep.Kind != domain.KindSocket && ep.Kind != domain.KindQUIC {
		if ep.Address == "" {
			return bound.String()
		}
		return ep.Address
	}
	if ep.Address == "" {
		return bound.String()
	}
	host, port, err := net.SplitHostPort(ep.Address)
	if err != nil || port != "0" {
		return ep.Address
	}
	_, boundPort, err := net.SplitHostPort(bound.String())
	if err != nil {
		return bound.String()
	}
	return net.JoinHostPort(host, boundPort)
}

func (p *Participant) raftTransport() (raft.Transport, error) {
	tcp := transport.NewTCP(transport.TCPOptions{})
	ln, err := tcp.Listen(p.cfg.RaftBind)
	if err != nil {
		return nil, fmt.Errorf("mesh: raft listen %s: %w", p.cfg.RaftBind, err)
	}
	var adv net.Addr
	if p.cfg.RaftAdvertise != "" {
		adv, err = net.ResolveTCPAddr("tcp", p.cfg.RaftAdvertise)
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("mesh: raft advertise address: %w", err)
		}
	}
	p.layer = consensus.NewStreamLayer(ln, tcp, adv, p.cfg.Logger)
	p.layer.SetRelayer(p)
	return consensus.NewNetworkTransport(p.layer, p.cfg.Logger, p.cfg.RaftTimeout), nil
}

// abort releases what New acquired before the engine started.
func (p *Participant) abort() {
	p.cancel()
	for _, ln := range p.listeners {
		_ = ln.Close()
	}
}

// Identity returns the hosted service identity.
func (p *Participant) Identity() domain.ServiceIdentity { return p.id }

// Endpoints returns the advertised inbound endpoints.
func (p *Participant) Endpoints() []domain.Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints)
}

// Engine returns the consensus engine replica.
func (p *Participant) Engine() *consensus.Engine { return p.engine }

// Book returns the local address book.
func (p *Participant) Book() *addressbook.Book { return p.book }

// Snapshot returns the current address book snapshot.
func (p *Participant) Snapshot() *addressbook.Snapshot { return p.book.Snapshot() }

// IsLeader reports whether this participant is the transponder.
func (p *Participant) IsLeader() bool { return p.engine.IsLeader() }

// Leader returns the current transponder identity, if known.
func (p *Participant) Leader() (domain.ServiceIdentity, bool) { return p.engine.CurrentLeader() }

// Events returns the retained telemetry events, oldest first.
func (p *Participant) Events() []Event { return p.events.snapshot() }

// Subscribe streams committed membership events starting at fromIndex.
func (p *Participant) Subscribe(ctx context.Context, fromIndex uint64) (*consensus.Subscription, error) {
	return p.engine.Subscribe(ctx, fromIndex)
}

// Entry builds the address book entry this participant advertises.
func (p *Participant) Entry() domain.AddressBookEntry {
	endpoints := p.Endpoints()
	entry := domain.AddressBookEntry{
		Identity:   p.id,
		Endpoints:  endpoints,
		Translator: p.cfg.Translator,
		RaftAddr:   p.engine.LocalAddr(),
	}
	for _, ep := range endpoints {
		entry.Transports = append(entry.Transports, ep.Kind)
	}
	if len(p.cfg.Hints) > 0 {
		entry.Hints = make(map[string]string, len(p.cfg.Hints))
		for k, v := range p.cfg.Hints {
			entry.Hints[k] = v
		}
	}
	entry.Normalize()
	return entry
}

func (p *Participant) capabilities() negotiator.Capabilities {
	return negotiator.Capabilities{Identity: p.id, Transports: p.dialKinds, OnVPN: p.cfg.OnVPN}
}

// Close leaves the consensus group without proposing a Leave, stops the
// listeners and releases storage. Use Leave first for a graceful exit.
func (p *Participant) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.discovery != nil {
			if err := p.discovery.shutdown(); err != nil {
				p.logger.Warn("discovery shutdown failed", "error", err)
			}
		}
		for _, ln := range p.listeners {
			_ = ln.Close()
		}
		p.mu.Lock()
		for c := range p.conns {
			_ = c.Close()
		}
		p.mu.Unlock()

		p.closeErr = p.engine.Shutdown()
		p.wg.Wait()
		p.logger.Info("participant stopped")
	})
	return p.closeErr
}

func (p *Participant) track(c net.Conn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx.Err() != nil {
		return false
	}
	p.conns[c] = struct{}{}
	return true
}

func (p *Participant) untrack(c net.Conn) {
	p.mu.Lock()
	delete(p.conns, c)
	p.mu.Unlock()
}

func endpointStrings(eps []domain.Endpoint) string {
	parts := make([]string, len(eps))
	for i, ep := range eps {
		parts[i] = ep.String()
	}
	return strings.Join(parts, ",")
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

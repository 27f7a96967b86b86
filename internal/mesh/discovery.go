package mesh

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/memberlist"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
)

// DiscoveryConfig enables gossip-based discovery of join targets. Gossip
// never changes the address book; it only finds members to send a Join to
// and reports reachability hints as events.
type DiscoveryConfig struct {
	Enabled bool

	// BindAddr and BindPort are the gossip listen address. Port 0 picks a
	// free port.
	BindAddr string
	BindPort int

	// AdvertiseAddr and AdvertisePort override the gossiped address.
	AdvertiseAddr string
	AdvertisePort int

	// Seeds are gossip addresses of existing members.
	Seeds []string

	// SecretKey encrypts gossip (16, 24 or 32 bytes). Nil disables
	// encryption.
	SecretKey []byte
}

// nodeMeta is what each participant gossips about itself.
type nodeMeta struct {
	Identity  string            `json:"id"`
	RaftAddr  string            `json:"raft,omitempty"`
	Endpoints []domain.Endpoint `json:"eps,omitempty"`
}

type discovery struct {
	p      *Participant
	list   *memberlist.Memberlist
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newDiscovery(p *Participant, cfg DiscoveryConfig) (*discovery, error) {
	d := &discovery{p: p, logger: p.logger.With("subsystem", "gossip")}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = p.id.String()
	if cfg.BindAddr != "" {
		mlConfig.BindAddr = cfg.BindAddr
	}
	mlConfig.BindPort = cfg.BindPort
	mlConfig.AdvertisePort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
	}
	if cfg.AdvertisePort != 0 {
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	if len(cfg.SecretKey) > 0 {
		mlConfig.SecretKey = cfg.SecretKey
	}
	mlConfig.Delegate = &metaDelegate{d: d}
	mlConfig.Events = &gossipEvents{d: d}
	mlConfig.LogOutput = &slogWriter{logger: d.logger}

	list, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("mesh: create memberlist: %w", err)
	}
	d.list = list

	if len(cfg.Seeds) > 0 {
		n, err := list.Join(cfg.Seeds)
		if err != nil {
			// Join bootstraps when no member was discovered.
			d.logger.Warn("gossip seeds unreachable", "seeds", cfg.Seeds, "error", err)
		} else {
			d.logger.Info("joined gossip", "seeds", cfg.Seeds, "contacted", n)
		}
	}
	return d, nil
}

// GossipAddr returns the local gossip address, or "" when discovery is off.
func (p *Participant) GossipAddr() string {
	if p.discovery == nil {
		return ""
	}
	n := p.discovery.list.LocalNode()
	return net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port)))
}

// joinTargets returns a dialable mesh endpoint for every other gossip member
// that advertised one.
func (d *discovery) joinTargets() []domain.Endpoint {
	var out []domain.Endpoint
	for _, n := range d.list.Members() {
		if n.Name == d.p.id.String() {
			continue
		}
		meta, ok := decodeMeta(n.Meta)
		if !ok || len(meta.Endpoints) == 0 {
			continue
		}
		id, err := domain.ParseServiceIdentity(meta.Identity)
		if err != nil {
			continue
		}
		entry := domain.AddressBookEntry{Identity: id, Endpoints: meta.Endpoints}
		for _, ep := range meta.Endpoints {
			entry.Transports = append(entry.Transports, ep.Kind)
		}
		entry.Normalize()
		if ep, ok := d.p.directEndpoint(entry, addressbook.Empty()); ok {
			out = append(out, ep)
		}
	}
	return out
}

func (d *discovery) shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.list.Leave(0); err != nil {
		d.logger.Debug("gossip leave failed", "error", err)
	}
	if err := d.list.Shutdown(); err != nil {
		return fmt.Errorf("mesh: shutdown memberlist: %w", err)
	}
	return nil
}

func (d *discovery) localMeta(limit int) []byte {
	meta := nodeMeta{Identity: d.p.id.String(), Endpoints: d.p.Endpoints()}
	if d.p.engine != nil {
		meta.RaftAddr = d.p.engine.LocalAddr()
	}
	for {
		data, err := json.Marshal(meta)
		if err != nil {
			return nil
		}
		if len(data) <= limit || len(meta.Endpoints) == 0 {
			if len(data) > limit {
				return nil
			}
			return data
		}
		meta.Endpoints = meta.Endpoints[:len(meta.Endpoints)-1]
	}
}

func decodeMeta(data []byte) (nodeMeta, bool) {
	var meta nodeMeta
	if len(data) == 0 || json.Unmarshal(data, &meta) != nil {
		return nodeMeta{}, false
	}
	return meta, true
}

// metaDelegate publishes the local node metadata.
type metaDelegate struct {
	d *discovery
}

func (m *metaDelegate) NodeMeta(limit int) []byte                  { return m.d.localMeta(limit) }
func (m *metaDelegate) NotifyMsg([]byte)                           {}
func (m *metaDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *metaDelegate) LocalState(join bool) []byte                { return nil }
func (m *metaDelegate) MergeRemoteState(buf []byte, join bool)     {}

// gossipEvents turns memberlist notifications into hint events. A gossip
// failure never removes a member; liveness eviction is the leader's call.
type gossipEvents struct {
	d *discovery
}

func (e *gossipEvents) NotifyJoin(n *memberlist.Node) {
	meta, _ := decodeMeta(n.Meta)
	e.d.logger.Debug("gossip member alive", "node", n.Name, "raft_addr", meta.RaftAddr)
	e.d.p.events.emit(EventGossip, "node", n.Name, "state", "alive")
}

func (e *gossipEvents) NotifyLeave(n *memberlist.Node) {
	e.d.logger.Info("gossip member gone", "node", n.Name, "addr", n.Addr.String())
	e.d.p.events.emit(EventGossip, "node", n.Name, "state", "gone")
}

func (e *gossipEvents) NotifyUpdate(n *memberlist.Node) {
	e.d.logger.Debug("gossip member updated", "node", n.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

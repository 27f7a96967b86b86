package mesh

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/raft"

	"github.com/norpie/constellation/internal/consensus"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/channel"
	"github.com/norpie/constellation/internal/fabric/transport"
	"github.com/norpie/constellation/internal/storage"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

// Listener binds one advertised endpoint.
type Listener struct {
	// Endpoint is advertised in the address book. A socket or quic address
	// with port 0 is rewritten to the bound port.
	Endpoint domain.Endpoint

	// Bind is the local address to listen on. Empty means Endpoint.Address.
	Bind string
}

// Config configures a Participant.
type Config struct {
	// Identity is the service this participant hosts; it is also the
	// participant's consensus server ID.
	Identity domain.ServiceIdentity

	// Listeners are the inbound endpoints. At least one is required.
	Listeners []Listener

	// DialKinds restricts the transports this participant dials. Empty means
	// every kind in Registry.
	DialKinds []domain.TransportKind

	// OnVPN lets the participant use VPN-only endpoints directly.
	OnVPN bool

	// Translator advertises this participant as a one-hop translation node.
	Translator bool

	// Hints are published with the address book entry.
	Hints map[string]string

	// Preference overrides the transport ranking used in negotiation.
	Preference []domain.TransportKind

	// RaftBind is the consensus listen address; RaftAdvertise, when set, is
	// published instead of the bound address.
	RaftBind      string
	RaftAdvertise string

	// RaftTransport replaces the TCP stream transport built from RaftBind.
	RaftTransport raft.Transport

	// RaftTimeout bounds raft RPC I/O on the network transport.
	RaftTimeout time.Duration

	Consensus consensus.Config
	Storage   storage.Config

	// Channel configures every framed channel the participant opens or
	// accepts. Its codec encodes mesh envelopes.
	Channel channel.Config

	// Registry supplies transports. Nil registers socket, local and queue.
	Registry *transport.Registry

	// Handler serves inbound calls. Nil answers every call with NotFound.
	Handler Handler

	// Admission is consulted by the leader before a Join is proposed. Nil
	// admits every join.
	Admission AdmissionFunc

	// AdmissionToken is presented when joining.
	AdmissionToken string

	// JoinRedirects bounds how many NotLeader redirects Join follows.
	JoinRedirects int

	// JoinTimeout bounds waiting for the participant's own entry to become
	// visible locally after a join.
	JoinTimeout time.Duration

	// JoinRate and RelayRate limit inbound join and relay requests per
	// remote host (requests per second); the burst is twice the rate.
	JoinRate  float64
	RelayRate float64

	// EventSink receives telemetry events. EventRingSize events are also
	// kept for Events.
	EventSink     EventSink
	EventRingSize int

	Discovery DiscoveryConfig

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// DefaultConfig returns a configuration for id with no listeners.
func DefaultConfig(id domain.ServiceIdentity) Config {
	return Config{
		Identity:      id,
		RaftTimeout:   10 * time.Second,
		Consensus:     consensus.DefaultConfig(id),
		Storage:       storage.Config{Backend: storage.BackendMemory},
		Channel:       channel.DefaultConfig(),
		JoinRedirects: 5,
		JoinTimeout:   30 * time.Second,
		JoinRate:      10,
		RelayRate:     50,
		EventRingSize: 256,
	}
}

func (c *Config) setDefaults() error {
	if err := c.Identity.Validate(); err != nil {
		return fmt.Errorf("mesh: identity: %w", err)
	}
	if len(c.Listeners) == 0 {
		return fmt.Errorf("mesh: at least one listener is required")
	}
	for _, l := range c.Listeners {
		if l.Endpoint.Kind == "" || (l.Endpoint.Address == "" && l.Bind == "") {
			return fmt.Errorf("mesh: listener needs a kind and an address")
		}
	}
	if c.RaftTransport == nil && c.RaftBind == "" {
		return fmt.Errorf("mesh: raft bind address is required")
	}
	if c.Channel.Codec != nil {
		switch c.Channel.Codec.Name() {
		case "json", "msgpack":
		default:
			return fmt.Errorf("mesh: codec %q cannot encode envelopes", c.Channel.Codec.Name())
		}
	}

	d := DefaultConfig(c.Identity)
	if c.RaftTimeout <= 0 {
		c.RaftTimeout = d.RaftTimeout
	}
	if c.JoinRedirects <= 0 {
		c.JoinRedirects = d.JoinRedirects
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.JoinRate <= 0 {
		c.JoinRate = d.JoinRate
	}
	if c.RelayRate <= 0 {
		c.RelayRate = d.RelayRate
	}
	if c.EventRingSize <= 0 {
		c.EventRingSize = d.EventRingSize
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendMemory
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Registry == nil {
		c.Registry = transport.NewRegistry(
			transport.NewTCP(transport.TCPOptions{}),
			transport.NewUnix(),
			transport.NewQueue(nil),
		)
	}

	c.Consensus.ID = c.Identity
	if c.Consensus.Logger == nil {
		c.Consensus.Logger = c.Logger
	}
	if c.Consensus.Metrics == nil {
		c.Consensus.Metrics = c.Metrics
	}
	return nil
}

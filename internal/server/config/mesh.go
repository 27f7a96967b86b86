package config

import (
	"fmt"
	"log/slog"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/channel"
	"github.com/norpie/constellation/internal/fabric/codec"
	"github.com/norpie/constellation/internal/fabric/transport"
	"github.com/norpie/constellation/internal/infra/tlsroots"
	"github.com/norpie/constellation/internal/mesh"
	"github.com/norpie/constellation/internal/storage"
	"github.com/norpie/constellation/internal/telemetry/metric"
	"github.com/norpie/constellation/pkg/admission"
)

// MeshSetup is a translated configuration plus the resources it owns.
type MeshSetup struct {
	Mesh mesh.Config

	// TLS backs the quic transport; nil when no TLS material is
	// configured. Close it after the participant.
	TLS *tlsroots.Bundle

	// Key is the mesh pre-shared key, nil when admission is open.
	Key admission.Key
}

// Close releases resources held by the setup.
func (s *MeshSetup) Close() {
	s.TLS.Close()
}

// ToMeshConfig translates cfg for mesh.New. cfg must have passed Verify.
func ToMeshConfig(cfg *ServerConfig, logger *slog.Logger, metrics *metric.Registry) (*MeshSetup, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	id, err := domain.ParseServiceIdentity(cfg.Node.Identity)
	if err != nil {
		return nil, fmt.Errorf("node.identity: %w", err)
	}

	key, err := admissionKey(cfg)
	if err != nil {
		return nil, err
	}

	mc := mesh.DefaultConfig(id)
	mc.Translator = cfg.Node.Translator
	mc.OnVPN = cfg.Node.OnVPN
	mc.Hints = cfg.Node.Hints
	mc.DialKinds = kinds(cfg.Node.DialKinds)
	mc.Preference = kinds(cfg.Node.Preference)

	for i, l := range cfg.Listen {
		ep, err := mesh.ParseAddress(l.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("listen[%d]: %w", i, err)
		}
		ep.VPNOnly = l.VPNOnly
		mc.Listeners = append(mc.Listeners, mesh.Listener{Endpoint: ep, Bind: l.Bind})
	}

	mc.RaftBind = cfg.Raft.Bind
	mc.RaftAdvertise = cfg.Raft.Advertise
	mc.RaftTimeout = cfg.Raft.Timeout
	rc := &mc.Consensus
	rc.HeartbeatTimeout = cfg.Raft.HeartbeatTimeout
	rc.ElectionTimeout = cfg.Raft.ElectionTimeout
	rc.CommitTimeout = cfg.Raft.CommitTimeout
	rc.LeaderLeaseTimeout = cfg.Raft.LeaderLeaseTimeout
	rc.SnapshotThreshold = cfg.Raft.SnapshotThreshold
	rc.SnapshotInterval = cfg.Raft.SnapshotInterval
	rc.TrailingLogs = cfg.Raft.TrailingLogs
	rc.ProposeTimeout = cfg.Raft.ProposeTimeout
	rc.ProposeAttempts = cfg.Raft.ProposeAttempts
	rc.MaxVoters = cfg.Raft.MaxVoters
	rc.LivenessTimeout = cfg.Raft.LivenessTimeout
	rc.SubscriberBuffer = cfg.Raft.SubscriberBuffer

	mc.Storage = storageConfig(&cfg.Storage)

	envelopes, err := codec.Lookup(cfg.Channel.Codec)
	if err != nil {
		return nil, fmt.Errorf("channel.codec: %w", err)
	}
	mc.Channel = channel.Config{
		ConnectTimeout: cfg.Channel.ConnectTimeout,
		ReadTimeout:    cfg.Channel.ReadTimeout,
		WriteTimeout:   cfg.Channel.WriteTimeout,
		MaxFrameSize:   cfg.Channel.MaxFrameSize,
		Codec:          envelopes,
	}

	bundle, err := tlsroots.Build(tlsroots.Config{
		CAFile:     cfg.QUIC.CAFile,
		CADir:      cfg.QUIC.CADir,
		CertFile:   cfg.QUIC.CertFile,
		KeyFile:    cfg.QUIC.KeyFile,
		ServerName: cfg.QUIC.ServerName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("quic: %w", err)
	}
	qc := transport.QUICConfig{MaxIdleTimeout: cfg.QUIC.MaxIdleTimeout}
	if bundle != nil {
		qc.ServerTLS = bundle.Server
		qc.ClientTLS = bundle.Client
	}
	quic, err := transport.NewQUIC(qc)
	if err != nil {
		bundle.Close()
		return nil, err
	}
	mc.Registry = transport.NewRegistry(
		transport.NewTCP(transport.TCPOptions{}),
		transport.NewUnix(),
		quic,
		transport.NewQueue(nil),
	)

	mc.JoinRedirects = cfg.Join.Redirects
	mc.JoinTimeout = cfg.Join.Timeout
	mc.JoinRate = cfg.Join.Rate
	mc.RelayRate = cfg.Join.RelayRate

	mc.Discovery = mesh.DiscoveryConfig{
		Enabled:       cfg.Discovery.Enabled,
		BindAddr:      cfg.Discovery.BindAddr,
		BindPort:      cfg.Discovery.BindPort,
		AdvertiseAddr: cfg.Discovery.AdvertiseAddr,
		AdvertisePort: cfg.Discovery.AdvertisePort,
		Seeds:         cfg.Discovery.Seeds,
	}

	if key != nil {
		token, err := key.Issue(id.String())
		if err != nil {
			bundle.Close()
			return nil, err
		}
		mc.Admission = mesh.KeyAdmission(key)
		mc.AdmissionToken = token
		if cfg.Discovery.Enabled {
			gk, err := key.GossipKey()
			if err != nil {
				bundle.Close()
				return nil, err
			}
			mc.Discovery.SecretKey = gk
		}
	}

	mc.EventRingSize = cfg.Metrics.EventRing
	mc.Logger = logger
	mc.Metrics = metrics

	return &MeshSetup{Mesh: mc, TLS: bundle, Key: key}, nil
}

func admissionKey(cfg *ServerConfig) (admission.Key, error) {
	switch {
	case cfg.Admission.PSK != "":
		key, err := admission.ParseKey(cfg.Admission.PSK)
		if err != nil {
			return nil, fmt.Errorf("admission.psk: %w", err)
		}
		return key, nil
	case cfg.Admission.Passphrase != "":
		key, err := admission.PassphraseKey(cfg.Admission.Passphrase, cfg.Node.Mesh)
		if err != nil {
			return nil, fmt.Errorf("admission.passphrase: %w", err)
		}
		return key, nil
	}
	return nil, nil
}

func storageConfig(s *StorageSection) storage.Config {
	badger := storage.DefaultBadgerConfig()
	if s.Badger.GCInterval > 0 {
		badger.GCInterval = s.Badger.GCInterval
	}
	badger.GCThreshold = s.Badger.GCThreshold
	if s.Badger.CacheSize > 0 {
		badger.CacheSize = s.Badger.CacheSize
	}
	if s.Badger.ValueLogFileSize > 0 {
		badger.ValueLogFileSize = s.Badger.ValueLogFileSize
	}
	if s.Badger.NumMemtables > 0 {
		badger.NumMemtables = s.Badger.NumMemtables
	}
	badger.SyncWrites = s.Badger.SyncWrites

	return storage.Config{
		Backend:         storage.Backend(s.Backend),
		Dir:             s.DataDir,
		RetainSnapshots: s.RetainSnapshots,
		LogCacheSize:    s.LogCacheSize,
		Badger:          badger,
	}
}

func kinds(names []string) []domain.TransportKind {
	if len(names) == 0 {
		return nil
	}
	out := make([]domain.TransportKind, 0, len(names))
	for _, n := range names {
		out = append(out, domain.TransportKind(n))
	}
	return out
}

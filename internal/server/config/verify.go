package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/mesh"
	"github.com/norpie/constellation/internal/storage"
	"github.com/norpie/constellation/internal/telemetry/logger"
)

// Verify validates the configuration and creates the data directory for
// durable backends. Every problem is reported, not just the first.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyNode(&cfg.Node)...)
	errs = append(errs, verifyListen(cfg.Listen)...)
	errs = append(errs, verifyRaft(&cfg.Raft)...)
	errs = append(errs, verifyStorage(&cfg.Storage)...)
	errs = append(errs, verifyChannel(&cfg.Channel)...)
	errs = append(errs, verifyMisc(cfg)...)
	return errors.Join(errs...)
}

func verifyNode(n *NodeSection) []error {
	var errs []error
	if n.Identity == "" {
		errs = append(errs, errors.New("node.identity is required"))
	} else if _, err := domain.ParseServiceIdentity(n.Identity); err != nil {
		errs = append(errs, fmt.Errorf("node.identity: %w", err))
	}
	for _, k := range append(append([]string{}, n.DialKinds...), n.Preference...) {
		if strings.TrimSpace(k) == "" {
			errs = append(errs, errors.New("node: empty transport kind"))
		}
	}
	return errs
}

func verifyListen(ls []ListenerConfig) []error {
	if len(ls) == 0 {
		return []error{errors.New("listen: at least one endpoint is required")}
	}
	var errs []error
	seen := make(map[string]bool, len(ls))
	for i, l := range ls {
		ep, err := mesh.ParseAddress(l.Endpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("listen[%d].endpoint: %w", i, err))
			continue
		}
		if seen[ep.String()] {
			errs = append(errs, fmt.Errorf("listen[%d]: duplicate endpoint %s", i, ep))
		}
		seen[ep.String()] = true
	}
	return errs
}

func verifyRaft(r *RaftSection) []error {
	var errs []error
	if r.Bind == "" {
		errs = append(errs, errors.New("raft.bind is required"))
	} else if _, _, err := net.SplitHostPort(r.Bind); err != nil {
		errs = append(errs, fmt.Errorf("raft.bind: %w", err))
	}
	if r.Advertise != "" {
		host, _, err := net.SplitHostPort(r.Advertise)
		if err != nil {
			errs = append(errs, fmt.Errorf("raft.advertise: %w", err))
		} else if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
			errs = append(errs, errors.New("raft.advertise must be a routable IP address"))
		}
	}
	if r.MaxVoters < 0 || r.ProposeAttempts < 0 {
		errs = append(errs, errors.New("raft: max_voters and propose_attempts must not be negative"))
	}
	return errs
}

func verifyStorage(s *StorageSection) []error {
	switch storage.Backend(s.Backend) {
	case storage.BackendMemory:
		return nil
	case storage.BackendBolt, storage.BackendBadger:
	default:
		return []error{fmt.Errorf("storage.backend: unknown backend %q", s.Backend)}
	}
	var errs []error
	if s.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	} else if err := os.MkdirAll(s.DataDir, 0o750); err != nil {
		errs = append(errs, fmt.Errorf("storage.data_dir: %w", err))
	}
	if s.RetainSnapshots < 1 {
		errs = append(errs, errors.New("storage.retain_snapshots must be at least 1"))
	}
	if s.Badger.GCThreshold < 0 || s.Badger.GCThreshold >= 1 {
		errs = append(errs, errors.New("storage.badger.gc_threshold must be in [0, 1)"))
	}
	return errs
}

func verifyChannel(c *ChannelSection) []error {
	var errs []error
	switch c.Codec {
	case "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("channel.codec must be json or msgpack, got %q", c.Codec))
	}
	if c.MaxFrameSize < 0 {
		errs = append(errs, errors.New("channel.max_frame_size must not be negative"))
	}
	return errs
}

func verifyMisc(cfg *ServerConfig) []error {
	var errs []error
	if cfg.Join.Address != "" {
		if _, err := mesh.ParseAddress(cfg.Join.Address); err != nil {
			errs = append(errs, fmt.Errorf("join.address: %w", err))
		}
	}
	if cfg.Join.Redirects < 0 {
		errs = append(errs, errors.New("join.redirects must not be negative"))
	}
	if cfg.Admission.PSK != "" && cfg.Admission.Passphrase != "" {
		errs = append(errs, errors.New("admission: set psk or passphrase, not both"))
	}
	if (cfg.QUIC.CertFile == "") != (cfg.QUIC.KeyFile == "") {
		errs = append(errs, errors.New("quic: cert_file and key_file must be set together"))
	}
	if cfg.Discovery.Enabled && cfg.Discovery.BindPort < 0 {
		errs = append(errs, errors.New("discovery.bind_port must not be negative"))
	}
	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logger.ParseFormat(cfg.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}
	if cfg.Shutdown.Timeout <= 0 {
		errs = append(errs, errors.New("shutdown.timeout must be positive"))
	}
	return errs
}

package config

import (
	"time"

	"github.com/norpie/constellation/internal/consensus"
	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/frame"
	"github.com/norpie/constellation/internal/storage"
)

// Default configuration values.
const (
	DefaultListen    = "socket://0.0.0.0:7000"
	DefaultRaftBind  = "0.0.0.0:7100"
	DefaultAdminAddr = "127.0.0.1:7080"
	DefaultDataDir   = "/var/lib/constellation"
	DefaultMesh      = "default"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultShutdownTimeout = 15 * time.Second
)

// Default returns the default configuration. Node.Identity has no default.
func Default() *ServerConfig {
	rc := consensus.DefaultConfig(domain.ServiceIdentity{})
	sc := storage.DefaultConfig(DefaultDataDir)

	return &ServerConfig{
		Node: NodeSection{Mesh: DefaultMesh},
		Listen: []ListenerConfig{
			{Endpoint: DefaultListen},
		},
		Raft: RaftSection{
			Bind:               DefaultRaftBind,
			Timeout:            10 * time.Second,
			HeartbeatTimeout:   rc.HeartbeatTimeout,
			ElectionTimeout:    rc.ElectionTimeout,
			CommitTimeout:      rc.CommitTimeout,
			LeaderLeaseTimeout: rc.LeaderLeaseTimeout,
			SnapshotThreshold:  rc.SnapshotThreshold,
			SnapshotInterval:   rc.SnapshotInterval,
			TrailingLogs:       rc.TrailingLogs,
			ProposeTimeout:     rc.ProposeTimeout,
			ProposeAttempts:    rc.ProposeAttempts,
			MaxVoters:          rc.MaxVoters,
			LivenessTimeout:    rc.LivenessTimeout,
			SubscriberBuffer:   rc.SubscriberBuffer,
		},
		Storage: StorageSection{
			Backend:         string(sc.Backend),
			DataDir:         sc.Dir,
			RetainSnapshots: sc.RetainSnapshots,
			LogCacheSize:    sc.LogCacheSize,
			Badger: BadgerSection{
				GCInterval:       sc.Badger.GCInterval,
				GCThreshold:      sc.Badger.GCThreshold,
				CacheSize:        sc.Badger.CacheSize,
				ValueLogFileSize: sc.Badger.ValueLogFileSize,
				NumMemtables:     sc.Badger.NumMemtables,
				SyncWrites:       sc.Badger.SyncWrites,
			},
		},
		Channel: ChannelSection{
			Codec:          "json",
			MaxFrameSize:   frame.DefaultMaxSize,
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
		},
		Join: JoinSection{
			Redirects: 5,
			Timeout:   30 * time.Second,
			Rate:      10,
			RelayRate: 50,
		},
		Discovery: DiscoverySection{
			BindAddr: "0.0.0.0",
			BindPort: 7946,
		},
		QUIC: QUICSection{
			MaxIdleTimeout: time.Minute,
		},
		Admin: AdminSection{
			Addr: DefaultAdminAddr,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsSection{
			Raft:      true,
			EventRing: 256,
		},
		Shutdown: ShutdownSection{
			Timeout: DefaultShutdownTimeout,
			Leave:   true,
		},
	}
}

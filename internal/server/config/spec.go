package config

import "time"

// ServerConfig is the root configuration for meshd.
type ServerConfig struct {
	Node      NodeSection      `koanf:"node" yaml:"node"`
	Listen    []ListenerConfig `koanf:"listen" yaml:"listen"`
	Raft      RaftSection      `koanf:"raft" yaml:"raft"`
	Storage   StorageSection   `koanf:"storage" yaml:"storage"`
	Channel   ChannelSection   `koanf:"channel" yaml:"channel"`
	Join      JoinSection      `koanf:"join" yaml:"join"`
	Admission AdmissionSection `koanf:"admission" yaml:"admission"`
	Discovery DiscoverySection `koanf:"discovery" yaml:"discovery"`
	QUIC      QUICSection      `koanf:"quic" yaml:"quic"`
	Admin     AdminSection     `koanf:"admin" yaml:"admin"`
	Log       LogSection       `koanf:"log" yaml:"log"`
	Metrics   MetricsSection   `koanf:"metrics" yaml:"metrics"`
	Shutdown  ShutdownSection  `koanf:"shutdown" yaml:"shutdown"`
}

// NodeSection describes the hosted service.
type NodeSection struct {
	// Identity is "name.version", e.g. "billing.v2".
	Identity string `koanf:"identity" yaml:"identity"`

	// Mesh names the mesh; it salts passphrase-derived keys.
	Mesh string `koanf:"mesh" yaml:"mesh"`

	Translator bool              `koanf:"translator" yaml:"translator"`
	OnVPN      bool              `koanf:"on_vpn" yaml:"on_vpn"`
	Hints      map[string]string `koanf:"hints" yaml:"hints,omitempty"`

	// DialKinds limits outbound transports; empty allows every registered
	// kind.
	DialKinds []string `koanf:"dial_kinds" yaml:"dial_kinds,omitempty"`

	// Preference ranks transport kinds for negotiation.
	Preference []string `koanf:"preference" yaml:"preference,omitempty"`
}

// ListenerConfig is one inbound endpoint.
type ListenerConfig struct {
	// Endpoint is the advertised "kind://address".
	Endpoint string `koanf:"endpoint" yaml:"endpoint"`
	// Bind overrides the local listen address.
	Bind    string `koanf:"bind" yaml:"bind,omitempty"`
	VPNOnly bool   `koanf:"vpn_only" yaml:"vpn_only,omitempty"`
}

// RaftSection configures consensus.
type RaftSection struct {
	Bind      string        `koanf:"bind" yaml:"bind"`
	Advertise string        `koanf:"advertise" yaml:"advertise,omitempty"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`

	HeartbeatTimeout   time.Duration `koanf:"heartbeat_timeout" yaml:"heartbeat_timeout"`
	ElectionTimeout    time.Duration `koanf:"election_timeout" yaml:"election_timeout"`
	CommitTimeout      time.Duration `koanf:"commit_timeout" yaml:"commit_timeout"`
	LeaderLeaseTimeout time.Duration `koanf:"leader_lease_timeout" yaml:"leader_lease_timeout"`

	SnapshotThreshold uint64        `koanf:"snapshot_threshold" yaml:"snapshot_threshold"`
	SnapshotInterval  time.Duration `koanf:"snapshot_interval" yaml:"snapshot_interval"`
	TrailingLogs      uint64        `koanf:"trailing_logs" yaml:"trailing_logs"`

	ProposeTimeout  time.Duration `koanf:"propose_timeout" yaml:"propose_timeout"`
	ProposeAttempts int           `koanf:"propose_attempts" yaml:"propose_attempts"`

	MaxVoters        int           `koanf:"max_voters" yaml:"max_voters"`
	LivenessTimeout  time.Duration `koanf:"liveness_timeout" yaml:"liveness_timeout"`
	SubscriberBuffer int           `koanf:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// StorageSection configures the raft log and snapshot stores.
type StorageSection struct {
	// Backend is bolt, badger or memory.
	Backend         string        `koanf:"backend" yaml:"backend"`
	DataDir         string        `koanf:"data_dir" yaml:"data_dir"`
	RetainSnapshots int           `koanf:"retain_snapshots" yaml:"retain_snapshots"`
	LogCacheSize    int           `koanf:"log_cache_size" yaml:"log_cache_size"`
	Badger          BadgerSection `koanf:"badger" yaml:"badger"`
}

// BadgerSection tunes the badger backend.
type BadgerSection struct {
	GCInterval       time.Duration `koanf:"gc_interval" yaml:"gc_interval"`
	GCThreshold      float64       `koanf:"gc_threshold" yaml:"gc_threshold"`
	CacheSize        int64         `koanf:"cache_size" yaml:"cache_size"`
	ValueLogFileSize int64         `koanf:"value_log_file_size" yaml:"value_log_file_size"`
	NumMemtables     int           `koanf:"num_memtables" yaml:"num_memtables"`
	SyncWrites       bool          `koanf:"sync_writes" yaml:"sync_writes"`
}

// ChannelSection configures framed channels.
type ChannelSection struct {
	// Codec encodes mesh envelopes: json or msgpack.
	Codec          string        `koanf:"codec" yaml:"codec"`
	MaxFrameSize   int           `koanf:"max_frame_size" yaml:"max_frame_size"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout    time.Duration `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
}

// JoinSection configures how meshd enters the mesh.
type JoinSection struct {
	// Address of any member ("kind://address"). Empty bootstraps a new
	// mesh unless discovery finds a member.
	Address string `koanf:"address" yaml:"address,omitempty"`

	Redirects int           `koanf:"redirects" yaml:"redirects"`
	Timeout   time.Duration `koanf:"timeout" yaml:"timeout"`

	// Rate and RelayRate are per-host inbound limits (requests/second).
	Rate      float64 `koanf:"rate" yaml:"rate"`
	RelayRate float64 `koanf:"relay_rate" yaml:"relay_rate"`
}

// AdmissionSection configures the pre-shared key. Set at most one of PSK
// and Passphrase; with neither, every join is admitted.
type AdmissionSection struct {
	PSK        string `koanf:"psk" yaml:"psk,omitempty"`
	Passphrase string `koanf:"passphrase" yaml:"passphrase,omitempty"`
}

// DiscoverySection configures gossip discovery.
type DiscoverySection struct {
	Enabled       bool     `koanf:"enabled" yaml:"enabled"`
	BindAddr      string   `koanf:"bind_addr" yaml:"bind_addr"`
	BindPort      int      `koanf:"bind_port" yaml:"bind_port"`
	AdvertiseAddr string   `koanf:"advertise_addr" yaml:"advertise_addr,omitempty"`
	AdvertisePort int      `koanf:"advertise_port" yaml:"advertise_port,omitempty"`
	Seeds         []string `koanf:"seeds" yaml:"seeds,omitempty"`
}

// QUICSection holds TLS material for quic endpoints.
type QUICSection struct {
	CAFile         string        `koanf:"ca_file" yaml:"ca_file,omitempty"`
	CADir          string        `koanf:"ca_dir" yaml:"ca_dir,omitempty"`
	CertFile       string        `koanf:"cert_file" yaml:"cert_file,omitempty"`
	KeyFile        string        `koanf:"key_file" yaml:"key_file,omitempty"`
	ServerName     string        `koanf:"server_name" yaml:"server_name,omitempty"`
	MaxIdleTimeout time.Duration `koanf:"max_idle_timeout" yaml:"max_idle_timeout"`
}

// AdminSection configures the admin API.
type AdminSection struct {
	Addr  string `koanf:"addr" yaml:"addr"`
	Token string `koanf:"token" yaml:"token,omitempty"`
}

// LogSection configures logging. Level is reloaded when the config file
// changes.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}

// MetricsSection configures metrics collection.
type MetricsSection struct {
	// Raft bridges raft's internal go-metrics into the Prometheus registry.
	Raft bool `koanf:"raft" yaml:"raft"`

	// EventRing is the number of telemetry events kept for the admin API.
	EventRing int `koanf:"event_ring" yaml:"event_ring"`
}

// ShutdownSection configures graceful shutdown.
type ShutdownSection struct {
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
	// Leave proposes a graceful Leave before stopping.
	Leave bool `koanf:"leave" yaml:"leave"`
}

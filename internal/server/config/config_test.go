package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/infra/confloader"
	"github.com/norpie/constellation/internal/storage"
	"github.com/norpie/constellation/pkg/admission"
)

func validConfig(t *testing.T) *ServerConfig {
	t.Helper()
	cfg := Default()
	cfg.Node.Identity = "billing.v2"
	cfg.Storage.DataDir = t.TempDir()
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Node.Identity != "" {
		t.Errorf("Identity = %q, want empty", cfg.Node.Identity)
	}
	if len(cfg.Listen) != 1 || cfg.Listen[0].Endpoint != DefaultListen {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if cfg.Storage.Backend != string(storage.BackendBolt) {
		t.Errorf("Backend = %q, want bolt", cfg.Storage.Backend)
	}
	if cfg.Storage.Badger.GCInterval != 10*time.Minute {
		t.Errorf("GCInterval = %v, want 10m", cfg.Storage.Badger.GCInterval)
	}
	if cfg.Channel.Codec != "json" {
		t.Errorf("Codec = %q, want json", cfg.Channel.Codec)
	}
	if !cfg.Shutdown.Leave || cfg.Shutdown.Timeout != DefaultShutdownTimeout {
		t.Errorf("Shutdown = %+v", cfg.Shutdown)
	}
	if err := Verify(Default()); err == nil {
		t.Error("Verify(Default()) should require node.identity")
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ServerConfig)
		wantErr string
	}{
		{"valid", func(*ServerConfig) {}, ""},
		{"memory backend", func(c *ServerConfig) {
			c.Storage.Backend = "memory"
			c.Storage.DataDir = ""
		}, ""},
		{"bad identity", func(c *ServerConfig) { c.Node.Identity = "billing" }, "node.identity"},
		{"no listeners", func(c *ServerConfig) { c.Listen = nil }, "at least one endpoint"},
		{"duplicate listener", func(c *ServerConfig) {
			c.Listen = []ListenerConfig{{Endpoint: "socket://a:1"}, {Endpoint: "a:1"}}
		}, "duplicate endpoint"},
		{"raft bind", func(c *ServerConfig) { c.Raft.Bind = "nope" }, "raft.bind"},
		{"raft advertise", func(c *ServerConfig) { c.Raft.Advertise = "0.0.0.0:7100" }, "routable"},
		{"backend", func(c *ServerConfig) { c.Storage.Backend = "rocks" }, "unknown backend"},
		{"gc threshold", func(c *ServerConfig) { c.Storage.Badger.GCThreshold = 1 }, "gc_threshold"},
		{"codec", func(c *ServerConfig) { c.Channel.Codec = "gob" }, "channel.codec"},
		{"join address", func(c *ServerConfig) { c.Join.Address = "://" }, "join.address"},
		{"psk and passphrase", func(c *ServerConfig) {
			c.Admission.PSK = "cmpsk_x"
			c.Admission.Passphrase = "secret"
		}, "not both"},
		{"quic half pair", func(c *ServerConfig) { c.QUIC.CertFile = "cert.pem" }, "set together"},
		{"log level", func(c *ServerConfig) { c.Log.Level = "loud" }, "log.level"},
		{"shutdown", func(c *ServerConfig) { c.Shutdown.Timeout = 0 }, "shutdown.timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Verify(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Verify() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Verify() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestVerify_ReportsEveryProblem(t *testing.T) {
	cfg := validConfig(t)
	cfg.Node.Identity = ""
	cfg.Log.Format = "xml"
	err := Verify(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"node.identity", "log.format"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSanitize(t *testing.T) {
	cfg := validConfig(t)
	cfg.Admission.PSK = "cmpsk_abcdefghijklmnop"
	cfg.Admin.Token = "short"

	out := Sanitize(cfg)
	if out.Admission.PSK == cfg.Admission.PSK || !strings.HasPrefix(out.Admission.PSK, "cmps") {
		t.Errorf("PSK = %q", out.Admission.PSK)
	}
	if out.Admin.Token != "****" {
		t.Errorf("Token = %q, want ****", out.Admin.Token)
	}
	if out.Admission.Passphrase != "" {
		t.Errorf("Passphrase = %q, want empty", out.Admission.Passphrase)
	}

	out.Listen[0].Endpoint = "changed"
	if cfg.Listen[0].Endpoint == "changed" {
		t.Error("Sanitize shares the Listen slice")
	}
}

func TestToMeshConfig(t *testing.T) {
	key, err := admission.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	cfg := validConfig(t)
	cfg.Node.Translator = true
	cfg.Node.Preference = []string{"quic", "socket"}
	cfg.Listen = []ListenerConfig{
		{Endpoint: "socket://10.0.0.1:7000", Bind: "0.0.0.0:7000"},
		{Endpoint: "local:///tmp/mesh.sock", VPNOnly: true},
	}
	cfg.Storage.Backend = "badger"
	cfg.Storage.Badger.GCInterval = 5 * time.Minute
	cfg.Channel.Codec = "msgpack"
	cfg.Admission.PSK = key.String()
	cfg.Discovery.Enabled = true
	cfg.Metrics.EventRing = 64
	if err := Verify(cfg); err != nil {
		t.Fatalf("Verify() = %v", err)
	}

	setup, err := ToMeshConfig(cfg, nil, nil)
	if err != nil {
		t.Fatalf("ToMeshConfig() = %v", err)
	}
	defer setup.Close()

	mc := setup.Mesh
	if mc.Identity.String() != "billing.v2" {
		t.Errorf("Identity = %s", mc.Identity)
	}
	if !mc.Translator {
		t.Error("Translator not carried over")
	}
	if len(mc.Listeners) != 2 || mc.Listeners[0].Bind != "0.0.0.0:7000" {
		t.Fatalf("Listeners = %+v", mc.Listeners)
	}
	if ep := mc.Listeners[1].Endpoint; ep.Kind != domain.KindLocal || ep.Address != "/tmp/mesh.sock" || !ep.VPNOnly {
		t.Errorf("Listeners[1] = %+v", ep)
	}
	if len(mc.Preference) != 2 || mc.Preference[0] != domain.KindQUIC {
		t.Errorf("Preference = %v", mc.Preference)
	}
	if mc.Storage.Backend != storage.BackendBadger || mc.Storage.Badger.GCInterval != 5*time.Minute {
		t.Errorf("Storage = %+v", mc.Storage)
	}
	if mc.Storage.Badger.NumLevelZeroTables != storage.DefaultBadgerConfig().NumLevelZeroTables {
		t.Errorf("NumLevelZeroTables = %d", mc.Storage.Badger.NumLevelZeroTables)
	}
	if mc.Channel.Codec == nil || mc.Channel.Codec.Name() != "msgpack" {
		t.Errorf("Codec = %v", mc.Channel.Codec)
	}
	for _, k := range []domain.TransportKind{domain.KindSocket, domain.KindLocal, domain.KindQUIC, domain.KindQueue} {
		if _, err := mc.Registry.Get(k); err != nil {
			t.Errorf("registry lacks %s", k)
		}
	}
	if mc.Admission == nil || mc.AdmissionToken == "" {
		t.Error("admission not wired")
	}
	if !key.Verify("billing.v2", mc.AdmissionToken) {
		t.Error("AdmissionToken does not verify against the key")
	}
	if len(mc.Discovery.SecretKey) == 0 {
		t.Error("gossip key not derived")
	}
	if mc.EventRingSize != 64 {
		t.Errorf("EventRingSize = %d", mc.EventRingSize)
	}
	if setup.TLS != nil {
		t.Error("TLS bundle should be nil without TLS material")
	}
}

func TestToMeshConfig_OpenAdmission(t *testing.T) {
	setup, err := ToMeshConfig(validConfig(t), nil, nil)
	if err != nil {
		t.Fatalf("ToMeshConfig() = %v", err)
	}
	defer setup.Close()
	if setup.Key != nil || setup.Mesh.Admission != nil || setup.Mesh.AdmissionToken != "" {
		t.Error("admission should be open without a key")
	}
	if setup.Mesh.Discovery.SecretKey != nil {
		t.Error("gossip key set without a psk")
	}
}

func TestToMeshConfig_BadPSK(t *testing.T) {
	cfg := validConfig(t)
	cfg.Admission.PSK = "cmpsk_short"
	if _, err := ToMeshConfig(cfg, nil, nil); err == nil || !strings.Contains(err.Error(), "admission.psk") {
		t.Fatalf("ToMeshConfig() = %v, want admission.psk error", err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshd.yaml")
	yaml := `
node:
  identity: search.v1
  translator: true
  hints:
    zone: eu-1
listen:
  - endpoint: socket://10.1.0.5:7000
  - endpoint: quic://10.1.0.5:7001
    vpn_only: true
storage:
  backend: memory
  badger:
    gc_interval: 2m
join:
  address: socket://10.1.0.2:7000
  timeout: 45s
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONSTELLATION_CFGTEST_ADMIN__ADDR", "127.0.0.1:9999")

	cfg := Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithEnvPrefix("CONSTELLATION_CFGTEST_"),
	)
	if err := loader.Load(cfg); err != nil {
		t.Fatalf("Load() = %v", err)
	}

	if cfg.Node.Identity != "search.v1" || !cfg.Node.Translator || cfg.Node.Hints["zone"] != "eu-1" {
		t.Errorf("Node = %+v", cfg.Node)
	}
	if len(cfg.Listen) != 2 || !cfg.Listen[1].VPNOnly || cfg.Listen[1].Endpoint != "quic://10.1.0.5:7001" {
		t.Errorf("Listen = %+v", cfg.Listen)
	}
	if cfg.Storage.Badger.GCInterval != 2*time.Minute {
		t.Errorf("GCInterval = %v", cfg.Storage.Badger.GCInterval)
	}
	if cfg.Join.Timeout != 45*time.Second || cfg.Join.Redirects != 5 {
		t.Errorf("Join = %+v", cfg.Join)
	}
	if cfg.Admin.Addr != "127.0.0.1:9999" {
		t.Errorf("Admin.Addr = %q", cfg.Admin.Addr)
	}
	if cfg.Raft.Bind != DefaultRaftBind {
		t.Errorf("Raft.Bind = %q, want default", cfg.Raft.Bind)
	}
	if err := Verify(cfg); err != nil {
		t.Errorf("Verify() = %v", err)
	}
}

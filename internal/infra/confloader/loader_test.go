package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Node struct {
		Identity string `koanf:"identity"`
		OnVPN    bool   `koanf:"on_vpn"`
	} `koanf:"node"`
	Mesh struct {
		JoinTimeout time.Duration `koanf:"join_timeout"`
		Preference  []string      `koanf:"preference"`
	} `koanf:"mesh"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meshd.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	l := NewLoader()
	if l.envPrefix != DefaultEnvPrefix {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, DefaultEnvPrefix)
	}
	if l.IsLoaded() {
		t.Error("IsLoaded() = true before Load")
	}
}

func TestLoader_File(t *testing.T) {
	path := writeFile(t, `
node:
  identity: billing.v2
  on_vpn: true
mesh:
  join_timeout: 45s
  preference: [local, socket]
`)
	var cfg testConfig
	cfg.Log.Level = "info"
	l := NewLoader(WithConfigFile(path), WithEnvPrefix("CONSTELLATION_TEST_FILE_"))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Node.Identity != "billing.v2" {
		t.Errorf("identity = %q", cfg.Node.Identity)
	}
	if !cfg.Node.OnVPN {
		t.Error("on_vpn should be true")
	}
	if cfg.Mesh.JoinTimeout != 45*time.Second {
		t.Errorf("join_timeout = %v, want 45s", cfg.Mesh.JoinTimeout)
	}
	if len(cfg.Mesh.Preference) != 2 || cfg.Mesh.Preference[0] != "local" {
		t.Errorf("preference = %v", cfg.Mesh.Preference)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unset key overwrote default: level = %q", cfg.Log.Level)
	}
	if !l.IsLoaded() || l.String("node.identity") != "billing.v2" {
		t.Error("loaded tree not retained")
	}
}

func TestLoader_FileNotFound(t *testing.T) {
	var cfg testConfig
	if err := NewLoader(WithConfigFile("/nonexistent/meshd.yaml")).Load(&cfg); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "mesh:\n  join_timeout: 45s\nlog:\n  level: info\n")
	t.Setenv("CONSTELLATION_TEST_ENV_MESH__JOIN_TIMEOUT", "2m")
	t.Setenv("CONSTELLATION_TEST_ENV_NODE__ON_VPN", "true")

	var cfg testConfig
	l := NewLoader(WithConfigFile(path), WithEnvPrefix("CONSTELLATION_TEST_ENV_"))
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mesh.JoinTimeout != 2*time.Minute {
		t.Errorf("join_timeout = %v, want 2m", cfg.Mesh.JoinTimeout)
	}
	if !cfg.Node.OnVPN {
		t.Error("on_vpn from env not applied")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("level = %q, want file value", cfg.Log.Level)
	}
}

func TestLoader_OverridesWin(t *testing.T) {
	path := writeFile(t, "log:\n  level: info\n")
	t.Setenv("CONSTELLATION_TEST_OVR_LOG__LEVEL", "warn")

	var cfg testConfig
	l := NewLoader(
		WithConfigFile(path),
		WithEnvPrefix("CONSTELLATION_TEST_OVR_"),
		WithOverrides(map[string]any{"log.level": "debug", "node.identity": "edge.v1"}),
	)
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Node.Identity != "edge.v1" {
		t.Errorf("identity = %q", cfg.Node.Identity)
	}
}

func TestLoader_ReloadDropsRemovedKeys(t *testing.T) {
	path := writeFile(t, "log:\n  level: debug\nnode:\n  identity: a.v1\n")
	l := NewLoader(WithConfigFile(path), WithEnvPrefix("CONSTELLATION_TEST_RELOAD_"))

	var first testConfig
	if err := l.Load(&first); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("log:\n  level: error\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var second testConfig
	if err := l.Reload(&second); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if second.Log.Level != "error" {
		t.Errorf("level = %q, want error", second.Log.Level)
	}
	if second.Node.Identity != "" || l.String("node.identity") != "" {
		t.Error("removed key survived reload")
	}
}

func TestEnvKey(t *testing.T) {
	l := NewLoader()
	tests := map[string]string{
		"CONSTELLATION_LOG__LEVEL":            "log.level",
		"CONSTELLATION_MESH__JOIN_TIMEOUT":    "mesh.join_timeout",
		"CONSTELLATION_STORAGE__BADGER__SYNC": "storage.badger.sync",
		"CONSTELLATION_ADMISSION_PASSPHRASE":  "admission_passphrase",
	}
	for in, want := range tests {
		if got := l.envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapProvider_Unflattens(t *testing.T) {
	got, err := mapProvider{"a.b.c": 1, "a.d": "x", "e": true}.Read()
	if err != nil {
		t.Fatal(err)
	}
	a, ok := got["a"].(map[string]any)
	if !ok {
		t.Fatalf("a = %T", got["a"])
	}
	if b, ok := a["b"].(map[string]any); !ok || b["c"] != 1 {
		t.Errorf("a.b = %v", a["b"])
	}
	if a["d"] != "x" || got["e"] != true {
		t.Errorf("got %v", got)
	}
	if _, err := (mapProvider{}).ReadBytes(); err == nil {
		t.Error("ReadBytes() expected error")
	}
}

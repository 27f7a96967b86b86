package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownProfile is returned when a named profile does not exist.
var ErrUnknownProfile = errors.New("unknown profile")

// DefaultConfigPath returns ~/.constellation/meshctl.yaml.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".constellation", "meshctl.yaml")
}

// Load reads the configuration at path. A missing file yields Default().
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	return cfg, nil
}

// Save writes cfg to path with 0600 permissions, replacing the file
// atomically.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".meshctl-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Profile returns the named profile, or the current one when name is
// empty. With no current profile it returns a zero Profile.
func (c *CLIConfig) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	if name == "" {
		return Profile{}, nil
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// ProfileNames returns the saved profile names, sorted.
func (c *CLIConfig) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge layers overrides onto p. Flags win over env, env over the
// profile. Recognised keys are "server" and "token"; env keys are
// MESHCTL_SERVER and MESHCTL_TOKEN.
func Merge(p Profile, env map[string]string, flags map[string]string) Profile {
	if v := env["MESHCTL_SERVER"]; v != "" {
		p.Server = v
	}
	if v := env["MESHCTL_TOKEN"]; v != "" {
		p.Token = v
	}
	if v := flags["server"]; v != "" {
		p.Server = v
	}
	if v := flags["token"]; v != "" {
		p.Token = v
	}
	if p.Server == "" {
		p.Server = DefaultServer
	}
	return p
}

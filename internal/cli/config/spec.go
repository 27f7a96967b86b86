package config

// CLIConfig is meshctl's persisted configuration.
type CLIConfig struct {
	// CurrentProfile names the profile used when --profile is not given.
	CurrentProfile string `yaml:"current_profile,omitempty"`

	// Output is the default output format: table, json or yaml.
	Output string `yaml:"output,omitempty"`

	Profiles map[string]Profile `yaml:"profiles,omitempty"`
}

// Profile is one saved admin endpoint.
type Profile struct {
	// Server is an http(s):// URL, a unix:// socket path, or a bare
	// host:port.
	Server string `yaml:"server"`

	// Token is the admin bearer token. Stored in plain text; the file is
	// written 0600.
	Token string `yaml:"token,omitempty"`
}

// DefaultServer is used when no profile or flag names a server.
const DefaultServer = "http://127.0.0.1:7080"

// Default returns an empty configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Output:   "table",
		Profiles: make(map[string]Profile),
	}
}

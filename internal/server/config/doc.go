// Package config defines meshd's configuration file.
//
//   - spec.go: ServerConfig and its sections, with koanf tags
//   - default.go: defaults
//   - verify.go: validation
//   - sanitize.go: secret masking for logs and `meshd config`
//   - mesh.go: translation into mesh.Config
//
// Values are layered by internal/infra/confloader: file, then CONSTELLATION_
// environment variables, then command line flags.
package config

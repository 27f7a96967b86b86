package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoCertsFound is returned when PEM input holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

// Pool is a set of trusted roots.
type Pool struct {
	certPool *x509.CertPool
	count    int
}

// NewPool starts from the system roots, or an empty pool where the system
// pool is unavailable.
func NewPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// NewEmptyPool creates a pool that trusts nothing until certificates are
// added. Mesh deployments with a private CA use this.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// AddCertFile adds every certificate in a PEM file.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	return p.AddCertPEM(data)
}

// AddCertPEM adds every CERTIFICATE block in data.
func (p *Pool) AddCertPEM(data []byte) error {
	added := 0
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	p.count += added
	return nil
}

// AddCertDir adds the .pem, .crt and .cer files in dir. Unreadable files
// are skipped; the number of files loaded is returned.
func (p *Pool) AddCertDir(dir string, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("tlsroots: read dir %s: %w", dir, err)
	}
	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
		default:
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := p.AddCertFile(path); err != nil {
			if logger != nil {
				logger.Warn("skipping CA file", "path", path, "error", err)
			}
			continue
		}
		loaded++
	}
	return loaded, nil
}

// Len returns the number of certificates added through this Pool. System
// roots are not counted.
func (p *Pool) Len() int {
	return p.count
}

// CertPool returns the underlying pool.
func (p *Pool) CertPool() *x509.CertPool {
	return p.certPool
}

// Config describes where TLS material lives. Empty fields are unused.
type Config struct {
	// CAFile and CADir hold the roots that peers' certificates must chain
	// to. When both are empty, peers are not verified.
	CAFile string
	CADir  string

	// CertFile and KeyFile are this node's key pair, presented as server
	// certificate and, when peers verify, as client certificate.
	CertFile string
	KeyFile  string

	// ServerName overrides the name checked against peer certificates.
	// Mesh endpoints are addressed by IP, so deployments usually set this to
	// the SAN their CA issues.
	ServerName string
}

// Enabled reports whether any TLS material is configured.
func (c Config) Enabled() bool {
	return c.CAFile != "" || c.CADir != "" || c.CertFile != "" || c.KeyFile != ""
}

// Bundle holds built server and client configs plus the key pair reloader
// backing them. Close stops the reloader.
type Bundle struct {
	Server *tls.Config
	Client *tls.Config

	keys *KeyPair
}

// Build loads the configured material. A nil Bundle is returned when
// nothing is configured.
func Build(cfg Config, logger *slog.Logger) (*Bundle, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return nil, errors.New("tlsroots: cert_file and key_file must be set together")
	}

	var roots *Pool
	if cfg.CAFile != "" || cfg.CADir != "" {
		roots = NewEmptyPool()
		if cfg.CAFile != "" {
			if err := roots.AddCertFile(cfg.CAFile); err != nil {
				return nil, err
			}
		}
		if cfg.CADir != "" {
			if _, err := roots.AddCertDir(cfg.CADir, logger); err != nil {
				return nil, err
			}
		}
		if roots.Len() == 0 {
			return nil, ErrNoCertsFound
		}
	}

	b := &Bundle{
		Server: &tls.Config{MinVersion: tls.VersionTLS13},
		Client: &tls.Config{MinVersion: tls.VersionTLS13, ServerName: cfg.ServerName},
	}
	if cfg.CertFile != "" {
		keys, err := NewKeyPair(cfg.CertFile, cfg.KeyFile, WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.keys = keys
		b.Server.GetCertificate = keys.GetCertificate
		b.Client.GetClientCertificate = keys.GetClientCertificate
	}
	if roots != nil {
		b.Client.RootCAs = roots.CertPool()
		b.Server.ClientCAs = roots.CertPool()
		if b.keys != nil {
			b.Server.ClientAuth = tls.RequireAndVerifyClientCert
		}
	} else {
		b.Client.InsecureSkipVerify = true
	}
	if b.keys == nil {
		// Client-only material: listeners keep the transport's ephemeral
		// certificate.
		b.Server = nil
	}
	return b, nil
}

// Watch starts reloading the key pair on file changes.
func (b *Bundle) Watch() {
	if b != nil && b.keys != nil {
		b.keys.StartAsync()
	}
}

// Close stops the reloader.
func (b *Bundle) Close() {
	if b != nil && b.keys != nil {
		b.keys.Stop()
	}
}

package adminserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"

	adminv1 "github.com/norpie/constellation/api/admin/v1"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

// Config configures the admin server.
type Config struct {
	// Addr is the listen address, for example 127.0.0.1:7080.
	Addr string

	// Token, when set, is required as a bearer token on every RPC. Probes
	// and /metrics stay open.
	Token string

	ReadHeaderTimeout time.Duration

	// OnLeave runs after a successful Leave RPC, typically to stop the
	// daemon.
	OnLeave func()

	Logger  *slog.Logger
	Metrics *metric.Registry
}

// Server serves the admin API for one participant.
type Server struct {
	cfg    Config
	mesh   Mesh
	logger *slog.Logger
	http   *http.Server

	mu sync.Mutex
	ln net.Listener
}

// New creates a Server. It does not listen until Start or Serve.
func New(cfg Config, m Mesh) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:    cfg,
		mesh:   m,
		logger: cfg.Logger.With("subsystem", "admin"),
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	return s
}

// Handler returns the full HTTP handler: admin RPCs, probes and metrics.
func (s *Server) Handler() http.Handler {
	interceptors := []connect.Interceptor{
		newMetricsInterceptor(s.cfg.Metrics),
		newLoggingInterceptor(s.logger),
	}
	if s.cfg.Token != "" {
		interceptors = append(interceptors, newAuthInterceptor(s.cfg.Token))
	}

	mux := http.NewServeMux()
	path, h := adminv1.NewAdminServiceHandler(
		&handler{mesh: s.mesh, onLeave: s.cfg.OnLeave},
		connect.WithInterceptors(interceptors...),
	)
	mux.Handle(path, h)
	mux.HandleFunc("/healthz", s.healthz)
	mux.HandleFunc("/readyz", s.readyz)
	if s.cfg.Metrics != nil {
		mux.Handle("/metrics", s.cfg.Metrics.Handler())
	}
	return mux
}

// Start listens on cfg.Addr and serves in the background. An address of
// the form unix:///path listens on a unix socket.
func (s *Server) Start() error {
	ln, err := listen(s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("adminserver: listen %s: %w", s.cfg.Addr, err)
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			s.logger.Error("admin server stopped", "error", err)
		}
	}()
	return nil
}

func listen(addr string) (net.Listener, error) {
	path, ok := strings.CutPrefix(addr, "unix://")
	if !ok {
		return net.Listen("tcp", addr)
	}
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
	return net.Listen("unix", path)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("admin server listening", "addr", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// readyz reports ready once this participant sees its own entry and a
// transponder.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	snap := s.mesh.Snapshot()
	if !snap.Has(s.mesh.Identity()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not joined\n"))
		return
	}
	if _, ok := s.mesh.Leader(); !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no transponder\n"))
		return
	}
	_, _ = w.Write([]byte("ready\n"))
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/norpie/constellation/internal/infra/buildinfo"
	"github.com/norpie/constellation/internal/infra/confloader"
	"github.com/norpie/constellation/internal/infra/shutdown"
	"github.com/norpie/constellation/internal/mesh"
	"github.com/norpie/constellation/internal/server/adminserver"
	"github.com/norpie/constellation/internal/server/config"
	"github.com/norpie/constellation/internal/telemetry/logger"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

func runAction(c *cli.Context) error {
	cfg, loader, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting meshd",
		"version", info.Version,
		"commit", info.Commit,
		"identity", cfg.Node.Identity,
		"config", loader.FilePath())

	return serve(c.Context, cfg, loader, log)
}

func serve(ctx context.Context, cfg *config.ServerConfig, loader *confloader.Loader, log *slog.Logger) error {
	metrics := metric.NewRegistry()
	if cfg.Metrics.Raft {
		if err := metrics.EnableRaftMetrics("constellation"); err != nil {
			log.Warn("raft metrics disabled", "error", err)
		}
	}

	setup, err := config.ToMeshConfig(cfg, logger.Component(log, "mesh"), metrics)
	if err != nil {
		return fmt.Errorf("build mesh config: %w", err)
	}

	stop := shutdown.NewHandler(cfg.Shutdown.Timeout, logger.Component(log, "shutdown"))
	stop.OnShutdownFunc("tls", func() error {
		setup.Close()
		return nil
	})

	p, err := mesh.New(setup.Mesh)
	if err != nil {
		setup.Close()
		return fmt.Errorf("start participant: %w", err)
	}
	stop.OnShutdownFunc("participant", p.Close)

	joinCtx, cancel := context.WithTimeout(ctx, cfg.Join.Timeout)
	err = p.Join(joinCtx, cfg.Join.Address)
	cancel()
	if err != nil {
		_ = p.Close()
		setup.Close()
		return fmt.Errorf("join mesh: %w", err)
	}
	log.Info("joined mesh",
		"identity", p.Identity().String(),
		"leader", p.IsLeader(),
		"via", joinTarget(cfg))

	admin := adminserver.New(adminserver.Config{
		Addr:    cfg.Admin.Addr,
		Token:   cfg.Admin.Token,
		OnLeave: func() { stop.Trigger("left mesh") },
		Logger:  log,
		Metrics: metrics,
	}, p)
	if err := admin.Start(); err != nil {
		_ = p.Close()
		setup.Close()
		return err
	}
	log.Info("admin API listening", "addr", admin.Addr().String())
	stop.OnShutdown("admin", admin.Shutdown)

	if cfg.Shutdown.Leave {
		// Registered last so it runs first, while the participant can
		// still reach the transponder.
		stop.OnShutdown("leave", func(ctx context.Context) error {
			if err := p.Leave(ctx); err != nil {
				log.Warn("graceful leave failed", "error", err)
			}
			return nil
		})
	}

	if path := loader.FilePath(); path != "" {
		w, err := watchConfig(path, loader, log)
		if err != nil {
			log.Warn("config reload disabled", "error", err)
		} else {
			stop.OnShutdownFunc("config-watcher", w.Stop)
		}
	}

	log.Info("meshd started")
	if err := stop.Wait(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	log.Info("meshd stopped")
	return nil
}

// watchConfig reloads log.level when the configuration file changes.
func watchConfig(path string, loader *confloader.Loader, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(logger.Component(log, "config")))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		reloadLogLevel(loader, log)
	})
	w.StartAsync()
	return w, nil
}

func reloadLogLevel(loader *confloader.Loader, log *slog.Logger) {
	cfg := config.Default()
	if err := loader.Reload(cfg); err != nil {
		log.Warn("config reload failed", "error", err)
		return
	}
	prev := logger.Level()
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("log level not changed", "error", err)
		return
	}
	if now := logger.Level(); now != prev {
		log.Info("log level changed", "from", prev, "level", now)
	}
}

func joinTarget(cfg *config.ServerConfig) string {
	switch {
	case cfg.Join.Address != "":
		return cfg.Join.Address
	case cfg.Discovery.Enabled:
		return "discovery"
	default:
		return "bootstrap"
	}
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/norpie/constellation/internal/telemetry/logger"
)

// Stores bundles the three stores a consensus node needs.
type Stores struct {
	Log       raft.LogStore
	Stable    raft.StableStore
	Snapshots raft.SnapshotStore

	// Badger is set when the badger backend is in use.
	Badger *BadgerStore

	closers []io.Closer
}

// Open creates the stores described by cfg.
func Open(cfg Config, log *slog.Logger) (*Stores, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendBolt
	}
	if cfg.RetainSnapshots <= 0 {
		cfg.RetainSnapshots = 2
	}

	s := &Stores{}
	var err error

	switch cfg.Backend {
	case BackendMemory:
		mem := raft.NewInmemStore()
		s.Log, s.Stable = mem, mem
		s.Snapshots = raft.NewInmemSnapshotStore()

	case BackendBolt, BackendBadger:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("storage: dir is required for %s backend", cfg.Backend)
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("storage: create data dir: %w", err)
		}
		if err := s.openDurable(cfg, log); err != nil {
			_ = s.Close()
			return nil, err
		}
		s.Snapshots, err = raft.NewFileSnapshotStoreWithLogger(cfg.Dir, cfg.RetainSnapshots,
			logger.HCLog(log, "snapshot"))
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("storage: snapshot store: %w", err)
		}

	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}

	if cfg.LogCacheSize > 0 {
		cached, err := raft.NewLogCache(cfg.LogCacheSize, s.Log)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("storage: log cache: %w", err)
		}
		s.Log = cached
	}

	log.Info("consensus stores opened", "backend", string(cfg.Backend), "dir", cfg.Dir)
	return s, nil
}

func (s *Stores) openDurable(cfg Config, log *slog.Logger) error {
	if cfg.Backend == BackendBadger {
		b, err := NewBadgerStore(filepath.Join(cfg.Dir, "badger"), cfg.Badger, log)
		if err != nil {
			return err
		}
		s.Log, s.Stable, s.Badger = b, b, b
		s.closers = append(s.closers, b)
		return nil
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("storage: open log store: %w", err)
	}
	s.closers = append(s.closers, logStore)

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.Dir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("storage: open stable store: %w", err)
	}
	s.closers = append(s.closers, stableStore)

	s.Log, s.Stable = logStore, stableStore
	return nil
}

// RegisterMetrics exports backend metrics where the backend has any.
func (s *Stores) RegisterMetrics(reg prometheus.Registerer) error {
	if s.Badger == nil {
		return nil
	}
	return s.Badger.RegisterMetrics(reg)
}

// Close closes every durable store. Safe to call more than once.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

package storage

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func TestOpen_Backends(t *testing.T) {
	for _, backend := range []Backend{BackendMemory, BackendBolt, BackendBadger} {
		t.Run(string(backend), func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			cfg.Backend = backend
			cfg.Badger.GCInterval = time.Hour
			cfg.Badger.SyncWrites = false

			s, err := Open(cfg, slog.Default())
			if err != nil {
				t.Fatal(err)
			}
			defer s.Close()

			if err := s.Log.StoreLogs(testLogs(1, 5)); err != nil {
				t.Fatal(err)
			}
			last, err := s.Log.LastIndex()
			if err != nil || last != 5 {
				t.Errorf("LastIndex() = %d, %v", last, err)
			}
			if err := s.Stable.SetUint64([]byte("CurrentTerm"), 7); err != nil {
				t.Fatal(err)
			}
			if v, err := s.Stable.GetUint64([]byte("CurrentTerm")); err != nil || v != 7 {
				t.Errorf("GetUint64 = %d, %v", v, err)
			}
			if (s.Badger != nil) != (backend == BackendBadger) {
				t.Errorf("Badger set = %v for backend %s", s.Badger != nil, backend)
			}

			// Every backend can write and read back a snapshot.
			sink, err := s.Snapshots.Create(raft.SnapshotVersionMax, 5, 1, raft.Configuration{}, 1, nil)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := sink.Write([]byte("book")); err != nil {
				t.Fatal(err)
			}
			if err := sink.Close(); err != nil {
				t.Fatal(err)
			}
			metas, err := s.Snapshots.List()
			if err != nil || len(metas) != 1 {
				t.Fatalf("List() = %v, %v", metas, err)
			}
			_, rc, err := s.Snapshots.Open(metas[0].ID)
			if err != nil {
				t.Fatal(err)
			}
			data, _ := io.ReadAll(rc)
			rc.Close()
			if string(data) != "book" {
				t.Errorf("snapshot data = %q", data)
			}
		})
	}
}

func TestOpen_BoltFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(DefaultConfig(dir), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"raft-log.db", "raft-stable.db"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(Config{Backend: BackendBolt}, nil); err == nil {
		t.Error("expected error without dir")
	}
	if _, err := Open(Config{Backend: "rocks", Dir: t.TempDir()}, nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

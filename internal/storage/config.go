package storage

import "time"

// Backend selects where raft logs and stable state live.
type Backend string

const (
	BackendBolt   Backend = "bolt"   // raft-boltdb, one file each for logs and stable state
	BackendBadger Backend = "badger" // one Badger directory for both
	BackendMemory Backend = "memory" // lost on restart
)

const defaultGCInterval = 10 * time.Minute

// Config selects and tunes the consensus stores.
type Config struct {
	Backend Backend
	// Dir holds log, stable and snapshot files. Unused by BackendMemory.
	Dir string
	// RetainSnapshots is how many address book snapshots stay on disk.
	RetainSnapshots int
	// LogCacheSize puts a cache of the most recent entries in front of the
	// log store; 0 disables it.
	LogCacheSize int
	Badger       BadgerConfig
}

// BadgerConfig tunes BackendBadger. The address book is small and
// write-light, so the defaults are far below Badger's own.
type BadgerConfig struct {
	// GCInterval is how often value log GC runs.
	GCInterval time.Duration
	// GCThreshold is the discard ratio passed to RunValueLogGC.
	GCThreshold float64

	CacheSize               int64
	ValueLogFileSize        int64
	NumMemtables            int
	NumLevelZeroTables      int
	NumLevelZeroTablesStall int

	// SyncWrites must stay on outside tests: raft treats an acknowledged
	// append as durable.
	SyncWrites bool
}

// DefaultConfig returns a bolt-backed configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Backend:         BackendBolt,
		Dir:             dir,
		RetainSnapshots: 2,
		LogCacheSize:    512,
		Badger:          DefaultBadgerConfig(),
	}
}

// DefaultBadgerConfig returns the Badger tuning meshd starts with.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:              defaultGCInterval,
		GCThreshold:             0.5,
		CacheSize:               16 << 20,
		ValueLogFileSize:        64 << 20,
		NumMemtables:            2,
		NumLevelZeroTables:      5,
		NumLevelZeroTablesStall: 10,
		SyncWrites:              true,
	}
}

package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	mpcodec "github.com/hashicorp/go-msgpack/v2/codec"
	"github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrKeyNotFound is returned by the stable store for missing keys. Raft
// matches the message text, so it must stay "not found".
var ErrKeyNotFound = errors.New("not found")

var (
	logPrefix    = []byte("log/")
	stablePrefix = []byte("stable/")
)

// BadgerStore implements raft.LogStore and raft.StableStore on Badger v3.
//
// Log entries live under "log/" + big-endian index so key order is index
// order; stable values live under "stable/" + key.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	lastGCTime       atomic.Int64  // Unix milliseconds
	gcBytesReclaimed atomic.Uint64 // approximate

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge
	metricsGCRuns       prometheus.Counter

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

var (
	_ raft.LogStore    = (*BadgerStore)(nil)
	_ raft.StableStore = (*BadgerStore)(nil)
)

// NewBadgerStore opens (or creates) a Badger store in dir.
func NewBadgerStore(dir string, cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = &badgerLogger{logger: logger}
	opts.BlockCacheSize = cfg.CacheSize
	opts.ValueLogFileSize = cfg.ValueLogFileSize
	opts.NumMemtables = cfg.NumMemtables
	opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	opts.NumLevelZeroTablesStall = cfg.NumLevelZeroTablesStall
	opts.SyncWrites = cfg.SyncWrites
	opts.DetectConflicts = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", dir,
		"sync_writes", cfg.SyncWrites,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

func logKey(index uint64) []byte {
	k := make([]byte, len(logPrefix)+8)
	copy(k, logPrefix)
	binary.BigEndian.PutUint64(k[len(logPrefix):], index)
	return k
}

func stableKey(key []byte) []byte {
	return append(append([]byte(nil), stablePrefix...), key...)
}

func encodeLog(l *raft.Log) ([]byte, error) {
	var out []byte
	enc := mpcodec.NewEncoderBytes(&out, &mpcodec.MsgpackHandle{})
	if err := enc.Encode(l); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeLog(buf []byte, l *raft.Log) error {
	return mpcodec.NewDecoderBytes(buf, &mpcodec.MsgpackHandle{}).Decode(l)
}

// FirstIndex returns the first stored index, or 0 when the log is empty.
func (s *BadgerStore) FirstIndex() (uint64, error) {
	return s.edgeIndex(false)
}

// LastIndex returns the last stored index, or 0 when the log is empty.
func (s *BadgerStore) LastIndex() (uint64, error) {
	return s.edgeIndex(true)
}

func (s *BadgerStore) edgeIndex(last bool) (uint64, error) {
	var idx uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = logPrefix
		opts.Reverse = last
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := logKey(0)
		if last {
			seek = logKey(^uint64(0))
		}
		it.Seek(seek)
		if it.ValidForPrefix(logPrefix) {
			idx = binary.BigEndian.Uint64(it.Item().Key()[len(logPrefix):])
		}
		return nil
	})
	return idx, err
}

// GetLog loads the entry at index into log.
func (s *BadgerStore) GetLog(index uint64, log *raft.Log) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(logKey(index))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return raft.ErrLogNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decodeLog(val, log)
		})
	})
}

// StoreLog stores a single entry.
func (s *BadgerStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

// StoreLogs stores entries, splitting the write across transactions only
// when a batch exceeds Badger's transaction size.
func (s *BadgerStore) StoreLogs(logs []*raft.Log) error {
	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, l := range logs {
		val, err := encodeLog(l)
		if err != nil {
			return fmt.Errorf("badger: encode log %d: %w", l.Index, err)
		}
		key := logKey(l.Index)
		if err := txn.Set(key, val); errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			if err := txn.Set(key, val); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
	}
	return txn.Commit()
}

// DeleteRange removes entries with min <= index <= max.
func (s *BadgerStore) DeleteRange(min, max uint64) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = logPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		end := logKey(max)
		for it.Seek(logKey(min)); it.ValidForPrefix(logPrefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if bytes.Compare(k, end) > 0 {
				break
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return err
	}

	s.logger.Debug("deleted log range", "min", min, "max", max, "count", len(keys))
	return nil
}

// Set stores a stable value.
func (s *BadgerStore) Set(key, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stableKey(key), append([]byte(nil), val...))
	})
}

// Get returns a stable value or ErrKeyNotFound.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stableKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// SetUint64 stores a stable uint64.
func (s *BadgerStore) SetUint64(key []byte, val uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], val)
	return s.Set(key, buf[:])
}

// GetUint64 returns a stable uint64 or ErrKeyNotFound.
func (s *BadgerStore) GetUint64(key []byte) (uint64, error) {
	val, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("badger: value for %q is %d bytes, want 8", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// GC runs value log garbage collection until nothing is left to rewrite.
// Returns the approximate number of bytes reclaimed.
func (s *BadgerStore) GC() (uint64, error) {
	start := time.Now()

	var reclaimed uint64
	for {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return reclaimed, fmt.Errorf("gc: %w", err)
		}
		// Badger does not report the rewritten size; count one file.
		reclaimed += uint64(s.cfg.ValueLogFileSize)
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.gcBytesReclaimed.Add(reclaimed)
	if s.metricsGCRuns != nil {
		s.metricsGCRuns.Inc()
	}

	s.logger.Debug("gc completed",
		"bytes_reclaimed", reclaimed,
		"elapsed", time.Since(start))

	return reclaimed, nil
}

// Stats contains Badger store statistics.
type Stats struct {
	LSMSize          uint64
	ValueLogSize     uint64
	LastGCTime       int64 // Unix milliseconds
	GCBytesReclaimed uint64
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats() Stats {
	lsm, vlog := s.db.Size()
	return Stats{
		LSMSize:          uint64(lsm),
		ValueLogSize:     uint64(vlog),
		LastGCTime:       s.lastGCTime.Load(),
		GCBytesReclaimed: s.gcBytesReclaimed.Load(),
	}
}

// Close stops background work and closes the database.
func (s *BadgerStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	if s.db.IsClosed() {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	s.logger.Info("badger store closed")
	return nil
}

// RegisterMetrics registers Badger gauges with reg and starts refreshing
// them. Call at most once.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer) error {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "constellation",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "constellation",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "constellation",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})
	s.metricsGCRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "constellation",
		Subsystem: "badger",
		Name:      "gc_runs_total",
		Help:      "Number of completed Badger value log GC runs",
	})

	for _, c := range []prometheus.Collector{s.metricsLSMSize, s.metricsValueLogSize, s.metricsLastGCTime, s.metricsGCRuns} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go s.metricsUpdateLoop()
	return nil
}

func (s *BadgerStore) metricsUpdateLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		s.refreshMetrics()
		select {
		case <-ticker.C:
		case <-s.stopCh:
			return
		}
	}
}

func (s *BadgerStore) refreshMetrics() {
	st := s.Stats()
	s.metricsLSMSize.Set(float64(st.LSMSize))
	s.metricsValueLogSize.Set(float64(st.ValueLogSize))
	if st.LastGCTime > 0 {
		s.metricsLastGCTime.Set(float64(st.LastGCTime) / 1000.0)
	}
}

func (s *BadgerStore) gcLoop() {
	defer s.wg.Done()

	interval := s.cfg.GCInterval
	if interval <= 0 {
		interval = defaultGCInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.GC(); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

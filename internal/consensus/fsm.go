package consensus

import (
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/hashicorp/raft"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
)

// FSM folds committed membership events into an address book.
//
// raft calls Apply from a single goroutine in commit order, which makes the
// FSM the only writer of the book.
type FSM struct {
	book    *addressbook.Book
	logger  *slog.Logger
	applied atomic.Uint64

	// onCommit is called after each command entry has been folded.
	onCommit func(domain.CommittedEvent)
	// onRestore is called after a snapshot replaced the book.
	onRestore func(index uint64)
}

var (
	_ raft.FSM                = (*FSM)(nil)
	_ raft.ConfigurationStore = (*FSM)(nil)
)

// NewFSM creates an FSM over book.
func NewFSM(book *addressbook.Book, logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{book: book, logger: logger}
}

// Applied returns the last index the FSM has processed.
func (f *FSM) Applied() uint64 {
	return f.applied.Load()
}

// Apply folds one committed entry. The returned value is the fold error
// (nil when the event was accepted) and surfaces as the proposal result.
func (f *FSM) Apply(log *raft.Log) interface{} {
	ev, err := domain.UnmarshalEvent(log.Data)
	if err != nil {
		// Corrupt entry or incompatible version.
		f.logger.Error("FATAL: failed to decode membership event",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: decode failed at index=%d: %v", log.Index, err))
	}

	ferr := f.book.Apply(log.Index, ev)
	f.applied.Store(log.Index)

	if f.onCommit != nil {
		f.onCommit(domain.CommittedEvent{Index: log.Index, Term: log.Term, Event: ev})
	}

	if ferr != nil {
		return ferr
	}
	return nil
}

// StoreConfiguration advances the book past configuration entries so its
// index tracks the log.
func (f *FSM) StoreConfiguration(index uint64, _ raft.Configuration) {
	f.book.Advance(index)
	if index > f.applied.Load() {
		f.applied.Store(index)
	}
}

// Snapshot captures the current address book. Snapshots are immutable, so
// no copy is needed.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{snap: f.book.Snapshot()}, nil
}

// Restore replaces the book with a persisted snapshot.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := addressbook.Decode(data)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.book.Restore(snap)
	f.applied.Store(snap.Index())
	if f.onRestore != nil {
		f.onRestore(snap.Index())
	}

	f.logger.Info("address book restored from snapshot",
		"index", snap.Index(),
		"epoch", snap.Epoch(),
		"member_count", snap.Len())
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	snap *addressbook.Snapshot
}

// Persist writes the gzip-compressed canonical encoding to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		data, err := s.snap.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		gz := gzip.NewWriter(sink)
		if _, err := gz.Write(data); err != nil {
			gz.Close()
			return fmt.Errorf("write snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
		return nil
	}()

	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is a no-op.
func (s *fsmSnapshot) Release() {}

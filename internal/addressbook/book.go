// Package addressbook holds the replicated mapping from service identity to
// endpoints and capabilities.
//
// The book is the deterministic fold of committed membership events. A single
// apply goroutine (the consensus FSM) feeds it in commit order; readers get
// immutable snapshots published through an atomic pointer, so reads never
// block the apply path and vice versa.
package addressbook

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/norpie/constellation/internal/core/domain"
)

// DefaultHistorySize is the number of past snapshots kept for SnapshotAt.
const DefaultHistorySize = 128

// Book is the local address book cache.
type Book struct {
	current atomic.Pointer[Snapshot]
	history *lru.Cache[uint64, *Snapshot]
	logger  *slog.Logger

	// mu serializes publication and guards changed.
	mu      sync.Mutex
	changed chan struct{}
}

// Option configures a Book.
type Option func(*options)

type options struct {
	historySize int
	logger      *slog.Logger
}

// WithHistorySize sets how many past snapshots SnapshotAt can return.
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates an empty book.
func New(opts ...Option) *Book {
	o := options{historySize: DefaultHistorySize, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.historySize <= 0 {
		o.historySize = 1
	}
	history, err := lru.New[uint64, *Snapshot](o.historySize)
	if err != nil {
		// Only reachable with a non-positive size, excluded above.
		panic(err)
	}

	b := &Book{
		history: history,
		logger:  o.logger,
		changed: make(chan struct{}),
	}
	b.publish(Empty())
	return b
}

// Snapshot returns the current snapshot.
func (b *Book) Snapshot() *Snapshot {
	return b.current.Load()
}

// SnapshotAt returns the snapshot as of log index: the newest retained
// snapshot whose index is at most index. It returns ErrLogCompacted when the
// history no longer reaches back that far.
func (b *Book) SnapshotAt(index uint64) (*Snapshot, error) {
	cur := b.current.Load()
	if index >= cur.Index() {
		return cur, nil
	}
	if s, ok := b.history.Peek(index); ok {
		return s, nil
	}

	var best *Snapshot
	for _, k := range b.history.Keys() {
		if k > index {
			continue
		}
		if s, ok := b.history.Peek(k); ok && (best == nil || s.Index() > best.Index()) {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrLogCompacted.WithDetails(fmt.Sprintf("snapshot at index %d", index))
	}
	return best, nil
}

// Resolve returns the endpoints for id from the current snapshot.
func (b *Book) Resolve(id domain.ServiceIdentity) ([]domain.Endpoint, error) {
	return b.current.Load().Resolve(id)
}

// Apply folds a committed event into the book and publishes the result.
// Indexes must be strictly increasing; replays of already-applied indexes are
// ignored.
//
// The returned error reports a rejected event (stale epoch, unknown
// identity, invalid entry). The index is consumed either way.
func (b *Book) Apply(index uint64, ev *domain.MembershipEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.current.Load()
	if index <= cur.Index() {
		return nil
	}

	next, err := Fold(cur, index, ev)
	b.publishLocked(next)

	if err != nil {
		b.logger.Warn("membership event rejected",
			"index", index,
			"type", ev.Type.String(),
			"subject", ev.Subject().String(),
			"error", err)
	}
	return err
}

// Advance records that index was consumed by a log entry that carries no
// membership event (configuration changes, no-ops).
func (b *Book) Advance(index uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := b.current.Load()
	if index <= cur.Index() {
		return
	}
	next := cur.clone()
	next.index = index
	b.publishLocked(next)
}

// Restore replaces the book with s, e.g. after installing a consensus
// snapshot. History is discarded.
func (b *Book) Restore(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history.Purge()
	b.publishLocked(s)
}

// WaitFor blocks until the current snapshot satisfies pred or ctx is done.
func (b *Book) WaitFor(ctx context.Context, pred func(*Snapshot) bool) (*Snapshot, error) {
	for {
		b.mu.Lock()
		ch := b.changed
		b.mu.Unlock()

		if s := b.current.Load(); pred(s) {
			return s, nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, domain.ErrTimeout.WithDetails("waiting for address book").WithCause(ctx.Err())
		}
	}
}

func (b *Book) publish(s *Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(s)
}

func (b *Book) publishLocked(s *Snapshot) {
	b.current.Store(s)
	b.history.Add(s.Index(), s)
	close(b.changed)
	b.changed = make(chan struct{})
}

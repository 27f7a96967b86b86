package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/raft"
)

// livenessTracker records how long each peer has been failing heartbeats.
// Only the leader replicates, so only the leader's tracker fills up.
type livenessTracker struct {
	mu      sync.Mutex
	clock   clock.Clock
	timeout time.Duration
	failing map[raft.ServerID]time.Time
}

func newLivenessTracker(clk clock.Clock, timeout time.Duration) *livenessTracker {
	return &livenessTracker{
		clock:   clk,
		timeout: timeout,
		failing: make(map[raft.ServerID]time.Time),
	}
}

// failed notes a failed heartbeat. The first failure starts the clock;
// later ones do not move it.
func (t *livenessTracker) failed(id raft.ServerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.failing[id]; !ok {
		t.failing[id] = t.clock.Now()
	}
}

func (t *livenessTracker) resumed(id raft.ServerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failing, id)
}

func (t *livenessTracker) forget(id raft.ServerID) {
	t.resumed(id)
}

// reset clears all state, used when leadership is lost.
func (t *livenessTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.failing)
}

// expired returns the peers failing for at least the timeout, sorted.
func (t *livenessTracker) expired() []raft.ServerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timeout <= 0 {
		return nil
	}
	now := t.clock.Now()
	var out []raft.ServerID
	for id, since := range t.failing {
		if now.Sub(since) >= t.timeout {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// failingSince reports when id started failing.
func (t *livenessTracker) failingSince(id raft.ServerID) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	since, ok := t.failing[id]
	return since, ok
}

// checkInterval is how often the leader looks for expired peers.
func (t *livenessTracker) checkInterval() time.Duration {
	iv := t.timeout / 4
	if iv < 10*time.Millisecond {
		iv = 10 * time.Millisecond
	}
	return iv
}

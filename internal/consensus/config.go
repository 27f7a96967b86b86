package consensus

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/telemetry/metric"
)

// Config configures an Engine.
type Config struct {
	// ID is this node's service identity; its string form is the raft
	// server ID.
	ID domain.ServiceIdentity

	// Raft timing. Zero values take raft's defaults.
	HeartbeatTimeout   time.Duration
	ElectionTimeout    time.Duration
	CommitTimeout      time.Duration
	LeaderLeaseTimeout time.Duration

	// SnapshotThreshold is the number of log entries between consensus
	// snapshots. Zero takes raft's default.
	SnapshotThreshold uint64
	SnapshotInterval  time.Duration
	// TrailingLogs is the number of entries kept after a snapshot, which
	// bounds how far back Subscribe can replay.
	TrailingLogs uint64

	// ProposeTimeout bounds a single proposal attempt when the context
	// carries no deadline.
	ProposeTimeout time.Duration
	// ProposeAttempts is the number of attempts for proposals failing with
	// no known leader or lost leadership.
	ProposeAttempts int
	// ProposeBackoff is the first retry delay; it doubles up to
	// ProposeMaxBackoff.
	ProposeBackoff    time.Duration
	ProposeMaxBackoff time.Duration

	// MaxVoters caps the voting members; later members join as non-voters.
	MaxVoters int

	// LivenessTimeout is how long the leader tolerates failed heartbeats to
	// a peer before evicting it. Zero disables eviction.
	LivenessTimeout time.Duration

	// SubscriberBuffer is the per-subscription channel size. A subscriber
	// that falls this far behind is dropped with ErrSubscriberLagged.
	SubscriberBuffer int

	Logger  *slog.Logger
	Clock   clock.Clock
	Metrics *metric.Registry
}

// DefaultConfig returns the default configuration for id.
func DefaultConfig(id domain.ServiceIdentity) Config {
	return Config{
		ID:                 id,
		HeartbeatTimeout:   1000 * time.Millisecond,
		ElectionTimeout:    1000 * time.Millisecond,
		CommitTimeout:      50 * time.Millisecond,
		LeaderLeaseTimeout: 500 * time.Millisecond,
		SnapshotThreshold:  1024,
		SnapshotInterval:   2 * time.Minute,
		TrailingLogs:       4096,
		ProposeTimeout:     5 * time.Second,
		ProposeAttempts:    5,
		ProposeBackoff:     100 * time.Millisecond,
		ProposeMaxBackoff:  2 * time.Second,
		MaxVoters:          5,
		LivenessTimeout:    30 * time.Second,
		SubscriberBuffer:   256,
	}
}

func (c *Config) setDefaults() error {
	if err := c.ID.Validate(); err != nil {
		return fmt.Errorf("consensus: node id: %w", err)
	}
	d := DefaultConfig(c.ID)
	if c.ProposeTimeout <= 0 {
		c.ProposeTimeout = d.ProposeTimeout
	}
	if c.ProposeAttempts <= 0 {
		c.ProposeAttempts = d.ProposeAttempts
	}
	if c.ProposeBackoff <= 0 {
		c.ProposeBackoff = d.ProposeBackoff
	}
	if c.ProposeMaxBackoff < c.ProposeBackoff {
		c.ProposeMaxBackoff = c.ProposeBackoff
	}
	if c.MaxVoters <= 0 {
		c.MaxVoters = d.MaxVoters
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = d.SubscriberBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return nil
}

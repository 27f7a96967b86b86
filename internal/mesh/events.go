package mesh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
)

// EventKind names a telemetry event.
type EventKind string

const (
	EventMemberJoined     EventKind = "member_joined"
	EventMemberLeft       EventKind = "member_left"
	EventEndpointsChanged EventKind = "endpoints_changed"
	EventLeaderChanged    EventKind = "leader_changed"
	EventNegotiation      EventKind = "negotiation_failed"
	EventChannelError     EventKind = "channel_error"
	EventAdmission        EventKind = "admission_denied"
	EventGossip           EventKind = "gossip"
)

// Event is a key/value telemetry record.
type Event struct {
	Time  time.Time         `json:"time"`
	Kind  EventKind         `json:"kind"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// EventSink receives events as they happen. Implementations must not block.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// eventRing keeps the most recent events.
type eventRing struct {
	mu   sync.Mutex
	buf  []Event
	next int
	full bool
	sink EventSink
}

func newEventRing(size int, sink EventSink) *eventRing {
	return &eventRing{buf: make([]Event, size), sink: sink}
}

func (r *eventRing) emit(kind EventKind, attrs ...string) {
	ev := Event{Time: time.Now(), Kind: kind}
	if len(attrs) > 0 {
		ev.Attrs = make(map[string]string, len(attrs)/2)
		for i := 0; i+1 < len(attrs); i += 2 {
			ev.Attrs[attrs[i]] = attrs[i+1]
		}
	}

	r.mu.Lock()
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	if r.sink != nil {
		r.sink.Emit(ev)
	}
}

// snapshot returns the retained events, oldest first.
func (r *eventRing) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]Event(nil), r.buf[:r.next]...)
	}
	out := make([]Event, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// watchCommits turns committed membership events into telemetry events. It
// resubscribes from the current book index when dropped for lag or
// compaction.
func (p *Participant) watchCommits(ctx context.Context) {
	defer p.wg.Done()
	from := p.book.Snapshot().Index() + 1
	for {
		sub, err := p.engine.Subscribe(ctx, from)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrClosed) {
				return
			}
			p.logger.Warn("event watcher subscribe failed", "from", from, "error", err)
			from = p.book.Snapshot().Index() + 1
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		for {
			ce, err := sub.Next(ctx)
			if err != nil {
				sub.Close()
				if ctx.Err() != nil || errors.Is(err, domain.ErrClosed) {
					return
				}
				p.logger.Debug("event watcher resubscribing", "error", err)
				from = p.book.Snapshot().Index() + 1
				break
			}
			from = ce.Index + 1
			p.recordCommitted(ce)
		}
	}
}

func (p *Participant) recordCommitted(ce domain.CommittedEvent) {
	ev := ce.Event
	subject := ev.Subject().String()
	switch ev.Type {
	case domain.EventJoin:
		p.events.emit(EventMemberJoined, "identity", subject, "raft_addr", ev.Join.Entry.RaftAddr)
	case domain.EventLeave:
		p.events.emit(EventMemberLeft, "identity", subject, "reason", ev.Leave.Reason)
	case domain.EventEndpointUpdate:
		p.events.emit(EventEndpointsChanged, "identity", subject)
	case domain.EventLeaderChange:
		p.events.emit(EventLeaderChanged, "leader", subject,
			"epoch", formatUint(ev.LeaderChange.Epoch))
	}
}

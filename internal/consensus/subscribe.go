package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/norpie/constellation/internal/core/domain"
)

// Subscription is an ordered stream of committed membership events,
// including events the fold rejected; folding the stream in order rebuilds
// the address book.
//
// Events is closed when the subscription ends; Err then reports why.
type Subscription struct {
	events chan domain.CommittedEvent
	live   chan domain.CommittedEvent
	done   chan struct{}
	hub    *hub

	closeOnce sync.Once

	mu     sync.Mutex
	err    error
	reason error // set by the hub before it closes live
}

// Events returns the event channel.
func (s *Subscription) Events() <-chan domain.CommittedEvent {
	return s.events
}

// Err returns the reason the subscription ended: nil after Close,
// ErrSubscriberLagged, ErrLogCompacted or the context error.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next blocks for the next event.
func (s *Subscription) Next(ctx context.Context) (domain.CommittedEvent, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			if err := s.Err(); err != nil {
				return domain.CommittedEvent{}, err
			}
			return domain.CommittedEvent{}, domain.ErrClosed.WithDetails("subscription closed")
		}
		return ev, nil
	case <-ctx.Done():
		return domain.CommittedEvent{}, domain.ErrTimeout.WithDetails("waiting for committed event").WithCause(ctx.Err())
	}
}

// Close ends the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Subscription) send(ctx context.Context, ev domain.CommittedEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		s.fail(ctx.Err())
		return false
	case <-s.done:
		return false
	}
}

func (s *Subscription) run(ctx context.Context, logs raft.LogStore, from, upto uint64) {
	defer close(s.events)
	defer s.hub.remove(s)

	next := from
	for ; next <= upto; next++ {
		var l raft.Log
		if err := logs.GetLog(next, &l); err != nil {
			if errors.Is(err, raft.ErrLogNotFound) {
				s.fail(domain.ErrLogCompacted.WithDetails(fmt.Sprintf("log index %d", next)))
			} else {
				s.fail(domain.ErrInternal.WithDetails("replay").WithCause(err))
			}
			return
		}
		if l.Type != raft.LogCommand {
			continue
		}
		ev, err := domain.UnmarshalEvent(l.Data)
		if err != nil {
			s.fail(err)
			return
		}
		if !s.send(ctx, domain.CommittedEvent{Index: l.Index, Term: l.Term, Event: ev}) {
			return
		}
	}

	for {
		select {
		case ev, ok := <-s.live:
			if !ok {
				s.mu.Lock()
				reason := s.reason
				s.mu.Unlock()
				s.fail(reason)
				return
			}
			if ev.Index < next {
				continue
			}
			if !s.send(ctx, ev) {
				return
			}
		case <-ctx.Done():
			s.fail(ctx.Err())
			return
		case <-s.done:
			return
		}
	}
}

// hub fans committed events out to subscriptions without ever blocking the
// apply goroutine.
type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	last uint64 // last published index
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

// add registers s and returns the last published index. Events after that
// index reach s through its live channel.
func (h *hub) add(s *Subscription) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	return h.last
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, s)
}

func (h *hub) publish(ev domain.CommittedEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ev.Index > h.last {
		h.last = ev.Index
	}
	for s := range h.subs {
		select {
		case s.live <- ev:
		default:
			h.dropLocked(s, domain.ErrSubscriberLagged.WithDetails(
				fmt.Sprintf("buffer of %d events full at index %d", cap(s.live), ev.Index)))
		}
	}
}

// reset drops every subscription after a snapshot install: events between
// the old and new index were never applied one by one.
func (h *hub) reset(index uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = index
	for s := range h.subs {
		h.dropLocked(s, domain.ErrLogCompacted.WithDetails(fmt.Sprintf("snapshot installed at index %d", index)))
	}
}

func (h *hub) dropLocked(s *Subscription, reason error) {
	delete(h.subs, s)
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
	close(s.live)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		h.dropLocked(s, domain.ErrClosed.WithDetails("consensus engine shut down"))
	}
}

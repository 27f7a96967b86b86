package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/norpie/constellation/internal/addressbook"
	"github.com/norpie/constellation/internal/core/domain"
)

func bootstrapped(t *testing.T, tweak func(*Config)) *testNode {
	t.Helper()
	nd := newTestNode(t, "solo.v1", tweak)
	bootstrap(t, nd)
	waitLeader(t, []*testNode{nd})
	waitBooks(t, []*testNode{nd}, func(s *addressbook.Snapshot) bool { return s.Epoch() > 0 })
	return nd
}

func proposeJoins(t *testing.T, nd *testNode, names ...string) []uint64 {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []uint64
	for _, name := range names {
		idx, err := nd.eng.Propose(ctx, joinEvent(serviceEntry(name, "")))
		require.NoError(t, err)
		out = append(out, idx)
	}
	return out
}

func TestSubscribe_ReplayThenLive(t *testing.T) {
	nd := bootstrapped(t, nil)
	indexes := proposeJoins(t, nd, "a.v1", "b.v1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sub, err := nd.eng.Subscribe(ctx, 0)
	require.NoError(t, err)
	defer sub.Close()

	// The replayed prefix starts with the leader change.
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.EventLeaderChange, first.Event.Type)

	var joins []domain.CommittedEvent
	for len(joins) < 2 {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		if ev.Event.Type == domain.EventJoin {
			joins = append(joins, ev)
		}
	}
	assert.Equal(t, indexes[0], joins[0].Index)
	assert.Equal(t, indexes[1], joins[1].Index)

	live := proposeJoins(t, nd, "c.v1")
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, live[0], ev.Index)
	assert.Equal(t, "c.v1", ev.Event.Subject().String())
}

func TestSubscribe_FoldRebuildsBook(t *testing.T) {
	nd := bootstrapped(t, nil)
	proposeJoins(t, nd, "a.v1", "b.v1", "c.v1")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := nd.eng.Propose(ctx, &domain.MembershipEvent{Type: domain.EventLeave, Leave: &domain.LeaveEvent{
		Identity: domain.MustParseServiceIdentity("b.v1"), Reason: domain.LeaveReasonGraceful}})
	require.NoError(t, err)
	want := nd.book.Snapshot()

	sub, err := nd.eng.Subscribe(ctx, 1)
	require.NoError(t, err)
	defer sub.Close()

	rebuilt := addressbook.Empty()
	var last uint64
	for last < want.Index() {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Greater(t, ev.Index, last, "events arrive in commit order")
		last = ev.Index
		rebuilt, _ = addressbook.Fold(rebuilt, ev.Index, ev.Event)
	}

	assert.Equal(t, want.Len(), rebuilt.Len())
	assert.Equal(t, want.Epoch(), rebuilt.Epoch())
	assert.False(t, rebuilt.Has(domain.MustParseServiceIdentity("b.v1")))
}

func TestSubscribe_FutureIndex(t *testing.T) {
	nd := bootstrapped(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	from := nd.book.Snapshot().Index() + 2
	sub, err := nd.eng.Subscribe(ctx, from)
	require.NoError(t, err)
	defer sub.Close()

	indexes := proposeJoins(t, nd, "a.v1", "b.v1", "c.v1")
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ev.Index, from)
	assert.Contains(t, indexes, ev.Index)
}

func TestSubscribe_Lagged(t *testing.T) {
	nd := bootstrapped(t, func(c *Config) { c.SubscriberBuffer = 1 })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := nd.eng.Subscribe(ctx, nd.book.Snapshot().Index()+1)
	require.NoError(t, err)
	defer sub.Close()

	proposeJoins(t, nd, "a.v1", "b.v1", "c.v1", "d.v1", "e.v1")

	var err2 error
	for {
		_, err2 = sub.Next(ctx)
		if err2 != nil {
			break
		}
	}
	assert.True(t, errors.Is(err2, domain.ErrSubscriberLagged), "got %v", err2)
	assert.True(t, errors.Is(sub.Err(), domain.ErrSubscriberLagged))
}

func TestSubscribe_Compacted(t *testing.T) {
	nd := bootstrapped(t, func(c *Config) { c.TrailingLogs = 1 })
	proposeJoins(t, nd, "a.v1", "b.v1", "c.v1", "d.v1")
	require.NoError(t, nd.eng.Snapshot())

	_, err := nd.eng.Subscribe(context.Background(), 1)
	assert.True(t, errors.Is(err, domain.ErrLogCompacted), "got %v", err)

	// A retained index still works.
	sub, err := nd.eng.Subscribe(context.Background(), nd.book.Snapshot().Index())
	require.NoError(t, err)
	sub.Close()
}

func TestSubscribe_CloseAndShutdown(t *testing.T) {
	nd := bootstrapped(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	closed, err := nd.eng.Subscribe(ctx, nd.book.Snapshot().Index()+1)
	require.NoError(t, err)
	closed.Close()
	closed.Close()
	_, err = closed.Next(ctx)
	assert.True(t, errors.Is(err, domain.ErrClosed))
	assert.NoError(t, closed.Err())

	open, err := nd.eng.Subscribe(ctx, nd.book.Snapshot().Index()+1)
	require.NoError(t, err)
	require.NoError(t, nd.eng.Shutdown())
	_, err = open.Next(ctx)
	assert.True(t, errors.Is(err, domain.ErrClosed))
}

func TestSubscribe_ContextCancel(t *testing.T) {
	nd := bootstrapped(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := nd.eng.Subscribe(ctx, nd.book.Snapshot().Index()+1)
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	assert.True(t, errors.Is(sub.Err(), context.Canceled))
}

func TestHub_ResetDropsSubscribers(t *testing.T) {
	h := newHub()
	s := &Subscription{
		events: make(chan domain.CommittedEvent, 4),
		live:   make(chan domain.CommittedEvent, 4),
		done:   make(chan struct{}),
		hub:    h,
	}
	assert.Equal(t, uint64(0), h.add(s))
	h.publish(domain.CommittedEvent{Index: 3})
	assert.Equal(t, uint64(3), h.add(&Subscription{live: make(chan domain.CommittedEvent, 1), done: make(chan struct{}), hub: h}))

	h.reset(10)
	_, ok := <-s.live
	assert.True(t, ok, "buffered event is still delivered")
	_, ok = <-s.live
	assert.False(t, ok)
	assert.True(t, errors.Is(s.reason, domain.ErrLogCompacted))
	assert.Empty(t, h.subs)
}

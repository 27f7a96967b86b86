package transport

import (
	"context"
	"net"
	"sort"
	"sync"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/pkg/cmap"
)

// Hub is an in-process address space for queue transports. Services running
// in the same process (or tests) reach each other through a shared Hub
// without touching the network.
type Hub struct {
	listeners *cmap.Map[string, *queueListener]
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: cmap.New[string, *queueListener]()}
}

// Addrs lists the "kind://address" keys currently listening on the hub.
func (h *Hub) Addrs() []string {
	addrs := h.listeners.Keys()
	sort.Strings(addrs)
	return addrs
}

var defaultHub = NewHub()

// DefaultHub returns the process-wide hub.
func DefaultHub() *Hub { return defaultHub }

// Queue is an in-process transport. It serves the "queue" kind by default;
// NewQueueKind binds the same mechanism to a custom kind tag so tests can
// model arbitrary custom links.
type Queue struct {
	hub  *Hub
	kind domain.TransportKind
}

// NewQueue creates a queue transport on hub.
func NewQueue(hub *Hub) *Queue {
	return NewQueueKind(hub, domain.KindQueue)
}

// NewQueueKind creates an in-process transport serving kind.
func NewQueueKind(hub *Hub, kind domain.TransportKind) *Queue {
	if hub == nil {
		hub = defaultHub
	}
	return &Queue{hub: hub, kind: kind}
}

func (q *Queue) Kind() domain.TransportKind { return q.kind }

func (q *Queue) Dial(ctx context.Context, addr string) (net.Conn, error) {
	key := q.key(addr)
	ln, ok := q.hub.listeners.Get(key)
	if !ok {
		return nil, domain.ErrConnectFailed.WithDetails("dial " + key + ": no listener")
	}

	client, server := net.Pipe()
	local := queueAddr{kind: q.kind, name: "client"}
	cc := &queueConn{Conn: client, local: local, remote: ln.addr}
	sc := &queueConn{Conn: server, local: ln.addr, remote: local}

	select {
	case ln.ch <- sc:
		return cc, nil
	case <-ln.done:
		client.Close()
		server.Close()
		return nil, domain.ErrConnectFailed.WithDetails("dial " + key + ": listener closed")
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, domain.ErrTimeout.WithDetails("dial " + key).WithCause(ctx.Err())
	}
}

func (q *Queue) Listen(addr string) (net.Listener, error) {
	key := q.key(addr)
	ln := &queueListener{
		hub:  q.hub,
		key:  key,
		addr: queueAddr{kind: q.kind, name: addr},
		ch:   make(chan net.Conn),
		done: make(chan struct{}),
	}
	if !q.hub.listeners.SetIfAbsent(key, ln) {
		return nil, domain.ErrConnectFailed.WithDetails("listen " + key + ": address in use")
	}
	return ln, nil
}

func (q *Queue) key(addr string) string {
	return string(q.kind) + "://" + addr
}

type queueAddr struct {
	kind domain.TransportKind
	name string
}

func (a queueAddr) Network() string { return string(a.kind) }
func (a queueAddr) String() string  { return a.name }

type queueConn struct {
	net.Conn
	local, remote net.Addr
}

func (c *queueConn) LocalAddr() net.Addr  { return c.local }
func (c *queueConn) RemoteAddr() net.Addr { return c.remote }

type queueListener struct {
	hub       *Hub
	key       string
	addr      queueAddr
	ch        chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *queueListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

func (l *queueListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.hub.listeners.DeleteIf(l.key, func(cur *queueListener) bool { return cur == l })
	})
	return nil
}

func (l *queueListener) Addr() net.Addr { return l.addr }

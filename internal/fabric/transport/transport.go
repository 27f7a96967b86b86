// Package transport defines the connection and listener capabilities the mesh
// runs on, independent of the underlying medium.
//
// A Transport produces byte-stream connections for one transport kind.
// Framing is layered on top by Conn; codecs are layered on top of that by the
// channel package. New media implement Transport and register with a
// Registry; nothing above this package needs to change.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"syscall"

	"github.com/norpie/constellation/internal/core/domain"
)

// Transport opens and accepts connections for a single transport kind.
type Transport interface {
	// Kind returns the transport kind tag this transport serves.
	Kind() domain.TransportKind

	// Dial opens a connection to addr. It honours ctx cancellation and
	// deadline.
	Dial(ctx context.Context, addr string) (net.Conn, error)

	// Listen binds addr and returns a listener.
	Listen(addr string) (net.Listener, error)
}

// Registry maps transport kinds to implementations.
type Registry struct {
	mu         sync.RWMutex
	transports map[domain.TransportKind]Transport
}

// NewRegistry creates a registry holding the given transports.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[domain.TransportKind]Transport)}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register adds or replaces the transport for its kind.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Kind()] = t
}

// Get returns the transport for kind.
func (r *Registry) Get(kind domain.TransportKind) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[kind]
	if !ok {
		return nil, domain.ErrUnsupportedTransport.WithDetails(string(kind))
	}
	return t, nil
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []domain.TransportKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.TransportKind, 0, len(r.transports))
	for k := range r.transports {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Dial opens a raw connection to ep using the transport for ep.Kind.
func (r *Registry) Dial(ctx context.Context, ep domain.Endpoint) (net.Conn, error) {
	t, err := r.Get(ep.Kind)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, ep.Address)
}

// Listen binds ep using the transport for ep.Kind.
func (r *Registry) Listen(ep domain.Endpoint) (net.Listener, error) {
	t, err := r.Get(ep.Kind)
	if err != nil {
		return nil, err
	}
	return t.Listen(ep.Address)
}

// dialError maps a dial failure onto the transport taxonomy: deadline expiry
// is a Timeout, everything else (refusal, unreachable, bad address) is
// ConnectFailed.
func dialError(ctx context.Context, addr string, err error) error {
	if ctx.Err() != nil {
		return domain.ErrTimeout.WithDetails("dial " + addr).WithCause(ctx.Err())
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.ErrTimeout.WithDetails("dial " + addr).WithCause(err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return domain.ErrConnectFailed.WithDetails(fmt.Sprintf("dial %s: connection refused", addr)).WithCause(err)
	}
	return domain.ErrConnectFailed.WithDetails("dial " + addr).WithCause(err)
}

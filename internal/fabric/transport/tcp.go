package transport

import (
	"context"
	"net"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
)

// TCPOptions configures the socket transport.
type TCPOptions struct {
	// KeepAlive is the TCP keep-alive period. Zero uses the Go default,
	// negative disables keep-alives.
	KeepAlive time.Duration
}

// TCP is the "socket" transport.
type TCP struct {
	opts TCPOptions
}

// NewTCP creates a socket transport.
func NewTCP(opts TCPOptions) *TCP {
	return &TCP{opts: opts}
}

func (t *TCP) Kind() domain.TransportKind { return domain.KindSocket }

func (t *TCP) Dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{KeepAlive: t.opts.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dialError(ctx, addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

func (t *TCP) Listen(addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAlive: t.opts.KeepAlive}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, domain.ErrConnectFailed.WithDetails("listen " + addr).WithCause(err)
	}
	return ln, nil
}

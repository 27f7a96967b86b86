package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/frame"
)

// Conn is a framed connection: it sends and receives discrete messages over a
// byte-stream connection using the frame package's length prefix.
//
// Send and Receive may be called concurrently with each other but not with
// themselves. Close is idempotent and safe to call from any goroutine.
type Conn struct {
	raw      net.Conn
	maxFrame int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps raw. maxFrame <= 0 selects frame.DefaultMaxSize.
func NewConn(raw net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = frame.DefaultMaxSize
	}
	return &Conn{raw: raw, maxFrame: maxFrame}
}

// Send writes one frame. A deadline or cancellation on ctx aborts the write
// with a Timeout error; a partially written frame is not retried and the
// connection should be closed.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := bindDeadline(ctx, c.raw.SetWriteDeadline)
	err := frame.Write(c.raw, payload, c.maxFrame)
	stop()
	return contextError(ctx, err)
}

// Receive reads one frame. An oversize frame closes the connection
// immediately and returns FrameTooLarge.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	stop := bindDeadline(ctx, c.raw.SetReadDeadline)
	payload, err := frame.Read(c.raw, c.maxFrame)
	stop()
	if err != nil {
		if domain.IsDomainError(err, domain.ErrFrameTooLarge.Code) {
			_ = c.Close()
		}
		return nil, contextError(ctx, err)
	}
	return payload, nil
}

// Raw returns the underlying connection, e.g. to splice a relay.
func (c *Conn) Raw() net.Conn { return c.raw }

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.raw.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.raw.RemoteAddr() }

// Close closes the underlying connection once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}

// bindDeadline applies ctx's deadline to the connection and arranges for
// cancellation to interrupt blocked I/O. The returned func must be called
// once the I/O completes.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = set(d)
	} else {
		_ = set(time.Time{})
	}
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = set(time.Now())
	})
	return func() { stop() }
}

// contextError reports ctx expiry as a Timeout regardless of how the
// interrupted I/O surfaced it.
func contextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && !domain.IsDomainError(err, domain.ErrFrameTooLarge.Code) {
		return domain.ErrTimeout.WithCause(ctx.Err())
	}
	return err
}

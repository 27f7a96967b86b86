// Package channel combines a transport connection, the length-prefix framing
// discipline and a codec into a message channel.
//
// A Channel is the primitive every higher mesh component talks through:
//
//	ch, err := channel.Open(ctx, registry, endpoint, channel.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer ch.Close()
//	if err := ch.Send(ctx, req); err != nil {
//		return err
//	}
//	return ch.Receive(ctx, &resp)
//
// Errors are always domain errors: ConnectFailed, Timeout, FrameTooLarge and
// Closed from the transport, EncodeFailed and DecodeFailed from the codec.
package channel

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
	"github.com/norpie/constellation/internal/fabric/codec"
	"github.com/norpie/constellation/internal/fabric/frame"
	"github.com/norpie/constellation/internal/fabric/transport"
)

// Config configures channel construction.
type Config struct {
	// ConnectTimeout bounds Open. Zero means no bound beyond ctx.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each Receive. Zero means no bound beyond ctx.
	ReadTimeout time.Duration

	// WriteTimeout bounds each Send. Zero means no bound beyond ctx.
	WriteTimeout time.Duration

	// MaxFrameSize rejects larger frames in both directions.
	MaxFrameSize int

	// Codec encodes messages. Nil selects JSON.
	Codec codec.Codec
}

// DefaultConfig returns the default channel configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxFrameSize:   frame.DefaultMaxSize,
		Codec:          codec.JSON{},
	}
}

// WithCodec returns a copy of cfg using c.
func (cfg Config) WithCodec(c codec.Codec) Config {
	cfg.Codec = c
	return cfg
}

func (cfg Config) normalized() Config {
	if cfg.Codec == nil {
		cfg.Codec = codec.JSON{}
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = frame.DefaultMaxSize
	}
	return cfg
}

// Dialer opens raw connections to endpoints. *transport.Registry implements
// it.
type Dialer interface {
	Dial(ctx context.Context, ep domain.Endpoint) (net.Conn, error)
}

// Channel is a framed, codec-aware message channel.
type Channel struct {
	conn   *transport.Conn
	cfg    Config
	closed atomic.Bool
}

// Open dials ep and returns a channel over the new connection.
func Open(ctx context.Context, d Dialer, ep domain.Endpoint, cfg Config) (*Channel, error) {
	cfg = cfg.normalized()
	ctx, cancel := withTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	raw, err := d.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}
	return Wrap(raw, cfg), nil
}

// Wrap returns a channel over an established connection, typically one
// returned by a listener.
func Wrap(raw net.Conn, cfg Config) *Channel {
	cfg = cfg.normalized()
	return &Channel{
		conn: transport.NewConn(raw, cfg.MaxFrameSize),
		cfg:  cfg,
	}
}

// Accept waits for the next inbound connection on ln.
func Accept(ln net.Listener, cfg Config) (*Channel, error) {
	raw, err := ln.Accept()
	if err != nil {
		return nil, frame.Classify(err)
	}
	return Wrap(raw, cfg), nil
}

// Send encodes v and writes it as one frame. A transport failure closes the
// channel since the peer may have seen a partial frame.
func (c *Channel) Send(ctx context.Context, v any) error {
	data, err := c.cfg.Codec.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendBytes(ctx, data)
}

// SendBytes writes an already-encoded payload as one frame.
func (c *Channel) SendBytes(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return domain.ErrClosed
	}
	ctx, cancel := withTimeout(ctx, c.cfg.WriteTimeout)
	defer cancel()

	if err := c.conn.Send(ctx, payload); err != nil {
		if !domain.IsDomainError(err, domain.ErrFrameTooLarge.Code) {
			_ = c.Close()
		}
		return err
	}
	return nil
}

// Receive reads one frame and decodes it into v. A decode failure closes the
// channel.
func (c *Channel) Receive(ctx context.Context, v any) error {
	data, err := c.ReceiveBytes(ctx)
	if err != nil {
		return err
	}
	if err := c.cfg.Codec.Unmarshal(data, v); err != nil {
		_ = c.Close()
		return err
	}
	return nil
}

// ReceiveBytes reads one frame without decoding it.
func (c *Channel) ReceiveBytes(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, domain.ErrClosed
	}
	ctx, cancel := withTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	data, err := c.conn.Receive(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return data, nil
}

// Conn returns the underlying framed connection.
func (c *Channel) Conn() *transport.Conn { return c.conn }

// Codec returns the channel codec.
func (c *Channel) Codec() codec.Codec { return c.cfg.Codec }

// RemoteAddr returns the peer address.
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool { return c.closed.Load() }

// Close releases the underlying connection. It is idempotent.
func (c *Channel) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Request opens a channel, sends req, decodes the reply into resp and closes
// the channel on every path.
func Request(ctx context.Context, d Dialer, ep domain.Endpoint, cfg Config, req, resp any) error {
	ch, err := Open(ctx, d, ep, cfg)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Send(ctx, req); err != nil {
		return err
	}
	return ch.Receive(ctx, resp)
}

// Notify opens a channel, sends msg without waiting for a reply and closes
// the channel.
func Notify(ctx context.Context, d Dialer, ep domain.Endpoint, cfg Config, msg any) error {
	ch, err := Open(ctx, d, ep, cfg)
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.Send(ctx, msg)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

package consensus

import (
	"context"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"

	"github.com/norpie/constellation/internal/fabric/transport"
	"github.com/norpie/constellation/internal/telemetry/logger"
)

// Relayer opens a consensus stream to target through another participant.
// The mesh implements it with its one-hop relay.
type Relayer interface {
	Relay(ctx context.Context, target string) (net.Conn, error)
}

type relayerBox struct{ Relayer }

// StreamLayer carries raft RPCs over a fabric transport. When a peer cannot
// be dialed directly the connection is relayed through a participant that
// can reach it.
type StreamLayer struct {
	net.Listener

	dialer    transport.Transport
	advertise net.Addr
	relayer   atomic.Pointer[relayerBox]
	logger    *slog.Logger
}

var _ raft.StreamLayer = (*StreamLayer)(nil)

// NewStreamLayer wraps ln. advertise, when set, replaces the listener
// address in raft's configuration (for wildcard binds).
func NewStreamLayer(ln net.Listener, dialer transport.Transport, advertise net.Addr, log *slog.Logger) *StreamLayer {
	if log == nil {
		log = slog.Default()
	}
	return &StreamLayer{
		Listener:  ln,
		dialer:    dialer,
		advertise: advertise,
		logger:    log.With("component", "consensus.stream"),
	}
}

// SetRelayer installs the fallback used when direct dials fail.
func (s *StreamLayer) SetRelayer(r Relayer) {
	if r == nil {
		s.relayer.Store(nil)
		return
	}
	s.relayer.Store(&relayerBox{r})
}

// Addr returns the advertised address.
func (s *StreamLayer) Addr() net.Addr {
	if s.advertise != nil {
		return s.advertise
	}
	return s.Listener.Addr()
}

// Dial implements raft.StreamLayer.
func (s *StreamLayer) Dial(address raft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx, string(address))
	if err == nil {
		return conn, nil
	}

	box := s.relayer.Load()
	if box == nil {
		return nil, err
	}
	relayed, rerr := box.Relay(ctx, string(address))
	if rerr != nil {
		s.logger.Debug("consensus peer unreachable",
			"peer", string(address),
			"direct_error", err,
			"relay_error", rerr)
		return nil, rerr
	}
	s.logger.Debug("consensus stream relayed", "peer", string(address))
	return relayed, nil
}

// DialDirect dials address without falling back to the relayer.
func (s *StreamLayer) DialDirect(ctx context.Context, address string) (net.Conn, error) {
	return s.dialer.Dial(ctx, address)
}

// NewNetworkTransport builds raft's network transport over layer.
func NewNetworkTransport(layer raft.StreamLayer, log *slog.Logger, timeout time.Duration) *raft.NetworkTransport {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return raft.NewNetworkTransportWithConfig(&raft.NetworkTransportConfig{
		Stream:  layer,
		MaxPool: 3,
		Timeout: timeout,
		Logger:  logger.HCLog(log, "raft-net"),
	})
}

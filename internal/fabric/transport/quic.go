package transport

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/norpie/constellation/internal/core/domain"
)

// ALPN is the application protocol negotiated on mesh QUIC connections.
const ALPN = "constellation-mesh"

const quicLinger = 5 * time.Second

// QUICConfig configures the quic transport.
type QUICConfig struct {
	// ServerTLS is used by listeners. Nil generates an ephemeral self-signed
	// certificate.
	ServerTLS *tls.Config

	// ClientTLS is used by dialers. Nil accepts any server certificate;
	// transport-level authentication is delegated to the deployment.
	ClientTLS *tls.Config

	// MaxIdleTimeout closes connections without traffic. Zero uses 1 minute.
	MaxIdleTimeout time.Duration
}

// QUIC carries one mesh connection per QUIC connection, on a single
// bidirectional stream.
type QUIC struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	conf      *quic.Config
}

// NewQUIC creates a quic transport.
func NewQUIC(cfg QUICConfig) (*QUIC, error) {
	serverTLS := cfg.ServerTLS
	if serverTLS == nil {
		cert, err := selfSignedCert()
		if err != nil {
			return nil, domain.ErrInternal.WithDetails("generate quic certificate").WithCause(err)
		}
		serverTLS = &tls.Config{Certificates: []tls.Certificate{cert}}
	}
	serverTLS = serverTLS.Clone()
	serverTLS.NextProtos = []string{ALPN}

	clientTLS := cfg.ClientTLS
	if clientTLS == nil {
		clientTLS = &tls.Config{InsecureSkipVerify: true}
	}
	clientTLS = clientTLS.Clone()
	clientTLS.NextProtos = []string{ALPN}

	idle := cfg.MaxIdleTimeout
	if idle == 0 {
		idle = time.Minute
	}

	return &QUIC{
		serverTLS: serverTLS,
		clientTLS: clientTLS,
		conf: &quic.Config{
			Versions:       []quic.Version{quic.Version2, quic.Version1},
			MaxIdleTimeout: idle,
		},
	}, nil
}

func (q *QUIC) Kind() domain.TransportKind { return domain.KindQUIC }

func (q *QUIC) Dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, q.clientTLS, q.conf)
	if err != nil {
		return nil, dialError(ctx, addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, dialError(ctx, addr, err)
	}
	return &quicConn{Stream: stream, conn: conn, dialer: true}, nil
}

func (q *QUIC) Listen(addr string) (net.Listener, error) {
	ln, err := quic.ListenAddr(addr, q.serverTLS, q.conf)
	if err != nil {
		return nil, domain.ErrConnectFailed.WithDetails("listen " + addr).WithCause(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:     ln,
		ctx:    ctx,
		cancel: cancel,
		ch:     make(chan net.Conn),
	}
	go l.acceptLoop()
	return l, nil
}

type quicListener struct {
	ln     *quic.Listener
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan net.Conn
	once   sync.Once
}

func (l *quicListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			return
		}
		go func(conn quic.Connection) {
			// The stream only becomes visible once the dialer writes to it.
			stream, err := conn.AcceptStream(l.ctx)
			if err != nil {
				_ = conn.CloseWithError(0, "")
				return
			}
			select {
			case l.ch <- &quicConn{Stream: stream, conn: conn}:
			case <-l.ctx.Done():
				_ = conn.CloseWithError(0, "")
			}
		}(conn)
	}
}

func (l *quicListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.ch:
		return c, nil
	case <-l.ctx.Done():
		return nil, net.ErrClosed
	}
}

func (l *quicListener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		err = l.ln.Close()
	})
	return err
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

// quicConn adapts a stream to net.Conn. Closing it closes the owning QUIC
// connection once the peer has seen the end of the stream.
type quicConn struct {
	quic.Stream
	conn   quic.Connection
	dialer bool
	once   sync.Once
}

func (c *quicConn) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *quicConn) Close() error {
	c.once.Do(func() {
		_ = c.Stream.Close()
		if c.dialer {
			// Wait for the peer's FIN so frames we just wrote are delivered
			// before the connection goes away.
			_ = c.Stream.SetReadDeadline(time.Now().Add(quicLinger))
			_, _ = io.Copy(io.Discard, c.Stream)
			_ = c.conn.CloseWithError(0, "")
			return
		}
		go func() {
			select {
			case <-c.conn.Context().Done():
			case <-time.After(quicLinger):
				_ = c.conn.CloseWithError(0, "")
			}
		}()
	})
	return nil
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "constellation"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"constellation"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	if len(der) == 0 {
		return tls.Certificate{}, errors.New("empty certificate")
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

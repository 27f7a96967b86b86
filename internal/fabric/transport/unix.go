package transport

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/norpie/constellation/internal/core/domain"
)

// Unix is the "local" transport over unix domain sockets.
type Unix struct{}

// NewUnix creates a local socket transport.
func NewUnix() *Unix { return &Unix{} }

func (u *Unix) Kind() domain.TransportKind { return domain.KindLocal }

func (u *Unix) Dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, dialError(ctx, path, err)
	}
	return conn, nil
}

// Listen binds path. A socket file left behind by a dead process is removed
// first; a live one is left alone and reported as an error. The socket file
// is unlinked again when the listener closes.
func (u *Unix) Listen(path string) (net.Listener, error) {
	if err := removeStaleSocket(path); err != nil {
		return nil, domain.ErrConnectFailed.WithDetails("listen " + path).WithCause(err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, domain.ErrConnectFailed.WithDetails("listen " + path).WithCause(err)
	}
	ln.(*net.UnixListener).SetUnlinkOnClose(true)
	return ln, nil
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return errors.New("path exists and is not a socket")
	}

	conn, err := net.DialTimeout("unix", path, 100*time.Millisecond)
	if err == nil {
		conn.Close()
		return errors.New("socket is in use")
	}
	return os.Remove(path)
}

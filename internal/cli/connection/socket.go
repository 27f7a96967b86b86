package connection

import (
	"context"
	"net"
	"net/http"
	"time"
)

// socketHost is the placeholder host used in URLs for unix socket servers.
const socketHost = "unix"

// socketTransport returns a transport that dials path for every request.
func socketTransport(path string) *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", path)
		},
		MaxIdleConns:    2,
		IdleConnTimeout: 30 * time.Second,
	}
}

package connection

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every admin request.
const DefaultTimeout = 30 * time.Second

// NewHTTPClient returns an HTTP client and base URL for server.
func NewHTTPClient(server string, timeout time.Duration) (*http.Client, string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, "", fmt.Errorf("empty server address")
	}

	if path, ok := strings.CutPrefix(server, "unix://"); ok {
		if path == "" {
			return nil, "", fmt.Errorf("unix server address needs a socket path")
		}
		return &http.Client{Transport: socketTransport(path), Timeout: timeout}, "http://" + socketHost, nil
	}

	baseURL := server
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &http.Client{Timeout: timeout}, strings.TrimRight(baseURL, "/"), nil
}

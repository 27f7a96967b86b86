package mesh

import (
	"net"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// maxLimitedPeers bounds the number of remote hosts with a live limiter.
const maxLimitedPeers = 4096

// peerLimiter keeps one token bucket per remote host. The least recently
// seen hosts are forgotten first. Peers reached over unix sockets or
// in-process queues have no host to key on and are not limited.
type peerLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters *lru.Cache[string, *rate.Limiter]
}

func newPeerLimiter(perSecond float64) *peerLimiter {
	burst := int(2 * perSecond)
	if burst < 1 {
		burst = 1
	}
	cache, _ := lru.New[string, *rate.Limiter](maxLimitedPeers)
	return &peerLimiter{limit: rate.Limit(perSecond), burst: burst, limiters: cache}
}

// Allow reports whether a request from addr may proceed.
func (l *peerLimiter) Allow(addr net.Addr) bool {
	key, ok := limitKey(addr)
	if !ok {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, limiter)
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// limitKey returns the host of a tcp or udp peer.
func limitKey(addr net.Addr) (string, bool) {
	if addr == nil {
		return "", false
	}
	switch addr.Network() {
	case "tcp", "tcp4", "tcp6", "udp", "udp4", "udp6":
		return hostOf(addr), true
	}
	return "", false
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	s := addr.String()
	if host, _, err := net.SplitHostPort(s); err == nil {
		return host
	}
	return s
}

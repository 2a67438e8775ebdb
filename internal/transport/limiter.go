package transport

import (
	"net/netip"
	"sync"

	"golang.org/x/time/rate"
)

// AddrLimiter keeps one token bucket per remote address. It throttles replies
// that any sender can provoke, such as PONG, so a flood of probes cannot turn
// a peer into an amplifier.
type AddrLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[netip.Addr]*rate.Limiter
}

// NewAddrLimiter allows perSecond events per address with the given burst.
func NewAddrLimiter(perSecond float64, burst int) *AddrLimiter {
	return &AddrLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[netip.Addr]*rate.Limiter),
	}
}

// Allow reports whether an event from addr may proceed now.
func (l *AddrLimiter) Allow(addr netip.AddrPort) bool {
	return l.get(addr.Addr()).Allow()
}

func (l *AddrLimiter) get(ip netip.Addr) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// Reset forgets every bucket.
func (l *AddrLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.limiters)
}

package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's bucket survives without traffic.
const limiterIdleTTL = 10 * time.Minute

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	rate  rate.Limit
	burst int

	mu        sync.Mutex
	clients   map[string]*client
	lastSweep time.Time

	now func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	return &ipLimiter{
		rate:      rate.Limit(perSecond),
		burst:     burst,
		clients:   make(map[string]*client),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// allow reports whether ip may make another request right now.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		l.sweep(now)
	}

	c, ok := l.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for longer than limiterIdleTTL. Caller holds mu.
func (l *ipLimiter) sweep(now time.Time) {
	for ip, c := range l.clients {
		if now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}

// middleware rejects over-limit clients with 429. RemoteAddr has already
// been rewritten by middleware.RealIP when a proxy header is present.
func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r.RemoteAddr)
		if !l.allow(ip) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds(l.rate)))
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Detail: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from a RemoteAddr, if any.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// retryAfterSeconds is the time to earn back one token, rounded up.
func retryAfterSeconds(r rate.Limit) int {
	if r <= 0 {
		return 1
	}
	secs := int(1 / float64(r))
	if float64(secs) < 1/float64(r) {
		secs++
	}
	return max(secs, 1)
}

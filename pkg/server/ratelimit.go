package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle client keeps its bucket.
const visitorTTL = 3 * time.Minute

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		visitors:  make(map[string]*visitor),
		rps:       rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// limiter returns the bucket of client, dropping idle buckets at most once
// a minute.
func (cl *clientLimiter) limiter(client string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	now := cl.now()
	if now.Sub(cl.lastSweep) > time.Minute {
		for key, v := range cl.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(cl.visitors, key)
			}
		}
		cl.lastSweep = now
	}

	v, ok := cl.visitors[client]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(cl.rps, cl.burst)}
		cl.visitors[client] = v
	}
	v.lastSeen = now
	return v.limiter
}

// Middleware rejects requests over the client's budget with 429.
func (cl *clientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cl.limiter(clientKey(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "too many requests", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

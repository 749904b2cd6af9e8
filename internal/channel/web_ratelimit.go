package channel

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

// submitLimiter hands out one token bucket per browser session. Requests
// without a session cookie share a bucket per remote address.
type submitLimiter struct {
	rate  rate.Limit
	burst int
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSubmitLimiter(perMinute float64, burst int) *submitLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &submitLimiter{
		rate:     rate.Limit(perMinute / 60),
		burst:    max(burst, 1),
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (l *submitLimiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		l.pruneLocked(now)
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *submitLimiter) pruneLocked(now time.Time) {
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(l.limiters, k)
		}
	}
}

func limiterKey(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return "session:" + c.Value
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// limitSubmits wraps a submission handler; a nil limiter passes through.
func (w *Web) limitSubmits(next http.HandlerFunc) http.HandlerFunc {
	if w.limiter == nil {
		return next
	}
	return func(rw http.ResponseWriter, r *http.Request) {
		if !w.limiter.allow(limiterKey(r)) {
			w.logger.Warn("submission rate limited", "remote", r.RemoteAddr)
			writeError(rw, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(rw, r)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		h := rw.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'")
		next.ServeHTTP(rw, r)
	})
}

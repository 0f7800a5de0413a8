package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/joyhealth/joy/internal/log"
)

const (
	rateLimiterSweepInterval  = 5 * time.Minute
	rateLimiterStaleThreshold = 10 * time.Minute
)

// bucket is one IP's token bucket.
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter hands out per-IP token buckets. Buckets for IPs not seen
// recently are swept away inline during allow calls, so no background
// goroutine is needed.
type rateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	lastSweep time.Time
}

// newRateLimiter creates a limiter refilling r tokens per second with the
// given burst. A fresh IP starts with a full bucket.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		buckets:   make(map[string]*bucket),
		limit:     rate.Limit(r),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// allow consumes one token for ip, reporting whether the request may
// proceed.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.sweepLocked(now)

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

// sweepLocked drops buckets whose IPs have gone quiet. Caller holds mu.
func (rl *rateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) <= rateLimiterSweepInterval {
		return
	}
	for ip, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rateLimiterStaleThreshold {
			delete(rl.buckets, ip)
		}
	}
	rl.lastSweep = now
}

// rateLimitMiddleware rejects requests from IPs that exhausted their bucket.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address a request should be limited under.
//
// Proxy headers (X-Real-IP, then the first X-Forwarded-For entry) count
// only when trustProxy is set, and only when they parse as real IPs, so a
// client cannot choose its own bucket key. Otherwise RemoteAddr decides.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := headerIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		forwarded := r.Header.Get("X-Forwarded-For")
		if first, _, ok := strings.Cut(forwarded, ","); ok {
			forwarded = first
		}
		if ip := headerIP(forwarded); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// headerIP parses a proxy header value, returning "" unless it is an IP.
func headerIP(v string) string {
	if v == "" {
		return ""
	}
	ip := net.ParseIP(strings.TrimSpace(v))
	if ip == nil {
		return ""
	}
	return ip.String()
}

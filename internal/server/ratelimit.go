package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/finqa-go/internal/logging"
)

// Per-IP defaults for /api/v1/analyze. A turn costs two model calls, so
// the sustained rate is low and the burst covers a short conversation.
const (
	defaultRateLimit = 2
	defaultRateBurst = 10
)

const (
	limiterIdleTTL = 10 * time.Minute
	evictInterval  = time.Minute
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a token bucket per client IP. Buckets idle for
// limiterIdleTTL are dropped by a background sweep.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rps      rate.Limit
	burst    int
	log      *slog.Logger
	now      func() time.Time
}

// newRateLimiter starts the eviction sweep; the returned func stops it.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
		now:      time.Now,
	}

	stop := make(chan struct{})
	var once sync.Once
	go func() {
		t := time.NewTicker(evictInterval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				rl.evict()
			}
		}
	}()

	return rl, func() { once.Do(func() { close(stop) }) }
}

// reserve takes a token for ip. It returns 0 when the request may proceed,
// or how long the client should wait otherwise.
func (rl *rateLimiter) reserve(ip string) time.Duration {
	rl.mu.Lock()
	now := rl.now()
	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now
	lim := entry.limiter
	rl.mu.Unlock()

	if lim.AllowN(now, 1) {
		return 0
	}
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return max(wait, time.Second)
}

func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-limiterIdleTTL)
	evicted := 0
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
			evicted++
		}
	}
	if evicted > 0 {
		rl.log.Debug("rate limiter: evicted idle buckets",
			slog.Int("evicted", evicted),
			slog.Int("remaining", len(rl.limiters)),
		)
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// middleware rejects requests over the limit with 429 and a Retry-After
// header in whole seconds.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if wait := rl.reserve(ip); wait > 0 {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.Duration("retry_after", wait),
			)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the host part of RemoteAddr. Forwarding headers are not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bookwise/bookrag-go/internal/logging"
)

// defaultRateLimit is the sustained requests/second allowed per IP on
// rate-limited endpoints when no explicit limit is configured. Retrieval
// requests are not cheap (an embedding call plus a fan-out), so the
// default is conservative.
const defaultRateLimit = 10

// defaultRateBurst is the per-IP burst when none is configured. A burst of
// 20 absorbs short spikes without immediate rejection.
const defaultRateBurst = 20

// bucketTTL is how long an idle client's bucket survives before eviction.
const bucketTTL = 5 * time.Minute

// evictInterval is how often the eviction pass runs.
const evictInterval = time.Minute

// clientBucket pairs a token bucket with the time it was last used, so the
// eviction pass can drop idle clients and bound memory.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter enforces a per-IP token-bucket limit as HTTP middleware.
type rateLimiter struct {
	// mu protects buckets.
	mu      sync.Mutex
	buckets map[string]*clientBucket

	// rps and burst are the token-bucket parameters applied to every IP.
	rps   rate.Limit
	burst int

	log *slog.Logger
}

// newRateLimiter constructs a rateLimiter and starts its eviction
// goroutine. The goroutine exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	return rl, func() { close(stopCh) }
}

// bucketFor returns the token bucket for ip, creating one on first sight
// and stamping lastSeen either way.
func (rl *rateLimiter) bucketFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict drops buckets idle for longer than bucketTTL.
func (rl *rateLimiter) evict() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-bucketTTL)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// middleware returns an http.Handler that enforces the rate limit before
// delegating to next. Rejected requests get 429 with a Retry-After header
// and a WARN log entry.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !rl.bucketFor(ip).Allow() {
			log := logging.FromContext(r.Context())
			log.Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP from the request, stripping the port.
// It does not trust X-Forwarded-For since this server is local-only.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	// RemoteAddr is "host:port" for TCP connections.
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

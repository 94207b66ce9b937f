package proxy

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ccbridge/ccbridge/internal/openaiadapter"
)

// Rate limit scopes.
const (
	RateLimitGlobal = "global"
	RateLimitIP     = "ip"
	RateLimitAPIKey = "api_key"
)

// limiterIdleTTL is how long an unused per-client bucket is kept.
const limiterIdleTTL = 10 * time.Minute

// RateLimitConfig configures inbound token buckets.
type RateLimitConfig struct {
	Enabled           bool
	Scope             string
	RequestsPerSecond float64
	Burst             int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out token buckets per scope key.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

// NewRateLimiter returns nil when rate limiting is disabled.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if !cfg.Enabled || cfg.RequestsPerSecond <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(1, int(math.Ceil(cfg.RequestsPerSecond)))
	}
	if cfg.Scope == "" {
		cfg.Scope = RateLimitGlobal
	}
	return &RateLimiter{
		cfg:      cfg,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

// Reserve takes a token for the request's key. A positive delay means the
// request is over the limit and should be retried after it.
func (l *RateLimiter) Reserve(r *http.Request) time.Duration {
	lim := l.limiterFor(l.keyFor(r))

	now := l.now()
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Second
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return delay
	}
	return 0
}

func (l *RateLimiter) keyFor(r *http.Request) string {
	switch l.cfg.Scope {
	case RateLimitIP:
		// RealIP has already replaced RemoteAddr when a forwarding header was present.
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	case RateLimitAPIKey:
		key, _ := presentedKey(r)
		return key
	default:
		return ""
	}
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, e := range l.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(l.limiters, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// RateLimit rejects requests over the limit with 429 and a Retry-After header.
// A nil limiter disables the middleware. Public probe paths are never limited.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if delay := limiter.Reserve(r); delay > 0 {
				seconds := int(math.Ceil(delay.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				writeJSONOpenAIError(r.Context(), w, openaiadapter.NewError(http.StatusTooManyRequests,
					openaiadapter.ErrorTypeRateLimit, "Rate limit exceeded, retry after "+strconv.Itoa(seconds)+"s"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

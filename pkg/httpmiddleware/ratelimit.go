package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the sliding window rate limiter.
type RateLimitConfig struct {
	// Max requests per window.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string
}

// window holds the counters of the current and previous fixed windows.
type window struct {
	prevCount float64
	prevStart time.Time
	currCount float64
	currStart time.Time
}

type rateLimiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	windows map[string]*window
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	return &rateLimiter{cfg: cfg, windows: make(map[string]*window)}
}

// allow counts a request for key. The previous window is weighted by how much
// of it still overlaps the sliding window.
func (rl *rateLimiter) allow(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	win, found := rl.windows[key]
	if !found {
		win = &window{currStart: now}
		rl.windows[key] = win
	}

	if now.Sub(win.currStart) >= rl.cfg.Window {
		win.prevCount, win.prevStart = win.currCount, win.currStart
		win.currCount, win.currStart = 0, now.Truncate(rl.cfg.Window)
		if now.Sub(win.prevStart) >= 2*rl.cfg.Window {
			win.prevCount = 0
		}
	}

	overlap := math.Max(0, 1-now.Sub(win.currStart).Seconds()/rl.cfg.Window.Seconds())
	count := win.prevCount*overlap + win.currCount
	resetAt = win.currStart.Add(rl.cfg.Window)
	if count >= float64(rl.cfg.Max) {
		return 0, resetAt, false
	}

	win.currCount++
	return max(0, int(float64(rl.cfg.Max)-count-1)), resetAt, true
}

// evict drops clients idle for two windows.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, win := range rl.windows {
		if now.Sub(win.currStart) >= 2*rl.cfg.Window {
			delete(rl.windows, key)
		}
	}
}

func (rl *rateLimiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * rl.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			rl.evict(now)
		}
	}
}

// RateLimit enforces a per-client sliding window limit and answers 429 with
// a RATE_LIMITED error body once it is exceeded.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newRateLimiter(cfg).middleware
}

// RateLimitWithCleanup is RateLimit with background eviction of idle clients
// until ctx is done.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	go rl.runEviction(ctx)
	return rl.middleware
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, resetAt, ok := rl.allow(rl.cfg.KeyFunc(r), time.Now())

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !ok {
			retryAfter := max(0, time.Until(resetAt))
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP keys requests by the first X-Forwarded-For hop, X-Real-IP, or the
// remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// HeaderOrIP keys requests by header when present, so that callers sharing
// an address keep separate budgets.
func HeaderOrIP(header string) func(*http.Request) string {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ClientIP(r)
	}
}

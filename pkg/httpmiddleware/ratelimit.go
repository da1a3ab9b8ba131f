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
	// Max is the number of requests allowed per window. Zero disables the
	// limiter.
	Max    int
	Window time.Duration
}

type window struct {
	prev, curr float64
	start      time.Time
}

type limiter struct {
	max    float64
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	keys map[string]*window
}

// allow counts a request for key. The previous window is weighted by how
// much of it still overlaps the sliding window.
func (l *limiter) allow(key string) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, found := l.keys[key]
	if !found {
		w = &window{start: now.Truncate(l.window)}
		l.keys[key] = w
	}
	if elapsed := now.Sub(w.start); elapsed >= l.window {
		w.prev = w.curr
		if elapsed >= 2*l.window {
			w.prev = 0
		}
		w.curr = 0
		w.start = now.Truncate(l.window)
	}

	overlap := 1 - now.Sub(w.start).Seconds()/l.window.Seconds()
	count := w.prev*max(overlap, 0) + w.curr
	reset = w.start.Add(l.window)
	if count >= l.max {
		return 0, reset, false
	}
	w.curr++
	return int(max(l.max-count-1, 0)), reset, true
}

func (l *limiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key, w := range l.keys {
		if now.Sub(w.start) >= 2*l.window {
			delete(l.keys, key)
		}
	}
}

// RateLimit limits requests per authenticated user, or per client address
// for anonymous requests. Stale keys are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := &limiter{
		max:    float64(cfg.Max),
		window: cfg.Window,
		now:    time.Now,
		keys:   make(map[string]*window),
	}
	go func() {
		ticker := time.NewTicker(2 * cfg.Window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evict()
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, reset, ok := l.allow(clientKey(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				retry := max(time.Until(reset), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if subject := Subject(r.Context()); subject != "" {
		return "user:" + subject
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

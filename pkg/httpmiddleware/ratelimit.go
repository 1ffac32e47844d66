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

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// KeyFunc defaults to the client IP.
	KeyFunc func(*http.Request) string
	// Limiter defaults to an in-process sliding window.
	Limiter Limiter
}

// RateLimit rejects requests over cfg.Max per cfg.Window with 429. Every
// response carries X-RateLimit-* headers. When the limiter fails the
// request is let through.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlidingWindow(cfg.Max, cfg.Window)
	}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := cfg.Limiter.Allow(r.Context(), cfg.KeyFunc(r), time.Now())
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				retry := max(time.Until(d.ResetAt), 0)
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys by the first X-Forwarded-For hop, then X-Real-IP, then the
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

type counter struct {
	prev      float64
	curr      float64
	currStart time.Time
}

// SlidingWindow approximates a sliding window by weighting the previous
// fixed window by its overlap.
type SlidingWindow struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*counter
}

// NewSlidingWindow creates an in-process limiter.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{max: limit, window: window, entries: make(map[string]*counter)}
}

// Allow implements Limiter.
func (s *SlidingWindow) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now.Truncate(s.window)
	e, ok := s.entries[key]
	switch {
	case !ok:
		e = &counter{currStart: start}
		s.entries[key] = e
	case start.Sub(e.currStart) == s.window:
		e.prev, e.curr, e.currStart = e.curr, 0, start
	case start.Sub(e.currStart) > s.window:
		e.prev, e.curr, e.currStart = 0, 0, start
	}

	overlap := 1 - float64(now.Sub(start))/float64(s.window)
	count := e.prev*overlap + e.curr
	d := Decision{ResetAt: start.Add(s.window)}
	if count >= float64(s.max) {
		return d, nil
	}
	e.curr++
	d.Allowed = true
	d.Remaining = max(s.max-int(math.Ceil(count+1)), 0)
	return d, nil
}

// Evict drops keys idle for two windows.
func (s *SlidingWindow) Evict(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.Sub(e.currStart) >= 2*s.window {
			delete(s.entries, key)
		}
	}
}

// RunEviction calls Evict every two windows until ctx is done.
func (s *SlidingWindow) RunEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * s.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Evict(now)
		}
	}
}

// RedisWindow is a fixed window limiter shared across replicas.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

// NewRedisWindow creates a limiter storing counters under prefix.
func NewRedisWindow(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{client: client, prefix: prefix, max: limit, window: window}
}

// Allow implements Limiter.
func (l *RedisWindow) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	start := now.Truncate(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	if _, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.PExpire(ctx, k, l.window)
		return nil
	}); err != nil {
		return Decision{}, errors.Wrap(err, "incr")
	}

	n := int(incr.Val())
	return Decision{
		Allowed:   n <= l.max,
		Remaining: max(l.max-n, 0),
		ResetAt:   start.Add(l.window),
	}, nil
}

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tutorhub/tutorhub/pkg/audit"
	"github.com/tutorhub/tutorhub/pkg/httputil"
	"github.com/tutorhub/tutorhub/pkg/observability"
)

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed bool
	Count   int
	ResetAt time.Time
}

// RetryAfter returns the time left until the window resets
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.ResetAt.Before(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts attempts per key in fixed windows
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type windowRecord struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter is an in-process fixed-window counter. Records live
// until Cleanup removes expired ones.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	records map[string]*windowRecord
	now     func() time.Time
}

// LimiterOption configures a FixedWindowLimiter
type LimiterOption func(*FixedWindowLimiter)

// WithLimiterClock overrides the time source
func WithLimiterClock(now func() time.Time) LimiterOption {
	return func(l *FixedWindowLimiter) {
		l.now = now
	}
}

// NewFixedWindowLimiter creates a new in-memory limiter
func NewFixedWindowLimiter(opts ...LimiterOption) *FixedWindowLimiter {
	l := &FixedWindowLimiter{
		records: make(map[string]*windowRecord),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records an attempt for key. A new or expired key starts a window
// with count 1. A key at the limit is denied without incrementing.
func (l *FixedWindowLimiter) Check(key string, limit int, window time.Duration) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[key]
	if !ok || now.After(rec.resetAt) {
		rec = &windowRecord{count: 1, resetAt: now.Add(window)}
		l.records[key] = rec
		return Decision{Allowed: true, Count: 1, ResetAt: rec.resetAt}
	}

	if rec.count >= limit {
		return Decision{Allowed: false, Count: rec.count, ResetAt: rec.resetAt}
	}

	rec.count++
	return Decision{Allowed: true, Count: rec.count, ResetAt: rec.resetAt}
}

// Allow implements Limiter
func (l *FixedWindowLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	return l.Check(key, limit, window), nil
}

// Cleanup removes expired windows and returns how many were dropped
func (l *FixedWindowLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, rec := range l.records {
		if now.After(rec.resetAt) {
			delete(l.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// ScheduleCleanup registers a periodic Cleanup on c
func ScheduleCleanup(c *cron.Cron, l *FixedWindowLimiter, spec string, logger *observability.Logger) (cron.EntryID, error) {
	if spec == "" {
		spec = "@every 1m"
	}
	return c.AddFunc(spec, func() {
		defer observability.RecoverPanic(logger, "rate limit cleanup")
		if n := l.Cleanup(); n > 0 {
			logger.WithField("removed", n).Debug("Rate limit windows cleaned up")
		}
	})
}

// RateLimitRule limits one route per client IP
type RateLimitRule struct {
	// Route namespaces the key, e.g. "login" gives "login:<ip>"
	Route  string
	Limit  int
	Window time.Duration
}

// DefaultAuthRule returns the login/register policy: 3 attempts per minute
func DefaultAuthRule(route string) RateLimitRule {
	return RateLimitRule{Route: route, Limit: 3, Window: time.Minute}
}

// RateLimitMiddleware applies rules in front of handlers
type RateLimitMiddleware struct {
	limiter Limiter
	metrics *observability.Metrics
	now     func() time.Time
}

// NewRateLimitMiddleware creates a new rate limit middleware. metrics may be nil.
func NewRateLimitMiddleware(limiter Limiter, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		metrics: metrics,
		now:     time.Now,
	}
}

// Limit wraps a handler with rule
func (m *RateLimitMiddleware) Limit(rule RateLimitRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := httputil.ClientIP(r)
			key := rule.Route + ":" + ip

			decision, err := m.limiter.Allow(r.Context(), key, rule.Limit, rule.Window)
			if err != nil {
				// Fail open
				observability.FromContext(r.Context()).
					WithError(err).
					WithField("route", rule.Route).
					Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			now := m.now()
			if !decision.Allowed {
				observability.FromContext(r.Context()).WithFields(map[string]interface{}{
					"route": rule.Route,
					"ip":    ip,
				}).Warn("[SECURITY] Rate limit exceeded")
				m.metrics.RecordRateLimited(rule.Route)
				audit.LogDenied(r, audit.EventTypeAuthRateLimited, audit.ResourceTypeRoute, rule.Route, "rate limit exceeded")

				httputil.WriteAPIError(w, r, httputil.RateLimited(decision.RetryAfter(now), decision.ResetAt))
				return
			}

			remaining := rule.Limit - decision.Count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			next.ServeHTTP(w, r)
		})
	}
}

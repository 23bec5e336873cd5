// Package ratelimit enforces a per-tenant fixed-window request budget keyed by
// client IP and tenant id.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenantguard/internal/observability"
	"github.com/upb/tenantguard/models"
)

// DefaultWindow is the fixed window length
const DefaultWindow = time.Minute

// Decision is the outcome of one admission check
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set only when rejected
	Window     time.Duration
}

// WindowMs returns the window length in milliseconds
func (d Decision) WindowMs() int64 {
	return d.Window.Milliseconds()
}

// Governor admits or rejects requests against a tenant's budget
type Governor struct {
	store   CounterStore
	limits  LimitProvider
	window  time.Duration
	now     func() time.Time
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Governor
type Option func(*Governor)

// WithWindow overrides the window length
func WithWindow(window time.Duration) Option {
	return func(g *Governor) {
		if window > 0 {
			g.window = window
		}
	}
}

// WithClock overrides the time source (useful for tests)
func WithClock(fn func() time.Time) Option {
	return func(g *Governor) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithMetrics records decisions
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Governor) {
		g.metrics = m
	}
}

// NewGovernor creates a new Governor instance
func NewGovernor(store CounterStore, limits LimitProvider, logger *zap.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		store:  store,
		limits: limits,
		window: DefaultWindow,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Window returns the configured window length
func (g *Governor) Window() time.Duration {
	return g.window
}

// Allow counts one request for (ip, tenantID) and decides whether it fits the budget.
// An empty tenant id is counted under the anonymous bucket. If the counter store
// fails the request is admitted and the failure logged.
func (g *Governor) Allow(ctx context.Context, ip, tenantID string) Decision {
	if tenantID == "" {
		tenantID = models.AnonymousTenant
	}
	now := g.now()
	limit := g.limits.LimitFor(ctx, tenantID)

	counter, err := g.store.Increment(ctx, buildScopeKey(ip, tenantID), g.window, now)
	if err != nil {
		g.logger.Error("rate limit store failed, admitting request",
			zap.String("tenant_id", tenantID),
			zap.String("ip", ip),
			zap.Error(err))
		g.metrics.RateDecision("store_error")
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   now.Add(g.window),
			Window:    g.window,
		}
	}

	d := Decision{
		Allowed:   counter.Count <= int64(limit),
		Limit:     limit,
		Remaining: remaining(limit, counter.Count),
		ResetAt:   counter.ResetAt,
		Window:    g.window,
	}

	if !d.Allowed {
		d.RetryAfter = retryAfter(counter.ResetAt.Sub(now))
		g.metrics.RateDecision("rejected")
		g.logger.Warn("rate limit exceeded",
			zap.String("tenant_id", tenantID),
			zap.String("ip", ip),
			zap.Int("limit", limit),
			zap.Int64("count", counter.Count),
			zap.Int("retry_after", d.RetryAfter))
		return d
	}

	g.metrics.RateDecision("allowed")
	return d
}

func remaining(limit int, count int64) int {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return int(r)
}

// retryAfter rounds up to whole seconds, never less than one
func retryAfter(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// buildScopeKey builds a unique key for the rate limit scope
func buildScopeKey(ip, tenantID string) string {
	return fmt.Sprintf("tenant:%s:ip:%s", tenantID, ip)
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tenantguard"

// Metrics holds the process collectors. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpReqCnt   *prometheus.CounterVec
	httpDur      *prometheus.HistogramVec
	tokenVerify  *prometheus.CounterVec
	tenantRes    *prometheus.CounterVec
	rateDecision *prometheus.CounterVec
	auditEvents  *prometheus.CounterVec
	auditQueue   prometheus.Gauge
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates a registry with the Go and process collectors plus the tenantguard series
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: r,
		httpReqCnt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		tokenVerify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_verifications_total", Help: "Token verifications by type and outcome.",
		}, []string{"type", "outcome"}),
		tenantRes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tenant_resolutions_total", Help: "Tenant resolutions by policy and outcome.",
		}, []string{"policy", "outcome"}),
		rateDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ratelimit_decisions_total", Help: "Rate limit decisions by outcome.",
		}, []string{"outcome"}),
		auditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "audit_events_total", Help: "Audit events by outcome.",
		}, []string{"outcome"}),
		auditQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "audit_queue_depth", Help: "Audit events waiting to be written.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total", Help: "In-process cache lookups by cache and result.",
		}, []string{"cache", "result"}),
	}

	r.MustRegister(m.httpReqCnt, m.httpDur, m.tokenVerify, m.tenantRes,
		m.rateDecision, m.auditEvents, m.auditQueue, m.cacheLookups)
	return m
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument records request count and latency per chi route pattern
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpReqCnt.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDur.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// TokenVerified counts a verification outcome (ok, expired, invalid, revoked)
func (m *Metrics) TokenVerified(tokenType, outcome string) {
	if m == nil {
		return
	}
	m.tokenVerify.WithLabelValues(tokenType, outcome).Inc()
}

// TenantResolved counts a resolver outcome under a policy
func (m *Metrics) TenantResolved(policy, outcome string) {
	if m == nil {
		return
	}
	m.tenantRes.WithLabelValues(policy, outcome).Inc()
}

// RateDecision counts allowed, rejected and store_error outcomes
func (m *Metrics) RateDecision(outcome string) {
	if m == nil {
		return
	}
	m.rateDecision.WithLabelValues(outcome).Inc()
}

// AuditEvent counts queued, dropped, written and failed audit entries
func (m *Metrics) AuditEvent(outcome string) {
	if m == nil {
		return
	}
	m.auditEvents.WithLabelValues(outcome).Inc()
}

// AuditQueueDepth reports the current audit backlog
func (m *Metrics) AuditQueueDepth(n int) {
	if m == nil {
		return
	}
	m.auditQueue.Set(float64(n))
}

// CacheLookup counts a hit or miss for a named cache
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

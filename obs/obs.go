//go:build !nometrics

package obs

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

var (
	setupOnce sync.Once
	shutdown  = func(context.Context) error { return nil }
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankfusion_http_requests_total",
		Help: "Total HTTP requests by route and status code.",
	}, []string{"route", "code"})
	httpDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rankfusion_http_request_duration_ms",
		Help:    "Histogram of HTTP request latency in ms.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
	fusions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankfusion_fusions_total",
		Help: "Fusion calls by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	fusionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rankfusion_fusion_duration_us",
		Help:    "Histogram of fusion compute time in microseconds.",
		Buckets: prometheus.ExponentialBuckets(10, 2, 14),
	}, []string{"strategy"})
	fusionCandidates = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rankfusion_fusion_candidates",
		Help:    "Number of input candidates per fusion call.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}, []string{"strategy"})
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankfusion_cache_lookups_total",
		Help: "Result cache lookups by result (hit or miss).",
	}, []string{"result"})
	budgetHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankfusion_budget_hit_total",
		Help: "Total batch requests that exhausted the configured budget.",
	})
	rateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rankfusion_rate_limited_total",
		Help: "Total requests rejected by the rate limiter.",
	})
)

// ObserveHTTPRequest records request-level metrics.
func ObserveHTTPRequest(route, code string, duration time.Duration, traceID string) {
	httpRequests.WithLabelValues(route, code).Inc()
	ms := float64(duration.Microseconds()) / 1000
	if eo, ok := httpDuration.(prometheus.ExemplarObserver); ok && traceID != "" {
		eo.ObserveWithExemplar(ms, prometheus.Labels{"trace_id": traceID})
		return
	}
	httpDuration.Observe(ms)
}

// ObserveFusion records a single fusion call.
func ObserveFusion(strategy, outcome string, candidates int, duration time.Duration) {
	fusions.WithLabelValues(strategy, outcome).Inc()
	fusionDuration.WithLabelValues(strategy).Observe(float64(duration.Microseconds()))
	fusionCandidates.WithLabelValues(strategy).Observe(float64(candidates))
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

// IncBudgetHit records a budget exhaustion event.
func IncBudgetHit() {
	budgetHits.Inc()
}

// IncRateLimited records a rejected request.
func IncRateLimited() {
	rateLimited.Inc()
}

// InitTracer sets up a minimal OpenTelemetry tracer provider.
func InitTracer(serviceName string, sampleRatio float64) (func(context.Context) error, error) {
	var initErr error
	setupOnce.Do(func() {
		res, err := resource.New(context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
			),
		)
		if err != nil {
			initErr = err
			return
		}

		provider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(provider)
		shutdown = provider.Shutdown
	})
	return shutdown, initErr
}

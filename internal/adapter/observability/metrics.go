package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Provider call outcomes
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60, 180},
		},
		[]string{"route", "method"},
	)

	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_requests_total",
			Help: "Total number of upstream provider requests by outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Upstream provider request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)
	PollAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_poll_attempts",
			Help:    "Number of status reads until a polled job settled",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 30, 45, 60},
		},
		[]string{"poller", "result"},
	)
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_fallbacks_total",
			Help: "Total number of provider or model fallbacks taken",
		},
		[]string{"from", "to"},
	)
	BreakerStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_enqueued_total",
			Help: "Total number of generation jobs enqueued",
		},
		[]string{"kind"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "generation_jobs_processing",
			Help: "Number of generation jobs currently processing",
		},
		[]string{"kind"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_completed_total",
			Help: "Total number of generation jobs completed",
		},
		[]string{"kind"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_failed_total",
			Help: "Total number of generation jobs failed",
		},
		[]string{"kind"},
	)
	QuotaRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_quota_rejected_total",
			Help: "Requests rejected by the per-key generation quota",
		},
		[]string{"route"},
	)
)

var registerOnce sync.Once

// InitMetrics registers all collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ProviderRequestsTotal,
			ProviderRequestDuration,
			PollAttempts,
			FallbacksTotal,
			BreakerStateGauge,
			JobsEnqueuedTotal,
			JobsProcessing,
			JobsCompletedTotal,
			JobsFailedTotal,
			QuotaRejectedTotal,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern is only known after chi routed the request
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveProviderCall records one upstream call.
func ObserveProviderCall(provider, operation, outcome string, dur time.Duration) {
	ProviderRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	ProviderRequestDuration.WithLabelValues(provider, operation).Observe(dur.Seconds())
}

// ObservePoll records how many status reads a poll loop used.
func ObservePoll(poller, result string, attempts int) {
	PollAttempts.WithLabelValues(poller, result).Observe(float64(attempts))
}

// RecordFallback counts a switch from one provider or model to another.
func RecordFallback(from, to string) {
	FallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordCircuitBreakerStatus exports the breaker state for provider.
func RecordCircuitBreakerStatus(provider string, state CircuitBreakerState) {
	BreakerStateGauge.WithLabelValues(provider).Set(float64(state))
}

func EnqueueJob(kind string) {
	JobsEnqueuedTotal.WithLabelValues(kind).Inc()
}

func StartProcessingJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Inc()
}

func CompleteJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsCompletedTotal.WithLabelValues(kind).Inc()
}

func FailJob(kind string) {
	JobsProcessing.WithLabelValues(kind).Dec()
	JobsFailedTotal.WithLabelValues(kind).Inc()
}

// RecordQuotaRejected counts a request refused by the generation quota.
func RecordQuotaRejected(route string) {
	QuotaRejectedTotal.WithLabelValues(route).Inc()
}

// Package metrics exposes decision, lockout, audit-integrity and HTTP
// request metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "argus"

// Metrics implements service.Recorder and service.IntegrityObserver.
type Metrics struct {
	registry *prometheus.Registry

	decisions  *prometheus.CounterVec
	lockouts   prometheus.Counter
	chainValid prometheus.Gauge

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Audited decisions by event type, decision and reason",
			},
			[]string{"event", "decision", "reason"},
		),
		lockouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_total",
			Help:      "Principals locked out after repeated failures",
		}),
		chainValid: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_chain_valid",
			Help:      "1 if the last audit chain verification passed, 0 otherwise",
		}),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Counter for HTTP requests by method, status, route",
			},
			[]string{"method", "status", "route"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:                       namespace,
				Name:                            "http_request_duration_seconds",
				Help:                            "Histogram of latencies for HTTP requests by method, status, route",
				Buckets:                         prometheus.DefBuckets,
				NativeHistogramBucketFactor:     1.1,
				NativeHistogramMaxBucketNumber:  100,
				NativeHistogramMinResetDuration: 1 * time.Hour,
			},
			[]string{"method", "status", "route"},
		),
	}
}

func (m *Metrics) Decision(event, decision, reason string) {
	m.decisions.WithLabelValues(event, decision, reason).Inc()
}

func (m *Metrics) Lockout() { m.lockouts.Inc() }

func (m *Metrics) ObserveIntegrity(valid bool) {
	if valid {
		m.chainValid.Set(1)
		return
	}
	m.chainValid.Set(0)
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware counts and times requests, labelled by the matched ServeMux
// pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(rec.statusCode)
		m.requests.WithLabelValues(r.Method, status, route).Inc()
		m.duration.WithLabelValues(r.Method, status, route).Observe(time.Since(start).Seconds())
	})
}

// Package metrics implements courier.Metrics with Prometheus collectors and
// instruments the HTTP server.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/courier"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courier"

// Prometheus records engine and HTTP counters.
type Prometheus struct {
	gatherer prometheus.Gatherer

	dispatchTotal    *prometheus.CounterVec
	eventsTotal      *prometheus.CounterVec
	retriesTotal     *prometheus.CounterVec
	rateLimitedTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInflight        prometheus.Gauge
}

var _ courier.Metrics = (*Prometheus)(nil)

// New creates the collectors and registers them on reg. A nil reg means a
// fresh registry; already registered collectors are reused.
func New(reg *prometheus.Registry) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	p := &Prometheus{
		gatherer: reg,
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatch outcomes by template and outcome.",
		}, []string{"template", "outcome"}), // outcome: sent|failed|replayed|conflict
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_events_total",
			Help:      "Provider events ingested by type.",
		}, []string{"type", "duplicate"}),
		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry outcomes.",
		}, []string{"outcome"}), // outcome: queued|skipped|missing
		rateLimitedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Public requests rejected by the rate limiter.",
		}, []string{"action"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_inflight_requests",
			Help:      "Requests currently being served.",
		}),
	}

	for _, c := range []prometheus.Collector{
		p.dispatchTotal, p.eventsTotal, p.retriesTotal, p.rateLimitedTotal,
		p.httpRequestsTotal, p.httpRequestDuration, p.httpInflight,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// registerCollector registers c, ignoring duplicates.
func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// DispatchCompleted implements courier.Metrics.
func (p *Prometheus) DispatchCompleted(templateKey, outcome string) {
	p.dispatchTotal.WithLabelValues(templateKey, outcome).Inc()
}

// EventIngested implements courier.Metrics.
func (p *Prometheus) EventIngested(eventType string, duplicate bool) {
	p.eventsTotal.WithLabelValues(eventType, strconv.FormatBool(duplicate)).Inc()
}

// RetryCompleted implements courier.Metrics.
func (p *Prometheus) RetryCompleted(outcome string) {
	p.retriesTotal.WithLabelValues(outcome).Inc()
}

// RateLimited implements courier.Metrics.
func (p *Prometheus) RateLimited(action string) {
	p.rateLimitedTotal.WithLabelValues(action).Inc()
}

// Middleware instruments requests. Routes are labeled with the chi route
// pattern so ids and tokens never become label values.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.httpInflight.Inc()
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		defer func() {
			p.httpInflight.Dec()
			route := routePattern(r)
			method := strings.ToUpper(r.Method)
			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			p.httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			p.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		}()

		next.ServeHTTP(rec, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

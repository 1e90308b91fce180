// Package metrics exports intervention pipeline metrics in Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/domain"
	"github.com/kapardhi03/vibecoderz-proactive-agent/internal/generator"
)

const namespace = "proactive_agent"

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64

	// Users, when set, is sampled on scrape for the tracked-learners gauge.
	Users func() int

	// Subscribers, when set, is sampled for the open-streams gauge.
	Subscribers func() int

	// AnalyticsDropped, when set, reports analytics records lost to a full queue.
	AnalyticsDropped func() int64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 45, 60},
	}
}

// PrometheusExporter exports pipeline metrics.
type PrometheusExporter struct {
	registry *prometheus.Registry

	events            *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
	generationErrors  *prometheus.CounterVec
	rateLimited       *prometheus.CounterVec
	dispatchDropped   prometheus.Counter
}

// NewPrometheusExporter creates a new Prometheus metrics exporter.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of processed learner events",
		},
		[]string{"event_type", "action", "reason"},
	)

	e.generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "latency_seconds",
			Help:      "Lesson generation latency in seconds",
			Buckets:   cfg.LatencyBuckets,
		},
		[]string{"status"},
	)

	e.generationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generator",
			Name:      "errors_total",
			Help:      "Total number of failed lesson generations",
		},
		[]string{"error_type"},
	)

	e.rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"route"},
	)

	e.dispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Total number of background events rejected because the queue was full",
		},
	)

	registry.MustRegister(
		e.events,
		e.generationLatency,
		e.generationErrors,
		e.rateLimited,
		e.dispatchDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Users != nil {
		users := cfg.Users
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tracked_users",
				Help:      "Number of learners with in-memory struggle history",
			},
			func() float64 { return float64(users()) },
		))
	}
	if cfg.Subscribers != nil {
		subscribers := cfg.Subscribers
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "subscribers",
				Help:      "Number of open intervention streams",
			},
			func() float64 { return float64(subscribers()) },
		))
	}
	if cfg.AnalyticsDropped != nil {
		dropped := cfg.AnalyticsDropped
		registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "analytics",
				Name:      "dropped_total",
				Help:      "Total number of analytics records dropped because the queue was full",
			},
			func() float64 { return float64(dropped()) },
		))
	}

	return e
}

// ObserveEvent records a processed event.
func (e *PrometheusExporter) ObserveEvent(eventType domain.EventType, action domain.Action, reason domain.Reason) {
	e.events.WithLabelValues(string(eventType), string(action), string(reason)).Inc()
}

// ObserveGeneration records one generator call.
func (e *PrometheusExporter) ObserveGeneration(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		e.generationErrors.WithLabelValues(errorType(err)).Inc()
	}
	e.generationLatency.WithLabelValues(status).Observe(d.Seconds())
}

// RecordRateLimited records a rejected request.
func (e *PrometheusExporter) RecordRateLimited(route string) {
	e.rateLimited.WithLabelValues(route).Inc()
}

// RecordDispatchDropped records a background event rejected by a full queue.
func (e *PrometheusExporter) RecordDispatchDropped() {
	e.dispatchDropped.Inc()
}

// Registry returns the underlying registry.
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, generator.ErrTimeout):
		return "timeout"
	default:
		return "upstream"
	}
}

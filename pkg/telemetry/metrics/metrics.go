// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "gateway"
)

// Collector holds every metric the gateway records.
//
// Metrics:
//   - gateway_requests_total: proxied requests by provider and status class
//   - gateway_request_duration_seconds: end-to-end proxy latency
//   - gateway_ratelimit_checks_total: pre-check outcomes (ok, rate_limited)
//   - gateway_log_queue_depth: records waiting in the pipeline
//   - gateway_log_records_total: pipeline dispositions (enqueued, dropped, suppressed)
//   - gateway_relay_sessions_total / gateway_relay_frames_total: realtime relay
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	rateLimitChecks *prometheus.CounterVec

	logQueueDepth prometheus.Gauge
	logRecords    *prometheus.CounterVec

	relaySessions prometheus.Counter
	relayFrames   *prometheus.CounterVec
}

// NewCollector creates and registers the gateway metrics. If registry
// is nil a fresh one is created.
func NewCollector(registry *prometheus.Registry) (*Collector, *prometheus.Registry) {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"provider", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "End-to-end proxy latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		rateLimitChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_checks_total",
				Help:      "Rate-limit pre-check outcomes",
			},
			[]string{"outcome"},
		),
		logQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "log_queue_depth",
				Help:      "Log records waiting in the pipeline queue",
			},
		),
		logRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_records_total",
				Help:      "Log record dispositions",
			},
			[]string{"disposition"},
		),
		relaySessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_sessions_total",
				Help:      "Realtime relay sessions opened",
			},
		),
		relayFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_frames_total",
				Help:      "Realtime frames relayed by direction",
			},
			[]string{"direction"},
		),
	}

	registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.rateLimitChecks,
		c.logQueueDepth,
		c.logRecords,
		c.relaySessions,
		c.relayFrames,
	)
	return c, registry
}

// RecordRequest records one completed proxy request.
func (c *Collector) RecordRequest(provider string, status int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(provider, statusClass(status)).Inc()
	c.requestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRateLimitCheck records a pre-check outcome: "ok",
// "rate_limited" or "fail_open".
func (c *Collector) RecordRateLimitCheck(outcome string) {
	c.rateLimitChecks.WithLabelValues(outcome).Inc()
}

// SetLogQueueDepth publishes the current pipeline queue depth.
func (c *Collector) SetLogQueueDepth(depth int) {
	c.logQueueDepth.Set(float64(depth))
}

// RecordLogDisposition records what happened to one log record:
// "enqueued", "dropped", "suppressed" or "failed".
func (c *Collector) RecordLogDisposition(disposition string) {
	c.logRecords.WithLabelValues(disposition).Inc()
}

// RecordRelaySession counts one opened realtime session.
func (c *Collector) RecordRelaySession() {
	c.relaySessions.Inc()
}

// RecordRelayFrame counts one relayed frame: direction is "client" or
// "target".
func (c *Collector) RecordRelayFrame(direction string) {
	c.relayFrames.WithLabelValues(direction).Inc()
}

func statusClass(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

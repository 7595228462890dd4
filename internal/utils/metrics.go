package utils

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector tracks engine-level metrics. All counters are
// registered on a private registry so tests can construct collectors
// without colliding with the default registry.
type MetricsCollector struct {
	registry *prometheus.Registry

	votesTotal          *prometheus.CounterVec
	commentsTotal       prometheus.Counter
	notificationsTotal  *prometheus.CounterVec
	invariantViolations prometheus.Counter
	wsConnections       prometheus.Gauge
	operationLatency    *prometheus.HistogramVec
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		votesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangrove_votes_total",
			Help: "Vote casts processed, by subject type and resulting state.",
		}, []string{"subject_type", "state"}),
		commentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mangrove_comments_created_total",
			Help: "Comments created.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mangrove_notifications_total",
			Help: "Notifications by delivery outcome (delivered, queued).",
		}, []string{"outcome"}),
		invariantViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mangrove_aggregate_invariant_violations_total",
			Help: "Times a denormalized counter would have gone negative and was clamped.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mangrove_websocket_connections",
			Help: "Currently registered websocket clients.",
		}),
		operationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mangrove_operation_latency_seconds",
			Help:    "Latency of engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	mc.registry.MustRegister(
		mc.votesTotal,
		mc.commentsTotal,
		mc.notificationsTotal,
		mc.invariantViolations,
		mc.wsConnections,
		mc.operationLatency,
	)
	return mc
}

// Registry exposes the underlying registry for the /metrics handler.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

func (mc *MetricsCollector) RecordVote(subjectType, state string) {
	mc.votesTotal.WithLabelValues(subjectType, state).Inc()
}

func (mc *MetricsCollector) RecordComment() {
	mc.commentsTotal.Inc()
}

func (mc *MetricsCollector) RecordNotification(outcome string) {
	mc.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (mc *MetricsCollector) RecordInvariantViolation() {
	mc.invariantViolations.Inc()
}

func (mc *MetricsCollector) ClientConnected()    { mc.wsConnections.Inc() }
func (mc *MetricsCollector) ClientDisconnected() { mc.wsConnections.Dec() }

func (mc *MetricsCollector) AddOperationLatency(operationName string, duration time.Duration) {
	mc.operationLatency.WithLabelValues(operationName).Observe(duration.Seconds())
}

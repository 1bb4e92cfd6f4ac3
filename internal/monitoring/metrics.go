package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus metrics for the assistant channel.
// Scraped from /metrics and visualized in Grafana.
var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aw_connections_total",
		Help: "Total number of WebSocket connections admitted",
	})

	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aw_connections_active",
		Help: "Current number of active WebSocket connections",
	})

	ConnectionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aw_connections_rejected_total",
		Help: "Connection attempts rejected at admission, by reason",
	}, []string{"reason"})

	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aw_disconnects_total",
		Help: "Total disconnections by teardown reason",
	}, []string{"reason"})

	MessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aw_messages_received_total",
		Help: "Total inbound frames received from clients",
	})

	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aw_messages_sent_total",
		Help: "Total outbound frames written to clients",
	})

	RateLimitedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aw_rate_limited_messages_total",
		Help: "Total inbound frames rejected by the per-connection rate limiter",
	})

	ConnectionRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aw_connection_rate_limited_total",
		Help: "Connection attempts rejected by the upgrade-time rate limiter",
	}, []string{"scope"})

	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aw_auth_attempts_total",
		Help: "Credential validation attempts by outcome",
	}, []string{"outcome"})

	PipelineStageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aw_pipeline_stage_duration_seconds",
		Help:    "Duration of request pipeline stages",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"stage"})

	PipelineFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aw_pipeline_failures_total",
		Help: "Request pipeline failures by stage and kind",
	}, []string{"stage", "kind"})

	PipelineInterrupts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aw_pipeline_interrupts_total",
		Help: "In-flight requests cancelled by client interrupt",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		ConnectionsRejected,
		DisconnectsTotal,
		MessagesReceived,
		MessagesSent,
		RateLimitedMessages,
		ConnectionRateLimited,
		AuthAttempts,
		PipelineStageDuration,
		PipelineFailures,
		PipelineInterrupts,
	)
}

// MetricsHandler serves Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

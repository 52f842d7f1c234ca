package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Evaluation metrics
	EvaluationPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_evaluation_passes_total",
			Help: "Total number of rule evaluation passes",
		},
		[]string{"trigger"}, // trigger: scheduled, manual
	)

	EvaluationPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stockwatch_evaluation_pass_duration_seconds",
			Help:    "Duration of one evaluation pass over all enabled rules",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	RuleEvaluationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_rule_evaluation_errors_total",
			Help: "Total number of rule evaluations that failed",
		},
		[]string{"condition"},
	)

	AlertsTriggeredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_alerts_triggered_total",
			Help: "Total number of alerts produced",
		},
		[]string{"type", "priority"},
	)

	RulesGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockwatch_rules",
			Help: "Number of registered rules",
		},
		[]string{"state"}, // state: enabled, disabled
	)

	// Notification metrics
	NotificationDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_notification_deliveries_total",
			Help: "Total number of channel delivery attempts",
		},
		[]string{"channel", "status"}, // status: success, failure, skipped
	)

	NotificationDeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockwatch_notification_delivery_duration_seconds",
			Help:    "Channel delivery latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"channel"},
	)

	ChannelsDisabledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_channels_disabled_total",
			Help: "Total number of channels disabled after unrecoverable failures",
		},
		[]string{"channel"},
	)

	// Transport metrics
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_events_published_total",
			Help: "Total number of events published to transport sinks",
		},
		[]string{"sink", "event", "status"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockwatch_websocket_clients",
			Help: "Number of connected websocket clients",
		},
	)

	// Ingest metrics
	ProductUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_product_updates_total",
			Help: "Total number of product updates received by ingest feeds",
		},
		[]string{"source", "status"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockwatch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockwatch_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

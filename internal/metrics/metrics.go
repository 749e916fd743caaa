// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReadingsIngested counts readings accepted by the validator
	ReadingsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsense_readings_ingested_total",
			Help: "Total number of readings ingested",
		},
	)

	// ReadingsRejected counts payloads rejected by the validator
	ReadingsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsense_readings_rejected_total",
			Help: "Total number of reading payloads rejected",
		},
	)

	// PoorQualityReadings counts readings flagged with out-of-range sensor values
	PoorQualityReadings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitalsense_readings_poor_quality_total",
			Help: "Total number of readings flagged as poor quality",
		},
	)

	// AlertsRaised counts newly created alerts
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsense_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"type", "severity"},
	)

	// AlertsSuppressed counts candidates merged into an existing active alert
	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsense_alerts_suppressed_total",
			Help: "Total number of alert candidates suppressed by de-duplication",
		},
		[]string{"type"},
	)

	// AlertTransitions counts lifecycle transitions
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsense_alert_transitions_total",
			Help: "Total number of alert lifecycle transitions",
		},
		[]string{"action"},
	)

	// NotificationsSent counts notification attempts by channel and outcome
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsense_notifications_sent_total",
			Help: "Total number of notification attempts",
		},
		[]string{"channel", "status"},
	)

	// RiskPredictions counts risk scorer runs by resulting level
	RiskPredictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitalsense_risk_predictions_total",
			Help: "Total number of risk predictions computed",
		},
		[]string{"level"},
	)

	// HTTPDuration observes request latency
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitalsense_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

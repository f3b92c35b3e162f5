// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)
)

// Auto-reply assistant.
var (
	// outcome: generated | fallback | config_error
	AIReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_replies_total",
			Help: "Replies produced by the generation pipeline",
		},
		[]string{"outcome"},
	)

	AIReplyConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ai_reply_confidence",
			Help:    "Heuristic confidence of generated replies",
			Buckets: []float64{0, 0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	// reason: sentinel | low_confidence | fallback | empty_reply | send_failed
	AIHandoffs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_handoffs_total",
			Help: "Conversations escalated to a human agent",
		},
		[]string{"reason"},
	)

	AIKeyRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_key_rotations_total",
			Help: "Credential rotations caused by provider rate limiting",
		},
	)

	AIGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_generation_duration_seconds",
			Help:    "Latency of a single generation call",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
		[]string{"provider"},
	)
)

// Integrations.
var (
	// direction: inbound | echo | outbound | outbound_failed
	MessengerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_messages_total",
			Help: "Messenger/Instagram messages processed",
		},
		[]string{"direction", "platform"},
	)

	CarrierTokenRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carrier_token_refresh_total",
			Help: "Carrier login token refreshes",
		},
		[]string{"result"},
	)

	SheetsRowsSynced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sheets_rows_synced_total",
			Help: "Order rows appended to the bookkeeping spreadsheet",
		},
	)
)

// channel: email | sms, status: sent | failed
var NotificationsSent = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "handoff_notifications_total",
		Help: "Staff alerts sent when a conversation is handed off",
	},
	[]string{"channel", "status"},
)

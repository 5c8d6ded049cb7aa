package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts finished runs by channel and final status (success/partial/failed)
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_runs_total",
		Help: "Total number of finished sync runs",
	}, []string{"channel_id", "status"})

	// RunDuration measures a whole pull/push cycle
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "channel_sync_run_duration_seconds",
		Help:    "Duration of a full sync run in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"channel_id"})

	// StepOutcomes tracks each step independently so a flaky push is visible even when pulls are fine
	StepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_steps_total",
		Help: "Sync steps executed, labelled by outcome (ok or error kind)",
	}, []string{"channel_id", "step", "outcome"})

	// DroppedTriggers counts timer fires discarded because a run was already in flight
	DroppedTriggers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_sync_dropped_triggers_total",
		Help: "Triggers dropped by the single-flight guard",
	}, []string{"channel_id", "reason"})

	// ChannelRequests counts HTTP calls to external channels by outcome kind
	ChannelRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_requests_total",
		Help: "Requests sent to external channels",
	}, []string{"channel_id", "operation", "outcome"})

	// ChannelLatency uses wide buckets; OTA endpoints routinely take several seconds
	ChannelLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "channel_request_duration_seconds",
		Help:    "Latency of a single channel request attempt",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"channel_id", "operation"})

	// ReservationsImported tracks reconciler writes (created/updated/failed)
	ReservationsImported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_imported_total",
		Help: "Reservations applied to the central store",
	}, []string{"channel_id", "result"})

	// Confirmations counts auto-accept callbacks by result
	Confirmations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_confirmations_total",
		Help: "Auto-accept confirmation calls issued to channels",
	}, []string{"channel_id", "result"})

	// OverbookedNights is the number of conflicting (property, date) pairs found by the last scan
	OverbookedNights = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "property_overbooked_nights",
		Help: "Overbooked nights per property from the latest conflict scan",
	}, []string{"property_id"})

	// ChannelState exposes the scheduler state machine (0 idle, 1 running, 2 disabled)
	ChannelState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "channel_scheduler_state",
		Help: "Scheduler state per channel (0 idle, 1 running, 2 disabled)",
	}, []string{"channel_id"})

	// BrokerHealthy provides a binary 0/1 signal for the broker link
	BrokerHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "channel_sync_broker_healthy",
		Help: "Current health of the RabbitMQ link (1 healthy, 0 unhealthy)",
	})
)

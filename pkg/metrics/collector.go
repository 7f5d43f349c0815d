package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	workflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflows_total",
			Help: "Total number of executed workflows labeled by action kind and status",
		},
		[]string{"kind", "status"},
	)
	workflowDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_duration_seconds",
			Help:    "Duration of workflow executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	ledgerEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_entries_total",
			Help: "Total number of appended ledger entries by source and direction",
		},
		[]string{"source", "direction"},
	)
	accessGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_grants_total",
			Help: "Total number of access-grant ledger rows by action",
		},
		[]string{"action"},
	)
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of domain events published by type",
		},
		[]string{"type"},
	)
	eventDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_deliveries_total",
			Help: "Total number of event handler deliveries by type and status",
		},
		[]string{"type", "status"},
	)
	narrativeAdvancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrative_advances_total",
			Help: "Total number of narrative transitions by source and destination fragment",
		},
		[]string{"from", "to"},
	)
	reconcileFindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_findings_total",
			Help: "Total number of reconciliation findings by kind and resolution",
		},
		[]string{"kind", "resolution"},
	)
	reconcileSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_sweep_duration_seconds",
			Help:    "Duration of full reconciliation sweeps in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
	usersWithDrift = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "users_with_drift",
			Help: "Number of users for which the last sweep found unresolved drift",
		},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by code and severity",
		},
		[]string{"code", "severity"},
	)
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of handled bot commands by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bot_command_duration_seconds",
			Help:    "Duration of bot command handling in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

// RecordWorkflow increments workflow counters and records duration.
func RecordWorkflow(kind, status string, duration time.Duration) {
	if kind == "" {
		kind = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	workflowsTotal.WithLabelValues(kind, status).Inc()
	workflowDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLedgerEntry tracks an appended currency ledger entry.
func RecordLedgerEntry(source string, amount int64) {
	direction := "credit"
	if amount < 0 {
		direction = "debit"
	}
	if source == "" {
		source = "unknown"
	}

	ledgerEntriesTotal.WithLabelValues(source, direction).Inc()
}

// RecordAccessGrant tracks an appended access-grant row.
func RecordAccessGrant(action string) {
	if action == "" {
		action = "unknown"
	}

	accessGrantsTotal.WithLabelValues(action).Inc()
}

// RecordEventPublished tracks a published domain event.
func RecordEventPublished(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordEventDelivery tracks one handler invocation outcome.
func RecordEventDelivery(eventType, status string) {
	eventDeliveriesTotal.WithLabelValues(eventType, status).Inc()
}

// RecordNarrativeAdvance tracks fragment transitions.
func RecordNarrativeAdvance(from, to string) {
	if from == "" {
		from = "unknown"
	}
	if to == "" {
		to = "unknown"
	}

	narrativeAdvancesTotal.WithLabelValues(from, to).Inc()
}

// RecordReconcileFinding tracks one reconciliation finding and how it was resolved.
func RecordReconcileFinding(kind, resolution string) {
	reconcileFindingsTotal.WithLabelValues(kind, resolution).Inc()
}

// RecordSweep records a completed full sweep.
func RecordSweep(duration time.Duration, driftedUsers int) {
	reconcileSweepDuration.Observe(duration.Seconds())
	usersWithDrift.Set(float64(driftedUsers))
}

// RecordCommand tracks one handled bot command.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	commandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordError increments error counters with metadata.
func RecordError(code, severity string) {
	if code == "" {
		code = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(code, severity).Inc()
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

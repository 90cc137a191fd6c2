package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Operation processor metrics
	OperationsLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rangemaster_operations_live",
			Help: "Number of live operations in the graph by type",
		},
		[]string{"type"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangemaster_operations_total",
			Help: "Total number of operations completed by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rangemaster_operation_duration_seconds",
			Help:    "Operation execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	OperationConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangemaster_operation_conflicts_total",
			Help: "Total MASTER_OPERATION_IN_PROGRESS rejections by exclusivity label",
		},
		[]string{"label"},
	)

	// Connection manager metrics
	ConnectionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rangemaster_connections_total",
			Help: "Number of range-server connections by state",
		},
		[]string{"state"},
	)

	// Response manager metrics
	ResponseManagerExpirableOps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rangemaster_response_manager_expirable_ops",
			Help: "Number of completed operations awaiting fetch",
		},
	)

	ResponseManagerDeliveryList = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rangemaster_response_manager_delivery_list",
			Help: "Number of fetch requests awaiting operation completion",
		},
	)

	// Recovery metrics
	RecoveryFuturesPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rangemaster_recovery_futures_pending",
			Help: "Number of recovery step futures awaiting completion",
		},
	)

	// Maintenance scheduler metrics
	MaintenanceQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rangemaster_maintenance_queue_depth",
			Help: "Number of pending maintenance tasks by queue level",
		},
		[]string{"level"},
	)

	MaintenanceNeededBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rangemaster_maintenance_needed_bytes",
			Help: "Remaining memory the prioritizer still needs to free this cycle",
		},
	)

	MaintenanceCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rangemaster_maintenance_cycles_total",
			Help: "Total number of maintenance scheduling cycles completed",
		},
	)

	MaintenanceCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rangemaster_maintenance_cycle_duration_seconds",
			Help:    "Time taken for a maintenance scheduling cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Balancer metrics
	BalancePlansActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rangemaster_balance_plans_active",
			Help: "Number of moves in the active balance plan not yet acknowledged",
		},
	)

	BalanceMovesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rangemaster_balance_moves_total",
			Help: "Total number of range moves emitted by algorithm",
		},
		[]string{"algorithm"},
	)
)

func init() {
	prometheus.MustRegister(OperationsLive)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
	prometheus.MustRegister(OperationConflictsTotal)
	prometheus.MustRegister(ConnectionsTotal)
	prometheus.MustRegister(ResponseManagerExpirableOps)
	prometheus.MustRegister(ResponseManagerDeliveryList)
	prometheus.MustRegister(RecoveryFuturesPending)
	prometheus.MustRegister(MaintenanceQueueDepth)
	prometheus.MustRegister(MaintenanceNeededBytes)
	prometheus.MustRegister(MaintenanceCyclesTotal)
	prometheus.MustRegister(MaintenanceCycleDuration)
	prometheus.MustRegister(BalancePlansActive)
	prometheus.MustRegister(BalanceMovesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

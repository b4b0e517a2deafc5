package lcm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal tracks accepted lifecycle operations by outcome.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_lcm_operations_total",
			Help: "Total number of lifecycle operation occurrences by terminal outcome",
		},
		[]string{"operation", "outcome"},
	)

	// OperationDuration tracks end-to-end occurrence duration.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vnfm_lcm_operation_duration_seconds",
			Help:    "Duration of lifecycle operations from acceptance to terminal state",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"operation"},
	)

	// OperationsRejectedTotal tracks requests rejected before an occurrence
	// was created.
	OperationsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_lcm_operations_rejected_total",
			Help: "Total number of operation requests rejected at intake",
		},
		[]string{"operation", "reason"},
	)

	// FailedTempGauge tracks occurrences currently awaiting operator action.
	FailedTempGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vnfm_lcm_failed_temp_occurrences",
			Help: "Number of occurrences currently in FAILED_TEMP",
		},
	)

	// RecoveredOccurrencesTotal tracks occurrences moved to FAILED_TEMP by
	// the crash recovery sweep.
	RecoveredOccurrencesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vnfm_lcm_recovered_occurrences_total",
			Help: "Total number of occurrences parked in FAILED_TEMP by the startup recovery sweep",
		},
	)
)

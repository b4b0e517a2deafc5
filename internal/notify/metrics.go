package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// NotificationsEnqueuedTotal tracks notifications placed on the
	// delivery stream.
	NotificationsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_notify_enqueued_total",
			Help: "Total number of lifecycle notifications enqueued for delivery",
		},
		[]string{"operation", "state"},
	)

	// DispatchErrorsTotal tracks dispatcher-side failures by stage.
	DispatchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_notify_dispatch_errors_total",
			Help: "Total number of notification dispatch failures",
		},
		[]string{"stage"},
	)

	// DeliveriesTotal tracks callback delivery attempts by outcome.
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_notify_deliveries_total",
			Help: "Total number of notification deliveries by status",
		},
		[]string{"subscription_id", "status"},
	)

	// DeliveryLatency tracks end-to-end delivery latency per subscription.
	DeliveryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vnfm_notify_delivery_duration_seconds",
			Help:    "Notification delivery latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subscription_id"},
	)

	// RetriesTotal tracks delivery retry attempts.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_notify_retries_total",
			Help: "Total number of notification delivery retries",
		},
		[]string{"subscription_id", "attempt"},
	)

	// DLQTotal tracks notifications moved to the dead letter queue.
	DLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vnfm_notify_dlq_total",
			Help: "Total number of notifications moved to the dead letter queue",
		},
		[]string{"subscription_id"},
	)

	// ActiveWorkersGauge tracks the number of running delivery workers.
	ActiveWorkersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vnfm_notify_active_workers",
			Help: "Number of active notification delivery workers",
		},
	)
)

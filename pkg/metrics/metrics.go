package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Dispatch pipeline metrics
	DispatchTasks        prometheus.Counter
	DispatchFailures     prometheus.Counter
	DispatchLatency      prometheus.Histogram
	BrokerPublishes      *prometheus.CounterVec
	DroppedSubscriptions prometheus.Counter

	// Batched delivery client metrics
	BatchCalls   *prometheus.CounterVec
	BatchLatency prometheus.Histogram

	// Worker delivery metrics
	DeliveryOutcomes     *prometheus.CounterVec
	ContactDeactivations prometheus.Counter

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
	DatabaseLatency    *prometheus.HistogramVec
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		DispatchTasks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_tasks_total",
			Help:      "Total number of dispatch tasks executed",
		}),
		DispatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_failures_total",
			Help:      "Total number of dispatch tasks that logged a failure",
		}),
		DispatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent routing one dispatch task",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		BrokerPublishes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "broker_publishes_total",
			Help:      "Broker publishes by destination queue and status",
		}, []string{"queue", "status"}),
		DroppedSubscriptions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dropped_subscriptions_total",
			Help:      "Contacts skipped during dispatch because the subscription was malformed",
		}),
		BatchCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_calls_total",
			Help:      "Calls to the external batched delivery API by status",
		}, []string{"status"}),
		BatchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "batch_call_duration_seconds",
			Help:      "Duration of external batched delivery calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		DeliveryOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "delivery_outcomes_total",
			Help:      "Classified delivery outcomes by event type and subtype",
		}, []string{"type", "subtype"}),
		ContactDeactivations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "contact_deactivations_total",
			Help:      "Contacts soft-deleted after a permanently invalid subscription",
		}),
		DatabaseOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
	}
}

// New returns an unregistered metrics set. Useful in tests, where the
// default registry must not accumulate duplicate collectors.
func New(namespace string) *Metrics {
	return &Metrics{
		DispatchTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_tasks_total",
			Help:      "Total number of dispatch tasks executed",
		}),
		DispatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_failures_total",
			Help:      "Total number of dispatch tasks that logged a failure",
		}),
		DispatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent routing one dispatch task",
		}),
		BrokerPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publishes_total",
			Help:      "Broker publishes by destination queue and status",
		}, []string{"queue", "status"}),
		DroppedSubscriptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_subscriptions_total",
			Help:      "Contacts skipped during dispatch because the subscription was malformed",
		}),
		BatchCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_calls_total",
			Help:      "Calls to the external batched delivery API by status",
		}, []string{"status"}),
		BatchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_call_duration_seconds",
			Help:      "Duration of external batched delivery calls",
		}),
		DeliveryOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_outcomes_total",
			Help:      "Classified delivery outcomes by event type and subtype",
		}, []string{"type", "subtype"}),
		ContactDeactivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_deactivations_total",
			Help:      "Contacts soft-deleted after a permanently invalid subscription",
		}),
		DatabaseOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
		DatabaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "database_operation_duration_seconds",
			Help:      "Duration of database operations",
		}, []string{"operation"}),
	}
}

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus implements Recorder with Prometheus collectors.
type Prometheus struct {
	paymentsTotal        *prometheus.CounterVec
	healTotal            *prometheus.CounterVec
	accessCommandsTotal  *prometheus.CounterVec
	accessCommandSeconds *prometheus.HistogramVec
	sweepRunsTotal       *prometheus.CounterVec
	sweepExpiredTotal    prometheus.Counter
	sweepFailuresTotal   prometheus.Counter
	sweepDuration        prometheus.Histogram
	notificationsTotal   *prometheus.CounterVec
	queueMessagesTotal   *prometheus.CounterVec
}

// NewPrometheus registers the collectors on reg under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		paymentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "applied_total",
			Help:      "Total number of payments processed by result.",
		}, []string{"result"}),

		healTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payment",
			Name:      "heal_unblock_total",
			Help:      "Total number of post-payment unblock calls by result.",
		}, []string{"result"}),

		accessCommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "commands_total",
			Help:      "Total number of access-control commands by operation and result.",
		}, []string{"op", "result"}),

		accessCommandSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "access",
			Name:      "command_duration_seconds",
			Help:      "Duration of access-control commands in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),

		sweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Total number of expiry sweeps by result.",
		}, []string{"result"}),

		sweepExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "expired_total",
			Help:      "Total number of expired subscribers found by sweeps.",
		}),

		sweepFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "item_failures_total",
			Help:      "Total number of per-subscriber sweep failures.",
		}),

		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "duration_seconds",
			Help:      "Duration of expiry sweeps in seconds.",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}),

		notificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of subscriber notifications by kind and result.",
		}, []string{"kind", "result"}),

		queueMessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "messages_total",
			Help:      "Total number of payment queue messages by result.",
		}, []string{"result"}),
	}
}

func (m *Prometheus) RecordPayment(result string) {
	m.paymentsTotal.WithLabelValues(result).Inc()
}

func (m *Prometheus) RecordHeal(result string) {
	m.healTotal.WithLabelValues(result).Inc()
}

func (m *Prometheus) RecordAccessCommand(op, result string, duration time.Duration) {
	m.accessCommandsTotal.WithLabelValues(op, result).Inc()
	m.accessCommandSeconds.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Prometheus) RecordSweep(result string, expired, failed int, duration time.Duration) {
	m.sweepRunsTotal.WithLabelValues(result).Inc()
	m.sweepExpiredTotal.Add(float64(expired))
	m.sweepFailuresTotal.Add(float64(failed))
	m.sweepDuration.Observe(duration.Seconds())
}

func (m *Prometheus) RecordNotification(kind, result string) {
	m.notificationsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Prometheus) RecordQueueMessage(result string) {
	m.queueMessagesTotal.WithLabelValues(result).Inc()
}

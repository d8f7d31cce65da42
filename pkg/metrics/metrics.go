package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pledgesync"

var (
	registerOnce sync.Once

	allocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "allocation",
			Name:      "requests_total",
			Help:      "Allocation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	lockWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a pledge lock.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"acquired"},
	)
	signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "signals_total",
			Help:      "Inbound signals handled by reconciliation, by outcome.",
		},
		[]string{"outcome"},
	)
	confirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "confirmed_allocations_total",
			Help:      "Allocations moved to HOSTEL_VERIFIED.",
		},
	)
	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "run_duration_seconds",
			Help:      "Reconciliation run duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	classifier = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "requests_total",
			Help:      "Classifier calls by verdict, or failure.",
		},
		[]string{"result"},
	)
	auditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "failures_total",
			Help:      "Audit records that could not be stored.",
		},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "sent_total",
			Help:      "Outbound notifications by kind and success.",
		},
		[]string{"kind", "success"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			allocations,
			lockWait,
			signals,
			confirmed,
			runDuration,
			classifier,
			auditFailures,
			notifications,
		)
	})
}

func RecordAllocation(outcome string) {
	RegisterMetrics()
	allocations.WithLabelValues(outcome).Inc()
}

func RecordLockWait(duration time.Duration, acquired bool) {
	RegisterMetrics()
	lockWait.WithLabelValues(strconv.FormatBool(acquired)).Observe(duration.Seconds())
}

func RecordSignal(outcome string) {
	RegisterMetrics()
	signals.WithLabelValues(outcome).Inc()
}

func RecordConfirmed(count int) {
	RegisterMetrics()
	confirmed.Add(float64(count))
}

func RecordRun(duration time.Duration) {
	RegisterMetrics()
	runDuration.Observe(duration.Seconds())
}

func RecordClassifier(result string) {
	RegisterMetrics()
	classifier.WithLabelValues(result).Inc()
}

func RecordAuditFailure() {
	RegisterMetrics()
	auditFailures.Inc()
}

func RecordNotification(kind string, success bool) {
	RegisterMetrics()
	notifications.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

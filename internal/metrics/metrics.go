package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"status"}, // delivered, failed
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidehook_delivery_duration_seconds",
			Help:    "Latency of delivery attempts by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_retries_total",
			Help: "Total number of retries scheduled by failure reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	ExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidehook_exhausted_total",
			Help: "Total number of deliveries that ran out of attempts.",
		},
		[]string{"reason"},
	)

	SweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidehook_sweeps_total",
			Help: "Total number of reconciliation sweeps run.",
		},
	)

	SweepAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidehook_sweep_attempts_total",
			Help: "Total delivery attempts made by the sweeper.",
		},
	)

	SweepSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tidehook_sweep_skipped_total",
			Help: "Deliveries skipped by the sweeper because their endpoint is inactive.",
		},
	)

	QueueOutstanding = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidehook_queue_outstanding",
			Help: "Async dispatch tasks currently outstanding (dedup window).",
		},
	)
)

// MustRegister registers every engine metric on the given registry.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		DeliveriesTotal,
		DeliveryDuration,
		RetriesTotal,
		ExhaustedTotal,
		SweepsTotal,
		SweepAttemptsTotal,
		SweepSkippedTotal,
		QueueOutstanding,
	)
}

// RecordDelivery records one attempt outcome and its latency.
func RecordDelivery(status string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status).Inc()
	DeliveryDuration.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordRetry records a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordExhausted records a delivery going terminal without success.
func RecordExhausted(reason string) {
	ExhaustedTotal.WithLabelValues(reason).Inc()
}

// RecordSweep records one sweeper run.
func RecordSweep(attempted, skipped int) {
	SweepsTotal.Inc()
	SweepAttemptsTotal.Add(float64(attempted))
	SweepSkippedTotal.Add(float64(skipped))
}

// UpdateQueueOutstanding sets the current async dedup-window size.
func UpdateQueueOutstanding(n float64) {
	QueueOutstanding.Set(n)
}

package fanout

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_batches_total",
			Help: "Push batches sent, by provider and transport result",
		},
		[]string{"provider", "status"}, // status: success|failure
	)

	tokensTargetedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_tokens_targeted_total",
			Help: "Device tokens included in a push batch",
		},
		[]string{"provider"},
	)

	receiptErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_receipt_errors_total",
			Help: "Per-token receipts reporting a failure",
		},
		[]string{"provider"},
	)

	batchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "push_batch_duration_seconds",
			Help:    "Push batch send duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"provider"},
	)

	dispatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_dispatch_outcomes_total",
			Help: "Notification dispatches, by kind and outcome",
		},
		[]string{"kind", "result"}, // result: success|failure|empty|rejected
	)
)

func recordBatch(provider string, tokens, receiptErrors int, failed bool, d time.Duration) {
	status := "success"
	if failed {
		status = "failure"
	}
	batchesTotal.WithLabelValues(provider, status).Inc()
	tokensTargetedTotal.WithLabelValues(provider).Add(float64(tokens))
	if receiptErrors > 0 {
		receiptErrorsTotal.WithLabelValues(provider).Add(float64(receiptErrors))
	}
	batchDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func recordOutcome(kind, result string) {
	dispatchOutcomesTotal.WithLabelValues(kind, result).Inc()
}

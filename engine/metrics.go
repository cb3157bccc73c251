package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verity_submissions_accepted_total",
		Help: "Submissions that passed intake and were recorded.",
	})

	submissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verity_submissions_rejected_total",
		Help: "Submissions rejected, by reason.",
	}, []string{"reason"})

	submissionsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verity_submissions_scored_total",
		Help: "Submissions that completed evaluation.",
	})

	evaluationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verity_pipeline_seconds",
		Help:    "Wall time from validation start to scored.",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verity_pipeline_queue_depth",
		Help: "Submissions waiting for a pipeline worker.",
	})
)

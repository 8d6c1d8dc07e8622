package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	roundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flcoord_round_total",
			Help: "Total number of training rounds by final status",
		},
		[]string{"status"},
	)

	roundDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flcoord_round_duration_seconds",
			Help:    "Round duration from selection to archive",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68m
		},
	)

	participantCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flcoord_participant_calls_total",
			Help: "Participant fit and evaluate calls by outcome",
		},
		[]string{"phase", "outcome"},
	)

	aggregationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flcoord_aggregation_duration_seconds",
			Help:    "Time spent in weighted aggregation",
			Buckets: prometheus.DefBuckets,
		},
	)

	currentRound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flcoord_current_round",
			Help: "Number of the round currently running",
		},
	)
)

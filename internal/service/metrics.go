package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_sessions_total",
			Help: "Fulfillment sessions by terminal state",
		},
		[]string{"state"},
	)

	analysisPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fulfillment_analysis_poll_duration_seconds",
			Help:    "Duration of a single analysis status poll",
			Buckets: prometheus.DefBuckets,
		},
	)

	analysisTrackingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_analysis_tracking_duration_seconds",
			Help:    "Total time from first poll to terminal analysis state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	redirectCancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_redirect_cancellations_total",
			Help: "Armed redirect countdowns cancelled before navigation",
		},
	)

	replayHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_replay_marker_hits_total",
			Help: "Session creations answered from the replay-marker store",
		},
	)
)

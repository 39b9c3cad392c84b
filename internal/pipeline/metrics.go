package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podium_submissions_processed_total",
			Help: "Total number of submissions processed by outcome",
		},
		[]string{"outcome"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "podium_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"}, // stage: classify, ocr, extract, match, validate, score
	)

	overallScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "podium_overall_score",
			Help:    "Distribution of overall submission confidence scores",
			Buckets: []float64{.5, .6, .7, .8, .85, .9, .93, .95, .97, .98, .99, 1},
		},
	)

	reviewQueueInflow = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "podium_review_queue_inflow_total",
			Help: "Submissions routed to human review by reason",
		},
		[]string{"reason"},
	)
)

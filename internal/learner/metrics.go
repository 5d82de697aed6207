package learner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linesTallied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_learner_lines_total",
		Help: "Corpus lines tallied by the vocabulary learner",
	})

	skippedWords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_learner_skipped_words_total",
		Help: "Words skipped for exceeding the maximum word length",
	})

	mergesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_learner_merges_total",
		Help: "Symbol pair merges applied",
	})

	vocabularySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_learner_vocabulary_size",
		Help: "Size of the most recently learned vocabulary",
	})

	learnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_learner_duration_seconds",
		Help:    "Wall time of a full vocabulary build",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

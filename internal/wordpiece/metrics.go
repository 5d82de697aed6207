package wordpiece

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tokenizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_tokenization_duration_seconds",
		Help:    "Time spent tokenizing a batch",
		Buckets: prometheus.DefBuckets,
	})

	detokenizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_detokenization_duration_seconds",
		Help:    "Time spent detokenizing a batch",
		Buckets: prometheus.DefBuckets,
	})

	tokensProduced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_tokens_total",
		Help: "Total number of token ids produced, framing included",
	})

	sequencesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_sequences_total",
		Help: "Total number of sequences processed",
	}, []string{"direction"})

	unknownWords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_unknown_words_total",
		Help: "Words that fell back to the unknown token",
	})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_encode_cache_hits_total",
		Help: "Encode cache hits",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_encode_cache_misses_total",
		Help: "Encode cache misses",
	})
)

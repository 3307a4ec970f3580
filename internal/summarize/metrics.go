package summarize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHitsTotal counts summary cache hits.
	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "summarize",
			Name:      "cache_hits_total",
			Help:      "Total number of summary cache hits",
		},
	)

	// cacheMissesTotal counts summary cache misses.
	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "summarize",
			Name:      "cache_misses_total",
			Help:      "Total number of summary cache misses",
		},
	)

	// cacheEvictionsTotal counts FIFO evictions.
	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "summarize",
			Name:      "cache_evictions_total",
			Help:      "Total number of summary cache evictions",
		},
	)

	// llmCallsTotal counts completion calls by result.
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "summarize",
			Name:      "llm_calls_total",
			Help:      "Total number of LLM completion calls",
		},
		[]string{"result"},
	)

	// fallbacksTotal counts truncation fallbacks after LLM failure.
	fallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "summarize",
			Name:      "fallbacks_total",
			Help:      "Total number of truncation fallbacks",
		},
	)

	// batchFlushesTotal counts pending-batch flushes.
	batchFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "summarize",
			Name:      "batch_flushes_total",
			Help:      "Total number of batch flushes",
		},
	)
)

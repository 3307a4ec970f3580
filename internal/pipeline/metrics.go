package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// toolResultsTotal counts tool-result events by outcome.
	toolResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "pipeline",
			Name:      "tool_results_total",
			Help:      "Total number of tool-result events by outcome",
		},
		[]string{"outcome"},
	)

	// injectionsTotal counts context-construction events by outcome.
	injectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "pipeline",
			Name:      "injections_total",
			Help:      "Total number of context-construction events by outcome",
		},
		[]string{"outcome"},
	)

	// compactionsTotal counts compaction notifications.
	compactionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "pipeline",
			Name:      "compactions_total",
			Help:      "Total number of compaction notifications",
		},
	)
)

package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// entriesStoredTotal counts entries written to the store.
	entriesStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "store",
			Name:      "entries_stored_total",
			Help:      "Total number of tool result entries stored",
		},
	)

	// entriesCleanedTotal counts entries removed by TTL cleanup.
	entriesCleanedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "store",
			Name:      "entries_cleaned_total",
			Help:      "Total number of entries removed by TTL cleanup",
		},
	)

	// searchesTotal counts vector searches.
	searchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "store",
			Name:      "searches_total",
			Help:      "Total number of vector searches",
		},
	)

	// entryCountGauge tracks the current entry count.
	entryCountGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "recalld",
			Subsystem: "store",
			Name:      "entry_count",
			Help:      "Current number of stored entries",
		},
	)
)

package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DocumentsIndexed counts documents accepted by the search engine.
	DocumentsIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_documents_indexed_total",
			Help: "Total number of product documents written to the search index",
		},
		[]string{"mode"},
	)

	// DocumentsFailed counts documents that could not be mapped or were
	// rejected by the search engine.
	DocumentsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_documents_failed_total",
			Help: "Total number of product documents skipped because mapping or indexing failed",
		},
		[]string{"mode", "stage"},
	)

	// IndexRunDuration observes the duration of full index passes.
	IndexRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_index_run_duration_seconds",
			Help:    "Duration of rebuild and update passes in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	// CacheLookups counts search cache lookups by result.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_lookups_total",
			Help: "Total number of search cache lookups",
		},
		[]string{"result"},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetch metrics
	FeedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsharvester_feed_fetch_duration_seconds",
			Help:    "Duration of feed fetch and parse per feed",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feed", "result"},
	)

	FeedFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsharvester_feed_fetch_failures_total",
			Help: "Feed fetch failures by kind",
		},
		[]string{"kind"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsharvester_circuit_breaker_state",
			Help: "Per-host breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"host"},
	)

	// Ingestion metrics
	ArticlesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsharvester_articles_total",
			Help: "Items handled by the ingestion pipeline by outcome",
		},
		[]string{"outcome"}, // "stored", "duplicate", "link_missing", "store_failed"
	)

	IngestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsharvester_ingest_run_duration_seconds",
			Help:    "Wall time of a full ingestion run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	// Archival metrics
	ArchivedArticles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsharvester_archived_articles_total",
			Help: "Articles moved from hot to cold storage",
		},
	)

	ArchivalPartitionErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsharvester_archival_partition_errors_total",
			Help: "Partitions left in hot storage after a failed migration",
		},
	)

	StorageRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsharvester_storage_retries_total",
			Help: "Transient storage errors that were retried",
		},
		[]string{"store", "op"},
	)
)

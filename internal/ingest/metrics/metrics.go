package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks scheduled runs by outcome (success, malformed, failed)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_runs_total",
			Help: "Total number of scheduled feed sync runs",
		},
		[]string{"outcome"},
	)

	// AttemptsTotal tracks pipeline attempts, retries included
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_attempts_total",
			Help: "Total number of pipeline attempts",
		},
		[]string{"result", "stage"},
	)

	// AttemptDuration tracks the wall time of one pipeline attempt
	AttemptDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedsync_attempt_duration_seconds",
			Help:    "Duration of one pipeline attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FeedFetchBytes tracks the size of fetched feed documents
	FeedFetchBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedsync_feed_fetch_bytes",
			Help:    "Size of fetched feed documents in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	// FeedFetchErrors tracks failed fetches by reason
	FeedFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_feed_fetch_errors_total",
			Help: "Total number of failed feed fetches",
		},
		[]string{"reason"},
	)

	// EventsParsed tracks occurrences emitted by the parser
	EventsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedsync_events_parsed_total",
			Help: "Total number of normalized events produced by the parser",
		},
	)

	// RecordsSkipped tracks feed records dropped or defaulted by the parser
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_records_skipped_total",
			Help: "Total number of feed records skipped or defaulted",
		},
		[]string{"reason"},
	)

	// EventsUpserted tracks rows written by committed reconcile calls
	EventsUpserted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedsync_events_upserted_total",
			Help: "Total number of events upserted",
		},
	)

	// DBBatchSize tracks the size of batch writes
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedsync_db_batch_size",
			Help:    "Number of rows per batch write",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"operation"},
	)

	// PersistenceErrors tracks store write errors by SQLSTATE class
	PersistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedsync_persistence_errors_total",
			Help: "Total number of store write errors",
		},
		[]string{"class"},
	)

	// LastSuccessTimestamp is the unix time of the last successful run
	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedsync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful run",
		},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedsync_db_connection_pool_usage_percent",
			Help: "Percentage of max open connections currently open",
		},
	)
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codegraph_parsing_seconds",
		Help:    "Time spent parsing a source file into facts.",
		Buckets: prometheus.DefBuckets,
	}, []string{"language"})

	ParseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_parse_errors_total",
		Help: "Total number of files that failed to parse.",
	}, []string{"language"})

	IndexRevision = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codegraph_index_revision",
		Help: "Current global revision of the fact store.",
	})

	IndexSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codegraph_index_symbols",
		Help: "Live symbols in the fact store.",
	})

	IndexRelationships = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codegraph_index_relationships",
		Help: "Live relationships in the fact store.",
	})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codegraph_commit_seconds",
		Help:    "Latency of committing one file delta.",
		Buckets: prometheus.DefBuckets,
	})

	CommitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_commits_total",
		Help: "File deltas processed by outcome (committed, unchanged, parse_error, corruption, deleted).",
	}, []string{"outcome"})

	RetainedSnapshots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codegraph_retained_snapshots",
		Help: "Snapshots currently held by readers.",
	})

	GCCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_gc_collected_total",
		Help: "Superseded records removed by garbage collection.",
	})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codegraph_query_seconds",
		Help:    "Time spent answering a structural query.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	QueryTruncatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codegraph_query_truncated_total",
		Help: "Queries that hit their node or time budget.",
	}, []string{"kind"})

	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_cache_hits_total",
		Help: "Result cache hits.",
	})

	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_cache_misses_total",
		Help: "Result cache misses.",
	})

	CacheInvalidationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_cache_invalidations_total",
		Help: "Cache entries evicted because a dependency advanced.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codegraph_event_queue_depth",
		Help: "Change events waiting for the index worker.",
	})

	EventQueueDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_event_queue_dropped_total",
		Help: "Change events dropped because the queue was full.",
	})

	RescansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codegraph_rescans_total",
		Help: "Directory rescans triggered by change-stream overflow.",
	})
)

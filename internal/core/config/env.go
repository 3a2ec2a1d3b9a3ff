package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides applies environment variable overrides to the
// configuration. Pattern: CODEGRAPH_[SECTION]_[KEY], e.g.
// CODEGRAPH_QUERY_TIMEOUT=2s. Unparseable values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	setEnvString(&cfg.Project.Root, "CODEGRAPH_PROJECT_ROOT")

	setEnvInt(&cfg.Indexing.BatchSize, "CODEGRAPH_INDEXING_BATCH_SIZE")
	setEnvInt(&cfg.Indexing.QueueCapacity, "CODEGRAPH_INDEXING_QUEUE_CAPACITY")
	setEnvDuration(&cfg.Indexing.Debounce, "CODEGRAPH_INDEXING_DEBOUNCE")

	setEnvDuration(&cfg.Query.Timeout, "CODEGRAPH_QUERY_TIMEOUT")
	setEnvInt(&cfg.Query.MaxDepth, "CODEGRAPH_QUERY_MAX_DEPTH")
	setEnvInt(&cfg.Query.MaxNodes, "CODEGRAPH_QUERY_MAX_NODES")
	setEnvInt(&cfg.Query.CacheSize, "CODEGRAPH_QUERY_CACHE_SIZE")
	setEnvFloat64(&cfg.Query.MaxQPS, "CODEGRAPH_QUERY_MAX_QPS")

	setEnvInt(&cfg.Performance.Threads, "CODEGRAPH_PERFORMANCE_THREADS")

	setEnvString(&cfg.Storage.Path, "CODEGRAPH_STORAGE_PATH")
	setEnvDuration(&cfg.Storage.GCInterval, "CODEGRAPH_STORAGE_GC_INTERVAL")

	setEnvString(&cfg.Logging.Level, "CODEGRAPH_LOGGING_LEVEL")
	setEnvString(&cfg.Logging.Format, "CODEGRAPH_LOGGING_FORMAT")

	setEnvBool(&cfg.Metrics.Enabled, "CODEGRAPH_METRICS_ENABLED")
	setEnvString(&cfg.Metrics.Address, "CODEGRAPH_METRICS_ADDRESS")

	setEnvBool(&cfg.Tracing.Enabled, "CODEGRAPH_TRACING_ENABLED")
	setEnvString(&cfg.Tracing.Endpoint, "CODEGRAPH_TRACING_ENDPOINT")
	setEnvFloat64(&cfg.Tracing.SampleRatio, "CODEGRAPH_TRACING_SAMPLE_RATIO")

	normalize(cfg)
}

func setEnvString(target *string, key string) {
	if val, ok := os.LookupEnv(key); ok {
		slog.Debug("applying env override", "key", key, "value", val)
		*target = val
	}
}

func setEnvInt(target *int, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = i
		}
	}
}

func setEnvBool(target *bool, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.ToLower(val)); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = b
		}
	}
}

func setEnvFloat64(target *float64, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = f
		}
	}
}

func setEnvDuration(target *time.Duration, key string) {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			slog.Debug("applying env override", "key", key, "value", val)
			*target = d
		}
	}
}

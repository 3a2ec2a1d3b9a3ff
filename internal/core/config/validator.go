package config

import (
	"codegraph/internal/shared/observability"
	"fmt"
	"slices"
	"strings"
)

// Validate checks cfg for values the service cannot run with.
func Validate(cfg *Config) error {
	for _, check := range []func(*Config) error{
		validateProject,
		validateLanguages,
		validateIndexing,
		validateQuery,
		validatePerformance,
		validateStorage,
		validateLogging,
		validateTelemetry,
	} {
		if err := check(cfg); err != nil {
			return err
		}
	}
	return nil
}

func validateProject(cfg *Config) error {
	if cfg.Project.Name == "" {
		return fmt.Errorf("project.name must not be empty")
	}
	return nil
}

func validateLanguages(cfg *Config) error {
	if len(cfg.Languages.Enabled) == 0 {
		return fmt.Errorf("languages.enabled must list at least one language")
	}
	for _, lang := range cfg.Languages.Enabled {
		if !slices.Contains(SupportedLanguages, lang) {
			return fmt.Errorf("unsupported language %q; supported: %s", lang, strings.Join(SupportedLanguages, ", "))
		}
	}
	return nil
}

func validateIndexing(cfg *Config) error {
	if cfg.Indexing.BatchSize <= 0 {
		return fmt.Errorf("indexing.batch_size must be greater than 0")
	}
	if cfg.Indexing.QueueCapacity <= 0 {
		return fmt.Errorf("indexing.queue_capacity must be greater than 0")
	}
	if cfg.Indexing.Debounce < 0 {
		return fmt.Errorf("indexing.debounce must not be negative")
	}
	for _, group := range []struct {
		name     string
		patterns []string
	}{{"include", cfg.Indexing.Include}, {"exclude", cfg.Indexing.Exclude}} {
		for i, p := range group.patterns {
			if _, err := compilePattern(p); err != nil {
				return fmt.Errorf("indexing.%s[%d]: %w", group.name, i, err)
			}
		}
	}
	return nil
}

func validateQuery(cfg *Config) error {
	q := cfg.Query
	if q.Timeout <= 0 {
		return fmt.Errorf("query.timeout must be greater than 0")
	}
	if q.MaxDepth <= 0 {
		return fmt.Errorf("query.max_depth must be greater than 0")
	}
	if q.MaxNodes <= 0 {
		return fmt.Errorf("query.max_nodes must be greater than 0")
	}
	if q.CacheSize <= 0 {
		return fmt.Errorf("query.cache_size must be greater than 0")
	}
	if q.MaxQPS < 0 {
		return fmt.Errorf("query.max_qps must not be negative")
	}
	return nil
}

func validatePerformance(cfg *Config) error {
	if cfg.Performance.Threads <= 0 {
		return fmt.Errorf("performance.threads must be greater than 0")
	}
	return nil
}

func validateStorage(cfg *Config) error {
	if cfg.Storage.GCInterval <= 0 {
		return fmt.Errorf("storage.gc_interval must be greater than 0")
	}
	return nil
}

func validateLogging(cfg *Config) error {
	if _, err := observability.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch cfg.Logging.Format {
	case "compact", "pretty", "json":
	default:
		return fmt.Errorf("logging.format must be one of: compact, pretty, json")
	}
	return nil
}

func validateTelemetry(cfg *Config) error {
	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Address) == "" {
		return fmt.Errorf("metrics.address must not be empty when metrics are enabled")
	}
	if r := cfg.Tracing.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", r)
	}
	return nil
}

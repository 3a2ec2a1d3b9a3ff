package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the per-project configuration file.
const FileName = ".codegraph.toml"

type Config struct {
	Project     Project     `toml:"project"`
	Languages   Languages   `toml:"languages"`
	Indexing    Indexing    `toml:"indexing"`
	Query       Query       `toml:"query"`
	Performance Performance `toml:"performance"`
	Storage     Storage     `toml:"storage"`
	Logging     Logging     `toml:"logging"`
	Metrics     Metrics     `toml:"metrics"`
	Tracing     Tracing     `toml:"tracing"`

	// Source is the file the config was read from; empty for defaults.
	Source string `toml:"-"`
}

type Project struct {
	Name string `toml:"name"`
	Root string `toml:"root"`
}

type Languages struct {
	Enabled []string `toml:"enabled"`
}

type Indexing struct {
	Include       []string      `toml:"include"`
	Exclude       []string      `toml:"exclude"`
	Watch         bool          `toml:"watch"`
	BatchSize     int           `toml:"batch_size"`
	QueueCapacity int           `toml:"queue_capacity"`
	Debounce      time.Duration `toml:"debounce"`
}

type Query struct {
	Timeout   time.Duration `toml:"timeout"`
	MaxDepth  int           `toml:"max_depth"`
	MaxNodes  int           `toml:"max_nodes"`
	CacheSize int           `toml:"cache_size"`
	// MaxQPS caps query throughput; 0 disables the limit.
	MaxQPS float64 `toml:"max_qps"`
}

type Performance struct {
	Threads        int  `toml:"threads"`
	ProfileQueries bool `toml:"profile_queries"`
}

type Storage struct {
	// Path of the SQLite fact database, relative to the project root.
	// "-" keeps the index in memory only.
	Path       string        `toml:"path"`
	GCInterval time.Duration `toml:"gc_interval"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

type Tracing struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	ServiceName string  `toml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// DefaultExcludes are skipped unless the config replaces the list.
var DefaultExcludes = []string{
	"target/",
	"node_modules/",
	"*.test.*",
	"**/__tests__/**",
	".git/",
	".codegraph.db",
}

// SupportedLanguages lists the language names the parser understands.
var SupportedLanguages = []string{"go", "python", "java", "rust", "javascript", "typescript"}

func Default() *Config {
	return &Config{
		Project:   Project{Name: "unnamed-project", Root: "."},
		Languages: Languages{Enabled: append([]string(nil), SupportedLanguages...)},
		Indexing: Indexing{
			Exclude:       append([]string(nil), DefaultExcludes...),
			BatchSize:     100,
			QueueCapacity: 1024,
			Debounce:      500 * time.Millisecond,
		},
		Query: Query{
			Timeout:   5 * time.Second,
			MaxDepth:  10,
			MaxNodes:  10000,
			CacheSize: 1000,
		},
		Performance: Performance{Threads: 4},
		Storage:     Storage{Path: ".codegraph.db", GCInterval: 30 * time.Second},
		Logging:     Logging{Level: "info", Format: "pretty"},
		Metrics:     Metrics{Address: "127.0.0.1:9464"},
		Tracing:     Tracing{ServiceName: "codegraph", SampleRatio: 1},
	}
}

// Load decodes path over the defaults, then normalizes and validates.
// Keys absent from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.Source = path

	applyDefaults(cfg)
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to the defaults when the
// file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		normalize(cfg)
		return cfg, nil
	}
	return cfg, err
}

// OverrideLanguages replaces the enabled languages for one run and
// re-validates the result.
func (c *Config) OverrideLanguages(langs []string) error {
	c.Languages.Enabled = append([]string(nil), langs...)
	normalize(c)
	return Validate(c)
}

// applyDefaults refills string settings left empty. Numeric zeros are kept
// so validation can reject them.
func applyDefaults(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.Project.Root) == "" {
		cfg.Project.Root = def.Project.Root
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = def.Storage.Path
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if strings.TrimSpace(cfg.Logging.Format) == "" {
		cfg.Logging.Format = def.Logging.Format
	}
	if strings.TrimSpace(cfg.Metrics.Address) == "" {
		cfg.Metrics.Address = def.Metrics.Address
	}
	if strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
		cfg.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

func normalize(cfg *Config) {
	cfg.Project.Name = strings.TrimSpace(cfg.Project.Name)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))

	seen := make(map[string]bool, len(cfg.Languages.Enabled))
	langs := cfg.Languages.Enabled[:0]
	for _, lang := range cfg.Languages.Enabled {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}
	cfg.Languages.Enabled = langs

	cfg.Indexing.Include = trimPatterns(cfg.Indexing.Include)
	cfg.Indexing.Exclude = trimPatterns(cfg.Indexing.Exclude)
}

func trimPatterns(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "unnamed-project", cfg.Project.Name)
	assert.Equal(t, 5*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 10, cfg.Query.MaxDepth)
	assert.Equal(t, 1000, cfg.Query.CacheSize)
	assert.Equal(t, 100, cfg.Indexing.BatchSize)
	assert.Equal(t, 4, cfg.Performance.Threads)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "pretty", cfg.Logging.Format)
	assert.Contains(t, cfg.Indexing.Exclude, "target/")
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[project]
name = "demo"
root = "src"

[languages]
enabled = ["Go", "python", "go"]

[indexing]
exclude = ["vendor/"]
debounce = "250ms"

[query]
timeout = "2s"
max_qps = 50.0

[logging]
level = "DEBUG"
format = "json"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, []string{"go", "python"}, cfg.Languages.Enabled)
	assert.Equal(t, []string{"vendor/"}, cfg.Indexing.Exclude)
	assert.Equal(t, 250*time.Millisecond, cfg.Indexing.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 50.0, cfg.Query.MaxQPS)
	assert.Equal(t, 10, cfg.Query.MaxDepth, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, path, cfg.Source)

	paths, err := ResolvePaths(cfg, "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "src"), paths.ProjectRoot)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "src", ".codegraph.db"), paths.StoragePath)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"zero batch":     "[indexing]\nbatch_size = 0\n",
		"zero cache":     "[query]\ncache_size = 0\n",
		"zero depth":     "[query]\nmax_depth = 0\n",
		"zero threads":   "[performance]\nthreads = 0\n",
		"language":       "[languages]\nenabled = [\"cobol\"]\n",
		"intent":         "[languages]\nenabled = [\"intent\"]\n",
		"level":          "[logging]\nlevel = \"loud\"\n",
		"format":         "[logging]\nformat = \"xml\"\n",
		"empty name":     "[project]\nname = \" \"\n",
		"bad glob":       "[indexing]\nexclude = [\"[abc\"]\n",
		"sample ratio":   "[tracing]\nsample_ratio = 2.0\n",
		"negative qps":   "[query]\nmax_qps = -1.0\n",
		"malformed toml": "[query\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Equal(t, "unnamed-project", cfg.Project.Name)
	assert.Empty(t, cfg.Source)

	_, err = LoadOrDefault(writeConfig(t, "[logging]\nlevel = \"loud\"\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CODEGRAPH_QUERY_TIMEOUT", "750ms")
	t.Setenv("CODEGRAPH_PERFORMANCE_THREADS", "not-a-number")
	t.Setenv("CODEGRAPH_METRICS_ENABLED", "TRUE")
	t.Setenv("CODEGRAPH_LOGGING_LEVEL", " Warn ")

	cfg := Default()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 750*time.Millisecond, cfg.Query.Timeout)
	assert.Equal(t, 4, cfg.Performance.Threads)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestInMemoryStorage(t *testing.T) {
	cfg := Default()
	cfg.Storage.Path = "-"
	paths, err := ResolvePaths(cfg, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, paths.StoragePath)
}

func TestFindConfig(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Equal(t, filepath.Join(nested, FileName), FindConfig(nested), "no config up to the repository root")

	want := filepath.Join(root, FileName)
	require.NoError(t, os.WriteFile(want, []byte("[project]\nname = \"x\"\n"), 0o644))
	assert.Equal(t, want, FindConfig(nested))
	assert.True(t, strings.HasSuffix(FindConfig(root), FileName))
}

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	infoConfig  = "[logging]\nlevel = \"info\"\n"
	debugConfig = "[logging]\nlevel = \"debug\"\n"
	badConfig   = "[logging]\nlevel = \"loud\"\n"
)

func TestWatcherReload_SkipsInvalidAndUnchanged(t *testing.T) {
	path := writeConfig(t, infoConfig)
	var got []*Config
	w := NewWatcher(path, func(cfg *Config) { got = append(got, cfg) })

	assert.False(t, w.reload(), "content matches what was loaded at start")

	require.NoError(t, os.WriteFile(path, []byte(badConfig), 0o644))
	assert.False(t, w.reload())
	assert.Empty(t, got)
	assert.Nil(t, w.Current())

	require.NoError(t, os.WriteFile(path, []byte(debugConfig), 0o644))
	assert.True(t, w.reload())
	require.Len(t, got, 1)
	assert.Equal(t, "debug", got[0].Logging.Level)
	assert.Same(t, got[0], w.Current())

	assert.False(t, w.reload(), "a second save of the same bytes is ignored")
	assert.Len(t, got, 1)
}

func TestWatcher_ReloadsOnDiskEdits(t *testing.T) {
	path := writeConfig(t, infoConfig)
	reloaded := make(chan *Config, 4)
	w := NewWatcher(path, func(cfg *Config) { reloaded <- cfg })
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(badConfig), 0o644))
	select {
	case cfg := <-reloaded:
		t.Fatalf("invalid edit was applied: %+v", cfg.Logging)
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(path, []byte(debugConfig), 0o644))
	select {
	case cfg := <-reloaded:
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, path, cfg.Source)
	case <-time.After(5 * time.Second):
		t.Fatal("valid edit was not reloaded")
	}

	w.Stop()
	w.Stop()
}

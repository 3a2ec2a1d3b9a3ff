package cache

import (
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/query"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu   sync.Mutex
	revs map[string]facts.Revision
}

func newFakeSource() *fakeSource {
	return &fakeSource{revs: make(map[string]facts.Revision)}
}

func (f *fakeSource) DependencyRevision(key string) facts.Revision {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revs[key]
}

func (f *fakeSource) bump(key string, rev facts.Revision) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revs[key] = rev
}

func result(deps map[string]facts.Revision) *query.LookupResult {
	return &query.LookupResult{Meta: query.Meta{Dependencies: deps}}
}

func TestDoCachesUntilDependencyAdvances(t *testing.T) {
	src := newFakeSource()
	src.bump(facts.FileKey("a.go"), 1)
	c := New(src, 10)

	calls := 0
	compute := func() (query.Result, error) {
		calls++
		return result(map[string]facts.Revision{
			facts.FileKey("a.go"):  src.DependencyRevision(facts.FileKey("a.go")),
			facts.NameKey("hello"): 0,
		}), nil
	}

	_, hit, err := c.Do("k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	_, hit, err = c.Do("k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)

	src.bump(facts.NameKey("hello"), 2)
	_, hit, err = c.Do("k", compute)
	require.NoError(t, err)
	assert.False(t, hit, "advanced name key must force recomputation")
	assert.Equal(t, 2, calls)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(1), stats.Invalidations)
	assert.InDelta(t, 1.0/3.0, stats.HitRatio, 1e-9)
	assert.Equal(t, 1, stats.Entries)
}

func TestFilesAdvancedEvictsEagerly(t *testing.T) {
	src := newFakeSource()
	src.bump(facts.FileKey("a.go"), 1)
	c := New(src, 10)
	_, _, err := c.Do("k", func() (query.Result, error) {
		return result(map[string]facts.Revision{facts.FileKey("a.go"): 1}), nil
	})
	require.NoError(t, err)

	c.FilesAdvanced([]facts.FileRevision{{Path: "a.go", Revision: 1}})
	assert.Equal(t, 1, c.Stats().Entries, "same revision keeps the entry")

	c.FilesAdvanced([]facts.FileRevision{{Path: "b.go", Revision: 2}})
	assert.Equal(t, 1, c.Stats().Entries)

	c.FilesAdvanced([]facts.FileRevision{{Path: "a.go", Revision: 2}})
	assert.Equal(t, 0, c.Stats().Entries)
	assert.Equal(t, uint64(1), c.Stats().Invalidations)
}

func TestPartialResultsAreNotCached(t *testing.T) {
	c := New(newFakeSource(), 10)
	for _, meta := range []query.Meta{{Truncated: true}, {Truncated: true, TimedOut: true}} {
		res := &query.ImpactResult{Meta: meta}
		_, _, err := c.Do("impact", func() (query.Result, error) { return res, nil })
		require.NoError(t, err)
		_, ok := c.Get("impact")
		assert.False(t, ok)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c := New(newFakeSource(), 10)
	boom := stderrors.New("boom")
	_, _, err := c.Do("k", func() (query.Result, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestConcurrentMissesAreCoalesced(t *testing.T) {
	c := New(newFakeSource(), 10)
	var calls atomic.Int32
	release := make(chan struct{})
	compute := func() (query.Result, error) {
		calls.Add(1)
		<-release
		return result(nil), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Do("k", compute)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestCapacityEvictionUnindexes(t *testing.T) {
	src := newFakeSource()
	c := New(src, 1)
	for _, key := range []string{"a", "b"} {
		_, _, err := c.Do(key, func() (query.Result, error) {
			return result(map[string]facts.Revision{facts.FileKey(key + ".go"): 0}), nil
		})
		require.NoError(t, err)
	}
	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)
	c.mu.Lock()
	_, indexed := c.byDep[facts.FileKey("a.go")]
	c.mu.Unlock()
	assert.False(t, indexed)
}

func TestKey(t *testing.T) {
	assert.NotEqual(t, Key("callers", "f", "a.go"), Key("callers", "f.a", "go"))
	assert.NotEqual(t, Key("callers", "f"), Key("callees", "f"))
}

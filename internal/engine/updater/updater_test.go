package updater

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/core/ports"
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/parser"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloSrc = `package demo

func hello() string {
	return "hi"
}

func main() {
	hello()
}
`

var (
	helloID = facts.NewSymbolID("a.go", "hello", facts.KindFunction, 0)
	mainID  = facts.NewSymbolID("a.go", "main", facts.KindFunction, 0)
)

func newTestUpdater(t *testing.T, store *facts.Store, opts Options) *Updater {
	t.Helper()
	p, err := parser.New([]string{"go", "python"})
	require.NoError(t, err)
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	return New(store, p, opts)
}

func apply(t *testing.T, u *Updater, path, content string) Result {
	t.Helper()
	res, err := u.Apply(context.Background(), ports.ChangeEvent{Path: path, Content: []byte(content)})
	require.NoError(t, err)
	return res
}

func callers(store *facts.Store, id facts.SymbolID) []facts.SymbolID {
	var out []facts.SymbolID
	for _, rel := range store.RelationshipsTo(id, []facts.RelationKind{facts.RelCalls}, nil) {
		out = append(out, rel.Source)
	}
	return out
}

type recordingListener struct {
	mu    sync.Mutex
	files []facts.FileRevision
}

func (l *recordingListener) FilesAdvanced(files []facts.FileRevision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files = append(l.files, files...)
}

func TestApplyCommitsThenShortCircuits(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})
	listener := &recordingListener{}
	u.AddListener(listener)

	res := apply(t, u, "a.go", helloSrc)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, facts.Revision(1), res.Revision)
	assert.Equal(t, []facts.FileRevision{{Path: "a.go", Revision: 1}}, listener.files)
	assert.Equal(t, StateWatched, u.State("a.go"))

	assert.Equal(t, []facts.SymbolID{mainID}, callers(store, helloID))
	hello, ok := store.Symbol(helloID, nil)
	require.True(t, ok)
	assert.Equal(t, 3, hello.Span.StartLine)

	res = apply(t, u, "a.go", helloSrc)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, facts.Revision(1), store.CurrentRevision())
	assert.Len(t, listener.files, 1)
}

func TestReformatIsZeroChurn(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})
	apply(t, u, "a.go", helloSrc)
	before := store.Stats(nil)

	moved := strings.Replace(helloSrc, "package demo\n", "package demo\n\n\n// moved down\n", 1)
	res := apply(t, u, "a.go", moved)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.Equal(t, facts.Revision(2), res.Revision)

	hello, ok := store.Symbol(helloID, nil)
	require.True(t, ok)
	assert.Equal(t, facts.Revision(1), hello.Created, "no new symbol version")
	assert.Equal(t, 6, hello.Span.StartLine)

	rels := store.RelationshipsTo(helloID, nil, nil)
	require.Len(t, rels, 1)
	assert.Equal(t, facts.Revision(1), rels[0].Created)
	assert.Equal(t, 11, rels[0].Location.Line)
	assert.Equal(t, before.Symbols, store.Stats(nil).Symbols)
}

func TestSignatureChangeSupersedesRecord(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})
	apply(t, u, "a.go", helloSrc)

	changed := strings.Replace(helloSrc, "func hello() string", "func hello(name string) string", 1)
	changed = strings.Replace(changed, "hello()\n}", "hello(\"x\")\n}", 1)
	apply(t, u, "a.go", changed)

	hello, ok := store.Symbol(helloID, nil)
	require.True(t, ok)
	assert.Equal(t, facts.Revision(2), hello.Created)
	assert.Equal(t, "func hello(name string) string", hello.Signature)
	assert.Equal(t, []facts.SymbolID{mainID}, callers(store, helloID))
}

func TestParseErrorKeepsLastGoodRevision(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})
	apply(t, u, "a.go", helloSrc)

	broken := "package demo\n\nfunc broken( {\n"
	res, err := u.Apply(context.Background(), ports.ChangeEvent{Path: "a.go", Content: []byte(broken)})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeParseError))
	assert.Equal(t, OutcomeParseError, res.Outcome)

	rec, ok := store.File("a.go", nil)
	require.True(t, ok)
	assert.True(t, rec.Stale)
	assert.NotEmpty(t, rec.StaleReason)
	_, ok = store.Symbol(helloID, nil)
	assert.True(t, ok, "last good facts stay")
	assert.Equal(t, []facts.SymbolID{mainID}, callers(store, helloID))

	rev := store.CurrentRevision()
	res, err = u.Apply(context.Background(), ports.ChangeEvent{Path: "a.go", Content: []byte(broken)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
	assert.Equal(t, rev, store.CurrentRevision())

	apply(t, u, "a.go", helloSrc)
	rec, _ = store.File("a.go", nil)
	assert.False(t, rec.Stale)
}

func TestPlaceholdersRebindAndDemote(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})

	apply(t, u, "b.go", "package demo\n\nfunc g() {\n\tf()\n}\n")
	require.Len(t, store.Placeholders("f", nil), 1)

	res := apply(t, u, "a.go", "package demo\n\nfunc f() {}\n")
	assert.ElementsMatch(t, []facts.FileRevision{{Path: "a.go", Revision: 2}, {Path: "b.go", Revision: 2}}, res.Files)
	assert.Empty(t, store.Placeholders("f", nil))
	fID := facts.NewSymbolID("a.go", "f", facts.KindFunction, 0)
	assert.Equal(t, []facts.SymbolID{facts.NewSymbolID("b.go", "g", facts.KindFunction, 0)}, callers(store, fID))

	res = apply(t, u, "a.go", "package demo\n\nfunc f2() {}\n")
	assert.ElementsMatch(t, []facts.FileRevision{{Path: "a.go", Revision: 3}, {Path: "b.go", Revision: 3}}, res.Files)
	assert.Len(t, store.Placeholders("f", nil), 1)
	_, ok := store.Symbol(fID, nil)
	assert.False(t, ok)
}

func TestSameFileCandidateWins(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})

	apply(t, u, "a.go", "package demo\n\nfunc f() {}\n")
	apply(t, u, "b.go", "package demo\n\nfunc f() {}\n\nfunc g() {\n\tf()\n}\n")

	bf := facts.NewSymbolID("b.go", "f", facts.KindFunction, 0)
	assert.Len(t, callers(store, bf), 1)
	assert.Empty(t, callers(store, facts.NewSymbolID("a.go", "f", facts.KindFunction, 0)))
}

func TestBindingIsIndependentOfCommitOrder(t *testing.T) {
	files := map[string]string{
		"a.go": "package demo\n\nfunc f() {}\n",
		"b.go": "package demo\n\nfunc g() {\n\tf()\n}\n",
		"c.go": "package demo\n\nfunc f() {}\n",
	}
	af := facts.NewSymbolID("a.go", "f", facts.KindFunction, 0)
	cf := facts.NewSymbolID("c.go", "f", facts.KindFunction, 0)
	g := facts.NewSymbolID("b.go", "g", facts.KindFunction, 0)

	orders := [][]string{
		{"a.go", "b.go", "c.go"},
		{"c.go", "b.go", "a.go"},
		{"b.go", "c.go", "a.go"},
		{"b.go", "a.go", "c.go"},
		{"c.go", "a.go", "b.go"},
	}
	for _, order := range orders {
		store := facts.NewStore()
		u := newTestUpdater(t, store, Options{})
		for _, path := range order {
			apply(t, u, path, files[path])
		}
		assert.Equal(t, []facts.SymbolID{g}, callers(store, af), "order %v", order)
		assert.Empty(t, callers(store, cf), "order %v", order)
		assert.Empty(t, store.Placeholders("f", nil), "order %v", order)
	}
}

func TestDeleteRetiresEverything(t *testing.T) {
	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{})
	apply(t, u, "a.go", helloSrc)
	apply(t, u, "b.go", "package demo\n\nfunc g() {\n\thello()\n}\n")
	require.Len(t, callers(store, helloID), 2)

	res, err := u.Apply(context.Background(), ports.ChangeEvent{Path: "a.go", Deleted: true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeleted, res.Outcome)
	assert.ElementsMatch(t, []facts.FileRevision{{Path: "a.go", Revision: 3}, {Path: "b.go", Revision: 3}}, res.Files)

	assert.Empty(t, store.SymbolsInFile("a.go", nil))
	assert.Empty(t, store.RelationshipsInFile("a.go", nil))
	rec, ok := store.File("a.go", nil)
	require.True(t, ok)
	assert.True(t, rec.Deleted)
	assert.Len(t, store.Placeholders("hello", nil), 1, "b.go's call is demoted")

	// Deleting again is a no-op.
	res, err = u.Delete(context.Background(), "a.go")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, res.Outcome)
}

type prefixFilter struct{ skip string }

func (f prefixFilter) IncludeFile(rel string) bool { return !strings.HasSuffix(rel, "_skip.go") }
func (f prefixFilter) SkipDir(rel string) bool     { return rel == f.skip }

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestIndexTreeAndRescan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", helloSrc)
	writeFile(t, root, "pkg/b.go", "package pkg\n\nfunc B() {\n\thello()\n}\n")
	writeFile(t, root, "pkg/c_skip.go", "package pkg\n")
	writeFile(t, root, "tools/t.py", "def tool():\n    return 1\n")
	writeFile(t, root, "vendor/v.go", "package v\n")
	writeFile(t, root, "README.md", "# readme\n")

	store := facts.NewStore()
	u := newTestUpdater(t, store, Options{Root: root, Filter: prefixFilter{skip: "vendor"}, Threads: 4})

	report, err := u.IndexTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Files)
	assert.Equal(t, 3, report.Committed)
	assert.Equal(t, facts.Revision(3), report.Revision)
	assert.ElementsMatch(t, []facts.SymbolID{mainID, facts.NewSymbolID("pkg/b.go", "B", facts.KindFunction, 0)}, callers(store, helloID))
	assert.True(t, u.IsIndexed(filepath.Join(root, "tools", "t.py")))
	assert.False(t, u.IsIndexed("vendor/v.go"))

	report, err = u.IndexTree(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Unchanged)
	assert.Equal(t, 0, report.Committed)
	assert.Equal(t, facts.Revision(3), store.CurrentRevision())

	require.NoError(t, os.Remove(filepath.Join(root, "pkg", "b.go")))
	writeFile(t, root, "tools/t.py", "def tool():\n    return 2\n\ndef other():\n    tool()\n")
	report, err = u.RescanDirs(context.Background(), []string{"pkg", filepath.Join(root, "tools"), "pkg/sub"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Committed)
	assert.Equal(t, []facts.SymbolID{mainID}, callers(store, helloID))
}

type flakyPersister struct {
	fail atomic.Bool
}

func (p *flakyPersister) Persist(context.Context, facts.Delta, []facts.FileRecord) error {
	if p.fail.Load() {
		return stderrors.New("disk I/O error")
	}
	return nil
}
func (p *flakyPersister) Load(context.Context) (*facts.State, error) { return &facts.State{}, nil }
func (p *flakyPersister) Close() error                                { return nil }

func TestCorruptionSchedulesForcedRebuild(t *testing.T) {
	root := t.TempDir()
	persister := &flakyPersister{}
	store := facts.NewStore(facts.WithPersister(persister))
	u := newTestUpdater(t, store, Options{Root: root})

	persister.fail.Store(true)
	writeFile(t, root, "a.go", helloSrc)
	res, err := u.Apply(context.Background(), ports.ChangeEvent{Path: filepath.Join(root, "a.go"), Content: []byte(helloSrc)})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeIndexCorruption))
	assert.Equal(t, OutcomeCorruption, res.Outcome)
	assert.Equal(t, []string{"a.go"}, u.PendingRebuilds())
	assert.Equal(t, facts.Revision(0), store.CurrentRevision())

	persister.fail.Store(false)
	results := u.RebuildPending(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeCommitted, results[0].Outcome)
	assert.Empty(t, u.PendingRebuilds())
	assert.Equal(t, []facts.SymbolID{mainID}, callers(store, helloID))
}

func TestRejectsPathsOutsideRoot(t *testing.T) {
	u := newTestUpdater(t, facts.NewStore(), Options{})
	_, err := u.Apply(context.Background(), ports.ChangeEvent{Path: "../x.go", Content: []byte("package x\n")})
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))

	_, err = u.Apply(context.Background(), ports.ChangeEvent{Path: "notes.txt", Content: []byte("x")})
	assert.True(t, errors.IsCode(err, errors.CodeNotSupported))
}

package facts

import (
	"codegraph/internal/core/errors"
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSymbol(file, name string, kind SymbolKind, line int) (Symbol, Span) {
	return Symbol{
		ID:            NewSymbolID(file, name, kind, 0),
		Name:          name,
		QualifiedName: name,
		Kind:          kind,
		File:          file,
		Language:      "go",
		SignatureHash: name + "()",
	}, Span{StartLine: line, EndLine: line + 2}
}

func testRel(file string, source Symbol, targetName string, target SymbolID, kind RelationKind) Relationship {
	return Relationship{
		ID:         NewRelationshipID(source.ID, kind, targetName, 0),
		Source:     source.ID,
		Target:     target,
		TargetName: targetName,
		Kind:       kind,
		File:       file,
	}
}

// seedHelloMain commits a.go with hello() and main() calling hello().
func seedHelloMain(t *testing.T, s *Store) (hello, main Symbol, call Relationship) {
	t.Helper()
	hello, helloSpan := testSymbol("a.go", "hello", KindFunction, 1)
	main, mainSpan := testSymbol("a.go", "main", KindFunction, 5)
	call = testRel("a.go", main, "hello", hello.ID, RelCalls)
	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:               "a.go",
		Revision:           s.CurrentRevision() + 1,
		AddedSymbols:       []Symbol{hello, main},
		AddedRelationships: []Relationship{call},
		Record: FileRecord{
			ContentHash: "h1",
			Language:    "go",
			Spans:       map[SymbolID]Span{hello.ID: helloSpan, main.ID: mainSpan},
			Locations:   map[RelationshipID]Location{call.ID: {Line: 6, Column: 2}},
		},
	})
	require.NoError(t, err)
	return hello, main, call
}

func TestCommitAndRead(t *testing.T) {
	t.Parallel()
	s := NewStore()
	hello, main, call := seedHelloMain(t, s)

	assert.Equal(t, Revision(1), s.CurrentRevision())

	got := s.SymbolsByName("hello", nil)
	require.Len(t, got, 1)
	assert.Equal(t, hello.ID, got[0].ID)
	assert.Equal(t, 1, got[0].Span.StartLine)
	assert.Equal(t, Revision(1), got[0].Created)

	to := s.RelationshipsTo(hello.ID, []RelationKind{RelCalls}, nil)
	require.Len(t, to, 1)
	assert.Equal(t, call.ID, to[0].ID)
	assert.Equal(t, 6, to[0].Location.Line)
	assert.Equal(t, "a.go", to[0].Location.File)

	from := s.RelationshipsFrom(main.ID, nil, nil)
	require.Len(t, from, 1)
	assert.Empty(t, s.RelationshipsFrom(main.ID, []RelationKind{RelImports}, nil))

	rec, ok := s.File("a.go", nil)
	require.True(t, ok)
	assert.Equal(t, []SymbolID{hello.ID, main.ID}, rec.SymbolIDs)
}

func TestCommitRejectsOutOfOrderRevision(t *testing.T) {
	t.Parallel()
	s := NewStore()
	sym, _ := testSymbol("a.go", "f", KindFunction, 1)
	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:         "a.go",
		Revision:     5,
		AddedSymbols: []Symbol{sym},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))
	assert.Equal(t, Revision(0), s.CurrentRevision())
	assert.Empty(t, s.SymbolsByName("f", nil))
}

func TestCommitRejectsOrphanedRelationships(t *testing.T) {
	t.Parallel()
	s := NewStore()
	_, main, _ := seedHelloMain(t, s)

	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:           "a.go",
		Revision:       2,
		RemovedSymbols: []SymbolID{main.ID},
		Record:         FileRecord{ContentHash: "h2", Language: "go"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestCommitRejectsDanglingTarget(t *testing.T) {
	t.Parallel()
	s := NewStore()
	hello, _, _ := seedHelloMain(t, s)

	// Retiring hello while main still points at it must be refused.
	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:           "a.go",
		Revision:       2,
		RemovedSymbols: []SymbolID{hello.ID},
		Record:         FileRecord{ContentHash: "h2", Language: "go"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidationError))
}

func TestSnapshotIsolation(t *testing.T) {
	t.Parallel()
	s := NewStore()
	hello, main, call := seedHelloMain(t, s)

	snap := s.Snapshot()
	defer snap.Release()

	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:                 "a.go",
		Revision:             2,
		RemovedRelationships: []RelationshipID{call.ID},
		Record: FileRecord{
			ContentHash: "h2",
			Language:    "go",
			Spans:       map[SymbolID]Span{hello.ID: {StartLine: 1}, main.ID: {StartLine: 5}},
			Locations:   map[RelationshipID]Location{},
		},
	})
	require.NoError(t, err)

	assert.Len(t, s.RelationshipsTo(hello.ID, nil, snap), 1, "old snapshot keeps the edge")
	assert.Empty(t, s.RelationshipsTo(hello.ID, nil, nil), "current view drops the edge")

	old, ok := s.File("a.go", snap)
	require.True(t, ok)
	assert.Equal(t, "h1", old.ContentHash)
}

func TestGarbageCollectionRespectsSnapshots(t *testing.T) {
	t.Parallel()
	s := NewStore()
	hello, main, call := seedHelloMain(t, s)

	snap := s.Snapshot()
	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:                 "a.go",
		Revision:             2,
		RemovedRelationships: []RelationshipID{call.ID},
		Record: FileRecord{
			ContentHash: "h2",
			Language:    "go",
			Spans:       map[SymbolID]Span{hello.ID: {StartLine: 1}, main.ID: {StartLine: 5}},
			Locations:   map[RelationshipID]Location{},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, s.CollectGarbage(), "revision 1 is pinned")
	assert.Len(t, s.RelationshipsTo(hello.ID, nil, snap), 1)

	snap.Release()
	snap.Release()
	assert.Equal(t, 0, s.RetainedRevisions())

	// The retired edge and the superseded file revision go.
	assert.Equal(t, 2, s.CollectGarbage())
	assert.Empty(t, s.Placeholders("hello", nil))
	_, stillIndexed := s.relsTo[hello.ID]
	assert.False(t, stillIndexed)
}

func TestCrossFileRebindBumpsOriginFile(t *testing.T) {
	t.Parallel()
	s := NewStore()
	ctx := context.Background()

	g, gSpan := testSymbol("b.go", "g", KindFunction, 1)
	placeholder := testRel("b.go", g, "f", "", RelCalls)
	_, err := s.CommitFileDelta(ctx, Delta{
		File:               "b.go",
		Revision:           1,
		AddedSymbols:       []Symbol{g},
		AddedRelationships: []Relationship{placeholder},
		Record: FileRecord{
			ContentHash: "b1",
			Language:    "go",
			Spans:       map[SymbolID]Span{g.ID: gSpan},
			Locations:   map[RelationshipID]Location{placeholder.ID: {Line: 2}},
		},
	})
	require.NoError(t, err)
	require.Len(t, s.Placeholders("f", nil), 1)
	assert.Equal(t, Revision(1), s.DependencyRevision(FileKey("b.go")))

	f, fSpan := testSymbol("a.go", "f", KindFunction, 1)
	bound := placeholder
	bound.Target = f.ID
	res, err := s.CommitFileDelta(ctx, Delta{
		File:                 "a.go",
		Revision:             2,
		AddedSymbols:         []Symbol{f},
		RemovedRelationships: []RelationshipID{placeholder.ID},
		AddedRelationships:   []Relationship{bound},
		Record: FileRecord{
			ContentHash: "a1",
			Language:    "go",
			Spans:       map[SymbolID]Span{f.ID: fSpan},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []FileRevision{{Path: "a.go", Revision: 2}, {Path: "b.go", Revision: 2}}, res.Files)
	assert.Equal(t, Revision(2), s.DependencyRevision(FileKey("b.go")))
	assert.Equal(t, Revision(2), s.DependencyRevision(NameKey("f")))
	assert.Equal(t, Revision(0), s.DependencyRevision(NameKey("unrelated")))

	assert.Empty(t, s.Placeholders("f", nil))
	callers := s.RelationshipsTo(f.ID, []RelationKind{RelCalls}, nil)
	require.Len(t, callers, 1)
	assert.Equal(t, 2, callers[0].Location.Line, "location carried from the origin file")
}

func TestDeletedFileTombstone(t *testing.T) {
	t.Parallel()
	s := NewStore()
	hello, main, call := seedHelloMain(t, s)

	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:                 "a.go",
		Revision:             2,
		RemovedSymbols:       []SymbolID{hello.ID, main.ID},
		RemovedRelationships: []RelationshipID{call.ID},
		Record:               FileRecord{Deleted: true},
	})
	require.NoError(t, err)

	rec, ok := s.File("a.go", nil)
	require.True(t, ok)
	assert.True(t, rec.Deleted)
	assert.Empty(t, s.Files(nil))
	assert.Empty(t, s.SymbolsInFile("a.go", nil))

	st := s.Stats(nil)
	assert.Equal(t, 0, st.Symbols)
	assert.Equal(t, 0, st.Relationships)
	assert.Equal(t, 0, st.Files)
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := NewStore()
	seedHelloMain(t, s)

	st := s.Stats(nil)
	assert.Equal(t, Revision(1), st.Revision)
	assert.Equal(t, 2, st.Symbols)
	assert.Equal(t, 1, st.Relationships)
	assert.Equal(t, 1, st.Files)
	assert.Equal(t, 2, st.SymbolsByKind[KindFunction])
	assert.Equal(t, 1, st.RelationsByKind[RelCalls])
	assert.Equal(t, 1, st.FilesByLanguage["go"])
}

func TestStatsAtSnapshot(t *testing.T) {
	t.Parallel()
	s := NewStore()
	hello, main, call := seedHelloMain(t, s)

	sn := s.Snapshot()
	defer sn.Release()

	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:                 "a.go",
		Revision:             2,
		RemovedSymbols:       []SymbolID{hello.ID, main.ID},
		RemovedRelationships: []RelationshipID{call.ID},
		Record:               FileRecord{Deleted: true},
	})
	require.NoError(t, err)

	old := s.Stats(sn)
	assert.Equal(t, Revision(1), old.Revision)
	assert.Equal(t, 2, old.Symbols)
	assert.Equal(t, 1, old.Relationships)
	assert.Equal(t, 1, old.Files)
	assert.Equal(t, 2, old.SymbolsByKind[KindFunction])
	assert.Equal(t, 1, old.FilesByLanguage["go"])

	now := s.Stats(nil)
	assert.Equal(t, Revision(2), now.Revision)
	assert.Equal(t, 0, now.Symbols)
	assert.Equal(t, 0, now.Files)
}

type failingPersister struct{}

func (failingPersister) Persist(context.Context, Delta, []FileRecord) error {
	return stderrors.New("disk I/O error")
}
func (failingPersister) Load(context.Context) (*State, error) { return &State{}, nil }
func (failingPersister) Close() error                          { return nil }

func TestPersistFailureIsIndexCorruption(t *testing.T) {
	t.Parallel()
	s := NewStore(WithPersister(failingPersister{}))
	sym, span := testSymbol("a.go", "f", KindFunction, 1)

	_, err := s.CommitFileDelta(context.Background(), Delta{
		File:         "a.go",
		Revision:     1,
		AddedSymbols: []Symbol{sym},
		Record:       FileRecord{ContentHash: "x", Spans: map[SymbolID]Span{sym.ID: span}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeIndexCorruption))
	assert.Equal(t, Revision(0), s.CurrentRevision())
	assert.Empty(t, s.SymbolsByName("f", nil))
}

func TestSQLitePersistAndRestore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index", "facts.db")

	p, err := OpenSQLitePersister(path)
	require.NoError(t, err)
	s, err := OpenStore(ctx, p)
	require.NoError(t, err)
	hello, main, call := seedHelloMain(t, s)
	require.NoError(t, s.Close())

	p2, err := OpenSQLitePersister(path)
	require.NoError(t, err)
	restored, err := OpenStore(ctx, p2)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, Revision(1), restored.CurrentRevision())
	got := restored.SymbolsByName("main", nil)
	require.Len(t, got, 1)
	assert.Equal(t, main.ID, got[0].ID)
	assert.Equal(t, 5, got[0].Span.StartLine)

	callers := restored.RelationshipsTo(hello.ID, []RelationKind{RelCalls}, nil)
	require.Len(t, callers, 1)
	assert.Equal(t, call.ID, callers[0].ID)
	assert.Equal(t, 6, callers[0].Location.Line)

	rec, ok := restored.File("a.go", nil)
	require.True(t, ok)
	assert.Equal(t, "h1", rec.ContentHash)
	assert.Equal(t, []SymbolID{hello.ID, main.ID}, rec.SymbolIDs)

	// The restored store keeps committing from the persisted revision.
	_, err = restored.CommitFileDelta(ctx, Delta{
		File:                 "a.go",
		Revision:             2,
		RemovedRelationships: []RelationshipID{call.ID},
		Record:               FileRecord{ContentHash: "h2", Language: "go"},
	})
	require.NoError(t, err)
}

func TestOpenSQLitePersisterRejectsDirectory(t *testing.T) {
	t.Parallel()
	_, err := OpenSQLitePersister(t.TempDir())
	require.Error(t, err)
}

func TestParseKinds(t *testing.T) {
	t.Parallel()
	k, ok := ParseSymbolKind(" Method ")
	assert.True(t, ok)
	assert.Equal(t, KindMethod, k)
	_, ok = ParseSymbolKind("class")
	assert.False(t, ok)

	r, ok := ParseRelationKind("IMPORTS")
	assert.True(t, ok)
	assert.Equal(t, RelImports, r)
}

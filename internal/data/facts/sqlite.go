package facts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
	schemaVersion    = 1
)

// SQLitePersister keeps the live state of a Store in a SQLite database.
// History is not persisted; a restored store starts with one version per
// record.
type SQLitePersister struct {
	db   *sql.DB
	path string
}

func OpenSQLitePersister(path string) (*SQLitePersister, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("fact store path must not be empty")
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("fact store path %q is a directory, expected file", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create fact store directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite fact store %q: %w", cleanPath, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite fact store %q: %w", cleanPath, err)
	}
	if err := migrateFactSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLitePersister{db: db, path: cleanPath}, nil
}

func migrateFactSchema(db *sql.DB) error {
	var version int
	_ = db.QueryRow(`PRAGMA user_version`).Scan(&version)
	if version >= schemaVersion {
		return nil
	}

	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
  path TEXT PRIMARY KEY,
  content_hash TEXT NOT NULL,
  language TEXT NOT NULL DEFAULT '',
  revision INTEGER NOT NULL,
  stale INTEGER NOT NULL DEFAULT 0,
  stale_reason TEXT NOT NULL DEFAULT '',
  positions BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS symbols (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  qualified_name TEXT NOT NULL,
  kind TEXT NOT NULL,
  file TEXT NOT NULL,
  language TEXT NOT NULL DEFAULT '',
  signature TEXT NOT NULL DEFAULT '',
  signature_hash TEXT NOT NULL DEFAULT '',
  created INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_file ON symbols(file);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
CREATE TABLE IF NOT EXISTS relationships (
  id TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  target TEXT NOT NULL DEFAULT '',
  target_name TEXT NOT NULL,
  kind TEXT NOT NULL,
  file TEXT NOT NULL,
  created INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_relationships_file ON relationships(file);
PRAGMA user_version = 1;
`)
	if err != nil {
		return fmt.Errorf("create v1 fact schema: %w", err)
	}
	return nil
}

type filePositions struct {
	Spans     map[SymbolID]Span           `json:"spans,omitempty"`
	Locations map[RelationshipID]Location `json:"locations,omitempty"`
}

func (p *SQLitePersister) Persist(ctx context.Context, delta Delta, records []FileRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fact delta tx: %w", err)
	}

	readded := make(map[SymbolID]bool, len(delta.AddedSymbols))
	for _, sym := range delta.AddedSymbols {
		readded[sym.ID] = true
	}
	for _, id := range delta.RemovedSymbols {
		if readded[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM symbols WHERE id = ?`, string(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete symbol %s: %w", id, err)
		}
	}
	for _, sym := range delta.AddedSymbols {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO symbols
  (id, name, qualified_name, kind, file, language, signature, signature_hash, created)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(sym.ID), sym.Name, sym.QualifiedName, string(sym.Kind), sym.File,
			sym.Language, sym.Signature, sym.SignatureHash, int64(delta.Revision),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert symbol %s: %w", sym.ID, err)
		}
	}

	readdedRels := make(map[RelationshipID]bool, len(delta.AddedRelationships))
	for _, rel := range delta.AddedRelationships {
		readdedRels[rel.ID] = true
	}
	for _, id := range delta.RemovedRelationships {
		if readdedRels[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, string(id)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("delete relationship %s: %w", id, err)
		}
	}
	for _, rel := range delta.AddedRelationships {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO relationships
  (id, source, target, target_name, kind, file, created)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(rel.ID), string(rel.Source), string(rel.Target), rel.TargetName,
			string(rel.Kind), rel.File, int64(delta.Revision),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert relationship %s: %w", rel.ID, err)
		}
	}

	for _, rec := range records {
		if rec.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, rec.Path); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("delete file %s: %w", rec.Path, err)
			}
			continue
		}
		blob, err := json.Marshal(filePositions{Spans: rec.Spans, Locations: rec.Locations})
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("encode positions for %s: %w", rec.Path, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO files
  (path, content_hash, language, revision, stale, stale_reason, positions)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Path, rec.ContentHash, rec.Language, int64(rec.Revision),
			boolToInt(rec.Stale), rec.StaleReason, blob,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert file %s: %w", rec.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta (key, value) VALUES ('revision', ?)`,
		strconv.FormatUint(uint64(delta.Revision), 10)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fact delta tx: %w", err)
	}
	return nil
}

func (p *SQLitePersister) Load(ctx context.Context) (*State, error) {
	state := &State{}

	var raw string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'revision'`).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		return state, nil
	case err != nil:
		return nil, fmt.Errorf("load revision: %w", err)
	}
	rev, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse stored revision %q: %w", raw, err)
	}
	state.Revision = Revision(rev)

	if state.Files, err = p.loadFiles(ctx); err != nil {
		return nil, err
	}
	if state.Symbols, err = p.loadSymbols(ctx); err != nil {
		return nil, err
	}
	if state.Relationships, err = p.loadRelationships(ctx); err != nil {
		return nil, err
	}

	owned := make(map[string][]SymbolID, len(state.Files))
	for _, sym := range state.Symbols {
		owned[sym.File] = append(owned[sym.File], sym.ID)
	}
	for i := range state.Files {
		ids := owned[state.Files[i].Path]
		sortSymbolIDs(ids)
		state.Files[i].SymbolIDs = ids
	}
	return state, nil
}

func (p *SQLitePersister) loadFiles(ctx context.Context) ([]FileRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT path, content_hash, language, revision, stale, stale_reason, positions FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("load files: %w", err)
	}
	defer rows.Close()

	var out []FileRecord
	for rows.Next() {
		var (
			rec   FileRecord
			rev   int64
			stale int
			blob  []byte
		)
		if err := rows.Scan(&rec.Path, &rec.ContentHash, &rec.Language, &rev, &stale, &rec.StaleReason, &blob); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		var pos filePositions
		if err := json.Unmarshal(blob, &pos); err != nil {
			return nil, fmt.Errorf("decode positions for %s: %w", rec.Path, err)
		}
		rec.Revision = Revision(rev)
		rec.Stale = stale != 0
		rec.Spans = pos.Spans
		rec.Locations = pos.Locations
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *SQLitePersister) loadSymbols(ctx context.Context) ([]Symbol, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, qualified_name, kind, file, language, signature, signature_hash, created FROM symbols ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	defer rows.Close()

	var out []Symbol
	for rows.Next() {
		var (
			sym     Symbol
			id      string
			kind    string
			created int64
		)
		if err := rows.Scan(&id, &sym.Name, &sym.QualifiedName, &kind, &sym.File, &sym.Language, &sym.Signature, &sym.SignatureHash, &created); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		sym.ID = SymbolID(id)
		sym.Kind = SymbolKind(kind)
		sym.Created = Revision(created)
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (p *SQLitePersister) loadRelationships(ctx context.Context) ([]Relationship, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, source, target, target_name, kind, file, created FROM relationships ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}
	defer rows.Close()

	var out []Relationship
	for rows.Next() {
		var (
			rel                      Relationship
			id, source, target, kind string
			created                  int64
		)
		if err := rows.Scan(&id, &source, &target, &rel.TargetName, &kind, &rel.File, &created); err != nil {
			return nil, fmt.Errorf("scan relationship row: %w", err)
		}
		rel.ID = RelationshipID(id)
		rel.Source = SymbolID(source)
		rel.Target = SymbolID(target)
		rel.Kind = RelationKind(kind)
		rel.Created = Revision(created)
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (p *SQLitePersister) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func sortSymbolIDs(ids []SymbolID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

// Path returns the database file backing the persister.
func (p *SQLitePersister) Path() string {
	return p.path
}

package facts

import (
	"sort"
)

// Reads resolve against the revision pinned by sn; a nil snapshot reads the
// current revision. Returned records are copies with positions taken from
// the file revision visible at that point.

func (s *Store) symbolViewLocked(v *Symbol, at Revision) Symbol {
	out := *v
	if f := s.fileAtLocked(v.File, at); f != nil {
		out.Span = f.Spans[v.ID]
	}
	return out
}

func (s *Store) relViewLocked(v *Relationship, at Revision) Relationship {
	out := *v
	out.Location.File = v.File
	if f := s.fileAtLocked(v.File, at); f != nil {
		if loc, ok := f.Locations[v.ID]; ok {
			out.Location = loc
			out.Location.File = v.File
		}
	}
	return out
}

// Symbol returns the version of id visible at sn.
func (s *Store) Symbol(id SymbolID, sn *Snapshot) (Symbol, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	v := s.liveSymbolLocked(id, at)
	if v == nil {
		return Symbol{}, false
	}
	return s.symbolViewLocked(v, at), true
}

// SymbolsByName returns every symbol whose simple or qualified name equals
// name, sorted by position.
func (s *Store) SymbolsByName(name string, sn *Snapshot) []Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	out := make([]Symbol, 0, len(s.byName[name]))
	for id := range s.byName[name] {
		if v := s.liveSymbolLocked(id, at); v != nil {
			out = append(out, s.symbolViewLocked(v, at))
		}
	}
	SortSymbols(out)
	return out
}

// SymbolsInFile returns the symbols attributed to path at sn.
func (s *Store) SymbolsInFile(path string, sn *Snapshot) []Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	f := s.fileAtLocked(path, at)
	if f == nil {
		return nil
	}
	out := make([]Symbol, 0, len(f.SymbolIDs))
	for _, id := range f.SymbolIDs {
		if v := s.liveSymbolLocked(id, at); v != nil {
			out = append(out, s.symbolViewLocked(v, at))
		}
	}
	SortSymbols(out)
	return out
}

// RelationshipsFrom returns edges whose source is id. An empty kinds list
// matches every kind.
func (s *Store) RelationshipsFrom(id SymbolID, kinds []RelationKind, sn *Snapshot) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	return s.collectRelsLocked(s.relsFrom[id], at, kinds, func(r *Relationship) bool {
		return r.Source == id
	})
}

// RelationshipsTo returns resolved edges whose target is id.
func (s *Store) RelationshipsTo(id SymbolID, kinds []RelationKind, sn *Snapshot) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	return s.collectRelsLocked(s.relsTo[id], at, kinds, func(r *Relationship) bool {
		return r.Target == id
	})
}

// Placeholders returns unresolved edges waiting for a symbol named name.
func (s *Store) Placeholders(name string, sn *Snapshot) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	return s.collectRelsLocked(s.placeholders[name], at, nil, func(r *Relationship) bool {
		return r.Target == "" && r.TargetName == name
	})
}

// RelationshipsInFile returns the edges originating in path.
func (s *Store) RelationshipsInFile(path string, sn *Snapshot) []Relationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	return s.collectRelsLocked(s.relsByFile[path], at, nil, func(r *Relationship) bool {
		return r.File == path
	})
}

func (s *Store) collectRelsLocked(ids map[RelationshipID]struct{}, at Revision, kinds []RelationKind, keep func(*Relationship) bool) []Relationship {
	out := make([]Relationship, 0, len(ids))
	for id := range ids {
		v := s.liveRelLocked(id, at)
		if v == nil || !keep(v) || !kindAllowed(v.Kind, kinds) {
			continue
		}
		out = append(out, s.relViewLocked(v, at))
	}
	SortRelationships(out)
	return out
}

func kindAllowed(kind RelationKind, kinds []RelationKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// File returns the record of path visible at sn. Deleted files are
// returned with Deleted set. The record's maps must not be modified.
func (s *Store) File(path string, sn *Snapshot) (FileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.fileAtLocked(path, s.at(sn))
	if f == nil {
		return FileRecord{}, false
	}
	return *f, true
}

// Files returns every non-deleted file visible at sn, sorted by path.
func (s *Store) Files(sn *Snapshot) []FileRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.at(sn)
	out := make([]FileRecord, 0, len(s.files))
	for path := range s.files {
		if f := s.fileAtLocked(path, at); f != nil && !f.Deleted {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// SortSymbols orders symbols by (file, line, name), then ID.
func SortSymbols(syms []Symbol) {
	sort.Slice(syms, func(i, j int) bool {
		a, b := syms[i], syms[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Span.StartLine != b.Span.StartLine {
			return a.Span.StartLine < b.Span.StartLine
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}

// SortRelationships orders edges by origin position, then ID.
func SortRelationships(rels []Relationship) {
	sort.Slice(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Location.Line != b.Location.Line {
			return a.Location.Line < b.Location.Line
		}
		if a.Location.Column != b.Location.Column {
			return a.Location.Column < b.Location.Column
		}
		return a.ID < b.ID
	})
}

package facts

import (
	"sort"
)

type Stats struct {
	Revision          Revision
	Files             int
	StaleFiles        []string
	Symbols           int
	Relationships     int
	Placeholders      int
	SymbolsByKind     map[SymbolKind]int
	RelationsByKind   map[RelationKind]int
	FilesByLanguage   map[string]int
	RetainedRevisions int
}

// Stats summarizes the state visible at sn; nil reads the current revision.
func (s *Store) Stats(sn *Snapshot) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := s.at(sn)
	st := Stats{
		Revision:          at,
		SymbolsByKind:     make(map[SymbolKind]int, len(s.liveSymbolsByKind)),
		RelationsByKind:   make(map[RelationKind]int, len(s.liveRelsByKind)),
		FilesByLanguage:   make(map[string]int),
		RetainedRevisions: s.RetainedRevisions(),
	}
	if at == s.current {
		for kind, n := range s.liveSymbolsByKind {
			if n > 0 {
				st.SymbolsByKind[kind] = n
			}
		}
		for kind, n := range s.liveRelsByKind {
			if n > 0 {
				st.RelationsByKind[kind] = n
			}
		}
	} else {
		for id := range s.symbols {
			if v := s.liveSymbolLocked(id, at); v != nil {
				st.SymbolsByKind[v.Kind]++
			}
		}
		for id := range s.rels {
			if v := s.liveRelLocked(id, at); v != nil {
				st.RelationsByKind[v.Kind]++
			}
		}
	}
	for _, n := range st.SymbolsByKind {
		st.Symbols += n
	}
	for _, n := range st.RelationsByKind {
		st.Relationships += n
	}

	for path := range s.files {
		f := s.fileAtLocked(path, at)
		if f == nil || f.Deleted {
			continue
		}
		st.Files++
		st.FilesByLanguage[f.Language]++
		if f.Stale {
			st.StaleFiles = append(st.StaleFiles, path)
		}
	}
	for name := range s.placeholders {
		for id := range s.placeholders[name] {
			if v := s.liveRelLocked(id, at); v != nil && v.Target == "" && v.TargetName == name {
				st.Placeholders++
			}
		}
	}
	sort.Strings(st.StaleFiles)
	return st
}

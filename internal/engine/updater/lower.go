package updater

import (
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/parser"
	"codegraph/internal/shared/util"
	"sort"
)

// fileFacts is a parsed file lowered to store records. Relationships are
// not yet resolved.
type fileFacts struct {
	module    facts.Symbol
	symbols   []facts.Symbol
	spans     map[facts.SymbolID]facts.Span
	rels      []facts.Relationship
	locations map[facts.RelationshipID]facts.Location
}

// lower assigns identities to the parsed facts of path. Symbols are keyed
// by (qualified name, kind) with an ordinal for repeats in source order;
// file-level imports and references hang off a per-file module symbol.
func lower(path string, f *parser.File) fileFacts {
	out := fileFacts{
		spans:     make(map[facts.SymbolID]facts.Span),
		locations: make(map[facts.RelationshipID]facts.Location),
	}

	moduleName := f.Module
	if moduleName == "" {
		moduleName = path
	}
	out.module = newSymbol(path, f.Language, moduleName, moduleName, facts.KindModule, "module "+moduleName, 0)
	out.symbols = append(out.symbols, out.module)
	out.spans[out.module.ID] = facts.Span{StartLine: 1, StartColumn: 1, EndLine: 1, EndColumn: 1}

	byQualified := make(map[string]facts.SymbolID)
	ordinals := make(map[string]int)
	for _, def := range f.Definitions {
		key := def.QualifiedName + "\x00" + string(def.Kind)
		ordinal := ordinals[key]
		ordinals[key]++

		sym := newSymbol(path, f.Language, def.Name, def.QualifiedName, def.Kind, def.Signature, ordinal)
		if sym.ID == out.module.ID {
			continue
		}
		out.symbols = append(out.symbols, sym)
		out.spans[sym.ID] = def.Span
		if _, seen := byQualified[def.QualifiedName]; !seen {
			byQualified[def.QualifiedName] = sym.ID
		}
	}

	relOrdinals := make(map[string]int)
	add := func(source facts.SymbolID, kind facts.RelationKind, target string, loc parser.Location) {
		key := string(source) + "\x00" + string(kind) + "\x00" + target
		ordinal := relOrdinals[key]
		relOrdinals[key]++

		id := facts.NewRelationshipID(source, kind, target, ordinal)
		out.rels = append(out.rels, facts.Relationship{
			ID:         id,
			Source:     source,
			TargetName: target,
			Kind:       kind,
			File:       path,
		})
		out.locations[id] = facts.Location{File: path, Line: loc.Line, Column: loc.Column}
	}

	for _, imp := range f.Imports {
		add(out.module.ID, facts.RelImports, imp.Module, imp.Location)
	}
	for _, ref := range f.References {
		source := out.module.ID
		if ref.Enclosing != "" {
			if id, ok := byQualified[ref.Enclosing]; ok {
				source = id
			}
		}
		add(source, ref.Kind, ref.Name, ref.Location)
	}
	return out
}

func newSymbol(path, language, name, qualified string, kind facts.SymbolKind, signature string, ordinal int) facts.Symbol {
	return facts.Symbol{
		ID:            facts.NewSymbolID(path, qualified, kind, ordinal),
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		File:          path,
		Language:      language,
		Signature:     signature,
		SignatureHash: util.HashParts(string(kind), signature),
	}
}

// resolver binds target names to live symbols: the symbols being committed
// for file, plus every live symbol of other files.
type resolver struct {
	store *facts.Store
	file  string
	local map[string][]facts.SymbolID
}

func newResolver(store *facts.Store, file string, symbols []facts.Symbol) *resolver {
	r := &resolver{store: store, file: file, local: make(map[string][]facts.SymbolID)}
	for _, sym := range symbols {
		r.local[sym.Name] = append(r.local[sym.Name], sym.ID)
		if sym.QualifiedName != sym.Name {
			r.local[sym.QualifiedName] = append(r.local[sym.QualifiedName], sym.ID)
		}
	}
	return r
}

type candidate struct {
	id   facts.SymbolID
	file string
}

// resolve picks the target for an edge named name originating in origin:
// candidates in the origin file win, then the lexicographically smallest
// ID. An empty result leaves the edge a placeholder.
func (r *resolver) resolve(name, origin string) facts.SymbolID {
	var candidates []candidate
	for _, id := range r.local[name] {
		candidates = append(candidates, candidate{id: id, file: r.file})
	}
	for _, sym := range r.store.SymbolsByName(name, nil) {
		if sym.File == r.file {
			continue
		}
		candidates = append(candidates, candidate{id: sym.ID, file: sym.File})
	}
	if len(candidates) == 0 {
		return ""
	}

	var same []candidate
	for _, c := range candidates {
		if c.file == origin {
			same = append(same, c)
		}
	}
	if len(same) > 0 {
		candidates = same
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })
	return candidates[0].id
}

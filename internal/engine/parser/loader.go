package parser

import (
	"codegraph/internal/shared/util"
	"sort"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// GrammarLoader owns the compiled grammars of the enabled languages and a
// parser pool per grammar. TypeScript carries two grammars: plain and TSX.
type GrammarLoader struct {
	registry map[string]LanguageSpec
	pools    map[string]*ParserPool // keyed by grammar id
}

const grammarTSX = "tsx"

func NewGrammarLoader(registry map[string]LanguageSpec) *GrammarLoader {
	gl := &GrammarLoader{
		registry: registry,
		pools:    make(map[string]*ParserPool),
	}
	for _, langID := range util.SortedStringKeys(registry) {
		if !registry[langID].Enabled {
			continue
		}
		switch langID {
		case "go":
			gl.pools["go"] = NewParserPool(sitter.NewLanguage(tree_sitter_go.Language()))
		case "python":
			gl.pools["python"] = NewParserPool(sitter.NewLanguage(tree_sitter_python.Language()))
		case "java":
			gl.pools["java"] = NewParserPool(sitter.NewLanguage(tree_sitter_java.Language()))
		case "rust":
			gl.pools["rust"] = NewParserPool(sitter.NewLanguage(tree_sitter_rust.Language()))
		case "javascript":
			gl.pools["javascript"] = NewParserPool(sitter.NewLanguage(tree_sitter_javascript.Language()))
		case "typescript":
			gl.pools["typescript"] = NewParserPool(sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()))
			gl.pools[grammarTSX] = NewParserPool(sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()))
		}
	}
	return gl
}

func (gl *GrammarLoader) Pool(grammarID string) *ParserPool {
	return gl.pools[grammarID]
}

func (gl *GrammarLoader) LanguageRegistry() map[string]LanguageSpec {
	return gl.registry
}

// ActiveParsers is the number of parsers currently leased across pools.
func (gl *GrammarLoader) ActiveParsers() int {
	n := 0
	for _, p := range gl.pools {
		n += p.Stats()
	}
	return n
}

func (gl *GrammarLoader) EnabledLanguages() []string {
	out := make([]string, 0, len(gl.registry))
	for id, spec := range gl.registry {
		if spec.Enabled {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

package parser

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

type Parser struct {
	loader     *GrammarLoader
	extractors map[string]Extractor // language -> extractor
	extensions map[string]string
}

// Extractor turns a syntax tree into facts. Implementations must be
// deterministic and safe for concurrent use.
type Extractor interface {
	Extract(node *sitter.Node, source []byte, filePath string) (*File, error)
}

func NewParser(loader *GrammarLoader) *Parser {
	p := &Parser{
		loader:     loader,
		extractors: make(map[string]Extractor),
		extensions: make(map[string]string),
	}
	for lang, spec := range loader.LanguageRegistry() {
		if !spec.Enabled {
			continue
		}
		for _, ext := range spec.Extensions {
			p.extensions[strings.ToLower(ext)] = lang
		}
	}
	return p
}

// New builds a parser with the default extractors for the enabled
// languages.
func New(enabled []string) (*Parser, error) {
	registry, err := BuildLanguageRegistry(enabled)
	if err != nil {
		return nil, err
	}
	p := NewParser(NewGrammarLoader(registry))
	if err := p.RegisterDefaultExtractors(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) RegisterExtractor(lang string, e Extractor) {
	p.extractors[lang] = e
}

func (p *Parser) RegisterDefaultExtractors() error {
	for lang, spec := range p.loader.LanguageRegistry() {
		if !spec.Enabled {
			continue
		}
		extractor, ok := DefaultExtractorForLanguage(lang)
		if !ok {
			return errors.New(errors.CodeNotSupported, fmt.Sprintf("no default extractor for enabled language: %s", lang))
		}
		p.RegisterExtractor(lang, extractor)
	}
	return nil
}

// DefaultExtractorForLanguage returns the built-in extractor for lang.
func DefaultExtractorForLanguage(lang string) (Extractor, bool) {
	switch lang {
	case "go":
		return &GoExtractor{}, true
	case "python":
		return &PythonExtractor{}, true
	case "java":
		return NewTableExtractor(javaTable), true
	case "rust":
		return NewTableExtractor(rustTable), true
	case "javascript":
		return NewTableExtractor(javascriptTable), true
	case "typescript":
		return NewTableExtractor(typescriptTable), true
	}
	return nil, false
}

// ParseFile parses content as the language path maps to. A syntax tree
// containing errors is a PARSE_ERROR so the previous facts stay in place.
func (p *Parser) ParseFile(path string, content []byte) (*File, error) {
	lang := p.detectLanguage(path)
	if lang == "" {
		return nil, errors.AddContext(errors.New(errors.CodeNotSupported, "unsupported language"), errors.CtxPath, path)
	}

	extractor := p.extractors[lang]
	if extractor == nil {
		return nil, errors.New(errors.CodeNotSupported, fmt.Sprintf("no extractor for: %s", lang))
	}

	grammarID := lang
	if lang == "typescript" && strings.EqualFold(filepath.Ext(path), ".tsx") {
		grammarID = grammarTSX
	}
	pool := p.loader.Pool(grammarID)
	if pool == nil {
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("grammar not loaded: %s", grammarID))
	}

	start := time.Now()
	defer func() {
		observability.ParsingDuration.WithLabelValues(lang).Observe(time.Since(start).Seconds())
	}()

	tree := pool.Parse(content)
	if tree == nil {
		observability.ParseErrorsTotal.WithLabelValues(lang).Inc()
		return nil, parseError(path, lang, "parser returned no tree")
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		observability.ParseErrorsTotal.WithLabelValues(lang).Inc()
		return nil, parseError(path, lang, fmt.Sprintf("syntax error near line %d", firstErrorLine(root)))
	}
	res, err := extractor.Extract(root, content, path)
	if err != nil {
		observability.ParseErrorsTotal.WithLabelValues(lang).Inc()
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeParseError, "extraction failed"), errors.CtxPath, path)
	}
	res.Language = lang
	return res, nil
}

func parseError(path, lang, msg string) error {
	err := errors.AddContext(errors.New(errors.CodeParseError, msg), errors.CtxPath, path)
	return errors.AddContext(err, errors.CtxLanguage, lang)
}

// firstErrorLine finds the first ERROR or missing node, depth first.
func firstErrorLine(node *sitter.Node) int {
	if node == nil {
		return 0
	}
	if node.IsError() || node.IsMissing() {
		return int(node.StartPosition().Row) + 1
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		if child != nil && child.HasError() {
			if line := firstErrorLine(child); line > 0 {
				return line
			}
		}
	}
	return int(node.StartPosition().Row) + 1
}

func (p *Parser) detectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	return p.extensions[ext]
}

func (p *Parser) IsSupportedPath(filePath string) bool {
	return p.GetLanguage(filePath) != ""
}

func (p *Parser) GetLanguage(path string) string {
	return p.detectLanguage(path)
}

func (p *Parser) SupportedExtensions() []string {
	return util.SortedStringKeys(p.extensions)
}

func (p *Parser) EnabledLanguages() []string {
	return p.loader.EnabledLanguages()
}

package parser

import (
	"codegraph/internal/core/errors"
	"fmt"
	"sort"
	"strings"
)

// LanguageSpec describes one indexable language.
type LanguageSpec struct {
	Name       string
	Extensions []string
	Enabled    bool
}

// DefaultEnabledLanguages are indexed when the configuration names none.
var DefaultEnabledLanguages = []string{"python", "rust", "go", "java"}

func DefaultLanguageRegistry() map[string]LanguageSpec {
	return map[string]LanguageSpec{
		"go":         {Name: "go", Extensions: []string{".go"}},
		"python":     {Name: "python", Extensions: []string{".py", ".pyi"}},
		"java":       {Name: "java", Extensions: []string{".java"}},
		"rust":       {Name: "rust", Extensions: []string{".rs"}},
		"javascript": {Name: "javascript", Extensions: []string{".js", ".cjs", ".mjs", ".jsx"}},
		"typescript": {Name: "typescript", Extensions: []string{".ts", ".mts", ".cts", ".tsx"}},
	}
}

// SupportedLanguages lists every language the registry knows, sorted.
func SupportedLanguages() []string {
	reg := DefaultLanguageRegistry()
	out := make([]string, 0, len(reg))
	for id := range reg {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BuildLanguageRegistry enables exactly the named languages. An empty list
// enables DefaultEnabledLanguages.
func BuildLanguageRegistry(enabled []string) (map[string]LanguageSpec, error) {
	registry := DefaultLanguageRegistry()
	if len(enabled) == 0 {
		enabled = DefaultEnabledLanguages
	}
	for _, raw := range enabled {
		id := strings.ToLower(strings.TrimSpace(raw))
		spec, ok := registry[id]
		if !ok {
			return nil, errors.New(errors.CodeValidationError, fmt.Sprintf("unknown language %q", raw))
		}
		spec.Enabled = true
		registry[id] = spec
	}
	return registry, nil
}

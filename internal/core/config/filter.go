package config

import (
	"codegraph/internal/shared/util"
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"
)

// pattern is one compiled include/exclude entry. Three shapes are
// understood:
//
//	"target/"          a directory name (or path) anywhere in the tree
//	"*.test.*"         a glob over the base name
//	"**/__tests__/**"  a glob over the whole relative path
type pattern struct {
	raw   string
	dir   bool
	base  bool
	globs []glob.Glob
}

func compilePattern(raw string) (pattern, error) {
	p := pattern{raw: raw}
	expr := util.NormalizePatternPath(raw)
	if strings.HasSuffix(raw, "/") {
		p.dir = true
	}
	if expr == "" {
		return p, fmt.Errorf("empty pattern %q", raw)
	}
	p.base = !strings.Contains(expr, "/")

	exprs := []string{expr}
	if rest, ok := strings.CutPrefix(expr, "**/"); ok {
		exprs = append(exprs, rest)
	}
	for _, e := range exprs {
		g, err := glob.Compile(e, '/')
		if err != nil {
			return p, fmt.Errorf("invalid pattern %q: %w", raw, err)
		}
		p.globs = append(p.globs, g)
	}
	return p, nil
}

func (p pattern) match(s string) bool {
	for _, g := range p.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

// matchDir reports whether the directory rel is covered by the pattern.
func (p pattern) matchDir(rel string) bool {
	if p.base {
		return p.match(path.Base(rel))
	}
	return p.match(rel) || p.match(rel+"/")
}

// matchFile reports whether the file rel is covered, either directly or
// through one of its parent directories.
func (p pattern) matchFile(rel string) bool {
	if !p.dir {
		if p.base && p.match(path.Base(rel)) {
			return true
		}
		if !p.base && p.match(rel) {
			return true
		}
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if p.matchDir(dir) {
			return true
		}
	}
	return false
}

// PathFilter decides which project files are indexed. Excludes win over
// includes; with no includes every non-excluded file is in.
type PathFilter struct {
	include []pattern
	exclude []pattern
}

func NewPathFilter(include, exclude []string) (*PathFilter, error) {
	f := &PathFilter{}
	for _, raw := range include {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.include = append(f.include, p)
	}
	for _, raw := range exclude {
		p, err := compilePattern(raw)
		if err != nil {
			return nil, err
		}
		f.exclude = append(f.exclude, p)
	}
	return f, nil
}

// Filter builds the path filter described by the indexing section.
func (c *Config) Filter() (*PathFilter, error) {
	return NewPathFilter(c.Indexing.Include, c.Indexing.Exclude)
}

func (f *PathFilter) IncludeFile(rel string) bool {
	rel = util.NormalizePatternPath(rel)
	for _, p := range f.exclude {
		if p.matchFile(rel) {
			return false
		}
	}
	if len(f.include) == 0 {
		return true
	}
	for _, p := range f.include {
		if p.matchFile(rel) {
			return true
		}
	}
	return false
}

// SkipDir reports whether a whole directory is excluded. Include patterns
// never prune directories.
func (f *PathFilter) SkipDir(rel string) bool {
	rel = util.NormalizePatternPath(rel)
	if rel == "" {
		return false
	}
	for _, p := range f.exclude {
		if p.matchDir(rel) {
			return true
		}
	}
	return false
}

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvedPaths are the absolute locations a config refers to.
type ResolvedPaths struct {
	ProjectRoot string
	// StoragePath is empty when the index is kept in memory.
	StoragePath string
}

// ResolvePaths anchors relative settings: project.root against the config
// file's directory (or base when cfg came from defaults), storage.path
// against the project root.
func ResolvePaths(cfg *Config, base string) (ResolvedPaths, error) {
	if cfg.Source != "" {
		base = filepath.Dir(cfg.Source)
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return ResolvedPaths{}, err
	}
	root := ResolveRelative(abs, cfg.Project.Root)

	resolved := ResolvedPaths{ProjectRoot: root}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "-" {
		resolved.StoragePath = ResolveRelative(root, p)
	}
	return resolved, nil
}

func ResolveRelative(base, value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return filepath.Clean(base)
	}
	if filepath.IsAbs(raw) {
		return filepath.Clean(raw)
	}
	return filepath.Clean(filepath.Join(base, raw))
}

// FindConfig walks up from start looking for a project config file. It
// falls back to start/.codegraph.toml, which may not exist.
func FindConfig(start string) string {
	abs, err := filepath.Abs(start)
	if err != nil {
		return filepath.Join(start, FileName)
	}
	if info, err := os.Stat(abs); err == nil && !info.IsDir() {
		abs = filepath.Dir(abs)
	}
	for dir := abs; ; {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Join(abs, FileName)
}

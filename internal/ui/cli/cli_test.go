package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectConfig = `[project]
name = "demo"

[storage]
path = "-"

[logging]
level = "error"
`

func newProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".codegraph.toml"), []byte(projectConfig), 0o644))
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

var demoFiles = map[string]string{
	"a.go": "package demo\n\nfunc f() {}\n",
	"b.go": "package demo\n\nfunc g() {\n\tf()\n}\n\nfunc h() {\n\tg()\n}\n",
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "codegraph v"+versionString+"\n", out)
}

func TestCallersJSON(t *testing.T) {
	root := newProject(t, demoFiles)
	cfg := filepath.Join(root, ".codegraph.toml")

	code, out, errOut := run(t, "--config", cfg, "--json", "callers", "f")
	require.Equal(t, 0, code, errOut)

	var res struct {
		Target  struct{ Name string } `json:"target"`
		Symbols []struct{ Name string } `json:"symbols"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "f", res.Target.Name)
	require.Len(t, res.Symbols, 1)
	assert.Equal(t, "g", res.Symbols[0].Name)
}

func TestImpactTable(t *testing.T) {
	root := newProject(t, demoFiles)
	cfg := filepath.Join(root, ".codegraph.toml")

	code, out, errOut := run(t, "--config", cfg, "impact", "f", "--change", "delete", "--depth", "2")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "g")
	assert.Contains(t, out, "h")
	assert.Contains(t, out, "2 symbols in 1 files")
}

func TestPathText(t *testing.T) {
	root := newProject(t, demoFiles)
	cfg := filepath.Join(root, ".codegraph.toml")

	code, out, errOut := run(t, "--config", cfg, "path", "h", "f")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "h -> g -> f")
}

func TestInvalidInputExitCodes(t *testing.T) {
	root := newProject(t, demoFiles)
	cfg := filepath.Join(root, ".codegraph.toml")

	code, _, errOut := run(t, "--config", cfg, "impact", "f", "--change", "explode")
	assert.Equal(t, 2, code)
	assert.True(t, strings.Contains(errOut, "unknown change kind"), errOut)

	code, _, _ = run(t, "--config", cfg, "path", "h", "f", "--kinds", "teleports")
	assert.Equal(t, 2, code)

	code, _, _ = run(t, "--config", filepath.Join(root, "missing.toml"), "stats")
	assert.Equal(t, 1, code)
}

func TestStatsJSON(t *testing.T) {
	root := newProject(t, demoFiles)
	cfg := filepath.Join(root, ".codegraph.toml")

	code, out, errOut := run(t, "--config", cfg, "--json", "stats")
	require.Equal(t, 0, code, errOut)

	var st struct {
		Files         int            `json:"files"`
		SymbolsByKind map[string]int `json:"symbols_by_kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.Files)
	assert.Equal(t, 3, st.SymbolsByKind["function"])
}

func TestIndexLanguagesOverride(t *testing.T) {
	root := newProject(t, map[string]string{
		"a.go": "package demo\n\nfunc f() {}\n",
		"x.py": "def p():\n    pass\n",
		"y.py": "def q():\n    p()\n",
	})
	cfg := filepath.Join(root, ".codegraph.toml")

	code, out, errOut := run(t, "--config", cfg, "--json", "index", "--languages", "python")
	require.Equal(t, 0, code, errOut)
	var report struct{ Files, Committed int }
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Files)
	assert.Equal(t, 2, report.Committed)

	code, out, errOut = run(t, "--config", cfg, "--json", "index")
	require.Equal(t, 0, code, errOut)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Files, "without the flag every language is indexed")

	code, _, errOut = run(t, "--config", cfg, "index", "--languages", "cobol")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "unsupported language")
}

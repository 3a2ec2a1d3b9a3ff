package parser

import (
	"sync"
	"testing"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

func goLanguage() *sitter.Language {
	return sitter.NewLanguage(tree_sitter_go.Language())
}

func TestParserPool_GetPutTracksLeases(t *testing.T) {
	pool := NewParserPool(goLanguage())

	sp := pool.Get()
	if sp == nil {
		t.Fatal("expected non-nil parser from pool")
	}
	if got := pool.Stats(); got != 1 {
		t.Fatalf("expected 1 leased parser, got %d", got)
	}
	pool.Put(sp)
	if got := pool.Stats(); got != 0 {
		t.Fatalf("expected 0 leased parsers, got %d", got)
	}
	pool.Put(nil)
}

func TestParserPool_ParsesValidGo(t *testing.T) {
	pool := NewParserPool(goLanguage())

	tree := pool.Parse([]byte("package main\nfunc main() {}\n"))
	if tree == nil {
		t.Fatal("expected non-nil parse tree for valid Go source")
	}
	defer tree.Close()

	if root := tree.RootNode(); root == nil || root.HasError() {
		t.Fatal("expected error-free root node")
	}
	if got := pool.Stats(); got != 0 {
		t.Fatalf("Parse must return its parser, %d still leased", got)
	}
}

func TestParserPool_ConcurrentAccess(t *testing.T) {
	pool := NewParserPool(goLanguage())

	const goroutines = 20
	const iters = 50
	src := []byte("package main\nfunc run() {}\n")

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				tree := pool.Parse(src)
				if tree == nil {
					t.Errorf("expected non-nil parse tree")
					continue
				}
				tree.Close()
			}
		}()
	}
	wg.Wait()
}

func TestParserPool_LanguageSetAfterReset(t *testing.T) {
	pool := NewParserPool(goLanguage())

	sp := pool.Get()
	sp.Reset()
	pool.Put(sp)

	tree := pool.Parse([]byte("package main\nfunc ok() {}\n"))
	if tree == nil {
		t.Fatal("parser should still parse after a reset")
	}
	tree.Close()
}

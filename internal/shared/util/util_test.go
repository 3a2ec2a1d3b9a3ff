package util

import (
	"testing"
)

func TestNormalizePatternPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Empty", input: "", expected: ""},
		{name: "Dot", input: ".", expected: ""},
		{name: "Trim", input: "  ./foo/bar  ", expected: "foo/bar"},
		{name: "Relative", input: "foo/../bar", expected: "bar"},
		{name: "Backslashes", input: `foo\bar`, expected: "foo/bar"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizePatternPath(tc.input); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestHasPathPrefix(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		path     string
		prefix   string
		expected bool
	}{
		{name: "Same", path: "pkg/a", prefix: "pkg/a", expected: true},
		{name: "Nested", path: "pkg/a/b.go", prefix: "pkg/a", expected: true},
		{name: "Sibling", path: "pkg/ab/b.go", prefix: "pkg/a", expected: false},
		{name: "RootPrefix", path: "pkg/a.go", prefix: ".", expected: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := HasPathPrefix(tc.path, tc.prefix); got != tc.expected {
				t.Fatalf("HasPathPrefix(%q, %q) = %v, want %v", tc.path, tc.prefix, got, tc.expected)
			}
		})
	}
}

func TestHashParts(t *testing.T) {
	if HashParts("ab", "c") == HashParts("a", "bc") {
		t.Fatal("expected separator to distinguish part boundaries")
	}
	if HashParts("x", "y") != HashParts("x", "y") {
		t.Fatal("expected hashing to be deterministic")
	}
	if ContentHash([]byte("package main")) == ContentHash([]byte("package main ")) {
		t.Fatal("expected content hash to change with content")
	}
}

func TestDedupeSorted(t *testing.T) {
	got := DedupeSorted([]string{"b", "a", "b", "c"})
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

package cache

import "testing"

func TestLRU_GetPut(t *testing.T) {
	c := NewLRU[string, int](3)
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	if c.Len() != 3 {
		t.Fatalf("expected len 3, got %d", c.Len())
	}
	for k, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		v, ok := c.Get(k)
		if !ok || v != want {
			t.Fatalf("key %q: want %d got %d (ok=%v)", k, want, v, ok)
		}
	}
}

func TestLRU_EvictsLeastRecent(t *testing.T) {
	c := NewLRU[string, int](2)
	var evicted []string
	c.OnEvict = func(k string, _ int) { evicted = append(evicted, k) }

	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a")
	if n := c.Put("c", 3); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if _, ok := c.Peek("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("unexpected evictions %v", evicted)
	}
}

func TestLRU_RemoveDoesNotReportEviction(t *testing.T) {
	c := NewLRU[string, int](2)
	called := false
	c.OnEvict = func(string, int) { called = true }
	c.Put("a", 1)
	if v, ok := c.Remove("a"); !ok || v != 1 {
		t.Fatalf("remove: got %d, %v", v, ok)
	}
	if _, ok := c.Remove("a"); ok {
		t.Fatal("second remove should miss")
	}
	if called {
		t.Fatal("OnEvict must not run for explicit removals")
	}
}

func TestLRU_ZeroCapacity(t *testing.T) {
	c := NewLRU[int, int](0)
	if c.Cap() != 1 {
		t.Fatalf("expected cap 1, got %d", c.Cap())
	}
	c.Put(1, 1)
	c.Put(2, 2)
	if c.Len() != 1 {
		t.Fatalf("expected len 1, got %d", c.Len())
	}
}

package cache

import (
	"fmt"
	"testing"
)

func TestGetSet(t *testing.T) {
	c := New()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("k", "v")
	v, ok := c.Get("k")
	if !ok || v.(string) != "v" {
		t.Fatalf("expected hit with v, got %v %v", v, ok)
	}
}

func TestClear(t *testing.T) {
	c := New()

	c.Set("a", 1)
	c.Set("b", 2)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("expected empty cache after clear, got %d entries", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("expected miss after clear")
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New()

	for i := 0; i < Capacity; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}

	// Touch k0 so it becomes most recently used.
	if _, ok := c.Get("k0"); !ok {
		t.Fatal("expected k0 present")
	}

	c.Set("overflow", true)

	if _, ok := c.Get("k0"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("expected least recently used entry to be evicted")
	}
}

func TestKeyDeterministic(t *testing.T) {
	type params struct {
		ProjectID string `json:"project_id"`
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
	}

	a := Key("search", params{ProjectID: "p1", Query: "hello", Limit: 5})
	b := Key("search", params{ProjectID: "p1", Query: "hello", Limit: 5})
	if a != b {
		t.Errorf("same params produced different keys: %q vs %q", a, b)
	}

	c := Key("search", params{ProjectID: "p2", Query: "hello", Limit: 5})
	if a == c {
		t.Error("different params produced identical keys")
	}

	d := Key("list", params{ProjectID: "p1", Query: "hello", Limit: 5})
	if a == d {
		t.Error("different operations produced identical keys")
	}
}

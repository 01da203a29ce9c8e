package registry_test

import (
	"testing"

	"github.com/dirtvm/dirt/handle"
	"github.com/dirtvm/dirt/registry"
)

func TestAddFindRemove(t *testing.T) { // nolint:paralleltest
	r := registry.New[string](handle.KindNode)

	h1 := r.Add("a")
	h2 := r.Add("b")

	if v, ok := r.Find(h1); !ok || v != "a" {
		t.Errorf("Find(h1) = (%q, %v), want (\"a\", true)", v, ok)
	}

	if v, ok := r.Find(h2); !ok || v != "b" {
		t.Errorf("Find(h2) = (%q, %v), want (\"b\", true)", v, ok)
	}

	r.Remove(h1)

	if _, ok := r.Find(h1); ok {
		t.Errorf("Find(h1) after Remove: ok = true, want false")
	}

	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestAddReusesFreedSlot(t *testing.T) { // nolint:paralleltest
	r := registry.New[int](handle.KindNode)

	h0 := r.Add(0)
	h1 := r.Add(1)
	_ = r.Add(2)

	r.Remove(h1)

	h3 := r.Add(3)
	if h3 != h1 {
		t.Errorf("reused handle = %v, want %v", h3, h1)
	}

	if v, _ := r.Find(h0); v != 0 {
		t.Errorf("Find(h0) = %d, want 0", v)
	}
}

func TestRemoveIdempotent(t *testing.T) { // nolint:paralleltest
	r := registry.New[int](handle.KindNode)

	h := r.Add(1)
	r.Remove(h)
	r.Remove(h) // must not panic

	r.Remove(handle.New(handle.KindNode, 9999)) // out of range, must not panic
}

func TestFindOutOfNamespace(t *testing.T) { // nolint:paralleltest
	r := registry.New[int](handle.KindNode)
	_ = r.Add(1)

	if _, ok := r.Find(handle.New(handle.KindMesh, 0)); ok {
		t.Errorf("Find across namespaces: ok = true, want false")
	}
}

func TestCreate3NodesRemoveMiddleReuse(t *testing.T) { // nolint:paralleltest
	// Mirrors §8 scenario 6: Registry reuse.
	r := registry.New[int](handle.KindNode)

	h0 := r.Add(0)
	h1 := r.Add(1)
	h2 := r.Add(2)

	if h0 != handle.New(handle.KindNode, 0) ||
		h1 != handle.New(handle.KindNode, 1) ||
		h2 != handle.New(handle.KindNode, 2) {
		t.Fatalf("unexpected handle sequence: %v %v %v", h0, h1, h2)
	}

	r.Remove(h1)

	h3 := r.Add(3)
	if h3 != handle.New(handle.KindNode, 1) {
		t.Errorf("next Add() = %v, want %v", h3, handle.New(handle.KindNode, 1))
	}
}

// Package registry implements the dense, offset-based handle table used to
// expose host objects (VMs, Nodes, Meshes, Materials, Surfaces) to plugins
// by opaque numeric ID (§4.1).
package registry

import (
	"sync"

	"github.com/dirtvm/dirt/handle"
)

// Registry is a read/write-locked, dense slot table for values of type T.
// A handle returned by Add is valid until the matching Remove call; slots
// are reused on the next Add rather than left to grow the table forever.
type Registry[T any] struct {
	mu    sync.RWMutex
	base  handle.Kind
	slots []slot[T]
}

type slot[T any] struct {
	value    T
	occupied bool
}

// New creates a Registry whose handles are rooted at base.
func New[T any](base handle.Kind) *Registry[T] {
	return &Registry[T]{base: base}
}

// Add stores v in the first empty slot, or appends a new slot if none is
// free, and returns the resulting handle.
func (r *Registry[T]) Add(v T) handle.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if !r.slots[i].occupied {
			r.slots[i] = slot[T]{value: v, occupied: true}

			return handle.New(r.base, uint32(i))
		}
	}

	r.slots = append(r.slots, slot[T]{value: v, occupied: true})

	return handle.New(r.base, uint32(len(r.slots)-1))
}

// Remove empties the slot owned by h, if any. It is idempotent: removing an
// already-empty or out-of-range handle is a no-op.
func (r *Registry[T]) Remove(h handle.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := h.Slot(r.base)
	if int(i) >= len(r.slots) {
		return
	}

	r.slots[i] = slot[T]{}
}

// Find returns the value owned by h and true, or the zero value and false
// if h is out of range or its slot is empty.
func (r *Registry[T]) Find(h handle.Handle) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := h.Slot(r.base)
	if int(i) >= len(r.slots) || !r.slots[i].occupied {
		var zero T

		return zero, false
	}

	return r.slots[i].value, true
}

// Count returns the number of live (occupied) slots.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0

	for i := range r.slots {
		if r.slots[i].occupied {
			n++
		}
	}

	return n
}

// Each calls fn for every occupied slot, under the read lock. fn must not
// call back into the Registry.
func (r *Registry[T]) Each(fn func(h handle.Handle, v T)) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.slots {
		if r.slots[i].occupied {
			fn(handle.New(r.base, uint32(i)), r.slots[i].value)
		}
	}
}

// Package handle defines the opaque 32-bit identifiers plugins use to refer
// to host-owned objects, and the fixed, disjoint ID ranges that give each
// object kind its own namespace.
package handle

import "fmt"

// Handle is an opaque identifier for a host-owned object. Its high nibble
// encodes the object's Kind; the remainder is a dense slot index into that
// kind's registry.
type Handle uint32

// Nil is never a valid handle returned by a registry.
const Nil Handle = 0

// Kind identifies which registry a Handle belongs to.
type Kind uint32

// Base offsets for each handle namespace (§3 Data Model).
const (
	KindVM       Kind = 0x10000000
	KindNode     Kind = 0x20000000
	KindMesh     Kind = 0x30000000
	KindMaterial Kind = 0x40000000
	KindSurface  Kind = 0x50000000
)

func (k Kind) String() string {
	switch k {
	case KindVM:
		return "vm"
	case KindNode:
		return "node"
	case KindMesh:
		return "mesh"
	case KindMaterial:
		return "material"
	case KindSurface:
		return "surface"
	default:
		return fmt.Sprintf("kind(%#x)", uint32(k))
	}
}

// New composes a Handle from a kind's base offset and a dense slot index.
func New(k Kind, slot uint32) Handle {
	return Handle(uint32(k) + slot)
}

// Kind returns the namespace a handle belongs to, by masking to the base
// offset granularity used in New/InRange (top nibble).
func (h Handle) Kind() Kind {
	return Kind(uint32(h) & 0xF0000000)
}

// Slot returns the dense index within h's namespace.
func (h Handle) Slot(base Kind) uint32 {
	return uint32(h) - uint32(base)
}

// InRange reports whether h falls within the namespace rooted at base, given
// the namespace currently holds count live slots.
func InRange(h Handle, base Kind, count int) bool {
	if uint32(h) < uint32(base) {
		return false
	}

	return uint64(h)-uint64(base) < uint64(count)
}

func (h Handle) String() string {
	return fmt.Sprintf("%s:%#x", h.Kind(), uint32(h))
}

package scene

import "fmt"

// AttributeKind tags the component layout of a Mesh attribute's float
// array (§3 "Attributes hold typed element arrays"). Int variants are
// reserved, matching the spec's explicit "Int variants reserved" note;
// no producer in this module emits them yet.
type AttributeKind int

const (
	AttrFloat AttributeKind = iota + 1
	AttrVec2
	AttrVec3
	AttrVec4
)

// width returns the number of float32 components per row for k.
func (k AttributeKind) width() int {
	switch k {
	case AttrFloat:
		return 1
	case AttrVec2:
		return 2
	case AttrVec3:
		return 3
	case AttrVec4:
		return 4
	default:
		return 0
	}
}

// Attribute is one named, typed column of per-vertex data plus a dirty
// flag the renderer clears after upload (§3 "Mesh").
type Attribute struct {
	Kind  AttributeKind
	Data  []float32
	Dirty bool
}

// Rows reports how many complete elements Data currently holds.
func (a *Attribute) Rows() int {
	w := a.Kind.width()
	if w == 0 {
		return 0
	}

	return len(a.Data) / w
}

// Mesh is a name -> Attribute map plus an index (element) vector (§3
// "Mesh"). All attributes must present the same row count at upload
// time; mutation itself is never rejected on row-count grounds (§3
// invariant: "enforced at upload, not at mutation").
type Mesh struct {
	Name       string
	Attributes map[string]*Attribute
	Elements   []uint32
}

// NewMesh returns an empty, named Mesh.
func NewMesh(name string) *Mesh {
	return &Mesh{Name: name, Attributes: make(map[string]*Attribute)}
}

// PushAttribute appends values (a flat array whose length must be a
// multiple of kind's component width) onto the named attribute, creating
// it if absent. A misaligned values length is rejected and logged rather
// than partially applied (§8 boundary: "Mesh_pushAttribute with
// misaligned element pointers (rejected and logged)").
func (m *Mesh) PushAttribute(name string, kind AttributeKind, values []float32) error {
	w := kind.width()
	if w == 0 || len(values)%w != 0 {
		return fmt.Errorf("scene: mesh %q: attribute %q: %d values is not a multiple of width %d",
			m.Name, name, len(values), w)
	}

	a, ok := m.Attributes[name]
	if !ok {
		a = &Attribute{Kind: kind}
		m.Attributes[name] = a
	}

	a.Data = append(a.Data, values...)
	a.Dirty = true

	return nil
}

// SetElements replaces the mesh's index vector.
func (m *Mesh) SetElements(indices []uint32) {
	m.Elements = append([]uint32(nil), indices...)
}

// Uploaded clears every attribute's dirty flag, modelling the renderer's
// post-upload acknowledgement (§3 "dirty flag").
func (m *Mesh) Uploaded() {
	for _, a := range m.Attributes {
		a.Dirty = false
	}
}

// DedupeName returns the first of base, base_1, base_2, ... not already
// present in taken, fixing §9's open question about the original's
// non-terminating collision loop: increment the suffix until free, then
// accept, rather than looping forever on an inner continue.
func DedupeName(base string, taken map[string]bool) string {
	if !taken[base] {
		return base
	}

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

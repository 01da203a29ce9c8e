// Package scene implements the out-of-core host object model (§3 Node,
// Mesh, Material, Surface, Scene): the data plugins mutate through the
// createNode/Node_*/Mesh_*/Material_*/Surface_* host API family, registered
// through registry.Registry[T] and mutated only on the main thread.
//
// This package is the "out of scope ... specified only by the interface"
// collaborator (§1): there is no OpenGL renderer here, only the shape of
// the data an in-process renderer would consume. The vector/matrix types
// are adapted from gviegas/scene's linear package (V3/M4), sized for the
// Node position/rotation/scale and Scene near/far/FOV fields §3 requires.
package scene

import "github.com/dirtvm/dirt/handle"

// V3 is a 3-component float32 vector (position, scale).
type V3 [3]float32

// M4 is a column-major 4x4 float32 matrix (rotation).
type M4 [4][4]float32

// Identity returns the 4x4 identity matrix.
func Identity() M4 {
	var m M4
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}

	return m
}

// Component binds a Mesh and a Material to a Renderable Node, plus an
// opaque slot for renderer-private data (§3 "Node").
type Component struct {
	Mesh         handle.Handle
	Material     handle.Handle
	RendererData uint64
}

// Node is either a plain transform node or, when Renderable is true, a
// Renderable additionally carrying a vector of Components (§3 "Node").
type Node struct {
	Handle handle.Handle

	Position V3
	Rotation M4
	Scale    V3

	Children []handle.Handle

	Renderable bool
	Components []Component
}

// NewNode returns a Node with identity rotation and unit scale, the
// defaults a freshly createNode'd plugin object should have.
func NewNode() *Node {
	return &Node{
		Rotation: Identity(),
		Scale:    V3{1, 1, 1},
	}
}

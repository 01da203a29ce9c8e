package scene

import "github.com/dirtvm/dirt/handle"

// Scene owns the root Node and the camera Node (both handles into the
// caller's Node registry), plus projection parameters and a uniform map
// shared across the frame (§3 "A Scene owns a root Node and a camera
// Node, plus near/far/FOV and a uniform map").
type Scene struct {
	Root   handle.Handle
	Camera handle.Handle

	Near, Far, Fov float32

	Uniforms map[string]float32
}

// NewScene returns a Scene with no root/camera assigned. App does not
// assign them during boot; Root and Camera stay handle.Nil until a caller
// sets them.
func NewScene() *Scene {
	return &Scene{Uniforms: make(map[string]float32)}
}

package scene

import "github.com/dirtvm/dirt/model"

// Material is a named bag of shader-uniform-like values backed by a
// model.Model, reusing the Model sum-type (§9 "visitor dispatch via
// variant") rather than inventing a second typed-value tree for
// materials.
type Material struct {
	Name     string
	Uniforms *model.Model
}

// NewMaterial returns a named, empty Material.
func NewMaterial(name string) *Material {
	return &Material{Name: name, Uniforms: model.New()}
}

package scene

import (
	"encoding/binary"
	"log"
	"math"

	"github.com/dirtvm/dirt/handle"
	"github.com/dirtvm/dirt/registry"
	"github.com/dirtvm/dirt/thumb"
)

// MemView is the subset of Vm a scene API call needs to translate guest
// pointers/strings, avoiding a package cycle back onto vm.Vm.
type MemView interface {
	ToHost(guestPtr, size uint32) []byte
	ToGuest(data []byte) uint32
}

// Deps is what App supplies so the scene package can register objects
// and defer scene-graph/renderer mutations to the main thread (§4.5
// "Main-thread deferral"). Reads (Find) may happen on any worker thread
// through the registry's own read lock; only graph/attribute/pixel
// writes are deferred.
type Deps interface {
	Nodes() *registry.Registry[*Node]
	Meshes() *registry.Registry[*Mesh]
	Materials() *registry.Registry[*Material]
	Surfaces() *registry.Registry[*Surface]
	Scene() *Scene
	// Defer enqueues fn on the shared main-thread deferral queue.
	Defer(fn func())
	// Hold keeps h alive in the per-tick GC root vector until the next
	// gc() pull, giving the plugin at least one tick to attach it to a
	// permanent owner (§3 "Lifecycle").
	Hold(h handle.Handle)
}

// BuildAPI returns the createNode/Node_*/Mesh_*/Material_*/Surface_*
// host API table for one VM, closing over mem (that VM's guest-memory
// view) and deps (the shared scene registries). vm.Vm merges this table
// into its own at Boot time (§4.4 "Scene/resource-mutation symbols").
func BuildAPI(mem MemView, deps Deps) map[string]thumb.HostFunc {
	b := &builder{mem: mem, deps: deps}

	return map[string]thumb.HostFunc{
		"createNode":     b.createNode,
		"createMesh":     b.createMesh,
		"createMaterial": b.createMaterial,
		"createSurface":  b.createSurface,

		"Node_setPosition":  b.nodeSetPosition,
		"Node_setScale":     b.nodeSetScale,
		"Node_addChild":     b.nodeAddChild,
		"Node_addComponent": b.nodeAddComponent,

		"Mesh_pushAttribute": b.meshPushAttribute,
		"Mesh_setElements":   b.meshSetElements,

		"Material_setFloat": b.materialSetFloat,

		"Surface_writePixels": b.surfaceWritePixels,
	}
}

type builder struct {
	mem  MemView
	deps Deps
}

func (b *builder) createNode(thumb.Args) thumb.Result {
	h := b.deps.Nodes().Add(NewNode())
	b.deps.Hold(h)

	return thumb.Uint32R(uint32(h))
}

func (b *builder) createMesh(args thumb.Args) thumb.Result {
	name := args.CString(0)

	taken := make(map[string]bool)
	b.deps.Meshes().Each(func(_ handle.Handle, m *Mesh) { taken[m.Name] = true })

	h := b.deps.Meshes().Add(NewMesh(DedupeName(name, taken)))
	b.deps.Hold(h)

	return thumb.Uint32R(uint32(h))
}

func (b *builder) createMaterial(args thumb.Args) thumb.Result {
	name := args.CString(0)
	h := b.deps.Materials().Add(NewMaterial(name))
	b.deps.Hold(h)

	return thumb.Uint32R(uint32(h))
}

func (b *builder) createSurface(args thumb.Args) thumb.Result {
	w := args.Uint32(0)
	ht := args.Uint32(1)
	h := b.deps.Surfaces().Add(NewSurface(w, ht))
	b.deps.Hold(h)

	return thumb.Uint32R(uint32(h))
}

func (b *builder) nodeSetPosition(args thumb.Args) thumb.Result {
	h := handle.Handle(args.Uint32(0))
	x, y, z := args.Float32(1), args.Float32(2), args.Float32(3)

	b.deps.Defer(func() {
		n, ok := b.deps.Nodes().Find(h)
		if !ok {
			return
		}

		n.Position = V3{x, y, z}
	})

	return thumb.VoidResult()
}

func (b *builder) nodeSetScale(args thumb.Args) thumb.Result {
	h := handle.Handle(args.Uint32(0))
	x, y, z := args.Float32(1), args.Float32(2), args.Float32(3)

	b.deps.Defer(func() {
		n, ok := b.deps.Nodes().Find(h)
		if !ok {
			return
		}

		n.Scale = V3{x, y, z}
	})

	return thumb.VoidResult()
}

func (b *builder) nodeAddChild(args thumb.Args) thumb.Result {
	parent := handle.Handle(args.Uint32(0))
	child := handle.Handle(args.Uint32(1))

	b.deps.Defer(func() {
		p, ok := b.deps.Nodes().Find(parent)
		if !ok {
			return
		}

		p.Children = append(p.Children, child)
	})

	return thumb.VoidResult()
}

func (b *builder) nodeAddComponent(args thumb.Args) thumb.Result {
	nodeH := handle.Handle(args.Uint32(0))
	meshH := handle.Handle(args.Uint32(1))
	matH := handle.Handle(args.Uint32(2))

	b.deps.Defer(func() {
		n, ok := b.deps.Nodes().Find(nodeH)
		if !ok {
			return
		}

		n.Renderable = true
		n.Components = append(n.Components, Component{Mesh: meshH, Material: matH})
	})

	return thumb.VoidResult()
}

// readFloats decodes count little-endian float32s starting at guest
// pointer ptr, or nil if the range is out of bounds.
func readFloats(mem MemView, ptr uint32, count uint32) []float32 {
	buf := mem.ToHost(ptr, count*4)
	if buf == nil {
		return nil
	}

	out := make([]float32, count)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return out
}

func (b *builder) meshPushAttribute(args thumb.Args) thumb.Result {
	h := handle.Handle(args.Uint32(0))
	name := args.CString(1)
	kind := AttributeKind(args.Uint32(2))
	ptr := args.Uint32(3)
	count := args.Uint32(4)

	values := readFloats(b.mem, ptr, count)
	if values == nil {
		log.Printf("scene: Mesh_pushAttribute: out-of-range pointer %#x (count=%d)", ptr, count)

		return thumb.BoolR(false)
	}

	w := kind.width()
	if w == 0 || len(values)%w != 0 {
		log.Printf("scene: Mesh_pushAttribute: mesh %v: %d values is not a multiple of width %d",
			h, len(values), w)

		return thumb.BoolR(false)
	}

	// The alignment check above is the only way PushAttribute can fail, so
	// the result is known synchronously even though the mutation itself is
	// deferred to the main thread.
	b.deps.Defer(func() {
		if m, found := b.deps.Meshes().Find(h); found {
			_ = m.PushAttribute(name, kind, values)
		}
	})

	return thumb.BoolR(true)
}

func (b *builder) meshSetElements(args thumb.Args) thumb.Result {
	h := handle.Handle(args.Uint32(0))
	ptr := args.Uint32(1)
	count := args.Uint32(2)

	buf := b.mem.ToHost(ptr, count*4)
	if buf == nil {
		return thumb.VoidResult()
	}

	indices := make([]uint32, count)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	b.deps.Defer(func() {
		m, ok := b.deps.Meshes().Find(h)
		if !ok {
			return
		}

		m.SetElements(indices)
	})

	return thumb.VoidResult()
}

func (b *builder) materialSetFloat(args thumb.Args) thumb.Result {
	h := handle.Handle(args.Uint32(0))
	key := args.CString(1)
	v := args.Float32(2)

	b.deps.Defer(func() {
		mat, ok := b.deps.Materials().Find(h)
		if !ok {
			return
		}

		mat.Uniforms.SetFloat(key, float64(v))
	})

	return thumb.VoidResult()
}

func (b *builder) surfaceWritePixels(args thumb.Args) thumb.Result {
	h := handle.Handle(args.Uint32(0))
	x, y := args.Int32(1), args.Int32(2)
	w, ht := args.Uint32(3), args.Uint32(4)
	ptr := args.Uint32(5)

	buf := b.mem.ToHost(ptr, w*ht*4)
	if buf == nil {
		return thumb.VoidResult()
	}

	pixels := make([]uint32, w*ht)
	for i := range pixels {
		pixels[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}

	b.deps.Defer(func() {
		s, ok := b.deps.Surfaces().Find(h)
		if !ok {
			return
		}

		s.WritePixels(x, y, w, ht, pixels)
	})

	return thumb.VoidResult()
}

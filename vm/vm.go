// Package vm implements the per-plugin Vm type: a Thumb interpreter plus
// its file-handle table, message FIFO, event ring, and the global host
// API surface plugins call through the BLX trampoline (§4.4).
package vm

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/dirtvm/dirt/bus"
	"github.com/dirtvm/dirt/handle"
	"github.com/dirtvm/dirt/image"
	"github.com/dirtvm/dirt/model"
	"github.com/dirtvm/dirt/thumb"
)

// DefaultSpeed is the instruction budget for one run() call: (32 MiB)/30,
// modelling roughly one 32-bit-instruction-equivalent budget per frame at
// 30 Hz (§4.4 "run()").
const DefaultSpeed = (32 * 1024 * 1024) / 30

// reservedFileSlots is the number of low file-handle numbers reserved for
// stdin/stdout/stderr pass-through (§3 "VM-local state").
const reservedFileSlots = 3

// Deps is the set of host-level operations a Vm's API table needs but
// that don't belong to any single Vm: the shared Model, inter-VM message
// routing, VM lifecycle, and the main-thread deferral queue. App
// implements this; injecting it here (rather than importing app) avoids
// a package cycle.
type Deps interface {
	Model() *model.Model
	// EventBus returns the shared EventBus a VM's enableEvent call
	// subscribes to.
	EventBus() *bus.EventBus
	// RouteSystem parses a vmSystem command line: if it names an
	// existing VM by numeric handle, message is routed there;
	// otherwise a new VM is booted from ./plugins/<name>/<name>.drt.
	// Returns the handle of the recipient/new VM, or handle.Nil.
	RouteSystem(parts []string) handle.Handle
	// ReleaseVM marks h for removal from the pool (vmExit).
	ReleaseVM(h handle.Handle)
	// Defer enqueues fn on the main-thread deferral queue.
	Defer(fn func())
}

// Vm is one running plugin instance: its Thumb interpreter, the
// resources only it owns (files, messages, pending events), and its
// handle within the global VM registry.
type Vm struct {
	Handle handle.Handle
	Cpu    *thumb.ThumbCpu

	// WorkDir is resolved once at boot and used as the base for
	// relative vmOpen paths, replacing the original implementation's
	// process-wide chdir (see DESIGN.md "per-Vm WorkDir").
	WorkDir string

	Messages *bus.MessageBus
	Events   bus.Ring

	mu            sync.Mutex
	activeMessage []string
	files         []*os.File

	deps Deps
}

// New creates a Vm bound to h, ready for Boot.
func New(h handle.Handle, deps Deps) *Vm {
	return &Vm{
		Handle:   h,
		Messages: bus.NewMessageBus(),
		deps:     deps,
	}
}

// Boot loads image data via the image package, resolves its imports
// against the global host API overlaid with overlay, and resets the CPU
// (§4.3 "Load procedure", §4.4 "boot(image[, ram_size])"). Boot is
// idempotent: calling it again replaces all prior VM state.
func (v *Vm) Boot(data []byte, ramSize uint32, overlay map[string]thumb.HostFunc) error {
	loaded, err := image.Load(data, ramSize)
	if err != nil {
		return fmt.Errorf("vm: boot: %w", err)
	}

	api := v.hostAPI()
	for name, fn := range overlay {
		api[name] = fn
	}

	resolve := image.Resolver(func(name string) (thumb.HostFunc, bool) {
		fn, ok := api[name]

		return fn, ok
	})

	apiIndex := image.Link(loaded, resolve)

	cpu := thumb.New(loaded.State)
	cpu.ApiIndex = apiIndex
	cpu.OnUnknownOpcode(func(op uint16, pc uint32) {
		log.Printf("vm %s: unknown opcode %#04x at pc=%#x", v.Handle, op, pc)
	})

	v.Cpu = cpu

	loaded.State.Reset()

	return nil
}

// Run executes up to speed instructions (default DefaultSpeed), stopping
// early on yield or crash. A crashed VM's Run is a no-op (§4.4, §7).
func (v *Vm) Run(speed int) {
	if v.Cpu == nil || v.Cpu.State.Crashed {
		return
	}

	v.Cpu.Exec(speed)
}

// Crashed reports whether the VM has faulted on an out-of-range access.
func (v *Vm) Crashed() bool {
	return v.Cpu != nil && v.Cpu.State.Crashed
}

// Message enqueues args onto this VM's FIFO (§4.4 "message(args)").
func (v *Vm) Message(args []string) {
	v.Messages.Push(args)
}

// Event pushes id onto this VM's pending-event ring (§4.4 "event(id)").
func (v *Vm) Event(id bus.EventID) {
	v.Events.Push(id)
}

// ToHost returns an aliasing view into guest RAM, or nil if out of range
// (§4.4 "to_host").
func (v *Vm) ToHost(guestPtr, size uint32) []byte {
	return v.Cpu.State.ToHost(guestPtr, size)
}

// ToGuest appends data past the VM's current extended RAM size and
// returns its guest pointer (§4.4 "to_guest").
func (v *Vm) ToGuest(data []byte) uint32 {
	return v.Cpu.State.ToGuest(data)
}

func (v *Vm) closeFiles() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, f := range v.files {
		if f != nil {
			f.Close()
		}
	}
}

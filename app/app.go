// Package app implements the host process: it owns the shared
// registries, the configuration Model, the scene, and the VmPool, and
// drives the per-tick phase machine that boots and schedules plugin VMs
// (§4.6).
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dirtvm/dirt/bus"
	"github.com/dirtvm/dirt/config"
	"github.com/dirtvm/dirt/handle"
	"github.com/dirtvm/dirt/model"
	"github.com/dirtvm/dirt/registry"
	"github.com/dirtvm/dirt/scene"
	"github.com/dirtvm/dirt/vm"
	"github.com/dirtvm/dirt/vmpool"
)

// pluginDir is the canonical plugin directory layout: ./plugins/<name>/<name>.drt
// (§6 "Plugin directory layout").
const pluginDir = "plugins"

// App is the host process: registries, Model, Scene, VmPool and the
// glue between them (§4.6).
type App struct {
	AssetRoot string

	model *model.Model
	scene *scene.Scene

	vms       *registry.Registry[*vm.Vm]
	nodes     *registry.Registry[*scene.Node]
	meshes    *registry.Registry[*scene.Mesh]
	materials *registry.Registry[*scene.Material]
	surfaces  *registry.Registry[*scene.Surface]

	events *bus.EventBus
	pool   *vmpool.VmPool

	gcMu  sync.Mutex
	gcLog []handle.Handle

	liveMu sync.Mutex
	live   map[handle.Handle]*vm.Vm

	phase int
}

// New returns an App rooted at assetRoot (the directory containing
// settings.ini and ./plugins), with all registries and the Model empty.
func New(assetRoot string, speed int) *App {
	return &App{
		AssetRoot: assetRoot,
		model:     model.New(),
		scene:     scene.NewScene(),
		vms:       registry.New[*vm.Vm](handle.KindVM),
		nodes:     registry.New[*scene.Node](handle.KindNode),
		meshes:    registry.New[*scene.Mesh](handle.KindMesh),
		materials: registry.New[*scene.Material](handle.KindMaterial),
		surfaces:  registry.New[*scene.Surface](handle.KindSurface),
		events:    bus.NewEventBus(),
		pool:      vmpool.New(speed),
		live:      make(map[handle.Handle]*vm.Vm),
	}
}

// Model returns the shared configuration/KV-store Model (implements
// vm.Deps).
func (a *App) Model() *model.Model { return a.model }

// EventBus returns the shared EventBus (implements vm.Deps).
func (a *App) EventBus() *bus.EventBus { return a.events }

// Defer enqueues fn on the main-thread deferral queue (implements
// vm.Deps and scene.Deps).
func (a *App) Defer(fn func()) { a.pool.Defer(fn) }

// Nodes, Meshes, Materials and Surfaces expose the scene registries
// (implements scene.Deps).
func (a *App) Nodes() *registry.Registry[*scene.Node]         { return a.nodes }
func (a *App) Meshes() *registry.Registry[*scene.Mesh]        { return a.meshes }
func (a *App) Materials() *registry.Registry[*scene.Material] { return a.materials }
func (a *App) Surfaces() *registry.Registry[*scene.Surface]   { return a.surfaces }

// Scene returns the shared Scene (implements scene.Deps).
func (a *App) Scene() *scene.Scene { return a.scene }

// Hold keeps h alive in this tick's GC root vector (implements
// scene.Deps, §3 "Lifecycle").
func (a *App) Hold(h handle.Handle) {
	a.gcMu.Lock()
	a.gcLog = append(a.gcLog, h)
	a.gcMu.Unlock()
}

// ReleaseVM removes h from the live-VM set (implements vm.Deps, vmExit).
func (a *App) ReleaseVM(h handle.Handle) {
	a.liveMu.Lock()
	delete(a.live, h)
	a.liveMu.Unlock()

	a.vms.Remove(h)
}

// RouteSystem implements vm.Deps for the vmSystem host API call: if
// parts[0] parses as the decimal handle of a live VM, the full token list
// (parts[0] included) is routed to it as a message; otherwise a new VM is
// booted from ./plugins/<parts[0]>/<parts[0]>.drt with the full token
// list as its initial message (§4.4 "vmSystem").
func (a *App) RouteSystem(parts []string) handle.Handle {
	if len(parts) == 0 {
		return handle.Nil
	}

	if n, err := strconv.ParseUint(parts[0], 10, 32); err == nil {
		target := handle.Handle(uint32(n))
		if recipient, ok := a.vms.Find(target); ok {
			recipient.Message(parts)

			return target
		}
	}

	h, err := a.bootVM(parts)
	if err != nil {
		log.Printf("app: vmSystem: boot %q: %v", parts[0], err)

		return handle.Nil
	}

	return h
}

// Boot parses settingsPath, emits Boot, assembles the main-plugin argv
// from the Model, and boots the root VM (§4.6 "boot()").
func (a *App) Boot(settingsPath string) error {
	f, err := os.Open(settingsPath)
	if err != nil {
		return fmt.Errorf("app: boot: %w", err)
	}
	defer f.Close()

	m, err := config.Load(f)
	if err != nil {
		return fmt.Errorf("app: boot: parse %s: %w", settingsPath, err)
	}

	a.model = m

	a.events.Emit(bus.Boot)

	argv := a.mainArgv()
	if len(argv) == 0 {
		argv = []string{"boot.bin"}
	}

	if _, err := a.bootVM(argv); err != nil {
		return fmt.Errorf("app: boot: %w", err)
	}

	return nil
}

// mainArgv assembles main.plugin followed by main.args.<i> for
// contiguous i starting at 0, stopping at the first empty/undefined
// entry (§4.6 step 3).
func (a *App) mainArgv() []string {
	plugin := a.model.GetString("main.plugin", "boot.bin")
	if plugin == "" {
		return nil
	}

	argv := []string{plugin}

	for i := 0; ; i++ {
		v := a.model.GetString(fmt.Sprintf("main.args.%d", i), "")
		if v == "" {
			break
		}

		argv = append(argv, v)
	}

	return argv
}

// bootVM resolves ./plugins/<argv[0]>/<argv[0]>.drt, loads and boots a
// new Vm, sends argv as its initial message, and registers it as live
// (§4.6 "bootVM(argv)").
func (a *App) bootVM(argv []string) (handle.Handle, error) {
	name := argv[0]
	path := filepath.Join(a.AssetRoot, pluginDir, name, name+".drt")

	data, err := os.ReadFile(path)
	if err != nil {
		return handle.Nil, fmt.Errorf("bootVM: read %s: %w", path, err)
	}

	v := vm.New(handle.Nil, a)
	v.WorkDir = filepath.Dir(path)

	h := a.vms.Add(v)
	v.Handle = h

	overlay := scene.BuildAPI(v, a)

	if err := v.Boot(data, 0, overlay); err != nil {
		a.vms.Remove(h)

		return handle.Nil, fmt.Errorf("bootVM: %s: %w", name, err)
	}

	v.Message(argv)

	a.liveMu.Lock()
	a.live[h] = v
	a.liveMu.Unlock()

	return h, nil
}

// liveVMs returns a snapshot slice of every currently live Vm.
func (a *App) liveVMs() []*vm.Vm {
	a.liveMu.Lock()
	defer a.liveMu.Unlock()

	out := make([]*vm.Vm, 0, len(a.live))
	for _, v := range a.live {
		out = append(out, v)
	}

	return out
}

// gc drops the per-frame GC root vector, ending the at-least-one-tick
// grace period Hold grants newly created objects (§3 "Lifecycle"). This
// module has no shared_ptr/refcounting equivalent to trigger an actual
// registry.Remove on expiry (Go values held in a Registry aren't
// reference-counted); gc is therefore the keep-alive boundary only,
// documented as an Open Question resolution in DESIGN.md. Explicit
// destruction remains the caller's responsibility (e.g. vmExit for VMs).
func (a *App) gc() {
	a.gcMu.Lock()
	a.gcLog = a.gcLog[:0]
	a.gcMu.Unlock()
}

// Tick runs one full pass of the phase machine (PreUpdate, Update,
// Draw, PostUpdate), gating each transition on the pool settling and
// draining main-thread work between phases (§4.5 "Phases").
func (a *App) Tick() {
	for {
		a.pool.Wait()

		switch a.phase {
		case 0:
			a.events.Emit(bus.PreUpdate)
		case 1:
			a.pool.Schedule(a.liveVMs())
			a.events.Emit(bus.Update)
		case 2:
			a.events.Emit(bus.Draw)
		case 3:
			a.events.Emit(bus.PostUpdate)
		default:
			a.phase = 0

			return
		}

		a.pool.RunMainThreadCallbacks()
		a.gc()
		a.phase++
	}
}

// Shutdown stops the VM pool cooperatively (§5 "Worker-thread shutdown
// is cooperative").
func (a *App) Shutdown() error {
	return a.pool.Shutdown(a.liveVMs())
}

// ServeDebug starts the pool's fgprof debug listener; see
// vmpool.VmPool.ServeDebug.
func (a *App) ServeDebug(ctx context.Context, addr string) error {
	return a.pool.ServeDebug(ctx, addr)
}

// ParseSystemArgs splits a raw vmSystem-style command line on whitespace
// only. Unlike the vmSystem host API call's parser, it does not treat
// double quotes or backslash escapes specially.
func ParseSystemArgs(line string) []string {
	return strings.Fields(line)
}

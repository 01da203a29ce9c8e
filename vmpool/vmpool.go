// Package vmpool implements the concurrent worker pool that drives VM
// time-slices and the main-thread deferral queue host API calls enqueue
// writes onto (§4.5). The tick phase machine itself lives in app.App.Tick.
package vmpool

import (
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dirtvm/dirt/vm"
)

// pollInterval is how long an idle worker sleeps before checking the
// queue again (§4.5 "sleep 1 ms if idle").
const pollInterval = time.Millisecond

// VmPool schedules Vm time-slices across a fixed worker goroutine pool
// and collects main-thread-only mutations for later draining (§4.5).
type VmPool struct {
	speed int

	startOnce sync.Once
	group     *errgroup.Group
	stopped   bool

	mu     sync.Mutex
	queue  []*vm.Vm
	busy   int
	active bool

	deferMu  sync.Mutex
	deferred []func()

	// singleThreaded, when true, runs VMs synchronously on the caller's
	// goroutine instead of spawning workers (§4.5 "Single-threaded WASM
	// builds short-circuit: wait() returns busy() without sleeping").
	singleThreaded bool
}

// New returns a VmPool whose workers each run up to speed instructions
// per Vm.Run call.
func New(speed int) *VmPool {
	return &VmPool{speed: speed}
}

// NewSingleThreaded returns a VmPool that runs every scheduled Vm inline
// on the calling goroutine, for builds with no real concurrency (§4.5).
func NewSingleThreaded(speed int) *VmPool {
	return &VmPool{speed: speed, singleThreaded: true}
}

// ensureWorkers spawns max(1, NumCPU) workers the first time it is
// called (§4.5 "if no workers exist yet, spawn ... workers").
func (p *VmPool) ensureWorkers() {
	if p.singleThreaded {
		return
	}

	p.startOnce.Do(func() {
		p.active = true
		p.group = new(errgroup.Group)

		n := runtime.NumCPU()
		if n < 1 {
			n = 1
		}

		for i := 0; i < n; i++ {
			p.group.Go(p.workerLoop)
		}
	})
}

func (p *VmPool) workerLoop() error {
	for {
		p.mu.Lock()

		if p.stopped {
			p.mu.Unlock()

			return nil
		}

		if len(p.queue) == 0 {
			p.mu.Unlock()
			time.Sleep(pollInterval)

			continue
		}

		// Pop from the back, matching §4.5 "pop a VM from the back of
		// queue under the lock".
		last := len(p.queue) - 1
		v := p.queue[last]
		p.queue = p.queue[:last]
		p.busy++
		p.mu.Unlock()

		v.Run(p.speed)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}
}

// Schedule spawns workers if needed and enqueues live for this tick's
// run round (§4.5 "Scheduling"). Schedule does no filtering: it enqueues
// whatever it is given, and Vm.Run itself is a no-op for a crashed Vm.
func (p *VmPool) Schedule(live []*vm.Vm) {
	p.ensureWorkers()

	if p.singleThreaded {
		for _, v := range live {
			v.Run(p.speed)
		}

		return
	}

	p.mu.Lock()
	p.queue = append(p.queue[:0], live...)
	p.mu.Unlock()
}

// Wait blocks until busy == 0 and the queue is empty, i.e. every
// scheduled Vm's slice for this round has completed (§4.5 "Wait
// contract"). Single-threaded pools never have outstanding work by the
// time Wait is called (Schedule already ran everything inline), so this
// returns immediately for them.
func (p *VmPool) Wait() {
	if p.singleThreaded {
		return
	}

	for {
		p.mu.Lock()
		done := p.busy == 0 && len(p.queue) == 0
		p.mu.Unlock()

		if done {
			return
		}

		time.Sleep(pollInterval)
	}
}

// Busy reports whether any VM slice is still queued or running, per
// §4.5's "wait() returns true while busy>0 OR queue non-empty" — exposed
// separately from Wait for callers that want a non-blocking check.
func (p *VmPool) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.busy > 0 || len(p.queue) > 0
}

// Defer enqueues fn to run on the main thread at the next
// RunMainThreadCallbacks call (§4.5 "Main-thread deferral"). Safe to
// call from any worker goroutine.
func (p *VmPool) Defer(fn func()) {
	p.deferMu.Lock()
	p.deferred = append(p.deferred, fn)
	p.deferMu.Unlock()
}

// RunMainThreadCallbacks drains and runs every deferred closure, in
// enqueue order, clearing the queue for the next tick (§4.5, grounded on
// original_source's MainThread.hpp synchronous vector-drain). Must only
// be called from the main thread, between phases.
func (p *VmPool) RunMainThreadCallbacks() {
	p.deferMu.Lock()
	fns := p.deferred
	p.deferred = nil
	p.deferMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Shutdown stops accepting new work, cooperatively yields every VM in
// live so in-flight slices end promptly, and joins all worker goroutines
// (§5 "Worker-thread shutdown is cooperative").
func (p *VmPool) Shutdown(live []*vm.Vm) error {
	for _, v := range live {
		if v.Cpu != nil {
			v.Cpu.Yield()
		}
	}

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	if p.group == nil {
		return nil
	}

	return p.group.Wait()
}

// Package hook implements a single-slot hook registry: one registration
// per event, registering nil unregisters. All five hooks share one plain
// struct with no lock of its own: registration is a direct field
// assignment, and the Fire* methods read the fields unsynchronized. Hooks
// are invoked from the tick handler and block/wake paths.
package hook

import "github.com/khryptorgraphics/zkrtos/tcb"

// IdleFunc runs whenever no other task is ready.
type IdleFunc func()

// SwitchFunc runs at every context switch. old is nil when switching in
// from idle (including the very first switch); new is nil when the CPU
// goes idle.
type SwitchFunc func(old, new *tcb.TCB)

// TickFunc runs once per tick, after the tick handler's critical section
// has been released.
type TickFunc func()

// StackOverflowFunc runs when StackOverflowed() is detected for t.
type StackOverflowFunc func(t *tcb.TCB)

// AllocFailedFunc runs when the heap cannot satisfy a request of size
// bytes.
type AllocFailedFunc func(size int)

// Registry holds the kernel's five hook slots.
type Registry struct {
	enabled bool

	Idle          IdleFunc
	Switch        SwitchFunc
	Tick          TickFunc
	StackOverflow StackOverflowFunc
	AllocFailed   AllocFailedFunc
}

// New returns an empty, enabled registry (every hook unregistered).
func New() *Registry { return &Registry{enabled: true} }

// SetEnabled toggles dispatch for the whole registry, independent of
// which individual hooks are registered; a kernel built with
// config.HookConfig.UsingHook false calls this to silence every Fire*
// call regardless of registration.
func (r *Registry) SetEnabled(enabled bool) { r.enabled = enabled }

// FireIdle invokes the idle hook if registered and the registry is
// enabled.
func (r *Registry) FireIdle() {
	if r.enabled && r.Idle != nil {
		r.Idle()
	}
}

// FireSwitch invokes the switch hook if registered and the registry is
// enabled.
func (r *Registry) FireSwitch(old, new *tcb.TCB) {
	if r.enabled && r.Switch != nil {
		r.Switch(old, new)
	}
}

// FireTick invokes the tick hook if registered and the registry is
// enabled.
func (r *Registry) FireTick() {
	if r.enabled && r.Tick != nil {
		r.Tick()
	}
}

// FireStackOverflow invokes the stack-overflow hook if registered and
// the registry is enabled.
func (r *Registry) FireStackOverflow(t *tcb.TCB) {
	if r.enabled && r.StackOverflow != nil {
		r.StackOverflow(t)
	}
}

// FireAllocFailed invokes the alloc-failed hook if registered and the
// registry is enabled.
func (r *Registry) FireAllocFailed(size int) {
	if r.enabled && r.AllocFailed != nil {
		r.AllocFailed(size)
	}
}

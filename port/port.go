// Package port declares the architecture-specific collaborator contract
// the kernel depends on. Board bring-up, clock trees, the context-switch
// trampoline, and interrupt controller setup belong to a concrete Port
// implementation, never to the scheduler itself.
package port

import "github.com/khryptorgraphics/zkrtos/tcb"

// Port is the abstract capability set a target needs to implement: an
// interface implemented once per target instead of a function-pointer
// table, so dynamic dispatch cost is paid once at the boundary and the
// fast paths (critical section enter/exit, CLZ) can still be inlined by
// a concrete implementation.
type Port interface {
	// InitTickSource starts a monotonic tick at the configured rate. The
	// port is responsible for calling back into the scheduler's tick
	// handler once per period.
	InitTickSource(hz int, onTick func())

	// TriggerContextSwitch requests that the next safe point invoke the
	// context-switch trampoline. Must be safe to call from within a
	// critical section or from the tick path.
	TriggerContextSwitch()

	// EnterCritical / ExitCritical mask kernel-aware interrupts, nesting
	// via a counter; only the outermost ExitCritical re-opens the mask.
	EnterCritical()
	ExitCritical()

	// StartFirstTask never returns; it launches the highest-priority
	// ready task.
	StartFirstTask(t *tcb.TCB)

	// InitStack lays down t's initial frame so that control resumes at
	// t.Entry(t.Arg) the first time it is switched in.
	InitStack(t *tcb.TCB)

	// CLZ returns the number of leading zero bits in v, used for O(1)
	// highest-priority-ready selection over the priority-active bitmap.
	CLZ(v uint64) uint8

	// IsInInterrupt reports whether the caller is currently executing in
	// interrupt context; kernel APIs that are not ISR-safe use this to
	// return kerrors.InInterrupt instead of corrupting state.
	IsInInterrupt() bool
}

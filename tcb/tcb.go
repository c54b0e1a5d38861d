// Package tcb defines the Task Control Block and its state machine. A
// TCB is immutable in its creation-time fields and mutable in everything
// the scheduler and blocking-primitive engine touch.
package tcb

import (
	"sync/atomic"

	"github.com/khryptorgraphics/zkrtos/ilist"
	"github.com/khryptorgraphics/zkrtos/ktime"
)

// State is one of the task's possible scheduling states.
type State int

const (
	Unknown State = iota
	Ready
	Delay
	Suspend
	EndlessBlocked
	TimeoutBlocked
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Delay:
		return "delay"
	case Suspend:
		return "suspend"
	case EndlessBlocked:
		return "endless-blocked"
	case TimeoutBlocked:
		return "timeout-blocked"
	default:
		return "unknown"
	}
}

// StackMagic is the fill byte written across a fresh stack region so the
// high-water-mark scan can measure how much was ever touched.
const StackMagic = 0xA5

// EntryFunc is a task's entry point.
type EntryFunc func(arg any)

// TCB is the kernel's per-task record.
type TCB struct {
	// --- immutable after creation ---
	Entry        EntryFunc
	Arg          any
	Name         string
	BasePriority int
	Stack        []byte // simulated stack region, front-filled with StackMagic

	// --- scheduler list membership ---
	// StateNode is this TCB's membership in a ready bucket or the suspend
	// list. The delay list and the timed-block list are heaps that track
	// their members through HeapIndex instead.
	StateNode ilist.Node
	// EventNode is membership in at most one blocking primitive's wait
	// list. A TimeoutBlocked task is on both the timed-block list (via
	// HeapIndex) and the primitive's wait list (via EventNode).
	EventNode ilist.Node

	// --- mutable scheduling state ---
	currentPriority atomic.Int64 // boosted by priority inheritance; current <= base numerically (0 is most urgent)
	State           State
	WakeUpTime      ktime.Tick
	TimeoutWakeup   bool // true: woken by tick expiry; false: woken by an event

	// --- runtime stats ---
	RunTimeTicks   uint64
	LastSwitchIn   ktime.Tick

	// --- priority inheritance ---
	// HeldMutexChain points at the head of the linked chain of mutexes
	// this task currently owns. Typed as `any` to avoid an import cycle
	// with package mutex; mutex.Mutex is the only concrete type ever
	// stored here, and package mutex owns all type assertions on it.
	HeldMutexChain any

	// BlockedOnMutex, when non-nil, is the *mutex.Mutex this task is
	// currently blocked waiting to acquire — the link package mutex walks
	// to chain priority inheritance across nested ownership. Typed `any`
	// for the same reason as HeldMutexChain.
	BlockedOnMutex any

	// HeapIndex is this TCB's position in whichever container/heap-backed
	// list (the scheduler's delay list or timed-block list) currently
	// holds it, or -1 if neither does. A TCB is never in both at once.
	HeapIndex int

	// Woken is the parking channel a blocked task's goroutine waits on
	// inside package waitq's Block and the scheduler's Delay. Buffered(1)
	// so the waker (an event wake or a tick timeout) never blocks
	// delivering it.
	Woken chan struct{}

	handle Handle
}

// Handle is a stable, comparable identity for a TCB, independent of the
// TCB's address (kept distinct from *TCB so callers can hold a handle
// across task deletion without risking a stale pointer dereference — this
// kernel never deletes tasks, but the distinction keeps task identity
// opaque).
type Handle uint64

var nextHandle atomic.Uint64

// New allocates a TCB. stack is the pre-sized, magic-byte-filled
// simulated stack region (callers normally obtain it via a heap
// allocation sized to the task's requested stack size).
func New(name string, maxNameLen int, entry EntryFunc, arg any, basePriority int, stack []byte) *TCB {
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	for i := range stack {
		stack[i] = StackMagic
	}
	t := &TCB{
		Entry:        entry,
		Arg:          arg,
		Name:         name,
		BasePriority: basePriority,
		Stack:        stack,
		State:        Unknown,
		HeapIndex:    -1,
		Woken:        make(chan struct{}, 1),
		handle:       Handle(nextHandle.Add(1)),
	}
	t.StateNode = *ilist.NewNode(t)
	t.EventNode = *ilist.NewNode(t)
	t.currentPriority.Store(int64(basePriority))
	return t
}

// Handle returns this TCB's stable identity.
func (t *TCB) Handle() Handle { return t.handle }

// Priority returns the task's current (possibly boosted) priority.
func (t *TCB) Priority() int { return int(t.currentPriority.Load()) }

// SetPriority updates the task's current priority. Callers are
// responsible for relocating the TCB within a ready bucket if it is
// currently Ready.
func (t *TCB) SetPriority(p int) { t.currentPriority.Store(int64(p)) }

// StackHighWaterMark returns the number of bytes from the bottom of the
// stack that were ever overwritten, by counting leading untouched magic
// bytes from the low end.
func (t *TCB) StackHighWaterMark() int {
	untouched := 0
	for _, b := range t.Stack {
		if b != StackMagic {
			break
		}
		untouched++
	}
	return len(t.Stack) - untouched
}

// StackOverflowed scans the lowest 16 bytes of the stack for the magic
// byte; any mismatch signals overflow.
func (t *TCB) StackOverflowed() bool {
	n := 16
	if len(t.Stack) < n {
		n = len(t.Stack)
	}
	for i := 0; i < n; i++ {
		if t.Stack[i] != StackMagic {
			return true
		}
	}
	return false
}

// CPUBasisPoints returns RunTimeTicks * 10000 / totalRunTimeTicks, 0 if
// totalRunTimeTicks is 0.
func (t *TCB) CPUBasisPoints(totalRunTimeTicks uint64) uint64 {
	if totalRunTimeTicks == 0 {
		return 0
	}
	return t.RunTimeTicks * 10000 / totalRunTimeTicks
}

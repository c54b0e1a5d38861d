// Package timer implements a software timer wheel. There is no
// dedicated timer task; processing runs directly off the tick
// handler, driven by the kernel facade calling ProcessExpired once per
// tick, after the scheduler's own tick handling and outside the kernel's
// critical section.
package timer

import (
	"container/heap"

	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
)

// Handle identifies a timer.
type Handle uint64

// CallbackFunc runs when a timer expires. It is invoked with the kernel's
// critical section released, so it may itself call kernel APIs (spec
// §4.7: "callbacks may themselves call kernel APIs").
type CallbackFunc func(id Handle, arg any)

// Timer is one software timer: a period, a reload mode, and a callback.
type Timer struct {
	id         Handle
	name       string
	period     ktime.Tick
	autoReload bool
	active     bool
	wakeUp     ktime.Tick
	callback   CallbackFunc
	arg        any
	heapIndex  int
}

type timerHeap struct{ items []*Timer }

func (h *timerHeap) Len() int { return len(h.items) }
func (h *timerHeap) Less(i, j int) bool {
	return ktime.Before(h.items[i].wakeUp, h.items[j].wakeUp)
}
func (h *timerHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].heapIndex = i
	h.items[j].heapIndex = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.heapIndex = len(h.items)
	h.items = append(h.items, t)
}
func (h *timerHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	t.heapIndex = -1
	return t
}
func (h *timerHeap) Peek() *Timer {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// Locker is the minimal critical-section contract the manager depends
// on; sched.Scheduler satisfies it structurally.
type Locker interface {
	EnterCritical()
	ExitCritical()
}

// Manager owns every timer's identity and a single pending list sorted
// by absolute wake-up.
type Manager struct {
	locker     Locker
	maxTimers  int
	pending    *timerHeap
	all        map[Handle]*Timer
	nextHandle uint64
}

// NewManager returns an empty timer manager bounded to maxTimers live
// timers.
func NewManager(locker Locker, maxTimers int) *Manager {
	return &Manager{
		locker:    locker,
		maxTimers: maxTimers,
		pending:   &timerHeap{},
		all:       make(map[Handle]*Timer),
	}
}

// Create registers a new, initially stopped timer.
func (m *Manager) Create(name string, period ktime.Tick, autoReload bool, cb CallbackFunc, arg any) (Handle, kerrors.Code) {
	if period == 0 || cb == nil {
		return 0, kerrors.InvalidParam
	}
	m.locker.EnterCritical()
	defer m.locker.ExitCritical()
	if len(m.all) >= m.maxTimers {
		return 0, kerrors.NotEnoughMemory
	}
	m.nextHandle++
	t := &Timer{
		id:         Handle(m.nextHandle),
		name:       name,
		period:     period,
		autoReload: autoReload,
		callback:   cb,
		arg:        arg,
		heapIndex:  -1,
	}
	m.all[t.id] = t
	return t.id, kerrors.Success
}

// Start (re)arms a timer for now+period. Starting an already-running
// timer reschedules it from now.
func (m *Manager) Start(h Handle, now ktime.Tick) kerrors.Code {
	m.locker.EnterCritical()
	defer m.locker.ExitCritical()
	t, ok := m.all[h]
	if !ok {
		return kerrors.InvalidHandle
	}
	if t.active {
		heap.Remove(m.pending, t.heapIndex)
	}
	t.wakeUp = now + t.period
	t.active = true
	heap.Push(m.pending, t)
	return kerrors.Success
}

// Stop disarms a timer without destroying it.
func (m *Manager) Stop(h Handle) kerrors.Code {
	m.locker.EnterCritical()
	defer m.locker.ExitCritical()
	t, ok := m.all[h]
	if !ok {
		return kerrors.InvalidHandle
	}
	if t.active {
		heap.Remove(m.pending, t.heapIndex)
		t.active = false
	}
	return kerrors.Success
}

// Destroy removes a timer entirely, stopping it first if armed.
func (m *Manager) Destroy(h Handle) kerrors.Code {
	m.locker.EnterCritical()
	defer m.locker.ExitCritical()
	t, ok := m.all[h]
	if !ok {
		return kerrors.InvalidHandle
	}
	if t.active {
		heap.Remove(m.pending, t.heapIndex)
	}
	delete(m.all, h)
	return kerrors.Success
}

// Active reports whether h is currently armed.
func (m *Manager) Active(h Handle) bool {
	m.locker.EnterCritical()
	defer m.locker.ExitCritical()
	t, ok := m.all[h]
	return ok && t.active
}

// ProcessExpired pops every timer whose deadline now has reached into a
// private list under the critical section, marking one-shot timers
// stopped as they are popped, then invokes each callback with the
// section released and re-arms auto-reload timers afterward. A one-shot
// timer therefore already reports inactive inside its own callback. The
// kernel facade calls this once per tick, immediately after the
// scheduler's own tick handling.
func (m *Manager) ProcessExpired(now ktime.Tick) {
	m.locker.EnterCritical()
	var expired []*Timer
	for {
		top := m.pending.Peek()
		if top == nil || !ktime.Reached(now, top.wakeUp) {
			break
		}
		heap.Pop(m.pending)
		if !top.autoReload {
			top.active = false
		}
		expired = append(expired, top)
	}
	m.locker.ExitCritical()

	for _, t := range expired {
		t.callback(t.id, t.arg)

		if t.autoReload {
			m.locker.EnterCritical()
			t.wakeUp = now + t.period
			heap.Push(m.pending, t)
			m.locker.ExitCritical()
		}
	}
}

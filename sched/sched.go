// Package sched implements the scheduler core: ready buckets, the delay
// and timed-block lists, the O(1) highest-priority selection, tick
// handling, and round-robin.
//
// Every mutating method here assumes the caller already holds the
// kernel's critical section (via the configured port.Port), except the
// public entry points that enter it themselves (Yield, Delay, SuspendTask,
// ResumeTask, SuspendAll, ResumeAll, Tick, and the Task, Tasks, and
// ReadyBucketLen lookups). Every kernel API enters the
// critical section exactly once, at its own top; none nest.
package sched

import (
	"container/heap"

	"github.com/khryptorgraphics/zkrtos/config"
	"github.com/khryptorgraphics/zkrtos/hook"
	"github.com/khryptorgraphics/zkrtos/ilist"
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/port"
	"github.com/khryptorgraphics/zkrtos/tcb"
	"github.com/khryptorgraphics/zkrtos/waitq"
)

// tickHeap orders TCBs by ascending absolute wake-up tick via
// container/heap, using an overflow-safe comparison. It is used for both
// the delay list and the timed-block list; a TCB is a member of at most
// one of these at any time, so a single HeapIndex field on the TCB
// suffices for both.
type tickHeap struct{ items []*tcb.TCB }

func (h *tickHeap) Len() int { return len(h.items) }
func (h *tickHeap) Less(i, j int) bool {
	return ktime.Before(h.items[i].WakeUpTime, h.items[j].WakeUpTime)
}
func (h *tickHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].HeapIndex = i
	h.items[j].HeapIndex = j
}
func (h *tickHeap) Push(x any) {
	t := x.(*tcb.TCB)
	t.HeapIndex = len(h.items)
	h.items = append(h.items, t)
}
func (h *tickHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	t.HeapIndex = -1
	return t
}
func (h *tickHeap) Peek() *tcb.TCB {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// Scheduler is the kernel's scheduler core.
type Scheduler struct {
	cfg   config.SchedulerConfig
	port  port.Port
	hooks *hook.Registry

	buckets []*ilist.List
	active  uint64 // bit (63-p) set iff buckets[p] is non-empty

	delay      *tickHeap
	timedBlock *tickHeap
	suspend    *ilist.List

	suspendNesting    int
	reschedulePending bool
	sliceRemaining    uint32

	current *tcb.TCB
	now     ktime.Tick

	allTasks map[tcb.Handle]*tcb.TCB
}

// New constructs a Scheduler with PriorityNum empty ready buckets.
func New(cfg config.SchedulerConfig, p port.Port, hooks *hook.Registry) *Scheduler {
	n := int(cfg.PriorityNum)
	s := &Scheduler{
		cfg:        cfg,
		port:       p,
		hooks:      hooks,
		buckets:    make([]*ilist.List, n),
		delay:      &tickHeap{},
		timedBlock: &tickHeap{},
		suspend:    ilist.New(),
		allTasks:   make(map[tcb.Handle]*tcb.TCB),
	}
	for i := range s.buckets {
		s.buckets[i] = ilist.New()
	}
	s.sliceRemaining = cfg.TimeSliceTicks
	return s
}

func maskBit(p int) uint64 { return uint64(1) << uint(63-p) }

// Now returns the current tick.
func (s *Scheduler) Now() ktime.Tick { return s.now }

// Current returns the scheduler's current highest-priority-ready task, or
// nil before the first dispatch and whenever no task is ready (idle).
func (s *Scheduler) Current() *tcb.TCB { return s.current }

// EnterCritical / ExitCritical delegate to the configured port, giving
// package waitq (and its primitives) a uniform Scheduler-shaped
// dependency without importing port directly.
func (s *Scheduler) EnterCritical() { s.port.EnterCritical() }
func (s *Scheduler) ExitCritical()  { s.port.ExitCritical() }

// AddTask registers a freshly created task as Ready. Must be called with
// the critical section held.
func (s *Scheduler) AddTask(t *tcb.TCB) kerrors.Code {
	if t.BasePriority < 0 || t.BasePriority >= len(s.buckets) {
		return kerrors.InvalidParam
	}
	s.allTasks[t.Handle()] = t
	t.State = tcb.Ready
	t.HeapIndex = -1
	s.pushReady(t)
	return kerrors.Success
}

func (s *Scheduler) pushReady(t *tcb.TCB) {
	p := t.Priority()
	s.buckets[p].PushBack(&t.StateNode)
	s.active |= maskBit(p)
}

func (s *Scheduler) removeReady(t *tcb.TCB) {
	p := t.Priority()
	ilist.Remove(&t.StateNode)
	if s.buckets[p].Empty() {
		s.active &^= maskBit(p)
	}
}

// highestPriorityReady returns the head of the highest-priority non-empty
// bucket, in O(1) via the port's CLZ over the active bitmap.
func (s *Scheduler) highestPriorityReady() *tcb.TCB {
	if s.active == 0 {
		return nil
	}
	p := int(s.port.CLZ(s.active))
	node := s.buckets[p].Front()
	if node == nil {
		return nil
	}
	return node.Owner().(*tcb.TCB)
}

// schedule is the internal, lock-free dispatch core: recompute the
// highest-priority-ready task and, if it differs from current, swap.
// Callers must already hold the critical section. It never blocks and
// never itself performs a context switch synchronously; it only ever
// requests one.
func (s *Scheduler) schedule() {
	if s.suspendNesting > 0 {
		s.reschedulePending = true
		return
	}
	hp := s.highestPriorityReady()
	if hp == nil {
		// No bucket is occupied: the CPU goes idle. Credit the
		// outgoing task's final running interval and clear current
		// so a later schedule() doesn't mistake a blocked/delayed/
		// suspended task for one that kept running through the idle
		// gap.
		if s.current != nil {
			old := s.current
			old.RunTimeTicks += uint64(ktime.Diff(s.now, old.LastSwitchIn))
			s.current = nil
			s.hooks.FireSwitch(old, nil)
			s.port.TriggerContextSwitch()
		}
		s.hooks.FireIdle()
		return
	}
	if s.current != nil && hp.Handle() == s.current.Handle() {
		return
	}
	old := s.current
	if old != nil {
		old.RunTimeTicks += uint64(ktime.Diff(s.now, old.LastSwitchIn))
	}
	hp.LastSwitchIn = s.now
	s.current = hp
	s.hooks.FireSwitch(old, hp)
	s.port.TriggerContextSwitch()
}

// Yield is the public voluntary-reschedule entry point. It is exported
// for tasks that want to trigger a reschedule outside of a blocking
// call.
func (s *Scheduler) Yield() {
	s.port.EnterCritical()
	s.schedule()
	s.port.ExitCritical()
}

// BlockCurrent implements waitq.Scheduler: it removes t from Ready,
// transitions it to EndlessBlocked or TimeoutBlocked, inserts it into the
// timed-block list when blockType is waitq.Timeout, and requests a
// reschedule. Caller holds the critical section and has already linked t
// into the primitive's wait list.
func (s *Scheduler) BlockCurrent(t *tcb.TCB, blockType waitq.BlockType, timeout ktime.Tick) {
	s.removeReady(t)
	t.TimeoutWakeup = false
	if blockType == waitq.Timeout {
		t.WakeUpTime = s.now + timeout
		t.State = tcb.TimeoutBlocked
		heap.Push(s.timedBlock, t)
	} else {
		t.State = tcb.EndlessBlocked
	}
	s.schedule()
}

// WakeReady implements waitq.Scheduler: removes t from the timed-block
// list if present, marks it Ready, enqueues it, and reschedules. Caller
// holds the critical section.
func (s *Scheduler) WakeReady(t *tcb.TCB) {
	if t.State == tcb.TimeoutBlocked && t.HeapIndex >= 0 {
		heap.Remove(s.timedBlock, t.HeapIndex)
	}
	t.State = tcb.Ready
	s.pushReady(t)
	s.schedule()
}

// Reprioritize sets t's current priority, relocating it to a new ready
// bucket if it is currently Ready, and requests a reschedule. Caller must
// already hold the critical section — used by package mutex while
// chaining priority inheritance.
func (s *Scheduler) Reprioritize(t *tcb.TCB, newPriority int) {
	if t.State == tcb.Ready {
		s.removeReady(t)
		t.SetPriority(newPriority)
		s.pushReady(t)
	} else {
		t.SetPriority(newPriority)
	}
	s.schedule()
}

// Delay blocks the current task for `ticks`. It is not routed through
// package waitq because a delay has no event list; only the tick handler
// can wake it.
func (s *Scheduler) Delay(t *tcb.TCB, ticks ktime.Tick) kerrors.Code {
	if !ktime.ValidTimeout(ticks) {
		return kerrors.OutOfRange
	}
	s.port.EnterCritical()
	s.removeReady(t)
	t.State = tcb.Delay
	t.WakeUpTime = s.now + ticks
	heap.Push(s.delay, t)
	s.schedule()
	s.port.ExitCritical()

	<-t.Woken

	s.port.EnterCritical()
	s.port.ExitCritical()
	return kerrors.Success
}

// SuspendTask moves t from Ready to Suspend explicitly. Blocked/Delay
// tasks are not moved; only a Ready task can be explicitly suspended by
// this API.
func (s *Scheduler) SuspendTask(t *tcb.TCB) kerrors.Code {
	s.port.EnterCritical()
	defer s.port.ExitCritical()
	if t.State != tcb.Ready {
		return kerrors.State
	}
	s.removeReady(t)
	t.State = tcb.Suspend
	s.suspend.PushBack(&t.StateNode)
	if s.current != nil && s.current.Handle() == t.Handle() {
		s.current = nil
	}
	s.schedule()
	return kerrors.Success
}

// ResumeTask moves t from Suspend back to Ready.
func (s *Scheduler) ResumeTask(t *tcb.TCB) kerrors.Code {
	s.port.EnterCritical()
	defer s.port.ExitCritical()
	if t.State != tcb.Suspend {
		return kerrors.State
	}
	ilist.Remove(&t.StateNode)
	t.State = tcb.Ready
	s.pushReady(t)
	s.schedule()
	return kerrors.Success
}

// SuspendAll increments the nested scheduler-suspend counter; it is a
// counter, not a flag, so nested suspends are permitted.
func (s *Scheduler) SuspendAll() {
	s.port.EnterCritical()
	s.suspendNesting++
	s.port.ExitCritical()
}

// ResumeAll decrements the suspend counter; when it reaches zero and a
// reschedule was requested while suspended, it runs immediately.
func (s *Scheduler) ResumeAll() {
	s.port.EnterCritical()
	if s.suspendNesting > 0 {
		s.suspendNesting--
	}
	if s.suspendNesting == 0 && s.reschedulePending {
		s.reschedulePending = false
		s.schedule()
	}
	s.port.ExitCritical()
}

// Tick is the tick interrupt handler. It advances time, drains expired
// delay/timed-block entries, handles round-robin, and requests a
// reschedule. Timer expiry and the tick hook run afterward, outside the
// critical section, orchestrated by the kernel facade.
func (s *Scheduler) Tick() {
	s.port.EnterCritical()
	s.now++

	for {
		top := s.delay.Peek()
		if top == nil || !ktime.Reached(s.now, top.WakeUpTime) {
			break
		}
		heap.Pop(s.delay)
		top.State = tcb.Ready
		s.pushReady(top)
		signalWoken(top)
	}

	for {
		top := s.timedBlock.Peek()
		if top == nil || !ktime.Reached(s.now, top.WakeUpTime) {
			break
		}
		heap.Pop(s.timedBlock)
		ilist.Remove(&top.EventNode)
		top.TimeoutWakeup = true
		top.State = tcb.Ready
		s.pushReady(top)
		signalWoken(top)
	}

	hp := s.highestPriorityReady()
	switch {
	case hp != nil && (s.current == nil || hp.Priority() < s.current.Priority()):
		s.schedule()
	case hp == nil:
		s.hooks.FireIdle()
	case s.current != nil && s.buckets[s.current.Priority()].Len() >= 2:
		if s.sliceRemaining > 0 {
			s.sliceRemaining--
		}
		if s.sliceRemaining == 0 {
			ilist.MoveToBack(s.buckets[s.current.Priority()], &s.current.StateNode)
			s.sliceRemaining = s.cfg.TimeSliceTicks
			s.schedule()
		}
	}

	s.port.ExitCritical()
}

// signalWoken releases a blocked goroutine waiting in Delay/waitq.Block,
// non-blocking since Woken is buffered(1) and a task is only ever woken
// once per block.
func signalWoken(t *tcb.TCB) {
	select {
	case t.Woken <- struct{}{}:
	default:
	}
}

// Task looks up a registered task by handle, or nil if h is unknown.
func (s *Scheduler) Task(h tcb.Handle) *tcb.TCB {
	s.port.EnterCritical()
	defer s.port.ExitCritical()
	return s.allTasks[h]
}

// Tasks returns a snapshot slice of every task ever registered, for
// diagnostics (stack-overflow scanning, CPU stats, DumpTasks).
func (s *Scheduler) Tasks() []*tcb.TCB {
	s.port.EnterCritical()
	defer s.port.ExitCritical()
	out := make([]*tcb.TCB, 0, len(s.allTasks))
	for _, t := range s.allTasks {
		out = append(out, t)
	}
	return out
}

// ReadyBucketLen reports the number of Ready tasks at priority p, for
// tests and introspection.
func (s *Scheduler) ReadyBucketLen(p int) int {
	s.port.EnterCritical()
	defer s.port.ExitCritical()
	if p < 0 || p >= len(s.buckets) {
		return 0
	}
	return s.buckets[p].Len()
}

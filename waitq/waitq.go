// Package waitq is the blocking-primitive engine shared by semaphores,
// mutexes, and queues. It owns the wait-list ordering policy (FIFO or
// priority-descending-with-FIFO-ties) and the block/wake choreography;
// it depends on the scheduler only through the small Scheduler interface
// below, so package sched never needs to import waitq and the two
// compose without a cycle.
package waitq

import (
	"github.com/khryptorgraphics/zkrtos/ilist"
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/tcb"
)

// SortOrder selects how a WaitList orders its members.
type SortOrder int

const (
	// FIFO orders waiters strictly by arrival.
	FIFO SortOrder = iota
	// PriorityDescending orders waiters by descending current priority,
	// ties broken FIFO. Semaphores, mutexes, and both queue wait lists
	// use this order.
	PriorityDescending
)

// BlockType selects whether a block installs a timed-block list entry.
type BlockType int

const (
	// Endless blocks with no timeout: the task is on an event list only.
	Endless BlockType = iota
	// Timeout blocks with a finite deadline: the task is on both the
	// event list and the scheduler's timed-block list.
	Timeout
)

// Scheduler is the subset of scheduler behavior the blocking engine
// depends on.
type Scheduler interface {
	Now() ktime.Tick
	Current() *tcb.TCB
	// BlockCurrent transitions t out of Ready (EndlessBlocked or
	// TimeoutBlocked per blockType), inserting it into the timed-block
	// list when blockType is Timeout, and calls Schedule(). Caller must
	// already hold the kernel's critical section and must have already
	// linked t into the primitive's wait list.
	BlockCurrent(t *tcb.TCB, blockType BlockType, timeout ktime.Tick)
	// WakeReady removes t from the timed-block list if present, sets it
	// Ready, enqueues it into its priority bucket, and calls Schedule()
	// if t now outranks the current task.
	WakeReady(t *tcb.TCB)
	// EnterCritical / ExitCritical delegate to the kernel's port, letting
	// Block release the critical section around the goroutine park the
	// same way a real context switch would run with interrupts restored.
	EnterCritical()
	ExitCritical()
}

// WaitList is a primitive's ordered collection of blocked TCBs, linked
// through each TCB's EventNode.
type WaitList struct {
	order SortOrder
	list  *ilist.List
}

// NewWaitList returns an empty wait list ordered by order.
func NewWaitList(order SortOrder) *WaitList {
	return &WaitList{order: order, list: ilist.New()}
}

// Len returns the number of waiters.
func (w *WaitList) Len() int { return w.list.Len() }

// Empty reports whether there are no waiters.
func (w *WaitList) Empty() bool { return w.list.Empty() }

// Insert links t into the wait list at the position its SortOrder
// dictates.
func (w *WaitList) Insert(t *tcb.TCB) {
	switch w.order {
	case FIFO:
		w.list.PushBack(&t.EventNode)
	default: // PriorityDescending
		var after *ilist.Node
		for n := w.list.Front(); n != nil; n = n.Next() {
			owner := n.Owner().(*tcb.TCB)
			if owner.Priority() > t.Priority() {
				break
			}
			after = n
		}
		if after == nil {
			w.list.PushFront(&t.EventNode)
		} else {
			w.list.InsertAfter(&t.EventNode, after)
		}
	}
}

// Remove unlinks t if it is currently a member; a no-op otherwise.
func (w *WaitList) Remove(t *tcb.TCB) { ilist.Remove(&t.EventNode) }

// Peek returns the head waiter without removing it, or nil.
func (w *WaitList) Peek() *tcb.TCB {
	n := w.list.Front()
	if n == nil {
		return nil
	}
	return n.Owner().(*tcb.TCB)
}

// popFront removes and returns the head waiter, or nil.
func (w *WaitList) popFront() *tcb.TCB {
	n := w.list.Front()
	if n == nil {
		return nil
	}
	ilist.Remove(n)
	return n.Owner().(*tcb.TCB)
}

// Block inserts t into wl, transitions it out of Ready via s, then parks
// the calling goroutine on t.Woken until it is re-readied by an event
// wake or a tick timeout. Caller holds the critical section on entry;
// Block releases it before parking, since the real context switch
// happens with interrupts restored, and re-acquires it before returning,
// so the caller can inspect t.TimeoutWakeup under the same section it
// started in. Returns kerrors.Timeout if woken by tick expiry,
// kerrors.Success if woken by an event.
func Block(s Scheduler, wl *WaitList, t *tcb.TCB, blockType BlockType, timeout ktime.Tick) kerrors.Code {
	t.TimeoutWakeup = false
	wl.Insert(t)
	s.BlockCurrent(t, blockType, timeout)
	s.ExitCritical()
	<-t.Woken
	s.EnterCritical()
	if t.TimeoutWakeup {
		return kerrors.Timeout
	}
	return kerrors.Success
}

// WakeFirst pops the head waiter (if any), marks it event-woken, asks the
// scheduler to ready it, and releases its parked goroutine. The caller
// (semaphore/mutex/queue) is responsible for applying the primitive's
// side effect (decrement counter, hand over ownership, move data) either
// before or after this call, per its own ordering needs. Returns nil if
// wl was empty.
func WakeFirst(s Scheduler, wl *WaitList) *tcb.TCB {
	t := wl.popFront()
	if t == nil {
		return nil
	}
	t.TimeoutWakeup = false
	s.WakeReady(t)
	signalWoken(t)
	return t
}

// signalWoken releases a goroutine parked in Block, without blocking:
// Woken is buffered(1) and a task is only ever woken once per block.
func signalWoken(t *tcb.TCB) {
	select {
	case t.Woken <- struct{}{}:
	default:
	}
}

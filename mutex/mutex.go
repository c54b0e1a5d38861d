// Package mutex implements the recursive mutex with chained priority
// inheritance, built on the shared blocking engine in package waitq.
//
// Priority is numeric with 0 highest: "boost" means lowering a task's
// current-priority number, "restore" means raising it back toward its
// base.
package mutex

import (
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/tcb"
	"github.com/khryptorgraphics/zkrtos/waitq"
)

// Scheduler is the blocking-engine Scheduler plus the one extra
// capability priority inheritance needs: relocating a task within its
// ready bucket when its priority changes.
type Scheduler interface {
	waitq.Scheduler
	// Reprioritize sets t's current priority and, if t is Ready, moves it
	// to its new bucket. Caller must hold the critical section.
	Reprioritize(t *tcb.TCB, newPriority int)
}

// Mutex is a recursive mutex with a priority-ordered waiter list and a
// link into its owner's held-mutex chain.
type Mutex struct {
	owner         *tcb.TCB
	holdCount     int
	waiters       *waitq.WaitList
	inUse         bool
	maxChainDepth int

	// next links this mutex into its owner's held-mutex chain
	// (tcb.TCB.HeldMutexChain points at the chain head).
	next *Mutex
}

// New constructs an unowned mutex. maxChainDepth caps how far priority
// inheritance propagates across nested mutex ownership.
func New(maxChainDepth int) (*Mutex, kerrors.Code) {
	if maxChainDepth <= 0 {
		return nil, kerrors.InvalidParam
	}
	return &Mutex{
		waiters:       waitq.NewWaitList(waitq.PriorityDescending),
		inUse:         true,
		maxChainDepth: maxChainDepth,
	}, kerrors.Success
}

func chainHead(t *tcb.TCB) *Mutex {
	if t.HeldMutexChain == nil {
		return nil
	}
	m, _ := t.HeldMutexChain.(*Mutex)
	return m
}

func pushChain(t *tcb.TCB, m *Mutex) {
	m.next = chainHead(t)
	t.HeldMutexChain = m
}

func unlinkChain(t *tcb.TCB, m *Mutex) {
	head := chainHead(t)
	if head == m {
		if m.next == nil {
			t.HeldMutexChain = nil
		} else {
			t.HeldMutexChain = m.next
		}
		m.next = nil
		return
	}
	for cur := head; cur != nil; cur = cur.next {
		if cur.next == m {
			cur.next = m.next
			m.next = nil
			return
		}
	}
}

func blockedOnMutex(t *tcb.TCB) *Mutex {
	if t.BlockedOnMutex == nil {
		return nil
	}
	m, _ := t.BlockedOnMutex.(*Mutex)
	return m
}

// boostChain propagates priority inheritance from a blocking waiter up
// through the chain of mutex owners: boost owner to waiterPriority; if
// owner is itself blocked on another mutex, boost that mutex's owner
// too; stop at a break (owner already at least as urgent, owner isn't
// blocked on a mutex, or maxChainDepth reached).
func boostChain(sc Scheduler, owner *tcb.TCB, waiterPriority, maxChainDepth int) {
	cur := owner
	for depth := 0; cur != nil && depth < maxChainDepth; depth++ {
		if cur.Priority() <= waiterPriority {
			return
		}
		sc.Reprioritize(cur, waiterPriority)
		next := blockedOnMutex(cur)
		if next == nil {
			return
		}
		cur = next.owner
	}
}

// restorePriority computes the priority owner should return to once it
// releases one of its held mutexes: the most urgent (numerically
// smallest) of its base priority and the head waiter's priority across
// every mutex it still holds, recomputed from the remaining chain rather
// than from a per-mutex snapshot.
func restorePriority(owner *tcb.TCB) int {
	best := owner.BasePriority
	for m := chainHead(owner); m != nil; m = m.next {
		if !m.waiters.Empty() {
			if top := m.waiters.Peek(); top.Priority() < best {
				best = top.Priority()
			}
		}
	}
	return best
}

// Lock acquires the mutex, recursively if the caller already owns it,
// blocking up to timeout ticks otherwise (ktime.Infinite to block
// forever, 0 for try-semantics).
func (m *Mutex) Lock(sc Scheduler, timeout ktime.Tick) kerrors.Code {
	sc.EnterCritical()
	if !m.inUse {
		sc.ExitCritical()
		return kerrors.SyncInvalid
	}
	current := sc.Current()
	if m.owner == nil {
		m.owner = current
		m.holdCount = 1
		pushChain(current, m)
		sc.ExitCritical()
		return kerrors.Success
	}
	if m.owner.Handle() == current.Handle() {
		m.holdCount++
		sc.ExitCritical()
		return kerrors.Success
	}
	if timeout == 0 {
		sc.ExitCritical()
		return kerrors.Timeout
	}
	if current.Priority() < m.owner.Priority() {
		boostChain(sc, m.owner, current.Priority(), m.maxChainDepth)
	}
	current.BlockedOnMutex = m
	blockType := waitq.Endless
	if timeout != ktime.Infinite {
		blockType = waitq.Timeout
	}
	code := waitq.Block(sc, m.waiters, current, blockType, timeout)
	current.BlockedOnMutex = nil
	sc.ExitCritical()
	return code
}

// Unlock decrements the hold count; at zero it unlinks the mutex from the
// owner's chain, restores the owner's priority, and hands the mutex to
// the highest-priority waiter if any.
func (m *Mutex) Unlock(sc Scheduler) kerrors.Code {
	sc.EnterCritical()
	defer sc.ExitCritical()
	if !m.inUse {
		return kerrors.SyncInvalid
	}
	current := sc.Current()
	if m.owner == nil || m.owner.Handle() != current.Handle() {
		return kerrors.SyncNotOwner
	}
	m.holdCount--
	if m.holdCount > 0 {
		return kerrors.Success
	}
	prevOwner := m.owner
	unlinkChain(prevOwner, m)
	sc.Reprioritize(prevOwner, restorePriority(prevOwner))

	if !m.waiters.Empty() {
		next := waitq.WakeFirst(sc, m.waiters)
		m.owner = next
		m.holdCount = 1
		pushChain(next, m)
	} else {
		m.owner = nil
		m.holdCount = 0
	}
	return kerrors.Success
}

// Owner returns the current owner, or nil if unowned.
func (m *Mutex) Owner(sc Scheduler) *tcb.TCB {
	sc.EnterCritical()
	defer sc.ExitCritical()
	return m.owner
}

// HoldCount returns the current recursive hold count.
func (m *Mutex) HoldCount(sc Scheduler) int {
	sc.EnterCritical()
	defer sc.ExitCritical()
	return m.holdCount
}

// WaiterCount returns the number of tasks blocked waiting for m.
func (m *Mutex) WaiterCount(sc Scheduler) int {
	sc.EnterCritical()
	defer sc.ExitCritical()
	return m.waiters.Len()
}

// Destroy invalidates the mutex. Rejected while held or while any waiter
// is queued.
func (m *Mutex) Destroy(sc Scheduler) kerrors.Code {
	sc.EnterCritical()
	defer sc.ExitCritical()
	if m.owner != nil || !m.waiters.Empty() {
		return kerrors.State
	}
	m.inUse = false
	return kerrors.Success
}

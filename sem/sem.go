// Package sem implements the counting semaphore, built directly on the
// shared blocking engine in package waitq.
package sem

import (
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/waitq"
)

// MaxCount is the largest value a semaphore's counter may ever hold.
const MaxCount = 65534

// Sem is a counting semaphore with a priority-ordered waiter list.
type Sem struct {
	count   int
	max     int
	inUse   bool
	waiters *waitq.WaitList
}

// New constructs a semaphore with the given initial count and maximum:
// max within [1, MaxCount] and initial within [0, max].
func New(initial, max int) (*Sem, kerrors.Code) {
	if max <= 0 || max > MaxCount || initial < 0 || initial > max {
		return nil, kerrors.InvalidParam
	}
	return &Sem{
		count:   initial,
		max:     max,
		inUse:   true,
		waiters: waitq.NewWaitList(waitq.PriorityDescending),
	}, kerrors.Success
}

// Get acquires the semaphore, blocking up to timeout ticks
// (ktime.Infinite to block forever, 0 for try-semantics) if the counter
// is currently zero.
func (s *Sem) Get(sc waitq.Scheduler, timeout ktime.Tick) kerrors.Code {
	sc.EnterCritical()
	if !s.inUse {
		sc.ExitCritical()
		return kerrors.SyncInvalid
	}
	if s.count > 0 {
		s.count--
		sc.ExitCritical()
		return kerrors.Success
	}
	if timeout == 0 {
		sc.ExitCritical()
		return kerrors.Timeout
	}
	blockType := waitq.Endless
	if timeout != ktime.Infinite {
		blockType = waitq.Timeout
	}
	t := sc.Current()
	code := waitq.Block(sc, s.waiters, t, blockType, timeout)
	sc.ExitCritical()
	return code
}

// Release increments the counter, or hands the semaphore directly to the
// highest-priority waiter without touching the counter if one is queued.
func (s *Sem) Release(sc waitq.Scheduler) kerrors.Code {
	sc.EnterCritical()
	defer sc.ExitCritical()
	if !s.inUse {
		return kerrors.SyncInvalid
	}
	if !s.waiters.Empty() {
		waitq.WakeFirst(sc, s.waiters)
		return kerrors.Success
	}
	if s.count >= s.max {
		return kerrors.OutOfRange
	}
	s.count++
	return kerrors.Success
}

// Count returns the current counter value, for introspection.
func (s *Sem) Count(sc waitq.Scheduler) int {
	sc.EnterCritical()
	defer sc.ExitCritical()
	return s.count
}

// WaiterCount returns the number of tasks currently blocked on the
// semaphore.
func (s *Sem) WaiterCount(sc waitq.Scheduler) int {
	sc.EnterCritical()
	defer sc.ExitCritical()
	return s.waiters.Len()
}

// Destroy invalidates the semaphore. Rejected while any waiter is
// queued, matching the mutex/queue destroy contract.
func (s *Sem) Destroy(sc waitq.Scheduler) kerrors.Code {
	sc.EnterCritical()
	defer sc.ExitCritical()
	if !s.waiters.Empty() {
		return kerrors.State
	}
	s.inUse = false
	return kerrors.Success
}

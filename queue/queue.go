// Package queue implements the bounded, fixed-element-size message queue,
// built on the shared blocking engine in package waitq.
package queue

import (
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/waitq"
)

// Queue is a fixed-capacity ring buffer of fixed-size elements with
// independent reader and writer wait lists.
type Queue struct {
	elemSize int
	capacity int
	storage  []byte
	readIdx  int
	writeIdx int
	used     int
	readers  *waitq.WaitList
	writers  *waitq.WaitList
	inUse    bool
}

// New constructs an empty queue holding up to capacity elements of
// elemSize bytes each.
func New(elemSize, capacity int) (*Queue, kerrors.Code) {
	if elemSize <= 0 || capacity <= 0 {
		return nil, kerrors.InvalidParam
	}
	return &Queue{
		elemSize: elemSize,
		capacity: capacity,
		storage:  make([]byte, elemSize*capacity),
		readers:  waitq.NewWaitList(waitq.PriorityDescending),
		writers:  waitq.NewWaitList(waitq.PriorityDescending),
		inUse:    true,
	}, kerrors.Success
}

// Write copies data (which must be no larger than the queue's element
// size) into the queue, blocking up to timeout ticks if full.
func (q *Queue) Write(sc waitq.Scheduler, data []byte, timeout ktime.Tick) kerrors.Code {
	if len(data) > q.elemSize {
		return kerrors.QueueSizeMismatch
	}
	sc.EnterCritical()
	defer sc.ExitCritical()
	if !q.inUse {
		return kerrors.SyncInvalid
	}
	for q.used == q.capacity {
		if timeout == 0 {
			return kerrors.Timeout
		}
		current := sc.Current()
		blockType := waitq.Endless
		if timeout != ktime.Infinite {
			blockType = waitq.Timeout
		}
		if code := waitq.Block(sc, q.writers, current, blockType, timeout); code != kerrors.Success {
			return code
		}
		if !q.inUse {
			return kerrors.SyncInvalid
		}
	}
	off := q.writeIdx * q.elemSize
	copy(q.storage[off:off+q.elemSize], data)
	q.writeIdx = (q.writeIdx + 1) % q.capacity
	q.used++
	if !q.readers.Empty() {
		waitq.WakeFirst(sc, q.readers)
	}
	return kerrors.Success
}

// Read copies the oldest queued element into out (which must be at least
// the queue's element size), blocking up to timeout ticks if empty.
func (q *Queue) Read(sc waitq.Scheduler, out []byte, timeout ktime.Tick) kerrors.Code {
	if len(out) < q.elemSize {
		return kerrors.QueueSizeMismatch
	}
	sc.EnterCritical()
	defer sc.ExitCritical()
	if !q.inUse {
		return kerrors.SyncInvalid
	}
	for q.used == 0 {
		if timeout == 0 {
			return kerrors.Timeout
		}
		current := sc.Current()
		blockType := waitq.Endless
		if timeout != ktime.Infinite {
			blockType = waitq.Timeout
		}
		if code := waitq.Block(sc, q.readers, current, blockType, timeout); code != kerrors.Success {
			return code
		}
		if !q.inUse {
			return kerrors.SyncInvalid
		}
	}
	off := q.readIdx * q.elemSize
	copy(out[:q.elemSize], q.storage[off:off+q.elemSize])
	q.readIdx = (q.readIdx + 1) % q.capacity
	q.used--
	if !q.writers.Empty() {
		waitq.WakeFirst(sc, q.writers)
	}
	return kerrors.Success
}

// Len returns the number of occupied slots.
func (q *Queue) Len(sc waitq.Scheduler) int {
	sc.EnterCritical()
	defer sc.ExitCritical()
	return q.used
}

// Destroy invalidates the queue. Rejected unless empty and both wait
// lists are empty.
func (q *Queue) Destroy(sc waitq.Scheduler) kerrors.Code {
	sc.EnterCritical()
	defer sc.ExitCritical()
	if q.used != 0 || !q.readers.Empty() || !q.writers.Empty() {
		return kerrors.State
	}
	q.inUse = false
	return kerrors.Success
}

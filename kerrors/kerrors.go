// Package kerrors defines the kernel's stable numeric error-code space.
//
// Kernel APIs never panic and never allocate on the error path: every
// fallible call returns a Code, which is itself a zero-allocation error
// value. This matches the no-throw, no-unwind contract the rest of the
// kernel depends on (schedule(), tick handling, and hook dispatch must be
// total).
package kerrors

import "strconv"

// Code is a stable, numeric error code. The numeric values are part of the
// kernel's external contract and must not be renumbered.
type Code int32

const (
	Success Code = iota
	Failed
	State
	NotSupported
	InvalidParam
	InvalidHandle
	OutOfRange
	NotEnoughMemory
	ResourceUnavailable
	Timeout
	TaskInvalid
	TaskNotFound
	TaskPriorityConflict
	SyncInvalid
	SyncNotOwner
	SyncDeadlock
	QueueSizeMismatch
	MemoryCorruption
	InInterrupt
)

var names = [...]string{
	Success:              "success",
	Failed:                "failed",
	State:                 "invalid state",
	NotSupported:          "not supported",
	InvalidParam:          "invalid parameter",
	InvalidHandle:         "invalid handle",
	OutOfRange:            "value out of range",
	NotEnoughMemory:       "not enough memory",
	ResourceUnavailable:   "resource unavailable",
	Timeout:               "timeout",
	TaskInvalid:           "invalid task",
	TaskNotFound:          "task not found",
	TaskPriorityConflict:  "task priority conflict",
	SyncInvalid:           "invalid synchronization object",
	SyncNotOwner:          "caller does not own this object",
	SyncDeadlock:          "deadlock detected",
	QueueSizeMismatch:     "queue element size mismatch",
	MemoryCorruption:      "memory corruption detected",
	InInterrupt:           "call not permitted from interrupt context",
}

// Error implements the error interface so a Code can be returned wherever
// Go idiom expects an error, while still round-tripping through the
// numeric space when callers want it (see Code.Int32).
func (c Code) Error() string {
	if int(c) >= 0 && int(c) < len(names) && names[c] != "" {
		return names[c]
	}
	return "kerrors: unknown code " + strconv.Itoa(int(c))
}

// Int32 returns the stable numeric value of the code.
func (c Code) Int32() int32 { return int32(c) }

// OK reports whether c represents success.
func (c Code) OK() bool { return c == Success }

// AsCode extracts a Code from any error produced by this package. A nil
// err yields (Success, true); a foreign error yields (Success, false).
func AsCode(err error) (Code, bool) {
	if err == nil {
		return Success, true
	}
	c, ok := err.(Code)
	return c, ok
}

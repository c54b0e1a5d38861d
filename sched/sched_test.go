package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/zkrtos/config"
	"github.com/khryptorgraphics/zkrtos/hook"
	"github.com/khryptorgraphics/zkrtos/hostport"
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/tcb"
)

func newScheduler(timeSlice uint32) *Scheduler {
	p := hostport.NewSimulated()
	return New(config.SchedulerConfig{PriorityNum: 32, TickRateHz: 1000, TimeSliceTicks: timeSlice}, p, hook.New())
}

func newTask(name string, priority int) *tcb.TCB {
	return tcb.New(name, 16, func(any) {}, nil, priority, make([]byte, 64))
}

func addTask(s *Scheduler, t *tcb.TCB) kerrors.Code {
	s.EnterCritical()
	defer s.ExitCritical()
	return s.AddTask(t)
}

func TestAddTaskRejectsOutOfRangePriority(t *testing.T) {
	s := newScheduler(5)
	assert.Equal(t, kerrors.InvalidParam, addTask(s, newTask("bad", -1)))
	assert.Equal(t, kerrors.InvalidParam, addTask(s, newTask("bad", 32)))
}

func TestHighestPriorityReadyIsNumericallySmallest(t *testing.T) {
	s := newScheduler(5)
	require.True(t, addTask(s, newTask("mid", 15)).OK())
	require.True(t, addTask(s, newTask("low", 31)).OK())
	top := newTask("top", 0)
	require.True(t, addTask(s, top).OK())

	s.Yield()
	assert.Equal(t, top, s.Current())
}

func TestReprioritizeRelocatesBucket(t *testing.T) {
	s := newScheduler(5)
	tsk := newTask("t", 10)
	require.True(t, addTask(s, tsk).OK())
	s.Yield()

	s.EnterCritical()
	s.Reprioritize(tsk, 2)
	s.ExitCritical()

	assert.Equal(t, 2, tsk.Priority())
	assert.Equal(t, 0, s.ReadyBucketLen(10))
	assert.Equal(t, 1, s.ReadyBucketLen(2))
}

func TestSuspendResumeTask(t *testing.T) {
	s := newScheduler(5)
	a := newTask("a", 1)
	b := newTask("b", 5)
	require.True(t, addTask(s, a).OK())
	require.True(t, addTask(s, b).OK())
	s.Yield()
	require.Equal(t, a, s.Current())

	require.True(t, s.SuspendTask(a).OK())
	assert.Equal(t, b, s.Current(), "suspending the current task must dispatch the next ready one")
	assert.Equal(t, kerrors.State, s.SuspendTask(a), "already-suspended task cannot be suspended again")

	require.True(t, s.ResumeTask(a).OK())
	assert.Equal(t, a, s.Current(), "resuming a more urgent task must preempt")
}

func TestSuspendAllNestedCounterAndPendingReschedule(t *testing.T) {
	s := newScheduler(5)
	low := newTask("low", 10)
	require.True(t, addTask(s, low).OK())
	s.Yield()
	require.Equal(t, low, s.Current())

	s.SuspendAll()
	s.SuspendAll()

	high := newTask("high", 1)
	require.True(t, addTask(s, high).OK())
	s.Yield()
	assert.Equal(t, low, s.Current(), "reschedule must be deferred while suspended")

	s.ResumeAll()
	assert.Equal(t, low, s.Current(), "still nested once; no reschedule yet")

	s.ResumeAll()
	assert.Equal(t, high, s.Current(), "dropping to zero nesting must run the deferred reschedule")
}

func TestDelayRejectsInvalidTimeout(t *testing.T) {
	s := newScheduler(5)
	tsk := newTask("t", 5)
	assert.Equal(t, kerrors.OutOfRange, s.Delay(tsk, 0))
	assert.Equal(t, kerrors.OutOfRange, s.Delay(tsk, ktime.MaxTimeout))
}

func TestTickWakesDelayedTask(t *testing.T) {
	s := newScheduler(5)
	tsk := newTask("t", 5)
	require.True(t, addTask(s, tsk).OK())
	s.Yield()

	done := make(chan kerrors.Code, 1)
	go func() { done <- s.Delay(tsk, 3) }()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		s.Tick()
	}

	select {
	case code := <-done:
		assert.Equal(t, kerrors.Success, code)
	case <-time.After(time.Second):
		t.Fatal("delayed task never woken")
	}
	assert.Equal(t, tcb.Ready, tsk.State)
}

func TestTickRoundRobinRotatesEqualPriorityBucket(t *testing.T) {
	s := newScheduler(2)
	a := newTask("a", 5)
	b := newTask("b", 5)
	require.True(t, addTask(s, a).OK())
	require.True(t, addTask(s, b).OK())
	s.Yield()
	require.Equal(t, a, s.Current())

	s.Tick()
	assert.Equal(t, a, s.Current(), "slice not yet exhausted")
	s.Tick()
	assert.Equal(t, b, s.Current(), "exhausting the slice must rotate to the next same-priority task")
}

// TestTickPreemptsToHigherPriority is a regression test for the priority
// comparison in Tick's dispatch switch: priority 0 is the most urgent, so a
// newly-ready task must preempt only when its number is *smaller* than the
// current task's, never larger.
func TestTickPreemptsToHigherPriority(t *testing.T) {
	s := newScheduler(5)
	low := newTask("low", 20)
	require.True(t, addTask(s, low).OK())
	s.Yield()
	require.Equal(t, low, s.Current())

	urgent := newTask("urgent", 1)
	require.True(t, addTask(s, urgent).OK())
	s.Tick()

	assert.Equal(t, urgent, s.Current(), "a more urgent (lower-numbered) ready task must preempt on tick")
}

func TestTickDoesNotPreemptToLowerPriority(t *testing.T) {
	s := newScheduler(5)
	urgent := newTask("urgent", 1)
	require.True(t, addTask(s, urgent).OK())
	s.Yield()
	require.Equal(t, urgent, s.Current())

	lazy := newTask("lazy", 20)
	require.True(t, addTask(s, lazy).OK())
	s.Tick()

	assert.Equal(t, urgent, s.Current(), "a less urgent (higher-numbered) ready task must never preempt")
}

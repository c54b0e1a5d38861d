package waitq_test

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
	"github.com/khryptorgraphics/zkrtos/sched"
	"github.com/khryptorgraphics/zkrtos/tcb"
	"github.com/khryptorgraphics/zkrtos/waitq"
)

func newTask(name string, priority int) *tcb.TCB {
	return tcb.New(name, 16, func(any) {}, nil, priority, make([]byte, 64))
}

func TestWaitListFIFO(t *testing.T) {
	wl := waitq.NewWaitList(waitq.FIFO)
	a, b, c := newTask("a", 5), newTask("b", 1), newTask("c", 9)
	wl.Insert(a)
	wl.Insert(b)
	wl.Insert(c)

	assert.Equal(t, a, wl.Peek())
	require.Equal(t, 3, wl.Len())
}

func TestWaitListPriorityDescending(t *testing.T) {
	wl := waitq.NewWaitList(waitq.PriorityDescending)
	low := newTask("low-urgency", 9)
	high := newTask("high-urgency", 1)
	mid := newTask("mid-urgency", 5)
	wl.Insert(low)
	wl.Insert(high)
	wl.Insert(mid)

	// 0 is highest priority: the most urgent task (smallest number) is
	// always at the front regardless of insertion order.
	assert.Equal(t, high, wl.Peek())
}

func TestWaitListPriorityTiesAreFIFO(t *testing.T) {
	wl := waitq.NewWaitList(waitq.PriorityDescending)
	first := newTask("first", 5)
	second := newTask("second", 5)
	wl.Insert(first)
	wl.Insert(second)

	assert.Equal(t, first, wl.Peek())
}

func newTestKernel(maxTicks uint64) (*sched.Scheduler, *hostport.Simulated) {
	p := hostport.NewSimulated(hostport.WithMaxTicks(maxTicks))
	s := sched.New(config.SchedulerConfig{PriorityNum: 32, TickRateHz: 1000, TimeSliceTicks: 5}, p, hook.New())
	return s, p
}

func TestBlockWokenByEvent(t *testing.T) {
	s, _ := newTestKernel(0)
	waiter := newTask("waiter", 3)
	s.EnterCritical()
	require.True(t, s.AddTask(waiter).OK())
	s.ExitCritical()

	wl := waitq.NewWaitList(waitq.FIFO)

	done := make(chan kerrors.Code, 1)
	go func() {
		s.EnterCritical()
		code := waitq.Block(s, wl, waiter, waitq.Endless, ktime.Infinite)
		s.ExitCritical()
		done <- code
	}()

	// give the waiter goroutine time to actually park.
	time.Sleep(20 * time.Millisecond)

	s.EnterCritical()
	woken := waitq.WakeFirst(s, wl)
	s.ExitCritical()
	require.Equal(t, waiter, woken)

	select {
	case code := <-done:
		assert.Equal(t, kerrors.Success, code)
	case <-time.After(time.Second):
		t.Fatal("Block did not return after WakeFirst")
	}
	assert.False(t, waiter.TimeoutWakeup)
}

func TestBlockWokenByTimeout(t *testing.T) {
	s, p := newTestKernel(0)
	waiter := newTask("waiter", 3)
	s.EnterCritical()
	require.True(t, s.AddTask(waiter).OK())
	s.ExitCritical()

	wl := waitq.NewWaitList(waitq.FIFO)

	done := make(chan kerrors.Code, 1)
	go func() {
		s.EnterCritical()
		code := waitq.Block(s, wl, waiter, waitq.Timeout, 5)
		s.ExitCritical()
		done <- code
	}()

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 10; i++ {
		s.Tick()
	}

	select {
	case code := <-done:
		assert.Equal(t, kerrors.Timeout, code)
	case <-time.After(time.Second):
		t.Fatal("Block did not time out")
	}
	assert.True(t, waiter.TimeoutWakeup)
	p.Stop()
}

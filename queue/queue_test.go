package queue_test

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
	"github.com/khryptorgraphics/zkrtos/queue"
	"github.com/khryptorgraphics/zkrtos/sched"
	"github.com/khryptorgraphics/zkrtos/tcb"
)

func newScheduler() *sched.Scheduler {
	p := hostport.NewSimulated()
	return sched.New(config.SchedulerConfig{PriorityNum: 32, TickRateHz: 1000, TimeSliceTicks: 5}, p, hook.New())
}

func addTask(s *sched.Scheduler, name string, priority int) *tcb.TCB {
	t := tcb.New(name, 16, func(any) {}, nil, priority, make([]byte, 64))
	s.EnterCritical()
	s.AddTask(t)
	s.ExitCritical()
	return t
}

func TestNewRejectsInvalidBounds(t *testing.T) {
	_, code := queue.New(0, 4)
	assert.Equal(t, kerrors.InvalidParam, code)

	_, code = queue.New(4, 0)
	assert.Equal(t, kerrors.InvalidParam, code)
}

func TestWriteReadFastPath(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(4, 2)

	require.True(t, q.Write(s, []byte("abcd"), ktime.Infinite).OK())
	assert.Equal(t, 1, q.Len(s))

	out := make([]byte, 4)
	require.True(t, q.Read(s, out, ktime.Infinite).OK())
	assert.Equal(t, "abcd", string(out))
	assert.Equal(t, 0, q.Len(s))
}

func TestWriteRejectsOversizedElement(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(4, 2)
	assert.Equal(t, kerrors.QueueSizeMismatch, q.Write(s, []byte("toolong"), ktime.Infinite))
}

func TestReadRejectsUndersizedBuffer(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(4, 2)
	require.True(t, q.Write(s, []byte("abcd"), ktime.Infinite).OK())
	assert.Equal(t, kerrors.QueueSizeMismatch, q.Read(s, make([]byte, 2), ktime.Infinite))
}

func TestRingBufferWraparound(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(1, 2)

	for i := 0; i < 5; i++ {
		require.True(t, q.Write(s, []byte{byte(i)}, ktime.Infinite).OK())
		out := make([]byte, 1)
		require.True(t, q.Read(s, out, ktime.Infinite).OK())
		assert.Equal(t, byte(i), out[0])
	}
}

func TestWriteTryFailsWhenFull(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(1, 1)
	require.True(t, q.Write(s, []byte{1}, ktime.Infinite).OK())
	assert.Equal(t, kerrors.Timeout, q.Write(s, []byte{2}, 0))
}

func TestReadTryFailsWhenEmpty(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(1, 1)
	assert.Equal(t, kerrors.Timeout, q.Read(s, make([]byte, 1), 0))
}

func TestBlockingReadWakesOnWrite(t *testing.T) {
	s := newScheduler()
	addTask(s, "reader", 1)
	s.Yield()
	q, _ := queue.New(1, 1)

	done := make(chan kerrors.Code, 1)
	var got byte
	go func() {
		out := make([]byte, 1)
		code := q.Read(s, out, ktime.Infinite)
		got = out[0]
		done <- code
	}()
	time.Sleep(20 * time.Millisecond)

	require.True(t, q.Write(s, []byte{42}, ktime.Infinite).OK())
	select {
	case code := <-done:
		assert.Equal(t, kerrors.Success, code)
		assert.Equal(t, byte(42), got)
	case <-time.After(time.Second):
		t.Fatal("reader never woken by write")
	}
}

func TestBlockingWriteWakesOnRead(t *testing.T) {
	s := newScheduler()
	addTask(s, "writer", 1)
	s.Yield()
	q, _ := queue.New(1, 1)
	require.True(t, q.Write(s, []byte{7}, ktime.Infinite).OK())

	done := make(chan kerrors.Code, 1)
	go func() { done <- q.Write(s, []byte{8}, ktime.Infinite) }()
	time.Sleep(20 * time.Millisecond)

	out := make([]byte, 1)
	require.True(t, q.Read(s, out, ktime.Infinite).OK())
	assert.Equal(t, byte(7), out[0])

	select {
	case code := <-done:
		assert.Equal(t, kerrors.Success, code)
	case <-time.After(time.Second):
		t.Fatal("writer never woken by read")
	}
}

func TestDestroyRejectedUnlessEmptyAndNoWaiters(t *testing.T) {
	s := newScheduler()
	addTask(s, "a", 5)
	s.Yield()
	q, _ := queue.New(1, 1)
	require.True(t, q.Write(s, []byte{1}, ktime.Infinite).OK())
	assert.Equal(t, kerrors.State, q.Destroy(s))

	out := make([]byte, 1)
	require.True(t, q.Read(s, out, ktime.Infinite).OK())
	assert.True(t, q.Destroy(s).OK())
}

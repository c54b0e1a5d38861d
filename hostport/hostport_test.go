package hostport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/zkrtos/tcb"
)

func TestCLZ(t *testing.T) {
	s := NewSimulated()
	assert.Equal(t, uint8(64), s.CLZ(0))
	assert.Equal(t, uint8(63), s.CLZ(1))
	assert.Equal(t, uint8(0), s.CLZ(1<<63))
}

func TestEnterExitCriticalMutualExclusion(t *testing.T) {
	s := NewSimulated()
	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.EnterCritical()
			counter++
			s.ExitCritical()
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, counter)
}

func TestLaunchWaitsForStart(t *testing.T) {
	s := NewSimulated()
	entered := make(chan struct{})
	tsk := tcb.New("t", 8, func(any) { close(entered) }, nil, 0, make([]byte, 8))
	s.Launch(tsk)

	select {
	case <-entered:
		t.Fatal("task entry ran before StartFirstTask")
	case <-time.After(30 * time.Millisecond):
	}

	go s.StartFirstTask(tsk)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("task entry never ran after StartFirstTask")
	}
	s.Stop()
}

func TestInitTickSourceWithMaxTicksAutoStops(t *testing.T) {
	s := NewSimulated(WithMaxTicks(3))
	var ticks int
	s.InitTickSource(1000, func() { ticks++ })

	done := make(chan struct{})
	go func() {
		s.StartFirstTask(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("StartFirstTask never returned once maxTicks was reached")
	}
	assert.Equal(t, uint64(3), s.TicksRun())
	assert.Equal(t, 3, ticks)
}

func TestIsInInterruptTrueOnlyDuringTick(t *testing.T) {
	s := NewSimulated(WithMaxTicks(1))
	var duringTick bool
	s.InitTickSource(1000, func() { duringTick = s.IsInInterrupt() })

	done := make(chan struct{})
	go func() {
		s.StartFirstTask(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tick source never ran")
	}
	assert.True(t, duringTick)
	assert.False(t, s.IsInInterrupt())
}

func TestTriggerContextSwitchCounts(t *testing.T) {
	s := NewSimulated()
	s.TriggerContextSwitch()
	s.TriggerContextSwitch()
	assert.Equal(t, uint64(2), s.SwitchRequests())
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewSimulated()
	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

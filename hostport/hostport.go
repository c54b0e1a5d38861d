// Package hostport is an in-process Port implementation: a board
// bring-up, clock tree, and context-switch trampoline don't exist on a
// host, so this package stands in for all of them with plain goroutines,
// a mutex, and a ticker.
//
// Every task gets its own goroutine, launched at creation and parked
// until the simulation starts. The scheduler's ready-bucket bookkeeping
// stays an O(1) priority structure, but this port does not gate a task
// goroutine's CPU time by it; Go's own runtime interleaves goroutines
// however it likes between the blocking points the kernel actually
// controls (task delay, semaphore/mutex/queue waits). That is the one
// place this port diverges from real hardware, and it only matters for
// purely CPU-bound task bodies that never call a blocking API — every
// scheduling decision (ready/delay/suspend/blocked transitions, priority
// ordering, timeouts) is still exercised faithfully.
package hostport

import (
	"context"
	"log/slog"
	"math/bits"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/zkrtos/klog"
	"github.com/khryptorgraphics/zkrtos/tcb"
)

// Option configures a Simulated port.
type Option func(*Simulated)

// WithRealTime paces the tick source at the configured rate via
// golang.org/x/time/rate instead of running ticks as fast as possible.
func WithRealTime(enabled bool) Option {
	return func(s *Simulated) { s.realTime = enabled }
}

// WithMaxTicks stops the tick source (and releases StartFirstTask) after
// n ticks. Zero means run until Stop is called.
func WithMaxTicks(n uint64) Option {
	return func(s *Simulated) { s.maxTicks = n }
}

// WithLogger attaches a structured logger for lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulated) { s.logger = l }
}

// Simulated is the reference host Port.
type Simulated struct {
	mu          sync.Mutex
	logger      *slog.Logger
	realTime    bool
	maxTicks    uint64
	tickHz      int
	onTick      func()
	inInterrupt atomic.Bool
	switches    atomic.Uint64
	ticksRun    atomic.Uint64
	started     atomic.Bool

	startedCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// NewSimulated constructs a host port. Call InitTickSource then
// StartFirstTask to begin running; task goroutines launched via Launch
// before that point wait for the start signal.
func NewSimulated(opts ...Option) *Simulated {
	s := &Simulated{
		logger:    klog.Discard(),
		startedCh: make(chan struct{}),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch spawns t's goroutine. It blocks until the port has started,
// then invokes t.Entry(t.Arg) once; a task whose Entry returns is
// considered halted, the same as a task falling off the end of its body
// on real hardware, where the link register points at an error
// trampoline that disables interrupts and halts.
func (s *Simulated) Launch(t *tcb.TCB) {
	go func() {
		select {
		case <-s.startedCh:
		case <-s.stopCh:
			return
		}
		t.Entry(t.Arg)
		s.logger.Warn("task entry returned", "task", t.Name, "handle", t.Handle())
	}()
}

// InitTickSource implements port.Port.
func (s *Simulated) InitTickSource(hz int, onTick func()) {
	s.tickHz = hz
	s.onTick = onTick
	go s.tickLoop()
}

func (s *Simulated) tickLoop() {
	<-s.startedCh
	var limiter *rate.Limiter
	if s.realTime && s.tickHz > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.tickHz), 1)
	}
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if limiter != nil {
			_ = limiter.Wait(context.Background())
		}
		s.inInterrupt.Store(true)
		if s.onTick != nil {
			s.onTick()
		}
		s.inInterrupt.Store(false)
		if s.maxTicks > 0 {
			if s.ticksRun.Add(1) >= s.maxTicks {
				s.Stop()
				return
			}
		}
	}
}

// TriggerContextSwitch implements port.Port. The simulation has no
// deferred trampoline to arm; it only records that a switch was
// requested, for introspection and tests.
func (s *Simulated) TriggerContextSwitch() { s.switches.Add(1) }

// SwitchRequests returns how many times TriggerContextSwitch has fired.
func (s *Simulated) SwitchRequests() uint64 { return s.switches.Load() }

// EnterCritical implements port.Port. Task goroutines are independent,
// not nested stack frames of a single ISR, so the general nesting-counter
// contract collapses to plain mutual exclusion here.
func (s *Simulated) EnterCritical() { s.mu.Lock() }

// ExitCritical implements port.Port.
func (s *Simulated) ExitCritical() { s.mu.Unlock() }

// StartFirstTask implements port.Port: releases every goroutine parked in
// Launch/tickLoop and blocks until the simulation is stopped (by
// WithMaxTicks or an explicit Stop), standing in for "never returns."
func (s *Simulated) StartFirstTask(t *tcb.TCB) {
	if s.started.CompareAndSwap(false, true) {
		close(s.startedCh)
	}
	<-s.doneCh
}

// InitStack implements port.Port. There is no raw stack frame to lay
// down — Launch's goroutine already resumes at t.Entry(t.Arg) — so this
// is intentionally a no-op on this port.
func (s *Simulated) InitStack(t *tcb.TCB) {}

// CLZ implements port.Port via math/bits, standing in for the hardware
// count-leading-zeros instruction the design note assumes.
func (s *Simulated) CLZ(v uint64) uint8 { return uint8(bits.LeadingZeros64(v)) }

// IsInInterrupt implements port.Port: true only while a tick callback
// (the stand-in for the timer ISR) is executing.
func (s *Simulated) IsInInterrupt() bool { return s.inInterrupt.Load() }

// Stop ends the simulation: releases StartFirstTask and causes the tick
// loop and any still-parked Launch goroutines to exit.
func (s *Simulated) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		close(s.doneCh)
	})
}

// TicksRun reports how many ticks the tick source has produced.
func (s *Simulated) TicksRun() uint64 { return s.ticksRun.Load() }

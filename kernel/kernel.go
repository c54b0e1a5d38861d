// Package kernel is the facade that wires config, the heap, the
// scheduler, the blocking-primitive pool, the timer manager, and the
// hook registry into the single object an application actually talks
// to: build the dependency graph once, then run.
package kernel

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/khryptorgraphics/zkrtos/config"
	"github.com/khryptorgraphics/zkrtos/hook"
	"github.com/khryptorgraphics/zkrtos/kerrors"
	"github.com/khryptorgraphics/zkrtos/kheap"
	"github.com/khryptorgraphics/zkrtos/klog"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/mutex"
	"github.com/khryptorgraphics/zkrtos/port"
	"github.com/khryptorgraphics/zkrtos/queue"
	"github.com/khryptorgraphics/zkrtos/sched"
	"github.com/khryptorgraphics/zkrtos/sem"
	"github.com/khryptorgraphics/zkrtos/tcb"
	"github.com/khryptorgraphics/zkrtos/timer"
)

// Launcher is implemented by Port implementations (hostport.Simulated)
// that need an explicit per-task goroutine started at creation. Ports
// that drive real hardware have no such notion and simply don't
// implement it; Kernel checks for it with a type assertion rather than
// depending on hostport directly.
type Launcher interface {
	Launch(t *tcb.TCB)
}

// Kernel is the assembled RTOS: every collaborator the simulation needs,
// plus the bounded pools for semaphores, mutexes, queues, and timers that
// the sync/timer config caps.
type Kernel struct {
	cfg    config.Config
	logger *slog.Logger
	port   port.Port
	heap   *kheap.Heap
	sched  *sched.Scheduler
	hooks  *hook.Registry
	timers *timer.Manager

	mu         sync.Mutex
	semCount   int
	mutexCount int
	queueCount int
}

// New assembles a Kernel from cfg and a concrete Port. logger may be nil,
// in which case diagnostics are discarded.
func New(cfg config.Config, p port.Port, logger *slog.Logger) *Kernel {
	if logger == nil {
		logger = klog.Discard()
	}
	hooks := hook.New()
	hooks.SetEnabled(cfg.Hooks.UsingHook)
	heap := kheap.New(cfg.Heap.HeapSize, cfg.Heap.ByteAlignment)
	heap.SetAllocFailedHook(func(size int) { hooks.FireAllocFailed(size) })
	return &Kernel{
		cfg:    cfg,
		logger: logger,
		port:   p,
		heap:   heap,
		sched:  sched.New(cfg.Scheduler, p, hooks),
		hooks:  hooks,
		timers: timer.NewManager(p, cfg.Timer.TimerMaxNum),
	}
}

// Scheduler exposes the underlying scheduler core, the Scheduler
// parameter every sem/mutex/queue method expects.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

// Hooks exposes the hook registry for direct registration.
func (k *Kernel) Hooks() *hook.Registry { return k.hooks }

// Heap exposes the allocator backing every task stack.
func (k *Kernel) Heap() *kheap.Heap { return k.heap }

// Start arms the tick source and launches the first task. It does not
// return until the port's simulation ends (WithMaxTicks or an explicit
// hostport.Simulated.Stop on a host port; never, on real hardware).
func (k *Kernel) Start() {
	k.port.InitTickSource(k.cfg.Scheduler.TickRateHz, k.onTick)
	k.sched.Yield()
	k.port.StartFirstTask(k.sched.Current())
}

// onTick composes the tick handler: the scheduler's own bookkeeping under
// the critical section, then timer expiry, the stack-overflow scan, and
// the tick hook outside it.
func (k *Kernel) onTick() {
	k.sched.Tick()
	k.timers.ProcessExpired(k.sched.Now())
	k.checkStackOverflows()
	k.hooks.FireTick()
}

// checkStackOverflows scans every registered task for a blown stack
// guard and fires the hook for each one found, once per tick.
func (k *Kernel) checkStackOverflows() {
	for _, t := range k.sched.Tasks() {
		if t.StackOverflowed() {
			k.hooks.FireStackOverflow(t)
		}
	}
}

// CreateTask allocates the task's stack from the heap, builds its TCB (an
// ordinary Go value; the TCB itself is not taken from the heap), registers
// it as Ready, and launches its goroutine if the port supports it. An empty
// name is replaced with a UUID-derived one, truncated to the configured
// task-name length.
func (k *Kernel) CreateTask(name string, entry tcb.EntryFunc, arg any, priority int, stackSize int) (tcb.Handle, kerrors.Code) {
	if name == "" {
		name = "task-" + uuid.New().String()
	}
	ptr, code := k.heap.Alloc(stackSize)
	if !code.OK() {
		return 0, code
	}
	stack := k.heap.Bytes(ptr)
	t := tcb.New(name, k.cfg.Task.NameLen, entry, arg, priority, stack)

	k.port.EnterCritical()
	code = k.sched.AddTask(t)
	k.port.ExitCritical()
	if !code.OK() {
		k.heap.Free(ptr)
		return 0, code
	}

	k.port.InitStack(t)
	if l, ok := k.port.(Launcher); ok {
		l.Launch(t)
	}
	return t.Handle(), kerrors.Success
}

// CreateSemaphore allocates a semaphore from the sync pool, capped at
// SemMaxNum.
func (k *Kernel) CreateSemaphore(initial, max int) (*sem.Sem, kerrors.Code) {
	if !k.cfg.Sync.UsingSemaphore {
		return nil, kerrors.NotSupported
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.semCount >= k.cfg.Sync.SemMaxNum {
		return nil, kerrors.NotEnoughMemory
	}
	s, code := sem.New(initial, max)
	if !code.OK() {
		return nil, code
	}
	k.semCount++
	return s, kerrors.Success
}

// DestroySemaphore releases a semaphore's slot in the sync pool once it
// reports successfully destroyed.
func (k *Kernel) DestroySemaphore(s *sem.Sem) kerrors.Code {
	code := s.Destroy(k.sched)
	if code.OK() {
		k.mu.Lock()
		k.semCount--
		k.mu.Unlock()
	}
	return code
}

// CreateMutex allocates a mutex from the sync pool, capped at
// MutexMaxNum, using the configured chain-depth cap for priority
// inheritance.
func (k *Kernel) CreateMutex() (*mutex.Mutex, kerrors.Code) {
	if !k.cfg.Sync.UsingMutex {
		return nil, kerrors.NotSupported
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.mutexCount >= k.cfg.Sync.MutexMaxNum {
		return nil, kerrors.NotEnoughMemory
	}
	m, code := mutex.New(k.cfg.Sync.MutexChainDepth)
	if !code.OK() {
		return nil, code
	}
	k.mutexCount++
	return m, kerrors.Success
}

// DestroyMutex releases a mutex's slot in the sync pool.
func (k *Kernel) DestroyMutex(m *mutex.Mutex) kerrors.Code {
	code := m.Destroy(k.sched)
	if code.OK() {
		k.mu.Lock()
		k.mutexCount--
		k.mu.Unlock()
	}
	return code
}

// CreateQueue allocates a bounded queue from the sync pool, capped at
// QueueMaxNum.
func (k *Kernel) CreateQueue(elemSize, capacity int) (*queue.Queue, kerrors.Code) {
	if !k.cfg.Sync.UsingQueue {
		return nil, kerrors.NotSupported
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.queueCount >= k.cfg.Sync.QueueMaxNum {
		return nil, kerrors.NotEnoughMemory
	}
	q, code := queue.New(elemSize, capacity)
	if !code.OK() {
		return nil, code
	}
	k.queueCount++
	return q, kerrors.Success
}

// DestroyQueue releases a queue's slot in the sync pool.
func (k *Kernel) DestroyQueue(q *queue.Queue) kerrors.Code {
	code := q.Destroy(k.sched)
	if code.OK() {
		k.mu.Lock()
		k.queueCount--
		k.mu.Unlock()
	}
	return code
}

// CreateTimer registers a software timer, capped at TimerMaxNum.
func (k *Kernel) CreateTimer(name string, period ktime.Tick, autoReload bool, cb timer.CallbackFunc, arg any) (timer.Handle, kerrors.Code) {
	if !k.cfg.Timer.UsingTimer {
		return 0, kerrors.NotSupported
	}
	if name == "" {
		name = "timer-" + uuid.New().String()
	}
	return k.timers.Create(name, period, autoReload, cb, arg)
}

// StartTimer arms t for now+period.
func (k *Kernel) StartTimer(h timer.Handle) kerrors.Code {
	return k.timers.Start(h, k.sched.Now())
}

// StopTimer disarms t without destroying it.
func (k *Kernel) StopTimer(h timer.Handle) kerrors.Code { return k.timers.Stop(h) }

// DestroyTimer removes t entirely.
func (k *Kernel) DestroyTimer(h timer.Handle) kerrors.Code { return k.timers.Destroy(h) }

// Delay blocks the calling task for the given number of ticks.
func (k *Kernel) Delay(t *tcb.TCB, ticks ktime.Tick) kerrors.Code {
	return k.sched.Delay(t, ticks)
}

// TaskByHandle resolves a handle returned by CreateTask back to its TCB —
// the reference a task's own entry body needs for self-referencing calls
// like Delay, since EntryFunc is handed the task's Arg, not its TCB.
func (k *Kernel) TaskByHandle(h tcb.Handle) *tcb.TCB {
	return k.sched.Task(h)
}

// TaskInfo is one row of a DumpTasks snapshot.
type TaskInfo struct {
	Name               string
	State              string
	Priority           int
	BasePriority       int
	StackHighWaterMark int
	StackOverflowed    bool
	CPUBasisPoints     uint64
}

// DumpTasks returns a snapshot of every task's diagnostic state, for
// printing a task-list dump.
func (k *Kernel) DumpTasks() []TaskInfo {
	now := uint64(k.sched.Now())
	tasks := k.sched.Tasks()
	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		overflowed := t.StackOverflowed()
		if overflowed {
			k.hooks.FireStackOverflow(t)
		}
		infos = append(infos, TaskInfo{
			Name:               t.Name,
			State:              t.State.String(),
			Priority:           t.Priority(),
			BasePriority:       t.BasePriority,
			StackHighWaterMark: t.StackHighWaterMark(),
			StackOverflowed:    overflowed,
			CPUBasisPoints:     t.CPUBasisPoints(now),
		})
	}
	return infos
}

// HeapStats returns the allocator's counters, including the derived
// fragmentation percentage.
func (k *Kernel) HeapStats() (kheap.Stats, int) {
	return k.heap.Stats(), k.heap.FragmentationPercent()
}

// Package config holds the kernel's compile-time-constant table
// re-expressed as a defaulted, env-overridable Go struct.
package config

import (
	"os"
	"strconv"
)

// PriorityCount is one of the four ready-bucket widths the scheduler
// accepts.
type PriorityCount int

const (
	Priority8  PriorityCount = 8
	Priority16 PriorityCount = 16
	Priority32 PriorityCount = 32
	Priority64 PriorityCount = 64
)

// Config is the kernel's full set of compile-time-constant knobs.
type Config struct {
	Scheduler SchedulerConfig `json:"scheduler"`
	Heap      HeapConfig      `json:"heap"`
	Task      TaskConfig      `json:"task"`
	Sync      SyncConfig      `json:"sync"`
	Timer     TimerConfig     `json:"timer"`
	Hooks     HookConfig      `json:"hooks"`
}

// SchedulerConfig controls the ready-bucket count, tick rate, and
// round-robin slice.
type SchedulerConfig struct {
	PriorityNum    PriorityCount `json:"priority_num"`
	TickRateHz     int           `json:"tick_rate_hz"`
	TimeSliceTicks uint32        `json:"time_slice_ticks"`
}

// HeapConfig controls the static heap region backing kernel allocations.
type HeapConfig struct {
	HeapSize      int `json:"heap_size"`
	ByteAlignment int `json:"byte_alignment"`
}

// TaskConfig bounds task identity.
type TaskConfig struct {
	NameLen int `json:"task_name_len"`
}

// SyncConfig fixes the pool sizes for semaphores, mutexes, and queues.
type SyncConfig struct {
	UsingSemaphore bool `json:"using_semaphore"`
	UsingMutex     bool `json:"using_mutex"`
	UsingQueue     bool `json:"using_queue"`
	SemMaxNum      int  `json:"sem_max_num"`
	MutexMaxNum    int  `json:"mutex_max_num"`
	QueueMaxNum    int  `json:"queue_max_num"`
	// MutexChainDepth caps priority-inheritance chain propagation.
	MutexChainDepth int `json:"mutex_chain_depth"`
}

// TimerConfig fixes the software timer pool size.
type TimerConfig struct {
	UsingTimer bool `json:"using_timer"`
	TimerMaxNum int  `json:"timer_max_num"`
}

// HookConfig toggles the hook registry.
type HookConfig struct {
	UsingHook bool `json:"using_hook"`
}

// Default returns the kernel's default configuration: 32 ready buckets,
// a 1kHz tick, and a 5-tick round-robin slice.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			PriorityNum:    PriorityCount(getEnvIntOrDefault("ZKRTOS_PRIORITY_NUM", 32)),
			TickRateHz:     getEnvIntOrDefault("ZKRTOS_TICK_RATE_HZ", 1000),
			TimeSliceTicks: uint32(getEnvIntOrDefault("ZKRTOS_TIME_SLICE_TICKS", 5)),
		},
		Heap: HeapConfig{
			HeapSize:      getEnvIntOrDefault("ZKRTOS_HEAP_SIZE", 64*1024),
			ByteAlignment: getEnvIntOrDefault("ZKRTOS_BYTE_ALIGNMENT", 8),
		},
		Task: TaskConfig{
			NameLen: getEnvIntOrDefault("ZKRTOS_TASK_NAME_LEN", 32),
		},
		Sync: SyncConfig{
			UsingSemaphore:  getEnvBoolOrDefault("ZKRTOS_USING_SEMAPHORE", true),
			UsingMutex:      getEnvBoolOrDefault("ZKRTOS_USING_MUTEX", true),
			UsingQueue:      getEnvBoolOrDefault("ZKRTOS_USING_QUEUE", true),
			SemMaxNum:       getEnvIntOrDefault("ZKRTOS_SEM_MAX_NUM", 32),
			MutexMaxNum:     getEnvIntOrDefault("ZKRTOS_MUTEX_MAX_NUM", 16),
			QueueMaxNum:     getEnvIntOrDefault("ZKRTOS_QUEUE_MAX_NUM", 16),
			MutexChainDepth: getEnvIntOrDefault("ZKRTOS_MUTEX_CHAIN_DEPTH", 8),
		},
		Timer: TimerConfig{
			UsingTimer:  getEnvBoolOrDefault("ZKRTOS_USING_TIMER", true),
			TimerMaxNum: getEnvIntOrDefault("ZKRTOS_TIMER_MAX_NUM", 16),
		},
		Hooks: HookConfig{
			UsingHook: getEnvBoolOrDefault("ZKRTOS_USING_HOOK", true),
		},
	}
}

// Validate rejects out-of-range configurations.
func (c *Config) Validate() error {
	switch c.Scheduler.PriorityNum {
	case Priority8, Priority16, Priority32, Priority64:
	default:
		return errInvalid("priority_num must be one of 8, 16, 32, 64")
	}
	if c.Task.NameLen < 4 || c.Task.NameLen > 32 {
		return errInvalid("task_name_len must be within [4,32]")
	}
	if c.Heap.ByteAlignment != 4 && c.Heap.ByteAlignment != 8 {
		return errInvalid("byte_alignment must be 4 or 8")
	}
	if c.Heap.HeapSize <= 0 {
		return errInvalid("heap_size must be positive")
	}
	if c.Scheduler.TimeSliceTicks == 0 {
		return errInvalid("time_slice_ticks must be positive")
	}
	return nil
}

type validationError string

func (e validationError) Error() string { return string(e) }

func errInvalid(msg string) error { return validationError(msg) }

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

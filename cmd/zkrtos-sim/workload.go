package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/khryptorgraphics/zkrtos/config"
)

// Workload describes a simulation run: the scheduler/heap sizing to use
// and the tasks and timers to create before starting it. YAML-shaped so
// the run subcommand has something concrete to parse.
type Workload struct {
	PriorityNum    config.PriorityCount `yaml:"priority_num"`
	TickRateHz     int                  `yaml:"tick_rate_hz"`
	TimeSliceTicks uint32               `yaml:"time_slice_ticks"`
	HeapSize       int                  `yaml:"heap_size"`
	MaxTicks       uint64               `yaml:"max_ticks"`
	Realtime       bool                 `yaml:"realtime"`
	Tasks          []TaskSpec           `yaml:"tasks"`
	Timers         []TimerSpec          `yaml:"timers"`
}

// TaskSpec describes one task to create. Kind selects the canned entry
// body the simulation gives it — this CLI drives a fixed vocabulary of
// demo workloads, not arbitrary user code.
type TaskSpec struct {
	Name        string `yaml:"name"`
	Priority    int    `yaml:"priority"`
	StackSize   int    `yaml:"stack_size"`
	Kind        string `yaml:"kind"` // "periodic" or "burst"
	PeriodTicks uint32 `yaml:"period_ticks"`
	Iterations  int    `yaml:"iterations"` // burst: work items per wake, periodic: ignored
}

// TimerSpec describes one software timer to create and start.
type TimerSpec struct {
	Name        string `yaml:"name"`
	PeriodTicks uint32 `yaml:"period_ticks"`
	AutoReload  bool   `yaml:"auto_reload"`
}

// LoadWorkload reads and validates a workload file, filling in the
// kernel's own defaults for any scheduler/heap field left at zero.
func LoadWorkload(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workload: %w", err)
	}
	var w Workload
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse workload: %w", err)
	}

	def := config.Default()
	if w.PriorityNum == 0 {
		w.PriorityNum = def.Scheduler.PriorityNum
	}
	if w.TickRateHz == 0 {
		w.TickRateHz = def.Scheduler.TickRateHz
	}
	if w.TimeSliceTicks == 0 {
		w.TimeSliceTicks = def.Scheduler.TimeSliceTicks
	}
	if w.HeapSize == 0 {
		w.HeapSize = def.Heap.HeapSize
	}
	if w.MaxTicks == 0 {
		w.MaxTicks = 1000
	}
	for i := range w.Tasks {
		if w.Tasks[i].StackSize == 0 {
			w.Tasks[i].StackSize = 2048
		}
		if w.Tasks[i].Kind == "" {
			w.Tasks[i].Kind = "periodic"
		}
		if w.Tasks[i].PeriodTicks == 0 {
			w.Tasks[i].PeriodTicks = 10
		}
	}
	cfg := w.Config()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}
	return &w, nil
}

// Config builds the config.Config this workload's scheduler/heap fields
// describe, leaving sync/timer/hooks at their defaults.
func (w *Workload) Config() config.Config {
	cfg := *config.Default()
	cfg.Scheduler.PriorityNum = w.PriorityNum
	cfg.Scheduler.TickRateHz = w.TickRateHz
	cfg.Scheduler.TimeSliceTicks = w.TimeSliceTicks
	cfg.Heap.HeapSize = w.HeapSize
	return cfg
}

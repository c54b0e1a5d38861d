package main

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/khryptorgraphics/zkrtos/hostport"
	"github.com/khryptorgraphics/zkrtos/kernel"
	"github.com/khryptorgraphics/zkrtos/klog"
	"github.com/khryptorgraphics/zkrtos/ktime"
	"github.com/khryptorgraphics/zkrtos/tcb"
	"github.com/khryptorgraphics/zkrtos/timer"
)

func runCmd() *cobra.Command {
	var workloadPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a workload file for its configured tick budget and print task stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkload(workloadPath, verbose)
		},
	}
	cmd.Flags().StringVarP(&workloadPath, "workload", "w", "", "workload YAML file (required)")
	_ = cmd.MarkFlagRequired("workload")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log lifecycle events to stdout")
	return cmd
}

// periodicEntry delays period ticks, bumps counter, and repeats forever —
// the simplest possible periodic task body. handle is filled in by the
// caller right after CreateTask returns, which happens before the
// simulation starts, so the entry body always sees a resolved handle by
// the time it actually runs.
func periodicEntry(k *kernel.Kernel, handle *tcb.Handle, period ktime.Tick, counter *atomic.Uint64) tcb.EntryFunc {
	return func(arg any) {
		self := k.TaskByHandle(*handle)
		for {
			k.Delay(self, period)
			counter.Add(1)
		}
	}
}

// burstEntry delays period ticks, then bumps counter iterations times in a
// tight loop before delaying again — a crude stand-in for a task that
// occasionally does a batch of work instead of one unit per wake-up.
func burstEntry(k *kernel.Kernel, handle *tcb.Handle, period ktime.Tick, iterations int, counter *atomic.Uint64) tcb.EntryFunc {
	if iterations <= 0 {
		iterations = 1
	}
	return func(arg any) {
		self := k.TaskByHandle(*handle)
		for {
			k.Delay(self, period)
			for i := 0; i < iterations; i++ {
				counter.Add(1)
			}
		}
	}
}

func runWorkload(path string, verbose bool) error {
	w, err := LoadWorkload(path)
	if err != nil {
		return err
	}

	logger := klog.Discard()
	if verbose {
		logger = klog.New(os.Stdout)
	}

	p := hostport.NewSimulated(
		hostport.WithRealTime(w.Realtime),
		hostport.WithMaxTicks(w.MaxTicks),
		hostport.WithLogger(logger),
	)
	k := kernel.New(w.Config(), p, logger)

	counters := make(map[string]*atomic.Uint64, len(w.Tasks))
	for _, ts := range w.Tasks {
		counter := &atomic.Uint64{}
		counters[ts.Name] = counter

		handle := new(tcb.Handle)
		var entry tcb.EntryFunc
		switch ts.Kind {
		case "burst":
			entry = burstEntry(k, handle, ktime.Tick(ts.PeriodTicks), ts.Iterations, counter)
		default:
			entry = periodicEntry(k, handle, ktime.Tick(ts.PeriodTicks), counter)
		}

		h, code := k.CreateTask(ts.Name, entry, nil, ts.Priority, ts.StackSize)
		if !code.OK() {
			return fmt.Errorf("create task %q: %w", ts.Name, code)
		}
		*handle = h
	}

	for _, tm := range w.Timers {
		fires := &atomic.Uint64{}
		counters["timer:"+tm.Name] = fires
		h, code := k.CreateTimer(tm.Name, ktime.Tick(tm.PeriodTicks), tm.AutoReload,
			func(id timer.Handle, arg any) { fires.Add(1) }, nil)
		if !code.OK() {
			return fmt.Errorf("create timer %q: %w", tm.Name, code)
		}
		if code := k.StartTimer(h); !code.OK() {
			return fmt.Errorf("start timer %q: %w", tm.Name, code)
		}
	}

	k.Start()

	fmt.Println("task            state            prio  base  hwm   overflow  cpu_bp")
	for _, info := range k.DumpTasks() {
		fmt.Printf("%-15s %-16s %-5d %-5d %-5d %-9v %d\n",
			info.Name, info.State, info.Priority, info.BasePriority,
			info.StackHighWaterMark, info.StackOverflowed, info.CPUBasisPoints)
	}

	stats, frag := k.HeapStats()
	fmt.Printf("\nheap: total=%d peak_used=%d current_used=%d allocs=%d frees=%d alloc_failures=%d fragmentation=%d%%\n",
		stats.TotalSize, stats.PeakUsed, stats.CurrentUsed, stats.TotalAllocs, stats.TotalFrees, stats.AllocFailures, frag)

	for name, c := range counters {
		fmt.Printf("counter %s = %d\n", name, c.Load())
	}
	return nil
}

// Command zkrtos-sim runs the kernel against a YAML workload description
// on the host Port, printing task and heap diagnostics once the run
// completes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zkrtos-sim",
		Short: "Single-core preemptive RTOS kernel simulator",
		Long: `zkrtos-sim runs the zkrtos kernel against a workload of simulated
tasks and timers on a host Port, for development and demonstration
without target hardware.`,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(inspectCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "talsim",
	Short: "Drive per-thread heaps with a simulated workload",
	Long: `talsim creates a heap table, gives each simulated thread its own heap,
and runs a random sequence of allocate, resize and release calls against it.
It reports how each thread fared and the final state of every heap.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every heap call")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/tmal-go/tal/tal"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

type runOptions struct {
	Threads   int
	Slots     int
	HeapBytes int
	Ops       int
	MaxSize   int
	Seed      int64
	Map       bool
	Validate  bool
}

var runOpts = runOptions{}

func init() {
	cmd := newRunCmd()
	cmd.Flags().IntVar(&runOpts.Threads, "threads", 4, "Number of simulated threads, each with its own heap")
	cmd.Flags().IntVar(&runOpts.Slots, "slots", 64, "Metadata slots per heap")
	cmd.Flags().IntVar(&runOpts.HeapBytes, "heap", 64*1024, "Heap size in bytes per thread")
	cmd.Flags().IntVar(&runOpts.Ops, "ops", 10000, "Heap calls per thread")
	cmd.Flags().IntVar(&runOpts.MaxSize, "max-size", 1024, "Largest request size in bytes")
	cmd.Flags().Int64Var(&runOpts.Seed, "seed", 1, "Seed for the random workload")
	cmd.Flags().BoolVar(&runOpts.Map, "map", false, "Include every block of every heap in the report")
	cmd.Flags().BoolVar(&runOpts.Validate, "validate", false, "Validate each heap after every call")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a random workload on every thread's heap",
		Long: `The run command starts one goroutine per simulated thread. Each goroutine
initializes its own heap and performs a random sequence of allocate, resize and
release calls on it, checking that block contents survive resizes.

Example:
  talsim run --threads 8 --slots 32 --heap 4096 --ops 5000
  talsim run --threads 2 --ops 100 --map --validate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, runOpts)
		},
	}
	return cmd
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runSimulation(cmd *cobra.Command, opts runOptions) error {
	if opts.MaxSize < 1 {
		return errors.Newf("--max-size must be at least 1, got %d", opts.MaxSize)
	}
	if opts.Ops < 0 {
		return errors.Newf("--ops cannot be negative, got %d", opts.Ops)
	}

	var flags tal.CreateFlags
	if opts.Validate {
		flags |= tal.CreateValidateEachCall
	}

	logger := newLogger(cmd.ErrOrStderr())
	table, err := tal.InitTable(logger, opts.Threads, tal.CreateOptions{Flags: flags})
	if err != nil {
		return err
	}

	results := make([]workloadResult, opts.Threads)
	g, ctx := errgroup.WithContext(cmd.Context())

	for threadID := 0; threadID < opts.Threads; threadID++ {
		threadID := threadID
		g.Go(func() error {
			if err := table.InitHeap(threadID, opts.Slots, opts.HeapBytes); err != nil {
				return err
			}

			result, err := runWorkload(ctx, table, threadID, workloadConfig{
				Ops:     opts.Ops,
				MaxSize: opts.MaxSize,
				Seed:    opts.Seed,
			})
			results[threadID] = result
			return err
		})
	}

	err = g.Wait()
	if err != nil {
		return errors.CombineErrors(err, table.Destroy())
	}

	stats, err := table.BuildStatsString(opts.Map)
	if err != nil {
		return errors.CombineErrors(err, table.Destroy())
	}

	out := cmd.OutOrStdout()
	for i := range results {
		printResult(out, &results[i])
		if err := releaseAll(table, &results[i]); err != nil {
			return errors.CombineErrors(err, table.Destroy())
		}
	}
	fmt.Fprintln(out, stats)

	return table.Destroy()
}

func printResult(w io.Writer, result *workloadResult) {
	fmt.Fprintf(w, "thread %d: %d allocations, %d resizes (%d moved), %d releases, %d out of memory, %d metadata exhausted, %d live\n",
		result.ThreadID,
		result.Allocations,
		result.Resizes,
		result.Moves,
		result.Releases,
		result.OutOfMemory,
		result.MetadataExhausted,
		len(result.Live),
	)
}

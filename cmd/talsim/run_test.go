package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/tmal-go/tal/internal/reserve"
	"github.com/tmal-go/tal/tal"
	"golang.org/x/exp/slog"
)

func testCommand(out io.Writer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	return cmd
}

func TestRunSimulation(t *testing.T) {
	var out bytes.Buffer

	err := runSimulation(testCommand(&out), runOptions{
		Threads:   4,
		Slots:     16,
		HeapBytes: 2048,
		Ops:       500,
		MaxSize:   256,
		Seed:      42,
		Map:       true,
		Validate:  true,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	for i := 0; i < 4; i++ {
		require.True(t, strings.HasPrefix(lines[i], "thread "), lines[i])
	}

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &doc))
	require.Contains(t, doc, "Total")
	require.Len(t, doc["Heaps"], 4)
}

func TestRunSimulationRejectsBadOptions(t *testing.T) {
	err := runSimulation(testCommand(io.Discard), runOptions{Threads: 1, Slots: 8, HeapBytes: 64, MaxSize: 0})
	require.Error(t, err)

	err = runSimulation(testCommand(io.Discard), runOptions{Threads: 0, Slots: 8, HeapBytes: 64, MaxSize: 8})
	require.ErrorIs(t, err, tal.ErrAllocation)

	err = runSimulation(testCommand(io.Discard), runOptions{Threads: 2, Slots: 0, HeapBytes: 64, MaxSize: 8})
	require.ErrorIs(t, err, tal.ErrAllocation)
}

func TestRunWorkloadIsDeterministic(t *testing.T) {
	run := func() workloadResult {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		table, err := tal.InitTable(logger, 1, tal.CreateOptions{Reserver: &reserve.GoHeapReserver{}})
		require.NoError(t, err)
		require.NoError(t, table.InitHeap(0, 8, 512))

		result, err := runWorkload(context.Background(), table, 0, workloadConfig{Ops: 300, MaxSize: 96, Seed: 7})
		require.NoError(t, err)

		require.NoError(t, releaseAll(table, &result))
		require.NoError(t, table.Destroy())
		return result
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
	require.Positive(t, first.Allocations)
	require.Equal(t, first.Allocations, first.Releases)
}

func TestRunWorkloadStopsOnCancel(t *testing.T) {
	table, err := tal.InitTable(nil, 1, tal.CreateOptions{Reserver: &reserve.GoHeapReserver{}})
	require.NoError(t, err)
	require.NoError(t, table.InitHeap(0, 8, 512))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = runWorkload(ctx, table, 0, workloadConfig{Ops: 10, MaxSize: 16, Seed: 1})
	require.ErrorIs(t, err, context.Canceled)
}

func TestStampDetectsCorruption(t *testing.T) {
	data := make([]byte, 16)
	stamp(data, 32)
	require.NoError(t, checkStamp(data, 32, 16))

	data[5]++
	require.Error(t, checkStamp(data, 32, 16))
	require.NoError(t, checkStamp(data, 32, 5))
}

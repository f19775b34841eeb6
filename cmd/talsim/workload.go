package main

import (
	"context"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/tmal-go/tal/tal"
)

type workloadConfig struct {
	Ops     int
	MaxSize int
	Seed    int64
}

type workloadResult struct {
	ThreadID          int
	Allocations       int
	Resizes           int
	Moves             int
	Releases          int
	OutOfMemory       int
	MetadataExhausted int
	Live              []tal.Reference
}

func (r *workloadResult) countFailure(err error) error {
	switch {
	case errors.Is(err, tal.ErrOutOfMemory):
		r.OutOfMemory++
	case errors.Is(err, tal.ErrMetadataExhausted):
		r.MetadataExhausted++
	default:
		return errors.Wrapf(err, "thread %d", r.ThreadID)
	}
	return nil
}

// stamp writes a byte pattern derived from the reference over the whole block, so a block that
// moved or was overwritten by a neighbor can be detected.
func stamp(data []byte, ref tal.Reference) {
	for i := range data {
		data[i] = byte(int(ref) + i)
	}
}

func checkStamp(data []byte, ref tal.Reference, length int) error {
	for i := 0; i < length && i < len(data); i++ {
		if data[i] != byte(int(ref)+i) {
			return errors.Newf("byte %d of the block at offset %d was corrupted", i, int(ref))
		}
	}
	return nil
}

// runWorkload performs a random sequence of heap calls on a single thread's heap. It only touches
// the heap of threadID, so it can run concurrently with workloads for other threads.
func runWorkload(ctx context.Context, table *tal.Table, threadID int, config workloadConfig) (workloadResult, error) {
	result := workloadResult{ThreadID: threadID}
	rng := rand.New(rand.NewSource(config.Seed + int64(threadID)))

	// Number of stamped bytes in each live block
	lengths := map[tal.Reference]int{}

	restamp := func(ref tal.Reference) error {
		data, err := table.Bytes(threadID, ref)
		if err != nil {
			return err
		}
		stamp(data, ref)
		lengths[ref] = len(data)
		return nil
	}

	for op := 0; op < config.Ops; op++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		choice := rng.Intn(3)
		if len(result.Live) == 0 {
			choice = 0
		}

		switch choice {
		case 0:
			ref, err := table.Allocate(threadID, 1+rng.Intn(config.MaxSize))
			if err != nil {
				if err = result.countFailure(err); err != nil {
					return result, err
				}
				continue
			}

			result.Allocations++
			result.Live = append(result.Live, ref)
			if err = restamp(ref); err != nil {
				return result, err
			}
		case 1:
			index := rng.Intn(len(result.Live))
			ref := result.Live[index]

			newRef, err := table.Resize(threadID, ref, 1+rng.Intn(config.MaxSize))
			if err != nil {
				if err = result.countFailure(err); err != nil {
					return result, err
				}
				continue
			}

			result.Resizes++
			data, err := table.Bytes(threadID, newRef)
			if err != nil {
				return result, err
			}
			if err = checkStamp(data, ref, lengths[ref]); err != nil {
				return result, errors.Wrapf(err, "thread %d: resize", threadID)
			}

			if newRef != ref {
				result.Moves++
				delete(lengths, ref)
			}
			result.Live[index] = newRef
			if err = restamp(newRef); err != nil {
				return result, err
			}
		default:
			index := rng.Intn(len(result.Live))
			ref := result.Live[index]

			data, err := table.Bytes(threadID, ref)
			if err != nil {
				return result, err
			}
			if err = checkStamp(data, ref, lengths[ref]); err != nil {
				return result, errors.Wrapf(err, "thread %d: release", threadID)
			}

			if err = table.Release(threadID, ref); err != nil {
				return result, err
			}

			result.Releases++
			delete(lengths, ref)
			result.Live = append(result.Live[:index], result.Live[index+1:]...)
		}
	}

	return result, table.Validate(threadID)
}

// releaseAll hands every live block of a workload back to its heap
func releaseAll(table *tal.Table, result *workloadResult) error {
	for _, ref := range result.Live {
		if err := table.Release(result.ThreadID, ref); err != nil {
			return err
		}
		result.Releases++
	}
	result.Live = nil

	return nil
}

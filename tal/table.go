package tal

import (
	"github.com/cockroachdb/errors"
	"github.com/tmal-go/tal/internal/reserve"
	"github.com/tmal-go/tal/memutils"
	"github.com/tmal-go/tal/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Table holds one heap per thread. The table is sized once by InitTable and never grows. Each heap
// must only be used by the thread it was created for: the table performs no locking, and calls for
// different thread ids touch disjoint state, so they may run concurrently with each other.
type Table struct {
	logger      *slog.Logger
	createFlags CreateFlags
	unit        uint
	reserver    reserve.Reserver

	heaps []*Pool
}

// ThreadCount returns the number of heaps the table was created with
func (t *Table) ThreadCount() int {
	return len(t.heaps)
}

// MinimumUnit returns the unit that every request and heap size is rounded up to
func (t *Table) MinimumUnit() uint {
	return t.unit
}

func (t *Table) checkThread(threadID int) error {
	if threadID < 0 || threadID >= len(t.heaps) {
		return errors.Wrapf(ErrInvalidThread, "thread id %d, table holds %d threads", threadID, len(t.heaps))
	}
	return nil
}

func (t *Table) pool(threadID int) (*Pool, error) {
	err := t.checkThread(threadID)
	if err != nil {
		return nil, err
	}

	pool := t.heaps[threadID]
	if pool == nil {
		return nil, errors.Wrapf(ErrHeapNotInitialized, "thread id %d", threadID)
	}

	return pool, nil
}

func (t *Table) validateAfterCall(pool *Pool) error {
	if t.createFlags&CreateValidateEachCall != 0 {
		err := pool.Validate()
		if err != nil {
			return errors.Wrapf(err, "thread %d: heap failed validation", pool.threadID)
		}
	}

	memutils.DebugValidate(pool)
	return nil
}

// Heap returns the heap of the provided thread, for introspection
func (t *Table) Heap(threadID int) (*Pool, error) {
	return t.pool(threadID)
}

// InitHeap reserves the heap buffer for a single thread and divides it into one free block. This
// must be called once for a thread id before any other call for that thread id.
//
// threadID - The thread the heap belongs to
//
// slotCapacity - The number of metadata slots. Each block of the heap, used or free, occupies one
// slot, so this is the maximum number of blocks the heap can be divided into at once
//
// heapBytes - The size of the heap buffer. It is rounded up to the table's minimum unit
func (t *Table) InitHeap(threadID int, slotCapacity int, heapBytes int) error {
	t.logger.Debug("Table::InitHeap",
		slog.Int("thread", threadID),
		slog.Int("slots", slotCapacity),
		slog.Int("bytes", heapBytes),
	)

	err := t.checkThread(threadID)
	if err != nil {
		return err
	}

	if t.heaps[threadID] != nil {
		return errors.Wrapf(ErrHeapInUse, "thread id %d", threadID)
	}

	if heapBytes < 1 {
		return errors.Wrapf(ErrAllocation, "thread %d: cannot reserve a heap of %d bytes", threadID, heapBytes)
	}

	alignedBytes, ok := memutils.AlignUpChecked(heapBytes, t.unit)
	if !ok {
		return errors.Wrapf(ErrAllocation, "thread %d: a heap of %d bytes cannot be rounded up to a multiple of %d", threadID, heapBytes, t.unit)
	}
	heapBytes = alignedBytes

	// The slot array is created first so that a failure leaves no host memory to give back
	md, err := metadata.NewBlockMetadata(slotCapacity, t.unit)
	if err != nil {
		return t.reservationFailure(threadID, heapBytes, err)
	}

	data, err := t.reserver.Reserve(heapBytes)
	if err == nil && len(data) != heapBytes {
		err = errors.Newf("reserver returned %d bytes", len(data))
		releaseErr := t.reserver.Release(data)
		if releaseErr != nil {
			err = errors.CombineErrors(err, releaseErr)
		}
	}
	if err != nil {
		return t.reservationFailure(threadID, heapBytes, err)
	}

	pool := &Pool{}
	pool.init(t.logger, threadID, data, md, t.createFlags&CreateZeroOnAllocate != 0)
	t.heaps[threadID] = pool

	return nil
}

func (t *Table) reservationFailure(threadID int, heapBytes int, err error) error {
	t.logger.Error("failed to reserve heap memory",
		slog.Int("thread", threadID),
		slog.Int("bytes", heapBytes),
		slog.Any("error", err),
	)
	return errors.WithSecondaryError(errors.Wrapf(ErrAllocation, "thread %d: failed to reserve a heap of %d bytes", threadID, heapBytes), err)
}

// Allocate hands out a block of at least size bytes from the thread's heap, rounded up to the
// table's minimum unit. A size of 0 returns NullReference and no error.
//
// Allocate fails with ErrOutOfMemory when no free block is large enough, and with
// ErrMetadataExhausted when the free block it chose would need to be split but every metadata slot
// of the heap is in use.
func (t *Table) Allocate(threadID int, size int) (Reference, error) {
	t.logger.Debug("Table::Allocate", slog.Int("thread", threadID), slog.Int("size", size))

	pool, err := t.pool(threadID)
	if err != nil {
		return NullReference, err
	}

	ref, err := pool.allocate(size)
	if err != nil {
		return NullReference, err
	}

	return ref, t.validateAfterCall(pool)
}

// Resize changes the size of a block previously returned for the same thread. The block keeps its
// reference when it shrinks, or when it grows into a free block that directly follows it.
// Otherwise the contents of the old block are copied into a new block and the old one is released.
//
// NullReference is resized like a fresh Allocate call, and a newSize of 0 releases the block and
// returns NullReference. When Resize fails, the original block is left untouched.
func (t *Table) Resize(threadID int, ref Reference, newSize int) (Reference, error) {
	t.logger.Debug("Table::Resize",
		slog.Int("thread", threadID),
		slog.Int("ref", int(ref)),
		slog.Int("size", newSize),
	)

	pool, err := t.pool(threadID)
	if err != nil {
		return NullReference, err
	}

	newRef, err := pool.resize(ref, newSize)
	if err != nil {
		return NullReference, err
	}

	return newRef, t.validateAfterCall(pool)
}

// Release returns a block to the thread's heap, merging it with the free blocks around it.
// Releasing NullReference, or a block that is already free, does nothing. A reference that does not
// start a block of the heap fails with ErrNotFound.
func (t *Table) Release(threadID int, ref Reference) error {
	t.logger.Debug("Table::Release", slog.Int("thread", threadID), slog.Int("ref", int(ref)))

	pool, err := t.pool(threadID)
	if err != nil {
		return err
	}

	err = pool.release(ref)
	if err != nil {
		return err
	}

	return t.validateAfterCall(pool)
}

// Bytes returns the memory of a used block. The slice is only valid until the block is released or
// resized.
func (t *Table) Bytes(threadID int, ref Reference) ([]byte, error) {
	pool, err := t.pool(threadID)
	if err != nil {
		return nil, err
	}

	return pool.bytes(ref)
}

// Validate performs a full consistency check of the thread's heap
func (t *Table) Validate(threadID int) error {
	t.logger.Debug("Table::Validate", slog.Int("thread", threadID))

	pool, err := t.pool(threadID)
	if err != nil {
		return err
	}

	return pool.Validate()
}

// DestroyHeap releases the heap buffer of a single thread. Any allocations still held are logged
// and reported in the returned error, but the memory is released regardless. The thread id can be
// initialized again afterward.
func (t *Table) DestroyHeap(threadID int) error {
	t.logger.Debug("Table::DestroyHeap", slog.Int("thread", threadID))

	pool, err := t.pool(threadID)
	if err != nil {
		return err
	}

	t.heaps[threadID] = nil
	return pool.destroy(t.reserver)
}

// Destroy releases every initialized heap of the table
func (t *Table) Destroy() error {
	t.logger.Debug("Table::Destroy")

	var err error
	for threadID, pool := range t.heaps {
		if pool == nil {
			continue
		}

		t.heaps[threadID] = nil
		err = errors.CombineErrors(err, pool.destroy(t.reserver))
	}

	return err
}

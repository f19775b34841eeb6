package tal

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/tmal-go/tal/internal/reserve"
	"github.com/tmal-go/tal/memutils"
	"github.com/tmal-go/tal/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Pool is the heap of a single thread: a buffer of host memory and the metadata describing how it
// is divided into blocks. A Pool is owned by exactly one thread and performs no locking.
type Pool struct {
	threadID       int
	logger         *slog.Logger
	zeroOnAllocate bool

	data     []byte
	metadata *metadata.BlockMetadata
}

func (p *Pool) init(logger *slog.Logger, threadID int, data []byte, md *metadata.BlockMetadata, zeroOnAllocate bool) {
	if p.data != nil {
		panic("attempting to initialize a heap that is already in use")
	}

	p.threadID = threadID
	p.logger = logger
	p.zeroOnAllocate = zeroOnAllocate
	p.data = data
	p.metadata = md
	p.metadata.Init(len(data))
}

func (p *Pool) destroy(reserver reserve.Reserver) error {
	var err error

	if !p.metadata.IsEmpty() {
		_ = p.metadata.VisitAllRegions(func(index int, offset int, size int, free bool) error {
			if !free {
				p.logUnreleasedMemory(offset, size)
			}
			return nil
		})

		err = errors.Newf("thread %d still held %d allocations when its heap was destroyed", p.threadID, p.metadata.AllocationCount())
	}

	releaseErr := reserver.Release(p.data)
	if releaseErr != nil {
		releaseErr = errors.Wrapf(releaseErr, "thread %d: failed to release heap memory", p.threadID)
	}

	p.data = nil
	p.metadata = nil

	return errors.CombineErrors(err, releaseErr)
}

func (p *Pool) logUnreleasedMemory(offset, size int) {
	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation",
		slog.Int("thread", p.threadID),
		slog.Int("offset", offset),
		slog.Int("size", size),
	)
}

func (p *Pool) block(index int) metadata.Block {
	block, err := p.metadata.Block(index)
	if err != nil {
		panic(fmt.Sprintf("heap metadata returned an invalid slot: %+v", err))
	}
	return block
}

func (p *Pool) findUsed(ref Reference) (int, error) {
	index, ok := p.metadata.FindByOffset(int(ref))
	if !ok || !p.block(index).Used {
		return metadata.NoBlock, errors.Wrapf(ErrNotFound, "no allocation starts at offset %d", int(ref))
	}

	return index, nil
}

func (p *Pool) alignSize(size int) int {
	return memutils.AlignUp(size, p.metadata.Unit())
}

func (p *Pool) clearBytes(offset, end int) {
	if p.zeroOnAllocate {
		clear(p.data[offset:end])
	}
}

func (p *Pool) allocate(size int) (Reference, error) {
	if size == 0 {
		return NullReference, nil
	}
	if size < 0 {
		return NullReference, errors.Wrapf(ErrInvalidSize, "cannot allocate %d bytes", size)
	}
	if size > p.metadata.Size() {
		return NullReference, errors.Wrapf(ErrOutOfMemory, "cannot allocate %d bytes from a heap of %d bytes", size, p.metadata.Size())
	}

	alignedSize := p.alignSize(size)
	index, err := p.metadata.Alloc(alignedSize)
	if err != nil {
		return NullReference, translateMetadataError(err, alignedSize)
	}

	block := p.block(index)
	p.clearBytes(block.Offset, block.End())

	return Reference(block.Offset), nil
}

func (p *Pool) release(ref Reference) error {
	if ref.IsNull() {
		return nil
	}

	index, ok := p.metadata.FindByOffset(int(ref))
	if !ok {
		return errors.Wrapf(ErrNotFound, "no block starts at offset %d", int(ref))
	}

	_, err := p.metadata.Free(index)
	return err
}

func (p *Pool) resize(ref Reference, newSize int) (Reference, error) {
	if ref.IsNull() {
		return p.allocate(newSize)
	}

	if newSize == 0 {
		return NullReference, p.release(ref)
	}
	if newSize < 0 {
		return NullReference, errors.Wrapf(ErrInvalidSize, "cannot resize to %d bytes", newSize)
	}

	index, err := p.findUsed(ref)
	if err != nil {
		return NullReference, err
	}

	if newSize > p.metadata.Size() {
		return NullReference, errors.Wrapf(ErrOutOfMemory, "cannot resize to %d bytes in a heap of %d bytes", newSize, p.metadata.Size())
	}

	alignedSize := p.alignSize(newSize)
	block := p.block(index)

	if alignedSize == block.Size {
		return ref, nil
	}

	if alignedSize < block.Size {
		err = p.metadata.Shrink(index, alignedSize)
		if err != nil {
			return NullReference, err
		}
		return ref, nil
	}

	grown, err := p.metadata.GrowInPlace(index, alignedSize)
	if err != nil {
		return NullReference, err
	}
	if grown {
		p.clearBytes(block.End(), block.Offset+alignedSize)
		return ref, nil
	}

	// Could not grow in place, move the allocation
	newRef, err := p.allocate(newSize)
	if err != nil {
		return NullReference, err
	}

	// Only the bytes of the old size were ever written
	copy(p.data[int(newRef):int(newRef)+block.Size], p.data[block.Offset:block.End()])

	_, err = p.metadata.Free(index)
	if err != nil {
		return NullReference, err
	}

	return newRef, nil
}

func (p *Pool) bytes(ref Reference) ([]byte, error) {
	index, err := p.findUsed(ref)
	if err != nil {
		return nil, err
	}

	block := p.block(index)
	return p.data[block.Offset:block.End():block.End()], nil
}

// ThreadID returns the id of the thread that owns this heap
func (p *Pool) ThreadID() int { return p.threadID }

// Size returns the size in bytes of the heap buffer
func (p *Pool) Size() int { return p.metadata.Size() }

// SlotCapacity returns the number of metadata slots, which bounds the number of blocks the heap
// can be divided into
func (p *Pool) SlotCapacity() int { return p.metadata.SlotCapacity() }

// AllocationCount returns the number of live allocations
func (p *Pool) AllocationCount() int { return p.metadata.AllocationCount() }

// SumFreeSize returns the number of bytes in free blocks
func (p *Pool) SumFreeSize() int { return p.metadata.SumFreeSize() }

// Validate performs a full consistency check of the heap's metadata
func (p *Pool) Validate() error {
	if p.data == nil {
		return errors.New("no valid memory for this heap")
	}
	if len(p.data) != p.metadata.Size() {
		return errors.Newf("the heap buffer holds %d bytes but its metadata describes %d", len(p.data), p.metadata.Size())
	}

	return p.metadata.Validate()
}

// VisitAllRegions calls the provided callback once for each used and free block, in address order
func (p *Pool) VisitAllRegions(handleRegion func(ref Reference, size int, free bool) error) error {
	return p.metadata.VisitAllRegions(func(index int, offset int, size int, free bool) error {
		return handleRegion(Reference(offset), size, free)
	})
}

// AddStatistics sums this heap's basic statistics into the provided object
func (p *Pool) AddStatistics(stats *memutils.Statistics) {
	p.metadata.AddStatistics(stats)
}

// AddDetailedStatistics sums this heap's statistics into the provided object
func (p *Pool) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	p.metadata.AddDetailedStatistics(stats)
}

// PrintDetailedMap writes the heap's totals and every one of its blocks to a json object
func (p *Pool) PrintDetailedMap(json *jwriter.ObjectState) {
	p.metadata.BlockJsonData(json)

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = p.metadata.VisitAllRegions(func(index int, offset int, size int, free bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(offset)
		obj.Name("Size").Int(size)
		if free {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("USED")
		}
		obj.Name("Slot").Int(index)

		return nil
	})
}

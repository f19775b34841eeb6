package metadata

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/tmal-go/tal/memutils"
)

var (
	// ErrMetadataExhausted is returned when a block must be split but every metadata slot is
	// already describing part of the heap
	ErrMetadataExhausted = errors.New("no metadata slot is available for a split")
	// ErrNoFreeBlock is returned when no free block is large enough to hold a request
	ErrNoFreeBlock = errors.New("no free block is large enough for the request")
	// ErrInvalidSize is returned when a size cannot be applied to the block it was requested for
	ErrInvalidSize = errors.New("invalid block size")
	// ErrUnknownBlock is returned when a slot index does not map to an active block, or maps to a
	// block in the wrong state for the operation
	ErrUnknownBlock = errors.New("slot does not describe a suitable block")
	// ErrSlotCapacity is returned when a slot array of the requested capacity cannot be created
	ErrSlotCapacity = errors.New("invalid metadata slot capacity")
)

// MaxSlotCapacity is the largest slot capacity NewBlockMetadata accepts. The offset index is
// created with a 32-bit capacity.
const MaxSlotCapacity = math.MaxInt32

// BlockMetadata tracks how a single heap of a fixed size is divided into blocks. The blocks live
// in a fixed-capacity array of slots and are chained in address order through slot indices, so
// the number of blocks that can exist at once is bounded by the slot capacity.
//
// BlockMetadata does not own or touch the memory it describes. It is not safe for concurrent use.
type BlockMetadata struct {
	size   int
	unit   uint
	blocks []Block

	activeCount int
	allocCount  int
	freeCount   int
	freeSize    int

	offsetIndex *swiss.Map[int, int]
}

var _ memutils.Validatable = &BlockMetadata{}

// NewBlockMetadata creates a BlockMetadata with slotCapacity slots. unit is the minimum addressable
// unit that every block size is a multiple of, and must be a power of two. Init must be called
// before the metadata is used.
//
// A slotCapacity below 1, above MaxSlotCapacity, or too large for the slot array to be addressed
// fails with ErrSlotCapacity before anything is allocated.
func NewBlockMetadata(slotCapacity int, unit uint) (*BlockMetadata, error) {
	memutils.DebugCheckPow2(unit, "unit")

	if slotCapacity < 1 || slotCapacity > MaxSlotCapacity ||
		slotCapacity > math.MaxInt/int(unsafe.Sizeof(Block{})) {
		return nil, errors.Wrapf(ErrSlotCapacity, "cannot create %d slots", slotCapacity)
	}

	return &BlockMetadata{
		unit:   unit,
		blocks: make([]Block, slotCapacity),
	}, nil
}

// Init sizes the heap described by this metadata and resets it to a single free block spanning
// the whole heap. Every other slot becomes available.
func (m *BlockMetadata) Init(size int) {
	if len(m.blocks) == 0 {
		panic("block metadata requires at least one slot")
	}

	m.size = size
	for i := range m.blocks {
		m.blocks[i].reset()
	}

	head := &m.blocks[headSlot]
	head.Offset = 0
	head.Size = size

	m.activeCount = 1
	m.allocCount = 0
	m.freeCount = 1
	m.freeSize = size

	m.offsetIndex = swiss.NewMap[int, int](uint32(len(m.blocks)))
	m.offsetIndex.Put(0, headSlot)
}

// Size returns the size of the heap in bytes
func (m *BlockMetadata) Size() int { return m.size }

// Unit returns the minimum addressable unit
func (m *BlockMetadata) Unit() uint { return m.unit }

// SlotCapacity returns the number of metadata slots
func (m *BlockMetadata) SlotCapacity() int { return len(m.blocks) }

// ActiveSlots returns the number of slots currently describing a block
func (m *BlockMetadata) ActiveSlots() int { return m.activeCount }

// AllocationCount returns the number of used blocks
func (m *BlockMetadata) AllocationCount() int { return m.allocCount }

// FreeRegionsCount returns the number of free blocks. Adjacent free blocks are always merged, so
// this is also the number of distinct free regions.
func (m *BlockMetadata) FreeRegionsCount() int { return m.freeCount }

// SumFreeSize returns the number of bytes in free blocks
func (m *BlockMetadata) SumFreeSize() int { return m.freeSize }

// IsEmpty will return true if this heap has no used blocks
func (m *BlockMetadata) IsEmpty() bool { return m.allocCount == 0 }

// Head returns the slot of the first block in address order
func (m *BlockMetadata) Head() int { return headSlot }

// Block returns a copy of the record held in the provided slot
func (m *BlockMetadata) Block(index int) (Block, error) {
	if index < 0 || index >= len(m.blocks) {
		return Block{}, errors.Errorf("slot %d is outside of the slot array (capacity %d)", index, len(m.blocks))
	}

	return m.blocks[index], nil
}

// FindByOffset returns the slot of the active block that begins at offset, if there is one
func (m *BlockMetadata) FindByOffset(offset int) (int, bool) {
	return m.offsetIndex.Get(offset)
}

// FindFirstFit walks the blocks in address order and returns the slot of the first free block
// holding at least size bytes, or NoBlock.
func (m *BlockMetadata) FindFirstFit(size int) int {
	for i := headSlot; i != NoBlock; i = m.blocks[i].Next {
		block := &m.blocks[i]
		if !block.Used && block.Size >= size {
			return i
		}
	}

	return NoBlock
}

func (m *BlockMetadata) activeBlock(index int) (*Block, error) {
	if index < 0 || index >= len(m.blocks) || !m.blocks[index].IsActive() {
		return nil, errors.Wrapf(ErrUnknownBlock, "slot %d is not active", index)
	}

	return &m.blocks[index], nil
}

func (m *BlockMetadata) availableSlot() int {
	for i := range m.blocks {
		if !m.blocks[i].IsActive() {
			return i
		}
	}

	return NoBlock
}

func (m *BlockMetadata) markUsed(index int) {
	block := &m.blocks[index]
	block.Used = true
	m.allocCount++
	m.freeCount--
	m.freeSize -= block.Size
}

func (m *BlockMetadata) markFree(index int) {
	block := &m.blocks[index]
	block.Used = false
	m.allocCount--
	m.freeCount++
	m.freeSize += block.Size
}

// Split shrinks the active block in slot index down to size bytes, describing the bytes it gave up
// with a new free block taken from an available slot. The new block follows the original in the
// chain. If the block is already exactly size bytes, SplitNotNeeded is returned and nothing changes.
// If no slot is available, ErrMetadataExhausted is returned and nothing changes.
func (m *BlockMetadata) Split(index int, size int) (SplitOutcome, int, error) {
	block, err := m.activeBlock(index)
	if err != nil {
		return SplitNotNeeded, NoBlock, err
	}

	if size < 1 || size > block.Size {
		return SplitNotNeeded, NoBlock, errors.Wrapf(ErrInvalidSize, "cannot split %d bytes from a block of %d bytes", size, block.Size)
	}

	if size == block.Size {
		return SplitNotNeeded, NoBlock, nil
	}

	newIndex := m.availableSlot()
	if newIndex == NoBlock {
		return SplitNotNeeded, NoBlock, errors.Wrapf(ErrMetadataExhausted, "all %d slots are active", len(m.blocks))
	}

	newBlock := &m.blocks[newIndex]
	newBlock.Offset = block.Offset + size
	newBlock.Size = block.Size - size
	newBlock.Used = false
	newBlock.Prev = index
	newBlock.Next = block.Next
	if block.Next != NoBlock {
		m.blocks[block.Next].Prev = newIndex
	}

	block.Next = newIndex
	block.Size = size

	m.activeCount++
	m.freeCount++
	if block.Used {
		m.freeSize += newBlock.Size
	}
	m.offsetIndex.Put(newBlock.Offset, newIndex)

	return SplitDone, newIndex, nil
}

// Merge folds the block in slot right into the block in slot left, which keeps its used state. It
// returns false and changes nothing unless right begins exactly where left ends. The slot that held
// right becomes available.
func (m *BlockMetadata) Merge(left, right int) bool {
	if left == right {
		return false
	}
	leftBlock, err := m.activeBlock(left)
	if err != nil {
		return false
	}
	rightBlock, err := m.activeBlock(right)
	if err != nil {
		return false
	}

	if leftBlock.End() != rightBlock.Offset {
		return false
	}

	if rightBlock.Used {
		m.allocCount--
		if !leftBlock.Used {
			m.freeSize += rightBlock.Size
		}
	} else {
		m.freeCount--
		if leftBlock.Used {
			m.freeSize -= rightBlock.Size
		}
	}

	leftBlock.Size += rightBlock.Size
	leftBlock.Next = rightBlock.Next
	if rightBlock.Next != NoBlock {
		m.blocks[rightBlock.Next].Prev = left
	}

	m.offsetIndex.Delete(rightBlock.Offset)
	rightBlock.reset()
	m.activeCount--

	return true
}

// Alloc marks the first free block of at least size bytes as used, splitting off whatever it does
// not need when that is at least one unit. It returns the slot of the used block.
func (m *BlockMetadata) Alloc(size int) (int, error) {
	if size < 1 {
		return NoBlock, errors.Wrapf(ErrInvalidSize, "cannot allocate %d bytes", size)
	}

	memutils.DebugValidate(m)

	if size > m.freeSize {
		return NoBlock, errors.Wrapf(ErrNoFreeBlock, "requested %d bytes but only %d are free", size, m.freeSize)
	}

	index := m.FindFirstFit(size)
	if index == NoBlock {
		return NoBlock, errors.Wrapf(ErrNoFreeBlock, "no free block holds %d bytes", size)
	}

	if m.blocks[index].Size-size >= int(m.unit) {
		_, _, err := m.Split(index, size)
		if err != nil {
			return NoBlock, err
		}
	}

	m.markUsed(index)

	return index, nil
}

// Free marks the used block in slot index as free and merges it with a free successor and then
// with a free predecessor. Freeing a block that is already free does nothing and returns false.
func (m *BlockMetadata) Free(index int) (bool, error) {
	block, err := m.activeBlock(index)
	if err != nil {
		return false, err
	}

	if !block.Used {
		return false, nil
	}

	m.markFree(index)

	// Merging the successor first keeps index valid for the predecessor merge
	next := block.Next
	if next != NoBlock && !m.blocks[next].Used {
		m.Merge(index, next)
	}

	prev := block.Prev
	if prev != NoBlock && !m.blocks[prev].Used {
		m.Merge(prev, index)
	}

	memutils.DebugValidate(m)

	return true, nil
}

// Shrink reduces the used block in slot index to size bytes. The bytes given up become a free block
// which is merged with the following block if that one is free too.
func (m *BlockMetadata) Shrink(index int, size int) error {
	block, err := m.activeBlock(index)
	if err != nil {
		return err
	}

	if !block.Used {
		return errors.Wrapf(ErrUnknownBlock, "slot %d is free", index)
	}

	outcome, remainder, err := m.Split(index, size)
	if err != nil || outcome == SplitNotNeeded {
		return err
	}

	next := m.blocks[remainder].Next
	if next != NoBlock && !m.blocks[next].Used {
		m.Merge(remainder, next)
	}

	memutils.DebugValidate(m)

	return nil
}

// GrowInPlace extends the used block in slot index to size bytes by absorbing the free block that
// follows it, returning any excess to a free block. It returns false and changes nothing if the
// following block is missing, used, or too small.
func (m *BlockMetadata) GrowInPlace(index int, size int) (bool, error) {
	block, err := m.activeBlock(index)
	if err != nil {
		return false, err
	}

	if !block.Used {
		return false, errors.Wrapf(ErrUnknownBlock, "slot %d is free", index)
	}

	if size <= block.Size {
		return false, errors.Wrapf(ErrInvalidSize, "cannot grow a block of %d bytes to %d bytes", block.Size, size)
	}

	next := block.Next
	if next == NoBlock || m.blocks[next].Used || block.Size+m.blocks[next].Size < size {
		return false, nil
	}

	m.Merge(index, next)

	// The merge released a slot, so the split cannot run out of them
	_, _, err = m.Split(index, size)
	if err != nil {
		panic(fmt.Sprintf("failed to return excess bytes after growing block at offset %d: %+v", block.Offset, err))
	}

	memutils.DebugValidate(m)

	return true, nil
}

// VisitAllRegions will call the provided callback once for each used and free block in address order.
func (m *BlockMetadata) VisitAllRegions(handleBlock func(index int, offset int, size int, free bool) error) error {
	for i := headSlot; i != NoBlock; i = m.blocks[i].Next {
		block := &m.blocks[i]
		err := handleBlock(i, block.Offset, block.Size, !block.Used)
		if err != nil {
			return err
		}
	}

	return nil
}

// AddDetailedStatistics sums this heap's statistics into the provided object
func (m *BlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += m.size
	stats.SlotCount += len(m.blocks)
	stats.ActiveSlots += m.activeCount

	for i := headSlot; i != NoBlock; i = m.blocks[i].Next {
		block := &m.blocks[i]
		if block.Used {
			stats.AddAllocation(block.Size)
		} else {
			stats.AddUnusedRange(block.Size)
		}
	}
}

// AddStatistics sums this heap's basic statistics into the provided object
func (m *BlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.HeapCount++
	stats.AllocationCount += m.allocCount
	stats.HeapBytes += m.size
	stats.AllocationBytes += m.size - m.freeSize
	stats.SlotCount += len(m.blocks)
	stats.ActiveSlots += m.activeCount
}

// BlockJsonData populates a json object with information about this heap
func (m *BlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(m.size)
	json.Name("UnusedBytes").Int(m.freeSize)
	json.Name("Allocations").Int(m.allocCount)
	json.Name("UnusedRanges").Int(m.freeCount)
	json.Name("Slots").Int(len(m.blocks))
	json.Name("ActiveSlots").Int(m.activeCount)
}

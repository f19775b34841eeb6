package metadata

import (
	"github.com/pkg/errors"
	"github.com/tmal-go/tal/memutils"
)

// Validate performs internal consistency checks on the metadata. It walks the full block chain and
// the full slot array, so it is expensive and should be used for diagnostics and tests.
func (m *BlockMetadata) Validate() error {
	if len(m.blocks) == 0 || m.offsetIndex == nil {
		return errors.New("block metadata was never initialized")
	}

	head := &m.blocks[headSlot]
	if head.Offset != 0 {
		return errors.Errorf("the head block should have an offset of 0, but instead it has an offset of %d", head.Offset)
	}
	if head.Prev != NoBlock {
		return errors.Errorf("the head block has a previous block %d", head.Prev)
	}

	nextOffset := 0
	var calculatedFreeSize, allocCount, freeCount, chainLength int
	prevFree := false

	for i, prev := headSlot, NoBlock; i != NoBlock; prev, i = i, m.blocks[i].Next {
		chainLength++
		if chainLength > len(m.blocks) {
			return errors.New("the block chain contains a cycle")
		}

		block := &m.blocks[i]
		if !block.IsActive() {
			return errors.Errorf("slot %d is in the block chain but is marked available", i)
		}
		if block.Prev != prev {
			return errors.Errorf("block at offset %d lists slot %d as its previous block, but the previous block is slot %d", block.Offset, block.Prev, prev)
		}
		if block.Offset != nextOffset {
			return errors.Errorf("block at offset %d does not start at the previous block's end offset %d", block.Offset, nextOffset)
		}
		if block.Size < 1 {
			return errors.Errorf("block at offset %d has invalid size %d", block.Offset, block.Size)
		}
		if err := memutils.CheckAligned(block.Size, m.unit, "block size"); err != nil {
			return errors.Wrapf(err, "block at offset %d", block.Offset)
		}

		indexed, ok := m.offsetIndex.Get(block.Offset)
		if !ok || indexed != i {
			return errors.Errorf("block at offset %d is missing from the offset index", block.Offset)
		}

		if block.Used {
			allocCount++
			prevFree = false
		} else {
			if prevFree {
				return errors.Errorf("free block at offset %d follows another free block", block.Offset)
			}
			freeCount++
			calculatedFreeSize += block.Size
			prevFree = true
		}

		nextOffset = block.End()
	}

	if nextOffset != m.size {
		return errors.Errorf("the full size of the heap is %d, but the blocks only added up to %d", m.size, nextOffset)
	}

	availableCount := 0
	for i := range m.blocks {
		if !m.blocks[i].IsActive() {
			availableCount++
		}
	}

	if chainLength+availableCount != len(m.blocks) {
		return errors.Errorf("%d slots are chained and %d are available, but the metadata has %d slots", chainLength, availableCount, len(m.blocks))
	}

	if chainLength != m.activeCount {
		return errors.Errorf("the active slot count of the metadata is %d, but the chain holds %d blocks", m.activeCount, chainLength)
	}

	if m.offsetIndex.Count() != chainLength {
		return errors.Errorf("the offset index holds %d entries, but the chain holds %d blocks", m.offsetIndex.Count(), chainLength)
	}

	if calculatedFreeSize != m.freeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free blocks only added up to %d", m.freeSize, calculatedFreeSize)
	}

	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but the used blocks only added up to %d", m.allocCount, allocCount)
	}

	if freeCount != m.freeCount {
		return errors.Errorf("the free block count of the metadata is %d, but there were only %d free blocks", m.freeCount, freeCount)
	}

	return nil
}

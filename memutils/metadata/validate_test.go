package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func readyMetadata(t *testing.T) *BlockMetadata {
	md, err := NewBlockMetadata(8, 8)
	require.NoError(t, err)
	md.Init(64)

	_, err = md.Alloc(16)
	require.NoError(t, err)
	_, err = md.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, md.Validate())

	return md
}

func TestValidateUninitialized(t *testing.T) {
	md, err := NewBlockMetadata(4, 8)
	require.NoError(t, err)
	require.Error(t, md.Validate())
}

func TestValidateDetectsCorruption(t *testing.T) {
	testCases := map[string]struct {
		corrupt     func(md *BlockMetadata)
		errContains string
	}{
		"Gap": {
			corrupt: func(md *BlockMetadata) {
				md.blocks[1].Offset += 8
			},
			errContains: "does not start at the previous block's end",
		},
		"BrokenBackLink": {
			corrupt: func(md *BlockMetadata) {
				md.blocks[2].Prev = headSlot
			},
			errContains: "lists slot 0 as its previous block",
		},
		"ChainedAvailableSlot": {
			corrupt: func(md *BlockMetadata) {
				md.blocks[2].Next = 5
			},
			errContains: "marked available",
		},
		"AdjacentFreeBlocks": {
			corrupt: func(md *BlockMetadata) {
				md.blocks[1].Used = false
				md.allocCount--
				md.freeCount++
				md.freeSize += md.blocks[1].Size
			},
			errContains: "follows another free block",
		},
		"FreeSizeDrift": {
			corrupt: func(md *BlockMetadata) {
				md.freeSize++
			},
			errContains: "free size of the metadata",
		},
		"AllocationCountDrift": {
			corrupt: func(md *BlockMetadata) {
				md.allocCount++
			},
			errContains: "allocation count",
		},
		"MissingIndexEntry": {
			corrupt: func(md *BlockMetadata) {
				md.offsetIndex.Delete(16)
			},
			errContains: "missing from the offset index",
		},
		"UnalignedSize": {
			corrupt: func(md *BlockMetadata) {
				md.blocks[headSlot].Size -= 4
				md.blocks[1].Offset -= 4
				md.blocks[1].Size += 4
			},
			errContains: "not aligned",
		},
		"ShortHeap": {
			corrupt: func(md *BlockMetadata) {
				md.size += 8
			},
			errContains: "the full size of the heap",
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			md := readyMetadata(t)
			testCase.corrupt(md)

			err := md.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), testCase.errContains)
		})
	}
}

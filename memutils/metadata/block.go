package metadata

const (
	// NoBlock is the link value used by a Block that has no neighbor in that direction
	NoBlock int = -1
	// NoOffset is the offset carried by a metadata slot that does not currently describe any
	// part of the heap
	NoOffset int = -1

	// headSlot always describes the block at offset 0. Merges absorb the right-hand block into the
	// left-hand one, so the first block never changes slots.
	headSlot int = 0
)

// Block describes one contiguous span of a heap. Blocks are stored in a fixed array owned by
// BlockMetadata and refer to their neighbors by index in that array.
type Block struct {
	Offset int
	Size   int
	Used   bool
	Prev   int
	Next   int
}

func (b *Block) reset() {
	b.Offset = NoOffset
	b.Size = 0
	b.Used = false
	b.Prev = NoBlock
	b.Next = NoBlock
}

// IsActive returns true if this slot currently describes part of the heap
func (b *Block) IsActive() bool {
	return b.Offset != NoOffset
}

// End returns the offset one past the last byte of the block
func (b *Block) End() int {
	return b.Offset + b.Size
}

// SplitOutcome reports what Split did when it returned without error
type SplitOutcome uint32

const (
	// SplitNotNeeded indicates the block already had the requested size
	SplitNotNeeded SplitOutcome = iota
	// SplitDone indicates a new free block was carved off the end of the original block
	SplitDone
)

var splitOutcomeMapping = map[SplitOutcome]string{
	SplitNotNeeded: "SplitNotNeeded",
	SplitDone:      "SplitDone",
}

func (o SplitOutcome) String() string {
	return splitOutcomeMapping[o]
}

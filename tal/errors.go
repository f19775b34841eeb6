package tal

import (
	"github.com/cockroachdb/errors"
	"github.com/tmal-go/tal/memutils/metadata"
)

var (
	// ErrAllocation is returned when the host memory for a heap could not be reserved, or the heap
	// was configured with sizes that cannot be reserved
	ErrAllocation = errors.New("heap memory could not be reserved")
	// ErrMetadataExhausted is returned when a request needed to split a block but every metadata
	// slot of the heap was in use. Another size, or another thread's heap, may still succeed.
	ErrMetadataExhausted = metadata.ErrMetadataExhausted
	// ErrOutOfMemory is returned when no free block is large enough for a request
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNotFound is returned when a reference does not match the start of a block in the heap
	ErrNotFound = errors.New("reference does not match a block in this heap")
	// ErrInvalidSize is returned for negative sizes
	ErrInvalidSize = metadata.ErrInvalidSize
	// ErrInvalidThread is returned when a thread id is outside of the table
	ErrInvalidThread = errors.New("thread id is outside of the heap table")
	// ErrHeapNotInitialized is returned when a thread's heap has not been initialized
	ErrHeapNotInitialized = errors.New("heap has not been initialized")
	// ErrHeapInUse is returned when initializing a thread's heap a second time
	ErrHeapInUse = errors.New("heap is already initialized")
)

func translateMetadataError(err error, size int) error {
	if errors.Is(err, metadata.ErrNoFreeBlock) {
		return errors.WithSecondaryError(errors.Wrapf(ErrOutOfMemory, "no free block holds %d bytes", size), err)
	}

	return err
}

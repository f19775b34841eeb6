package memutils

import (
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
)

// DefaultMinimumUnit is the smallest addressable unit that heaps align sizes to when the consumer
// does not choose one: the width of a machine word.
const DefaultMinimumUnit uint = uint(unsafe.Sizeof(uintptr(0)))

type Number interface {
	~int | ~uint
}

func CheckPow2[T Number](number T, name string) error {
	if number == 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckAligned returns an error if value is not a multiple of alignment, which must be a power of two.
func CheckAligned(value int, alignment uint, name string) error {
	if value&int(alignment-1) != 0 {
		return cerrors.Wrapf(AlignmentError, "%s is %d, unit is %d", name, value, alignment)
	}
	return nil
}

func AlignUp(value int, alignment uint) int {
	return (value + int(alignment) - 1) & int(^(alignment - 1))
}

// AlignUpChecked is AlignUp for values that may be close to math.MaxInt. It returns false instead
// of a wrapped result when the aligned value does not fit in an int.
func AlignUpChecked(value int, alignment uint) (int, bool) {
	aligned := AlignUp(value, alignment)
	return aligned, aligned >= value
}

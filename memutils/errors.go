package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// AlignmentError is the error returned from CheckAligned if a size or offset is not a multiple of the unit it is
// expected to be aligned to
var AlignmentError error = errors.New("value is not aligned to the minimum unit")

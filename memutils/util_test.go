package memutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, 8))
	require.Equal(t, 8, AlignUp(1, 8))
	require.Equal(t, 8, AlignUp(8, 8))
	require.Equal(t, 16, AlignUp(9, 8))
	require.Equal(t, 80, AlignUp(75, 16))
	require.Equal(t, 5, AlignUp(5, 1))
}

func TestAlignUpChecked(t *testing.T) {
	aligned, ok := AlignUpChecked(75, 16)
	require.True(t, ok)
	require.Equal(t, 80, aligned)

	aligned, ok = AlignUpChecked(math.MaxInt, 1)
	require.True(t, ok)
	require.Equal(t, math.MaxInt, aligned)

	_, ok = AlignUpChecked(math.MaxInt, 8)
	require.False(t, ok)
	_, ok = AlignUpChecked(math.MaxInt-3, 8)
	require.False(t, ok)
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "unit"))
	require.NoError(t, CheckPow2(uint(8), "unit"))
	require.NoError(t, CheckPow2(4096, "unit"))

	err := CheckPow2(12, "unit")
	require.ErrorIs(t, err, PowerOfTwoError)
	require.Contains(t, err.Error(), "unit is 12")

	require.ErrorIs(t, CheckPow2(uint(0), "unit"), PowerOfTwoError)
}

func TestCheckAligned(t *testing.T) {
	require.NoError(t, CheckAligned(0, 8, "size"))
	require.NoError(t, CheckAligned(24, 8, "size"))

	err := CheckAligned(20, 8, "size")
	require.ErrorIs(t, err, AlignmentError)
	require.Contains(t, err.Error(), "size is 20")
}

func TestDefaultMinimumUnit(t *testing.T) {
	require.NoError(t, CheckPow2(DefaultMinimumUnit, "DefaultMinimumUnit"))
	require.GreaterOrEqual(t, DefaultMinimumUnit, uint(4))
}

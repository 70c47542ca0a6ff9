package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		requested, units  int
		padded, shardLen int
	}{
		{0, 1, 1, 1},
		{1, 1, 1, 1},
		{0, 4, 4, 1},
		{1, 4, 4, 1},
		{3, 8, 8, 1},
		{5, 2, 8, 4},
		{8, 4, 8, 2},
		{10, 4, 16, 4},
		{1000, 8, 1024, 128},
		{1024, 16, 1024, 64},
		{1025, 16, 2048, 128},
	}

	for _, tc := range tests {
		layout, err := Plan(tc.requested, tc.units)
		require.NoError(t, err, "n=%d p=%d", tc.requested, tc.units)
		require.Equal(t, tc.padded, layout.Padded, "n=%d p=%d", tc.requested, tc.units)
		require.Equal(t, tc.shardLen, layout.ShardLen, "n=%d p=%d", tc.requested, tc.units)
		require.Equal(t, tc.units, layout.Units)
		require.Equal(t, tc.requested, layout.Requested)
		require.Equal(t, tc.padded-tc.requested, layout.Padding())
	}
}

func TestPlanProperties(t *testing.T) {
	for units := 1; units <= 64; units <<= 1 {
		for n := 0; n <= 300; n++ {
			layout, err := Plan(n, units)
			require.NoError(t, err)
			require.True(t, IsPowerOfTwo(layout.Padded))
			require.GreaterOrEqual(t, layout.Padded, n)
			require.Zero(t, layout.Padded%units)
			require.Equal(t, layout.Padded, layout.ShardLen*units)
			require.True(t, IsPowerOfTwo(layout.ShardLen))

			// Smallest such length.
			if layout.Padded > 1 {
				half := layout.Padded / 2
				require.True(t, half < n || half%units != 0, "n=%d p=%d padded=%d", n, units, layout.Padded)
			}
		}
	}
}

func TestPlanRejectsBadInput(t *testing.T) {
	for _, units := range []int{0, -2, 3, 6, 12} {
		_, err := Plan(10, units)
		require.ErrorIs(t, err, ErrUnitsNotPowerOfTwo, "units=%d", units)
	}

	_, err := Plan(-1, 4)
	require.ErrorIs(t, err, ErrNegativeLength)

	_, err = Plan(math.MaxInt, 2)
	require.ErrorIs(t, err, ErrLayoutOverflow)
}

func TestLayoutForConfig(t *testing.T) {
	layout, err := LayoutForConfig(&NetworkConfig{Requested: 5, Units: 2, Seed: 42})
	require.NoError(t, err)
	require.Equal(t, &Layout{Requested: 5, Padded: 8, Units: 2, ShardLen: 4}, layout)
	require.Equal(t, 3, layout.Padding())
}

func TestPowerOfTwoHelpers(t *testing.T) {
	require.False(t, IsPowerOfTwo(0))
	require.False(t, IsPowerOfTwo(-4))
	require.True(t, IsPowerOfTwo(1))
	require.True(t, IsPowerOfTwo(1<<40))
	require.False(t, IsPowerOfTwo(96))

	for n, want := range map[int]int{-3: 1, 0: 1, 1: 1, 2: 2, 3: 4, 17: 32, 1024: 1024} {
		got, err := NextPowerOfTwo(n)
		require.NoError(t, err)
		require.Equal(t, want, got, "n=%d", n)
	}

	_, err := NextPowerOfTwo(math.MaxInt)
	require.ErrorIs(t, err, ErrLayoutOverflow)
}

package protocol

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnitsNotPowerOfTwo is returned when the unit count cannot form the
	// partner-XOR topology of the network.
	ErrUnitsNotPowerOfTwo = errors.New("unit count must be a power of two")

	// ErrEmptyShard is returned when the layout would leave units without keys.
	ErrEmptyShard = errors.New("shard length must be positive")

	ErrNegativeLength = errors.New("requested length must not be negative")
	ErrLayoutOverflow = errors.New("padded length overflows int")
)

// IsPowerOfTwo reports whether x is a positive power of two.
func IsPowerOfTwo(x int) bool {
	return x > 0 && x&(x-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n. Values below two map
// to one.
func NextPowerOfTwo(n int) (int, error) {
	p := 1
	for p < n {
		if p > math.MaxInt/2 {
			return 0, ErrLayoutOverflow
		}
		p <<= 1
	}
	return p, nil
}

// Plan computes the padded global length and per-unit shard length for a run
// of requested keys on units execution units.
func Plan(requested, units int) (*Layout, error) {
	if !IsPowerOfTwo(units) {
		return nil, fmt.Errorf("%w: got %d", ErrUnitsNotPowerOfTwo, units)
	}
	if requested < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrNegativeLength, requested)
	}

	padded, err := NextPowerOfTwo(requested)
	if err != nil {
		return nil, err
	}
	for padded%units != 0 {
		if padded > math.MaxInt/2 {
			return nil, ErrLayoutOverflow
		}
		padded <<= 1
	}

	shardLen := padded / units
	if shardLen <= 0 {
		return nil, fmt.Errorf("%w: padded=%d units=%d", ErrEmptyShard, padded, units)
	}

	return &Layout{
		Requested: requested,
		Padded:    padded,
		Units:     units,
		ShardLen:  shardLen,
	}, nil
}

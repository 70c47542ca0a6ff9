package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrShardNotPowerOfTwo is returned when a shard cannot be sorted by the local
// bitonic network.
var ErrShardNotPowerOfTwo = errors.New("shard length must be a power of two")

// RunNetwork drives one unit of rank through the whole distributed network.
// The shard is sorted in place: it first runs the local bitonic sort, then for
// every phase trades the shard with the partner, keeps its half of the merged
// pair and waits on the barrier. On success the shard holds the rank-th block
// of the globally ascending sequence.
//
// Every unit of the network must call RunNetwork with the same units and a
// shard of the same length. observer may be nil.
func RunNetwork[K Key](ctx context.Context, shard []K, rank, units int, ex Exchanger[K], barrier Barrier, observer PhaseObserver) error {
	if !IsPowerOfTwo(units) {
		return fmt.Errorf("%w: got %d", ErrUnitsNotPowerOfTwo, units)
	}
	if rank < 0 || rank >= units {
		return fmt.Errorf("%w: %d of %d", ErrRankOutOfRange, rank, units)
	}
	if !IsPowerOfTwo(len(shard)) {
		return fmt.Errorf("%w: got %d", ErrShardNotPowerOfTwo, len(shard))
	}

	Sort(shard, Ascending)

	for _, phase := range Schedule(units) {
		start := time.Now()
		step := StepFor(rank, phase)

		remote, err := ex.Exchange(ctx, phase, step.Partner, shard)
		if err != nil {
			return fmt.Errorf("unit %d phase %s: exchange with %d: %w", rank, phase, step.Partner, err)
		}

		kept, err := MergeSelect(shard, remote, step.KeepLow)
		if err != nil {
			return fmt.Errorf("unit %d phase %s: %w", rank, phase, err)
		}
		copy(shard, kept)

		if err := barrier.Wait(ctx, phase); err != nil {
			return fmt.Errorf("unit %d phase %s: barrier: %w", rank, phase, err)
		}

		if observer != nil {
			observer(rank, step, time.Since(start))
		}
	}
	return nil
}

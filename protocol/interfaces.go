package protocol

import (
	"context"
	"time"
)

// Exchanger moves whole shards between a unit and its partner for one phase.
// Both sides send their shard and receive the partner's shard of identical
// length; exactly one exchange per unit is in flight per phase.
type Exchanger[K Key] interface {
	// Exchange sends shard to partner and blocks until the partner's shard for
	// the same phase has arrived. The returned slice is owned by the caller.
	Exchange(ctx context.Context, phase Phase, partner int, shard []K) ([]K, error)
}

// Barrier holds every unit at the end of a phase until all of them committed
// their result for that phase.
type Barrier interface {
	// Wait blocks until every unit reached the barrier for phase.
	Wait(ctx context.Context, phase Phase) error
}

// Fabric provides the communication endpoints of a fixed set of units. A
// fabric serves one run at a time and may be reused for later runs.
type Fabric[K Key] interface {
	// Size returns the number of units the fabric connects.
	Size() int

	// Transport names the fabric in metrics and run records.
	Transport() string

	// Endpoint returns the exchanger and barrier the unit of rank uses for
	// run. The first call for a new run discards whatever an earlier run left
	// in the fabric; traffic of any other run is rejected with ErrStaleRun.
	Endpoint(run string, rank int) (Exchanger[K], Barrier, error)
}

// PhaseObserver is told about every phase a unit committed, with the time
// spent exchanging, merging and waiting on the barrier.
type PhaseObserver func(rank int, step Step, elapsed time.Duration)

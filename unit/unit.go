package unit

import (
	"context"
	"log/slog"
	"time"

	"github.com/flashbots/bitonet/metrics"
	"github.com/flashbots/bitonet/protocol"
)

// Unit is one execution unit of the network: a rank, the endpoints it talks
// through and a logger.
type Unit[K protocol.Key] struct {
	Rank  int
	Units int

	// Transport labels the keys this unit exchanges in metrics.
	Transport string

	exchanger protocol.Exchanger[K]
	barrier   protocol.Barrier
	log       *slog.Logger
}

// New creates the unit of rank in a network of units. Its Transport is
// "custom" until set.
func New[K protocol.Key](rank, units int, exchanger protocol.Exchanger[K], barrier protocol.Barrier, log *slog.Logger) *Unit[K] {
	if log == nil {
		log = slog.Default()
	}
	return &Unit[K]{
		Rank:      rank,
		Units:     units,
		Transport: "custom",
		exchanger: exchanger,
		barrier:   barrier,
		log:       log.With("rank", rank),
	}
}

// FromFabric creates the unit of rank for run using the fabric's endpoints.
func FromFabric[K protocol.Key](fabric protocol.Fabric[K], run string, rank int, log *slog.Logger) (*Unit[K], error) {
	ex, barrier, err := fabric.Endpoint(run, rank)
	if err != nil {
		return nil, err
	}
	u := New(rank, fabric.Size(), ex, barrier, log)
	u.Transport = fabric.Transport()
	return u, nil
}

// Run sorts shard through the network. On success shard holds this unit's
// block of the global ascending order.
func (u *Unit[K]) Run(ctx context.Context, shard []K) error {
	start := time.Now()
	u.log.Debug("unit starting", "shard", len(shard), "phases", protocol.PhaseCount(u.Units))

	observe := func(rank int, step protocol.Step, elapsed time.Duration) {
		metrics.AddExchanged(u.Transport, len(shard))
		u.observe(rank, step, elapsed)
	}
	err := protocol.RunNetwork(ctx, shard, u.Rank, u.Units, u.exchanger, u.barrier, observe)
	if err != nil {
		u.log.Error("unit failed", "err", err)
		return err
	}

	u.log.Debug("unit finished", "elapsed", time.Since(start))
	return nil
}

func (u *Unit[K]) observe(rank int, step protocol.Step, elapsed time.Duration) {
	metrics.ObservePhase(step.Phase.K, step.Phase.J, elapsed)
	u.log.Debug("phase committed",
		"phase", step.Phase.String(),
		"partner", step.Partner,
		"keep_low", step.KeepLow,
		"elapsed", elapsed,
	)
}

// Package coordinator scatters a sequence over the units of a fabric, runs the
// network on every unit, gathers the result and verifies it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flashbots/bitonet/metrics"
	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/unit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrBadShardLength = errors.New("sequence does not split into shards of that length")
	ErrGatherLength   = errors.New("gathered shards do not fill the destination")
)

// Pad copies input into a sequence of layout.Padded keys with the sentinel
// in every slot past the input.
func Pad[K protocol.Key](input []K, layout *protocol.Layout) []K {
	out := make([]K, layout.Padded)
	n := copy(out, input)
	sentinel := protocol.Sentinel[K]()
	for i := n; i < len(out); i++ {
		out[i] = sentinel
	}
	return out
}

// Distribute splits global into private shards of shardLen keys, in rank
// order. Every shard is a copy.
func Distribute[K protocol.Key](global []K, shardLen int) ([][]K, error) {
	if shardLen <= 0 || len(global)%shardLen != 0 {
		return nil, fmt.Errorf("%w: len=%d shard=%d", ErrBadShardLength, len(global), shardLen)
	}
	shards := make([][]K, len(global)/shardLen)
	for rank := range shards {
		shards[rank] = make([]K, shardLen)
		copy(shards[rank], global[rank*shardLen:])
	}
	return shards, nil
}

// Collect concatenates shards into dst in rank order.
func Collect[K protocol.Key](dst []K, shards [][]K) error {
	total := 0
	for _, s := range shards {
		total += len(s)
	}
	if total != len(dst) {
		return fmt.Errorf("%w: have %d keys for %d slots", ErrGatherLength, total, len(dst))
	}
	off := 0
	for _, s := range shards {
		off += copy(dst[off:], s)
	}
	return nil
}

// Verdict is the outcome of verifying a gathered sequence.
type Verdict[K protocol.Key] struct {
	Sorted bool `json:"sorted"`

	// Index is the first i with global[i-1] > global[i]; only set when not
	// sorted.
	Index int `json:"index,omitempty"`
	Prev  K   `json:"prev,omitempty"`
	Next  K   `json:"next,omitempty"`
}

// Verify checks that the first n keys of global are non-decreasing.
func Verify[K protocol.Key](global []K, n int) Verdict[K] {
	n = min(n, len(global))
	for i := 1; i < n; i++ {
		if global[i-1] > global[i] {
			return Verdict[K]{Index: i, Prev: global[i-1], Next: global[i]}
		}
	}
	return Verdict[K]{Sorted: true}
}

// IsSorted reports whether the first n keys of global are non-decreasing.
func IsSorted[K protocol.Key](global []K, n int) bool {
	return Verify(global, n).Sorted
}

// Coordinator runs sorts on a fabric.
type Coordinator[K protocol.Key] struct {
	fabric protocol.Fabric[K]
	log    *slog.Logger
}

func New[K protocol.Key](fabric protocol.Fabric[K], log *slog.Logger) *Coordinator[K] {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator[K]{
		fabric: fabric,
		log:    log,
	}
}

// Sort sorts input on every unit of the fabric. The layout is planned before
// anything is distributed, so configuration errors never start a unit. The
// first failing unit cancels all others and its error is returned. A run that
// completes but verifies as unsorted is not an error; see Report.Verdict.
func (c *Coordinator[K]) Sort(ctx context.Context, input []K) (*Report[K], error) {
	layout, err := protocol.Plan(len(input), c.fabric.Size())
	if err != nil {
		return nil, err
	}

	runID := uuid.New()
	log := c.log.With("run_id", runID.String())
	log.Info("sort planned",
		"requested", layout.Requested,
		"padded", layout.Padded,
		"units", layout.Units,
		"shard", layout.ShardLen,
	)

	units := make([]*unit.Unit[K], layout.Units)
	for rank := range units {
		units[rank], err = unit.FromFabric(c.fabric, runID.String(), rank, log)
		if err != nil {
			return nil, err
		}
	}

	global := Pad(input, layout)

	start := time.Now()
	shards, err := Distribute(global, layout.ShardLen)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for rank, u := range units {
		shard := shards[rank]
		g.Go(func() error {
			return u.Run(gctx, shard)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	if err := Collect(global, shards); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	verdict := Verify(global, layout.Requested)
	metrics.ObserveRun(verdict.Sorted, elapsed)
	log.Info("sort finished", "elapsed", elapsed, "sorted", verdict.Sorted)

	return &Report[K]{
		RunID:     runID,
		Layout:    *layout,
		StartedAt: start,
		Elapsed:   elapsed,
		Verdict:   verdict,
		Result:    global,
	}, nil
}

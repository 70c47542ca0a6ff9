package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrPhaseMismatch is returned when units reach the same barrier
	// generation for different phases, or a phase that does not follow the
	// last released one.
	ErrPhaseMismatch = errors.New("units disagree on barrier phase")

	ErrRankOutOfRange = errors.New("rank out of range")
	ErrBarrierBroken  = errors.New("barrier broken")
)

// TransportLocal names the in-process fabric.
const TransportLocal = "local"

// LocalMesh connects units running in one process through per-unit mailboxes
// and a shared barrier.
type LocalMesh[K Key] struct {
	boxes   []*Mailbox[K]
	barrier *LocalBarrier

	mu  sync.Mutex
	run string
}

// NewLocalMesh creates a mesh of size units.
func NewLocalMesh[K Key](size int) (*LocalMesh[K], error) {
	if !IsPowerOfTwo(size) {
		return nil, fmt.Errorf("%w: got %d", ErrUnitsNotPowerOfTwo, size)
	}
	boxes := make([]*Mailbox[K], size)
	for i := range boxes {
		boxes[i] = NewMailbox[K]()
	}
	return &LocalMesh[K]{
		boxes:   boxes,
		barrier: NewLocalBarrier(size),
	}, nil
}

func (m *LocalMesh[K]) Size() int {
	return len(m.boxes)
}

func (m *LocalMesh[K]) Transport() string {
	return TransportLocal
}

func (m *LocalMesh[K]) Endpoint(run string, rank int) (Exchanger[K], Barrier, error) {
	if rank < 0 || rank >= len(m.boxes) {
		return nil, nil, fmt.Errorf("%w: %d of %d", ErrRankOutOfRange, rank, len(m.boxes))
	}

	m.mu.Lock()
	if run != m.run {
		m.run = run
		for _, box := range m.boxes {
			box.Begin(run)
		}
		m.barrier.Begin(run)
	}
	m.mu.Unlock()

	return &localExchanger[K]{mesh: m, run: run, rank: rank}, m.barrier.ForRun(run), nil
}

type localExchanger[K Key] struct {
	mesh *LocalMesh[K]
	run  string
	rank int
}

func (e *localExchanger[K]) Exchange(ctx context.Context, phase Phase, partner int, shard []K) ([]K, error) {
	if partner < 0 || partner >= len(e.mesh.boxes) {
		return nil, fmt.Errorf("%w: partner %d of %d", ErrRankOutOfRange, partner, len(e.mesh.boxes))
	}

	// The partner keeps the sent slice, so it must not alias ours.
	out := make([]K, len(shard))
	copy(out, shard)
	if err := e.mesh.boxes[partner].Deliver(e.run, phase, e.rank, out); err != nil {
		return nil, err
	}

	in, err := e.mesh.boxes[e.rank].Receive(ctx, e.run, phase, partner)
	if err != nil {
		return nil, err
	}
	if len(in) != len(shard) {
		return nil, fmt.Errorf("%w: sent %d received %d", ErrShardSizeMismatch, len(shard), len(in))
	}
	return in, nil
}

type generation struct {
	phase   Phase
	arrived int
	done    chan struct{}
	err     error
}

// LocalBarrier is a reusable barrier for a fixed number of parties serving
// one run at a time. Every generation is tagged with the phase of its first
// arrival; later arrivals for another phase are rejected, and so is a
// generation whose phase does not come after the last released one. A
// cancelled waiter breaks the generation and releases everybody else with an
// error.
type LocalBarrier struct {
	mu      sync.Mutex
	parties int
	run     string
	last    Phase
	gen     *generation
}

func NewLocalBarrier(parties int) *LocalBarrier {
	return &LocalBarrier{
		parties: parties,
		gen:     &generation{done: make(chan struct{})},
	}
}

// Parties returns the number of waiters that release a generation.
func (b *LocalBarrier) Parties() int {
	return b.parties
}

// Waiting returns how many parties are blocked in the current generation.
func (b *LocalBarrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gen.arrived
}

// Begin switches the barrier to run. Parties still waiting for an earlier run
// are released with ErrBarrierBroken and the phase order starts over.
func (b *LocalBarrier) Begin(run string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.gen.arrived > 0 {
		b.gen.err = fmt.Errorf("%w: superseded by run %q", ErrBarrierBroken, run)
		close(b.gen.done)
	}
	b.run = run
	b.last = Phase{}
	b.gen = &generation{done: make(chan struct{})}
}

// ForRun returns a Barrier whose waits belong to run.
func (b *LocalBarrier) ForRun(run string) Barrier {
	return runBarrier{b: b, run: run}
}

type runBarrier struct {
	b   *LocalBarrier
	run string
}

func (r runBarrier) Wait(ctx context.Context, phase Phase) error {
	return r.b.WaitRun(ctx, r.run, phase)
}

// Wait waits for phase in the run the barrier currently serves.
func (b *LocalBarrier) Wait(ctx context.Context, phase Phase) error {
	b.mu.Lock()
	run := b.run
	b.mu.Unlock()
	return b.WaitRun(ctx, run, phase)
}

// WaitRun blocks until every party reached phase of run.
func (b *LocalBarrier) WaitRun(ctx context.Context, run string, phase Phase) error {
	b.mu.Lock()
	if run != b.run {
		b.mu.Unlock()
		return fmt.Errorf("%w: got %q, serving %q", ErrStaleRun, run, b.run)
	}
	g := b.gen
	if g.arrived == 0 {
		if b.last != (Phase{}) && !phase.IsAfter(b.last) {
			b.mu.Unlock()
			return fmt.Errorf("%w: %s does not follow %s", ErrPhaseMismatch, phase, b.last)
		}
		g.phase = phase
	} else if g.phase != phase {
		b.mu.Unlock()
		return fmt.Errorf("%w: waiting in %s, arrived with %s", ErrPhaseMismatch, g.phase, phase)
	}

	g.arrived++
	if g.arrived == b.parties {
		close(g.done)
		b.last = phase
		b.gen = &generation{done: make(chan struct{})}
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-g.done:
		return g.err
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gen != g {
			// Released while we were being cancelled.
			return g.err
		}
		g.err = fmt.Errorf("%w in phase %s: %w", ErrBarrierBroken, phase, ctx.Err())
		close(g.done)
		b.gen = &generation{done: make(chan struct{})}
		return g.err
	}
}

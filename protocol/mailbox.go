package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateDelivery is returned when a sender delivers twice for one phase.
	ErrDuplicateDelivery = errors.New("shard already delivered for phase")

	// ErrStaleRun is returned for traffic that belongs to a run other than the
	// one the fabric is currently serving.
	ErrStaleRun = errors.New("shard or barrier call from another run")
)

type mailKey struct {
	phase Phase
	from  int
}

// Mailbox buffers shards sent to one unit during one run, keyed by phase and
// sender. A delivery may arrive before or after the owner starts waiting for
// it. Begin switches the mailbox to a new run and drops everything the
// previous run left behind.
type Mailbox[K Key] struct {
	mu        sync.Mutex
	run       string
	slots     map[mailKey]chan []K
	delivered map[mailKey]struct{}
}

// NewMailbox creates an empty mailbox serving no run yet.
func NewMailbox[K Key]() *Mailbox[K] {
	return &Mailbox[K]{
		slots:     make(map[mailKey]chan []K),
		delivered: make(map[mailKey]struct{}),
	}
}

// Begin makes run the current run and returns how many undelivered shards of
// the previous run were dropped.
func (m *Mailbox[K]) Begin(run string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dropped := 0
	for _, ch := range m.slots {
		dropped += len(ch)
	}
	m.run = run
	m.slots = make(map[mailKey]chan []K)
	m.delivered = make(map[mailKey]struct{})
	return dropped
}

func (m *Mailbox[K]) slotLocked(key mailKey) chan []K {
	ch, ok := m.slots[key]
	if !ok {
		ch = make(chan []K, 1)
		m.slots[key] = ch
	}
	return ch
}

func (m *Mailbox[K]) checkRunLocked(run string) error {
	if run != m.run {
		return fmt.Errorf("%w: got %q, serving %q", ErrStaleRun, run, m.run)
	}
	return nil
}

// Deliver stores the shard sent by from for phase of run. It never blocks.
func (m *Mailbox[K]) Deliver(run string, phase Phase, from int, shard []K) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRunLocked(run); err != nil {
		return err
	}
	key := mailKey{phase, from}
	if _, dup := m.delivered[key]; dup {
		return fmt.Errorf("%w: phase %s from unit %d", ErrDuplicateDelivery, phase, from)
	}
	m.delivered[key] = struct{}{}
	m.slotLocked(key) <- shard
	return nil
}

// Receive blocks until the shard sent by from for phase of run is available.
func (m *Mailbox[K]) Receive(ctx context.Context, run string, phase Phase, from int) ([]K, error) {
	key := mailKey{phase, from}
	m.mu.Lock()
	if err := m.checkRunLocked(run); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ch := m.slotLocked(key)
	m.mu.Unlock()

	select {
	case shard := <-ch:
		m.mu.Lock()
		if m.slots[key] == ch {
			delete(m.slots, key)
		}
		m.mu.Unlock()
		return shard, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for unit %d in phase %s: %w", from, phase, ctx.Err())
	}
}

// pending returns the number of deliveries of the current run nobody has
// received yet.
func (m *Mailbox[K]) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, ch := range m.slots {
		n += len(ch)
	}
	return n
}

package coordinator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/services"
	"github.com/google/uuid"
)

// debugPrefix bounds the values printed for an unsorted result.
const debugPrefix = 64

// Report is the outcome of one run.
type Report[K protocol.Key] struct {
	RunID     uuid.UUID
	Layout    protocol.Layout
	StartedAt time.Time
	Elapsed   time.Duration
	Verdict   Verdict[K]

	// Result is the gathered padded sequence.
	Result []K
}

// Sorted returns the first Requested keys of the result.
func (r *Report[K]) Sorted() []K {
	return r.Result[:r.Layout.Requested]
}

// Write prints the layout banner, the elapsed time and the verdict. Unsorted
// results also get the first violation and a prefix of the values, with
// padding printed as [PAD].
func (r *Report[K]) Write(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "requested n=%d padded N=%d units=%d shard=%d\n",
		r.Layout.Requested, r.Layout.Padded, r.Layout.Units, r.Layout.ShardLen)
	fmt.Fprintf(&b, "Elapsed time: %.6f s\n", r.Elapsed.Seconds())

	if r.Verdict.Sorted {
		b.WriteString("Result: SORTED\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("Result: NOT SORTED\n")
	fmt.Fprintf(&b, "first error at index %d: %v > %v\n", r.Verdict.Index, r.Verdict.Prev, r.Verdict.Next)

	sentinel := protocol.Sentinel[K]()
	limit := min(debugPrefix, len(r.Result))
	fmt.Fprintf(&b, "first %d values:", limit)
	for i := 0; i < limit; i++ {
		if i >= r.Layout.Requested && r.Result[i] == sentinel {
			b.WriteString(" [PAD]")
		} else {
			fmt.Fprintf(&b, " %v", r.Result[i])
		}
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Record converts the report into a run store entry.
func (r *Report[K]) Record(transport string) *services.RunRecord {
	rec := &services.RunRecord{
		RunID:     r.RunID.String(),
		Transport: transport,
		Requested: r.Layout.Requested,
		Padded:    r.Layout.Padded,
		Units:     r.Layout.Units,
		ShardLen:  r.Layout.ShardLen,
		Sorted:    r.Verdict.Sorted,
		Elapsed:   r.Elapsed,
		StartedAt: r.StartedAt,
	}
	if !r.Verdict.Sorted {
		rec.FirstError = r.Verdict.Index
	}
	return rec
}

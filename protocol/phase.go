package protocol

import "fmt"

// Phase is one (merge length, comparison distance) pair of the bitonic
// schedule. K doubles from 2 to the unit count, J halves from K/2 to 1.
type Phase struct {
	K int `json:"k"`
	J int `json:"j"`
}

func (p Phase) String() string {
	return fmt.Sprintf("%d/%d", p.K, p.J)
}

// IsAfter reports whether p comes later than p2 in the schedule.
func (p Phase) IsAfter(p2 Phase) bool {
	return p.K > p2.K || (p.K == p2.K && p.J < p2.J)
}

// Next returns the phase following p on a network of units, and false when p
// is the last one.
func (p Phase) Next(units int) (Phase, bool) {
	if p.J > 1 {
		return Phase{p.K, p.J >> 1}, true
	}
	if p.K<<1 <= units {
		return Phase{p.K << 1, p.K}, true
	}
	return Phase{}, false
}

// Schedule returns every phase of the network on units execution units, in
// execution order. A single unit has no phases.
func Schedule(units int) []Phase {
	phases := make([]Phase, 0, PhaseCount(units))
	if units < 2 {
		return phases
	}
	for p, ok := (Phase{2, 1}), true; ok; p, ok = p.Next(units) {
		phases = append(phases, p)
	}
	return phases
}

// PhaseCount returns log2(units)*(log2(units)+1)/2.
func PhaseCount(units int) int {
	lg := 0
	for u := units; u > 1; u >>= 1 {
		lg++
	}
	return lg * (lg + 1) / 2
}

// Step is what one unit does in one phase: which unit it trades shards with
// and which half of the merged pair it keeps.
type Step struct {
	Phase   Phase
	Partner int
	KeepLow bool
}

// StepFor derives the partner and keep decision of rank in phase. Blocks of k
// units alternate between ascending and descending; inside a block the lower
// partner of each pair keeps the low half when ascending and the high half
// when descending.
func StepFor(rank int, phase Phase) Step {
	ascending := rank&phase.K == 0
	lower := rank&phase.J == 0
	keepLow := lower
	if !ascending {
		keepLow = !lower
	}
	return Step{
		Phase:   phase,
		Partner: rank ^ phase.J,
		KeepLow: keepLow,
	}
}

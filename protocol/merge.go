package protocol

import (
	"errors"
	"fmt"
)

// ErrShardSizeMismatch is returned when two units try to trade shards of
// different lengths.
var ErrShardSizeMismatch = errors.New("shard size mismatch")

// MergeSelect merges two ascending shards of equal length and returns the
// lowest len(local) keys when keepLow is set, the highest otherwise. The
// result is a new slice; neither input is modified.
func MergeSelect[K Key](local, remote []K, keepLow bool) ([]K, error) {
	if len(local) != len(remote) {
		return nil, fmt.Errorf("%w: local=%d remote=%d", ErrShardSizeMismatch, len(local), len(remote))
	}

	n := len(local)
	out := make([]K, n)
	if keepLow {
		i, j := 0, 0
		for t := 0; t < n; t++ {
			if j >= n || (i < n && local[i] <= remote[j]) {
				out[t] = local[i]
				i++
			} else {
				out[t] = remote[j]
				j++
			}
		}
		return out, nil
	}

	// Walk both shards from the back. Ties take remote first so the kept half
	// matches the tail of a forward merge that prefers local.
	i, j := n-1, n-1
	for t := n - 1; t >= 0; t-- {
		if j < 0 || (i >= 0 && local[i] > remote[j]) {
			out[t] = local[i]
			i--
		} else {
			out[t] = remote[j]
			j--
		}
	}
	return out, nil
}

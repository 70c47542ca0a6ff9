package testutil

import (
	"math/rand/v2"
	"slices"

	"github.com/flashbots/bitonet/protocol"
)

// =====================================
// Configuration Generators
// =====================================

// TestConfigOption is a function that modifies a NetworkConfig
type TestConfigOption func(*protocol.NetworkConfig)

// WithRequested sets the number of real keys
func WithRequested(n int) TestConfigOption {
	return func(c *protocol.NetworkConfig) {
		c.Requested = n
	}
}

// WithUnits sets the number of execution units
func WithUnits(units int) TestConfigOption {
	return func(c *protocol.NetworkConfig) {
		c.Units = units
	}
}

// WithConfigSeed sets the input generation seed
func WithConfigSeed(seed uint64) TestConfigOption {
	return func(c *protocol.NetworkConfig) {
		c.Seed = seed
	}
}

// NewTestConfig creates a small network config for tests
func NewTestConfig(options ...TestConfigOption) *protocol.NetworkConfig {
	cfg := &protocol.NetworkConfig{
		Requested: 100,
		Units:     4,
		Seed:      42,
	}

	for _, option := range options {
		option(cfg)
	}

	return cfg
}

// =====================================
// Key Generators
// =====================================

type keyOptions struct {
	seed  uint64
	limit int64
}

// KeyOption is a function that modifies key generation
type KeyOption func(*keyOptions)

// WithSeed makes generation reproducible from seed
func WithSeed(seed uint64) KeyOption {
	return func(o *keyOptions) {
		o.seed = seed
	}
}

// WithLimit bounds generated values to [0, limit). Small limits produce
// many duplicates.
func WithLimit(limit int64) KeyOption {
	return func(o *keyOptions) {
		o.limit = limit
	}
}

func newKeyOptions(options []KeyOption) (*keyOptions, *rand.Rand) {
	o := &keyOptions{seed: 42, limit: 1_000_000}
	for _, option := range options {
		option(o)
	}
	return o, rand.New(rand.NewPCG(o.seed, o.seed^0x9e3779b97f4a7c15))
}

// GenerateKeys returns n integer keys in [0, limit)
func GenerateKeys(n int, options ...KeyOption) []int64 {
	o, rng := newKeyOptions(options)
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = rng.Int64N(o.limit)
	}
	return keys
}

// GenerateFloats returns n float keys in [-limit, limit)
func GenerateFloats(n int, options ...KeyOption) []float64 {
	o, rng := newKeyOptions(options)
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = (rng.Float64()*2 - 1) * float64(o.limit)
	}
	return keys
}

// =====================================
// Reference Helpers
// =====================================

// ReferenceSort returns an ascending copy of keys
func ReferenceSort[K protocol.Key](keys []K) []K {
	out := slices.Clone(keys)
	slices.Sort(out)
	return out
}

// Padded returns keys followed by sentinels up to the layout's padded length
func Padded[K protocol.Key](keys []K, layout *protocol.Layout) []K {
	out := make([]K, layout.Padded)
	copy(out, keys)
	for i := len(keys); i < len(out); i++ {
		out[i] = protocol.Sentinel[K]()
	}
	return out
}

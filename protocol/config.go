package protocol

// NetworkConfig describes one sort run.
type NetworkConfig struct {
	// Requested is the number of real keys to sort.
	Requested int `json:"requested" yaml:"requested"`

	// Units is the number of execution units. Must be a power of two.
	Units int `json:"units" yaml:"units"`

	// Seed drives input generation for generated runs.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// Layout is the partitioning of a padded sequence across units.
type Layout struct {
	// Requested is the number of real keys.
	Requested int `json:"requested"`

	// Padded is the global length after padding: a power of two, at least
	// Requested and divisible by Units.
	Padded int `json:"padded"`

	// Units is the number of execution units.
	Units int `json:"units"`

	// ShardLen is the number of keys each unit owns.
	ShardLen int `json:"shard_len"`
}

// Padding returns how many sentinel slots the layout needs.
func (l *Layout) Padding() int {
	return l.Padded - l.Requested
}

// LayoutForConfig plans the layout of a config.
func LayoutForConfig(c *NetworkConfig) (*Layout, error) {
	return Plan(c.Requested, c.Units)
}

// Package unit runs one execution unit of the bitonic network.
//
// A Unit binds a rank to an Exchanger and a Barrier and drives its shard
// through protocol.RunNetwork, recording per-phase metrics. Handler is the
// HTTP side of a unit: it accepts shards from partners on POST /exchange and
// posts its own shard to the partner's endpoint.
package unit

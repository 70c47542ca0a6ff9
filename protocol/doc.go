// Package protocol implements a distributed bitonic sorting network over a
// power-of-two number of execution units.
//
// # Layout
//
// A run of N keys on P units is padded to the smallest power of two that is
// at least N and divisible by P (see Plan). Padding slots hold Sentinel, the
// largest value of the key type, so they always end up at the tail of the
// sorted output. Every unit owns a contiguous shard of Padded/P keys.
//
// # Network
//
// Each unit first sorts its shard ascending with the local recursive bitonic
// network (Sort, Merge). It then walks the global schedule: for k = 2, 4, ...,
// P and for j = k/2, ..., 1 it trades its whole shard with partner rank^j,
// merges both shards and keeps either the low or the high half:
//
//	ascending := rank&k == 0
//	lower     := rank&j == 0
//	keepLow   := lower if ascending, !lower otherwise
//
// The two partners always make complementary decisions, so no key is lost or
// duplicated. After every phase all units meet at a barrier (Barrier) before
// the next phase starts. After the last phase, unit r holds the r-th block of
// the globally ascending sequence.
//
// # Transport
//
// Units talk through a Fabric: an Exchanger to trade shards with a partner and
// a Barrier for phase synchronization. Endpoints belong to one run: a fabric
// reused after an aborted run drops the shards and barrier waiters that run
// left behind, and rejects its late traffic with ErrStaleRun. LocalMesh
// connects goroutines in one process through mailboxes. Over the network, shards travel as ShardMessage:
// little-endian keys, snappy-compressed, with an xxhash digest.
//
// RunNetwork ties it together for one unit.
package protocol

/*
Package services runs the sorting network as a cluster of HTTP services.

# Components

BarrierService (barrier.go) is hosted by the coordinator. It keeps the phase
barrier and the list of registered units:

  - POST /barrier/{run}/{k}/{j}: long-polls until every unit reached phase k/j of run
  - POST /register: registers a unit endpoint
  - GET /units: lists registered units ordered by rank

HTTPBarrier is the unit side of the barrier.

Every unit runs a unit.Handler behind an httpserver.BaseServer, accepting
partner shards on POST /exchange.

Every shard and barrier call carries the run ID of the coordinator run it
belongs to. Starting a new run on a cluster drops whatever an aborted run left
in the unit mailboxes and releases its barrier waiters; late traffic of the
old run is refused with 410 Gone.

Orchestrator (orchestrator.go) deploys the barrier service and one server per
unit on a single host, registers the units, hands every unit the peer list
and exposes the whole cluster as a protocol.Fabric:

	orch, err := services.NewOrchestrator[int64](&services.OrchestratorConfig{Units: 8})
	if err := orch.Deploy(ctx); err != nil { ... }
	defer orch.Shutdown()
	report, err := coordinator.New[int64](orch, log).Sort(ctx, keys)

# Run history

RunStore persists a RunRecord per finished run. PostgresStore keeps them in
the sort_runs table; InMemoryStore is used in tests and when no database is
configured.
*/
package services

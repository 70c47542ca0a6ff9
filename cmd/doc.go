// Package cmd holds the command line binaries of bitonet.
//
// # Commands
//
// bitonic: Generates a seeded random sequence, sorts it on a distributed
// bitonic network and prints the layout, the elapsed time and whether the
// gathered result is sorted.
//
//	go run ./cmd/bitonic --n=100000 --units=8
//	go run ./cmd/bitonic --n=1000 --units=4 --transport=http
//	go run ./cmd/bitonic --config=run.yaml --metrics-addr=:9090
//
// # Transports
//
// local: every unit is a goroutine; shards move through in-process mailboxes
// and units synchronize on a shared barrier.
//
// http: every unit is an HTTP server on localhost. Shards are posted to the
// partner's /exchange endpoint and units synchronize through a barrier
// service that long-polls on /barrier/{run}/{k}/{j}.
//
// # Configuration
//
// All settings can come from a YAML file (--config), BITONET_* environment
// variables or a .env file. Command line flags override both.
//
//	requested: 1024
//	units: 4
//	seed: 42
//	transport: local
//	log:
//	  level: info
//	  format: text
//
// When a postgres section is present, every run is recorded in the sort_runs
// table.
package cmd

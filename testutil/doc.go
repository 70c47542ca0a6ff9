/*
Package testutil provides test fixtures for the sorting network.

Configurations are built with functional options on top of small defaults:

	cfg := testutil.NewTestConfig(
	    testutil.WithRequested(1000),
	    testutil.WithUnits(8),
	)

Inputs are generated deterministically from a seed, so a failing run can be
reproduced from the values printed by the test:

	keys := testutil.GenerateKeys(cfg.Requested, testutil.WithSeed(cfg.Seed))
	floats := testutil.GenerateFloats(64, testutil.WithLimit(10))

ReferenceSort returns a sorted copy to compare the network output against, and
Padded appends the sentinel tail a planned layout expects.
*/
package testutil

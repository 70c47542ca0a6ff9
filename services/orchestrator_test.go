package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/flashbots/bitonet/coordinator"
	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/services"
	"github.com/flashbots/bitonet/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func deployCluster(t *testing.T, units int) *services.Orchestrator[int64] {
	t.Helper()

	orch, err := services.NewOrchestrator[int64](&services.OrchestratorConfig{
		Units: units,
		Log:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	require.NoError(t, orch.Deploy(context.Background()))
	t.Cleanup(orch.Shutdown)
	return orch
}

func TestOrchestratorRejectsBadUnitCount(t *testing.T) {
	_, err := services.NewOrchestrator[int64](&services.OrchestratorConfig{Units: 6})
	require.ErrorIs(t, err, protocol.ErrUnitsNotPowerOfTwo)
}

func TestOrchestratorEndpointBeforeDeploy(t *testing.T) {
	orch, err := services.NewOrchestrator[int64](&services.OrchestratorConfig{Units: 2})
	require.NoError(t, err)
	_, _, err = orch.Endpoint("run", 0)
	require.ErrorIs(t, err, services.ErrNotDeployed)
}

func TestOrchestratorServices(t *testing.T) {
	orch := deployCluster(t, 4)
	require.Equal(t, 4, orch.Size())

	svcs := orch.Services()
	require.Len(t, svcs, 5)
	require.Equal(t, services.CoordinatorService, svcs[0].ServiceType)
	for _, svc := range svcs[1:] {
		require.Equal(t, services.UnitService, svc.ServiceType)
		require.NotContains(t, svc.HTTPAddr, ":0")
	}

	_, _, err := orch.Endpoint("run", 4)
	require.ErrorIs(t, err, protocol.ErrRankOutOfRange)
	require.Equal(t, services.TransportHTTP, orch.Transport())
}

func TestE2E_SortOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	for _, units := range []int{1, 2, 4, 8} {
		orch := deployCluster(t, units)
		coord := coordinator.New[int64](orch, slog.New(slog.NewTextHandler(io.Discard, nil)))

		for _, n := range []int{0, 1, 17, 1000} {
			keys := testutil.GenerateKeys(n, testutil.WithSeed(uint64(n+units)))
			report, err := coord.Sort(context.Background(), keys)
			require.NoError(t, err, "units=%d n=%d", units, n)
			require.True(t, report.Verdict.Sorted)
			require.Equal(t, testutil.ReferenceSort(keys), report.Sorted())
		}
	}
}

func TestE2E_ScenarioOverHTTP(t *testing.T) {
	orch := deployCluster(t, 2)
	report, err := coordinator.New[int64](orch, nil).Sort(context.Background(), []int64{5, 3, 8, 1, 9, 2, 7, 4})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 4, 5, 7, 8, 9}, report.Result)
}

type linkDown struct{}

func (linkDown) Exchange(ctx context.Context, phase protocol.Phase, partner int, shard []int64) ([]int64, error) {
	return nil, errors.New("link down")
}

// flakyCluster breaks the link of failRank while broken is set.
type flakyCluster struct {
	*services.Orchestrator[int64]
	failRank int
	broken   bool
}

func (f *flakyCluster) Endpoint(run string, rank int) (protocol.Exchanger[int64], protocol.Barrier, error) {
	ex, barrier, err := f.Orchestrator.Endpoint(run, rank)
	if f.broken && rank == f.failRank {
		return linkDown{}, barrier, err
	}
	return ex, barrier, err
}

func TestE2E_SortAfterFailedRunOverHTTP(t *testing.T) {
	cluster := &flakyCluster{Orchestrator: deployCluster(t, 2), failRank: 1, broken: true}
	coord := coordinator.New[int64](cluster, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := coord.Sort(context.Background(), []int64{8, 6, 4, 2, 7, 5, 3, 1})
	require.ErrorContains(t, err, "link down")

	cluster.broken = false
	input := []int64{50, 30, 80, 10, 90, 20, 70, 40}
	report, err := coord.Sort(context.Background(), input)
	require.NoError(t, err)
	require.True(t, report.Verdict.Sorted)
	require.ElementsMatch(t, input, report.Sorted())
	require.Equal(t, []int64{10, 20, 30, 40, 50, 70, 80, 90}, report.Sorted())
}

func TestE2E_RepeatedFailuresOverHTTP(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	const units = 4
	cluster := &flakyCluster{Orchestrator: deployCluster(t, units)}
	coord := coordinator.New[int64](cluster, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for rank := 0; rank < units; rank++ {
		cluster.failRank = rank
		cluster.broken = true
		_, err := coord.Sort(context.Background(), testutil.GenerateKeys(64, testutil.WithSeed(uint64(rank))))
		require.Error(t, err)

		cluster.broken = false
		keys := testutil.GenerateKeys(500, testutil.WithSeed(uint64(rank+10)))
		report, err := coord.Sort(context.Background(), keys)
		require.NoError(t, err, "after failure of rank %d", rank)
		require.True(t, report.Verdict.Sorted)
		require.Equal(t, testutil.ReferenceSort(keys), report.Sorted())
	}
}

package unit

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/flashbots/bitonet/metrics"
	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUnitsOnLocalMesh(t *testing.T) {
	const units = 4
	keys := testutil.GenerateKeys(64)

	mesh, err := protocol.NewLocalMesh[int64](units)
	require.NoError(t, err)

	out := slices.Clone(keys)
	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < units; rank++ {
		u, err := FromFabric[int64](mesh, "unit-test", rank, quietLogger())
		require.NoError(t, err)
		require.Equal(t, rank, u.Rank)
		require.Equal(t, units, u.Units)
		require.Equal(t, protocol.TransportLocal, u.Transport)

		shard := out[rank*16 : (rank+1)*16]
		g.Go(func() error { return u.Run(ctx, shard) })
	}
	require.NoError(t, g.Wait())
	require.Equal(t, testutil.ReferenceSort(keys), out)
}

func TestFromFabricBadRank(t *testing.T) {
	mesh, err := protocol.NewLocalMesh[int64](2)
	require.NoError(t, err)

	_, err = FromFabric[int64](mesh, "unit-test", 5, nil)
	require.ErrorIs(t, err, protocol.ErrRankOutOfRange)
}

func TestUnitRunReportsErrors(t *testing.T) {
	mesh, err := protocol.NewLocalMesh[int64](2)
	require.NoError(t, err)
	u, err := FromFabric[int64](mesh, "unit-test", 0, quietLogger())
	require.NoError(t, err)

	err = u.Run(context.Background(), []int64{1, 2, 3})
	require.ErrorIs(t, err, protocol.ErrShardNotPowerOfTwo)
}

func exchangedKeys(t *testing.T, transport string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, metrics.KeysExchanged.WithLabelValues(transport).Write(&m))
	return m.GetCounter().GetValue()
}

func TestUnitCountsExchangedKeys(t *testing.T) {
	const units = 4
	mesh, err := protocol.NewLocalMesh[int64](units)
	require.NoError(t, err)

	before := exchangedKeys(t, protocol.TransportLocal)

	data := testutil.GenerateKeys(32)
	g, ctx := errgroup.WithContext(context.Background())
	for rank := 0; rank < units; rank++ {
		u, err := FromFabric[int64](mesh, "metrics-test", rank, quietLogger())
		require.NoError(t, err)
		shard := data[rank*8 : (rank+1)*8]
		g.Go(func() error { return u.Run(ctx, shard) })
	}
	require.NoError(t, g.Wait())

	// Every unit sends its 8 keys once per phase.
	want := float64(units * 8 * protocol.PhaseCount(units))
	require.Equal(t, want, exchangedKeys(t, protocol.TransportLocal)-before)
}

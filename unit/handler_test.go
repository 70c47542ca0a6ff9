package unit

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/flashbots/bitonet/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const testRun = "run-1"

func newTestHandler(rank int) *Handler[int64] {
	h := NewHandler[int64](rank, nil, quietLogger())
	h.Begin(testRun)
	return h
}

func encodeShard(t *testing.T, from, to int, phase protocol.Phase, shard []int64) *protocol.ShardMessage {
	t.Helper()

	msg, err := protocol.EncodeShard(from, to, phase, shard)
	require.NoError(t, err)
	msg.Run = testRun
	return msg
}

// startHandlers serves one exchange handler per rank on httptest servers.
func startHandlers(t *testing.T, units int) []*Handler[int64] {
	t.Helper()

	handlers := make([]*Handler[int64], units)
	peers := make([]string, units)
	for rank := range handlers {
		handlers[rank] = newTestHandler(rank)
		r := chi.NewRouter()
		handlers[rank].RegisterRoutes(r)
		ts := httptest.NewServer(r)
		t.Cleanup(ts.Close)
		peers[rank] = ts.URL
	}
	for _, h := range handlers {
		h.SetPeers(peers)
	}
	return handlers
}

func postShard(t *testing.T, h *Handler[int64], msg *protocol.ShardMessage) *httptest.ResponseRecorder {
	t.Helper()

	body, err := protocol.SerializeMessage(msg)
	require.NoError(t, err)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader(body)))
	return rec
}

func TestHandlerExchange(t *testing.T) {
	handlers := startHandlers(t, 2)
	phase := protocol.Phase{K: 2, J: 1}

	var wg sync.WaitGroup
	var got1 []int64
	var err1 error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got1, err1 = handlers[1].Exchange(context.Background(), testRun, phase, 0, []int64{7, 9})
	}()

	got0, err := handlers[0].Exchange(context.Background(), testRun, phase, 1, []int64{1, 3})
	wg.Wait()

	require.NoError(t, err)
	require.NoError(t, err1)
	require.Equal(t, []int64{7, 9}, got0)
	require.Equal(t, []int64{1, 3}, got1)
}

func TestHandlerRejectsMisaddressedShard(t *testing.T) {
	h := newTestHandler(0)
	msg := encodeShard(t, 1, 3, protocol.Phase{K: 2, J: 1}, []int64{1})

	rec := postShard(t, h, msg)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "addressed to unit 3")
}

func TestHandlerRejectsCorruptShard(t *testing.T) {
	h := newTestHandler(0)
	msg := encodeShard(t, 1, 0, protocol.Phase{K: 2, J: 1}, []int64{1, 2})
	msg.Digest ^= 1

	rec := postShard(t, h, msg)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), protocol.ErrDigestMismatch.Error())
}

func TestHandlerRejectsMalformedBody(t *testing.T) {
	h := newTestHandler(0)
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/exchange", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRejectsDuplicateShard(t *testing.T) {
	h := newTestHandler(0)
	msg := encodeShard(t, 1, 0, protocol.Phase{K: 2, J: 1}, []int64{4})

	require.Equal(t, http.StatusAccepted, postShard(t, h, msg).Code)
	require.Equal(t, http.StatusConflict, postShard(t, h, msg).Code)
}

func TestHandlerUnknownPeer(t *testing.T) {
	h := newTestHandler(0)
	_, err := h.Exchange(context.Background(), testRun, protocol.Phase{K: 2, J: 1}, 1, []int64{1})
	require.ErrorIs(t, err, ErrPeerUnknown)
}

func TestHandlerPartnerRefuses(t *testing.T) {
	handlers := startHandlers(t, 2)
	phase := protocol.Phase{K: 2, J: 1}

	// Pre-fill the partner's mailbox so the real send is a duplicate.
	msg := encodeShard(t, 0, 1, phase, []int64{5})
	require.Equal(t, http.StatusAccepted, postShard(t, handlers[1], msg).Code)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := handlers[0].Exchange(ctx, testRun, phase, 1, []int64{5})
	require.ErrorContains(t, err, "status 409")
}

func TestHandlerRefusesShardOfAnotherRun(t *testing.T) {
	h := newTestHandler(0)
	msg := encodeShard(t, 1, 0, protocol.Phase{K: 2, J: 1}, []int64{4})
	msg.Run = "run-0"

	rec := postShard(t, h, msg)
	require.Equal(t, http.StatusGone, rec.Code)
	require.Contains(t, rec.Body.String(), protocol.ErrStaleRun.Error())
}

func TestHandlerPartnerOnAnotherRun(t *testing.T) {
	handlers := startHandlers(t, 2)
	handlers[1].Begin("run-2")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := handlers[0].Exchange(ctx, testRun, protocol.Phase{K: 2, J: 1}, 1, []int64{5})
	require.ErrorIs(t, err, protocol.ErrStaleRun)
}

func TestHandlerBeginDropsLeftovers(t *testing.T) {
	handlers := startHandlers(t, 2)
	phase := protocol.Phase{K: 2, J: 1}

	// A shard of an aborted run is still waiting in rank 0's mailbox.
	require.Equal(t, http.StatusAccepted, postShard(t, handlers[0], encodeShard(t, 1, 0, phase, []int64{100, 200})).Code)

	for _, h := range handlers {
		h.Begin("run-2")
	}

	var wg sync.WaitGroup
	var got1 []int64
	var err1 error
	wg.Add(1)
	go func() {
		defer wg.Done()
		got1, err1 = handlers[1].Exchanger("run-2").Exchange(context.Background(), phase, 0, []int64{7, 9})
	}()
	got0, err := handlers[0].Exchanger("run-2").Exchange(context.Background(), phase, 1, []int64{1, 3})
	wg.Wait()

	require.NoError(t, err)
	require.NoError(t, err1)
	require.Equal(t, []int64{7, 9}, got0)
	require.Equal(t, []int64{1, 3}, got1)
}

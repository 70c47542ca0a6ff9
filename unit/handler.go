package unit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flashbots/bitonet/protocol"
	"github.com/go-chi/chi/v5"
)

// ErrPeerUnknown is returned when a unit has no address for its partner.
var ErrPeerUnknown = errors.New("peer address unknown")

// Handler is the HTTP side of one unit: it accepts partner shards on
// POST /exchange and sends its own shard to the partner's endpoint. Shards are
// accepted only for the run set with Begin.
type Handler[K protocol.Key] struct {
	rank       int
	box        *protocol.Mailbox[K]
	httpClient *http.Client
	log        *slog.Logger

	mu    sync.RWMutex
	peers []string
}

// NewHandler creates the exchange handler of rank. Peer base URLs are set
// later with SetPeers, once every unit knows where the others listen.
func NewHandler[K protocol.Key](rank int, httpClient *http.Client, log *slog.Logger) *Handler[K] {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler[K]{
		rank:       rank,
		box:        protocol.NewMailbox[K](),
		httpClient: httpClient,
		log:        log.With("rank", rank),
	}
}

// SetPeers sets the base URL of every unit, indexed by rank.
func (h *Handler[K]) SetPeers(peers []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers = append([]string(nil), peers...)
}

// Begin switches the handler to run, dropping shards an earlier run left
// behind. Shards of any other run are refused from now on.
func (h *Handler[K]) Begin(run string) {
	if dropped := h.box.Begin(run); dropped > 0 {
		h.log.Warn("dropped shards of an earlier run", "run_id", run, "dropped", dropped)
	}
}

// Exchanger returns the protocol.Exchanger of this unit for run.
func (h *Handler[K]) Exchanger(run string) protocol.Exchanger[K] {
	return &runExchanger[K]{h: h, run: run}
}

type runExchanger[K protocol.Key] struct {
	h   *Handler[K]
	run string
}

func (e *runExchanger[K]) Exchange(ctx context.Context, phase protocol.Phase, partner int, shard []K) ([]K, error) {
	return e.h.Exchange(ctx, e.run, phase, partner, shard)
}

func (h *Handler[K]) peer(rank int) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if rank < 0 || rank >= len(h.peers) || h.peers[rank] == "" {
		return "", fmt.Errorf("%w: unit %d", ErrPeerUnknown, rank)
	}
	return h.peers[rank], nil
}

// RegisterRoutes registers the exchange endpoint.
func (h *Handler[K]) RegisterRoutes(r chi.Router) {
	r.Post("/exchange", h.handleExchange)
}

func (h *Handler[K]) handleExchange(w http.ResponseWriter, r *http.Request) {
	msg, err := protocol.DecodeMessage[protocol.ShardMessage](r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if msg.To != h.rank {
		http.Error(w, fmt.Sprintf("shard addressed to unit %d, this is unit %d", msg.To, h.rank), http.StatusBadRequest)
		return
	}

	shard, err := protocol.DecodeShard[K](msg)
	if err != nil {
		h.log.Warn("rejected shard", "from", msg.From, "phase", msg.Phase.String(), "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.box.Deliver(msg.Run, msg.Phase, msg.From, shard); err != nil {
		if errors.Is(err, protocol.ErrStaleRun) {
			h.log.Warn("refused shard of another run", "from", msg.From, "run_id", msg.Run, "err", err)
			http.Error(w, err.Error(), http.StatusGone)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Exchange posts shard to partner and waits until the partner's shard for the
// same phase of run was delivered to this unit.
func (h *Handler[K]) Exchange(ctx context.Context, run string, phase protocol.Phase, partner int, shard []K) ([]K, error) {
	base, err := h.peer(partner)
	if err != nil {
		return nil, err
	}

	msg, err := protocol.EncodeShard(h.rank, partner, phase, shard)
	if err != nil {
		return nil, err
	}
	msg.Run = run
	body, err := protocol.SerializeMessage(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/exchange", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending shard to unit %d: %w", partner, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("unit %d returned status %d: %s", partner, resp.StatusCode, bytes.TrimSpace(respBody))
		if resp.StatusCode == http.StatusGone {
			err = fmt.Errorf("%w: %w", protocol.ErrStaleRun, err)
		}
		return nil, err
	}

	remote, err := h.box.Receive(ctx, run, phase, partner)
	if err != nil {
		return nil, err
	}
	if len(remote) != len(shard) {
		return nil, fmt.Errorf("%w: sent %d received %d", protocol.ErrShardSizeMismatch, len(shard), len(remote))
	}
	return remote, nil
}

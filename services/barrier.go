package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	neturl "net/url"
	"slices"
	"strconv"
	"sync"

	"github.com/flashbots/bitonet/protocol"
	"github.com/go-chi/chi/v5"
)

// BarrierService hosts the phase barrier of a cluster and the list of
// registered units. Units reach the barrier with a long-polling
// POST /barrier/{run}/{k}/{j} that returns once every unit arrived. Calls for
// any run other than the one set with Begin are refused with 410 Gone.
type BarrierService struct {
	barrier *protocol.LocalBarrier
	log     *slog.Logger

	mu    sync.RWMutex
	units map[int]*RegisteredUnit
}

// NewBarrierService creates the barrier for a cluster of units.
func NewBarrierService(units int, log *slog.Logger) *BarrierService {
	if log == nil {
		log = slog.Default()
	}
	return &BarrierService{
		barrier: protocol.NewLocalBarrier(units),
		log:     log.With("service", string(CoordinatorService)),
		units:   make(map[int]*RegisteredUnit),
	}
}

// Begin switches the barrier to run and releases anybody still waiting for
// an earlier run.
func (b *BarrierService) Begin(run string) {
	b.barrier.Begin(run)
}

// RegisterRoutes registers the barrier and discovery endpoints.
func (b *BarrierService) RegisterRoutes(r chi.Router) {
	r.Post("/barrier/{run}/{k}/{j}", b.handleBarrier)
	r.Post("/register", b.handleRegister)
	r.Get("/units", b.handleGetUnits)
}

func (b *BarrierService) handleBarrier(w http.ResponseWriter, r *http.Request) {
	k, errK := strconv.Atoi(chi.URLParam(r, "k"))
	j, errJ := strconv.Atoi(chi.URLParam(r, "j"))
	if errK != nil || errJ != nil || !protocol.IsPowerOfTwo(k) || !protocol.IsPowerOfTwo(j) || j >= k {
		http.Error(w, "invalid phase", http.StatusBadRequest)
		return
	}
	phase := protocol.Phase{K: k, J: j}
	run := chi.URLParam(r, "run")

	err := b.barrier.WaitRun(r.Context(), run, phase)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, protocol.ErrStaleRun):
		b.log.Warn("barrier call of another run", "run_id", run, "phase", phase.String())
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, protocol.ErrPhaseMismatch):
		b.log.Warn("phase mismatch at barrier", "phase", phase.String(), "err", err)
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

func (b *BarrierService) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisteredUnit
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Rank < 0 || req.Rank >= b.barrier.Parties() {
		http.Error(w, fmt.Sprintf("rank %d out of range", req.Rank), http.StatusBadRequest)
		return
	}
	if req.HTTPEndpoint == "" {
		http.Error(w, "missing http endpoint", http.StatusBadRequest)
		return
	}

	b.mu.Lock()
	b.units[req.Rank] = &req
	b.mu.Unlock()

	b.log.Debug("unit registered", "unit_rank", req.Rank, "endpoint", req.HTTPEndpoint)
	w.WriteHeader(http.StatusOK)
}

func (b *BarrierService) handleGetUnits(w http.ResponseWriter, r *http.Request) {
	b.mu.RLock()
	list := make([]*RegisteredUnit, 0, len(b.units))
	for _, u := range b.units {
		list = append(list, u)
	}
	b.mu.RUnlock()

	slices.SortFunc(list, func(a, c *RegisteredUnit) int { return a.Rank - c.Rank })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&UnitListResponse{Units: list})
}

// HTTPBarrier is the client side of BarrierService used by one unit in one
// run.
type HTTPBarrier struct {
	baseURL    string
	run        string
	httpClient *http.Client
}

// NewHTTPBarrier creates a barrier client of run for the server at baseURL.
// The client must not impose a timeout shorter than the slowest phase.
func NewHTTPBarrier(baseURL, run string, httpClient *http.Client) *HTTPBarrier {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPBarrier{
		baseURL:    baseURL,
		run:        run,
		httpClient: httpClient,
	}
}

func (b *HTTPBarrier) Wait(ctx context.Context, phase protocol.Phase) error {
	url := fmt.Sprintf("%s/barrier/%s/%d/%d", b.baseURL, neturl.PathEscape(b.run), phase.K, phase.J)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("barrier %s: %w", phase, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", protocol.ErrPhaseMismatch, body)
	case http.StatusGone:
		return fmt.Errorf("%w: %s", protocol.ErrStaleRun, body)
	default:
		return fmt.Errorf("%w: barrier %s returned status %d: %s", protocol.ErrBarrierBroken, phase, resp.StatusCode, body)
	}
}

// FetchUnits retrieves the registered units from the barrier server.
func FetchUnits(ctx context.Context, httpClient *http.Client, baseURL string) (*UnitListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/units", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing units: status %d", resp.StatusCode)
	}
	return protocol.DecodeMessage[UnitListResponse](resp.Body)
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/flashbots/bitonet/api/httpserver"
	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/unit"
)

var ErrNotDeployed = errors.New("cluster not deployed")

// OrchestratorConfig contains deployment configuration.
type OrchestratorConfig struct {
	Units int

	// Host is the interface every service binds to.
	Host string

	// BasePort is the port of the barrier service; unit i listens on
	// BasePort+1+i. Zero picks free ports.
	BasePort int

	// RequestTimeout bounds a single shard transfer.
	RequestTimeout time.Duration

	ShutdownTimeout time.Duration

	Log *slog.Logger
}

// Orchestrator deploys a cluster of unit servers and a barrier service on one
// host and provides their endpoints as a protocol.Fabric.
type Orchestrator[K protocol.Key] struct {
	config *OrchestratorConfig
	log    *slog.Logger

	transport     *http.Transport
	httpClient    *http.Client
	barrierClient *http.Client

	barrier    *DeployedService
	barrierSvc *BarrierService
	units      []*DeployedService
	handlers   []*unit.Handler[K]

	mu  sync.Mutex
	run string
}

// TransportHTTP names the localhost HTTP cluster fabric.
const TransportHTTP = "http"

// DeployedService represents a running service instance.
type DeployedService struct {
	ServiceID   string
	ServiceType ServiceType
	HTTPAddr    string
	Server      *httpserver.BaseServer
}

// NewOrchestrator creates a deployment orchestrator.
func NewOrchestrator[K protocol.Key](config *OrchestratorConfig) (*Orchestrator[K], error) {
	if !protocol.IsPowerOfTwo(config.Units) {
		return nil, fmt.Errorf("%w: got %d", protocol.ErrUnitsNotPowerOfTwo, config.Units)
	}
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 2 * config.Units

	return &Orchestrator[K]{
		config:        config,
		log:           log,
		transport:     transport,
		httpClient:    &http.Client{Transport: transport, Timeout: config.RequestTimeout},
		barrierClient: &http.Client{Transport: transport},
	}, nil
}

// Deploy starts the barrier service and every unit server, registers the
// units with the barrier service and distributes the unit list.
func (o *Orchestrator[K]) Deploy(ctx context.Context) error {
	o.log.Info("deploying cluster", "units", o.config.Units)

	barrierSvc := NewBarrierService(o.config.Units, o.log)
	barrier, err := o.deployService("coordinator", CoordinatorService, o.port(-1), barrierSvc)
	if err != nil {
		return fmt.Errorf("deploy barrier: %w", err)
	}
	o.barrier = barrier
	o.barrierSvc = barrierSvc

	for rank := 0; rank < o.config.Units; rank++ {
		handler := unit.NewHandler[K](rank, o.httpClient, o.log)
		svc, err := o.deployService(fmt.Sprintf("unit-%d", rank), UnitService, o.port(rank), handler)
		if err != nil {
			o.Shutdown()
			return fmt.Errorf("deploy unit %d: %w", rank, err)
		}
		o.units = append(o.units, svc)
		o.handlers = append(o.handlers, handler)
	}

	for rank, svc := range o.units {
		if err := o.registerUnit(ctx, rank, svc); err != nil {
			o.Shutdown()
			return fmt.Errorf("register unit %d: %w", rank, err)
		}
	}

	if err := o.distributePeers(ctx); err != nil {
		o.Shutdown()
		return err
	}

	o.log.Info("cluster deployed", "barrier", o.barrier.HTTPAddr, "units", len(o.units))
	return nil
}

func (o *Orchestrator[K]) port(rank int) int {
	if o.config.BasePort == 0 {
		return 0
	}
	return o.config.BasePort + 1 + rank
}

func (o *Orchestrator[K]) deployService(serviceID string, serviceType ServiceType, port int, routes httpserver.RouteRegistrar) (*DeployedService, error) {
	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               net.JoinHostPort(o.config.Host, strconv.Itoa(port)),
		Log:                      o.log.With("service", serviceID),
		GracefulShutdownDuration: o.config.ShutdownTimeout,
	}, routes)
	if err != nil {
		return nil, err
	}
	if err := srv.Listen(); err != nil {
		return nil, err
	}
	srv.RunInBackground()

	return &DeployedService{
		ServiceID:   serviceID,
		ServiceType: serviceType,
		HTTPAddr:    "http://" + srv.Addr(),
		Server:      srv,
	}, nil
}

func (o *Orchestrator[K]) registerUnit(ctx context.Context, rank int, svc *DeployedService) error {
	body, err := json.Marshal(&RegisteredUnit{Rank: rank, HTTPEndpoint: svc.HTTPAddr})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.barrier.HTTPAddr+"/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("barrier service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func (o *Orchestrator[K]) distributePeers(ctx context.Context) error {
	list, err := FetchUnits(ctx, o.httpClient, o.barrier.HTTPAddr)
	if err != nil {
		return fmt.Errorf("discover units: %w", err)
	}
	if len(list.Units) != o.config.Units {
		return fmt.Errorf("discover units: %d of %d registered", len(list.Units), o.config.Units)
	}

	peers := make([]string, o.config.Units)
	for _, u := range list.Units {
		peers[u.Rank] = u.HTTPEndpoint
	}
	for _, h := range o.handlers {
		h.SetPeers(peers)
	}
	return nil
}

func (o *Orchestrator[K]) Size() int {
	return o.config.Units
}

func (o *Orchestrator[K]) Transport() string {
	return TransportHTTP
}

// Endpoint returns the HTTP exchanger and barrier client of rank for run. The
// first call for a new run switches every unit and the barrier service to it.
func (o *Orchestrator[K]) Endpoint(run string, rank int) (protocol.Exchanger[K], protocol.Barrier, error) {
	if o.barrier == nil || len(o.handlers) != o.config.Units {
		return nil, nil, ErrNotDeployed
	}
	if rank < 0 || rank >= len(o.handlers) {
		return nil, nil, fmt.Errorf("%w: %d of %d", protocol.ErrRankOutOfRange, rank, len(o.handlers))
	}

	o.mu.Lock()
	if run != o.run {
		o.log.Debug("switching cluster to run", "run_id", run)
		o.run = run
		for _, h := range o.handlers {
			h.Begin(run)
		}
		o.barrierSvc.Begin(run)
	}
	o.mu.Unlock()

	return o.handlers[rank].Exchanger(run), NewHTTPBarrier(o.barrier.HTTPAddr, run, o.barrierClient), nil
}

// Services returns every deployed service, the barrier first.
func (o *Orchestrator[K]) Services() []*DeployedService {
	if o.barrier == nil {
		return nil
	}
	return append([]*DeployedService{o.barrier}, o.units...)
}

// Shutdown stops all services.
func (o *Orchestrator[K]) Shutdown() {
	o.log.Info("shutting down cluster")

	for _, svc := range o.Services() {
		svc.Server.Shutdown()
	}
	o.transport.CloseIdleConnections()

	o.barrier = nil
	o.barrierSvc = nil
	o.units = nil
	o.handlers = nil
	o.run = ""
}

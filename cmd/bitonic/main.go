// Command bitonic sorts a generated sequence on a distributed bitonic network
// and reports whether the result is sorted.
//
// Units run either as goroutines in this process (--transport=local) or as a
// cluster of HTTP servers on localhost (--transport=http), with a barrier
// service hosted next to the coordinator.
//
// # Configuration
//
// Settings come from, in increasing precedence: defaults, a YAML file
// (--config), BITONET_* environment variables (also read from .env) and flags.
//
//	requested: 100000
//	units: 8
//	seed: 42
//	transport: http
//	http:
//	  host: 127.0.0.1
//	  base_port: 0
//	  request_timeout: 30s
//	metrics_addr: ":9090"
//	log:
//	  level: info
//	  format: text
//	postgres:
//	  host: localhost
//	  port: 5432
//	  user: postgres
//	  database: bitonet
//
// # Usage
//
//	go run ./cmd/bitonic --n=1000 --units=4
//	go run ./cmd/bitonic --config=run.yaml --transport=http
//
// The process exits non-zero on configuration or communication errors. A run
// that completes exits zero whether or not the result verified as sorted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/bitonet/cmd/common"
	pkgcommon "github.com/flashbots/bitonet/common"
	"github.com/flashbots/bitonet/coordinator"
	"github.com/flashbots/bitonet/metrics"
	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/services"
)

// maxInputValue bounds generated keys to [0, maxInputValue).
const maxInputValue = 1_000_000

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file")
		envFile     = flag.String("env-file", "", "Environment file to load (default .env)")
		requested   = flag.Int("n", 0, "Number of keys to sort (default 1024 when not positive)")
		units       = flag.Int("units", 0, "Number of execution units, a power of two")
		seed        = flag.Uint64("seed", 0, "Seed for input generation")
		transport   = flag.String("transport", "", "Transport: local or http")
		basePort    = flag.Int("base-port", 0, "http transport: first port to bind, 0 picks free ports")
		metricsAddr = flag.String("metrics-addr", "", "Address to serve prometheus metrics on")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn or error")
		logFormat   = flag.String("log-format", "", "Log format: text or json")
	)
	flag.Parse()

	isFlagSet := func(name string) bool {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		return found
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		cancel()
	}()

	cfg, err := loadConfiguration(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if isFlagSet("n") {
		cfg.Requested = *requested
	}
	if isFlagSet("units") {
		cfg.Units = *units
	}
	if isFlagSet("seed") {
		cfg.Seed = *seed
	}
	if isFlagSet("base-port") {
		cfg.HTTP.BasePort = *basePort
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}

	if err := common.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfiguration(configPath, envFile string) (*common.Config, error) {
	cfg := common.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = common.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}
	if err := common.ApplyEnv(cfg, envFiles...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// generateInput returns n keys in [0, maxInputValue) drawn from seed.
func generateInput(n int, seed uint64) []int64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	keys := make([]int64, n)
	for i := range keys {
		keys[i] = rng.Int64N(maxInputValue)
	}
	return keys
}

func run(ctx context.Context, cfg *common.Config, stdout, stderr io.Writer) error {
	log, err := common.NewLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}
	log = log.With("service", pkgcommon.PackageName, "version", pkgcommon.Version)

	if cfg.MetricsAddr != "" {
		metricsSrv, err := metrics.New(pkgcommon.PackageName, cfg.MetricsAddr)
		if err != nil {
			return err
		}
		go func() {
			log.Info("Starting metrics server", "metricsAddress", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	fabric, shutdown, err := openFabric(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer shutdown()

	input := generateInput(cfg.Requested, cfg.Seed)
	report, err := coordinator.New[int64](fabric, log).Sort(ctx, input)
	if err != nil {
		return err
	}

	if err := report.Write(stdout); err != nil {
		return err
	}

	if err := store.SaveRun(ctx, report.Record(cfg.Transport)); err != nil {
		log.Warn("could not save run", "run_id", report.RunID.String(), "err", err)
	}
	return nil
}

func openStore(cfg *common.Config) (services.RunStore, error) {
	if cfg.Postgres == nil {
		return services.NewInMemoryStore(), nil
	}
	return services.NewPostgresStore(cfg.Postgres)
}

func openFabric(ctx context.Context, cfg *common.Config, log *slog.Logger) (protocol.Fabric[int64], func(), error) {
	if cfg.Transport == common.TransportLocal {
		mesh, err := protocol.NewLocalMesh[int64](cfg.Units)
		if err != nil {
			return nil, nil, err
		}
		return mesh, func() {}, nil
	}

	orch, err := services.NewOrchestrator[int64](&services.OrchestratorConfig{
		Units:          cfg.Units,
		Host:           cfg.HTTP.Host,
		BasePort:       cfg.HTTP.BasePort,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Log:            log,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := orch.Deploy(ctx); err != nil {
		return nil, nil, err
	}
	return orch, orch.Shutdown, nil
}

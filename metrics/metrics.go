// Package metrics exposes prometheus instruments for sort runs.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bitonet"

var (
	PhaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Time a unit spent on one network phase, barrier included",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"k", "j"})

	KeysExchanged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keys_exchanged_total",
		Help:      "Keys sent to partner units",
	}, []string{"transport"})

	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the distributed sort, scatter to gather",
		Buckets:   prometheus.DefBuckets,
	}, []string{"sorted"})

	Info = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "info",
		Help:      "Constant 1, labelled with the serving component",
	}, []string{"name"})
)

func init() {
	prometheus.MustRegister(PhaseDuration)
	prometheus.MustRegister(KeysExchanged)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(Info)
}

// ObservePhase records how long one unit spent on the phase (k, j).
func ObservePhase(k, j int, elapsed time.Duration) {
	PhaseDuration.WithLabelValues(strconv.Itoa(k), strconv.Itoa(j)).Observe(elapsed.Seconds())
}

// AddExchanged counts n keys sent over transport.
func AddExchanged(transport string, n int) {
	KeysExchanged.WithLabelValues(transport).Add(float64(n))
}

// ObserveRun records a finished run.
func ObserveRun(sorted bool, elapsed time.Duration) {
	RunDuration.WithLabelValues(strconv.FormatBool(sorted)).Observe(elapsed.Seconds())
}

// MetricsServer serves the default prometheus registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

// New creates a metrics server for the component name. An empty addr yields a
// server that is never started.
func New(name, addr string) (*MetricsServer, error) {
	Info.WithLabelValues(name).Set(1)

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.Handler())

	return &MetricsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the router serving /metrics.
func (m *MetricsServer) Handler() http.Handler {
	return m.srv.Handler
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

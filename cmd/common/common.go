// Package common provides configuration and logging helpers shared by the
// command line binaries.
//
// Configuration is layered: DefaultConfig, then an optional YAML file
// (LoadConfig), then environment variables including those from .env files
// (ApplyEnv), then command line flags applied by the binary itself.
package common

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flashbots/bitonet/protocol"
	"github.com/flashbots/bitonet/services"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultRequested is used when the requested length is not positive.
const DefaultRequested = 1024

const (
	TransportLocal = protocol.TransportLocal
	TransportHTTP  = services.TransportHTTP
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the configuration of a sort run.
type Config struct {
	protocol.NetworkConfig `yaml:",inline"`

	// Transport selects the fabric: local (goroutines) or http (localhost
	// cluster).
	Transport string `yaml:"transport"`

	HTTP HTTPConfig `yaml:"http"`

	// MetricsAddr serves prometheus metrics when set.
	MetricsAddr string `yaml:"metrics_addr"`

	Log LogConfig `yaml:"log"`

	// Postgres stores run history when set; runs are kept in memory
	// otherwise.
	Postgres *services.PostgresConfig `yaml:"postgres"`
}

// HTTPConfig configures the http transport.
type HTTPConfig struct {
	Host           string        `yaml:"host"`
	BasePort       int           `yaml:"base_port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when nothing else is given.
func DefaultConfig() *Config {
	return &Config{
		NetworkConfig: protocol.NetworkConfig{
			Requested: DefaultRequested,
			Units:     4,
			Seed:      42,
		},
		Transport: TransportLocal,
		HTTP: HTTPConfig{
			Host:           "127.0.0.1",
			RequestTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv loads the given .env files (".env" when none are given; missing
// files are skipped) and overrides cfg with BITONET_* environment variables.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading env file: %w", err)
	}

	var err error
	setInt := func(key string, dst *int) {
		if v := getEnv(key, ""); v != "" && err == nil {
			*dst, err = strconv.Atoi(v)
			if err != nil {
				err = fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
			}
		}
	}

	setInt("BITONET_N", &cfg.Requested)
	setInt("BITONET_UNITS", &cfg.Units)
	setInt("BITONET_HTTP_BASE_PORT", &cfg.HTTP.BasePort)
	if v := getEnv("BITONET_SEED", ""); v != "" && err == nil {
		cfg.Seed, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			err = fmt.Errorf("%w: BITONET_SEED=%q", ErrInvalidConfig, v)
		}
	}
	if err != nil {
		return err
	}

	cfg.Transport = getEnv("BITONET_TRANSPORT", cfg.Transport)
	cfg.HTTP.Host = getEnv("BITONET_HTTP_HOST", cfg.HTTP.Host)
	cfg.MetricsAddr = getEnv("BITONET_METRICS_ADDR", cfg.MetricsAddr)
	cfg.Log.Level = getEnv("BITONET_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("BITONET_LOG_FORMAT", cfg.Log.Format)

	if host := getEnv("BITONET_POSTGRES_HOST", ""); host != "" {
		pg := &services.PostgresConfig{Host: host, Port: 5432}
		if cfg.Postgres != nil {
			*pg = *cfg.Postgres
			pg.Host = host
		}
		if port := getEnv("BITONET_POSTGRES_PORT", ""); port != "" {
			pg.Port, err = strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("%w: BITONET_POSTGRES_PORT=%q", ErrInvalidConfig, port)
			}
		}
		pg.User = getEnv("BITONET_POSTGRES_USER", pg.User)
		pg.Password = getEnv("BITONET_POSTGRES_PASSWORD", pg.Password)
		pg.Database = getEnv("BITONET_POSTGRES_DB", pg.Database)
		pg.SSLMode = getEnv("BITONET_POSTGRES_SSLMODE", pg.SSLMode)
		cfg.Postgres = pg
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks cfg and replaces a non-positive requested length with
// DefaultRequested.
func Validate(cfg *Config) error {
	if cfg.Requested <= 0 {
		cfg.Requested = DefaultRequested
	}
	if _, err := protocol.LayoutForConfig(&cfg.NetworkConfig); err != nil {
		return err
	}
	switch cfg.Transport {
	case TransportLocal, TransportHTTP:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, cfg.Transport)
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		return err
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, cfg.Log.Format)
	}
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, level)
	}
	return l, nil
}

// NewLogger creates the process logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Package config loads daemon settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/signalsfoundry/geofence/internal/observability"
	"github.com/signalsfoundry/geofence/internal/presence"
	"github.com/signalsfoundry/geofence/internal/tracking"
)

// Position source kinds.
const (
	SourcePush      = "push"
	SourceSimulated = "simulated"
)

// Config is the full daemon configuration.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	// AreasFile is an optional YAML seed file for the registry.
	AreasFile string
	// AdminToken, when set, guards mutating area and drawing routes.
	AdminToken string

	Source            string
	PositionTimeout   time.Duration
	ObservationMaxAge time.Duration
	RestartInitial    time.Duration
	RestartMax        time.Duration

	Tracing observability.TracingConfig
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTPAddr:          ":8080",
		GRPCAddr:          ":50051",
		MetricsAddr:       ":9090",
		LogLevel:          "info",
		LogFormat:         "text",
		Source:            SourcePush,
		PositionTimeout:   tracking.DefaultTimeout,
		ObservationMaxAge: presence.DefaultMaxObservationAge,
		RestartInitial:    500 * time.Millisecond,
		RestartMax:        30 * time.Second,
		Tracing:           observability.TracingConfig{ServiceName: "geofenced", Exporter: "stdout", SampleRatio: 1},
	}
}

// Load reads the given .env files, if they exist, then the environment.
// Variables already present in the environment win over file values.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from GEOFENCE_* variables plus LOG_LEVEL and
// LOG_FORMAT.
func FromEnv() (Config, error) {
	cfg := Default()

	cfg.HTTPAddr = envString("GEOFENCE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.GRPCAddr = envString("GEOFENCE_GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = envString("GEOFENCE_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("LOG_FORMAT", cfg.LogFormat)
	cfg.AreasFile = envString("GEOFENCE_AREAS_FILE", "")
	cfg.AdminToken = envString("GEOFENCE_ADMIN_TOKEN", "")
	cfg.Source = strings.ToLower(envString("GEOFENCE_POSITION_SOURCE", cfg.Source))

	var err error
	if cfg.PositionTimeout, err = envDuration("GEOFENCE_POSITION_TIMEOUT", cfg.PositionTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ObservationMaxAge, err = envDuration("GEOFENCE_OBSERVATION_MAX_AGE", cfg.ObservationMaxAge); err != nil {
		return Config{}, err
	}
	if cfg.RestartInitial, err = envDuration("GEOFENCE_RESTART_INITIAL", cfg.RestartInitial); err != nil {
		return Config{}, err
	}
	if cfg.RestartMax, err = envDuration("GEOFENCE_RESTART_MAX", cfg.RestartMax); err != nil {
		return Config{}, err
	}

	cfg.Tracing = observability.TracingConfigFromEnv()

	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Source {
	case SourcePush, SourceSimulated:
	default:
		return fmt.Errorf("config: GEOFENCE_POSITION_SOURCE must be %q or %q, got %q", SourcePush, SourceSimulated, c.Source)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("config: GEOFENCE_HTTP_ADDR must not be empty")
	}
	if c.PositionTimeout <= 0 {
		return fmt.Errorf("config: GEOFENCE_POSITION_TIMEOUT must be positive")
	}
	if c.RestartMax < c.RestartInitial {
		return fmt.Errorf("config: GEOFENCE_RESTART_MAX (%s) is below GEOFENCE_RESTART_INITIAL (%s)", c.RestartMax, c.RestartInitial)
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

// envDuration accepts Go durations ("5s") or a bare number of seconds.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := envString(key, "")
	if raw == "" {
		return def, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid duration %q", key, raw)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

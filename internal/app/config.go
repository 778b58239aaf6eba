package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Route-Sim/VISTA-sub000/internal/backoff"
	"github.com/Route-Sim/VISTA-sub000/internal/client"
	"github.com/Route-Sim/VISTA-sub000/internal/journal"
	"github.com/Route-Sim/VISTA-sub000/internal/observability"
	"github.com/Route-Sim/VISTA-sub000/internal/telemetry"
	"github.com/Route-Sim/VISTA-sub000/logging"
	"github.com/Route-Sim/VISTA-sub000/logging/sinks"
)

// Environment overrides applied on top of the config file.
const (
	EnvURL            = "VISTA_URL"
	EnvHistory        = "VISTA_HISTORY"
	EnvStrict         = "VISTA_STRICT"
	EnvLogSinks       = "VISTA_LOG_SINKS"
	EnvLogLevel       = "VISTA_LOG_LEVEL"
	EnvMetricsAddr    = "VISTA_METRICS_ADDR"
	EnvRequestTimeout = "VISTA_REQUEST_TIMEOUT"
)

// Config is the full mirror configuration.
type Config struct {
	URL           string               `yaml:"url"`
	Backoff       backoff.Config       `yaml:"backoff"`
	Request       RequestConfig        `yaml:"request"`
	Store         StoreConfig          `yaml:"store"`
	Logging       LoggingConfig        `yaml:"logging"`
	Observability observability.Config `yaml:"observability"`
}

type RequestConfig struct {
	// Timeout bounds each correlated request. Zero selects
	// client.DefaultTimeout; a negative value disables the timer.
	Timeout    time.Duration `yaml:"timeout"`
	MaxPending int           `yaml:"max_pending"`
	SendRate   float64       `yaml:"send_rate"`
	SendBurst  int           `yaml:"send_burst"`
}

type StoreConfig struct {
	History         int     `yaml:"history"`
	Strict          bool    `yaml:"strict"`
	SpeedMultiplier float64 `yaml:"speed_multiplier"`
}

type LoggingConfig struct {
	Sinks       []string `yaml:"sinks"`
	MinSeverity string   `yaml:"min_severity"`
	JSONPath    string   `yaml:"json_path"`
	Prefix      string   `yaml:"prefix"`
}

// DefaultConfig returns a config that connects to a local simulation.
func DefaultConfig() Config {
	return Config{
		URL:     "ws://localhost:8000/ws",
		Backoff: backoff.DefaultConfig(),
		Request: RequestConfig{
			Timeout: client.DefaultTimeout,
		},
		Store: StoreConfig{
			History:         journal.DefaultCapacity,
			SpeedMultiplier: 1,
		},
		Logging: LoggingConfig{
			Sinks:       []string{sinks.NameConsole},
			MinSeverity: logging.SeverityInfo.String(),
		},
		Observability: observability.Config{
			Tracing: observability.DefaultTracingConfig(),
		},
	}
}

// LoadConfig reads path over the defaults, then applies environment
// overrides. An empty path skips the file.
func LoadConfig(path string, logger telemetry.Logger) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	ApplyEnv(&cfg, os.Getenv, logger)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(raw []byte, cfg *Config) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

// ApplyEnv overrides cfg from getenv. Invalid values are logged and ignored.
func ApplyEnv(cfg *Config, getenv func(string) string, logger telemetry.Logger) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if raw := getenv(EnvURL); raw != "" {
		cfg.URL = raw
	}
	if raw := getenv(EnvHistory); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.Store.History = value
		} else {
			logger.Printf("invalid %s=%q: must be a positive integer", EnvHistory, raw)
		}
	}
	if raw := getenv(EnvStrict); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.Store.Strict = value
		} else {
			logger.Printf("invalid %s=%q: %v", EnvStrict, raw, err)
		}
	}
	if raw := getenv(EnvLogSinks); raw != "" {
		var names []string
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
		cfg.Logging.Sinks = names
	}
	if raw := getenv(EnvLogLevel); raw != "" {
		if _, err := logging.ParseSeverity(raw); err == nil {
			cfg.Logging.MinSeverity = raw
		} else {
			logger.Printf("invalid %s=%q: %v", EnvLogLevel, raw, err)
		}
	}
	if raw := getenv(EnvMetricsAddr); raw != "" {
		cfg.Observability.MetricsAddr = raw
	}
	if raw := getenv(EnvRequestTimeout); raw != "" {
		if value, err := time.ParseDuration(raw); err == nil {
			cfg.Request.Timeout = value
		} else {
			logger.Printf("invalid %s=%q: %v", EnvRequestTimeout, raw, err)
		}
	}
}

// Validate reports configuration the mirror cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.URL == "" {
		errs = append(errs, errors.New("url is required"))
	} else if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		errs = append(errs, fmt.Errorf("url %q must use ws:// or wss://", c.URL))
	}
	if c.Request.MaxPending < 0 {
		errs = append(errs, fmt.Errorf("request.max_pending %d is negative", c.Request.MaxPending))
	}
	if c.Request.SendRate < 0 {
		errs = append(errs, fmt.Errorf("request.send_rate %v is negative", c.Request.SendRate))
	}
	if c.Store.History < 0 {
		errs = append(errs, fmt.Errorf("store.history %d is negative", c.Store.History))
	}
	if c.Store.SpeedMultiplier < 0 {
		errs = append(errs, fmt.Errorf("store.speed_multiplier %v is negative", c.Store.SpeedMultiplier))
	}
	if _, err := c.Logging.routerConfig(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c LoggingConfig) routerConfig() (logging.Config, error) {
	cfg := logging.DefaultConfig()
	severity, err := logging.ParseSeverity(c.MinSeverity)
	if err != nil {
		return cfg, fmt.Errorf("logging.min_severity: %w", err)
	}
	cfg.MinimumSeverity = severity
	if c.Sinks != nil {
		cfg.EnabledSinks = append([]string(nil), c.Sinks...)
	}
	for _, name := range cfg.EnabledSinks {
		switch name {
		case sinks.NameConsole, sinks.NameJSON, sinks.NameMemory, sinks.NameZap:
		default:
			return cfg, fmt.Errorf("logging.sinks: unknown sink %q", name)
		}
	}
	cfg.JSON.FilePath = c.JSONPath
	cfg.Console.Prefix = c.Prefix
	return cfg, nil
}

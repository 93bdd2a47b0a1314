// Package config resolves the gateway configuration once at startup.
//
// Resolution is layered: built-in defaults, then an optional YAML file, then
// KNOTGATE_* environment variables. The result is validated and handed out as a
// single *Config that callers treat as read-only.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/knotgate/internal/admission"
)

// EnvPrefix is the prefix for environment overrides. Nested keys are separated
// by a double underscore, e.g. KNOTGATE_ADMISSION__DROPREQUESTS=true.
const EnvPrefix = "KNOTGATE_"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Admission AdmissionConfig `koanf:"admission"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Storage   StorageConfig   `koanf:"storage"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Routes    []RouteConfig   `koanf:"routes"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	RequestTimeout  time.Duration `koanf:"requestTimeout"`
	ShutdownTimeout time.Duration `koanf:"shutdownTimeout"`
}

// AdmissionConfig mirrors the admission options as they appear in config files.
type AdmissionConfig struct {
	DropRequests               bool   `koanf:"dropRequests"`
	DropRequestResponseCode    int    `koanf:"dropRequestResponseCode"`
	BackpressureBufferCapacity int    `koanf:"backpressureBufferCapacity"`
	BackpressureStrategy       string `koanf:"backpressureStrategy"`
	Workers                    int    `koanf:"workers"`
}

// Policy converts the file options into the admission policy configuration.
func (a AdmissionConfig) Policy() (admission.Config, error) {
	strategy, err := admission.ParseOverflowStrategy(a.BackpressureStrategy)
	if err != nil {
		return admission.Config{}, err
	}
	cfg := admission.Config{
		DropRequests:     a.DropRequests,
		DropResponseCode: a.DropRequestResponseCode,
		BufferCapacity:   a.BackpressureBufferCapacity,
		Strategy:         strategy,
		Workers:          a.Workers,
	}
	if err := cfg.Validate(); err != nil {
		return admission.Config{}, err
	}
	return cfg, nil
}

type PipelineConfig struct {
	// FailureStatusCode is answered for a FAILED request whose draft status is still below 400.
	FailureStatusCode int `koanf:"failureStatusCode"`
}

type StorageConfig struct {
	Type       string         `koanf:"type"`       // memory, sql, none
	MaxRecords int            `koanf:"maxRecords"` // memory only; 0 keeps everything
	Database   DatabaseConfig `koanf:"database"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

type TelemetryConfig struct {
	ServiceName string  `koanf:"serviceName"`
	Exporter    string  `koanf:"exporter"` // stdout, otlp, otlpgrpc, none
	Endpoint    string  `koanf:"endpoint"` // otlp exporters only
	SampleRate  float64 `koanf:"sampleRate"`
}

// RouteConfig binds a path pattern to an ordered handler pipeline.
type RouteConfig struct {
	Path     string          `koanf:"path"`
	Methods  []string        `koanf:"methods"`
	Handlers []HandlerConfig `koanf:"handlers"`
}

// HandlerConfig configures one pipeline handler.
type HandlerConfig struct {
	ID      string            `koanf:"id"`
	Type    string            `koanf:"type"`
	Order   int               `koanf:"order"`
	Options map[string]string `koanf:"options"`
}

var defaults = map[string]any{
	"server.port":                          8080,
	"server.requestTimeout":                "30s",
	"server.shutdownTimeout":               "15s",
	"admission.dropRequests":               false,
	"admission.dropRequestResponseCode":    admission.DefaultDropResponseCode,
	"admission.backpressureBufferCapacity": admission.DefaultBufferCapacity,
	"admission.backpressureStrategy":       string(admission.DefaultStrategy),
	"admission.workers":                    admission.DefaultWorkers,
	"pipeline.failureStatusCode":           http.StatusInternalServerError,
	"storage.type":                         "memory",
	"storage.maxRecords":                   10000,
	"storage.database.driver":              "sqlite",
	"storage.database.dsn":                 "./data/knotgate.db",
	"telemetry.serviceName":                "knotgate",
	"telemetry.exporter":                   "none",
	"telemetry.sampleRate":                 1.0,
}

// canonicalKeys maps lowercased keys to their configured spelling so environment
// variables, which are case-insensitive in practice, land on the right option.
var canonicalKeys = func() map[string]string {
	m := make(map[string]string, len(defaults)+1)
	for k := range defaults {
		m[strings.ToLower(k)] = k
	}
	m["telemetry.endpoint"] = "telemetry.endpoint"
	return m
}()

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load resolves configuration from defaults, the YAML file at path (optional;
// a missing file is not an error) and the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	// Default values
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Storage.Database.DSN = substituteEnvVars(cfg.Storage.Database.DSN)
	cfg.Telemetry.Endpoint = substituteEnvVars(cfg.Telemetry.Endpoint)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	if canonical, ok := canonicalKeys[key]; ok {
		return canonical
	}
	return key
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.requestTimeout must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdownTimeout must be positive")
	}
	if _, err := c.Admission.Policy(); err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	if code := c.Pipeline.FailureStatusCode; code < 400 || code > 599 {
		return fmt.Errorf("pipeline.failureStatusCode must be a 4xx or 5xx status, got %d", code)
	}

	switch c.Storage.Type {
	case "memory", "none":
	case "sql":
		if c.Storage.Database.DSN == "" {
			return errors.New("storage.database.dsn is required for sql storage")
		}
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}

	switch c.Telemetry.Exporter {
	case "stdout", "none":
	case "otlp", "otlpgrpc":
		if c.Telemetry.Endpoint == "" {
			return errors.New("telemetry.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	if r := c.Telemetry.SampleRate; r < 0 || r > 1 {
		return fmt.Errorf("telemetry.sampleRate must be between 0 and 1, got %v", r)
	}

	for i, r := range c.Routes {
		if !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("routes[%d]: path %q must start with /", i, r.Path)
		}
		for j, h := range r.Handlers {
			if h.Type == "" {
				return fmt.Errorf("routes[%d].handlers[%d]: type is required", i, j)
			}
		}
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultEnvFile         = ".env"
	defaultPort            = "8080"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLookupTimeout   = 5 * time.Second
	defaultPurchaseTimeout = 15 * time.Second
	defaultLogLevel        = "info"
	defaultSessionIdle     = 30 * time.Minute
	defaultSessionSweep    = time.Minute
)

// Config captures runtime configuration for the register front end.
type Config struct {
	Server  ServerConfig
	Backend BackendConfig
	Station StationConfig
	Session SessionConfig
	Logging LoggingConfig
}

// ServerConfig configures the operator-facing HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// BackendConfig locates the product lookup and purchase endpoints.
type BackendConfig struct {
	BaseURL         string
	LookupTimeout   time.Duration
	PurchaseTimeout time.Duration
}

// StationConfig supplies defaults for sessions opened without explicit station context.
type StationConfig struct {
	EmployeeCode string
	StoreCode    string
	RegisterNo   string
}

// SessionConfig controls expiry of sessions the register UI abandoned without closing. A zero
// IdleTimeout or SweepInterval disables expiry.
type SessionConfig struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// LoggingConfig controls log verbosity and trace correlation.
type LoggingConfig struct {
	Level          string
	TraceProjectID string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Values in the map take precedence over system
// environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles configuration from defaults, the .env file, the process environment and any
// explicit map, in increasing order of precedence.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "POS_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "POS_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "POS_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "POS_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "POS_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Backend: BackendConfig{
			BaseURL:         strings.TrimRight(stringWithDefault(lookup, "POS_BACKEND_BASE_URL", ""), "/"),
			LookupTimeout:   durationWithDefault(lookup, "POS_BACKEND_LOOKUP_TIMEOUT", defaultLookupTimeout),
			PurchaseTimeout: durationWithDefault(lookup, "POS_BACKEND_PURCHASE_TIMEOUT", defaultPurchaseTimeout),
		},
		Station: StationConfig{
			EmployeeCode: stringWithDefault(lookup, "POS_STATION_EMPLOYEE_CODE", ""),
			StoreCode:    stringWithDefault(lookup, "POS_STATION_STORE_CODE", ""),
			RegisterNo:   stringWithDefault(lookup, "POS_STATION_REGISTER_NO", ""),
		},
		Session: SessionConfig{
			IdleTimeout:   durationWithDefault(lookup, "POS_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			SweepInterval: durationWithDefault(lookup, "POS_SESSION_SWEEP_INTERVAL", defaultSessionSweep),
		},
		Logging: LoggingConfig{
			Level:          strings.ToLower(stringWithDefault(lookup, "POS_LOG_LEVEL", defaultLogLevel)),
			TraceProjectID: stringWithDefault(lookup, "POS_TRACE_PROJECT_ID", ""),
		},
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Backend.BaseURL == "" {
		missing = append(missing, "Backend.BaseURL")
	} else if u, err := url.Parse(cfg.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Backend.BaseURL")
	}
	if cfg.Backend.LookupTimeout <= 0 {
		missing = append(missing, "Backend.LookupTimeout")
	}
	if cfg.Backend.PurchaseTimeout <= 0 {
		missing = append(missing, "Backend.PurchaseTimeout")
	}
	if cfg.Session.IdleTimeout < 0 {
		missing = append(missing, "Session.IdleTimeout")
	}
	if cfg.Session.SweepInterval < 0 {
		missing = append(missing, "Session.SweepInterval")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

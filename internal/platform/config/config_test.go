package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"POS_BACKEND_BASE_URL": "http://backend.local:3000/api/",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != defaultReadTimeout {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.BaseURL != "http://backend.local:3000/api" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.LookupTimeout != defaultLookupTimeout {
		t.Errorf("unexpected lookup timeout: %s", cfg.Backend.LookupTimeout)
	}
	if cfg.Backend.PurchaseTimeout != defaultPurchaseTimeout {
		t.Errorf("unexpected purchase timeout: %s", cfg.Backend.PurchaseTimeout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default log level info, got %s", cfg.Logging.Level)
	}
	if cfg.Station.RegisterNo != "" {
		t.Errorf("expected empty register default, got %s", cfg.Station.RegisterNo)
	}
	if cfg.Session.IdleTimeout != defaultSessionIdle || cfg.Session.SweepInterval != defaultSessionSweep {
		t.Errorf("unexpected session expiry defaults %+v", cfg.Session)
	}
}

func TestLoadSessionExpiry(t *testing.T) {
	env := map[string]string{
		"POS_BACKEND_BASE_URL":       "http://backend.local",
		"POS_SESSION_IDLE_TIMEOUT":   "0s",
		"POS_SESSION_SWEEP_INTERVAL": "15s",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Session.IdleTimeout != 0 {
		t.Errorf("expected expiry disabled, got %s", cfg.Session.IdleTimeout)
	}
	if cfg.Session.SweepInterval != 15*time.Second {
		t.Errorf("unexpected sweep interval %s", cfg.Session.SweepInterval)
	}

	env["POS_SESSION_IDLE_TIMEOUT"] = "-5m"
	_, err = Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if fields := vErr.Fields(); len(fields) != 1 || fields[0] != "Session.IdleTimeout" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"POS_SERVER_PORT":              "9090",
		"POS_SERVER_READ_TIMEOUT":      "20s",
		"POS_BACKEND_BASE_URL":         "https://pos.example.com",
		"POS_BACKEND_LOOKUP_TIMEOUT":   "2s",
		"POS_BACKEND_PURCHASE_TIMEOUT": "not-a-duration",
		"POS_STATION_EMPLOYEE_CODE":    "E001",
		"POS_STATION_STORE_CODE":       "S01",
		"POS_STATION_REGISTER_NO":      "3",
		"POS_LOG_LEVEL":                "DEBUG",
		"POS_TRACE_PROJECT_ID":         "hanko-pos",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected read timeout %s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.LookupTimeout != 2*time.Second {
		t.Errorf("unexpected lookup timeout %s", cfg.Backend.LookupTimeout)
	}
	if cfg.Backend.PurchaseTimeout != defaultPurchaseTimeout {
		t.Errorf("invalid duration should fall back, got %s", cfg.Backend.PurchaseTimeout)
	}
	if cfg.Station.EmployeeCode != "E001" || cfg.Station.StoreCode != "S01" || cfg.Station.RegisterNo != "3" {
		t.Errorf("unexpected station %+v", cfg.Station)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected lowercased level, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.TraceProjectID != "hanko-pos" {
		t.Errorf("unexpected trace project %s", cfg.Logging.TraceProjectID)
	}
}

func TestLoadValidation(t *testing.T) {
	env := map[string]string{
		"POS_BACKEND_BASE_URL":       "backend-without-scheme",
		"POS_BACKEND_LOOKUP_TIMEOUT": "-1s",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := vErr.Fields()
	if len(fields) != 2 || fields[0] != "Backend.BaseURL" || fields[1] != "Backend.LookupTimeout" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadMissingBaseURL(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestLoadDotEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# register 3\nexport POS_BACKEND_BASE_URL=\"http://dotenv.local\"\nPOS_STATION_REGISTER_NO=7\nPOS_SERVER_PORT='7070'\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithEnvFile(path),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"POS_STATION_REGISTER_NO": "9"}),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "http://dotenv.local" {
		t.Errorf("expected dotenv base url, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected dotenv port, got %s", cfg.Server.Port)
	}
	if cfg.Station.RegisterNo != "9" {
		t.Errorf("explicit map must win over dotenv, got %s", cfg.Station.RegisterNo)
	}
}

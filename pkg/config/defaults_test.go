package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittoboot/pkg/snapshot"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_Modules(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Modules.StartAttempts != 3 {
		t.Errorf("Expected default start attempts 3, got %d", cfg.Modules.StartAttempts)
	}
	if cfg.Modules.StartBackoff != 200*time.Millisecond {
		t.Errorf("Expected default start backoff 200ms, got %v", cfg.Modules.StartBackoff)
	}
	if cfg.Workers.PoolSize != 0 {
		t.Errorf("Expected pool size to stay 0 (one per CPU), got %d", cfg.Workers.PoolSize)
	}
}

func TestApplyDefaults_Probe(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Probe.Port != 9090 {
		t.Errorf("Expected default probe port 9090, got %d", cfg.Probe.Port)
	}
	if cfg.Probe.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.Probe.ReadTimeout)
	}
	if cfg.Probe.WriteTimeout != 10*time.Second {
		t.Errorf("Expected default write timeout 10s, got %v", cfg.Probe.WriteTimeout)
	}
	if cfg.Probe.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.Probe.IdleTimeout)
	}
	if cfg.Probe.GoroutineThreshold != 10000 {
		t.Errorf("Expected default goroutine threshold 10000, got %d", cfg.Probe.GoroutineThreshold)
	}
}

func TestApplyDefaults_Snapshots(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Snapshots.Backend != snapshot.BackendFile {
		t.Errorf("Expected default snapshot backend 'file', got %q", cfg.Snapshots.Backend)
	}
	want := filepath.Join(GetConfigDir(), "snapshots")
	if cfg.Snapshots.File.Dir != want {
		t.Errorf("Expected snapshot dir %q, got %q", want, cfg.Snapshots.File.Dir)
	}
}

func TestApplyDefaults_TrimsKernel(t *testing.T) {
	cfg := &Config{Kernel: "  standard \n"}
	ApplyDefaults(cfg)

	if cfg.Kernel != "standard" {
		t.Errorf("Expected trimmed kernel 'standard', got %q", cfg.Kernel)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "stderr",
		},
		ShutdownTimeout: 5 * time.Second,
		Modules: ModulesConfig{
			StartAttempts: 7,
			StartBackoff:  time.Second,
		},
		Probe: ProbeConfig{Port: 8181},
	}
	ApplyDefaults(cfg)

	// Level is normalized to uppercase
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Expected output 'stderr', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Modules.StartAttempts != 7 {
		t.Errorf("Expected start attempts 7, got %d", cfg.Modules.StartAttempts)
	}
	if cfg.Modules.StartBackoff != time.Second {
		t.Errorf("Expected start backoff 1s, got %v", cfg.Modules.StartBackoff)
	}
	if cfg.Probe.Port != 8181 {
		t.Errorf("Expected probe port 8181, got %d", cfg.Probe.Port)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

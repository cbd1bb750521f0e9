package config

import "strings"

// Property documents one well-known configuration key.
type Property struct {
	Key         string `json:"key" yaml:"key"`
	Env         string `json:"env" yaml:"env"`
	Default     string `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description" yaml:"description"`
}

// EnvName returns the environment variable overriding key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Properties lists the keys read by the runtime itself. Plugins document
// their own keys under plugins.<name>.
func Properties() []Property {
	props := []Property{
		{Key: "kernel", Description: "Kernel to run when more than one is registered"},
		{Key: "shutdown_timeout", Default: "30s", Description: "Bound on kernel termination and module unload"},
		{Key: "workers.pool_size", Default: "0", Description: "Concurrent early module loads (0: one per logical CPU)"},
		{Key: "modules.start_attempts", Default: "3", Description: "Attempts when restarting a stopped early module"},
		{Key: "modules.start_backoff", Default: "200ms", Description: "Initial delay between start attempts"},
		{Key: "logging.level", Default: "INFO", Description: "DEBUG, INFO, WARN or ERROR"},
		{Key: "logging.format", Default: "text", Description: "text or json"},
		{Key: "logging.output", Default: "stdout", Description: "stdout, stderr or a file path"},
		{Key: "metrics.enabled", Default: "false", Description: "Collect Prometheus metrics"},
		{Key: "probe.enabled", Default: "false", Description: "Serve health, metrics and status over HTTP"},
		{Key: "probe.port", Default: "9090", Description: "Probe server port"},
		{Key: "telemetry.enabled", Default: "false", Description: "Export traces over OTLP"},
		{Key: "snapshots.backend", Default: "file", Description: "file, badger, sqlite or postgres"},
	}
	for i := range props {
		props[i].Env = EnvName(props[i].Key)
	}
	return props
}

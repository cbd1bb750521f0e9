package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittoboot Configuration File
#
# Every key can be overridden with an environment variable named after its
# path: logging.level -> DITTOBOOT_LOGGING_LEVEL, kernel -> DITTOBOOT_KERNEL.
#
# kernel: name of the kernel to run when more than one is registered
#         (list them with "dittoboot modules").
# plugins: free-form settings read by plugins, e.g.
#   plugins:
#     pidfile:
#       path: /run/dittoboot.pid

`

// InitConfig writes a default configuration file at the default location
// and returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file at path.
func InitConfigToPath(path string, force bool) error {
	return WriteInitialConfig(path, GetDefaultConfig(), force)
}

// WriteInitialConfig writes cfg with an explanatory header. It refuses to
// overwrite an existing file unless force is set.
func WriteInitialConfig(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

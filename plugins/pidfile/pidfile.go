// Package pidfile provides an early module that records the process ID in a
// file for the lifetime of the boot.
//
// Settings (plugins.pidfile):
//
//	path: file to write (default: <temp dir>/dittoboot.pid)
package pidfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/config"
)

// Name is the module identifier.
const Name = "pidfile"

func init() {
	bios.Register(capability.Descriptor{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Writes the process ID to a file",
	}, func() bios.Module { return New() })
}

// DefaultPath returns the path used when none is configured.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), "dittoboot.pid")
}

// Module writes the PID file on Load and removes it on Unload.
type Module struct {
	path string
	pid  int
}

// New returns an unloaded module.
func New() *Module {
	return &Module{}
}

// Path returns the file written by Load, or "" before Load.
func (m *Module) Path() string {
	return m.path
}

// Load writes the current PID.
func (m *Module) Load(ctx context.Context, _ []string) error {
	path := config.FromContext(ctx).Sub("plugins." + Name).String("path", DefaultPath())
	if path == "" {
		return errors.New("pidfile: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("pidfile: create directory: %w", err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", path, err)
	}

	m.path, m.pid = path, pid
	logger.DebugCtx(ctx, "PID file written", logger.KeyPath, path, "pid", pid)
	return nil
}

// Unload removes the file if it still holds our PID.
func (m *Module) Unload(ctx context.Context) error {
	if m.path == "" {
		return nil
	}

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pidfile: read %s: %w", m.path, err)
	}
	if got, err := strconv.Atoi(string(bytes.TrimSpace(data))); err != nil || got != m.pid {
		logger.WarnCtx(ctx, "PID file was replaced, leaving it in place", logger.KeyPath, m.path)
		return nil
	}

	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("pidfile: remove %s: %w", m.path, err)
	}
	logger.DebugCtx(ctx, "PID file removed", logger.KeyPath, m.path)
	return nil
}

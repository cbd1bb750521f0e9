// Package heartbeat provides a kernel module that logs a periodic heartbeat
// while the kernel runs.
//
// Settings (plugins.heartbeat):
//
//	interval: time between heartbeats (default: 1m, 0 disables)
package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/config"
	"github.com/marmos91/dittoboot/pkg/kernel"
	"github.com/marmos91/dittoboot/pkg/worker"
)

// Name is the module identifier.
const Name = "heartbeat"

// DefaultInterval is used when no interval is configured.
const DefaultInterval = time.Minute

var workers = worker.NewFactory(Name)

func init() {
	kernel.RegisterModule(capability.Descriptor{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Logs a periodic heartbeat while the kernel runs",
	}, func() kernel.Module { return New() })
}

// Module runs one heartbeat worker between Load and Unload.
type Module struct {
	beats atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an unloaded module.
func New() *Module {
	return &Module{}
}

// Beats returns how many heartbeats were logged.
func (m *Module) Beats() uint64 {
	return m.beats.Load()
}

// Load starts the heartbeat worker.
func (m *Module) Load(ctx context.Context) error {
	interval := config.FromContext(ctx).Sub("plugins."+Name).Duration("interval", DefaultInterval)
	if interval <= 0 {
		logger.DebugCtx(ctx, "Heartbeat disabled")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return nil
	}

	// The worker outlives Load, so it must not inherit its cancellation.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	start := time.Now()
	workers.NewWorker(func(ctx context.Context) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n := m.beats.Add(1)
				logger.DebugCtx(ctx, "Heartbeat", "beat", n, "uptime", time.Since(start).Round(time.Second).String())
			}
		}
	}).Go(runCtx)
	return nil
}

// Unload stops the worker and waits for it within ctx.
func (m *Module) Unload(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package app

import (
	"context"
	"time"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/control"
)

var _ control.Host = (*Application)(nil)

// RestartKernel asks the running kernel to terminate; Run then resolves and
// initializes a kernel again. It returns once the request is recorded, so a
// kernel may call it from inside its own Init.
func (a *Application) RestartKernel(ctx context.Context) error {
	if a.terminating.Load() {
		return ErrTerminating
	}

	a.mu.RLock()
	run := a.current
	a.mu.RUnlock()
	if run == nil {
		return ErrNoActiveKernel
	}

	if !a.restart.CompareAndSwap(false, true) {
		return nil
	}
	logger.InfoCtx(ctx, "Kernel restart requested", logger.Kernel(run.name))

	go func() {
		termCtx, cancel := a.terminationContext()
		defer cancel()
		if err := run.terminate(termCtx); err != nil {
			logger.Warn("Kernel termination failed", logger.Kernel(run.name), logger.Err(err))
		}
	}()
	return nil
}

// StopModule unloads one early module.
func (a *Application) StopModule(ctx context.Context, module string) error {
	l, err := a.activeLoader()
	if err != nil {
		return err
	}
	return l.StopModule(ctx, module)
}

// StartModule loads again a stopped early module.
func (a *Application) StartModule(ctx context.Context, module string) error {
	l, err := a.activeLoader()
	if err != nil {
		return err
	}
	return l.StartModule(ctx, module)
}

func (a *Application) activeLoader() (*bios.Loader, error) {
	if a.terminating.Load() {
		return nil, ErrTerminating
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.loader == nil {
		return nil, ErrNotRunning
	}
	return a.loader, nil
}

// Status is a point-in-time view of the application.
type Status struct {
	RunID       string        `json:"run_id"`
	Kernel      string        `json:"kernel,omitempty"`
	KernelSince time.Time     `json:"kernel_since,omitzero"`
	Restarts    int           `json:"restarts"`
	Ready       bool          `json:"ready"`
	Terminating bool          `json:"terminating"`
	Modules     []bios.Status `json:"modules"`
}

// Status returns the current state. Ready means every early module finished
// loading and a kernel is running.
func (a *Application) Status() Status {
	a.mu.RLock()
	l, run := a.loader, a.current
	a.mu.RUnlock()

	st := Status{
		RunID:       a.runID,
		Restarts:    int(a.restarts.Load()),
		Terminating: a.terminating.Load(),
		Modules:     []bios.Status{},
	}
	if run != nil {
		st.Kernel = run.name
		st.KernelSince = run.since
	}
	if l != nil {
		st.Modules = l.Modules()
		st.Ready = l.Ready() && run != nil && !st.Terminating
	}
	return st
}

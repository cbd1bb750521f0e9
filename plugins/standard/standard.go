// Package standard provides the built-in kernel. It loads every registered
// kernel module, then blocks until it is terminated, and unloads the modules
// on its way out. Its controller forwards lifecycle operations to the
// orchestrator.
package standard

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/control"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

// Name is the kernel identifier.
const Name = "standard"

func init() {
	kernel.Register(capability.Descriptor{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Loads the kernel modules and runs until terminated",
	}, func() kernel.Kernel { return New(kernel.ModuleRegistry()) })
}

// Kernel is the standard kernel.
type Kernel struct {
	modules *capability.Registry[kernel.Module]
	ctrl    *control.HostController

	mu      sync.Mutex
	started bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
	loaded  []capability.Provider[kernel.Module]
}

var _ kernel.Kernel = (*Kernel)(nil)

// New returns a kernel loading the modules of reg.
func New(reg *capability.Registry[kernel.Module]) *Kernel {
	return &Kernel{
		modules: reg,
		ctrl:    control.NewHostController(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Controller implements kernel.Kernel.
func (k *Kernel) Controller() control.Controller {
	return k.ctrl
}

// Loaded returns the names of the kernel modules that loaded successfully
// and are not unloaded yet.
func (k *Kernel) Loaded() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	names := make([]string, len(k.loaded))
	for i, p := range k.loaded {
		names[i] = p.Name
	}
	sort.Strings(names)
	return names
}

// Init loads the kernel modules and blocks until Terminate is called or ctx
// ends. A module that fails to load is logged and left out; it never stops
// the kernel.
func (k *Kernel) Init(ctx context.Context) error {
	k.mu.Lock()
	if k.stopped {
		k.mu.Unlock()
		return nil
	}
	k.started = true
	k.mu.Unlock()
	defer close(k.done)

	k.load(ctx)
	logger.InfoCtx(ctx, "Kernel running", logger.KeyModules, len(k.Loaded()))

	select {
	case <-k.stop:
	case <-ctx.Done():
	}

	// Unloading must finish even though ctx may be cancelled.
	k.unload(context.WithoutCancel(ctx))
	return nil
}

// Terminate stops a running Init and waits for it to return.
func (k *Kernel) Terminate(ctx context.Context) error {
	k.mu.Lock()
	if !k.stopped {
		k.stopped = true
		close(k.stop)
	}
	started := k.started
	k.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-k.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *Kernel) load(ctx context.Context) {
	providers := k.modules.Providers()

	p := pool.New().WithErrors()
	for _, prov := range providers {
		p.Go(func() error {
			mctx := logger.Annotate(ctx, func(lc *logger.LogContext) *logger.LogContext {
				return lc.WithModule(prov.Name)
			})
			start := time.Now()
			if err := call(func() error { return prov.Instance.Load(mctx) }); err != nil {
				err = &bios.ModuleError{Op: bios.OpLoad, Module: prov.Name, Err: err}
				logger.WarnCtx(mctx, "Kernel module failed to load", logger.Err(err))
				return err
			}
			logger.DebugCtx(mctx, "Kernel module loaded", logger.DurationMs(start))

			k.mu.Lock()
			k.loaded = append(k.loaded, prov)
			k.mu.Unlock()
			return nil
		})
	}
	_ = p.Wait()
}

func (k *Kernel) unload(ctx context.Context) {
	k.mu.Lock()
	loaded := k.loaded
	k.loaded = nil
	k.mu.Unlock()

	p := pool.New().WithErrors()
	for _, prov := range loaded {
		p.Go(func() error {
			if err := call(func() error { return prov.Instance.Unload(ctx) }); err != nil {
				err = &bios.ModuleError{Op: bios.OpUnload, Module: prov.Name, Err: err}
				logger.WarnCtx(ctx, "Kernel module failed to unload", logger.Err(err))
				return err
			}
			return nil
		})
	}
	if err := p.Wait(); err == nil {
		logger.DebugCtx(ctx, "Kernel modules unloaded", logger.KeyModules, len(loaded))
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &bios.PanicError{Value: r}
		}
	}()
	return fn()
}

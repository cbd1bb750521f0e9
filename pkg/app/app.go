// Package app orchestrates a boot: it loads the early modules, resolves and
// runs one kernel, and unloads everything on the way out, including when the
// process receives a termination signal.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/internal/telemetry"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/control"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

// DefaultShutdownTimeout bounds kernel termination and module unload.
const DefaultShutdownTimeout = 30 * time.Second

var (
	ErrAlreadyRunning = errors.New("application already running")
	ErrNotRunning     = errors.New("application not running")
	ErrNoActiveKernel = errors.New("no active kernel")
	ErrTerminating    = errors.New("application is terminating")
)

// AuxiliaryServer is a side server (health, metrics) whose lifetime spans
// the whole boot.
type AuxiliaryServer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Port() int
}

// Metrics receives kernel lifecycle events. A nil Metrics disables collection.
type Metrics interface {
	KernelStarted(name string)
	KernelStopped(name string, uptime time.Duration)
	KernelRestarted(name string)
	ResolutionFailed(reason string)
}

// Options configures an Application. Zero values select the defaults.
type Options struct {
	// Modules defaults to bios.DefaultRegistry().
	Modules *capability.Registry[bios.Module]

	// Kernels defaults to kernel.DefaultRegistry().
	Kernels *capability.Registry[kernel.Kernel]

	// Values provides the preferred kernel identifier.
	Values kernel.Values

	// Args is handed to every early module Load.
	Args []string

	// Signals trigger abrupt termination. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	// DisableSignals turns off signal handling; Trigger and parent context
	// cancellation still work.
	DisableSignals bool

	ShutdownTimeout time.Duration

	// Register receives the active controller. Defaults to control.Default().
	Register *control.Register

	LoaderOptions []bios.Option
	Metrics       Metrics
	Auxiliary     []AuxiliaryServer
}

// Application runs one boot sequence.
type Application struct {
	opts   Options
	runID  string
	finder *kernel.Finder

	running     atomic.Bool
	terminating atomic.Bool
	restart     atomic.Bool
	restarts    atomic.Int32

	mu       sync.RWMutex
	loader   *bios.Loader
	current  *kernelRun
	cancel   context.CancelFunc
	shutdown context.Context // parent of every termination context

	trigger chan string
}

// New creates an Application.
func New(opts Options) *Application {
	if opts.Modules == nil {
		opts.Modules = bios.DefaultRegistry()
	}
	if opts.Kernels == nil {
		opts.Kernels = kernel.DefaultRegistry()
	}
	if len(opts.Signals) == 0 {
		opts.Signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Register == nil {
		opts.Register = control.Default()
	}

	return &Application{
		opts:    opts,
		runID:   uuid.NewString(),
		finder:  kernel.NewFinder(opts.Kernels, opts.Values),
		trigger: make(chan string, 1),
	}
}

// AddAuxiliary registers a side server started and stopped with Run. It
// must be called before Run.
func (a *Application) AddAuxiliary(srv AuxiliaryServer) error {
	if a.running.Load() {
		return ErrAlreadyRunning
	}
	a.opts.Auxiliary = append(a.opts.Auxiliary, srv)
	return nil
}

// RunID identifies this application instance in logs and traces.
func (a *Application) RunID() string {
	return a.runID
}

// Run executes the boot sequence and blocks until it is over:
//
//  1. install the termination hook
//  2. load every early module in parallel and wait for them
//  3. resolve the kernel, designate its controller, run Init
//  4. terminate the kernel (again from 3 when a restart was requested)
//  5. unload every early module
//
// A resolution failure skips to 5 and is returned. Module failures are
// logged and never abort the sequence.
func (a *Application) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx = logger.WithContext(ctx, logger.NewLogContext(a.runID))
	ctx = control.WithRegister(ctx, a.opts.Register)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel
	a.shutdown = context.WithoutCancel(ctx)
	a.mu.Unlock()

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanBootRun, trace.WithAttributes(telemetry.RunID(a.runID)))
	defer span.End()

	stopHook := a.installHook(ctx)
	defer stopHook()

	a.startAuxiliary(runCtx)
	defer a.stopAuxiliary()

	loader, err := bios.NewLoader(a.opts.Modules, a.opts.Args, a.opts.LoaderOptions...)
	if err != nil {
		return fmt.Errorf("create module loader: %w", err)
	}
	a.mu.Lock()
	a.loader = loader
	a.mu.Unlock()

	logger.InfoCtx(ctx, "Starting boot sequence",
		logger.KeyModules, a.opts.Modules.Len(), logger.KeyPoolSize, loader.PoolSize())

	if err := loader.LoadAll(runCtx); err != nil {
		_ = loader.Close()
		return fmt.Errorf("load early modules: %w", err)
	}
	if err := loader.AwaitReady(runCtx); err != nil {
		logger.WarnCtx(ctx, "Continuing without waiting for every early module", logger.Err(err))
	}

	runErr := a.runKernels(runCtx)
	if runErr != nil {
		telemetry.RecordError(ctx, runErr)
	}

	unloadCtx, cancelUnload := a.terminationContext()
	defer cancelUnload()
	if err := loader.UnloadAll(unloadCtx); err != nil {
		logger.WarnCtx(ctx, "Some early modules failed to unload", logger.Err(err))
	}

	logger.InfoCtx(ctx, "Boot sequence finished", "restarts", a.restarts.Load())
	return runErr
}

// runKernels resolves and runs kernels until one stops without a pending
// restart request.
func (a *Application) runKernels(ctx context.Context) error {
	for {
		if a.terminating.Load() {
			return nil
		}

		p, err := a.finder.Find(ctx)
		if err != nil {
			var rerr *kernel.ResolutionError
			if a.opts.Metrics != nil && errors.As(err, &rerr) {
				a.opts.Metrics.ResolutionFailed(rerr.Reason.String())
			}
			logger.ErrorCtx(ctx, "Kernel resolution failed", logger.Err(err))
			return err
		}

		run := newKernelRun(p.Name, p.Instance)
		initErr, started := a.runKernel(ctx, run)
		if !started {
			return nil
		}

		if a.restart.CompareAndSwap(true, false) && !a.terminating.Load() {
			n := a.restarts.Add(1)
			if a.opts.Metrics != nil {
				a.opts.Metrics.KernelRestarted(run.name)
			}
			logger.InfoCtx(ctx, "Restarting kernel", logger.Kernel(run.name), logger.KeyRestarts, n)
			continue
		}

		if initErr != nil {
			return fmt.Errorf("kernel %s: %w", run.name, initErr)
		}
		return nil
	}
}

// runKernel designates the kernel's controller, runs Init and terminates the
// kernel. started is false when termination was requested before Init.
func (a *Application) runKernel(ctx context.Context, run *kernelRun) (initErr error, started bool) {
	ctrl := run.kernel.Controller()
	if ctrl == nil {
		ctrl = control.None
	}
	if b, ok := ctrl.(control.Binder); ok {
		b.Bind(a)
	}
	lease := a.opts.Register.Designate(ctrl)
	defer a.opts.Register.Release(lease)

	a.mu.Lock()
	a.current = run
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.current = nil
		a.mu.Unlock()
	}()

	// The hook reads current after setting terminating; checking here after
	// publishing current guarantees one of the two sides sees the other.
	if a.terminating.Load() {
		return nil, false
	}

	if a.opts.Metrics != nil {
		a.opts.Metrics.KernelStarted(run.name)
	}
	ctx = logger.Annotate(ctx, func(lc *logger.LogContext) *logger.LogContext {
		return lc.WithKernel(run.name)
	})

	initErr = run.init(ctx)
	if initErr != nil && !a.terminating.Load() && !a.restart.Load() {
		logger.ErrorCtx(ctx, "Kernel stopped with error", logger.Err(initErr))
	}

	termCtx, cancel := a.terminationContext()
	defer cancel()
	if err := run.terminate(termCtx); err != nil {
		logger.WarnCtx(ctx, "Kernel termination failed", logger.Err(err))
	}

	if a.opts.Metrics != nil {
		a.opts.Metrics.KernelStopped(run.name, run.uptime())
	}
	return initErr, true
}

func (a *Application) terminationContext() (context.Context, context.CancelFunc) {
	a.mu.RLock()
	parent := a.shutdown
	a.mu.RUnlock()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, a.opts.ShutdownTimeout)
}

func (a *Application) startAuxiliary(ctx context.Context) {
	for _, srv := range a.opts.Auxiliary {
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Error("Auxiliary server error", "port", srv.Port(), logger.Err(err))
			}
		}()
	}
}

func (a *Application) stopAuxiliary() {
	for _, srv := range a.opts.Auxiliary {
		ctx, cancel := a.terminationContext()
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("Auxiliary server shutdown error", "port", srv.Port(), logger.Err(err))
		}
		cancel()
	}
}

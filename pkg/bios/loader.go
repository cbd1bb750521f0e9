package bios

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/trace"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/internal/telemetry"
	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/worker"
)

// DefaultReleaseTimeout bounds how long the worker pool waits for stray
// tasks when the loader closes.
const DefaultReleaseTimeout = 5 * time.Second

type options struct {
	poolSize       int
	startAttempts  int
	startBackoff   time.Duration
	releaseTimeout time.Duration
	metrics        Metrics
}

// Option configures a Loader.
type Option func(*options)

// WithPoolSize overrides the number of load workers. Zero or less means
// the host's logical CPU count.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithStartAttempts sets how many times StartModule tries Load before giving up.
func WithStartAttempts(n int) Option {
	return func(o *options) { o.startAttempts = n }
}

// WithStartBackoff sets the initial delay between StartModule attempts.
func WithStartBackoff(d time.Duration) Option {
	return func(o *options) { o.startBackoff = d }
}

// WithReleaseTimeout bounds the worker pool shutdown.
func WithReleaseTimeout(d time.Duration) Option {
	return func(o *options) { o.releaseTimeout = d }
}

// WithMetrics installs a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type moduleEntry struct {
	desc   capability.Descriptor
	module Module

	// loaded is closed when the initial Load returns.
	loaded chan struct{}

	// op serializes Unload and restart calls on the module; mu guards the
	// fields below and is never held across module code.
	op       sync.Mutex
	mu       sync.Mutex
	state    State
	err      error
	worker   string
	loadedAt time.Time
}

func (e *moduleEntry) status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Status{
		Name:        e.desc.Name,
		Version:     e.desc.Version,
		Description: e.desc.Description,
		State:       e.state,
		Worker:      e.worker,
		LoadedAt:    e.loadedAt,
	}
	if e.err != nil {
		s.Error = e.err.Error()
	}
	return s
}

// Loader drives one early module set through load and unload.
type Loader struct {
	registry *capability.Registry[Module]
	args     []string
	opts     options
	pool     *worker.Pool

	started atomic.Bool
	closed  atomic.Bool

	mu       sync.RWMutex
	entries  map[string]*moduleEntry
	order    []*moduleEntry
	failures []*ModuleError

	pending sync.WaitGroup
	ready   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewLoader creates a loader for the modules of reg. args is handed to every
// Load call.
func NewLoader(reg *capability.Registry[Module], args []string, opts ...Option) (*Loader, error) {
	o := options{
		startAttempts:  1,
		startBackoff:   100 * time.Millisecond,
		releaseTimeout: DefaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.startAttempts < 1 {
		o.startAttempts = 1
	}

	p, err := worker.NewPool(WorkerPrefix, o.poolSize)
	if err != nil {
		return nil, err
	}

	return &Loader{
		registry: reg,
		args:     append([]string(nil), args...),
		opts:     o,
		pool:     p,
		entries:  make(map[string]*moduleEntry),
		ready:    make(chan struct{}),
	}, nil
}

// PoolSize returns the number of load workers.
func (l *Loader) PoolSize() int {
	return l.pool.Cap()
}

// LoadAll discovers the module set and starts loading every member in
// parallel. It returns as soon as the loads are scheduled; use AwaitReady
// to wait for them.
func (l *Loader) LoadAll(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyLoaded
	}

	providers := l.registry.Providers()

	l.mu.Lock()
	for _, p := range providers {
		e := &moduleEntry{desc: p.Descriptor, module: p.Instance, loaded: make(chan struct{})}
		l.entries[p.Name] = e
		l.order = append(l.order, e)
	}
	entries := l.order
	l.mu.Unlock()

	spanCtx, span := telemetry.StartSpan(ctx, telemetry.SpanBIOSLoadAll, trace.WithAttributes(telemetry.Modules(len(entries))))
	logger.InfoCtx(spanCtx, "Loading early modules", logger.KeyModules, len(entries), logger.KeyPoolSize, l.pool.Cap())

	l.pending.Add(len(entries))
	go func() {
		l.pending.Wait()
		close(l.ready)
		span.End()
		logger.InfoCtx(spanCtx, "Early modules ready", logger.KeyModules, len(entries), "failed", len(l.Failures()))
	}()

	// Submit blocks while every worker is busy, so dispatch off the caller.
	go func() {
		for _, e := range entries {
			if err := l.pool.Submit(spanCtx, func(ctx context.Context) { l.load(ctx, e) }); err != nil {
				l.finishLoad(e, time.Now(), fmt.Errorf("schedule load: %w", err))
			}
		}
	}()

	return nil
}

func (l *Loader) load(ctx context.Context, e *moduleEntry) {
	start := time.Now()
	name, _ := worker.NameFromContext(ctx)

	e.mu.Lock()
	e.worker = name
	e.mu.Unlock()

	ctx = logger.Annotate(ctx, func(lc *logger.LogContext) *logger.LogContext {
		return lc.WithModule(e.desc.Name).WithWorker(name)
	})
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanBIOSLoad, e.desc.Name, telemetry.Worker(name))

	var err error
	defer func() {
		telemetry.EndSpan(span, err)
		l.finishLoad(e, start, err)
	}()

	logger.DebugCtx(ctx, "Loading module")
	err = safeCall(func() error { return e.module.Load(ctx, l.args) })
}

// finishLoad records the outcome of an initial load and counts the barrier
// down. It runs exactly once per entry.
func (l *Loader) finishLoad(e *moduleEntry, start time.Time, err error) {
	defer l.pending.Done()
	defer close(e.loaded)

	e.mu.Lock()
	e.err = err
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateLoaded
		e.loadedAt = time.Now()
	}
	e.mu.Unlock()

	if l.opts.metrics != nil {
		l.opts.metrics.ObserveLoad(e.desc.Name, time.Since(start), err)
	}

	if err != nil {
		l.recordFailure(&ModuleError{Op: OpLoad, Module: e.desc.Name, Err: err})
		logger.Error("Module failed to load", logger.Module(e.desc.Name), logger.Err(err), logger.DurationMs(start))
		return
	}
	logger.Info("Module loaded", logger.Module(e.desc.Name), logger.DurationMs(start))
}

func (l *Loader) recordFailure(err *ModuleError) {
	l.mu.Lock()
	l.failures = append(l.failures, err)
	l.mu.Unlock()
}

// Done returns a channel closed once every module of the set finished its
// initial load.
func (l *Loader) Done() <-chan struct{} {
	return l.ready
}

// Ready reports whether the barrier has cleared.
func (l *Loader) Ready() bool {
	select {
	case <-l.ready:
		return true
	default:
		return false
	}
}

// AwaitReady blocks until every module finished loading. When ctx ends first
// it logs the interruption and returns an error matching both
// ErrAwaitInterrupted and ctx.Err().
func (l *Loader) AwaitReady(ctx context.Context) error {
	if !l.started.Load() {
		return ErrNotLoaded
	}

	select {
	case <-l.ready:
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Interrupted while waiting for early modules", logger.Err(ctx.Err()))
		return fmt.Errorf("%w: %w", ErrAwaitInterrupted, ctx.Err())
	}
}

// UnloadAll unloads every member of the set concurrently, including the
// ones whose load failed. It first waits for the barrier; if ctx ends before
// that, members still loading are skipped and reported with ErrLoadPending.
// Per-module failures are logged and joined into the returned error; they
// never prevent sibling unloads. The worker pool is released afterwards.
func (l *Loader) UnloadAll(ctx context.Context) error {
	defer func() { _ = l.Close() }()

	if !l.started.Load() {
		return nil
	}

	select {
	case <-l.ready:
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Unloading before every module finished loading", logger.Err(ctx.Err()))
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanBIOSUnloadAll)

	l.mu.RLock()
	entries := append([]*moduleEntry(nil), l.order...)
	l.mu.RUnlock()

	p := pool.New().WithErrors().WithMaxGoroutines(max(1, l.pool.Cap()))
	for _, e := range entries {
		p.Go(func() error {
			select {
			case <-e.loaded:
			default:
				err := &ModuleError{Op: OpUnload, Module: e.desc.Name, Err: ErrLoadPending}
				l.recordFailure(err)
				logger.Warn("Skipping unload of module still loading", logger.Module(e.desc.Name))
				return err
			}
			return l.unload(ctx, e, OpUnload, StateLoaded, StateFailed)
		})
	}
	err := p.Wait()

	telemetry.EndSpan(span, err)
	if err != nil {
		logger.WarnCtx(ctx, "Early modules unloaded with errors", logger.Err(err))
	} else {
		logger.InfoCtx(ctx, "Early modules unloaded", logger.KeyModules, len(entries))
	}
	return err
}

// unload calls Unload on e if its state is one of from. Entries already
// unloaded are skipped silently when op is OpUnload.
func (l *Loader) unload(ctx context.Context, e *moduleEntry, op Op, from ...State) error {
	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	if !stateIn(state, from) {
		if op == OpUnload && state == StateUnloaded {
			return nil
		}
		return &ModuleError{Op: op, Module: e.desc.Name, Err: fmt.Errorf("%w: %s", ErrInvalidState, state)}
	}

	ctx = logger.Annotate(ctx, func(lc *logger.LogContext) *logger.LogContext {
		return lc.WithModule(e.desc.Name)
	})
	ctx, span := telemetry.StartModuleSpan(ctx, telemetry.SpanBIOSUnload, e.desc.Name)

	start := time.Now()
	err := safeCall(func() error { return e.module.Unload(ctx) })
	telemetry.EndSpan(span, err)

	e.mu.Lock()
	e.state = StateUnloaded
	e.err = err
	e.mu.Unlock()

	if l.opts.metrics != nil {
		l.opts.metrics.ObserveUnload(e.desc.Name, time.Since(start), err)
	}

	if err != nil {
		merr := &ModuleError{Op: op, Module: e.desc.Name, Err: err}
		l.recordFailure(merr)
		logger.ErrorCtx(ctx, "Module failed to unload", logger.Err(err), logger.DurationMs(start))
		return merr
	}
	logger.InfoCtx(ctx, "Module unloaded", logger.DurationMs(start))
	return nil
}

func stateIn(s State, set []State) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

func (l *Loader) lookup(name string) (*moduleEntry, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	l.mu.RLock()
	e, ok := l.entries[name]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrModuleNotFound, name)
	}
	return e, nil
}

func waitLoaded(ctx context.Context, e *moduleEntry) error {
	select {
	case <-e.loaded:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLoadPending, ctx.Err())
	}
}

// StopModule unloads one loaded (or failed) module.
func (l *Loader) StopModule(ctx context.Context, name string) error {
	e, err := l.lookup(name)
	if err != nil {
		return err
	}
	if err := waitLoaded(ctx, e); err != nil {
		return &ModuleError{Op: OpStop, Module: name, Err: err}
	}

	logger.InfoCtx(ctx, "Stopping module", logger.Module(name))
	return l.unload(ctx, e, OpStop, StateLoaded, StateFailed)
}

// StartModule loads again a module that was stopped. Load is retried with
// exponential backoff up to the configured number of attempts.
func (l *Loader) StartModule(ctx context.Context, name string) error {
	e, err := l.lookup(name)
	if err != nil {
		return err
	}
	if err := waitLoaded(ctx, e); err != nil {
		return &ModuleError{Op: OpStart, Module: name, Err: err}
	}

	e.op.Lock()
	defer e.op.Unlock()

	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != StateUnloaded {
		return &ModuleError{Op: OpStart, Module: name, Err: fmt.Errorf("%w: %s", ErrInvalidState, state)}
	}

	ctx = logger.Annotate(ctx, func(lc *logger.LogContext) *logger.LogContext {
		return lc.WithModule(name)
	})

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = l.opts.startBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(l.opts.startAttempts-1)), ctx)

	attempt := 0
	start := time.Now()
	err = backoff.Retry(func() error {
		attempt++
		err := safeCall(func() error { return e.module.Load(ctx, l.args) })
		if err != nil {
			logger.WarnCtx(ctx, "Module start attempt failed", logger.KeyAttempt, attempt, logger.Err(err))
		}
		return err
	}, b)

	if l.opts.metrics != nil {
		l.opts.metrics.ObserveLoad(name, time.Since(start), err)
	}

	e.mu.Lock()
	e.err = err
	if err != nil {
		e.state = StateFailed
	} else {
		e.state = StateLoaded
		e.loadedAt = time.Now()
	}
	e.mu.Unlock()

	if err != nil {
		merr := &ModuleError{Op: OpStart, Module: name, Err: err}
		l.recordFailure(merr)
		return merr
	}

	logger.InfoCtx(ctx, "Module started", logger.KeyAttempt, attempt, logger.DurationMs(start))
	return nil
}

// Modules returns the status of every member in discovery order.
func (l *Loader) Modules() []Status {
	l.mu.RLock()
	entries := append([]*moduleEntry(nil), l.order...)
	l.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	return out
}

// Failures returns every module failure recorded so far, oldest first.
func (l *Loader) Failures() []*ModuleError {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*ModuleError(nil), l.failures...)
}

// Close releases the worker pool. It is called by UnloadAll and is safe to
// call more than once.
func (l *Loader) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.closeErr = l.pool.Release(l.opts.releaseTimeout)
	})
	return l.closeErr
}

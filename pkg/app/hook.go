package app

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/marmos91/dittoboot/internal/logger"
)

// Trigger requests abrupt termination, as if a termination signal had been
// received. It never blocks; a request made before Run is honored as soon as
// the hook is installed.
func (a *Application) Trigger(reason string) {
	select {
	case a.trigger <- reason:
	default:
	}
}

// installHook starts the goroutine reacting to termination signals, Trigger
// and cancellation of ctx. The returned stop function waits for an in-flight
// termination to finish.
func (a *Application) installHook(ctx context.Context) (stop func()) {
	var sigCh chan os.Signal
	if !a.opts.DisableSignals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, a.opts.Signals...)
	}

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		parent := ctx.Done()
		for {
			select {
			case sig := <-sigCh:
				a.abort(ctx, "signal", logger.KeySignal, sig.String())
			case reason := <-a.trigger:
				a.abort(ctx, reason)
			case <-parent:
				parent = nil
				a.abort(ctx, "context canceled")
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			if sigCh != nil {
				signal.Stop(sigCh)
			}
			close(done)
			<-finished
		})
	}
}

// abort terminates the current kernel, if any, and cancels the run. Only the
// first call has an effect.
func (a *Application) abort(ctx context.Context, reason string, args ...any) {
	args = append([]any{"reason", reason}, args...)
	if !a.terminating.CompareAndSwap(false, true) {
		logger.InfoCtx(ctx, "Termination already in progress", args...)
		return
	}
	logger.WarnCtx(ctx, "Abrupt termination requested", args...)

	a.restart.Store(false)

	a.mu.RLock()
	run := a.current
	cancel := a.cancel
	a.mu.RUnlock()

	if run != nil {
		termCtx, cancelTerm := a.terminationContext()
		if err := run.terminate(termCtx); err != nil {
			logger.WarnCtx(ctx, "Kernel termination failed", logger.Kernel(run.name), logger.Err(err))
		}
		cancelTerm()
	}
	if cancel != nil {
		cancel()
	}
}

package app

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/internal/telemetry"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/kernel"
)

// kernelRun is one resolved kernel between its Init and its Terminate.
// Terminate runs at most once whoever asks first: the normal flow, the
// termination hook or a restart request.
type kernelRun struct {
	name   string
	kernel kernel.Kernel
	since  time.Time

	once    sync.Once
	termErr error
}

func newKernelRun(name string, k kernel.Kernel) *kernelRun {
	return &kernelRun{name: name, kernel: k, since: time.Now()}
}

func (r *kernelRun) init(ctx context.Context) (err error) {
	ctx, span := telemetry.StartKernelSpan(ctx, telemetry.SpanKernelInit, r.name)
	defer func() {
		if rec := recover(); rec != nil {
			err = &bios.PanicError{Value: rec}
		}
		telemetry.EndSpan(span, err)
	}()

	logger.InfoCtx(ctx, "Initializing kernel")
	return r.kernel.Init(ctx)
}

func (r *kernelRun) terminate(ctx context.Context) error {
	r.once.Do(func() {
		ctx, span := telemetry.StartKernelSpan(ctx, telemetry.SpanKernelShutdown, r.name)
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				r.termErr = &bios.PanicError{Value: rec}
			}
			telemetry.EndSpan(span, r.termErr)
		}()

		r.termErr = r.kernel.Terminate(ctx)
		logger.InfoCtx(ctx, "Kernel terminated", logger.Kernel(r.name), logger.DurationMs(start))
	})
	return r.termErr
}

func (r *kernelRun) uptime() time.Duration {
	return time.Since(r.since)
}

package logger

import (
	"context"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds the boot-scoped fields attached to every *Ctx log line.
type LogContext struct {
	RunID   string // Identifier of one Application.Run
	TraceID string // OpenTelemetry trace ID
	SpanID  string // OpenTelemetry span ID
	Kernel  string // Name of the resolved kernel
	Module  string // Early or kernel module name
	Worker  string // Named worker executing the task
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a boot run.
func NewLogContext(runID string) *LogContext {
	return &LogContext{RunID: runID}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	return &c
}

// WithModule returns a copy with the module set
func (lc *LogContext) WithModule(module string) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{}
	}
	c.Module = module
	return c
}

// WithKernel returns a copy with the kernel set
func (lc *LogContext) WithKernel(kernel string) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{}
	}
	c.Kernel = kernel
	return c
}

// WithWorker returns a copy with the worker name set
func (lc *LogContext) WithWorker(worker string) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{}
	}
	c.Worker = worker
	return c
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	c := lc.Clone()
	if c == nil {
		c = &LogContext{}
	}
	c.TraceID = traceID
	c.SpanID = spanID
	return c
}

// Annotate derives ctx with a copy of its LogContext modified by fn.
// A LogContext is created when ctx has none.
func Annotate(ctx context.Context, fn func(*LogContext) *LogContext) context.Context {
	return WithContext(ctx, fn(FromContext(ctx)))
}

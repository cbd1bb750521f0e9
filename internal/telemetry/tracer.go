package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for boot spans.
const (
	AttrRunID    = "boot.run_id"
	AttrModule   = "boot.module"
	AttrModules  = "boot.modules"
	AttrKernel   = "boot.kernel"
	AttrWorker   = "boot.worker"
	AttrRestarts = "boot.restarts"
	AttrOutcome  = "boot.outcome"
)

// Span names.
// Format: <component>.<operation>
const (
	SpanBootRun        = "boot.run"
	SpanBIOSLoadAll    = "bios.load_all"
	SpanBIOSLoad       = "bios.module.load"
	SpanBIOSUnloadAll  = "bios.unload_all"
	SpanBIOSUnload     = "bios.module.unload"
	SpanKernelResolve  = "kernel.resolve"
	SpanKernelInit     = "kernel.init"
	SpanKernelShutdown = "kernel.terminate"
)

// RunID returns the attribute for a run identifier
func RunID(id string) attribute.KeyValue {
	return attribute.String(AttrRunID, id)
}

// Module returns the attribute for a module name
func Module(name string) attribute.KeyValue {
	return attribute.String(AttrModule, name)
}

// Modules returns the attribute for a module set cardinality
func Modules(n int) attribute.KeyValue {
	return attribute.Int(AttrModules, n)
}

// Kernel returns the attribute for a kernel name
func Kernel(name string) attribute.KeyValue {
	return attribute.String(AttrKernel, name)
}

// Worker returns the attribute for a worker name
func Worker(name string) attribute.KeyValue {
	return attribute.String(AttrWorker, name)
}

// Outcome returns "ok" or "error" depending on err
func Outcome(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String(AttrOutcome, "error")
	}
	return attribute.String(AttrOutcome, "ok")
}

// StartModuleSpan starts a span for a single module operation.
func StartModuleSpan(ctx context.Context, name, module string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(append([]attribute.KeyValue{Module(module)}, attrs...)...),
	)
}

// StartKernelSpan starts a span for a kernel lifecycle step.
func StartKernelSpan(ctx context.Context, name, kernel string) (context.Context, trace.Span) {
	return StartSpan(ctx, name, trace.WithAttributes(Kernel(kernel)))
}

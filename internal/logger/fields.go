package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// ========================================================================
	// Boot sequence
	// ========================================================================
	KeyRunID    = "run_id"    // One Application.Run
	KeyModule   = "module"    // Early or kernel module name
	KeyModules  = "modules"   // Number of modules in a set
	KeyKernel   = "kernel"    // Resolved kernel name
	KeyWorker   = "worker"    // Named worker, e.g. bios-module-3
	KeyPhase    = "phase"     // load, await, resolve, init, terminate, unload
	KeyState    = "state"     // Module state: pending, loaded, failed, unloaded
	KeySignal   = "signal"    // OS signal that triggered termination
	KeyRestarts = "restarts"  // Kernel restart count
	KeyPoolSize = "pool_size" // Worker pool capacity

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyAttempt    = "attempt"
	KeyPath       = "path"
	KeyBackend    = "backend" // Snapshot backend: file, badger, sqlite, postgres
	KeySnapshot   = "snapshot"
)

// RunID returns a slog.Attr for the run identifier
func RunID(id string) slog.Attr {
	return slog.String(KeyRunID, id)
}

// Module returns a slog.Attr for a module name
func Module(name string) slog.Attr {
	return slog.String(KeyModule, name)
}

// Kernel returns a slog.Attr for a kernel name
func Kernel(name string) slog.Attr {
	return slog.String(KeyKernel, name)
}

// Worker returns a slog.Attr for a worker name
func Worker(name string) slog.Attr {
	return slog.String(KeyWorker, name)
}

// Phase returns a slog.Attr for the boot phase
func Phase(p string) slog.Attr {
	return slog.String(KeyPhase, p)
}

// DurationMs returns a slog.Attr with the elapsed time since start
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}

// Err returns a slog.Attr for an error; nil errors produce an empty attribute
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

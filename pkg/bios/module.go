// Package bios loads the early module set: independent plugins that must all
// be initialized before a kernel is resolved, and unloaded after it has
// terminated.
//
// Loading is parallel and non-blocking. Progress is tracked by a barrier that
// counts down exactly once per module, whatever the outcome of its Load, so a
// failing or panicking module never stalls the boot sequence.
package bios

import (
	"context"
	"time"

	"github.com/marmos91/dittoboot/pkg/capability"
)

// WorkerPrefix names the goroutines running module loads.
const WorkerPrefix = "bios-module"

// Module is an early module.
//
// Load receives the process arguments. It is called exactly once per boot,
// on a dedicated worker, concurrently with the other modules. Unload is
// called at most once after each Load, including when Load failed, and only
// once every module of the set finished loading.
type Module interface {
	Load(ctx context.Context, args []string) error
	Unload(ctx context.Context) error
}

var registry = capability.NewRegistry[Module](capability.KindEarlyModule)

// DefaultRegistry returns the process registry of early modules.
func DefaultRegistry() *capability.Registry[Module] {
	return registry
}

// Register adds an early module to the process registry. It panics on
// duplicate or invalid names and is meant to be called from init.
func Register(desc capability.Descriptor, factory capability.Factory[Module]) {
	registry.MustRegister(desc, factory)
}

// State is the lifecycle state of one member of the module set.
type State int

const (
	StatePending State = iota
	StateLoaded
	StateFailed
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of one module.
type Status struct {
	Name        string    `json:"name"`
	Version     string    `json:"version,omitempty"`
	Description string    `json:"description,omitempty"`
	State       State     `json:"state"`
	Worker      string    `json:"worker,omitempty"`
	Error       string    `json:"error,omitempty"`
	LoadedAt    time.Time `json:"loaded_at,omitzero"`
}

// Metrics receives per-module timings. A nil Metrics disables collection.
type Metrics interface {
	ObserveLoad(module string, d time.Duration, err error)
	ObserveUnload(module string, d time.Duration, err error)
}

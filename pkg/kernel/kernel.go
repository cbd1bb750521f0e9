// Package kernel defines the main service of a boot and how it is chosen.
//
// Exactly one kernel runs at a time. It is resolved after every early module
// finished loading, initialized (Init blocks for the kernel's whole life) and
// terminated before the early modules are unloaded.
package kernel

import (
	"context"

	"github.com/marmos91/dittoboot/pkg/capability"
	"github.com/marmos91/dittoboot/pkg/control"
)

// Kernel is the main service.
type Kernel interface {
	// Init runs the kernel. It blocks until the kernel stops on its own or
	// Terminate is called. ctx carries the control register (see
	// control.FromContext).
	Init(ctx context.Context) error

	// Terminate asks the kernel to stop and waits for it within ctx. It is
	// called once per run and may precede Init when termination races the
	// start; Init must then return promptly.
	Terminate(ctx context.Context) error

	// Controller returns the lifecycle handle designated while the kernel
	// runs. Returning a *control.HostController forwards every operation to
	// the orchestrator.
	Controller() control.Controller
}

// Module is a kernel-level module: loaded and unloaded by a kernel after it
// has been initialized. Kernel modules have no ordering between them.
type Module interface {
	Load(ctx context.Context) error
	Unload(ctx context.Context) error
}

var (
	kernels = capability.NewRegistry[Kernel](capability.KindKernel)
	modules = capability.NewRegistry[Module](capability.KindKernelModule)
)

// DefaultRegistry returns the process registry of kernels.
func DefaultRegistry() *capability.Registry[Kernel] {
	return kernels
}

// ModuleRegistry returns the process registry of kernel modules.
func ModuleRegistry() *capability.Registry[Module] {
	return modules
}

// Register adds a kernel to the process registry. Meant for init functions.
func Register(desc capability.Descriptor, factory capability.Factory[Kernel]) {
	kernels.MustRegister(desc, factory)
}

// RegisterModule adds a kernel module to the process registry.
func RegisterModule(desc capability.Descriptor, factory capability.Factory[Module]) {
	modules.MustRegister(desc, factory)
}

// Package hostinfo provides an early module that logs facts about the host
// the boot runs on.
package hostinfo

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/pkg/bios"
	"github.com/marmos91/dittoboot/pkg/capability"
)

// Name is the module identifier.
const Name = "hostinfo"

func init() {
	bios.Register(capability.Descriptor{
		Name:        Name,
		Version:     "1.0.0",
		Description: "Logs host, CPU and memory facts at boot",
	}, func() bios.Module { return New() })
}

// Facts is what the module gathered during Load.
type Facts struct {
	Hostname      string
	OS            string
	Platform      string
	KernelVersion string
	LogicalCPUs   int
	PhysicalCPUs  int
	TotalMemory   uint64
}

// Module gathers Facts on Load.
type Module struct {
	facts Facts
}

// New returns an unloaded module.
func New() *Module {
	return &Module{}
}

// Facts returns the facts gathered by Load.
func (m *Module) Facts() Facts {
	return m.facts
}

// Load gathers and logs host facts. Facts gopsutil cannot read on this
// platform are left empty.
func (m *Module) Load(ctx context.Context, _ []string) error {
	f := Facts{OS: runtime.GOOS}

	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return fmt.Errorf("hostinfo: read host info: %w", err)
	}
	f.Hostname = info.Hostname
	f.Platform = info.Platform
	f.KernelVersion = info.KernelVersion

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		f.LogicalCPUs = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		f.PhysicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		f.TotalMemory = vm.Total
	}

	m.facts = f
	logger.InfoCtx(ctx, "Host",
		"hostname", f.Hostname,
		"os", f.OS,
		"platform", f.Platform,
		"kernel_version", f.KernelVersion,
		"cpus", f.LogicalCPUs,
		"physical_cpus", f.PhysicalCPUs,
		"memory_mb", f.TotalMemory>>20,
	)
	return nil
}

// Unload does nothing.
func (m *Module) Unload(context.Context) error {
	return nil
}

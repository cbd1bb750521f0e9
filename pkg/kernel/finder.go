package kernel

import (
	"context"
	"strings"

	"github.com/marmos91/dittoboot/internal/logger"
	"github.com/marmos91/dittoboot/internal/telemetry"
	"github.com/marmos91/dittoboot/pkg/capability"
)

const (
	// PreferredKey is the configuration key naming the kernel to run.
	PreferredKey = "kernel"

	// PreferredEnv is the environment variable bound to PreferredKey.
	PreferredEnv = "DITTOBOOT_KERNEL"
)

// Values is the configuration lookup the finder needs.
type Values interface {
	GetString(key string) (string, bool)
}

// Finder resolves the single kernel to run.
type Finder struct {
	registry *capability.Registry[Kernel]
	values   Values
}

// NewFinder creates a finder over reg. values may be nil, in which case no
// preference is ever set.
func NewFinder(reg *capability.Registry[Kernel], values Values) *Finder {
	return &Finder{registry: reg, values: values}
}

// Preferred returns the configured kernel identifier, if any.
func (f *Finder) Preferred() (string, bool) {
	if f.values == nil {
		return "", false
	}
	id, ok := f.values.GetString(PreferredKey)
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

// Find resolves the kernel.
//
// With a preferred identifier configured, the kernel registered under that
// name is returned, or a NotFound error. Without one, the only registered
// kernel is returned; zero kernels is NoneRegistered, more than one is
// Ambiguous. Resolution is deterministic and has no side effect.
func (f *Finder) Find(ctx context.Context) (capability.Provider[Kernel], error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanKernelResolve)

	p, err := f.find()
	telemetry.EndSpan(span, err)
	if err != nil {
		return capability.Provider[Kernel]{}, err
	}

	logger.InfoCtx(ctx, "Kernel resolved", logger.Kernel(p.Name), "version", p.Version)
	return p, nil
}

func (f *Finder) find() (capability.Provider[Kernel], error) {
	if id, ok := f.Preferred(); ok {
		found := f.registry.Lookup(id)
		if len(found) == 0 {
			return capability.Provider[Kernel]{}, NewNotFoundError(id)
		}
		return found[0], nil
	}

	descs := f.registry.Descriptors()
	switch len(descs) {
	case 0:
		return capability.Provider[Kernel]{}, NewNoneRegisteredError()
	case 1:
		found := f.registry.Lookup(descs[0].Name)
		if len(found) == 1 {
			return found[0], nil
		}
		// Unregistered between the two calls.
		return capability.Provider[Kernel]{}, NewNoneRegisteredError()
	default:
		names := make([]string, len(descs))
		for i, d := range descs {
			names[i] = d.Name
		}
		return capability.Provider[Kernel]{}, NewAmbiguousError(names)
	}
}

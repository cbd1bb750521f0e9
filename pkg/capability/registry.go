// Package capability implements the process-local registry through which
// plugins make themselves discoverable.
//
// Implementations register a factory from an init function, the same way
// database/sql drivers do. Discovery instantiates every registered factory,
// so each call to Providers or Lookup returns fresh instances.
package capability

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Kind identifies the contract a provider implements.
type Kind string

const (
	KindEarlyModule  Kind = "early-module"
	KindKernel       Kind = "kernel"
	KindKernelModule Kind = "kernel-module"
)

var (
	// ErrDuplicate is returned when a name is registered twice in one registry.
	ErrDuplicate = errors.New("provider already registered")

	// ErrInvalidName is returned for empty or whitespace-containing names.
	ErrInvalidName = errors.New("invalid provider name")

	// ErrInvalidVersion is returned when a version is not a semantic version.
	ErrInvalidVersion = errors.New("invalid provider version")
)

// Descriptor is the static description of a provider.
type Descriptor struct {
	// Name is the implementation identifier used for disambiguation.
	Name string `json:"name"`

	Kind Kind `json:"kind"`

	// Version is an optional semantic version.
	Version string `json:"version,omitempty"`

	Description string `json:"description,omitempty"`
}

// Factory creates a new instance of an implementation.
type Factory[T any] func() T

// Provider couples a descriptor with one freshly created instance.
type Provider[T any] struct {
	Descriptor
	Instance T
}

type entry[T any] struct {
	desc    Descriptor
	factory Factory[T]
}

// Registry holds the providers of one Kind. It is safe for concurrent use.
type Registry[T any] struct {
	kind    Kind
	entries cmap.ConcurrentMap[string, entry[T]]
}

// NewRegistry returns an empty registry for providers of the given kind.
func NewRegistry[T any](kind Kind) *Registry[T] {
	return &Registry[T]{kind: kind, entries: cmap.New[entry[T]]()}
}

// Kind returns the kind of providers held by the registry.
func (r *Registry[T]) Kind() Kind {
	return r.kind
}

// Register adds a provider. The descriptor's Kind is overwritten with the
// registry kind.
func (r *Registry[T]) Register(desc Descriptor, factory Factory[T]) error {
	if desc.Name == "" || strings.ContainsAny(desc.Name, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, desc.Name)
	}
	if factory == nil {
		return fmt.Errorf("provider %q: nil factory", desc.Name)
	}
	if desc.Version != "" {
		v, err := semver.NewVersion(desc.Version)
		if err != nil {
			return fmt.Errorf("%w: provider %q: %v", ErrInvalidVersion, desc.Name, err)
		}
		desc.Version = v.String()
	}
	desc.Kind = r.kind

	if !r.entries.SetIfAbsent(desc.Name, entry[T]{desc: desc, factory: factory}) {
		return fmt.Errorf("%w: %s %q", ErrDuplicate, r.kind, desc.Name)
	}
	return nil
}

// MustRegister is like Register but panics on error. Meant for init functions.
func (r *Registry[T]) MustRegister(desc Descriptor, factory Factory[T]) {
	if err := r.Register(desc, factory); err != nil {
		panic(err)
	}
}

// Unregister removes a provider and reports whether it existed.
func (r *Registry[T]) Unregister(name string) bool {
	_, ok := r.entries.Pop(name)
	return ok
}

// Len returns the number of registered providers.
func (r *Registry[T]) Len() int {
	return r.entries.Count()
}

// Descriptors returns the registered descriptors sorted by name, without
// instantiating anything.
func (r *Registry[T]) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, r.entries.Count())
	for _, e := range r.entries.Items() {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Providers instantiates every registered provider. The result is ordered by
// name so that discovery is deterministic.
func (r *Registry[T]) Providers() []Provider[T] {
	items := r.entries.Items()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Provider[T], 0, len(names))
	for _, name := range names {
		e := items[name]
		out = append(out, Provider[T]{Descriptor: e.desc, Instance: e.factory()})
	}
	return out
}

// Lookup instantiates the provider registered under name. The result holds
// zero or one provider.
func (r *Registry[T]) Lookup(name string) []Provider[T] {
	e, ok := r.entries.Get(name)
	if !ok {
		return nil
	}
	return []Provider[T]{{Descriptor: e.desc, Instance: e.factory()}}
}

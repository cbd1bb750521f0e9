// Package control defines the operational handle a running kernel exposes
// (restart, stop a module, start a module) and the single-slot register
// through which other components reach the active one.
package control

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrNoActiveController is returned by None for every operation.
var ErrNoActiveController = errors.New("no active controller")

// Controller is the set of lifecycle operations available while a kernel runs.
type Controller interface {
	// Restart terminates the current kernel, then resolves and initializes
	// a kernel again.
	Restart(ctx context.Context) error

	// StopModule unloads one early module by name.
	StopModule(ctx context.Context, module string) error

	// StartModule loads again an early module previously stopped.
	StartModule(ctx context.Context, module string) error
}

// None is the controller returned when nothing has been designated.
var None Controller = noController{}

type noController struct{}

func (noController) Restart(context.Context) error             { return ErrNoActiveController }
func (noController) StopModule(context.Context, string) error  { return ErrNoActiveController }
func (noController) StartModule(context.Context, string) error { return ErrNoActiveController }

// Lease identifies one designation. Release compares leases by pointer, so
// any controller type can be designated, comparable or not.
type Lease struct{ c Controller }

// Register is a single-slot reference to the active controller.
// The last Designate wins. The zero value is ready to use and empty.
type Register struct {
	active atomic.Pointer[Lease]
}

// NewRegister returns an empty register.
func NewRegister() *Register {
	return &Register{}
}

// Designate makes c the active controller and returns the lease to hand to
// Release. A nil c clears the register and returns a nil lease.
func (r *Register) Designate(c Controller) *Lease {
	if c == nil {
		r.active.Store(nil)
		return nil
	}
	l := &Lease{c: c}
	r.active.Store(l)
	return l
}

// Active returns the last designated controller, or None.
func (r *Register) Active() Controller {
	if h := r.active.Load(); h != nil {
		return h.c
	}
	return None
}

// IsActive reports whether a controller has been designated.
func (r *Register) IsActive() bool {
	return r.active.Load() != nil
}

// Release clears the register only if l is still the active designation,
// so a stale owner cannot erase its successor.
func (r *Register) Release(l *Lease) bool {
	if l == nil {
		return false
	}
	return r.active.CompareAndSwap(l, nil)
}

var defaultRegister = NewRegister()

// Default returns the process-wide register, for components that cannot be
// handed one explicitly.
func Default() *Register {
	return defaultRegister
}

// Designate sets the active controller of the process-wide register.
func Designate(c Controller) *Lease {
	return defaultRegister.Designate(c)
}

// Active returns the active controller of the process-wide register.
func Active() Controller {
	return defaultRegister.Active()
}

type registerKey struct{}

// WithRegister returns a context carrying r.
func WithRegister(ctx context.Context, r *Register) context.Context {
	return context.WithValue(ctx, registerKey{}, r)
}

// FromContext returns the register carried by ctx, or Default().
func FromContext(ctx context.Context) *Register {
	if ctx != nil {
		if r, ok := ctx.Value(registerKey{}).(*Register); ok && r != nil {
			return r
		}
	}
	return defaultRegister
}

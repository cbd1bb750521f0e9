package control

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrUnbound is returned by a HostController that has not been bound yet.
var ErrUnbound = errors.New("controller is not bound to a host")

// Host is the process side of the lifecycle operations. The orchestrator
// implements it.
type Host interface {
	RestartKernel(ctx context.Context) error
	StopModule(ctx context.Context, module string) error
	StartModule(ctx context.Context, module string) error
}

// Binder is implemented by controllers that forward to a Host. The
// orchestrator binds them before designating them.
type Binder interface {
	Bind(h Host)
}

type hostRef struct{ h Host }

// HostController is a Controller that forwards every operation to a bound
// Host. Kernels without custom control logic return one from Controller().
type HostController struct {
	host atomic.Pointer[hostRef]
}

// NewHostController returns an unbound controller.
func NewHostController() *HostController {
	return &HostController{}
}

// Bind attaches the host.
func (c *HostController) Bind(h Host) {
	c.host.Store(&hostRef{h: h})
}

func (c *HostController) bound() (Host, error) {
	ref := c.host.Load()
	if ref == nil || ref.h == nil {
		return nil, ErrUnbound
	}
	return ref.h, nil
}

// Restart implements Controller.
func (c *HostController) Restart(ctx context.Context) error {
	h, err := c.bound()
	if err != nil {
		return err
	}
	return h.RestartKernel(ctx)
}

// StopModule implements Controller.
func (c *HostController) StopModule(ctx context.Context, module string) error {
	h, err := c.bound()
	if err != nil {
		return err
	}
	return h.StopModule(ctx, module)
}

// StartModule implements Controller.
func (c *HostController) StartModule(ctx context.Context, module string) error {
	h, err := c.bound()
	if err != nil {
		return err
	}
	return h.StartModule(ctx, module)
}

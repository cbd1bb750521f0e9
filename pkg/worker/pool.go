package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/marmos91/dittoboot/internal/logger"
)

// ErrPoolClosed is returned by Submit after Release.
var ErrPoolClosed = errors.New("worker pool is closed")

// HostConcurrency returns the number of logical CPUs of the host, falling
// back to runtime.NumCPU when the host cannot be inspected.
func HostConcurrency() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// Pool runs tasks on a bounded set of goroutines, naming each submission
// through a Factory. Panics raised by a task are recovered and logged; the
// task's own deferred calls still run.
type Pool struct {
	factory *Factory
	pool    *ants.Pool
}

// NewPool creates a pool of the given capacity whose workers are named after
// prefix. A non-positive size means HostConcurrency().
func NewPool(prefix string, size int) (*Pool, error) {
	if size <= 0 {
		size = HostConcurrency()
	}

	factory := NewFactory(prefix)
	p, err := ants.NewPool(size,
		ants.WithPanicHandler(func(r any) {
			logger.Error("Worker task panicked", "pool", prefix, "panic", fmt.Sprint(r))
		}),
		ants.WithExpiryDuration(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", prefix, err)
	}

	return &Pool{factory: factory, pool: p}, nil
}

// Submit schedules task on the pool. When all workers are busy the call
// blocks until one frees up.
func (p *Pool) Submit(ctx context.Context, task func(ctx context.Context)) error {
	w := p.factory.NewWorker(task)
	err := p.pool.Submit(func() { w.Run(ctx) })
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Cap returns the pool capacity.
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running returns the number of busy workers.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Factory returns the factory naming the pool's workers.
func (p *Pool) Factory() *Factory {
	return p.factory
}

// Release closes the pool. Running tasks are given up to timeout to finish;
// a zero timeout returns immediately. Calling Release more than once is safe.
func (p *Pool) Release(timeout time.Duration) error {
	if p.pool.IsClosed() {
		return nil
	}
	if timeout <= 0 {
		p.pool.Release()
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}

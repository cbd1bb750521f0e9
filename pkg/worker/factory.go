// Package worker creates named, detached goroutines for background tasks.
//
// Every worker produced by a Factory is named "<prefix>-<N>", where N comes
// from an atomic counter starting at 1 and shared by all workers of that
// factory. The name is attached to the goroutine as a pprof label, so it shows
// up in goroutine dumps and continuous profiles.
//
// Workers never keep the process alive: the Go runtime exits when main
// returns regardless of running workers.
package worker

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync/atomic"
)

// LabelKey is the pprof label carrying the worker name.
const LabelKey = "worker"

// Factory hands out uniquely named workers.
type Factory struct {
	prefix  string
	counter atomic.Uint64
}

// NewFactory returns a factory naming its workers "<prefix>-N".
func NewFactory(prefix string) *Factory {
	return &Factory{prefix: prefix}
}

// Prefix returns the name prefix.
func (f *Factory) Prefix() string {
	return f.prefix
}

// Created returns how many workers the factory has named so far.
func (f *Factory) Created() uint64 {
	return f.counter.Load()
}

// NextName reserves the next worker name. Safe for concurrent use: no two
// callers ever observe the same number.
func (f *Factory) NextName() string {
	return fmt.Sprintf("%s-%d", f.prefix, f.counter.Add(1))
}

// NewWorker wraps task into a worker with the next available name.
func (f *Factory) NewWorker(task func(ctx context.Context)) *Worker {
	return &Worker{name: f.NextName(), task: task}
}

// Worker is a named unit of work.
type Worker struct {
	name string
	task func(ctx context.Context)
}

// Name returns the worker name, e.g. "bios-module-3".
func (w *Worker) Name() string {
	return w.name
}

// Run executes the task on the calling goroutine under the worker's pprof label.
func (w *Worker) Run(ctx context.Context) {
	pprof.Do(ctx, pprof.Labels(LabelKey, w.name), w.task)
}

// Go runs the task on a new detached goroutine.
func (w *Worker) Go(ctx context.Context) {
	go w.Run(ctx)
}

// NameFromContext returns the worker name set by Run, if any.
func NameFromContext(ctx context.Context) (string, bool) {
	return pprof.Label(ctx, LabelKey)
}

package bios

import (
	"errors"
	"fmt"
)

var (
	// ErrAwaitInterrupted is returned by AwaitReady when its context ends
	// before the barrier clears. Boot sequences log it and carry on.
	ErrAwaitInterrupted = errors.New("interrupted while waiting for early modules")

	ErrAlreadyLoaded  = errors.New("module set already loaded")
	ErrNotLoaded      = errors.New("module set not loaded")
	ErrClosed         = errors.New("module set closed")
	ErrModuleNotFound = errors.New("module not found")
	ErrInvalidState   = errors.New("invalid module state")
	ErrLoadPending    = errors.New("module load still pending")
)

// Op is the operation a ModuleError refers to.
type Op string

const (
	OpLoad   Op = "load"
	OpUnload Op = "unload"
	OpStop   Op = "stop"
	OpStart  Op = "start"
)

// ModuleError describes the failure of one module operation. Failures are
// isolated: they are collected and reported, never propagated to siblings.
type ModuleError struct {
	Op     Op
	Module string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("%s module %q: %v", e.Op, e.Module, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// PanicError wraps a value recovered from a panicking module.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return fn()
}

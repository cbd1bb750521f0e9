package kernel

import (
	"fmt"
	"strings"
)

// Reason classifies why a kernel could not be resolved.
type Reason int

const (
	// ReasonNotFound: the preferred identifier matches no registered kernel.
	ReasonNotFound Reason = iota + 1

	// ReasonNoneRegistered: no preference was given and no kernel exists.
	ReasonNoneRegistered

	// ReasonAmbiguous: no preference was given and several kernels exist.
	ReasonAmbiguous
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "NotFound"
	case ReasonNoneRegistered:
		return "NoneRegistered"
	case ReasonAmbiguous:
		return "Ambiguous"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// ResolutionError reports a failed kernel resolution. It is fatal for the
// boot run and never retried.
type ResolutionError struct {
	Reason Reason

	// Identifier is the preferred kernel that was requested (NotFound only).
	Identifier string

	// Candidates lists the registered kernels (Ambiguous only).
	Candidates []string
}

// Sentinels usable with errors.Is.
var (
	ErrNotFound       = &ResolutionError{Reason: ReasonNotFound}
	ErrNoneRegistered = &ResolutionError{Reason: ReasonNoneRegistered}
	ErrAmbiguous      = &ResolutionError{Reason: ReasonAmbiguous}
)

// Error implements the error interface.
func (e *ResolutionError) Error() string {
	switch e.Reason {
	case ReasonNotFound:
		return fmt.Sprintf("kernel %q not found", e.Identifier)
	case ReasonNoneRegistered:
		return "no kernel implementation registered"
	case ReasonAmbiguous:
		return fmt.Sprintf("multiple kernel implementations registered (%s): set %q (or %s) to choose one",
			strings.Join(e.Candidates, ", "), PreferredKey, PreferredEnv)
	default:
		return fmt.Sprintf("kernel resolution failed: %s", e.Reason)
	}
}

// Is matches any *ResolutionError with the same Reason.
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	return ok && t.Reason == e.Reason
}

// NewNotFoundError creates a NotFound error.
func NewNotFoundError(id string) *ResolutionError {
	return &ResolutionError{Reason: ReasonNotFound, Identifier: id}
}

// NewNoneRegisteredError creates a NoneRegistered error.
func NewNoneRegisteredError() *ResolutionError {
	return &ResolutionError{Reason: ReasonNoneRegistered}
}

// NewAmbiguousError creates an Ambiguous error.
func NewAmbiguousError(candidates []string) *ResolutionError {
	return &ResolutionError{Reason: ReasonAmbiguous, Candidates: candidates}
}

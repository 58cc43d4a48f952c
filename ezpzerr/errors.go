// Package ezpzerr implements the error taxonomy (kinds, not types) used
// across the solver. The Newton engine retries a SingularJacobian step
// itself and backtracks on residual growth, returning Diverged only when
// backtracking fails at minimum damping. IterLimit and Stalled end a tier
// without failing the solve: the priority layer records the constraints
// left unsatisfied in the Solution instead. Diverged, Cancelled, UnknownId
// and DimensionMismatch surface to the top-level API; DimensionMismatch
// marks an internal invariant violation, a programmer error rather than a
// recoverable condition. No code path in the core returns Unsatisfiable.
package ezpzerr

import "fmt"

// Kind closes the taxonomy of solve-time conditions.
type Kind int

const (
	// ParseError is reserved for the external text-format parser; the
	// core never produces it, but the kind is part of the shared
	// taxonomy so downstream tooling can switch over one enum.
	ParseError Kind = iota
	UnknownId
	DimensionMismatch
	SingularJacobian
	Diverged
	IterLimit
	Stalled
	Cancelled
	Unsatisfiable
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case UnknownId:
		return "UnknownId"
	case DimensionMismatch:
		return "DimensionMismatch"
	case SingularJacobian:
		return "SingularJacobian"
	case Diverged:
		return "Diverged"
	case IterLimit:
		return "IterLimit"
	case Stalled:
		return "Stalled"
	case Cancelled:
		return "Cancelled"
	case Unsatisfiable:
		return "Unsatisfiable"
	default:
		return "Unknown"
	}
}

// SolveError is the typed error returned by fallible operations in the
// solve path. Kind lets callers errors.As into the taxonomy instead of
// matching on message text.
type SolveError struct {
	Kind Kind
	Msg  string

	// Tier and Indices are populated for Kind == Unsatisfiable: the tier
	// that failed to converge and the caller-supplied constraint indices
	// (positions in the original request slice) that remained violated.
	Tier    int
	Indices []int
}

func (e *SolveError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return e.Kind.String()
}

// New builds a SolveError of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *SolveError {
	return &SolveError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *SolveError of the given kind, so callers
// can write `ezpzerr.Is(err, ezpzerr.Diverged)` instead of matching on
// message text.
func Is(err error, kind Kind) bool {
	se, ok := err.(*SolveError)
	return ok && se.Kind == kind
}

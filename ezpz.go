// Package ezpz is a 2D geometric constraint solver for CAD-style
// sketching. Callers declare points and declarative relations among them
// (fixed coordinates, distances, parallelism, point-on-circle, ...),
// supply an initial guess, and receive either a satisfying assignment of
// coordinates or a diagnostic describing which constraints could not be
// jointly satisfied.
//
// The package ties together varid (ids and datum entities), constraint
// (the closed kind set), sparsity/jacobian/linsolve (the sparse Jacobian
// lifecycle), newton (the damped Newton engine) and priority
// (tiered relaxation) into the top-level Solve/SolveWithProgress API.
package ezpz

import (
	"context"
	"runtime"
	"sync"

	"github.com/ezpz-go/ezpz/constraint"
	"github.com/ezpz-go/ezpz/diagnostics"
	"github.com/ezpz-go/ezpz/newton"
	"github.com/ezpz-go/ezpz/priority"
	"github.com/ezpz-go/ezpz/varid"
)

// Re-exported types so callers need only import this package for the
// common path; the subpackages remain independently importable for
// advanced use (custom constraint kinds over the same sparsity/newton
// machinery, direct linsolve access, etc).
type (
	IdGen              = varid.IdGen
	VarId              = varid.VarId
	DatumPoint         = varid.DatumPoint
	DatumLine          = varid.DatumLine
	DatumCircle        = varid.DatumCircle
	DatumArc           = varid.DatumArc
	Point2D            = varid.Point2D
	Orientation        = varid.Orientation
	Constraint         = constraint.Constraint
	ConstraintRequest  = priority.Request
	Solution           = diagnostics.Solution
	IterationStats     = newton.IterationStats
	ControlSignal      = newton.ControlSignal
	ProgressHook       = newton.ProgressHook
	DampingConfig      = newton.DampingConfig
)

const (
	CCW = varid.CCW
	CW  = varid.CW

	Continue = newton.Continue
	Cancel   = newton.Cancel
)

// Config is the solver's tolerance and policy configuration.
type Config struct {
	MaxIter       int
	TolAbs        float64
	TolRel        float64
	TolConstraint float64
	Adaptive      bool
	Damping       DampingConfig
	Threads       uint32
	DeadbandArc   float64
}

// DefaultConfig returns the documented defaults from spec §6/§4.5.
func DefaultConfig() Config {
	nc := newton.DefaultConfig()
	return Config{
		MaxIter:       nc.MaxIter,
		TolAbs:        nc.TolAbs,
		TolRel:        nc.TolRel,
		TolConstraint: nc.TolConstraint,
		Adaptive:      nc.Adaptive,
		Damping:       nc.Damping,
		Threads:       nc.Threads,
		DeadbandArc:   nc.DeadbandArc,
	}
}

func (c Config) toNewtonConfig() newton.Config {
	nc := newton.DefaultConfig()
	nc.MaxIter = c.MaxIter
	nc.TolAbs = c.TolAbs
	nc.TolRel = c.TolRel
	nc.TolConstraint = c.TolConstraint
	nc.Adaptive = c.Adaptive
	nc.Damping = c.Damping
	nc.DeadbandArc = c.DeadbandArc

	nc.Threads = c.Threads
	if nc.Threads == 0 {
		InitGlobalParallelism(0)
		nc.Threads = globalThreads
	}
	return nc
}

// NewIdGenerator returns a fresh, ready-to-use id allocator.
func NewIdGenerator() *IdGen {
	return &IdGen{}
}

// NewConstraintRequest pairs a constraint with an explicit priority tier.
func NewConstraintRequest(c Constraint, priority uint8) ConstraintRequest {
	return ConstraintRequest{Constraint: c, Priority: priority}
}

// HighestPriority pairs a constraint with the maximum tier.
func HighestPriority(c Constraint) ConstraintRequest {
	return ConstraintRequest{Constraint: c, Priority: 255}
}

var (
	globalParallelismOnce sync.Once
	globalThreads         uint32 = 1
)

// InitGlobalParallelism sets the process-wide worker count used by the
// sparse LU adapter's optional parallel phase when a solve's
// Config.Threads==0. Idempotent: only the first call takes effect. A solve
// with Config.Threads==0 calls InitGlobalParallelism(0) itself, so when no
// explicit call came first the count is fixed at runtime.GOMAXPROCS(0).
func InitGlobalParallelism(n uint32) {
	globalParallelismOnce.Do(func() {
		if n == 0 {
			n = uint32(runtime.GOMAXPROCS(0))
		}
		globalThreads = n
	})
}

// Solve runs the prioritized, tiered Newton solve to completion and
// returns the final Solution, or a *ezpzerr.SolveError (see package
// ezpzerr) describing why it did not converge.
func Solve(requests []ConstraintRequest, initialGuesses map[VarId]float64, nIds int, cfg Config) (*Solution, error) {
	return SolveWithProgress(requests, initialGuesses, nIds, cfg, nil)
}

// SolveWithProgress is Solve plus a per-iteration progress hook, invoked
// once per Newton iteration across every tier, in iteration order, on the
// solving goroutine.
func SolveWithProgress(requests []ConstraintRequest, initialGuesses map[VarId]float64, nIds int, cfg Config, hook ProgressHook) (*Solution, error) {
	layer := priority.NewLayer(cfg.toNewtonConfig())
	return layer.Solve(context.Background(), requests, initialGuesses, nIds, hook)
}

// SolveWithContext is SolveWithProgress plus cancellation via ctx,
// observed only between Newton iterations (never inside a
// factorization), matching the progress hook's own Cancel signal.
func SolveWithContext(ctx context.Context, requests []ConstraintRequest, initialGuesses map[VarId]float64, nIds int, cfg Config, hook ProgressHook) (*Solution, error) {
	layer := priority.NewLayer(cfg.toNewtonConfig())
	return layer.Solve(ctx, requests, initialGuesses, nIds, hook)
}

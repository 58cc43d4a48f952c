// Package newton implements the damped Newton–Raphson loop over a sparse
// residual/Jacobian system: residual evaluation, step solve via
// linsolve, adaptive damping with divergence detection and backtracking
// line search, a progress callback with cooperative cancellation, and the
// {Init -> Iterating -> (Converged|Diverged|Cancelled|IterLimit|Stalled)}
// state machine. It generalizes the teacher's num.NlSolver main loop (the
// scaling vector, Ldx/fxMax convergence checks, line search) from a
// dense-or-Umfpack pair of paths to sparse-LU-or-normal-equations, and
// from chk.Panic-on-failure to typed *ezpzerr.SolveError returns.
package newton

import (
	"context"
	"math"

	"github.com/ezpz-go/ezpz/ezpzerr"
	"github.com/ezpz-go/ezpz/internal/logx"
	"github.com/ezpz-go/ezpz/linsolve"
	"github.com/ezpz-go/ezpz/sparsity"
	"gonum.org/v1/gonum/floats"
)

// DampingConfig controls the adaptive step-acceptance policy (spec.md
// §4.5 step 3-6). When Config.Adaptive is false, λ starts at 1 and the
// divergence guard, backtracking and growth are skipped; a singular
// Jacobian still shrinks λ by Shrink, down to Min, in either mode.
type DampingConfig struct {
	Min, Max            float64
	Shrink, Grow         float64
	AcceptRatio         float64
	DivergenceRatio     float64
	LineSearchMaxSteps  int
	LineSearchBacktrack float64
}

// DefaultDamping matches spec.md §4.5's documented defaults.
func DefaultDamping() DampingConfig {
	return DampingConfig{
		Min: 0.1, Max: 1.0,
		Shrink: 0.5, Grow: 1.2,
		AcceptRatio:         0.9,
		DivergenceRatio:     4.0,
		LineSearchMaxSteps:  20,
		LineSearchBacktrack: 0.5,
	}
}

// Config holds the Newton engine's tolerances and policy knobs.
type Config struct {
	MaxIter       int
	TolAbs        float64
	TolRel        float64
	TolStep       float64
	TolConstraint float64
	Adaptive      bool
	Damping       DampingConfig
	Threads       uint32
	DeadbandArc   float64

	// RelConsecutive is the number of consecutive iterations relative
	// improvement must hold below TolRel to call convergence (spec.md
	// §4.5 step 1: "k consecutive iterations").
	RelConsecutive int

	MaxSingularRetries int
}

// DefaultConfig matches spec.md §6/§4.5's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIter:            50,
		TolAbs:             1e-9,
		TolRel:             1e-12,
		TolStep:            1e-10,
		TolConstraint:      1e-6,
		Adaptive:           true,
		Damping:            DefaultDamping(),
		Threads:            1,
		DeadbandArc:        1e-3,
		RelConsecutive:     2,
		MaxSingularRetries: 3,
	}
}

// ControlSignal is returned by a ProgressHook to continue or cancel.
type ControlSignal int

const (
	Continue ControlSignal = iota
	Cancel
)

// IterationStats is the borrowed, read-only snapshot passed to a
// ProgressHook each iteration.
type IterationStats struct {
	Iter         int
	ResidualNorm float64
	Damping      float64
	StepNorm     float64
}

// ProgressHook is invoked once per iteration; it may be called from a
// worker goroutine relative to the caller, and the engine makes no
// assumption about hook-side locking.
type ProgressHook func(IterationStats) ControlSignal

// State is the engine's terminal (or in-progress) state.
type State int

const (
	StateInit State = iota
	StateIterating
	StateConverged
	StateDiverged
	StateCancelled
	StateIterLimit
	StateStalled
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateIterating:
		return "Iterating"
	case StateConverged:
		return "Converged"
	case StateDiverged:
		return "Diverged"
	case StateCancelled:
		return "Cancelled"
	case StateIterLimit:
		return "IterLimit"
	case StateStalled:
		return "Stalled"
	default:
		return "Unknown"
	}
}

// ResidualFunc evaluates F(x) into out (length pattern.NRows). It must
// not allocate.
type ResidualFunc func(x []float64, out []float64)

// JacobianFunc refreshes the Jacobian cache's values for the current x.
// It must write every pattern position and must not allocate.
type JacobianFunc func(x []float64, values []float64)

// Engine runs one damped Newton solve over a fixed sparsity pattern. All
// scratch is allocated once in NewEngine.
type Engine struct {
	pattern  sparsity.Pattern
	cfg      Config
	evalF    ResidualFunc
	evalJ    JacobianFunc
	jacValue []float64

	r, rTrial, delta, xTrial, scale, negR []float64

	lu  *linsolve.LU
	sym *linsolve.SymbolicFactor
	neq *linsolve.NormalEqSolver
}

// NewEngine preallocates every scratch buffer the Run loop needs. pattern
// must match the shapes evalF/evalJ produce. jacValues is the mutable
// values slice from a jacobian.Cache (shared so the caller can refresh
// it via evalJ without an extra copy).
func NewEngine(pattern sparsity.Pattern, cfg Config, jacValues []float64, evalF ResidualFunc, evalJ JacobianFunc) (*Engine, error) {
	n := pattern.NCols
	e := &Engine{
		pattern:  pattern,
		cfg:      cfg,
		evalF:    evalF,
		evalJ:    evalJ,
		jacValue: jacValues,
		r:        make([]float64, pattern.NRows),
		rTrial:   make([]float64, pattern.NRows),
		delta:    make([]float64, n),
		xTrial:   make([]float64, n),
		scale:    make([]float64, n),
		negR:     make([]float64, pattern.NRows),
	}
	if pattern.NRows == pattern.NCols {
		sym, err := linsolve.Symbolic(pattern)
		if err != nil {
			return nil, err
		}
		e.sym = sym
		e.lu = linsolve.NewLU(sym, 0)
		e.lu.SetThreads(int(cfg.Threads))
	} else if pattern.NRows > pattern.NCols {
		neq, err := linsolve.NewNormalEqSolver(pattern)
		if err != nil {
			return nil, err
		}
		e.neq = neq
	}
	return e, nil
}

// Run executes the damped Newton loop, mutating x in place. ctx is
// polled only between iterations, never inside a factorization (spec.md
// §5 "Suspension points: none within a single Newton iteration").
func (o *Engine) Run(ctx context.Context, x []float64, hook ProgressHook) (State, error) {
	if len(x) != o.pattern.NCols {
		return StateInit, ezpzerr.New(ezpzerr.DimensionMismatch, "Run: len(x)=%d != NCols=%d", len(x), o.pattern.NCols)
	}

	damping := 1.0
	if o.cfg.Adaptive {
		damping = o.cfg.Damping.Max
	}

	o.updateScale(x)
	o.evalF(x, o.r)
	normR := norm2(o.r)
	relOkCount := 0
	prevNormR := normR

	state := StateIterating
	var retErr error

	for iter := 0; iter < o.cfg.MaxIter; iter++ {
		if normR < o.cfg.TolAbs {
			state = StateConverged
			break
		}
		if iter > 0 {
			improvement := math.Abs(prevNormR-normR) / math.Max(prevNormR, o.cfg.TolAbs)
			if improvement < o.cfg.TolRel {
				relOkCount++
			} else {
				relOkCount = 0
			}
			if relOkCount >= o.cfg.RelConsecutive {
				state = StateConverged
				break
			}
		}

		o.evalJ(x, o.jacValue)
		delta, err := o.solveStep()
		if err != nil {
			if ezpzerr.Is(err, ezpzerr.SingularJacobian) {
				logx.Logger.Warn().Int("iter", iter).Msg("singular Jacobian, shrinking damping and retrying")
				damping = math.Max(o.cfg.Damping.Min, damping*o.cfg.Damping.Shrink)
				continue
			}
			return StateInit, err
		}
		copy(o.delta, delta)

		stepNorm := o.tryStep(x, damping)
		o.evalF(o.xTrial, o.rTrial)
		normTrial := norm2(o.rTrial)

		if o.cfg.Adaptive && normTrial > o.cfg.Damping.DivergenceRatio*normR {
			atMinDamping := damping <= o.cfg.Damping.Min
			damping = math.Max(o.cfg.Damping.Min, damping*o.cfg.Damping.Shrink)
			var recovered bool
			normTrial, stepNorm, recovered = o.backtrack(x, damping, normR)
			if !recovered && atMinDamping {
				return StateDiverged, ezpzerr.New(ezpzerr.Diverged,
					"residual grew beyond divergence_ratio=%g at iteration %d and backtracking could not recover at minimum damping=%g",
					o.cfg.Damping.DivergenceRatio, iter, o.cfg.Damping.Min)
			}
		} else if o.cfg.Adaptive {
			normTrial, stepNorm, _ = o.backtrackIfWorse(x, damping, normR, normTrial, stepNorm)
		}

		if o.cfg.Adaptive {
			if normTrial < normR*o.cfg.Damping.AcceptRatio {
				damping = math.Min(o.cfg.Damping.Max, damping*o.cfg.Damping.Grow)
			}
		}

		copy(x, o.xTrial)
		copy(o.r, o.rTrial)
		o.updateScale(x)
		prevNormR = normR
		normR = normTrial

		select {
		case <-ctx.Done():
			return StateCancelled, ezpzerr.New(ezpzerr.Cancelled, "context cancelled at iteration %d", iter)
		default:
		}

		if hook != nil {
			signal := hook(IterationStats{Iter: iter, ResidualNorm: normR, Damping: damping, StepNorm: stepNorm})
			if signal == Cancel {
				return StateCancelled, ezpzerr.New(ezpzerr.Cancelled, "progress hook cancelled at iteration %d", iter)
			}
		}

		if stepNorm < o.cfg.TolStep && normR > o.cfg.TolAbs {
			state = StateStalled
			retErr = ezpzerr.New(ezpzerr.Stalled, "step norm %g below tolerance with residual %g", stepNorm, normR)
			break
		}

		if iter == o.cfg.MaxIter-1 {
			state = StateIterLimit
			retErr = ezpzerr.New(ezpzerr.IterLimit, "reached max_iter=%d without convergence (residual=%g)", o.cfg.MaxIter, normR)
		}
	}

	if state == StateIterating {
		state = StateIterLimit
		retErr = ezpzerr.New(ezpzerr.IterLimit, "reached max_iter=%d without convergence (residual=%g)", o.cfg.MaxIter, normR)
	}
	return state, retErr
}

func (o *Engine) solveStep() ([]float64, error) {
	for i := range o.r {
		o.negR[i] = -o.r[i]
	}
	if o.lu != nil {
		if err := o.lu.Numeric(o.jacValue); err != nil {
			return nil, err
		}
		rhs := o.delta
		copy(rhs, o.negR[:o.pattern.NCols])
		if err := o.lu.SolveInPlace(rhs); err != nil {
			return nil, err
		}
		return rhs, nil
	}
	return o.neq.Solve(o.pattern, o.jacValue, o.negR)
}

// tryStep sets xTrial = x + damping*delta and returns the step norm.
func (o *Engine) tryStep(x []float64, damping float64) float64 {
	for i := range x {
		o.xTrial[i] = x[i] + damping*o.delta[i]
	}
	return o.scaledNorm(o.delta, damping)
}

// backtrack shrinks the step along delta until the trial residual improves
// on normR or the line search is exhausted; recovered reports which of the
// two happened, so a caller already at minimum damping can tell a merely
// slow step apart from a genuinely diverging one.
func (o *Engine) backtrack(x []float64, damping, normR float64) (normTrial, stepNorm float64, recovered bool) {
	alpha := 1.0
	for step := 0; step < o.cfg.Damping.LineSearchMaxSteps; step++ {
		for i := range x {
			o.xTrial[i] = x[i] + alpha*damping*o.delta[i]
		}
		o.evalF(o.xTrial, o.rTrial)
		normTrial = norm2(o.rTrial)
		stepNorm = o.scaledNorm(o.delta, alpha*damping)
		if normTrial < normR {
			return normTrial, stepNorm, true
		}
		alpha *= o.cfg.Damping.LineSearchBacktrack
	}
	return normTrial, stepNorm, false
}

func (o *Engine) backtrackIfWorse(x []float64, damping, normR, normTrial, stepNorm float64) (float64, float64, bool) {
	if normTrial < normR {
		return normTrial, stepNorm, true
	}
	return o.backtrack(x, damping, normR)
}

func norm2(v []float64) float64 {
	return floats.Norm(v, 2)
}

// updateScale recomputes the teacher's scal = Atol + Rtol*abs(x) vector
// (num.NlSolver.Solve's la.VecScaleAbs call), used to report a
// dimensionless RMS step norm regardless of X's absolute magnitude.
func (o *Engine) updateScale(x []float64) {
	for i, xi := range x {
		o.scale[i] = o.cfg.TolAbs + o.cfg.TolRel*math.Abs(xi)
	}
}

// scaledNorm returns the RMS norm of factor*delta relative to o.scale.
func (o *Engine) scaledNorm(delta []float64, factor float64) float64 {
	sum := 0.0
	for i, d := range delta {
		v := (factor * d) / o.scale[i]
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(delta)))
}

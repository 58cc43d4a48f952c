// Package linsolve adapts the sparse Jacobian built by sparsity/jacobian
// into linear solves for the Newton engine. It follows the teacher's
// two-phase Umfpack lifecycle (num.NlSolver: Init once, Fact every
// iteration, Solve) but implements the factorization itself — an LU with
// partial pivoting over a dense n×n copy of the sparse values; no
// fill-reducing ordering is computed and the elimination does not exploit
// sparsity — rather than binding to a cgo UMFPACK, since that binding lives
// inside the teacher's own module tree and is not an importable third-party
// package (see DESIGN.md).
//
// The square case (nrows == ncols) is solved directly. The overconstrained
// case (nrows > ncols) is solved via the normal equations JᵀJ Δ = Jᵀr,
// using gonum/mat's dense Cholesky, per spec design note "prefer the
// normal equations ... rather than dynamically falling back to dense QR".
package linsolve

import (
	"math"
	"sync"

	"github.com/ezpz-go/ezpz/ezpzerr"
	"github.com/ezpz-go/ezpz/sparsity"
	"gonum.org/v1/gonum/mat"
)

// minParallelCols is the number of rows left below the current pivot under
// which Numeric's row-elimination pass for that pivot runs sequentially
// regardless of threads: goroutine dispatch overhead dominates the O(n)
// inner loop when few rows remain.
const minParallelCols = 64

// DefaultPivotTol is the minimum acceptable pivot magnitude; below it the
// numeric factor is reported SingularJacobian rather than dividing by a
// near-zero pivot.
const DefaultPivotTol = 1e-13

// SymbolicFactor is the once-per-pattern precomputed structure: a dense
// scatter index per nonzero slot, so Numeric's per-iteration refactor
// never has to re-walk the CSC column pointers.
type SymbolicFactor struct {
	n          int
	denseIndex []int // len == pattern.NNZ(); slot -> row*n+col
}

// Symbolic performs the once-per-pattern analysis. It is cheap to call
// repeatedly with the same pattern (pure function of shape), but callers
// should cache the result across iterations of one tier and, via a
// caller-held LU, across solves that share a pattern.
func Symbolic(pattern sparsity.Pattern) (*SymbolicFactor, error) {
	if pattern.NRows != pattern.NCols {
		return nil, ezpzerr.New(ezpzerr.DimensionMismatch,
			"Symbolic: square LU requires NRows==NCols, got %d x %d", pattern.NRows, pattern.NCols)
	}
	n := pattern.NCols
	denseIndex := make([]int, pattern.NNZ())
	for col := 0; col < pattern.NCols; col++ {
		for s := pattern.ColPtr[col]; s < pattern.ColPtr[col+1]; s++ {
			row := pattern.RowIdx[s]
			denseIndex[s] = row*n + col
		}
	}
	return &SymbolicFactor{n: n, denseIndex: denseIndex}, nil
}

// LU holds the numeric factorization state and all of its scratch
// buffers, preallocated once so Numeric/SolveInPlace never allocate.
type LU struct {
	sym      *SymbolicFactor
	pivotTol float64

	a   []float64 // n*n dense scratch; combined L\U storage after Numeric
	piv []int     // row permutation: piv[i] = original row now at row i
	y   []float64 // scratch for permuted rhs / substitution result

	maxSingularRetries int
	singularRetries    int

	threads int // 1 == sequential; >1 parallelizes the row-update pass
}

// NewLU allocates an LU adapter over a symbolic factor. pivotTol <= 0
// selects DefaultPivotTol.
func NewLU(sym *SymbolicFactor, pivotTol float64) *LU {
	if pivotTol <= 0 {
		pivotTol = DefaultPivotTol
	}
	n := sym.n
	piv := make([]int, n)
	return &LU{
		sym:                sym,
		pivotTol:           pivotTol,
		a:                  make([]float64, n*n),
		piv:                piv,
		y:                  make([]float64, n),
		maxSingularRetries: 3,
		threads:            1,
	}
}

// SetThreads sets the number of goroutines Numeric uses for the row-update
// pass of each pivot column. n<=1 reverts to sequential execution.
func (o *LU) SetThreads(n int) {
	if n <= 1 {
		n = 1
	}
	o.threads = n
}

// Numeric recomputes the factorization from the current sparse values
// (indexed by pattern slot, as produced by jacobian.Cache). It must be
// called once per Newton iteration; the symbolic scatter map is not
// recomputed.
func (o *LU) Numeric(values []float64) error {
	n := o.sym.n
	for i := range o.a {
		o.a[i] = 0
	}
	for slot, v := range values {
		o.a[o.sym.denseIndex[slot]] += v
	}
	for i := range o.piv {
		o.piv[i] = i
	}

	for k := 0; k < n; k++ {
		maxVal := math.Abs(o.a[k*n+k])
		maxRow := k
		for i := k + 1; i < n; i++ {
			v := math.Abs(o.a[i*n+k])
			if v > maxVal {
				maxVal = v
				maxRow = i
			}
		}
		if maxVal < o.pivotTol {
			o.singularRetries++
			if o.singularRetries > o.maxSingularRetries {
				return ezpzerr.New(ezpzerr.SingularJacobian,
					"numeric factor singular at column %d after %d retries (pivot=%g)", k, o.singularRetries, maxVal)
			}
			return ezpzerr.New(ezpzerr.SingularJacobian,
				"numeric factor singular at column %d (pivot=%g)", k, maxVal)
		}
		o.singularRetries = 0

		if maxRow != k {
			for j := 0; j < n; j++ {
				o.a[k*n+j], o.a[maxRow*n+j] = o.a[maxRow*n+j], o.a[k*n+j]
			}
			o.piv[k], o.piv[maxRow] = o.piv[maxRow], o.piv[k]
		}

		pivot := o.a[k*n+k]
		rows := n - (k + 1)
		if o.threads <= 1 || rows < minParallelCols {
			for i := k + 1; i < n; i++ {
				factor := o.a[i*n+k] / pivot
				o.a[i*n+k] = factor
				for j := k + 1; j < n; j++ {
					o.a[i*n+j] -= factor * o.a[k*n+j]
				}
			}
			continue
		}

		workers := o.threads
		if workers > rows {
			workers = rows
		}
		chunk := (rows + workers - 1) / workers
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			lo := k + 1 + w*chunk
			hi := lo + chunk
			if hi > n {
				hi = n
			}
			if lo >= hi {
				continue
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					factor := o.a[i*n+k] / pivot
					o.a[i*n+k] = factor
					for j := k + 1; j < n; j++ {
						o.a[i*n+j] -= factor * o.a[k*n+j]
					}
				}
			}(lo, hi)
		}
		wg.Wait()
	}
	return nil
}

// SolveInPlace solves the system factored by the most recent Numeric
// call, overwriting rhs with the solution.
func (o *LU) SolveInPlace(rhs []float64) error {
	n := o.sym.n
	if len(rhs) != n {
		return ezpzerr.New(ezpzerr.DimensionMismatch, "SolveInPlace: rhs length %d != %d", len(rhs), n)
	}
	for i := 0; i < n; i++ {
		o.y[i] = rhs[o.piv[i]]
	}
	// forward substitution: L is unit lower triangular (stored below diag)
	for i := 1; i < n; i++ {
		sum := o.y[i]
		for j := 0; j < i; j++ {
			sum -= o.a[i*n+j] * o.y[j]
		}
		o.y[i] = sum
	}
	// back substitution: U is upper triangular (stored on/above diag)
	for i := n - 1; i >= 0; i-- {
		sum := o.y[i]
		for j := i + 1; j < n; j++ {
			sum -= o.a[i*n+j] * o.y[j]
		}
		o.y[i] = sum / o.a[i*n+i]
	}
	copy(rhs, o.y)
	return nil
}

// NormalEqSolver solves JᵀJ Δ = Jᵀr for the overconstrained case
// (pattern.NRows > pattern.NCols) via gonum/mat's dense Cholesky, the same
// way the teacher's num.NlSolver splits a once-per-pattern Init from a
// per-iteration Fact/Solve: NewNormalEqSolver allocates J, JᵀJ and Jᵀr's
// backing storage once for a pattern's shape, and Solve reuses them on
// every call so the Newton hot loop performs no allocation for the
// rectangular tiers, mirroring LU's Symbolic/Numeric split for the square
// case.
type NormalEqSolver struct {
	nrows, ncols int

	j     *mat.Dense
	jtj   *mat.SymDense
	jtr   *mat.VecDense
	rhs   *mat.VecDense
	delta *mat.VecDense
	out   []float64

	chol mat.Cholesky
}

// NewNormalEqSolver preallocates a solver for pattern's shape. pattern
// must be strictly overconstrained (NRows > NCols); it does not change
// across the iterations of one tier, so the solver is built once and
// reused via Solve.
func NewNormalEqSolver(pattern sparsity.Pattern) (*NormalEqSolver, error) {
	if pattern.NRows <= pattern.NCols {
		return nil, ezpzerr.New(ezpzerr.DimensionMismatch,
			"NewNormalEqSolver: expected NRows>NCols, got %d x %d", pattern.NRows, pattern.NCols)
	}
	return &NormalEqSolver{
		nrows: pattern.NRows,
		ncols: pattern.NCols,
		j:     mat.NewDense(pattern.NRows, pattern.NCols, nil),
		jtj:   mat.NewSymDense(pattern.NCols, nil),
		jtr:   mat.NewVecDense(pattern.NCols, nil),
		rhs:   mat.NewVecDense(pattern.NRows, nil),
		delta: mat.NewVecDense(pattern.NCols, nil),
		out:   make([]float64, pattern.NCols),
	}, nil
}

// Solve refreshes J from values (indexed by pattern slot, as produced by
// jacobian.Cache) and solves JᵀJ Δ = Jᵀr, returning the result in a slice
// owned by the solver: callers must copy it out before the next Solve
// call overwrites it.
func (o *NormalEqSolver) Solve(pattern sparsity.Pattern, values []float64, r []float64) ([]float64, error) {
	if pattern.NRows != o.nrows || pattern.NCols != o.ncols {
		return nil, ezpzerr.New(ezpzerr.DimensionMismatch,
			"Solve: pattern shape %dx%d != solver shape %dx%d", pattern.NRows, pattern.NCols, o.nrows, o.ncols)
	}
	if len(r) != o.nrows {
		return nil, ezpzerr.New(ezpzerr.DimensionMismatch, "Solve: r length %d != %d", len(r), o.nrows)
	}

	o.j.Zero()
	for col := 0; col < pattern.NCols; col++ {
		for s := pattern.ColPtr[col]; s < pattern.ColPtr[col+1]; s++ {
			o.j.Set(pattern.RowIdx[s], col, values[s])
		}
	}
	for i := 0; i < o.nrows; i++ {
		o.rhs.SetVec(i, r[i])
	}

	o.jtj.SymOuterK(1, o.j.T())
	o.jtr.MulVec(o.j.T(), o.rhs)

	if ok := o.chol.Factorize(o.jtj); !ok {
		return nil, ezpzerr.New(ezpzerr.SingularJacobian, "normal equations: JtJ not positive definite")
	}
	if err := o.chol.SolveVecTo(o.delta, o.jtr); err != nil {
		return nil, ezpzerr.New(ezpzerr.SingularJacobian, "normal equations solve failed: %v", err)
	}
	for i := range o.out {
		o.out[i] = o.delta.AtVec(i)
	}
	return o.out, nil
}

func denseFromPattern(pattern sparsity.Pattern, values []float64) *mat.Dense {
	J := mat.NewDense(pattern.NRows, pattern.NCols, nil)
	for col := 0; col < pattern.NCols; col++ {
		for s := pattern.ColPtr[col]; s < pattern.ColPtr[col+1]; s++ {
			row := pattern.RowIdx[s]
			J.Set(row, col, values[s])
		}
	}
	return J
}

// ConditionNumber estimates the condition number (ratio of largest to
// smallest singular value) of the Jacobian for diagnostics/tests; it is
// never called from the Newton hot loop. Works for rectangular J, unlike
// mat.Cond which requires a square matrix.
func ConditionNumber(pattern sparsity.Pattern, values []float64) float64 {
	J := denseFromPattern(pattern, values)
	var svd mat.SVD
	if !svd.Factorize(J, mat.SVDNone) {
		return math.Inf(1)
	}
	vals := svd.Values(nil)
	if len(vals) == 0 || vals[len(vals)-1] == 0 {
		return math.Inf(1)
	}
	return vals[0] / vals[len(vals)-1]
}

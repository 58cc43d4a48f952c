// Package diagnostics maps final residuals back to original constraints
// and carries the solved value vector, in the shape of a plain results
// struct the way the teacher's ode package returns a Stat alongside a
// solved trajectory.
package diagnostics

import "github.com/ezpz-go/ezpz/varid"

// Solution is the outcome of a solve: the final value vector, which
// constraints were satisfied, and the indices (into the caller's original
// request slice) of those that were not.
type Solution struct {
	Values            []float64
	Satisfied         []bool
	Unsatisfied       []int
	Iterations        int
	FinalResidualNorm float64
}

// IsSatisfied reports whether every constraint converged.
func (o *Solution) IsSatisfied() bool {
	return len(o.Unsatisfied) == 0
}

// FinalValues returns the solved value vector, indexed by VarId.
func (o *Solution) FinalValues() []float64 {
	return o.Values
}

// FinalValuePoint reads the solved (x, y) coordinates of a DatumPoint.
func (o *Solution) FinalValuePoint(p varid.DatumPoint) varid.Point2D {
	return varid.Point2D{X: o.Values[p.X], Y: o.Values[p.Y]}
}

package constraint

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ezpz-go/ezpz/varid"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

func TestDistanceResidualAndRowCount(t *testing.T) {
	g := &varid.IdGen{}
	p := varid.NewDatumPoint(g)
	q := varid.NewDatumPoint(g)
	c := Distance(p, q, 4)

	assert.Equal(t, 1, c.RowCount())

	x := []float64{0, 0, 4, 0}
	out := make([]float64, 1)
	c.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)

	x = []float64{0, 0, 3, 4} // |PQ| == 5
	c.Evaluate(x, 0, out)
	assert.InDelta(t, 1, out[0], 1e-12)
}

func TestHorizontalVerticalResiduals(t *testing.T) {
	g := &varid.IdGen{}
	p := varid.NewDatumPoint(g)
	q := varid.NewDatumPoint(g)

	h := Horizontal(p, q)
	x := []float64{0, 2, 5, 2}
	out := make([]float64, 1)
	h.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)

	v := Vertical(p, q)
	x = []float64{3, 0, 3, 9}
	v.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)
}

func TestPointOnArcInsideAndOutsideSpan(t *testing.T) {
	g := &varid.IdGen{}
	center := varid.NewDatumPoint(g)
	pt := varid.NewDatumPoint(g)
	arc := varid.NewDatumArc(g, center, varid.CCW)

	c := PointOnArc(pt, center, arc.Radius, arc.StartAngle, arc.EndAngle, varid.CCW)

	n := g.Count()
	x := make([]float64, n)
	x[arc.Radius] = 2
	x[arc.StartAngle] = 0
	x[arc.EndAngle] = math.Pi / 2

	// Point at angle pi/4, on the circle: inside the span, all rows ~0.
	x[pt.X] = 2 * math.Cos(math.Pi/4)
	x[pt.Y] = 2 * math.Sin(math.Pi/4)
	out := make([]float64, 3)
	c.Evaluate(x, 1e-2, out)
	assert.InDelta(t, 0, out[0], 1e-9)
	assert.InDelta(t, 0, out[1], 1e-9)
	assert.InDelta(t, 0, out[2], 1e-9)

	// Point at angle -pi/4, on the circle but outside [0, pi/2]: excursion
	// past the start boundary must be strictly positive.
	x[pt.X] = 2 * math.Cos(-math.Pi/4)
	x[pt.Y] = 2 * math.Sin(-math.Pi/4)
	c.Evaluate(x, 1e-2, out)
	assert.InDelta(t, 0, out[0], 1e-9)
	assert.Greater(t, out[1], 0.0)
}

func TestParallelAndPerpendicular(t *testing.T) {
	g := &varid.IdGen{}
	l1 := varid.NewDatumLine(varid.NewDatumPoint(g), varid.NewDatumPoint(g))
	l2 := varid.NewDatumLine(varid.NewDatumPoint(g), varid.NewDatumPoint(g))

	par := Parallel(l1, l2)
	perp := Perpendicular(l1, l2)

	n := g.Count()
	x := make([]float64, n)
	x[l1.P.X], x[l1.P.Y] = 0, 0
	x[l1.Q.X], x[l1.Q.Y] = 1, 0
	x[l2.P.X], x[l2.P.Y] = 0, 1
	x[l2.Q.X], x[l2.Q.Y] = 1, 1

	out := make([]float64, 1)
	par.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)
	perp.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)

	x[l2.Q.X], x[l2.Q.Y] = 1, 2 // l2 now at 45 degrees: no longer parallel
	par.Evaluate(x, 0, out)
	assert.NotZero(t, out[0])
}

// assertJacobianMatchesFD cross-checks c's hand-derived analytic Jacobian
// at x against a finite-difference Jacobian of Evaluate, the way the
// teacher's num package validates analytic Jfcn callbacks against
// num.Jacobian. Slots are assigned as the touched VarIds themselves, so
// values can be compared column-for-column against fd's dense result
// without going through the sparsity package.
func assertJacobianMatchesFD(t *testing.T, c Constraint, x []float64, deadbandArc float64) {
	t.Helper()

	nRows := c.RowCount()
	f := func(y, xx []float64) {
		out := make([]float64, nRows)
		c.Evaluate(xx, deadbandArc, out)
		copy(y, out)
	}
	var jac mat.Dense
	fd.Jacobian(&jac, f, x, nil)

	touched := c.ColumnsTouched(nil)
	slots := make([][]int, nRows)
	for r := range slots {
		slots[r] = make([]int, len(touched))
		for lc := range touched {
			slots[r][lc] = r*len(touched) + lc
		}
	}
	values := make([]float64, nRows*len(touched))
	c.JacobianContribution(x, deadbandArc, slots, values)

	for row := 0; row < nRows; row++ {
		for lc, id := range touched {
			assert.InDeltaf(t, jac.At(row, int(id)), values[row*len(touched)+lc], 1e-5,
				"row %d col %d", row, id)
		}
	}
}

// randPoints fills a fresh x vector of length n with independent random
// coordinates for p and q; safe for Horizontal/Vertical/Coincident, which
// have no degenerate configuration.
func randPoints(rng *rand.Rand, n int, p, q varid.DatumPoint) []float64 {
	x := make([]float64, n)
	x[p.X], x[p.Y] = rng.Float64()*6-3, rng.Float64()*6-3
	x[q.X], x[q.Y] = rng.Float64()*6-3, rng.Float64()*6-3
	return x
}

// randLines fills x with two lines of random position/orientation, each
// with length >= 1 so Parallel/Perpendicular's direction vectors are
// never near zero.
func randLines(rng *rand.Rand, n int, l1, l2 varid.DatumLine) []float64 {
	x := make([]float64, n)
	place := func(l varid.DatumLine) {
		x[l.P.X], x[l.P.Y] = rng.Float64()*4-2, rng.Float64()*4-2
		angle := rng.Float64() * 2 * math.Pi
		length := 1 + rng.Float64()*2
		x[l.Q.X] = x[l.P.X] + length*math.Cos(angle)
		x[l.Q.Y] = x[l.P.Y] + length*math.Sin(angle)
	}
	place(l1)
	place(l2)
	return x
}

// arcFDCase builds a PointOnArc scenario with the point placed exactly on
// the circle (so the circle-membership row is always active) and either
// well inside the angular span (both excursion rows flat at zero) or well
// outside it on the start-boundary side (the start row active), with
// enough margin from every kink (span midpoints, deadband boundary, the
// ±pi wrap) that a finite-difference step can't cross one.
func arcFDCase(rng *rand.Rand, orientation varid.Orientation, inside bool) (Constraint, []float64) {
	g := &varid.IdGen{}
	center := varid.NewDatumPoint(g)
	pt := varid.NewDatumPoint(g)
	arc := varid.NewDatumArc(g, center, orientation)
	c := PointOnArc(pt, center, arc.Radius, arc.StartAngle, arc.EndAngle, orientation)

	x := make([]float64, g.Count())
	cx, cy := rng.Float64()*2-1, rng.Float64()*2-1
	radius := 1 + rng.Float64()*2
	x[center.X], x[center.Y] = cx, cy
	x[arc.Radius] = radius

	start := rng.Float64()*0.6 - 1.2
	span := 1.0 + rng.Float64()*1.0
	var end float64
	if orientation == varid.CCW {
		end = start + span
	} else {
		end = start - span
	}
	x[arc.StartAngle] = start
	x[arc.EndAngle] = end

	margin := 0.3 + rng.Float64()*0.3
	var theta float64
	switch {
	case inside && orientation == varid.CCW:
		theta = start + span/2
	case inside:
		theta = start - span/2
	case orientation == varid.CCW:
		theta = start - margin
	default:
		theta = start + margin
	}
	x[pt.X] = cx + radius*math.Cos(theta)
	x[pt.Y] = cy + radius*math.Sin(theta)
	return c, x
}

// TestJacobianMatchesFiniteDifferenceAllKinds is spec.md §8's "Jacobian
// correctness" property: for every constraint kind, the analytic
// Jacobian matches finite differences to 1e-5 at 10 randomized
// evaluation points.
func TestJacobianMatchesFiniteDifferenceAllKinds(t *testing.T) {
	const trials = 10
	rng := rand.New(rand.NewSource(20260731))

	cases := map[string]func(i int) (Constraint, []float64, float64){
		"Fixed": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			p := varid.NewDatumPoint(g)
			c := Fixed(p.X, rng.Float64()*10-5)
			x := []float64{rng.Float64()*10 - 5, rng.Float64()*10 - 5}
			return c, x, 0
		},
		"Distance": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			p := varid.NewDatumPoint(g)
			q := varid.NewDatumPoint(g)
			c := Distance(p, q, 1+rng.Float64()*3)
			x := make([]float64, g.Count())
			x[p.X], x[p.Y] = rng.Float64()*4-2, rng.Float64()*4-2
			x[q.X] = x[p.X] + 1 + rng.Float64()*2
			x[q.Y] = x[p.Y] + rng.Float64()*2 - 1
			return c, x, 0
		},
		"Horizontal": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			p := varid.NewDatumPoint(g)
			q := varid.NewDatumPoint(g)
			return Horizontal(p, q), randPoints(rng, g.Count(), p, q), 0
		},
		"Vertical": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			p := varid.NewDatumPoint(g)
			q := varid.NewDatumPoint(g)
			return Vertical(p, q), randPoints(rng, g.Count(), p, q), 0
		},
		"Parallel": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			l1 := varid.NewDatumLine(varid.NewDatumPoint(g), varid.NewDatumPoint(g))
			l2 := varid.NewDatumLine(varid.NewDatumPoint(g), varid.NewDatumPoint(g))
			return Parallel(l1, l2), randLines(rng, g.Count(), l1, l2), 0
		},
		"Perpendicular": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			l1 := varid.NewDatumLine(varid.NewDatumPoint(g), varid.NewDatumPoint(g))
			l2 := varid.NewDatumLine(varid.NewDatumPoint(g), varid.NewDatumPoint(g))
			return Perpendicular(l1, l2), randLines(rng, g.Count(), l1, l2), 0
		},
		"PointOnCircle": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			center := varid.NewDatumPoint(g)
			pt := varid.NewDatumPoint(g)
			circle := varid.NewDatumCircle(g, center)
			c := PointOnCircle(pt, center, circle.Radius)
			x := make([]float64, g.Count())
			cx, cy := rng.Float64()*2-1, rng.Float64()*2-1
			radius := 1 + rng.Float64()*2
			theta := rng.Float64() * 2 * math.Pi
			x[center.X], x[center.Y] = cx, cy
			x[circle.Radius] = radius
			x[pt.X] = cx + radius*math.Cos(theta)
			x[pt.Y] = cy + radius*math.Sin(theta)
			return c, x, 0
		},
		"PointOnArcInsideSpan": func(i int) (Constraint, []float64, float64) {
			orientation := varid.CCW
			if i%2 == 1 {
				orientation = varid.CW
			}
			c, x := arcFDCase(rng, orientation, true)
			return c, x, 1e-2
		},
		"PointOnArcOutsideSpan": func(i int) (Constraint, []float64, float64) {
			orientation := varid.CCW
			if i%2 == 1 {
				orientation = varid.CW
			}
			c, x := arcFDCase(rng, orientation, false)
			return c, x, 1e-2
		},
		"Coincident": func(int) (Constraint, []float64, float64) {
			g := &varid.IdGen{}
			p := varid.NewDatumPoint(g)
			q := varid.NewDatumPoint(g)
			return Coincident(p, q), randPoints(rng, g.Count(), p, q), 0
		},
	}

	for name, gen := range cases {
		name, gen := name, gen
		t.Run(name, func(t *testing.T) {
			for i := 0; i < trials; i++ {
				c, x, deadband := gen(i)
				assertJacobianMatchesFD(t, c, x, deadband)
			}
		})
	}
}

func TestFixedResidualAndJacobian(t *testing.T) {
	g := &varid.IdGen{}
	p := varid.NewDatumPoint(g)
	c := Fixed(p.X, 5)

	x := []float64{5, 0}
	out := make([]float64, 1)
	c.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)

	slots := [][]int{{0}}
	values := make([]float64, 1)
	c.JacobianContribution(x, 0, slots, values)
	assert.Equal(t, 1.0, values[0])
}

func TestCoincidentTwoRows(t *testing.T) {
	g := &varid.IdGen{}
	p := varid.NewDatumPoint(g)
	q := varid.NewDatumPoint(g)
	c := Coincident(p, q)
	assert.Equal(t, 2, c.RowCount())

	x := []float64{1, 2, 1, 2}
	out := make([]float64, 2)
	c.Evaluate(x, 0, out)
	assert.InDelta(t, 0, out[0], 1e-12)
	assert.InDelta(t, 0, out[1], 1e-12)
}

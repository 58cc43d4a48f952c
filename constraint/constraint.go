// Package constraint implements the closed kind set of geometric
// constraints: per-kind residual evaluation and hand-derived analytic
// Jacobian entries, with fixed, kind-determined row counts.
//
// No automatic differentiation of user code is performed (spec Non-goal);
// every partial derivative below is hand-derived in the teacher's idiom of
// writing out the closed-form Jfcn alongside the residual.
package constraint

import (
	"math"

	"github.com/ezpz-go/ezpz/varid"
)

// EPSILON guards every divisor (distance, vector length, radius) so the
// library never divides by (near) zero; degenerate configurations fall
// back to a zero subgradient and rely on the Newton engine's damping to
// escape them.
const EPSILON = 1e-12

// Kind tags the closed variant of geometric constraints.
type Kind int

const (
	KindFixed Kind = iota
	KindDistance
	KindHorizontal
	KindVertical
	KindParallel
	KindPerpendicular
	KindPointOnCircle
	KindPointOnArc
	KindCoincident
)

// Constraint is a tagged variant over Kind. Only the fields relevant to
// the tag are meaningful; a single switch over Kind (design note: prefer a
// tagged variant over per-kind dynamic dispatch) drives evaluation.
type Constraint struct {
	Kind Kind

	// Fixed
	Id     varid.VarId
	Target float64

	// Distance / Horizontal / Vertical / PointOnCircle / Coincident: P, Q
	// are endpoints (P alone for PointOnCircle's point-on-circle subject).
	P, Q varid.DatumPoint

	// Distance
	Dist float64

	// Parallel / Perpendicular
	Line1, Line2 varid.DatumLine

	// PointOnCircle / PointOnArc
	Center      varid.DatumPoint
	Radius      varid.VarId
	StartAngle  varid.VarId
	EndAngle    varid.VarId
	Orientation varid.Orientation

	// DeadbandArc overrides the engine-wide Config.DeadbandArc for this
	// constraint when non-zero; normally left zero and the caller's
	// Config value is used (see newton.Config.DeadbandArc).
	DeadbandArc float64
}

// Fixed pins a single id to a target value: f = X[id] - v.
func Fixed(id varid.VarId, v float64) Constraint {
	return Constraint{Kind: KindFixed, Id: id, Target: v}
}

// Distance requires |PQ| == d.
func Distance(p, q varid.DatumPoint, d float64) Constraint {
	return Constraint{Kind: KindDistance, P: p, Q: q, Dist: d}
}

// Horizontal requires P and Q to share a y coordinate.
func Horizontal(p, q varid.DatumPoint) Constraint {
	return Constraint{Kind: KindHorizontal, P: p, Q: q}
}

// Vertical requires P and Q to share an x coordinate.
func Vertical(p, q varid.DatumPoint) Constraint {
	return Constraint{Kind: KindVertical, P: p, Q: q}
}

// Parallel requires the direction vectors of line1 and line2 to be
// collinear (cross product zero).
func Parallel(line1, line2 varid.DatumLine) Constraint {
	return Constraint{Kind: KindParallel, Line1: line1, Line2: line2}
}

// Perpendicular requires the direction vectors of line1 and line2 to be
// orthogonal (dot product zero).
func Perpendicular(line1, line2 varid.DatumLine) Constraint {
	return Constraint{Kind: KindPerpendicular, Line1: line1, Line2: line2}
}

// PointOnCircle requires pt to lie on the circle (center, radius).
func PointOnCircle(pt, center varid.DatumPoint, radius varid.VarId) Constraint {
	return Constraint{Kind: KindPointOnCircle, P: pt, Center: center, Radius: radius}
}

// PointOnArc requires pt to lie on the circle and within the angular span
// [start, end] traversed in orientation direction.
func PointOnArc(pt, center varid.DatumPoint, radius, start, end varid.VarId, orientation varid.Orientation) Constraint {
	return Constraint{
		Kind: KindPointOnArc, P: pt, Center: center, Radius: radius,
		StartAngle: start, EndAngle: end, Orientation: orientation,
	}
}

// Coincident requires P and Q to occupy the same point (x and y rows).
func Coincident(p, q varid.DatumPoint) Constraint {
	return Constraint{Kind: KindCoincident, P: p, Q: q}
}

// RowCount returns the fixed number of residual rows this constraint
// contributes.
func (c Constraint) RowCount() int {
	switch c.Kind {
	case KindPointOnArc:
		return 3
	case KindCoincident:
		return 2
	default:
		return 1
	}
}

// ColumnsTouched appends the distinct VarIds this constraint reads, across
// all of its rows, to out and returns the new slice. The order is stable
// so callers (the sparsity builder) can rely on it for slot assignment.
func (c Constraint) ColumnsTouched(out []varid.VarId) []varid.VarId {
	switch c.Kind {
	case KindFixed:
		return append(out, c.Id)
	case KindDistance, KindHorizontal, KindVertical, KindCoincident:
		return append(out, c.P.X, c.P.Y, c.Q.X, c.Q.Y)
	case KindParallel, KindPerpendicular:
		return append(out, c.Line1.P.X, c.Line1.P.Y, c.Line1.Q.X, c.Line1.Q.Y,
			c.Line2.P.X, c.Line2.P.Y, c.Line2.Q.X, c.Line2.Q.Y)
	case KindPointOnCircle:
		return append(out, c.P.X, c.P.Y, c.Center.X, c.Center.Y, c.Radius)
	case KindPointOnArc:
		return append(out, c.P.X, c.P.Y, c.Center.X, c.Center.Y, c.Radius, c.StartAngle, c.EndAngle)
	default:
		return out
	}
}

// Evaluate writes RowCount() residual values into out[0:RowCount()].
// deadbandArc is the arc angular-penalty deadband (Config.DeadbandArc,
// or the constraint's own override when non-zero).
func (c Constraint) Evaluate(x []float64, deadbandArc float64, out []float64) {
	switch c.Kind {
	case KindFixed:
		out[0] = x[c.Id] - c.Target

	case KindDistance:
		dx, dy := x[c.Q.X]-x[c.P.X], x[c.Q.Y]-x[c.P.Y]
		d := math.Hypot(dx, dy)
		out[0] = d - c.Dist

	case KindHorizontal:
		out[0] = x[c.P.Y] - x[c.Q.Y]

	case KindVertical:
		out[0] = x[c.P.X] - x[c.Q.X]

	case KindParallel:
		ax, ay := dir(x, c.Line1)
		bx, by := dir(x, c.Line2)
		out[0] = ax*by - ay*bx // cross product

	case KindPerpendicular:
		ax, ay := dir(x, c.Line1)
		bx, by := dir(x, c.Line2)
		out[0] = ax*bx + ay*by // dot product

	case KindPointOnCircle:
		out[0] = circleResidual(x, c.P, c.Center, c.Radius)

	case KindPointOnArc:
		c.evaluateArc(x, deadbandArc, out)

	case KindCoincident:
		out[0] = x[c.P.X] - x[c.Q.X]
		out[1] = x[c.P.Y] - x[c.Q.Y]
	}
}

func dir(x []float64, l varid.DatumLine) (dx, dy float64) {
	return x[l.Q.X] - x[l.P.X], x[l.Q.Y] - x[l.P.Y]
}

func circleResidual(x []float64, pt, center varid.DatumPoint, radius varid.VarId) float64 {
	dx, dy := x[pt.X]-x[center.X], x[pt.Y]-x[center.Y]
	return math.Hypot(dx, dy) - x[radius]
}

// wrapToPi normalizes theta into (-pi, pi].
func wrapToPi(theta float64) float64 {
	for theta > math.Pi {
		theta -= 2 * math.Pi
	}
	for theta <= -math.Pi {
		theta += 2 * math.Pi
	}
	return theta
}

func (c Constraint) evaluateArc(x []float64, deadbandArc float64, out []float64) {
	circ := circleResidual(x, c.P, c.Center, c.Radius)
	out[0] = circ

	if c.DeadbandArc != 0 {
		deadbandArc = c.DeadbandArc
	}
	if deadbandArc <= 0 {
		deadbandArc = 1e-3
	}
	if math.Abs(circ) > deadbandArc {
		// Point not yet near the circle: the angular gradient would pull
		// it around the circle on a misleading arc; disable both rows.
		out[1] = 0
		out[2] = 0
		return
	}

	theta := math.Atan2(x[c.P.Y]-x[c.Center.Y], x[c.P.X]-x[c.Center.X])
	start, end := x[c.StartAngle], x[c.EndAngle]

	var excursionStart, excursionEnd float64
	if c.Orientation == varid.CCW {
		excursionStart = -wrapToPi(theta - start)
		excursionEnd = wrapToPi(theta - end)
	} else {
		excursionStart = wrapToPi(theta - start)
		excursionEnd = -wrapToPi(theta - end)
	}
	out[1] = math.Max(0, excursionStart)
	out[2] = math.Max(0, excursionEnd)
}

// JacobianContribution writes the partial derivatives of this
// constraint's rows with respect to ColumnsTouched into values at the
// slots given by pattern (slots[row][localCol] is the index into values
// for the (row, ColumnsTouched()[localCol]) entry, or -1 if that column is
// pinned and not part of the active system). It must not allocate.
func (c Constraint) JacobianContribution(x []float64, deadbandArc float64, slots [][]int, values []float64) {
	switch c.Kind {
	case KindFixed:
		setSlot(slots, values, 0, 0, 1)

	case KindDistance:
		dx, dy := x[c.Q.X]-x[c.P.X], x[c.Q.Y]-x[c.P.Y]
		d := math.Hypot(dx, dy)
		if d < EPSILON {
			// Degenerate: subgradient zero, rely on damping to escape.
			setSlot(slots, values, 0, 0, 0)
			setSlot(slots, values, 0, 1, 0)
			setSlot(slots, values, 0, 2, 0)
			setSlot(slots, values, 0, 3, 0)
			return
		}
		setSlot(slots, values, 0, 0, -dx/d) // d/dpx
		setSlot(slots, values, 0, 1, -dy/d) // d/dpy
		setSlot(slots, values, 0, 2, dx/d)  // d/dqx
		setSlot(slots, values, 0, 3, dy/d)  // d/dqy

	case KindHorizontal:
		setSlot(slots, values, 0, 0, 0)  // d/dpx (px,py,qx,qy order)
		setSlot(slots, values, 0, 1, 1)  // d/dpy
		setSlot(slots, values, 0, 2, 0)  // d/dqx
		setSlot(slots, values, 0, 3, -1) // d/dqy

	case KindVertical:
		setSlot(slots, values, 0, 0, 1)
		setSlot(slots, values, 0, 1, 0)
		setSlot(slots, values, 0, 2, -1)
		setSlot(slots, values, 0, 3, 0)

	case KindParallel:
		c.jacobianCrossOrDot(x, slots, values, true)

	case KindPerpendicular:
		c.jacobianCrossOrDot(x, slots, values, false)

	case KindPointOnCircle:
		jacobianCircle(x, c.P, c.Center, c.Radius, 0, slots, values)

	case KindPointOnArc:
		c.jacobianArc(x, deadbandArc, slots, values)

	case KindCoincident:
		setSlot(slots, values, 0, 0, 1)
		setSlot(slots, values, 0, 1, 0)
		setSlot(slots, values, 0, 2, -1)
		setSlot(slots, values, 0, 3, 0)
		setSlot(slots, values, 1, 0, 0)
		setSlot(slots, values, 1, 1, 1)
		setSlot(slots, values, 1, 2, 0)
		setSlot(slots, values, 1, 3, -1)
	}
}

func setSlot(slots [][]int, values []float64, row, localCol int, v float64) {
	slot := slots[row][localCol]
	if slot < 0 {
		return
	}
	values[slot] = v
}

// jacobianCrossOrDot fills the Jacobian for Parallel (cross) or
// Perpendicular (dot) over the 8 columns
// [l1.P.X,l1.P.Y,l1.Q.X,l1.Q.Y, l2.P.X,l2.P.Y,l2.Q.X,l2.Q.Y].
func (c Constraint) jacobianCrossOrDot(x []float64, slots [][]int, values []float64, cross bool) {
	ax, ay := dir(x, c.Line1)
	bx, by := dir(x, c.Line2)
	// f = ax*by - ay*bx (cross)  or  f = ax*bx + ay*by (dot)
	var dA_x, dA_y, dB_x, dB_y float64
	if cross {
		dA_x, dA_y = by, -bx
		dB_x, dB_y = -ay, ax
	} else {
		dA_x, dA_y = bx, by
		dB_x, dB_y = ax, ay
	}
	// a = Q1 - P1, b = Q2 - P2
	setSlot(slots, values, 0, 0, -dA_x) // d/dP1x
	setSlot(slots, values, 0, 1, -dA_y) // d/dP1y
	setSlot(slots, values, 0, 2, dA_x)  // d/dQ1x
	setSlot(slots, values, 0, 3, dA_y)  // d/dQ1y
	setSlot(slots, values, 0, 4, -dB_x) // d/dP2x
	setSlot(slots, values, 0, 5, -dB_y) // d/dP2y
	setSlot(slots, values, 0, 6, dB_x)  // d/dQ2x
	setSlot(slots, values, 0, 7, dB_y)  // d/dQ2y
}

// jacobianCircle fills the shared circle-membership row (columns
// [ptx,pty,cx,cy,r]) for both PointOnCircle and PointOnArc row 0.
func jacobianCircle(x []float64, pt, center varid.DatumPoint, radius varid.VarId, row int, slots [][]int, values []float64) {
	dx, dy := x[pt.X]-x[center.X], x[pt.Y]-x[center.Y]
	d := math.Hypot(dx, dy)
	if d < EPSILON {
		setSlot(slots, values, row, 0, 0)
		setSlot(slots, values, row, 1, 0)
		setSlot(slots, values, row, 2, 0)
		setSlot(slots, values, row, 3, 0)
		setSlot(slots, values, row, 4, -1)
		return
	}
	setSlot(slots, values, row, 0, dx/d)  // d/dptx
	setSlot(slots, values, row, 1, dy/d)  // d/dpty
	setSlot(slots, values, row, 2, -dx/d) // d/dcx
	setSlot(slots, values, row, 3, -dy/d) // d/dcy
	setSlot(slots, values, row, 4, -1)    // d/dr
}

// jacobianArc fills all 3 rows over columns
// [ptx,pty,cx,cy,r,start,end].
func (c Constraint) jacobianArc(x []float64, deadbandArc float64, slots [][]int, values []float64) {
	jacobianCircle(x, c.P, c.Center, c.Radius, 0, slots, values)
	setSlot(slots, values, 0, 5, 0)
	setSlot(slots, values, 0, 6, 0)

	circ := circleResidual(x, c.P, c.Center, c.Radius)
	if c.DeadbandArc != 0 {
		deadbandArc = c.DeadbandArc
	}
	if deadbandArc <= 0 {
		deadbandArc = 1e-3
	}
	zeroAngularRows(slots, values)
	if math.Abs(circ) > deadbandArc {
		return
	}

	dx, dy := x[c.P.X]-x[c.Center.X], x[c.P.Y]-x[c.Center.Y]
	r2 := dx*dx + dy*dy
	if r2 < EPSILON {
		return
	}
	// d(theta)/d(ptx,pty,cx,cy)
	dThetaPx := -dy / r2
	dThetaPy := dx / r2
	dThetaCx := dy / r2
	dThetaCy := -dx / r2

	theta := math.Atan2(dy, dx)
	start, end := x[c.StartAngle], x[c.EndAngle]

	var excursionStart, excursionEnd, signStart, signEnd float64
	if c.Orientation == varid.CCW {
		excursionStart = -wrapToPi(theta - start)
		excursionEnd = wrapToPi(theta - end)
		signStart, signEnd = -1, 1
	} else {
		excursionStart = wrapToPi(theta - start)
		excursionEnd = -wrapToPi(theta - end)
		signStart, signEnd = 1, -1
	}

	if excursionStart > 0 {
		setSlot(slots, values, 1, 0, signStart*dThetaPx)
		setSlot(slots, values, 1, 1, signStart*dThetaPy)
		setSlot(slots, values, 1, 2, signStart*dThetaCx)
		setSlot(slots, values, 1, 3, signStart*dThetaCy)
		setSlot(slots, values, 1, 5, -signStart) // d/d(start)
	}
	if excursionEnd > 0 {
		setSlot(slots, values, 2, 0, signEnd*dThetaPx)
		setSlot(slots, values, 2, 1, signEnd*dThetaPy)
		setSlot(slots, values, 2, 2, signEnd*dThetaCx)
		setSlot(slots, values, 2, 3, signEnd*dThetaCy)
		setSlot(slots, values, 2, 6, -signEnd) // d/d(end)
	}
}

func zeroAngularRows(slots [][]int, values []float64) {
	for row := 1; row <= 2; row++ {
		for col := 0; col < 7; col++ {
			setSlot(slots, values, row, col, 0)
		}
	}
}

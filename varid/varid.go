// Package varid implements the monotonic variable-id allocator and the
// geometric datum entities (points, lines, circles, arcs) that constraints
// are expressed over.
package varid

// VarId is a dense, non-negative index into the solver's value vector X.
type VarId int

// IdGen issues VarIds monotonically. Ids are stable for the lifetime of one
// solve session; the zero value is ready to use.
type IdGen struct {
	next VarId
}

// Next returns a fresh, never-before-issued VarId.
func (o *IdGen) Next() VarId {
	id := o.next
	o.next++
	return id
}

// Count returns the number of ids issued so far.
func (o *IdGen) Count() int {
	return int(o.next)
}

// Point2D is a concrete (x, y) coordinate pair, as opposed to DatumPoint
// which only names the ids that hold such a pair inside X.
type Point2D struct {
	X, Y float64
}

// DatumPoint is a logical point entity: a pair of ids, one per coordinate.
// It does not own coordinate storage; the value vector X does.
type DatumPoint struct {
	X, Y VarId
}

// NewDatumPoint allocates two fresh ids (x then y) from g and returns the
// point referencing them.
func NewDatumPoint(g *IdGen) DatumPoint {
	return DatumPoint{X: g.Next(), Y: g.Next()}
}

// DatumLine is a line entity composed from two DatumPoints. It owns no ids
// of its own; Horizontal/Vertical constraints take the two endpoints
// directly, while Parallel/Perpendicular take two DatumLines.
type DatumLine struct {
	P, Q DatumPoint
}

// NewDatumLine builds a line over two existing points.
func NewDatumLine(p, q DatumPoint) DatumLine {
	return DatumLine{P: p, Q: q}
}

// Orientation is the traversal direction of an arc from its start angle to
// its end angle.
type Orientation int

const (
	// CCW traverses the arc counter-clockwise from start to end.
	CCW Orientation = iota
	// CW traverses the arc clockwise from start to end.
	CW
)

// DatumCircle is composed from a center point plus a scalar radius id.
type DatumCircle struct {
	Center DatumPoint
	Radius VarId
}

// NewDatumCircle allocates the radius id from g and pairs it with center.
func NewDatumCircle(g *IdGen, center DatumPoint) DatumCircle {
	return DatumCircle{Center: center, Radius: g.Next()}
}

// DatumArc is a DatumCircle plus start/end angle ids and a fixed
// orientation (orientation is a structural property, not solved for).
type DatumArc struct {
	Center      DatumPoint
	Radius      VarId
	StartAngle  VarId
	EndAngle    VarId
	Orientation Orientation
}

// NewDatumArc allocates radius/start/end ids from g.
func NewDatumArc(g *IdGen, center DatumPoint, orientation Orientation) DatumArc {
	return DatumArc{
		Center:      center,
		Radius:      g.Next(),
		StartAngle:  g.Next(),
		EndAngle:    g.Next(),
		Orientation: orientation,
	}
}

// Circle returns the DatumCircle underlying this arc, for constraints that
// only care about circle membership.
func (o DatumArc) Circle() DatumCircle {
	return DatumCircle{Center: o.Center, Radius: o.Radius}
}

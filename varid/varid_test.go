package varid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdGenMonotonic(t *testing.T) {
	g := &IdGen{}
	a := g.Next()
	b := g.Next()
	c := g.Next()
	assert.Equal(t, VarId(0), a)
	assert.Equal(t, VarId(1), b)
	assert.Equal(t, VarId(2), c)
	assert.Equal(t, 3, g.Count())
}

func TestNewDatumPointAllocatesTwoIds(t *testing.T) {
	g := &IdGen{}
	p := NewDatumPoint(g)
	q := NewDatumPoint(g)
	assert.Equal(t, VarId(0), p.X)
	assert.Equal(t, VarId(1), p.Y)
	assert.Equal(t, VarId(2), q.X)
	assert.Equal(t, VarId(3), q.Y)
}

func TestNewDatumArcAllocatesThreeScalars(t *testing.T) {
	g := &IdGen{}
	center := NewDatumPoint(g)
	arc := NewDatumArc(g, center, CCW)
	assert.NotEqual(t, arc.Radius, arc.StartAngle)
	assert.NotEqual(t, arc.StartAngle, arc.EndAngle)
	assert.Equal(t, center, arc.Circle().Center)
	assert.Equal(t, arc.Radius, arc.Circle().Radius)
}

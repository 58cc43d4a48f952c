package ezpzerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewFormatsMessage(t *testing.T) {
	err := New(SingularJacobian, "pivot too small: %g", 1e-20)
	assert.Equal(t, "SingularJacobian: pivot too small: 1e-20", err.Error())
}

func TestIsMatchesKind(t *testing.T) {
	err := New(IterLimit, "gave up after %d iterations", 50)
	assert.True(t, Is(err, IterLimit))
	assert.False(t, Is(err, Diverged))
	assert.False(t, Is(errors.New("plain"), IterLimit))
}

func TestKindStringCoversEveryKind(t *testing.T) {
	kinds := []Kind{ParseError, UnknownId, DimensionMismatch, SingularJacobian, Diverged, IterLimit, Stalled, Cancelled, Unsatisfiable}
	for _, k := range kinds {
		assert.NotEqual(t, "Unknown", k.String())
	}
}

func TestUnsatisfiableCarriesTierAndIndices(t *testing.T) {
	err := &SolveError{Kind: Unsatisfiable, Msg: "could not satisfy tier", Tier: 2, Indices: []int{3, 7}}
	assert.True(t, Is(err, Unsatisfiable))
	assert.Equal(t, 2, err.Tier)
	assert.Equal(t, []int{3, 7}, err.Indices)
}

package bigproblem

import (
	"context"
	"testing"

	"github.com/ezpz-go/ezpz/newton"
	"github.com/ezpz-go/ezpz/priority"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestGenerateLargeSystemSolves is spec.md §8 scenario 6 at its literal
// scale: 1000 points, 2000 constraints, expecting convergence in at most
// 10 total Newton iterations across every tier.
func TestGenerateLargeSystemSolves(t *testing.T) {
	reqs, guesses, gen := Generate(1000, 2000, 1)
	require.Len(t, reqs, 2000)

	layer := priority.NewLayer(newton.DefaultConfig())
	sol, err := layer.Solve(context.Background(), reqs, guesses, gen.Count(), nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, sol.Iterations, 10)
	assert.Empty(t, sol.Unsatisfied)
}

// TestGenerateSmallSystemSolvesQuickly exercises the same generator at a
// scale cheap enough to debug a failure in isolation from the full
// scenario-6 scale above.
func TestGenerateSmallSystemSolvesQuickly(t *testing.T) {
	reqs, guesses, gen := Generate(40, 60, 1)
	require.NotEmpty(t, reqs)

	layer := priority.NewLayer(newton.DefaultConfig())
	sol, err := layer.Solve(context.Background(), reqs, guesses, gen.Count(), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sol.Iterations, 0)
	assert.LessOrEqual(t, len(sol.Unsatisfied), len(reqs))
}

func TestGenerateIsReproducibleForSameSeed(t *testing.T) {
	reqs1, guesses1, _ := Generate(10, 15, 42)
	reqs2, guesses2, _ := Generate(10, 15, 42)
	assert.Equal(t, len(reqs1), len(reqs2))
	assert.Equal(t, guesses1, guesses2)
}

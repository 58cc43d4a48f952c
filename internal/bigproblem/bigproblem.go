// Package bigproblem generates large synthetic constraint systems for the
// "no hot-loop allocations" / "iterations <= 10" scale tests (spec.md §8
// scenario 6: 1000 points, 2000 constraints), in the style of the
// teacher's throwaway examples/*.go problem constructors generalized from
// a literal triplet to a programmatic generator.
package bigproblem

import (
	"math"
	"math/rand"

	"github.com/ezpz-go/ezpz/constraint"
	"github.com/ezpz-go/ezpz/priority"
	"github.com/ezpz-go/ezpz/varid"
)

// Generate builds nPoints points laid out on a rough grid, with initial
// guesses jittered around their grid positions. Point 0 is pinned by two
// highest-priority Fixed constraints; the remaining requests, up to
// nConstraints, are Distance constraints at priority 128 between random
// pairs of distinct points, each targeting the pair's grid distance.
// seed makes the problem reproducible.
func Generate(nPoints, nConstraints int, seed int64) ([]priority.Request, map[varid.VarId]float64, *varid.IdGen) {
	rng := rand.New(rand.NewSource(seed))
	gen := &varid.IdGen{}

	points := make([]varid.DatumPoint, nPoints)
	guesses := make(map[varid.VarId]float64, nPoints*2)
	side := 1
	for side*side < nPoints {
		side++
	}
	for i := range points {
		points[i] = varid.NewDatumPoint(gen)
		gx := float64(i % side)
		gy := float64(i / side)
		// Small jitter around the grid position: enough to force real
		// Newton work, not so much that the large-system scenario needs
		// more than a handful of iterations to converge.
		guesses[points[i].X] = gx + (rng.Float64()-0.5)*0.1
		guesses[points[i].Y] = gy + (rng.Float64()-0.5)*0.1
	}

	var reqs []priority.Request
	// Anchor the first point so the system cannot translate freely. This
	// does not pin rotation about that point, which no Distance constraint
	// fixes either.
	reqs = append(reqs, priority.HighestPriority(constraint.Fixed(points[0].X, 0)))
	reqs = append(reqs, priority.HighestPriority(constraint.Fixed(points[0].Y, 0)))

	for len(reqs) < nConstraints {
		i := rng.Intn(nPoints)
		j := rng.Intn(nPoints)
		if i == j {
			continue
		}
		gx1, gy1 := float64(i%side), float64(i/side)
		gx2, gy2 := float64(j%side), float64(j/side)
		d := dist(gx1, gy1, gx2, gy2)
		reqs = append(reqs, priority.NewRequest(constraint.Distance(points[i], points[j], d), 128))
	}

	return reqs, guesses, gen
}

func dist(x1, y1, x2, y2 float64) float64 {
	return math.Hypot(x2-x1, y2-y1)
}

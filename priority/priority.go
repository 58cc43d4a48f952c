// Package priority implements the tiered relaxation layer: constraints
// are grouped into descending-priority tiers and solved highest-first;
// ids pinned by a satisfied higher-priority tier are held fixed in later
// tiers, while constraints a tier failed to satisfy are carried forward
// into the next tier as large-weight soft-penalty rows, so a later tier
// cannot undo an earlier one while still seeking its own satisfaction.
package priority

import (
	"context"
	"math"
	"sort"

	"github.com/ezpz-go/ezpz/constraint"
	"github.com/ezpz-go/ezpz/diagnostics"
	"github.com/ezpz-go/ezpz/ezpzerr"
	"github.com/ezpz-go/ezpz/internal/logx"
	"github.com/ezpz-go/ezpz/jacobian"
	"github.com/ezpz-go/ezpz/newton"
	"github.com/ezpz-go/ezpz/sparsity"
	"github.com/ezpz-go/ezpz/varid"
)

// HighestPriorityValue is the named sentinel equal to the maximum tier.
const HighestPriorityValue uint8 = 255

// SoftPenaltyWeight scales a carried-forward (not-yet-satisfied) higher
// priority constraint's residual and Jacobian rows when it reappears in a
// later, lower-priority tier.
const SoftPenaltyWeight = 1e3

// Request pairs a Constraint with its priority; HighestPriorityValue is
// reserved for HighestPriority.
type Request struct {
	Constraint constraint.Constraint
	Priority   uint8
}

// NewRequest builds a Request at an explicit priority.
func NewRequest(c constraint.Constraint, priority uint8) Request {
	return Request{Constraint: c, Priority: priority}
}

// HighestPriority builds a Request at the maximum tier.
func HighestPriority(c constraint.Constraint) Request {
	return Request{Constraint: c, Priority: HighestPriorityValue}
}

// Layer orchestrates the tiered solve.
type Layer struct {
	cfg newton.Config
}

// NewLayer builds a relaxation layer over the given per-tier Newton
// configuration.
func NewLayer(cfg newton.Config) *Layer {
	return &Layer{cfg: cfg}
}

type tierConstraint struct {
	origIndex int
	c         constraint.Constraint
	weight    float64
}

// Solve groups reqs into descending-priority tiers and solves each in
// turn over nIds-length X, seeded from guesses (unlisted ids default to
// zero). hook, if non-nil, receives every Newton iteration across every
// tier.
func (o *Layer) Solve(ctx context.Context, reqs []Request, guesses map[varid.VarId]float64, nIds int, hook newton.ProgressHook) (*diagnostics.Solution, error) {
	x := make([]float64, nIds)
	for id, v := range guesses {
		if int(id) >= nIds {
			return nil, ezpzerr.New(ezpzerr.UnknownId, "initial guess references id %d beyond %d allocated ids", id, nIds)
		}
		x[int(id)] = v
	}

	tiers := groupByTier(reqs)

	fixedIds := make(map[varid.VarId]bool)
	satisfied := make([]bool, len(reqs))
	var unsatisfied []int
	var carried []tierConstraint
	totalIters := 0
	var lastResidualNorm float64

	for _, tier := range tiers {
		combined := make([]tierConstraint, 0, len(tier)+len(carried))
		for _, t := range tier {
			combined = append(combined, t)
		}
		combined = append(combined, carried...)

		cs := make([]constraint.Constraint, len(combined))
		for i, t := range combined {
			cs[i] = t.c
		}

		pattern, slots := sparsity.Build(cs, fixedIds)
		if pattern.NCols == 0 {
			// Every id this tier touches is already pinned; nothing to
			// solve, but still evaluate satisfaction against the fixed X
			// and pin anything newly satisfied for consistency.
			markSatisfaction(combined, x, o.cfg.DeadbandArc, o.cfg.TolConstraint, satisfied)
			for _, t := range combined {
				if satisfied[t.origIndex] {
					for _, id := range t.c.ColumnsTouched(nil) {
						fixedIds[id] = true
					}
				}
			}
			continue
		}

		cache := jacobian.NewCache(pattern)
		weights := make([]float64, len(combined))
		for i, t := range combined {
			weights[i] = t.weight
		}
		rowOffsets := rowOffsetsOf(cs)

		evalF := func(xs []float64, out []float64) {
			scatterInto(x, pattern.ColIds, xs)
			for i, c := range cs {
				row := out[rowOffsets[i] : rowOffsets[i]+c.RowCount()]
				c.Evaluate(x, o.cfg.DeadbandArc, row)
				if weights[i] != 1 {
					for r := range row {
						row[r] *= weights[i]
					}
				}
			}
		}
		evalJ := func(xs []float64, values []float64) {
			scatterInto(x, pattern.ColIds, xs)
			for i, c := range cs {
				c.JacobianContribution(x, o.cfg.DeadbandArc, slots[i], values)
				if weights[i] != 1 {
					for _, rowSlots := range slots[i] {
						for _, s := range rowSlots {
							if s >= 0 {
								values[s] *= weights[i]
							}
						}
					}
				}
			}
		}

		engine, err := newton.NewEngine(pattern, o.cfg, cache.MutableValues(), evalF, evalJ)
		if err != nil {
			return nil, err
		}

		tierIters := 0
		wrappedHook := func(stats newton.IterationStats) newton.ControlSignal {
			tierIters = stats.Iter + 1
			if hook != nil {
				return hook(stats)
			}
			return newton.Continue
		}

		xsub := gatherFrom(x, pattern.ColIds)
		_, err = engine.Run(ctx, xsub, wrappedHook)
		scatterInto(x, pattern.ColIds, xsub)

		totalIters += tierIters
		if err != nil && !isRecoverableTierError(err) {
			return nil, err
		}

		markSatisfaction(combined, x, o.cfg.DeadbandArc, o.cfg.TolConstraint, satisfied)

		carried = carried[:0]
		for _, t := range combined {
			if satisfied[t.origIndex] {
				touched := t.c.ColumnsTouched(nil)
				for _, id := range touched {
					fixedIds[id] = true
				}
			} else {
				carried = append(carried, tierConstraint{origIndex: t.origIndex, c: t.c, weight: SoftPenaltyWeight})
			}
		}

		lastResidualNorm = residualNormOf(cs, x, o.cfg.DeadbandArc)
		logx.Logger.Debug().Int("tier_size", len(tier)).Float64("residual_norm", lastResidualNorm).Msg("tier solved")
	}

	for i, ok := range satisfied {
		if !ok {
			unsatisfied = append(unsatisfied, i)
		}
	}

	return &diagnostics.Solution{
		Values:            x,
		Satisfied:         satisfied,
		Unsatisfied:       unsatisfied,
		Iterations:        totalIters,
		FinalResidualNorm: lastResidualNorm,
	}, nil
}

func groupByTier(reqs []Request) [][]tierConstraint {
	byPriority := make(map[uint8][]tierConstraint)
	for i, r := range reqs {
		byPriority[r.Priority] = append(byPriority[r.Priority], tierConstraint{origIndex: i, c: r.Constraint, weight: 1})
	}
	var priorities []uint8
	for p := range byPriority {
		priorities = append(priorities, p)
	}
	sort.Slice(priorities, func(i, j int) bool { return priorities[i] > priorities[j] })
	tiers := make([][]tierConstraint, len(priorities))
	for i, p := range priorities {
		tiers[i] = byPriority[p]
	}
	return tiers
}

func rowOffsetsOf(cs []constraint.Constraint) []int {
	offsets := make([]int, len(cs))
	n := 0
	for i, c := range cs {
		offsets[i] = n
		n += c.RowCount()
	}
	return offsets
}

func gatherFrom(x []float64, colIds []varid.VarId) []float64 {
	out := make([]float64, len(colIds))
	for i, id := range colIds {
		out[i] = x[id]
	}
	return out
}

func scatterInto(x []float64, colIds []varid.VarId, xs []float64) {
	for i, id := range colIds {
		x[id] = xs[i]
	}
}

func markSatisfaction(combined []tierConstraint, x []float64, deadbandArc, tolConstraint float64, satisfied []bool) {
	var rows [3]float64
	for _, t := range combined {
		row := rows[:t.c.RowCount()]
		t.c.Evaluate(x, deadbandArc, row)
		ok := true
		for _, v := range row {
			if v < 0 {
				v = -v
			}
			if v > tolConstraint {
				ok = false
				break
			}
		}
		satisfied[t.origIndex] = ok
	}
}

func residualNormOf(cs []constraint.Constraint, x []float64, deadbandArc float64) float64 {
	var rows [3]float64
	sum := 0.0
	for _, c := range cs {
		row := rows[:c.RowCount()]
		c.Evaluate(x, deadbandArc, row)
		for _, v := range row {
			sum += v * v
		}
	}
	if sum == 0 {
		return 0
	}
	return math.Sqrt(sum)
}

func isRecoverableTierError(err error) bool {
	return ezpzerr.Is(err, ezpzerr.IterLimit) || ezpzerr.Is(err, ezpzerr.Stalled)
}

// Package sparsity computes the symbolic CSC (column-major) sparsity
// pattern of a tier's Jacobian and the per-constraint slot map that lets
// refresh_jacobian write values in O(nnz) with no per-iteration search.
package sparsity

import (
	"sort"

	"github.com/ezpz-go/ezpz/constraint"
	"github.com/ezpz-go/ezpz/varid"
)

// Pattern is the symbolic, column-major nonzero index pattern of a
// tier's Jacobian. It is fixed for the tier and reused across every
// Newton iteration within it; only the values array changes.
type Pattern struct {
	NRows int
	NCols int

	// ColPtr has length NCols+1; RowIdx[ColPtr[c]:ColPtr[c+1]] are the
	// row indices present in column c, in ascending order.
	ColPtr []int
	RowIdx []int

	// ColIds maps a dense column index back to the VarId it represents,
	// for callers that need to translate solved columns back into X.
	ColIds []varid.VarId
}

// NNZ returns the number of structural nonzeros in the pattern.
func (o Pattern) NNZ() int {
	return len(o.RowIdx)
}

// SlotMap records, for each constraint and each (row, local-column) pair
// within that constraint, the index into the Pattern/values array the
// entry must be written to, or -1 if that column is pinned (held fixed by
// a prior tier) and so is not part of the active system.
type SlotMap [][][]int // [constraintIdx][localRow][localCol] -> slot

type pair struct {
	col, row int
	// back-reference for slot assignment
	ci, localRow, localCol int
}

// Build walks constraints assigning row offsets, collects (row,col)
// pairs, sorts by (col,row), deduplicates, and computes column start
// offsets, exactly as spec.md §4.2 describes. fixedIds names ids pinned
// by a prior tier's solution; their columns are excluded from the active
// set.
func Build(cs []constraint.Constraint, fixedIds map[varid.VarId]bool) (Pattern, SlotMap) {
	nrows := 0
	rowOffsets := make([]int, len(cs))
	for i, c := range cs {
		rowOffsets[i] = nrows
		nrows += c.RowCount()
	}

	// Assign dense column indices to every distinct, non-fixed id touched.
	colIndex := make(map[varid.VarId]int)
	var colIds []varid.VarId
	var touched []varid.VarId
	for _, c := range cs {
		touched = c.ColumnsTouched(touched[:0])
		for _, id := range touched {
			if fixedIds[id] {
				continue
			}
			if _, ok := colIndex[id]; !ok {
				colIndex[id] = len(colIds)
				colIds = append(colIds, id)
			}
		}
	}
	ncols := len(colIds)

	slotMap := make(SlotMap, len(cs))
	var pairs []pair
	for ci, c := range cs {
		nr := c.RowCount()
		touched = c.ColumnsTouched(touched[:0])
		ncol := len(touched)
		rows := make([][]int, nr)
		for r := 0; r < nr; r++ {
			rows[r] = make([]int, ncol)
			for lc, id := range touched {
				rows[r][lc] = -1
				if fixedIds[id] {
					continue
				}
				col := colIndex[id]
				globalRow := rowOffsets[ci] + r
				pairs = append(pairs, pair{col: col, row: globalRow, ci: ci, localRow: r, localCol: lc})
			}
		}
		slotMap[ci] = rows
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].col != pairs[j].col {
			return pairs[i].col < pairs[j].col
		}
		return pairs[i].row < pairs[j].row
	})

	colPtr := make([]int, ncols+1)
	var rowIdx []int
	slot := -1
	prevCol, prevRow := -1, -1
	for _, p := range pairs {
		if p.col != prevCol || p.row != prevRow {
			rowIdx = append(rowIdx, p.row)
			slot++
			prevCol, prevRow = p.col, p.row
			colPtr[p.col+1] = slot + 1
		}
		slotMap[p.ci][p.localRow][p.localCol] = slot
	}
	// fill forward any empty trailing columns
	for c := 1; c <= ncols; c++ {
		if colPtr[c] < colPtr[c-1] {
			colPtr[c] = colPtr[c-1]
		}
	}

	return Pattern{
		NRows:  nrows,
		NCols:  ncols,
		ColPtr: colPtr,
		RowIdx: rowIdx,
		ColIds: colIds,
	}, slotMap
}

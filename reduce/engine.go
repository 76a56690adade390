// Package reduce implements the single-process reduction primitives: reducing
// one row by another, full auto-reduction of a small pivot block, and the
// heap-driven block algorithm that reduces many rows by many pivots at once.
package reduce

import (
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

var log = logging.Logger("reduce")

// Debug turns on precondition checks of pivot ranges. The checks cost a map
// per call and are off by default.
var Debug = false

// ReduceRowByRow eliminates the leading column of by from row. byLeadInv must
// be the inverse of the leading coefficient of by; callers compute it once per
// pivot and reuse it across targets. The returned row never shares storage
// with by.
func ReduceRowByRow(f field.Field, row, by sparse.Row, byLeadInv field.Element) sparse.Row {
	c := row.CoefficientAt(by.LeadingColumn())
	if c == 0 {
		return row
	}
	k := f.Neg(f.Mul(c, byLeadInv))
	return row.AddScaled(f, by, k)
}

// FullyAutoReduce brings m into diagonal form in place. Zero rows, including
// those produced by linear dependence, are erased. Every remaining row has a
// leading coefficient of one and its leading column appears in no other row.
func FullyAutoReduce(f field.Field, m *sparse.Matrix) {
	m.Rows = autoReduce(f, m.Rows)
}

func autoReduce(f field.Field, rows []sparse.Row) []sparse.Row {
	rows = sparse.Compact(rows)

	// Forward: every pivot clears its leading column from the rows below it.
	for i := 0; i < len(rows); i++ {
		rows[i].Normalize(f)
		for j := i + 1; j < len(rows); j++ {
			rows[j] = ReduceRowByRow(f, rows[j], rows[i], 1)
		}
		rows = sparse.Compact(rows)
	}

	// Backward: every pivot clears its leading column from the rows above it.
	// Nothing can cancel to zero here since the rows already have distinct
	// leading columns.
	for i := len(rows) - 1; i > 0; i-- {
		for j := 0; j < i; j++ {
			rows[j] = ReduceRowByRow(f, rows[j], rows[i], 1)
		}
	}
	return rows
}

// ReduceRangeByRow reduces every target by every pivot, one pivot at a time.
// Targets that cancel completely are left in place as zero rows.
func ReduceRangeByRow(f field.Field, targets, pivots []sparse.Row) {
	if Debug {
		mustEchelon(pivots)
	}
	for _, p := range pivots {
		inv := f.Inv(p.LeadingCoefficient())
		for j := range targets {
			if len(targets[j]) == 0 {
				continue
			}
			targets[j] = ReduceRowByRow(f, targets[j], p, inv)
		}
	}
}

// ReduceRangeByMatrix reduces targets by pivots, feeding the pivots to the
// block algorithm blockSize rows at a time. A blockSize of one selects the
// row-by-row path and a non-positive blockSize uses all pivots as one block.
// The pivots must be in diagonal form; both paths then give the same result.
// Zero rows are kept so the caller can decide whether they are legal.
func ReduceRangeByMatrix(f field.Field, targets, pivots []sparse.Row, blockSize int) {
	if len(targets) == 0 || len(pivots) == 0 {
		return
	}
	if blockSize == 1 {
		ReduceRangeByRow(f, targets, pivots)
		return
	}
	if blockSize <= 0 {
		blockSize = len(pivots)
	}
	for i := 0; i < len(pivots); i += blockSize {
		ReduceRangeByRange(f, targets, pivots[i:min(i+blockSize, len(pivots))])
	}
}

func mustEchelon(pivots []sparse.Row) {
	if !sparse.IsEchelon(pivots) {
		panic(fmt.Sprintf("pivot range of %d rows is not in echelon form", len(pivots)))
	}
}

func mustDiagonal(pivots []sparse.Row) {
	if !sparse.IsDiagonal(pivots) {
		panic(fmt.Sprintf("pivot range of %d rows is not in diagonal form", len(pivots)))
	}
}

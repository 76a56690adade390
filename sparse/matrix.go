package sparse

import (
	"fmt"
	"sort"

	"github.com/ppopth/gbreduce/field"
)

// ColumnMap translates column indices back to terms for the caller. The
// reduction engine carries it along but never looks inside.
type ColumnMap []uint64

// Matrix is an ordered sequence of rows plus its column mapping. Row order is
// only an index; it carries no pivoting meaning.
type Matrix struct {
	Rows    []Row
	Columns ColumnMap
}

// NewMatrix returns a matrix over the given rows
func NewMatrix(rows []Row, columns ColumnMap) *Matrix {
	return &Matrix{Rows: rows, Columns: columns}
}

// Len returns the number of rows
func (m *Matrix) Len() int {
	return len(m.Rows)
}

// Swap exchanges two rows in O(1)
func (m *Matrix) Swap(i, j int) {
	m.Rows[i], m.Rows[j] = m.Rows[j], m.Rows[i]
}

// Append adds rows at the end of the matrix
func (m *Matrix) Append(rows ...Row) {
	m.Rows = append(m.Rows, rows...)
}

// Clone returns a deep copy of m
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Rows: make([]Row, len(m.Rows))}
	for i, r := range m.Rows {
		out.Rows[i] = r.Clone()
	}
	if m.Columns != nil {
		out.Columns = append(ColumnMap(nil), m.Columns...)
	}
	return out
}

// Compact erases zero rows, keeping the relative order of the others
func (m *Matrix) Compact() {
	m.Rows = Compact(m.Rows)
}

// Compact erases zero rows from a row range in place and returns the shortened
// range. Relative order of the remaining rows is kept.
func Compact(rows []Row) []Row {
	n := 0
	for i := range rows {
		if len(rows[i]) == 0 {
			continue
		}
		rows[n], rows[i] = rows[i], rows[n]
		n++
	}
	for i := n; i < len(rows); i++ {
		rows[i] = nil
	}
	return rows[:n]
}

// Equal returns true if both matrices hold the same rows in the same order
func (m *Matrix) Equal(other *Matrix) bool {
	return RowsEqual(m.Rows, other.Rows)
}

// RowsEqual compares two row ranges entry by entry
func RowsEqual(a, b []Row) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Slice returns a matrix viewing rows [i, j) of m. Rows are shared, the
// column map is carried over.
func (m *Matrix) Slice(i, j int) *Matrix {
	return &Matrix{Rows: m.Rows[i:j:j], Columns: m.Columns}
}

// MaxColumn returns the largest column used by any row, or -1 if m is zero
func (m *Matrix) MaxColumn() int {
	return m.Width() - 1
}

// NonZeroCount returns the total number of stored entries
func (m *Matrix) NonZeroCount() int {
	n := 0
	for _, r := range m.Rows {
		n += len(r)
	}
	return n
}

// Width returns one past the largest column used by any row
func (m *Matrix) Width() int {
	return Width(m.Rows)
}

// Width returns one past the largest column used by any row in the range
func Width(rows []Row) int {
	w := 0
	for _, r := range rows {
		if c := r.MaxColumn() + 1; c > w {
			w = c
		}
	}
	return w
}

// SortByLeadingColumn orders the rows by increasing leading column. Zero rows
// sort last.
func (m *Matrix) SortByLeadingColumn() {
	sort.SliceStable(m.Rows, func(i, j int) bool {
		a, b := m.Rows[i], m.Rows[j]
		if len(a) == 0 || len(b) == 0 {
			return len(b) == 0 && len(a) != 0
		}
		return a[0].Col < b[0].Col
	})
}

// IsEchelon reports whether the rows are nonzero and no two of them share a
// leading column.
func IsEchelon(rows []Row) bool {
	seen := make(map[uint32]struct{}, len(rows))
	for _, r := range rows {
		if len(r) == 0 {
			return false
		}
		if _, dup := seen[r[0].Col]; dup {
			return false
		}
		seen[r[0].Col] = struct{}{}
	}
	return true
}

// IsDiagonal reports whether the rows are in echelon form and, additionally,
// no leading column shows up anywhere else in the range.
func IsDiagonal(rows []Row) bool {
	if !IsEchelon(rows) {
		return false
	}
	leads := make(map[uint32]struct{}, len(rows))
	for _, r := range rows {
		leads[r[0].Col] = struct{}{}
	}
	for _, r := range rows {
		for _, e := range r[1:] {
			if _, ok := leads[e.Col]; ok {
				return false
			}
		}
	}
	return true
}

// IsEchelon reports whether m is in row echelon form
func (m *Matrix) IsEchelon() bool {
	return IsEchelon(m.Rows)
}

// IsDiagonal reports whether m is fully auto-reduced
func (m *Matrix) IsDiagonal() bool {
	return IsDiagonal(m.Rows)
}

// Validate checks the invariants of every row
func (m *Matrix) Validate(f field.Field) error {
	for i, r := range m.Rows {
		if err := r.Validate(f); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// Dense expands the rows into a dense matrix of the given width
func (m *Matrix) Dense(width int) [][]field.Element {
	out := make([][]field.Element, len(m.Rows))
	for i, r := range m.Rows {
		out[i] = r.Dense(width)
	}
	return out
}

// DenseRREF computes the fully reduced form of a row range with dense Gaussian
// elimination. Only suitable for small matrices; the sparse engine is checked
// against it.
func DenseRREF(f field.Field, rows []Row, width int) []Row {
	dense := make([][]field.Element, len(rows))
	for i, r := range rows {
		dense[i] = r.Dense(width)
	}
	rref := field.RREF(dense, f)
	out := make([]Row, len(rref))
	for i, d := range rref {
		out[i] = NewRowFromDense(d)
	}
	return out
}

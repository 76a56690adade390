// Package sparse holds the row and matrix types the reduction engine works on.
// A row stores only its nonzero entries, ordered by strictly increasing column.
package sparse

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppopth/gbreduce/field"
)

// Entry is one nonzero coefficient of a row
type Entry struct {
	Col uint32
	Val field.Element
}

// Row is an ordered, duplicate-free sequence of nonzero entries. The empty row
// is the zero row.
type Row []Entry

// NewRowFromDense builds a row from a dense coefficient vector, dropping zeros
func NewRowFromDense(dense []field.Element) Row {
	var r Row
	for col, v := range dense {
		if v != 0 {
			r = append(r, Entry{Col: uint32(col), Val: v})
		}
	}
	return r
}

// IsZero reports whether r is the zero row
func (r Row) IsZero() bool {
	return len(r) == 0
}

// LeadingColumn returns the column of the first entry. The row must not be empty.
func (r Row) LeadingColumn() uint32 {
	if len(r) == 0 {
		panic("leading column of an empty row")
	}
	return r[0].Col
}

// LeadingCoefficient returns the value of the first entry. The row must not be empty.
func (r Row) LeadingCoefficient() field.Element {
	if len(r) == 0 {
		panic("leading coefficient of an empty row")
	}
	return r[0].Val
}

// Normalize scales r in place so that its leading coefficient becomes one
func (r Row) Normalize(f field.Field) {
	if len(r) == 0 || r[0].Val == 1 {
		return
	}
	inv := f.Inv(r[0].Val)
	r[0].Val = 1
	for i := 1; i < len(r); i++ {
		r[i].Val = f.Mul(r[i].Val, inv)
	}
}

// CoefficientAt returns the coefficient at col, or zero if absent
func (r Row) CoefficientAt(col uint32) field.Element {
	i := sort.Search(len(r), func(i int) bool { return r[i].Col >= col })
	if i < len(r) && r[i].Col == col {
		return r[i].Val
	}
	return 0
}

// AddScaled returns r + s*other as a freshly allocated row, merging the two
// column sequences in one pass and dropping positions that cancel. Neither
// input is modified, so r and other may share storage.
func (r Row) AddScaled(f field.Field, other Row, s field.Element) Row {
	if s == 0 || len(other) == 0 {
		return r.Clone()
	}

	out := make(Row, 0, len(r)+len(other))
	i, j := 0, 0
	for i < len(r) && j < len(other) {
		a, b := r[i], other[j]
		switch {
		case a.Col < b.Col:
			out = append(out, a)
			i++
		case a.Col > b.Col:
			out = append(out, Entry{Col: b.Col, Val: f.Mul(s, b.Val)})
			j++
		default:
			if v := f.MulAdd(a.Val, s, b.Val); v != 0 {
				out = append(out, Entry{Col: a.Col, Val: v})
			}
			i++
			j++
		}
	}
	out = append(out, r[i:]...)
	for ; j < len(other); j++ {
		out = append(out, Entry{Col: other[j].Col, Val: f.Mul(s, other[j].Val)})
	}
	return out
}

// Clone returns a copy of r that shares no storage with it
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// Equal returns true if both rows hold the same entries
func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// Dense expands r into a vector of the given width
func (r Row) Dense(width int) []field.Element {
	out := make([]field.Element, width)
	for _, e := range r {
		out[e.Col] = e.Val
	}
	return out
}

// MaxColumn returns the last column of r, or -1 for the zero row
func (r Row) MaxColumn() int {
	if len(r) == 0 {
		return -1
	}
	return int(r[len(r)-1].Col)
}

// Validate checks the row invariants: strictly increasing columns and reduced,
// nonzero values.
func (r Row) Validate(f field.Field) error {
	for i, e := range r {
		if e.Val == 0 {
			return fmt.Errorf("zero entry stored at column %d", e.Col)
		}
		if !f.Contains(e.Val) {
			return fmt.Errorf("value %d at column %d is not reduced modulo %d", e.Val, e.Col, f.Modulus())
		}
		if i > 0 && r[i-1].Col >= e.Col {
			return fmt.Errorf("columns not strictly increasing at position %d", i)
		}
	}
	return nil
}

// String returns the row as a list of (column,value) pairs
func (r Row) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range r {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "(%d,%d)", e.Col, e.Val)
	}
	sb.WriteByte('}')
	return sb.String()
}

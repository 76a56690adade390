// Package wire turns contiguous row ranges into flat int64 buffers and moves
// them between workers. A buffer holds the row count, then the entry count of
// every row, then the (column, value) pairs of all rows back to back. The
// empty range is the empty buffer; a range of one zero row is [1, 0].
package wire

import (
	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

// EncodedLen returns the length of the buffer Encode produces for rows
func EncodedLen(rows []sparse.Row) int {
	if len(rows) == 0 {
		return 0
	}
	n := 1 + len(rows)
	for _, r := range rows {
		n += 2 * len(r)
	}
	return n
}

// Encode serializes a row range
func Encode(rows []sparse.Row) []int64 {
	if len(rows) == 0 {
		return nil
	}
	buf := make([]int64, 0, EncodedLen(rows))
	buf = append(buf, int64(len(rows)))
	for _, r := range rows {
		buf = append(buf, int64(len(r)))
	}
	for _, r := range rows {
		buf = appendEntries(buf, r)
	}
	return buf
}

func appendEntries(buf []int64, r sparse.Row) []int64 {
	for _, e := range r {
		buf = append(buf, int64(e.Col), int64(e.Val))
	}
	return buf
}

// Decode parses a buffer produced by Encode. Every row is checked against the
// row invariants of f, so a corrupted buffer never yields a malformed row.
func Decode(f field.Field, buf []int64) ([]sparse.Row, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	n := buf[0]
	if n < 0 || n > int64(len(buf)-1) {
		return nil, errors.Errorf("invalid row count %d in a buffer of %d", n, len(buf))
	}
	sizes := buf[1 : 1+n]
	pairs := buf[1+n:]

	total, limit := int64(0), int64(len(pairs))/2
	for i, s := range sizes {
		if s < 0 {
			return nil, errors.Errorf("row %d has negative size %d", i, s)
		}
		if s > limit-total {
			return nil, errors.Errorf("row %d of size %d overruns a buffer of %d values", i, s, len(pairs))
		}
		total += s
	}
	if 2*total != int64(len(pairs)) {
		return nil, errors.Errorf("rows hold %d entries but the buffer carries %d values", total, len(pairs))
	}

	rows := make([]sparse.Row, n)
	for i, s := range sizes {
		r, err := decodeRow(f, pairs[:2*s])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		rows[i] = r
		pairs = pairs[2*s:]
	}
	return rows, nil
}

func decodeRow(f field.Field, pairs []int64) (sparse.Row, error) {
	if len(pairs)%2 != 0 {
		return nil, errors.Errorf("odd number of values %d", len(pairs))
	}
	r := make(sparse.Row, len(pairs)/2)
	for j := range r {
		col, val := pairs[2*j], pairs[2*j+1]
		if col < 0 || col > int64(^uint32(0)) {
			return nil, errors.Errorf("column %d out of range", col)
		}
		if val < 0 {
			return nil, errors.Errorf("negative value %d at column %d", val, col)
		}
		r[j] = sparse.Entry{Col: uint32(col), Val: field.Element(val)}
	}
	if err := r.Validate(f); err != nil {
		return nil, errors.WithStack(err)
	}
	return r, nil
}

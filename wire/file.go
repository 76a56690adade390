package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

// maxFileBuffer bounds the length prefix accepted by ReadBuffer
const maxFileBuffer = 1 << 32

// WriteBuffer writes buf as a little-endian length followed by its values
func WriteBuffer(w io.Writer, buf []int64) error {
	if err := binary.Write(w, binary.LittleEndian, int64(len(buf))); err != nil {
		return errors.WithStack(err)
	}
	if err := binary.Write(w, binary.LittleEndian, buf); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ReadBuffer reads a buffer written by WriteBuffer
func ReadBuffer(r io.Reader) ([]int64, error) {
	var n int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errors.WithStack(err)
	}
	if n < 0 || n > maxFileBuffer {
		return nil, errors.Errorf("invalid buffer length %d", n)
	}
	buf := make([]int64, n)
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return nil, errors.Wrapf(err, "reading %d values", n)
	}
	return buf, nil
}

// WriteMatrix stores m as two buffers: the column map, then the encoded rows
func WriteMatrix(w io.Writer, m *sparse.Matrix) error {
	bw := bufio.NewWriter(w)
	cols := make([]int64, len(m.Columns))
	for i, c := range m.Columns {
		cols[i] = int64(c)
	}
	if err := WriteBuffer(bw, cols); err != nil {
		return err
	}
	if err := WriteBuffer(bw, Encode(m.Rows)); err != nil {
		return err
	}
	return errors.WithStack(bw.Flush())
}

// ReadMatrix loads a matrix written by WriteMatrix
func ReadMatrix(r io.Reader, f field.Field) (*sparse.Matrix, error) {
	br := bufio.NewReader(r)
	cols, err := ReadBuffer(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading column map")
	}
	buf, err := ReadBuffer(br)
	if err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	rows, err := Decode(f, buf)
	if err != nil {
		return nil, err
	}
	m := &sparse.Matrix{Rows: rows}
	if len(cols) > 0 {
		m.Columns = make(sparse.ColumnMap, len(cols))
		for i, c := range cols {
			m.Columns[i] = uint64(c)
		}
	}
	return m, nil
}

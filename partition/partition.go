// Package partition decides which worker holds which rows of a matrix and
// which worker supplies the next pivot block. Every worker derives the same
// answers locally from the row count, the group size and the block size.
package partition

import (
	"fmt"

	"github.com/ppopth/gbreduce/sparse"
)

// Layout describes a striped split of Rows rows across Workers workers. Rows
// are grouped in superblocks of BlockSize*Workers rows; within each one,
// worker id owns the BlockSize rows starting at id*BlockSize. The last,
// partial superblock is split as evenly as possible in worker-id order.
type Layout struct {
	Rows      int
	Workers   int
	BlockSize int
}

// NewLayout validates and returns a layout
func NewLayout(rows, workers, blockSize int) (Layout, error) {
	if rows < 0 || workers < 1 || blockSize < 1 {
		return Layout{}, fmt.Errorf("invalid layout: %d rows, %d workers, block size %d", rows, workers, blockSize)
	}
	return Layout{Rows: rows, Workers: workers, BlockSize: blockSize}, nil
}

func (l Layout) superblock() int {
	return l.BlockSize * l.Workers
}

// Blocks returns the number of full superblocks
func (l Layout) Blocks() int {
	return l.Rows / l.superblock()
}

// remainder returns the offset and length of worker id's slice of the last
// partial superblock, relative to its start.
func (l Layout) remainder(id int) (int, int) {
	rem := l.Rows % l.superblock()
	q, r := rem/l.Workers, rem%l.Workers
	n := q
	if id < r {
		n++
	}
	return id*q + min(id, r), n
}

// Ranges returns the [start, end) row ranges owned by worker id, in order
func (l Layout) Ranges(id int) [][2]int {
	var out [][2]int
	sb := l.superblock()
	for b := 0; b < l.Blocks(); b++ {
		start := b*sb + id*l.BlockSize
		out = append(out, [2]int{start, start + l.BlockSize})
	}
	if off, n := l.remainder(id); n > 0 {
		start := l.Blocks()*sb + off
		out = append(out, [2]int{start, start + n})
	}
	return out
}

// Share returns how many rows worker id receives
func (l Layout) Share(id int) int {
	_, n := l.remainder(id)
	return l.Blocks()*l.BlockSize + n
}

// TotalSteps returns the number of forward elimination steps. Each step takes
// at most BlockSize rows from one worker, workers take turns in id order, and
// the pass runs until the worker with the largest share is exhausted.
func (l Layout) TotalSteps() int {
	most := 0
	for id := 0; id < l.Workers; id++ {
		if n := (l.Share(id) + l.BlockSize - 1) / l.BlockSize; n > most {
			most = n
		}
	}
	return most * l.Workers
}

// SelectRowsForProcessor moves worker id's rows out of m into a new matrix.
// The rows are taken by swapping, so the slots left behind in m are zero rows.
// The column map is shared with the result.
func SelectRowsForProcessor(m *sparse.Matrix, id, workers, blockSize int) *sparse.Matrix {
	l, err := NewLayout(m.Len(), workers, blockSize)
	if err != nil {
		panic(err)
	}
	if id < 0 || id >= workers {
		panic(fmt.Sprintf("worker %d out of range [0, %d)", id, workers))
	}

	out := &sparse.Matrix{Rows: make([]sparse.Row, 0, l.Share(id)), Columns: m.Columns}
	for _, rg := range l.Ranges(id) {
		for i := rg[0]; i < rg[1]; i++ {
			var r sparse.Row
			r, m.Rows[i] = m.Rows[i], r
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}

// Scatter splits m into one matrix per worker. m is left with zero rows only.
func Scatter(m *sparse.Matrix, workers, blockSize int) []*sparse.Matrix {
	shards := make([]*sparse.Matrix, workers)
	for id := range shards {
		shards[id] = SelectRowsForProcessor(m, id, workers, blockSize)
	}
	return shards
}

// Gather concatenates the shards in worker-id order. The column map of the
// first non-nil shard is kept.
func Gather(shards []*sparse.Matrix) *sparse.Matrix {
	out := &sparse.Matrix{}
	for _, s := range shards {
		if s == nil {
			continue
		}
		if out.Columns == nil {
			out.Columns = s.Columns
		}
		out.Rows = append(out.Rows, s.Rows...)
	}
	return out
}

// ActiveWorkers picks how many of the available workers take part in the
// reduction of a matrix with the given number of rows. Small matrices are not
// worth the broadcast traffic.
func ActiveWorkers(rows, available int) int {
	if available < 1 {
		return 1
	}
	switch {
	case rows > 2000:
		return available
	case rows >= 200:
		return min(2, available)
	default:
		return 1
	}
}

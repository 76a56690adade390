package reduce

import (
	"fmt"

	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

// RowEchelon reduces m in a single process the way the distributed protocol
// does with one worker: blocks of blockSize rows are split off the front,
// fully auto-reduced and used to reduce the rest. With diagonal set, a
// backward pass then clears every leading column from the earlier blocks too.
//
// The result keeps the column map of m. m itself is consumed.
func RowEchelon(f field.Field, m *sparse.Matrix, blockSize, innerBlockSize int, diagonal bool) *sparse.Matrix {
	if blockSize < 1 {
		panic(fmt.Sprintf("invalid block size %d", blockSize))
	}

	rest := sparse.Compact(m.Rows)
	m.Rows = nil

	var result []sparse.Row
	var offsets []int
	for len(rest) > 0 {
		n := min(blockSize, len(rest))
		block := autoReduce(f, append([]sparse.Row(nil), rest[:n]...))
		rest = rest[n:]

		ReduceRangeByMatrix(f, rest, block, innerBlockSize)
		rest = sparse.Compact(rest)

		offsets = append(offsets, len(result))
		result = append(result, block...)
		log.Debugf("block %d: %d pivots, %d rows left", len(offsets)-1, len(block), len(rest))
	}

	if diagonal {
		for s := len(offsets) - 1; s > 0; s-- {
			end := len(result)
			if s+1 < len(offsets) {
				end = offsets[s+1]
			}
			pending := result[:offsets[s]]
			ReduceRangeByMatrix(f, pending, result[offsets[s]:end], innerBlockSize)
			if Debug {
				for _, r := range pending {
					if r.IsZero() {
						panic("backward pass produced a zero row")
					}
				}
			}
		}
	}

	return &sparse.Matrix{Rows: result, Columns: m.Columns}
}

package reduce

import (
	"container/heap"

	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

// accumulator is the numeric policy of the block algorithm. It is fixed once
// per field so the innermost loop is compiled for exactly one of them.
type accumulator interface {
	add(f field.Field, acc uint64, v field.Element) uint64
	mulAdd(f field.Field, acc uint64, k, v field.Element) uint64
	fold(f field.Field, acc uint64) field.Element
}

// narrowAcc sums a whole column run of products and reduces once at the end.
type narrowAcc struct{}

func (narrowAcc) add(f field.Field, acc uint64, v field.Element) uint64 {
	return f.AccumulateOne(acc, v)
}

func (narrowAcc) mulAdd(f field.Field, acc uint64, k, v field.Element) uint64 {
	return f.Accumulate(acc, k, v)
}

func (narrowAcc) fold(f field.Field, acc uint64) field.Element {
	return f.Fold(acc)
}

// wideAcc keeps the accumulator reduced after every product.
type wideAcc struct{}

func (wideAcc) add(f field.Field, acc uint64, v field.Element) uint64 {
	return uint64(f.Add(field.Element(acc), v))
}

func (wideAcc) mulAdd(f field.Field, acc uint64, k, v field.Element) uint64 {
	return uint64(f.MulAdd(field.Element(acc), k, v))
}

func (wideAcc) fold(_ field.Field, acc uint64) field.Element {
	return field.Element(acc)
}

// multiplier adds k times a pivot row into the accumulator of one target.
// A zero k terminates the list of a pivot.
type multiplier struct {
	k    field.Element
	slot int
}

// cursor walks the entries of one pivot or target row
type cursor struct {
	col   uint32
	row   int
	pos   int
	pivot bool
}

type cursorHeap []cursor

func (h cursorHeap) Len() int           { return len(h) }
func (h cursorHeap) Less(i, j int) bool { return h[i].col < h[j].col }
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x any) {
	*h = append(*h, x.(cursor))
}

func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// ReduceRangeByRange reduces targets by pivots in a single pass over the
// columns of both ranges. Each pivot row and each affected target row gets a
// cursor in a min-heap keyed by column, so every column is visited once no
// matter how many pivots touch it. Targets that no pivot touches are left
// untouched; targets that cancel completely become zero rows.
//
// The pivots must be in diagonal form. The multipliers are taken from the
// targets before any reduction, which only matches one-by-one reduction when
// no pivot can change the coefficient of another pivot's leading column.
func ReduceRangeByRange(f field.Field, targets, pivots []sparse.Row) {
	if Debug {
		mustDiagonal(pivots)
	}
	if f.Wide() {
		reduceBlock[wideAcc](f, targets, pivots)
	} else {
		reduceBlock[narrowAcc](f, targets, pivots)
	}
}

func reduceBlock[A accumulator](f field.Field, targets, pivots []sparse.Row) {
	var a A

	leads := make(map[uint32]int, len(pivots))
	invs := make([]field.Element, len(pivots))
	for i, p := range pivots {
		leads[p.LeadingColumn()] = i
		invs[i] = f.Inv(p.LeadingCoefficient())
	}

	// Count the multipliers of every pivot and give a slot to every target
	// that some pivot touches.
	counts := make([]int, len(pivots))
	slotOf := make([]int, len(targets))
	var slotTarget []int
	for j, t := range targets {
		slotOf[j] = -1
		for _, e := range t {
			i, ok := leads[e.Col]
			if !ok {
				continue
			}
			counts[i]++
			if slotOf[j] < 0 {
				slotOf[j] = len(slotTarget)
				slotTarget = append(slotTarget, j)
			}
		}
	}
	if len(slotTarget) == 0 {
		return
	}

	// Lay the per-pivot lists out back to back, each followed by a sentinel.
	start := make([]int, len(pivots)+1)
	for i, n := range counts {
		start[i+1] = start[i] + n + 1
	}
	mults := make([]multiplier, start[len(pivots)])
	fill := make([]int, len(pivots))
	copy(fill, start)
	capacity := make([]int, len(slotTarget))
	for s, j := range slotTarget {
		capacity[s] = len(targets[j])
		for _, e := range targets[j] {
			i, ok := leads[e.Col]
			if !ok {
				continue
			}
			mults[fill[i]] = multiplier{k: f.Neg(f.Mul(e.Val, invs[i])), slot: s}
			fill[i]++
			capacity[s] += len(pivots[i])
		}
	}

	acc := make([]uint64, len(slotTarget))
	dirty := make([]bool, len(slotTarget))
	out := make([]sparse.Row, len(slotTarget))
	for s := range out {
		out[s] = make(sparse.Row, 0, capacity[s])
	}

	h := make(cursorHeap, 0, len(pivots)+len(slotTarget))
	for i, p := range pivots {
		if counts[i] > 0 {
			h = append(h, cursor{col: p[0].Col, row: i, pivot: true})
		}
	}
	for _, j := range slotTarget {
		h = append(h, cursor{col: targets[j][0].Col, row: j})
	}
	heap.Init(&h)

	touched := make([]int, 0, len(slotTarget))
	for len(h) > 0 {
		col := h[0].col
		for len(h) > 0 && h[0].col == col {
			c := &h[0]
			var row sparse.Row
			if c.pivot {
				row = pivots[c.row]
				v := row[c.pos].Val
				for m := start[c.row]; mults[m].k != 0; m++ {
					s := mults[m].slot
					if !dirty[s] {
						dirty[s] = true
						touched = append(touched, s)
					}
					acc[s] = a.mulAdd(f, acc[s], mults[m].k, v)
				}
			} else {
				row = targets[c.row]
				s := slotOf[c.row]
				if !dirty[s] {
					dirty[s] = true
					touched = append(touched, s)
				}
				acc[s] = a.add(f, acc[s], row[c.pos].Val)
			}

			c.pos++
			if c.pos < len(row) {
				c.col = row[c.pos].Col
			} else {
				h[0] = h[len(h)-1]
				h = h[:len(h)-1]
			}
			if len(h) > 1 {
				heap.Fix(&h, 0)
			}
		}

		for _, s := range touched {
			if v := a.fold(f, acc[s]); v != 0 {
				out[s] = append(out[s], sparse.Entry{Col: col, Val: v})
			}
			acc[s] = 0
			dirty[s] = false
		}
		touched = touched[:0]
	}

	for s, j := range slotTarget {
		targets[j], out[s] = out[s], nil
	}
	log.Debugf("block of %d pivots reduced %d of %d targets", len(pivots), len(slotTarget), len(targets))
}

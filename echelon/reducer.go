// Package echelon drives the distributed reduction of a sparse matrix over a
// group of workers. Rows are striped across the workers; at every step one
// worker auto-reduces its next block of rows and broadcasts it, and every
// worker reduces its remaining rows by it. An optional backward pass replays
// the blocks in reverse to reach the fully reduced form.
package echelon

import (
	"context"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/partition"
	"github.com/ppopth/gbreduce/reduce"
	"github.com/ppopth/gbreduce/sparse"
	"github.com/ppopth/gbreduce/wire"
)

var log = logging.Logger("echelon")

// Reducer runs the protocol for one worker
type Reducer struct {
	c      comm.Comm
	f      field.Field
	params Params
	active int
}

// NewReducer prepares the worker bound to c. The parameters must be the same
// on every rank.
func NewReducer(c comm.Comm, p Params) (*Reducer, error) {
	registerMetrics()
	if err := p.Options.Validate(); err != nil {
		return nil, err
	}
	if p.Rows < 0 {
		return nil, errors.Errorf("invalid row count %d", p.Rows)
	}
	f, err := p.Field()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Reducer{
		c:      c,
		f:      f,
		params: p,
		active: partition.ActiveWorkers(p.Rows, c.Size()),
	}, nil
}

// Field returns the field the reducer works in
func (r *Reducer) Field() field.Field {
	return r.f
}

// Active returns how many ranks take part in the reduction
func (r *Reducer) Active() int {
	return r.active
}

// Participates reports whether this rank holds rows at all
func (r *Reducer) Participates() bool {
	return r.c.Rank() < r.active
}

func (r *Reducer) layout() partition.Layout {
	return partition.Layout{Rows: r.params.Rows, Workers: r.active, BlockSize: r.params.Options.BlockSize}
}

// Run reduces the matrix held by rank 0; m is ignored on other ranks and is
// consumed on rank 0. With diagonal form requested, rank 0 returns the fully
// reduced matrix and every other rank an empty one. Otherwise every rank
// returns its shard of a row echelon form; ranks that sit out return an
// empty shard.
func (r *Reducer) Run(ctx context.Context, m *sparse.Matrix) (*sparse.Matrix, error) {
	opts := r.params.Options
	rank := r.c.Rank()
	if rank == 0 && m.Len() != r.params.Rows {
		return nil, errors.Errorf("matrix has %d rows, parameters say %d", m.Len(), r.params.Rows)
	}
	if !r.Participates() {
		log.Debugf("rank %d sits out, %d of %d workers are active", rank, r.active, r.c.Size())
		return &sparse.Matrix{}, nil
	}

	if r.active == 1 {
		start := time.Now()
		res := reduce.RowEchelon(r.f, m, opts.BlockSize, opts.InnerBlockSize, opts.RequestDiagonalForm)
		log.Infof("reduced %d rows to %d locally in %s", r.params.Rows, res.Len(), time.Since(start))
		return res, nil
	}

	local, err := r.scatter(ctx, m)
	if err != nil {
		return nil, err
	}
	fw, err := r.Forward(ctx, local)
	if err != nil {
		return nil, err
	}
	if !opts.RequestDiagonalForm {
		return fw.Result, nil
	}
	return r.Backward(ctx, fw)
}

// scatter hands every active rank its stripe of the rows of rank 0
func (r *Reducer) scatter(ctx context.Context, m *sparse.Matrix) (*sparse.Matrix, error) {
	mode := r.params.Options.mode()
	if r.c.Rank() != 0 {
		rows, err := wire.RecvRows(ctx, r.c, r.f, 0, TagScatter, mode)
		if err != nil {
			return nil, errors.Wrap(err, "receiving rows")
		}
		return &sparse.Matrix{Rows: rows}, nil
	}

	shards := partition.Scatter(m, r.active, r.params.Options.BlockSize)
	for id := 1; id < r.active; id++ {
		if err := wire.SendRows(ctx, r.c, id, TagScatter, shards[id].Rows, mode); err != nil {
			return nil, errors.Wrapf(err, "sending rows to rank %d", id)
		}
		shards[id] = nil
	}
	log.Debugf("scattered %d rows over %d workers", r.params.Rows, r.active)
	return shards[0], nil
}

// Forward is the outcome of the forward pass on one worker
type Forward struct {
	// Result holds the pivot blocks this worker supplied, in step order.
	// Together, the results of all workers form a row echelon form.
	Result *sparse.Matrix
	// Sizes holds the size of the pivot block of every step; it is the same
	// on every worker.
	Sizes []int

	starts   []int // offset in Result of each block this worker supplied
	rotation *partition.Rotation
}

// Forward runs the forward pass over the local rows of this worker
func (r *Reducer) Forward(ctx context.Context, local *sparse.Matrix) (*Forward, error) {
	opts := r.params.Options
	mode := opts.mode()
	rank := r.c.Rank()
	steps := r.layout().TotalSteps()

	fw := &Forward{
		Result:   &sparse.Matrix{Columns: local.Columns},
		Sizes:    make([]int, 0, steps),
		rotation: partition.NewRotation(r.active),
	}
	pending := sparse.Compact(local.Rows)
	local.Rows = nil

	for step := 0; step < steps; step++ {
		start := time.Now()
		owner := fw.rotation.Next()

		var block []sparse.Row
		if rank == owner {
			n := min(opts.BlockSize, len(pending))
			pivots := sparse.NewMatrix(append([]sparse.Row(nil), pending[:n]...), nil)
			reduce.FullyAutoReduce(r.f, pivots)
			block = pivots.Rows
			pending = pending[n:]
		}

		block, err := wire.BroadcastRows(ctx, r.c, r.f, owner, r.active, TagForward, block, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "forward step %d from rank %d", step, owner)
		}

		reduce.ReduceRangeByMatrix(r.f, pending, block, opts.InnerBlockSize)
		reduced := len(pending)
		pending = sparse.Compact(pending)

		if rank == fw.rotation.Collector(owner) {
			fw.starts = append(fw.starts, fw.Result.Len())
			fw.Result.Append(block...)
		}
		fw.Sizes = append(fw.Sizes, len(block))

		recordStep("forward", start, len(block), reduced)
		log.Debugf("rank %d forward step %d/%d: %d pivots from rank %d, %d rows pending",
			rank, step+1, steps, len(block), owner, len(pending))
	}

	if len(pending) > 0 {
		return nil, errors.Errorf("%d rows left after %d forward steps", len(pending), steps)
	}
	return fw, nil
}

// Backward runs the backward pass after Forward. Rank 0 returns the fully
// reduced matrix, every other rank an empty one.
func (r *Reducer) Backward(ctx context.Context, fw *Forward) (*sparse.Matrix, error) {
	opts := r.params.Options
	mode := opts.mode()
	rank := r.c.Rank()

	mine := fw.Result.Rows
	starts := fw.starts
	var slots [][]sparse.Row
	if rank == 0 {
		slots = make([][]sparse.Row, len(fw.Sizes))
	}

	for s := len(fw.Sizes) - 1; s >= 0; s-- {
		start := time.Now()
		owner := fw.rotation.Prev()

		var block []sparse.Row
		if rank == fw.rotation.Collector(owner) {
			k := len(starts) - 1
			block = mine[starts[k]:]
			mine = mine[:starts[k]:starts[k]]
			starts = starts[:k]
		}
		if fw.Sizes[s] == 0 {
			continue
		}

		block, err := wire.BroadcastRows(ctx, r.c, r.f, owner, r.active, TagBackward, block, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "backward step %d from rank %d", s, owner)
		}

		reduce.ReduceRangeByMatrix(r.f, mine, block, opts.InnerBlockSize)
		for _, row := range mine {
			if row.IsZero() {
				return nil, errors.Errorf("backward step %d produced a zero row", s)
			}
		}
		if rank == 0 {
			slots[s] = block
		}

		recordStep("backward", start, len(block), len(mine))
		log.Debugf("rank %d backward step %d: %d pivots from rank %d, %d rows pending",
			rank, s, len(block), owner, len(mine))
	}
	if len(mine) > 0 || len(starts) > 0 {
		return nil, errors.Errorf("%d rows not replayed by the backward pass", len(mine))
	}

	out := &sparse.Matrix{}
	if rank != 0 {
		return out, nil
	}
	out.Columns = fw.Result.Columns
	for _, blk := range slots {
		out.Append(blk...)
	}
	log.Infof("reduced %d rows to %d over %d workers", r.params.Rows, out.Len(), r.active)
	return out, nil
}

// GatherShards collects the echelon shards of all active ranks on rank 0, in
// rank order. Other ranks send their shard and return an empty matrix.
func (r *Reducer) GatherShards(ctx context.Context, shard *sparse.Matrix) (*sparse.Matrix, error) {
	mode := r.params.Options.mode()
	rank := r.c.Rank()
	if !r.Participates() {
		return &sparse.Matrix{}, nil
	}
	if rank != 0 {
		if err := wire.SendRows(ctx, r.c, 0, TagGather, shard.Rows, mode); err != nil {
			return nil, errors.Wrap(err, "sending shard")
		}
		return &sparse.Matrix{}, nil
	}

	shards := make([]*sparse.Matrix, r.active)
	shards[0] = shard
	for id := 1; id < r.active; id++ {
		rows, err := wire.RecvRows(ctx, r.c, r.f, id, TagGather, mode)
		if err != nil {
			return nil, errors.Wrapf(err, "receiving shard of rank %d", id)
		}
		shards[id] = &sparse.Matrix{Rows: rows}
	}
	return partition.Gather(shards), nil
}

// Run shares the parameters of rank 0 with the group and reduces the matrix
// of rank 0. p and m are only read on rank 0.
func Run(ctx context.Context, c comm.Comm, p Params, m *sparse.Matrix) (*sparse.Matrix, error) {
	if c.Rank() == 0 {
		p.Rows = m.Len()
	}
	p, err := ShareParams(ctx, c, p)
	if err != nil {
		return nil, err
	}
	r, err := NewReducer(c, p)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = &sparse.Matrix{}
	}
	return r.Run(ctx, m)
}

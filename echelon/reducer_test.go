package echelon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/matgen"
	"github.com/ppopth/gbreduce/partition"
	"github.com/ppopth/gbreduce/reduce"
	"github.com/ppopth/gbreduce/sparse"
)

func runGroup(t *testing.T, group []comm.Comm, f func(ctx context.Context, c comm.Comm) (*sparse.Matrix, error)) []*sparse.Matrix {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	out := make([]*sparse.Matrix, len(group))
	errs := make([]error, len(group))
	var wg sync.WaitGroup
	for i, c := range group {
		wg.Add(1)
		go func(i int, c comm.Comm) {
			defer wg.Done()
			out[i], errs[i] = f(ctx, c)
		}(i, c)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
	return out
}

func generate(t *testing.T, f field.Field, rows, dependent int) *sparse.Matrix {
	m, err := matgen.Generate(f, &matgen.Settings{
		Seed:      "echelon",
		Rows:      rows,
		Columns:   90,
		Density:   0.04,
		Dependent: dependent,
	})
	require.NoError(t, err)
	return m
}

func sortedRows(m *sparse.Matrix) []sparse.Row {
	c := m.Clone()
	c.SortByLeadingColumn()
	return c.Rows
}

func params(f field.Field, opts Options) Params {
	return Params{Modulus: f.Modulus(), Order: 1, Variables: 3, Options: opts}
}

func TestSingleWorkerMatchesLocalReduction(t *testing.T) {
	f := field.MustNew(65521)
	input := generate(t, f, 120, 30)
	opts := DefaultOptions()
	want := reduce.RowEchelon(f, input.Clone(), opts.BlockSize, opts.InnerBlockSize, true)

	group := comm.NewLocalGroup(3)
	res := runGroup(t, group, func(ctx context.Context, c comm.Comm) (*sparse.Matrix, error) {
		var m *sparse.Matrix
		if c.Rank() == 0 {
			m = input.Clone()
		}
		return Run(ctx, c, params(f, opts), m)
	})

	require.True(t, sparse.RowsEqual(want.Rows, res[0].Rows))
	require.Equal(t, input.Columns, res[0].Columns)
	require.Zero(t, res[1].Len())
	require.Zero(t, res[2].Len())
}

func distributedDiagonal(t *testing.T, modulus uint64, workers, rows int, opts Options) {
	f := field.MustNew(modulus)
	input := generate(t, f, rows, rows/5)
	want := sparse.DenseRREF(f, input.Rows, 90)

	group := comm.NewLocalGroup(workers)
	res := runGroup(t, group, func(ctx context.Context, c comm.Comm) (*sparse.Matrix, error) {
		var m *sparse.Matrix
		if c.Rank() == 0 {
			m = input.Clone()
		}
		return Run(ctx, c, params(f, opts), m)
	})

	require.True(t, res[0].IsDiagonal())
	require.True(t, sparse.RowsEqual(want, sortedRows(res[0])))
	require.Equal(t, input.Columns, res[0].Columns)
	for _, r := range res[1:] {
		require.Zero(t, r.Len())
	}
}

func TestTwoActiveWorkers(t *testing.T) {
	// 300 rows keep only two of the three workers busy
	require.Equal(t, 2, partition.ActiveWorkers(300, 3))
	distributedDiagonal(t, 2_147_483_647, 3, 250, DefaultOptions())
}

func TestAllWorkersWidePrime(t *testing.T) {
	// 1700 rows plus 340 dependent ones keep all four workers busy
	require.Equal(t, 4, partition.ActiveWorkers(2040, 4))
	opts := DefaultOptions()
	opts.BlockSize = 48
	opts.InnerBlockSize = 0
	distributedDiagonal(t, 2_305_843_009_213_693_951, 4, 1700, opts)
}

func TestFiveWorkersPerRow(t *testing.T) {
	require.Equal(t, 5, partition.ActiveWorkers(2160, 5))
	opts := DefaultOptions()
	opts.UseBatchedTransfer = false
	opts.BlockSize = 11
	distributedDiagonal(t, 3_037_000_493, 5, 1800, opts)
}

func TestRowByRowInnerReduction(t *testing.T) {
	opts := DefaultOptions()
	opts.BlockSize = 7
	opts.InnerBlockSize = 1
	distributedDiagonal(t, 101, 2, 210, opts)
}

func TestPerRowTransfer(t *testing.T) {
	opts := DefaultOptions()
	opts.UseBatchedTransfer = false
	opts.BlockSize = 5
	distributedDiagonal(t, 65521, 2, 230, opts)
}

func TestEchelonShards(t *testing.T) {
	f := field.MustNew(3_037_000_493)
	input := generate(t, f, 1900, 400)
	rank := len(sparse.DenseRREF(f, input.Rows, 90))

	opts := DefaultOptions()
	opts.RequestDiagonalForm = false
	opts.BlockSize = 16

	group := comm.NewLocalGroup(3)
	var mutex sync.Mutex
	shardRows := 0
	res := runGroup(t, group, func(ctx context.Context, c comm.Comm) (*sparse.Matrix, error) {
		p := params(f, opts)
		var m *sparse.Matrix
		if c.Rank() == 0 {
			m = input.Clone()
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
		shard, err := r.Run(ctx, m)
		if err != nil {
			return nil, err
		}
		mutex.Lock()
		shardRows += shard.Len()
		mutex.Unlock()
		return r.GatherShards(ctx, shard)
	})

	require.Equal(t, rank, shardRows)
	all := res[0]
	require.Equal(t, rank, all.Len())
	all.SortByLeadingColumn()
	require.True(t, all.IsEchelon())
	require.Equal(t, rank, len(sparse.DenseRREF(f, all.Rows, 90)))
	require.Zero(t, res[1].Len())
	require.Zero(t, res[2].Len())
}

func TestShareParams(t *testing.T) {
	opts := Options{BlockSize: 9, InnerBlockSize: 0, UseBatchedTransfer: false, RequestDiagonalForm: true}
	sent := Params{Modulus: 2_305_843_009_213_693_951, Order: 2, Variables: 6, Rows: 1234, Options: opts}

	group := comm.NewLocalGroup(4)
	var mutex sync.Mutex
	got := make([]Params, len(group))
	runGroup(t, group, func(ctx context.Context, c comm.Comm) (*sparse.Matrix, error) {
		var p Params
		if c.Rank() == 0 {
			p = sent
		}
		p, err := ShareParams(ctx, c, p)
		mutex.Lock()
		got[c.Rank()] = p
		mutex.Unlock()
		return nil, err
	})
	for _, p := range got {
		require.Equal(t, sent, p)
	}
}

func TestDecodeParamsRejectsGarbage(t *testing.T) {
	_, err := decodeParams([]int64{1, 2, 3})
	require.Error(t, err)
	_, err = decodeParams([]int64{7, 1, 1, -4, 1, 1, 1, 1})
	require.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
	require.Error(t, Options{BlockSize: 0}.Validate())
	require.Error(t, Options{BlockSize: 4, InnerBlockSize: -1}.Validate())
	require.NoError(t, Options{BlockSize: 1, InnerBlockSize: 0}.Validate())
}

func TestNewReducerRejectsBadParams(t *testing.T) {
	c := comm.NewLocalGroup(1)[0]
	_, err := NewReducer(c, Params{Modulus: 12, Options: DefaultOptions()})
	require.Error(t, err)
	_, err = NewReducer(c, Params{Modulus: 7, Options: Options{}})
	require.Error(t, err)
	_, err = NewReducer(c, Params{Modulus: 7, Rows: -1, Options: DefaultOptions()})
	require.Error(t, err)
}

func TestRowCountMismatch(t *testing.T) {
	f := field.MustNew(7)
	c := comm.NewLocalGroup(1)[0]
	p := params(f, DefaultOptions())
	p.Rows = 5
	r, err := NewReducer(c, p)
	require.NoError(t, err)

	m := sparse.NewMatrix([]sparse.Row{{{Col: 0, Val: 1}}}, nil)
	_, err = r.Run(context.Background(), m)
	require.Error(t, err)
}

// dropOut stops taking part after a number of broadcasts
type dropOut struct {
	comm.Comm
	broadcasts int
}

func (d *dropOut) Broadcast(ctx context.Context, root, group int, tag comm.Tag, data []int64) ([]int64, error) {
	if d.broadcasts == 0 {
		d.Comm.Close()
		return nil, errors.New("worker stopped")
	}
	d.broadcasts--
	return d.Comm.Broadcast(ctx, root, group, tag, data)
}

func TestWorkerLeavingFailsGroup(t *testing.T) {
	f := field.MustNew(65521)
	input := generate(t, f, 2000, 400)
	require.Equal(t, 4, partition.ActiveWorkers(input.Len(), 4))

	group := comm.NewLocalGroup(4)
	// Rank 2 leaves after the parameters and four forward steps
	group[2] = &dropOut{Comm: group[2], broadcasts: 5}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	errs := make([]error, len(group))
	var wg sync.WaitGroup
	for i, c := range group {
		wg.Add(1)
		go func(i int, c comm.Comm) {
			defer wg.Done()
			var m *sparse.Matrix
			if i == 0 {
				m = input.Clone()
			}
			if _, errs[i] = Run(ctx, c, params(f, DefaultOptions()), m); errs[i] != nil {
				c.Close()
			}
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		require.Error(t, err, "rank %d", i)
		require.False(t, errors.Is(err, context.DeadlineExceeded), "rank %d hung: %v", i, err)
	}
}

package wire

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ppopth/gbreduce/comm"
	"github.com/ppopth/gbreduce/field"
	"github.com/ppopth/gbreduce/sparse"
)

var testRows = []sparse.Row{
	{{Col: 2, Val: 1}},
	{},
	{{Col: 0, Val: 4}, {Col: 5, Val: 2}},
}

func TestRoundTrip(t *testing.T) {
	f := field.MustNew(5)
	buf := Encode(testRows)
	require.Equal(t, []int64{3, 1, 0, 2, 2, 1, 0, 4, 5, 2}, buf)
	require.Equal(t, len(buf), EncodedLen(testRows))

	rows, err := Decode(f, buf)
	require.NoError(t, err)
	require.True(t, sparse.RowsEqual(testRows, rows))
}

func TestEmptyRangeVersusZeroRow(t *testing.T) {
	f := field.MustNew(5)
	require.Len(t, Encode(nil), 0)
	require.Equal(t, []int64{1, 0}, Encode([]sparse.Row{{}}))

	rows, err := Decode(f, nil)
	require.NoError(t, err)
	require.Len(t, rows, 0)

	rows, err = Decode(f, []int64{1, 0})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsZero())
}

func TestDecodeRejectsCorruption(t *testing.T) {
	f := field.MustNew(5)
	bad := [][]int64{
		{-1},
		{5, 0},
		{1, -2},
		{1, 1, 3},
		{1, 1, 3, 2, 9},
		{1, 1, 3, 5},          // value not reduced
		{1, 1, 3, 0},          // stored zero
		{1, 2, 3, 1, 2, 1},    // decreasing columns
		{1, 1, -3, 1},         // negative column
		{1, 1, 0, 1, 0, 1},    // trailing values
		{2, 1 << 62, -(1 << 62), 0, 1},
		{4, 1 << 62, 1 << 62, 1 << 62, 1 << 62},
		{1, 1<<62 + 1},
	}
	for _, buf := range bad {
		_, err := Decode(f, buf)
		require.Error(t, err, "buffer %v", buf)
	}
}

func transfer(t *testing.T, mode Mode) {
	f := field.MustNew(5)
	group := comm.NewLocalGroup(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]sparse.Row, 3)
	errs := make([]error, 3)
	for _, c := range group {
		wg.Add(1)
		go func(c comm.Comm) {
			defer wg.Done()
			r := c.Rank()
			switch r {
			case 0:
				if errs[r] = SendRows(ctx, c, 1, 1, testRows, mode); errs[r] != nil {
					return
				}
				if errs[r] = SendRows(ctx, c, 2, 1, nil, mode); errs[r] != nil {
					return
				}
			case 1, 2:
				results[r], errs[r] = RecvRows(ctx, c, f, 0, 1, mode)
			}
		}(c)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.True(t, sparse.RowsEqual(testRows, results[1]))
	require.Len(t, results[2], 0)
}

func TestSendRecvBatched(t *testing.T) { transfer(t, Batched) }
func TestSendRecvPerRow(t *testing.T)  { transfer(t, PerRow) }

func broadcast(t *testing.T, mode Mode, rows []sparse.Row) {
	f := field.MustNew(5)
	group := comm.NewLocalGroup(4)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([][]sparse.Row, 3)
	errs := make([]error, 3)
	// Rank 3 sits out
	for _, c := range group[:3] {
		wg.Add(1)
		go func(c comm.Comm) {
			defer wg.Done()
			var mine []sparse.Row
			if c.Rank() == 1 {
				mine = rows
			}
			results[c.Rank()], errs[c.Rank()] = BroadcastRows(ctx, c, f, 1, 3, 2, mine, mode)
		}(c)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.True(t, sparse.RowsEqual(rows, results[i]), "rank %d got %v", i, results[i])
	}
}

func TestBroadcastBatched(t *testing.T) {
	broadcast(t, Batched, testRows)
	broadcast(t, Batched, nil)
}

func TestBroadcastPerRow(t *testing.T) {
	broadcast(t, PerRow, testRows)
	broadcast(t, PerRow, nil)
}

func TestMatrixFile(t *testing.T) {
	f := field.MustNew(5)
	m := sparse.NewMatrix(testRows, sparse.ColumnMap{10, 11, 12, 13, 14, 1 << 40})

	var b bytes.Buffer
	require.NoError(t, WriteMatrix(&b, m))
	got, err := ReadMatrix(&b, f)
	require.NoError(t, err)
	require.True(t, got.Equal(m))
	require.Equal(t, m.Columns, got.Columns)
}

func TestReadBufferTruncated(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, WriteBuffer(&b, []int64{1, 2, 3}))
	trunc := bytes.NewReader(b.Bytes()[:b.Len()-4])
	_, err := ReadBuffer(trunc)
	require.Error(t, err)
}

func TestRecvPerRowRejectsOversizedRow(t *testing.T) {
	f := field.MustNew(5)
	group := comm.NewLocalGroup(2)
	ctx := context.Background()

	for _, msg := range [][]int64{{1}, {1 << 62}, {0, 1}} {
		require.NoError(t, group[0].Send(ctx, 1, 1, msg))
	}
	_, err := RecvRows(ctx, group[1], f, 0, 1, PerRow)
	require.Error(t, err)
}

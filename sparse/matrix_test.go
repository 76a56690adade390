package sparse

import (
	"testing"

	"github.com/ppopth/gbreduce/field"
	"github.com/stretchr/testify/require"
)

func TestCompactKeepsOrder(t *testing.T) {
	m := NewMatrix([]Row{
		{{0, 1}},
		{},
		{{1, 1}},
		nil,
		{{2, 1}},
	}, ColumnMap{7, 8, 9})
	m.Compact()
	require.Equal(t, 3, m.Len())
	for i, r := range m.Rows {
		require.Equal(t, uint32(i), r.LeadingColumn())
	}
	require.Equal(t, ColumnMap{7, 8, 9}, m.Columns)
}

func TestCloneIsDeep(t *testing.T) {
	m := NewMatrix([]Row{{{0, 1}, {2, 3}}}, ColumnMap{1, 2, 3})
	c := m.Clone()
	c.Rows[0][1].Val = 4
	c.Columns[0] = 9
	require.Equal(t, field.Element(3), m.Rows[0][1].Val)
	require.Equal(t, uint64(1), m.Columns[0])
	require.True(t, m.Slice(0, 1).Equal(NewMatrix([]Row{{{0, 1}, {2, 3}}}, nil)))
}

func TestEchelonChecks(t *testing.T) {
	echelonOnly := []Row{
		{{0, 1}, {2, 3}},
		{{2, 1}, {4, 1}},
	}
	require.True(t, IsEchelon(echelonOnly))
	require.False(t, IsDiagonal(echelonOnly))

	diagonal := []Row{
		{{0, 1}, {3, 3}},
		{{2, 1}, {4, 1}},
	}
	require.True(t, IsDiagonal(diagonal))

	require.False(t, IsEchelon([]Row{{{1, 1}}, {{1, 2}, {3, 1}}}))
	require.False(t, IsEchelon([]Row{{{1, 1}}, {}}))
	require.True(t, IsEchelon(nil))
}

func TestSortByLeadingColumn(t *testing.T) {
	m := NewMatrix([]Row{{{5, 1}}, {}, {{1, 1}}, {{3, 1}}}, nil)
	m.SortByLeadingColumn()
	require.Equal(t, uint32(1), m.Rows[0].LeadingColumn())
	require.Equal(t, uint32(3), m.Rows[1].LeadingColumn())
	require.Equal(t, uint32(5), m.Rows[2].LeadingColumn())
	require.True(t, m.Rows[3].IsZero())
}

func TestWidthAndCount(t *testing.T) {
	m := NewMatrix([]Row{{{0, 1}, {9, 2}}, {}, {{4, 1}}}, nil)
	require.Equal(t, 10, m.Width())
	require.Equal(t, 9, m.MaxColumn())
	require.Equal(t, 3, m.NonZeroCount())
	require.Equal(t, -1, NewMatrix(nil, nil).MaxColumn())
}

func TestDenseRREF(t *testing.T) {
	f := field.MustNew(5)
	rows := []Row{
		{{0, 1}, {1, 2}},
		{{0, 3}, {1, 1}},
		{{1, 1}, {2, 4}},
	}
	got := DenseRREF(f, rows, 3)
	want := []Row{
		{{0, 1}, {2, 2}},
		{{1, 1}, {2, 4}},
	}
	require.True(t, RowsEqual(got, want), "got %v", got)
}

package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openquant/flowscript/internal/session"
)

func day(n int) time.Time {
	return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC)
}

func index(days ...int) []time.Time {
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		out = append(out, day(d))
	}
	return out
}

func TestAddColumnRejectsMismatchedRows(t *testing.T) {
	tbl := New(index(1, 2, 3))
	require.NoError(t, tbl.AddColumn("c", NewFloatSeries([]float64{1, 2, 3})))
	assert.Error(t, tbl.AddColumn("c", NewFloatSeries([]float64{4, 5, 6})))
	assert.Error(t, tbl.AddColumn("short", NewFloatSeries([]float64{1})))
	assert.Equal(t, 1, tbl.NumColumns())
}

func TestRename(t *testing.T) {
	tbl := New(index(1, 2))
	require.NoError(t, tbl.AddColumn("result", NewFloatSeries([]float64{1, 2})))
	require.NoError(t, tbl.Rename("result", "fast#result"))

	assert.False(t, tbl.HasColumn("result"))
	assert.True(t, tbl.HasColumn("fast#result"))
	assert.Equal(t, []string{"fast#result"}, tbl.ColumnNames())
	assert.Error(t, tbl.Rename("missing", "x"))
}

func TestMerge(t *testing.T) {
	a := New(index(1, 2))
	require.NoError(t, a.AddColumn("x", NewFloatSeries([]float64{1, 2})))
	b := New(index(1, 2))
	require.NoError(t, b.AddColumn("y", NewBoolSeries([]bool{true, false})))

	require.NoError(t, a.Merge(b))
	assert.Equal(t, []string{"x", "y"}, a.ColumnNames())

	// Colliding names abort the merge.
	c := New(index(1, 2))
	require.NoError(t, c.AddColumn("x", NewFloatSeries([]float64{9, 9})))
	assert.Error(t, a.Merge(c))
}

func TestCloneIsolatesBookkeeping(t *testing.T) {
	tbl := New(index(1, 2))
	require.NoError(t, tbl.AddColumn("x", NewFloatSeries([]float64{1, 2})))

	clone := tbl.Clone()
	require.NoError(t, clone.Rename("x", "y"))
	require.NoError(t, clone.AddColumn("z", NewFloatSeries([]float64{3, 4})))

	assert.True(t, tbl.HasColumn("x"))
	assert.False(t, tbl.HasColumn("y"))
	assert.False(t, tbl.HasColumn("z"))
}

func TestDropNullRows(t *testing.T) {
	tbl := New(index(1, 2, 3, 4))
	a := NewFloatSeries([]float64{1, 2, 3, 4})
	a.SetNull(1)
	b := NewFloatSeries([]float64{5, 6, 7, 8})
	b.SetNull(3)
	require.NoError(t, tbl.AddColumn("a", a))
	require.NoError(t, tbl.AddColumn("b", b))

	out := tbl.DropNullRows()
	assert.Equal(t, index(1, 3), out.Index())
	col, ok := out.Column("a")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 3}, col.Floats)

	// No nulls means the same table comes back.
	clean := New(index(1, 2))
	require.NoError(t, clean.AddColumn("x", NewFloatSeries([]float64{1, 2})))
	assert.Same(t, clean, clean.DropNullRows())
}

func TestSliceSession(t *testing.T) {
	ts := []time.Time{
		time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 15, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC),
	}
	tbl := New(ts)
	require.NoError(t, tbl.AddColumn("c", NewFloatSeries([]float64{1, 2, 3})))

	window := session.Range{
		Start: session.TimeOfDay{Hour: 14, Minute: 30},
		End:   session.TimeOfDay{Hour: 21, Minute: 0},
	}
	out := tbl.SliceSession(window)
	require.Equal(t, 1, out.NumRows())
	col, _ := out.Column("c")
	assert.Equal(t, []float64{2}, col.Floats)
}

func TestAlignTo(t *testing.T) {
	tbl := New(index(2, 4))
	s := NewFloatSeries([]float64{20, 40})
	s.SetNull(1)
	require.NoError(t, tbl.AddColumn("x", s))

	out := tbl.AlignTo(index(1, 2, 3, 4, 5))
	require.Equal(t, 5, out.NumRows())
	col, ok := out.Column("x")
	require.True(t, ok)

	assert.True(t, col.IsNull(0))
	assert.False(t, col.IsNull(1))
	assert.Equal(t, 20.0, col.Floats[1])
	assert.True(t, col.IsNull(2))
	assert.True(t, col.IsNull(3)) // null stays null after re-indexing
	assert.True(t, col.IsNull(4))
}

func TestAlignToPreservesBoolsAndStrings(t *testing.T) {
	tbl := New(index(1, 3))
	require.NoError(t, tbl.AddColumn("flag", NewBoolSeries([]bool{true, false})))
	require.NoError(t, tbl.AddColumn("name", NewStringSeries([]string{"a", "b"})))

	out := tbl.AlignTo(index(1, 2, 3))
	flag, _ := out.Column("flag")
	assert.True(t, flag.Bools[0])
	assert.True(t, flag.IsNull(1))
	assert.False(t, flag.Bools[2])

	name, _ := out.Column("name")
	assert.Equal(t, "b", name.Strings[2])
}

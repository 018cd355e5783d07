package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func makeTestTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable()
	require.NoError(t, tbl.AddNumeric("x", []float64{1, 2, 3}))
	require.NoError(t, tbl.AddNumeric("y", []float64{10, 20, 30}))
	require.NoError(t, tbl.AddCategorical("mode", []string{"a", "b", "a"}))
	return tbl
}

func TestTable_AddAndLookup(t *testing.T) {
	tbl := makeTestTable(t)

	assert.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, 3, tbl.NumCols())
	assert.Equal(t, []string{"x", "y", "mode"}, tbl.Names())
	assert.True(t, tbl.Has("mode"))
	assert.False(t, tbl.Has("missing"))

	xs, err := tbl.Numeric("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, xs)

	_, err = tbl.Numeric("mode")
	assert.Error(t, err, "categorical column must not read as numeric")
}

func TestTable_AddErrors(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.AddNumeric("x", []float64{1, 2}))

	if err := tbl.AddNumeric("x", []float64{3, 4}); err == nil {
		t.Error("expected duplicate column error")
	}
	if err := tbl.AddNumeric("z", []float64{1, 2, 3}); err == nil {
		t.Error("expected row count mismatch error")
	}
}

func TestTable_AddCopiesValues(t *testing.T) {
	src := []float64{1, 2, 3}
	tbl := NewTable()
	require.NoError(t, tbl.AddNumeric("x", src))
	src[0] = 99

	xs, err := tbl.Numeric("x")
	require.NoError(t, err)
	assert.Equal(t, 1.0, xs[0], "table must not alias caller slices")
}

func TestTable_SelectReordersAndDrops(t *testing.T) {
	tbl := makeTestTable(t)

	sel, err := tbl.Select("mode", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"mode", "x"}, sel.Names())
	assert.Equal(t, 3, sel.NumRows())

	_, err = tbl.Select("x", "missing")
	assert.Error(t, err)
}

func TestTable_RowsAllowsRepeatsAndChecksBounds(t *testing.T) {
	tbl := makeTestTable(t)

	rows, err := tbl.Rows([]int{2, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, 3, rows.NumRows())
	xs, err := rows.Numeric("x")
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 1, 3}, xs)
	mode, err := rows.Column("mode")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a", "a"}, mode.Strings)

	_, err = tbl.Rows([]int{3})
	assert.Error(t, err)
	_, err = tbl.Rows([]int{-1})
	assert.Error(t, err)
}

func TestTable_MatrixRoundTrip(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	tbl, err := TableFromMatrix(m, []string{"a", "b"})
	require.NoError(t, err)

	back, err := tbl.Matrix()
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(m, back, 0))

	_, err = TableFromMatrix(m, []string{"only-one"})
	assert.Error(t, err)
}

func TestTable_MatrixRejectsCategorical(t *testing.T) {
	tbl := makeTestTable(t)
	_, err := tbl.Matrix()
	assert.Error(t, err, "categorical columns must be encoded before export")
}

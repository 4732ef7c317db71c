package cleaning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdata/nexdata/pkg/table"
)

func buildTable(t *testing.T, columns []table.Column, rows []table.Row) *table.Table {
	t.Helper()
	tbl := table.New("test", columns)
	for _, row := range rows {
		require.NoError(t, tbl.AppendRow(row))
	}
	return tbl
}

func numericTable(t *testing.T, values ...interface{}) *table.Table {
	t.Helper()
	tbl := table.New("test", []table.Column{{Name: "v", Type: table.FieldTypeFloat}})
	for _, v := range values {
		require.NoError(t, tbl.AppendRow(table.Row{v}))
	}
	return tbl
}

func TestRemoveDuplicates(t *testing.T) {
	tbl := buildTable(t,
		[]table.Column{
			{Name: "a", Type: table.FieldTypeInt},
			{Name: "b", Type: table.FieldTypeString},
		},
		[]table.Row{
			{int64(1), "x"},
			{int64(1), "x"},
			{int64(1), "y"},
			{int64(2), nil},
			{int64(2), nil},
		})

	removed := RemoveDuplicates(tbl)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 3, tbl.NumRows())
	// First occurrences survive in order.
	assert.Equal(t, "x", tbl.Cell(0, 1))
	assert.Equal(t, "y", tbl.Cell(1, 1))
	assert.Nil(t, tbl.Cell(2, 1))
}

func TestDropMissing(t *testing.T) {
	columns := []table.Column{
		{Name: "a", Type: table.FieldTypeInt},
		{Name: "b", Type: table.FieldTypeString},
	}
	rows := []table.Row{
		{int64(1), "x"},
		{nil, "y"},
		{int64(3), nil},
	}

	tbl := buildTable(t, columns, rows)
	removed, err := DropMissing(tbl, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, tbl.NumRows())

	// Scoped to one column.
	tbl = buildTable(t, columns, rows)
	removed, err = DropMissing(tbl, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, tbl.NumRows())

	_, err = DropMissing(tbl, []string{"missing_col"})
	require.Error(t, err)
}

func TestFillMean(t *testing.T) {
	tbl := numericTable(t, 1.0, nil, 3.0, nil)
	filled, err := FillMean(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 2, filled)
	assert.Equal(t, 2.0, tbl.Cell(1, 0))
	assert.Equal(t, 2.0, tbl.Cell(3, 0))
}

func TestFillMeanIntColumnRounds(t *testing.T) {
	tbl := table.New("test", []table.Column{{Name: "v", Type: table.FieldTypeInt}})
	for _, v := range []interface{}{int64(1), int64(2), nil} {
		require.NoError(t, tbl.AppendRow(table.Row{v}))
	}
	filled, err := FillMean(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 1, filled)
	assert.Equal(t, int64(2), tbl.Cell(2, 0)) // 1.5 rounds to 2
}

func TestFillMedian(t *testing.T) {
	tbl := numericTable(t, 1.0, 100.0, 2.0, nil)
	_, err := FillMedian(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 2.0, tbl.Cell(3, 0))

	even := numericTable(t, 1.0, 2.0, 3.0, 4.0, nil)
	_, err = FillMedian(even, "v")
	require.NoError(t, err)
	assert.Equal(t, 2.5, even.Cell(4, 0))
}

func TestFillMode(t *testing.T) {
	tbl := buildTable(t,
		[]table.Column{{Name: "c", Type: table.FieldTypeString}},
		[]table.Row{{"a"}, {"b"}, {"b"}, {nil}})
	filled, err := FillMode(tbl, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, filled)
	assert.Equal(t, "b", tbl.Cell(3, 0))

	empty := buildTable(t,
		[]table.Column{{Name: "c", Type: table.FieldTypeString}},
		[]table.Row{{nil}})
	_, err = FillMode(empty, "c")
	require.Error(t, err)
}

func TestForwardBackwardFill(t *testing.T) {
	tbl := numericTable(t, nil, 1.0, nil, nil, 4.0)
	filled, err := ForwardFill(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 2, filled)
	assert.Nil(t, tbl.Cell(0, 0)) // nothing earlier to carry
	assert.Equal(t, 1.0, tbl.Cell(2, 0))
	assert.Equal(t, 1.0, tbl.Cell(3, 0))

	tbl = numericTable(t, nil, 1.0, nil, 4.0, nil)
	filled, err = BackwardFill(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 2, filled)
	assert.Equal(t, 1.0, tbl.Cell(0, 0))
	assert.Equal(t, 4.0, tbl.Cell(2, 0))
	assert.Nil(t, tbl.Cell(4, 0)) // nothing later to carry
}

func TestRemoveOutliersIQR(t *testing.T) {
	tbl := numericTable(t, 10.0, 11.0, 12.0, 11.5, 10.5, 12.5, 1000.0, nil)
	removed, err := RemoveOutliersIQR(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 7, tbl.NumRows())
	// The row with a missing value is kept.
	assert.Nil(t, tbl.Cell(6, 0))
}

func TestRemoveOutliersTooFewValues(t *testing.T) {
	tbl := numericTable(t, 1.0, 1000.0)
	removed, err := RemoveOutliersIQR(tbl, "v")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestNormalizeMinMax(t *testing.T) {
	tbl := numericTable(t, 10.0, 20.0, 30.0, nil)
	require.NoError(t, NormalizeMinMax(tbl, "v"))
	assert.Equal(t, 0.0, tbl.Cell(0, 0))
	assert.Equal(t, 0.5, tbl.Cell(1, 0))
	assert.Equal(t, 1.0, tbl.Cell(2, 0))
	assert.Nil(t, tbl.Cell(3, 0))

	constant := numericTable(t, 5.0, 5.0)
	require.NoError(t, NormalizeMinMax(constant, "v"))
	assert.Equal(t, 0.0, constant.Cell(0, 0))
}

func TestNormalizeZScore(t *testing.T) {
	tbl := numericTable(t, 2.0, 4.0, 6.0)
	require.NoError(t, NormalizeZScore(tbl, "v"))
	assert.InDelta(t, -1.0, tbl.Cell(0, 0).(float64), 1e-9)
	assert.InDelta(t, 0.0, tbl.Cell(1, 0).(float64), 1e-9)
	assert.InDelta(t, 1.0, tbl.Cell(2, 0).(float64), 1e-9)

	constant := numericTable(t, 5.0, 5.0)
	require.Error(t, NormalizeZScore(constant, "v"))
}

func TestToNumeric(t *testing.T) {
	tbl := buildTable(t,
		[]table.Column{{Name: "c", Type: table.FieldTypeString}},
		[]table.Row{{"1.5"}, {" 2 "}, {"abc"}, {nil}, {true}})
	failed, err := ToNumeric(tbl, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, table.FieldTypeFloat, tbl.Columns()[0].Type)
	assert.Equal(t, 1.5, tbl.Cell(0, 0))
	assert.Equal(t, 2.0, tbl.Cell(1, 0))
	assert.Nil(t, tbl.Cell(2, 0))
	assert.Nil(t, tbl.Cell(3, 0))
	assert.Equal(t, 1.0, tbl.Cell(4, 0))
}

func TestToString(t *testing.T) {
	ts := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	tbl := buildTable(t,
		[]table.Column{{Name: "c", Type: table.FieldTypeTimestamp}},
		[]table.Row{{ts}, {nil}})
	require.NoError(t, ToString(tbl, "c"))
	assert.Equal(t, table.FieldTypeString, tbl.Columns()[0].Type)
	assert.Equal(t, "2024-02-03T00:00:00Z", tbl.Cell(0, 0))
	assert.Nil(t, tbl.Cell(1, 0))
}

func TestToTimestamp(t *testing.T) {
	tbl := buildTable(t,
		[]table.Column{{Name: "c", Type: table.FieldTypeString}},
		[]table.Row{{"2024-02-03"}, {"03/15/2024"}, {"not a date"}, {nil}})
	failed, err := ToTimestamp(tbl, "c")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, table.FieldTypeTimestamp, tbl.Columns()[0].Type)

	first, ok := tbl.Cell(0, 0).(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.February, first.Month())
	second, ok := tbl.Cell(1, 0).(time.Time)
	require.True(t, ok)
	assert.Equal(t, time.March, second.Month())
	assert.Nil(t, tbl.Cell(2, 0))
}

func TestSortByColumn(t *testing.T) {
	columns := []table.Column{
		{Name: "n", Type: table.FieldTypeInt},
		{Name: "s", Type: table.FieldTypeString},
	}
	rows := []table.Row{
		{int64(3), "c"},
		{nil, "x"},
		{int64(1), "a"},
		{int64(2), "b"},
	}

	tbl := buildTable(t, columns, rows)
	require.NoError(t, SortByColumn(tbl, "n", false))
	assert.Equal(t, int64(1), tbl.Cell(0, 0))
	assert.Equal(t, int64(3), tbl.Cell(2, 0))
	assert.Nil(t, tbl.Cell(3, 0), "missing values sort last")

	tbl = buildTable(t, columns, rows)
	require.NoError(t, SortByColumn(tbl, "n", true))
	assert.Equal(t, int64(3), tbl.Cell(0, 0))
	assert.Nil(t, tbl.Cell(3, 0), "missing values sort last even descending")

	require.NoError(t, SortByColumn(tbl, "s", false))
	assert.Equal(t, "a", tbl.Cell(0, 1))

	require.Error(t, SortByColumn(tbl, "zzz", false))
}

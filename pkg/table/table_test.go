package table

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl := New("sales", []Column{
		{Name: "id", Type: FieldTypeInt},
		{Name: "region", Type: FieldTypeString},
		{Name: "amount", Type: FieldTypeFloat},
	})
	rows := []Row{
		{int64(1), "north", 10.5},
		{int64(2), "south", 20.0},
		{int64(3), "north", nil},
		{int64(4), "east", 5.25},
		{int64(5), "west", 99.9},
	}
	for _, row := range rows {
		require.NoError(t, tbl.AppendRow(row))
	}
	return tbl
}

func TestAppendRowWidthMismatch(t *testing.T) {
	tbl := New("x", []Column{{Name: "a", Type: FieldTypeInt}})
	err := tbl.AppendRow(Row{int64(1), "extra"})
	require.Error(t, err)
}

func TestAccessors(t *testing.T) {
	tbl := testTable(t)
	assert.Equal(t, "sales", tbl.Name())
	assert.Equal(t, 5, tbl.NumRows())
	assert.Equal(t, 3, tbl.NumCols())
	assert.Equal(t, []string{"id", "region", "amount"}, tbl.ColumnNames())
	assert.Equal(t, 1, tbl.ColumnIndex("region"))
	assert.Equal(t, -1, tbl.ColumnIndex("missing"))
	assert.Equal(t, "south", tbl.Cell(1, 1))
}

func TestCloneIsDeep(t *testing.T) {
	tbl := testTable(t)
	clone := tbl.Clone()

	clone.SetCell(0, 1, "mutated")
	assert.Equal(t, "north", tbl.Cell(0, 1))
	assert.Equal(t, "mutated", clone.Cell(0, 1))
}

func TestSlice(t *testing.T) {
	tbl := testTable(t)

	tests := []struct {
		name    string
		offset  int
		limit   int
		wantLen int
		firstID int64
	}{
		{"first two", 0, 2, 2, 1},
		{"middle", 2, 2, 2, 3},
		{"limit past end", 3, 10, 2, 4},
		{"zero limit means rest", 1, 0, 4, 2},
		{"offset past end", 10, 5, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tbl.Slice(tt.offset, tt.limit)
			assert.Equal(t, tt.wantLen, s.NumRows())
			if tt.wantLen > 0 {
				assert.Equal(t, tt.firstID, s.Cell(0, 0))
			}
		})
	}
}

func TestSampleBounds(t *testing.T) {
	tbl := testTable(t)

	small := tbl.Sample(3)
	assert.Equal(t, 3, small.NumRows())

	// Sampled rows must come from the original table.
	ids := make(map[int64]bool)
	for i := 0; i < tbl.NumRows(); i++ {
		ids[tbl.Cell(i, 0).(int64)] = true
	}
	seen := make(map[int64]bool)
	for i := 0; i < small.NumRows(); i++ {
		id := small.Cell(i, 0).(int64)
		assert.True(t, ids[id])
		assert.False(t, seen[id], "sample must not repeat rows")
		seen[id] = true
	}

	full := tbl.Sample(100)
	assert.Equal(t, tbl.NumRows(), full.NumRows())
}

func TestMissingCells(t *testing.T) {
	tbl := testTable(t)
	assert.Equal(t, 1, tbl.MissingCells())
}

func TestSizeBytesGrowsWithRows(t *testing.T) {
	tbl := testTable(t)
	before := tbl.SizeBytes()
	require.NoError(t, tbl.AppendRow(Row{int64(6), "north", 1.0}))
	assert.Greater(t, tbl.SizeBytes(), before)
	assert.Greater(t, tbl.SizeMB(), 0.0)
}

func TestIsIDColumn(t *testing.T) {
	assert.True(t, IsIDColumn("id"))
	assert.True(t, IsIDColumn("customer_ID"))
	assert.False(t, IsIDColumn("region"))
}

func TestIsDateColumn(t *testing.T) {
	assert.True(t, IsDateColumn("order_date"))
	assert.True(t, IsDateColumn("CreatedTime"))
	assert.False(t, IsDateColumn("amount"))
}

func TestInferColumnTypes(t *testing.T) {
	rows := [][]string{
		{"1", "3.5", "true", "2024-01-02", "hello"},
		{"2", "7", "false", "2024-02-03", "world"},
		{"", "1e3", "true", "", "42"},
	}
	types := InferColumnTypes(rows, 5)
	assert.Equal(t, []FieldType{
		FieldTypeInt,
		FieldTypeFloat,
		FieldTypeBool,
		FieldTypeTimestamp,
		FieldTypeString,
	}, types)
}

func TestConvertCell(t *testing.T) {
	assert.Nil(t, ConvertCell("", FieldTypeInt))
	assert.Equal(t, int64(42), ConvertCell("42", FieldTypeInt))
	assert.Equal(t, 3.5, ConvertCell("3.5", FieldTypeFloat))
	assert.Equal(t, true, ConvertCell("true", FieldTypeBool))

	ts := ConvertCell("2024-01-02", FieldTypeTimestamp)
	parsed, ok := ts.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 2024, parsed.Year())

	// Unparseable values fall back to the raw string.
	assert.Equal(t, "abc", ConvertCell("abc", FieldTypeInt))
}

func TestFromStringRows(t *testing.T) {
	tbl := FromStringRows("data", []string{"n", "name"}, [][]string{
		{"1", "a"},
		{"2", "b"},
		{"3"}, // ragged row padded with missing cells
	})
	require.Equal(t, 3, tbl.NumRows())
	assert.Equal(t, FieldTypeInt, tbl.Columns()[0].Type)
	assert.Equal(t, int64(3), tbl.Cell(2, 0))
	assert.Nil(t, tbl.Cell(2, 1))
}

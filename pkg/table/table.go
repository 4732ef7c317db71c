// Package table provides the in-process tabular data model for NexData.
// A Table is a named, rectangular dataset with ordered, typed columns. It is
// the unit of exchange between importers, the adaptive storage manager and
// the persistent store.
package table

import (
	"math/rand"
	"strings"
	"time"

	"github.com/nexdata/nexdata/pkg/errors"
)

// FieldType represents the data type of a column
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
)

// Column describes a single column: its name and declared type.
type Column struct {
	Name string
	Type FieldType
}

// Row is one ordered record. Cell values are nil (missing), string, int64,
// float64, bool or time.Time according to the column type.
type Row []interface{}

// Table is a named rectangular dataset.
type Table struct {
	name    string
	columns []Column
	rows    []Row
}

// New creates an empty table with the given name and columns.
func New(name string, columns []Column) *Table {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Table{
		name:    name,
		columns: cols,
	}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// SetName renames the table.
func (t *Table) SetName(name string) { t.name = name }

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.rows) }

// NumCols returns the number of columns.
func (t *Table) NumCols() int { return len(t.columns) }

// Columns returns a copy of the column definitions.
func (t *Table) Columns() []Column {
	cols := make([]Column, len(t.columns))
	copy(cols, t.columns)
	return cols
}

// ColumnNames returns the ordered column names.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// AppendRow appends a row. The row must match the column count.
func (t *Table) AppendRow(row Row) error {
	if len(row) != len(t.columns) {
		return errors.Newf(errors.ErrorTypeData,
			"row has %d cells, table has %d columns", len(row), len(t.columns))
	}
	t.rows = append(t.rows, row)
	return nil
}

// Cell returns the value at (row, col).
func (t *Table) Cell(row, col int) interface{} {
	return t.rows[row][col]
}

// SetCell replaces the value at (row, col).
func (t *Table) SetCell(row, col int, v interface{}) {
	t.rows[row][col] = v
}

// SetColumnType changes the declared type of a column. Callers are
// responsible for converting the column's cells to match.
func (t *Table) SetColumnType(col int, ft FieldType) {
	t.columns[col].Type = ft
}

// ReplaceRows swaps the table's rows for a new set. Each row must match
// the column count.
func (t *Table) ReplaceRows(rows []Row) {
	t.rows = rows
}

// Row returns the row at index i. The returned slice is shared with the
// table; callers must not mutate it.
func (t *Table) Row(i int) Row { return t.rows[i] }

// Clone returns a deep copy. Rows are copied cell by cell so mutation of the
// original cannot corrupt the copy.
func (t *Table) Clone() *Table {
	c := New(t.name, t.columns)
	c.rows = make([]Row, len(t.rows))
	for i, row := range t.rows {
		nr := make(Row, len(row))
		copy(nr, row)
		c.rows[i] = nr
	}
	return c
}

// Slice returns a copy holding up to limit rows starting at offset. An
// out-of-range offset yields an empty table, not an error. A limit <= 0
// means all remaining rows.
func (t *Table) Slice(offset, limit int) *Table {
	s := New(t.name, t.columns)
	if offset < 0 {
		offset = 0
	}
	if offset >= len(t.rows) {
		return s
	}
	end := len(t.rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	s.rows = make([]Row, 0, end-offset)
	for _, row := range t.rows[offset:end] {
		nr := make(Row, len(row))
		copy(nr, row)
		s.rows = append(s.rows, nr)
	}
	return s
}

// Sample returns a random sample of at most n rows. When the table has n or
// fewer rows the whole table is returned deterministically.
func (t *Table) Sample(n int) *Table {
	if n <= 0 {
		return New(t.name, t.columns)
	}
	if len(t.rows) <= n {
		return t.Clone()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	idx := rng.Perm(len(t.rows))[:n]

	s := New(t.name, t.columns)
	s.rows = make([]Row, 0, n)
	for _, i := range idx {
		nr := make(Row, len(t.rows[i]))
		copy(nr, t.rows[i])
		s.rows = append(s.rows, nr)
	}
	return s
}

// SizeBytes estimates the in-memory footprint of the table. This is a
// heuristic used for storage routing, not an exact accounting.
func (t *Table) SizeBytes() int64 {
	var size int64
	const rowOverhead = 24   // slice header
	const cellOverhead = 16  // interface header
	for _, row := range t.rows {
		size += rowOverhead
		for _, cell := range row {
			size += cellOverhead
			switch v := cell.(type) {
			case string:
				size += int64(len(v)) + 16
			case int64, float64:
				size += 8
			case bool:
				size += 1
			case time.Time:
				size += 24
			}
		}
	}
	for _, c := range t.columns {
		size += int64(len(c.Name)) + 32
	}
	return size
}

// SizeMB returns the estimated footprint in megabytes.
func (t *Table) SizeMB() float64 {
	return float64(t.SizeBytes()) / (1024 * 1024)
}

// MissingCells counts nil cells.
func (t *Table) MissingCells() int {
	count := 0
	for _, row := range t.rows {
		for _, cell := range row {
			if cell == nil {
				count++
			}
		}
	}
	return count
}

// IsIDColumn reports whether a column name looks like an identifier column.
// Used for opportunistic index creation on persisted tables.
func IsIDColumn(name string) bool {
	return strings.Contains(strings.ToLower(name), "id")
}

// IsDateColumn reports whether a column name suggests date or time content.
func IsDateColumn(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "date") || strings.Contains(lower, "time")
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTable(t *testing.T, n int) *table.Table {
	t.Helper()
	tbl := table.New("events", []table.Column{
		{Name: "id", Type: table.FieldTypeInt},
		{Name: "name", Type: table.FieldTypeString},
		{Name: "score", Type: table.FieldTypeFloat},
		{Name: "active", Type: table.FieldTypeBool},
		{Name: "created_at", Type: table.FieldTypeTimestamp},
	})
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, tbl.AppendRow(table.Row{
			int64(i + 1),
			"row",
			float64(i) / 2,
			i%2 == 0,
			base.Add(time.Duration(i) * time.Minute),
		}))
	}
	return tbl
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tbl := sampleTable(t, 10)

	require.NoError(t, s.Store(ctx, tbl, "events", WriteReplace))

	got, err := s.Load(ctx, "events", 0, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 10, got.NumRows())
	require.Equal(t, tbl.ColumnNames(), got.ColumnNames())

	// Values and types survive the round trip.
	assert.Equal(t, int64(1), got.Cell(0, 0))
	assert.Equal(t, "row", got.Cell(0, 1))
	assert.Equal(t, 0.0, got.Cell(0, 2))
	assert.Equal(t, true, got.Cell(0, 3))
	ts, ok := got.Cell(0, 4).(time.Time)
	require.True(t, ok)
	assert.True(t, ts.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
}

func TestStoreMissingValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tbl := table.New("gaps", []table.Column{
		{Name: "id", Type: table.FieldTypeInt},
		{Name: "v", Type: table.FieldTypeFloat},
	})
	require.NoError(t, tbl.AppendRow(table.Row{int64(1), nil}))
	require.NoError(t, tbl.AppendRow(table.Row{int64(2), 3.5}))

	require.NoError(t, s.Store(ctx, tbl, "gaps", WriteReplace))
	got, err := s.Load(ctx, "gaps", 0, 0, nil)
	require.NoError(t, err)
	assert.Nil(t, got.Cell(0, 1))
	assert.Equal(t, 3.5, got.Cell(1, 1))
}

func TestWriteModes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	tbl := sampleTable(t, 5)

	require.NoError(t, s.Store(ctx, tbl, "events", WriteReplace))

	// Append doubles the rows.
	require.NoError(t, s.Store(ctx, tbl, "events", WriteAppend))
	rows, _, err := s.TableInfo(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 10, rows)

	// Replace resets them.
	require.NoError(t, s.Store(ctx, tbl, "events", WriteReplace))
	rows, _, err = s.TableInfo(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 5, rows)

	// Fail leaves the table untouched.
	err = s.Store(ctx, tbl, "events", WriteFail)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	rows, _, err = s.TableInfo(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 5, rows)
}

func TestStoreRejectsEmptySchema(t *testing.T) {
	s := openTestStore(t)
	err := s.Store(context.Background(), table.New("empty", nil), "empty", WriteReplace)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestStoreRejectsNilTable(t *testing.T) {
	s := openTestStore(t)
	err := s.Store(context.Background(), nil, "missing", WriteReplace)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestLoadPagination(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, sampleTable(t, 25), "events", WriteReplace))

	page, err := s.Load(ctx, "events", 10, 0, nil)
	require.NoError(t, err)
	require.Equal(t, 10, page.NumRows())
	assert.Equal(t, int64(1), page.Cell(0, 0))

	page, err = s.Load(ctx, "events", 10, 20, nil)
	require.NoError(t, err)
	require.Equal(t, 5, page.NumRows())
	assert.Equal(t, int64(21), page.Cell(0, 0))

	// Offset without limit.
	page, err = s.Load(ctx, "events", 0, 24, nil)
	require.NoError(t, err)
	require.Equal(t, 1, page.NumRows())

	// Out-of-range offset yields an empty table.
	page, err = s.Load(ctx, "events", 10, 100, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, page.NumRows())
}

func TestLoadColumnSubset(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, sampleTable(t, 3), "events", WriteReplace))

	got, err := s.Load(ctx, "events", 0, 0, []string{"name", "score"})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "score"}, got.ColumnNames())
}

func TestQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, sampleTable(t, 20), "events", WriteReplace))

	got, err := s.Query(ctx, `SELECT COUNT(*) AS n FROM "events" WHERE "active" = 1`)
	require.NoError(t, err)
	require.Equal(t, 1, got.NumRows())
	assert.Equal(t, int64(10), got.Cell(0, 0))

	_, err = s.Query(ctx, "SELECT * FROM no_such_table")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
}

func TestTableLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exists, err := s.TableExists(ctx, "events")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Store(ctx, sampleTable(t, 2), "events", WriteReplace))
	require.NoError(t, s.Store(ctx, sampleTable(t, 2), "archive", WriteReplace))

	names, err := s.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"archive", "events"}, names)

	rows, columns, err := s.TableInfo(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, []string{"id", "name", "score", "active", "created_at"}, columns)

	require.NoError(t, s.DeleteTable(ctx, "events"))
	exists, err = s.TableExists(ctx, "events")
	require.NoError(t, err)
	assert.False(t, exists)

	// Dropping again is fine.
	require.NoError(t, s.DeleteTable(ctx, "events"))

	_, _, err = s.TableInfo(ctx, "events")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestCreateIndex(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, sampleTable(t, 2), "events", WriteReplace))

	require.NoError(t, s.CreateIndex(ctx, "events", "id"))
	// Idempotent.
	require.NoError(t, s.CreateIndex(ctx, "events", "id"))

	err := s.CreateIndex(ctx, "events", "no_such_column")
	require.Error(t, err)
}

func TestWideTableBatching(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Enough columns that a single batch cannot carry many rows without
	// exceeding the bind variable budget.
	columns := make([]table.Column, 120)
	for i := range columns {
		columns[i] = table.Column{Name: fmt.Sprintf("c%03d", i), Type: table.FieldTypeInt}
	}
	tbl := table.New("wide", columns)
	for r := 0; r < 50; r++ {
		row := make(table.Row, len(columns))
		for c := range row {
			row[c] = int64(r*len(columns) + c)
		}
		require.NoError(t, tbl.AppendRow(row))
	}

	require.NoError(t, s.Store(ctx, tbl, "wide", WriteReplace))
	rows, cols, err := s.TableInfo(ctx, "wide")
	require.NoError(t, err)
	assert.Equal(t, 50, rows)
	assert.Len(t, cols, 120)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"plain"`, quoteIdent("plain"))
	assert.Equal(t, `"with ""quotes"""`, quoteIdent(`with "quotes"`))
}

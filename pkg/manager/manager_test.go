package manager

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/store"
	"github.com/nexdata/nexdata/pkg/table"
)

// testOptions keeps the row threshold tiny so database routing is cheap
// to trigger.
func testOptions() Options {
	return Options{
		RowThreshold:     100,
		SizeThresholdMB:  100,
		DefaultPageLimit: 50,
		StatsSampleSize:  200,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "mgr.db"), store.DefaultOptions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, testOptions(), nil)
}

func makeTable(t *testing.T, rows int) *table.Table {
	t.Helper()
	tbl := table.New("input", []table.Column{
		{Name: "order_id", Type: table.FieldTypeInt},
		{Name: "region", Type: table.FieldTypeString},
		{Name: "amount", Type: table.FieldTypeFloat},
	})
	for i := 0; i < rows; i++ {
		require.NoError(t, tbl.AppendRow(table.Row{
			int64(i + 1),
			fmt.Sprintf("region_%d", i%4),
			float64(i) * 1.5,
		}))
	}
	return tbl
}

func TestLoadSmallStaysInMemory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result, err := m.Load(ctx, makeTable(t, 5), "Small Set", false)
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, result.Storage)
	assert.Equal(t, 5, result.Rows)
	assert.Empty(t, result.TableName)
	assert.Contains(t, result.String(), "fast mode")

	meta := m.Metadata()
	assert.Equal(t, StorageMemory, meta.Storage)
	assert.Equal(t, "Small Set", meta.Source)
	assert.Equal(t, []string{"order_id", "region", "amount"}, meta.Columns)
}

func TestLoadLargeGoesToDatabase(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result, err := m.Load(ctx, makeTable(t, 250), "Big Orders", false)
	require.NoError(t, err)

	assert.Equal(t, StorageDatabase, result.Storage)
	assert.Equal(t, "data_big_orders", result.TableName)
	assert.Contains(t, result.String(), "large dataset mode")
	assert.Equal(t, StorageDatabase, m.StorageModeInUse())

	total, err := m.TotalRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 250, total)
}

func TestLoadAtThresholdStaysInMemory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	// Routing is strictly greater-than.
	result, err := m.Load(ctx, makeTable(t, 100), "edge", false)
	require.NoError(t, err)
	assert.Equal(t, StorageMemory, result.Storage)

	result, err = m.Load(ctx, makeTable(t, 101), "edge", false)
	require.NoError(t, err)
	assert.Equal(t, StorageDatabase, result.Storage)
}

func TestForceDatabase(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	result, err := m.Load(ctx, makeTable(t, 5), "tiny", true)
	require.NoError(t, err)
	assert.Equal(t, StorageDatabase, result.Storage)
	assert.Equal(t, "data_tiny", result.TableName)
}

func TestLoadReplacesPreviousBinding(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, makeTable(t, 250), "first", false)
	require.NoError(t, err)
	_, err = m.Load(ctx, makeTable(t, 250), "second", false)
	require.NoError(t, err)

	// The first table is dropped from the backing store.
	names, err := m.store.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"data_second"}, names)

	// Loading a small dataset drops the remaining database table too.
	_, err = m.Load(ctx, makeTable(t, 5), "third", false)
	require.NoError(t, err)
	names, err = m.store.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestLoadNilTable(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Load(context.Background(), nil, "x", false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestMemoryCopyIsDefensive(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src := makeTable(t, 5)
	_, err := m.Load(ctx, src, "src", false)
	require.NoError(t, err)

	src.SetCell(0, 1, "mutated")

	got, err := m.GetData(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "region_0", got.Cell(0, 1))
}

func TestGetDataMemoryMode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Load(ctx, makeTable(t, 30), "mem", false)
	require.NoError(t, err)

	all, err := m.GetData(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 30, all.NumRows())

	page, err := m.GetData(ctx, 10, 25)
	require.NoError(t, err)
	assert.Equal(t, 5, page.NumRows())
	assert.Equal(t, int64(26), page.Cell(0, 0))
}

func TestGetDataDatabaseModeCapsUnboundedReads(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Load(ctx, makeTable(t, 250), "big", false)
	require.NoError(t, err)

	got, err := m.GetData(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, got.NumRows(), "unbounded read must be capped at DefaultPageLimit")
}

func TestPaginationCoversAllRowsExactlyOnce(t *testing.T) {
	for _, mode := range []struct {
		name string
		rows int
	}{
		{"memory", 45},
		{"database", 245},
	} {
		t.Run(mode.name, func(t *testing.T) {
			m := newTestManager(t)
			ctx := context.Background()
			_, err := m.Load(ctx, makeTable(t, mode.rows), "data", false)
			require.NoError(t, err)

			const pageSize = 20
			totalPages, err := m.TotalPages(ctx, pageSize)
			require.NoError(t, err)
			assert.Equal(t, (mode.rows+pageSize-1)/pageSize, totalPages)

			seen := make(map[int64]bool)
			for page := 1; page <= totalPages; page++ {
				p, err := m.GetPage(ctx, page, pageSize)
				require.NoError(t, err)
				for i := 0; i < p.NumRows(); i++ {
					id := p.Cell(i, 0).(int64)
					assert.False(t, seen[id], "row %d seen twice", id)
					seen[id] = true
				}
			}
			assert.Len(t, seen, mode.rows)
		})
	}
}

func TestGetPageValidation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Load(ctx, makeTable(t, 10), "data", false)
	require.NoError(t, err)

	_, err = m.GetPage(ctx, 0, 10)
	require.Error(t, err)
	_, err = m.GetPage(ctx, 1, 0)
	require.Error(t, err)

	// A page past the end is empty, not an error.
	p, err := m.GetPage(ctx, 99, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, p.NumRows())
}

func TestSample(t *testing.T) {
	for _, mode := range []struct {
		name string
		rows int
	}{
		{"memory", 50},
		{"database", 250},
	} {
		t.Run(mode.name, func(t *testing.T) {
			m := newTestManager(t)
			ctx := context.Background()
			_, err := m.Load(ctx, makeTable(t, mode.rows), "data", false)
			require.NoError(t, err)

			sample, err := m.Sample(ctx, 10)
			require.NoError(t, err)
			assert.Equal(t, 10, sample.NumRows())

			// No repeated rows.
			seen := make(map[int64]bool)
			for i := 0; i < sample.NumRows(); i++ {
				id := sample.Cell(i, 0).(int64)
				assert.False(t, seen[id])
				seen[id] = true
			}

			// Requesting more rows than exist returns everything.
			all, err := m.Sample(ctx, mode.rows*2)
			require.NoError(t, err)
			assert.Equal(t, mode.rows, all.NumRows())
		})
	}
}

func TestSampleValidation(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Sample(context.Background(), 0)
	require.Error(t, err)
}

func TestQueryRequiresDatabaseMode(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, makeTable(t, 5), "small", false)
	require.NoError(t, err)
	_, err = m.Query(ctx, "SELECT 1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))

	_, err = m.Load(ctx, makeTable(t, 250), "big", false)
	require.NoError(t, err)
	got, err := m.Query(ctx, `SELECT COUNT(*) AS n FROM "data_big"`)
	require.NoError(t, err)
	assert.Equal(t, int64(250), got.Cell(0, 0))
}

func TestStatistics(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	_, err := m.Load(ctx, makeTable(t, 40), "stats", false)
	require.NoError(t, err)

	stats, err := m.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 40, stats.TotalRows)
	assert.Equal(t, 3, stats.TotalColumns)
	assert.Equal(t, 2, stats.NumericColumns)
	assert.Equal(t, 1, stats.TextColumns)
	assert.Equal(t, 0, stats.DatetimeColumns)
	assert.Equal(t, StorageMemory, stats.StorageMode)
	assert.Equal(t, 40, stats.SampledRows)
}

func TestStatisticsEmptyManager(t *testing.T) {
	m := newTestManager(t)
	stats, err := m.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalRows)
}

func TestClear(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Load(ctx, makeTable(t, 250), "gone", false)
	require.NoError(t, err)
	require.NoError(t, m.Clear(ctx))

	names, err := m.store.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Equal(t, StorageMode(""), m.StorageModeInUse())
	assert.Empty(t, m.Columns())

	total, err := m.TotalRows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	// Idempotent.
	require.NoError(t, m.Clear(ctx))
}

func TestDeriveTableName(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"Sales Data", "data_sales_data"},
		{"orders", "data_orders"},
		{"MIXED Case Name", "data_mixed_case_name"},
		{"", "data_data"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveTableName(tt.source))
	}
}

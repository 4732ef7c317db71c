// Package manager provides the adaptive storage manager for NexData. It is
// the single entry point that hides the memory-vs-database decision from the
// rest of the application: small datasets stay resident, large ones are
// persisted to the SQLite store and read back in pages through a uniform API.
//
// A Manager is single-owner by contract. It performs no internal locking;
// concurrent use requires an external lock or an actor boundary around it.
package manager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/metrics"
	"github.com/nexdata/nexdata/pkg/store"
	"github.com/nexdata/nexdata/pkg/table"
)

// StorageMode identifies which backend serves a loaded table.
type StorageMode string

const (
	// StorageMemory keeps the table resident as a private copy.
	StorageMemory StorageMode = "memory"
	// StorageDatabase persists the table to the SQLite store.
	StorageDatabase StorageMode = "database"
)

// Options holds the routing thresholds and read caps. The thresholds are
// fixed defaults, not derived from available system memory; they are
// constructor inputs so deployments can tune them.
type Options struct {
	// RowThreshold routes tables with more rows to the database.
	RowThreshold int
	// SizeThresholdMB routes tables with a larger estimated footprint to
	// the database.
	SizeThresholdMB float64
	// DefaultPageLimit caps unbounded reads in database mode so "get
	// everything" never means loading an arbitrarily large table.
	DefaultPageLimit int
	// StatsSampleSize bounds the sample used by Statistics.
	StatsSampleSize int
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		RowThreshold:     100_000,
		SizeThresholdMB:  100,
		DefaultPageLimit: 10_000,
		StatsSampleSize:  10_000,
	}
}

// Metadata describes the currently loaded dataset. It is rebuilt on every
// Load and zeroed by Clear.
type Metadata struct {
	Rows      int
	Cols      int
	SizeMB    float64
	Columns   []string
	Source    string
	Storage   StorageMode
	TableName string
}

// LoadResult is the tagged outcome of a Load: machine-readable fields the
// presentation layer can format into a human message.
type LoadResult struct {
	Storage   StorageMode
	Rows      int
	Cols      int
	SizeMB    float64
	TableName string
}

// String renders a human-readable status line for display surfaces.
func (r *LoadResult) String() string {
	if r.Storage == StorageDatabase {
		return fmt.Sprintf("Loaded %d rows into database (large dataset mode)", r.Rows)
	}
	return fmt.Sprintf("Loaded %d rows into memory (fast mode)", r.Rows)
}

// Statistics summarizes the loaded dataset. Column-type and missing-value
// counts are computed on a bounded sample, so on large tables they are
// approximate, not exact.
type Statistics struct {
	TotalRows       int
	TotalColumns    int
	StorageMode     StorageMode
	SizeMB          float64
	NumericColumns  int
	TextColumns     int
	DatetimeColumns int
	MissingValues   int
	SampledRows     int
}

// Manager routes datasets between memory and the persistent store.
type Manager struct {
	store  *store.Store
	opts   Options
	logger *zap.Logger

	current   *table.Table // memory mode only
	tableName string       // database mode only
	useDB     bool
	meta      Metadata
}

// New creates a Manager bound to a store. Zero-valued option fields fall
// back to the defaults.
func New(st *store.Store, opts Options, logger *zap.Logger) *Manager {
	def := DefaultOptions()
	if opts.RowThreshold <= 0 {
		opts.RowThreshold = def.RowThreshold
	}
	if opts.SizeThresholdMB <= 0 {
		opts.SizeThresholdMB = def.SizeThresholdMB
	}
	if opts.DefaultPageLimit <= 0 {
		opts.DefaultPageLimit = def.DefaultPageLimit
	}
	if opts.StatsSampleSize <= 0 {
		opts.StatsSampleSize = def.StatsSampleSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, opts: opts, logger: logger}
}

// Load measures the table, picks a backend and binds the table to it.
// Datasets above either threshold, or with forceDatabase set, are persisted
// under a name derived from sourceName; smaller ones are kept as a private
// in-memory copy so later mutation of the caller's table cannot corrupt
// manager state.
//
// Any previous database binding is dropped after the new load succeeds, so
// repeated large loads cannot accumulate stale tables in the backing file.
// On failure the previous binding and metadata are left untouched.
func (m *Manager) Load(ctx context.Context, t *table.Table, sourceName string, forceDatabase bool) (*LoadResult, error) {
	if t == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "no table provided")
	}

	rows := t.NumRows()
	cols := t.NumCols()
	sizeMB := t.SizeMB()

	m.logger.Info("loading data",
		zap.Int("rows", rows),
		zap.Int("cols", cols),
		zap.Float64("size_mb", sizeMB),
		zap.String("source", sourceName))

	useDB := forceDatabase || rows > m.opts.RowThreshold || sizeMB > m.opts.SizeThresholdMB

	prevTable := ""
	if m.useDB {
		prevTable = m.tableName
	}

	if useDB {
		tableName := DeriveTableName(sourceName)
		if err := m.store.Store(ctx, t, tableName, store.WriteReplace); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to store data in database")
		}

		if prevTable != "" && prevTable != tableName {
			if err := m.store.DeleteTable(ctx, prevTable); err != nil {
				m.logger.Warn("failed to drop previous table",
					zap.String("table", prevTable), zap.Error(err))
			}
		}

		m.useDB = true
		m.tableName = tableName
		m.current = nil // don't keep in memory
		m.meta = Metadata{
			Rows:      rows,
			Cols:      cols,
			SizeMB:    sizeMB,
			Columns:   t.ColumnNames(),
			Source:    sourceName,
			Storage:   StorageDatabase,
			TableName: tableName,
		}

		m.createIndexes(ctx, t, tableName)
		metrics.RowsLoaded.WithLabelValues(string(StorageDatabase)).Add(float64(rows))

		return &LoadResult{
			Storage:   StorageDatabase,
			Rows:      rows,
			Cols:      cols,
			SizeMB:    sizeMB,
			TableName: tableName,
		}, nil
	}

	if prevTable != "" {
		if err := m.store.DeleteTable(ctx, prevTable); err != nil {
			m.logger.Warn("failed to drop previous table",
				zap.String("table", prevTable), zap.Error(err))
		}
	}

	m.useDB = false
	m.current = t.Clone()
	m.tableName = ""
	m.meta = Metadata{
		Rows:    rows,
		Cols:    cols,
		SizeMB:  sizeMB,
		Columns: t.ColumnNames(),
		Source:  sourceName,
		Storage: StorageMemory,
	}

	metrics.RowsLoaded.WithLabelValues(string(StorageMemory)).Add(float64(rows))

	return &LoadResult{
		Storage: StorageMemory,
		Rows:    rows,
		Cols:    cols,
		SizeMB:  sizeMB,
	}, nil
}

// GetData returns rows with automatic pagination. In database mode an
// unbounded request is capped at DefaultPageLimit; in memory mode the
// private copy is sliced directly (no cap, it is already known small).
func (m *Manager) GetData(ctx context.Context, limit, offset int) (*table.Table, error) {
	start := time.Now()
	defer metrics.TimePageFetch(start)

	if m.useDB {
		if limit <= 0 {
			limit = m.opts.DefaultPageLimit
		}
		return m.store.Load(ctx, m.tableName, limit, offset, nil)
	}

	if m.current == nil {
		return table.New("", nil), nil
	}
	return m.current.Slice(offset, limit), nil
}

// GetPage returns the 1-indexed page of the given size.
func (m *Manager) GetPage(ctx context.Context, pageNum, pageSize int) (*table.Table, error) {
	if pageNum < 1 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "page number must be >= 1, got %d", pageNum)
	}
	if pageSize <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "page size must be positive, got %d", pageSize)
	}
	offset := (pageNum - 1) * pageSize
	return m.GetData(ctx, pageSize, offset)
}

// TotalRows returns the number of rows of the loaded dataset, 0 when empty.
func (m *Manager) TotalRows(ctx context.Context) (int, error) {
	if m.useDB {
		count, _, err := m.store.TableInfo(ctx, m.tableName)
		if err != nil {
			return 0, err
		}
		return count, nil
	}
	if m.current != nil {
		return m.current.NumRows(), nil
	}
	return 0, nil
}

// TotalPages returns the page count for the given page size (ceiling).
func (m *Manager) TotalPages(ctx context.Context, pageSize int) (int, error) {
	if pageSize <= 0 {
		return 0, errors.Newf(errors.ErrorTypeValidation, "page size must be positive, got %d", pageSize)
	}
	total, err := m.TotalRows(ctx)
	if err != nil {
		return 0, err
	}
	return (total + pageSize - 1) / pageSize, nil
}

// Sample returns a random sample of at most n rows. When the dataset has n
// or fewer rows the whole table is returned deterministically.
func (m *Manager) Sample(ctx context.Context, n int) (*table.Table, error) {
	if n <= 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "sample size must be positive, got %d", n)
	}

	if m.useDB {
		total, err := m.TotalRows(ctx)
		if err != nil {
			return nil, err
		}
		if total <= n {
			return m.store.Load(ctx, m.tableName, n, 0, nil)
		}
		sqlText := fmt.Sprintf("SELECT * FROM %q ORDER BY RANDOM() LIMIT %d", m.tableName, n)
		return m.store.Query(ctx, sqlText)
	}

	if m.current == nil {
		return table.New("", nil), nil
	}
	return m.current.Sample(n), nil
}

// Query executes SQL against the bound database table. SQL is not
// retrofitted onto the memory path: in memory mode this returns a
// capability error.
func (m *Manager) Query(ctx context.Context, sqlText string) (*table.Table, error) {
	if !m.useDB {
		m.logger.Warn("SQL queries only available in database mode")
		return nil, errors.New(errors.ErrorTypeCapability, "SQL queries only available in database mode")
	}
	return m.store.Query(ctx, sqlText)
}

// Statistics computes summary statistics over a bounded sample. On tables
// larger than the sample size the column-type and missing counts are an
// explicit precision/performance trade-off: approximate, not exact.
func (m *Manager) Statistics(ctx context.Context) (*Statistics, error) {
	total, err := m.TotalRows(ctx)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return &Statistics{}, nil
	}

	sample, err := m.Sample(ctx, m.opts.StatsSampleSize)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		TotalRows:     total,
		TotalColumns:  len(m.meta.Columns),
		StorageMode:   m.meta.Storage,
		SizeMB:        m.meta.SizeMB,
		MissingValues: sample.MissingCells(),
		SampledRows:   sample.NumRows(),
	}

	for _, col := range sample.Columns() {
		switch col.Type {
		case table.FieldTypeInt, table.FieldTypeFloat:
			stats.NumericColumns++
		case table.FieldTypeTimestamp:
			stats.DatetimeColumns++
		case table.FieldTypeString:
			stats.TextColumns++
		}
	}
	return stats, nil
}

// Columns returns the column names of the loaded dataset.
func (m *Manager) Columns() []string {
	cols := make([]string, len(m.meta.Columns))
	copy(cols, m.meta.Columns)
	return cols
}

// Metadata returns a copy of the current dataset metadata.
func (m *Manager) Metadata() Metadata {
	meta := m.meta
	meta.Columns = m.Columns()
	return meta
}

// StorageModeInUse returns the active storage mode, or "" when empty.
func (m *Manager) StorageModeInUse() StorageMode {
	return m.meta.Storage
}

// Clear unbinds the current dataset, dropping the backing persisted table
// if any. Calling Clear on an empty manager is a no-op.
func (m *Manager) Clear(ctx context.Context) error {
	if m.useDB && m.tableName != "" {
		if err := m.store.DeleteTable(ctx, m.tableName); err != nil {
			return err
		}
	}
	m.current = nil
	m.tableName = ""
	m.useDB = false
	m.meta = Metadata{}
	return nil
}

// createIndexes opportunistically indexes date-typed and id-named columns
// of a persisted table. Best-effort: failures are logged and swallowed.
func (m *Manager) createIndexes(ctx context.Context, t *table.Table, tableName string) {
	for _, col := range t.Columns() {
		if col.Type == table.FieldTypeTimestamp || table.IsIDColumn(col.Name) {
			if err := m.store.CreateIndex(ctx, tableName, col.Name); err != nil {
				m.logger.Warn("failed to create index",
					zap.String("table", tableName),
					zap.String("column", col.Name),
					zap.Error(err))
			}
		}
	}
}

// DeriveTableName maps a dataset source name to its persisted table name:
// lower-cased, spaces replaced with underscores, "data_" prefix.
func DeriveTableName(sourceName string) string {
	if sourceName == "" {
		sourceName = "data"
	}
	return "data_" + strings.ToLower(strings.ReplaceAll(sourceName, " ", "_"))
}

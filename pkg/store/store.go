// Package store provides the persistent relational backend for NexData.
// Tables too large to hold resident are written to a single local SQLite
// file and read back in pages. The connection is opened with write-ahead
// logging and relaxed synchronous durability: this is a local analytics
// cache, not a transactional system of record.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/metrics"
	"github.com/nexdata/nexdata/pkg/table"
)

// WriteMode controls behavior when the target table already exists.
type WriteMode string

const (
	// WriteReplace drops and recreates the table.
	WriteReplace WriteMode = "replace"
	// WriteAppend adds rows to the existing table.
	WriteAppend WriteMode = "append"
	// WriteFail returns a conflict error and leaves the table untouched.
	WriteFail WriteMode = "fail"
)

// SQLite's default variable limit is 999; keep statements comfortably under it.
const maxBindVars = 900

// Store is a persistent table store backed by a single SQLite file. It holds
// one long-lived connection and is not safe for concurrent use; all calls
// are expected to come from a single owner.
type Store struct {
	db        *sql.DB
	path      string
	batchSize int
	logger    *zap.Logger
}

// Options configures a Store.
type Options struct {
	// WriteBatchSize bounds the number of rows buffered per insert window.
	WriteBatchSize int
}

// DefaultOptions returns the standard store options.
func DefaultOptions() Options {
	return Options{WriteBatchSize: 10_000}
}

// Open opens (creating if needed) the SQLite file at path. The special path
// ":memory:" opens a private in-memory database.
func Open(path string, opts Options, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WriteBatchSize <= 0 {
		opts.WriteBatchSize = DefaultOptions().WriteBatchSize
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to create data directory")
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open database")
	}

	// A single connection keeps WAL checkpointing simple and matches the
	// single-owner contract.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to configure database")
		}
	}

	logger.Info("connected to database", zap.String("path", path))

	return &Store{
		db:        db,
		path:      path,
		batchSize: opts.WriteBatchSize,
		logger:    logger,
	}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close database")
	}
	s.logger.Info("database connection closed", zap.String("path", s.path))
	return nil
}

// Store writes a table under name. Writes happen in bounded-size batches
// inside a single transaction so a large table cannot blow up memory during
// the write itself and a failed write leaves no partial table behind.
func (s *Store) Store(ctx context.Context, t *table.Table, name string, mode WriteMode) (err error) {
	defer func() { metrics.ObserveStoreOp("store", err) }()

	if t == nil {
		return errors.New(errors.ErrorTypeValidation, "no table provided")
	}
	if t.NumCols() == 0 {
		return errors.New(errors.ErrorTypeValidation, "cannot store a table with no columns")
	}

	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return err
	}

	switch mode {
	case WriteFail:
		if exists {
			return errors.Newf(errors.ErrorTypeConflict, "table %q already exists", name)
		}
	case WriteReplace, WriteAppend:
	default:
		return errors.Newf(errors.ErrorTypeValidation, "unknown write mode %q", mode)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if mode == WriteReplace && exists {
		if _, err = tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to drop table %q", name)
		}
		exists = false
	}

	if !exists {
		if _, err = tx.ExecContext(ctx, createTableSQL(name, t.Columns())); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to create table %q", name)
		}
	}

	if err = s.insertRows(ctx, tx, t, name); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "failed to commit write")
	}

	s.logger.Info("stored table",
		zap.String("table", name),
		zap.Int("rows", t.NumRows()),
		zap.String("mode", string(mode)))
	return nil
}

func (s *Store) insertRows(ctx context.Context, tx *sql.Tx, t *table.Table, name string) error {
	cols := t.Columns()
	numCols := len(cols)

	rowsPerStmt := maxBindVars / numCols
	if rowsPerStmt < 1 {
		rowsPerStmt = 1
	}
	if rowsPerStmt > s.batchSize {
		rowsPerStmt = s.batchSize
	}

	quoted := make([]string, numCols)
	for i, c := range cols {
		quoted[i] = quoteIdent(c.Name)
	}
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ",
		quoteIdent(name), strings.Join(quoted, ", "))
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", numCols), ", ") + ")"

	for start := 0; start < t.NumRows(); start += rowsPerStmt {
		end := start + rowsPerStmt
		if end > t.NumRows() {
			end = t.NumRows()
		}

		chunk := end - start
		stmt := prefix + strings.TrimSuffix(strings.Repeat(placeholder+", ", chunk), ", ")

		args := make([]interface{}, 0, chunk*numCols)
		for i := start; i < end; i++ {
			row := t.Row(i)
			for _, cell := range row {
				args = append(args, bindValue(cell))
			}
		}

		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeStorage,
				"failed to insert rows %d-%d into %q", start, end, name)
		}
	}
	return nil
}

// Load returns a page of rows from the named table. A limit <= 0 returns all
// rows (the caller's responsibility to bound). A nil columns slice returns
// all columns. An out-of-range offset yields an empty table, not an error.
func (s *Store) Load(ctx context.Context, name string, limit, offset int, columns []string) (t *table.Table, err error) {
	defer func() { metrics.ObserveStoreOp("load", err) }()

	colStr := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = quoteIdent(c)
		}
		colStr = strings.Join(quoted, ", ")
	}

	query := fmt.Sprintf("SELECT %s FROM %s", colStr, quoteIdent(name))
	var args []interface{}
	if limit > 0 || offset > 0 {
		// SQLite requires a LIMIT clause for OFFSET; -1 means unlimited.
		effLimit := int64(-1)
		if limit > 0 {
			effLimit = int64(limit)
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, effLimit, int64(offset))
	}

	t, err = s.queryTable(ctx, name, query, args...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("loaded rows",
		zap.String("table", name), zap.Int("rows", t.NumRows()))
	return t, nil
}

// Query executes an arbitrary read query and returns the result as a table.
// This is an operator-trusted surface; callers exposed to untrusted input
// must validate statements first (see pkg/sqlquery).
func (s *Store) Query(ctx context.Context, sqlText string) (t *table.Table, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveStoreOp("query", err)
		metrics.TimeQuery(start)
	}()
	return s.queryTable(ctx, "query_result", sqlText)
}

func (s *Store) queryTable(ctx context.Context, name, query string, args ...interface{}) (*table.Table, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed")
	}
	defer rows.Close()

	colNames, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read result columns")
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read result column types")
	}

	columns := make([]table.Column, len(colNames))
	for i, cn := range colNames {
		columns[i] = table.Column{Name: cn, Type: fieldTypeFromDecl(colTypes[i].DatabaseTypeName())}
	}

	t := table.New(name, columns)
	scan := make([]interface{}, len(colNames))
	for i := range scan {
		scan[i] = new(interface{})
	}

	for rows.Next() {
		if err := rows.Scan(scan...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan row")
		}
		row := make(table.Row, len(colNames))
		for i := range scan {
			row[i] = normalizeValue(*(scan[i].(*interface{})), columns[i].Type)
		}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "row iteration failed")
	}
	return t, nil
}

// TableInfo returns the row count and column names of a table.
func (s *Store) TableInfo(ctx context.Context, name string) (rowCount int, columns []string, err error) {
	defer func() { metrics.ObserveStoreOp("table_info", err) }()

	exists, err := s.TableExists(ctx, name)
	if err != nil {
		return 0, nil, err
	}
	if !exists {
		return 0, nil, errors.Newf(errors.ErrorTypeNotFound, "table %q does not exist", name)
	}

	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name))
	if err := row.Scan(&rowCount); err != nil {
		return 0, nil, errors.Wrapf(err, errors.ErrorTypeQuery, "failed to count rows of %q", name)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(name)))
	if err != nil {
		return 0, nil, errors.Wrapf(err, errors.ErrorTypeQuery, "failed to read schema of %q", name)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			colName    string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &defaultVal, &pk); err != nil {
			return 0, nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan table info")
		}
		columns = append(columns, colName)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, errors.Wrap(err, errors.ErrorTypeQuery, "table info iteration failed")
	}
	return rowCount, columns, nil
}

// ListTables returns the names of all user tables, sorted.
func (s *Store) ListTables(ctx context.Context) (names []string, err error) {
	defer func() { metrics.ObserveStoreOp("list_tables", err) }()

	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to list tables")
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan table name")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "table list iteration failed")
	}
	return names, nil
}

// TableExists reports whether the named table exists.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", name)
	var found string
	err := row.Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeQuery, "failed to check table existence")
	}
	return true, nil
}

// DeleteTable drops a table. Dropping a missing table is not an error.
func (s *Store) DeleteTable(ctx context.Context, name string) (err error) {
	defer func() { metrics.ObserveStoreOp("delete_table", err) }()

	if _, err = s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage, "failed to delete table %q", name)
	}
	s.logger.Info("deleted table", zap.String("table", name))
	return nil
}

// CreateIndex creates a secondary index on one column. The index is a
// performance hint only; the column must exist.
func (s *Store) CreateIndex(ctx context.Context, name, column string) (err error) {
	defer func() { metrics.ObserveStoreOp("create_index", err) }()

	indexName := fmt.Sprintf("idx_%s_%s", sanitizeIdent(name), sanitizeIdent(column))
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
		quoteIdent(indexName), quoteIdent(name), quoteIdent(column))
	if _, err = s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeStorage,
			"failed to create index on %s.%s", name, column)
	}
	s.logger.Info("created index",
		zap.String("table", name), zap.String("column", column))
	return nil
}

func createTableSQL(name string, columns []table.Column) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = quoteIdent(c.Name) + " " + sqliteType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(defs, ", "))
}

func sqliteType(ft table.FieldType) string {
	switch ft {
	case table.FieldTypeInt:
		return "INTEGER"
	case table.FieldTypeFloat:
		return "REAL"
	case table.FieldTypeBool:
		return "BOOLEAN"
	case table.FieldTypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func fieldTypeFromDecl(decl string) table.FieldType {
	switch strings.ToUpper(decl) {
	case "INTEGER", "INT", "BIGINT":
		return table.FieldTypeInt
	case "REAL", "FLOAT", "DOUBLE":
		return table.FieldTypeFloat
	case "BOOLEAN":
		return table.FieldTypeBool
	case "TIMESTAMP", "DATETIME", "DATE":
		return table.FieldTypeTimestamp
	default:
		return table.FieldTypeString
	}
}

// bindValue converts a table cell into a driver-friendly value.
func bindValue(cell interface{}) interface{} {
	switch v := cell.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case bool:
		if v {
			return int64(1)
		}
		return int64(0)
	default:
		return cell
	}
}

// normalizeValue converts a scanned value back into the table cell domain.
func normalizeValue(v interface{}, ft table.FieldType) interface{} {
	if v == nil {
		return nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch ft {
	case table.FieldTypeBool:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case table.FieldTypeTimestamp:
		if s, ok := v.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts
			}
		}
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sanitizeIdent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

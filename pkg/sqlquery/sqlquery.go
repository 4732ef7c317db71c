// Package sqlquery validates and runs read-only SQL against a dataset.
// Datasets already living in the database are queried in place through
// the manager; in-memory datasets are staged into a transient SQLite
// database under the fixed table name "data".
package sqlquery

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/store"
	"github.com/nexdata/nexdata/pkg/table"
)

// StagedTableName is the table name an in-memory dataset is exposed as.
const StagedTableName = "data"

// blockedPatterns match statements that mutate data or schema. Matching
// is on word boundaries so column names like "updated_at" pass.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bdrop\b`),
	regexp.MustCompile(`(?i)\bdelete\b`),
	regexp.MustCompile(`(?i)\btruncate\b`),
	regexp.MustCompile(`(?i)\balter\b`),
	regexp.MustCompile(`(?i)\bcreate\s+table\b`),
	regexp.MustCompile(`(?i)\binsert\b`),
	regexp.MustCompile(`(?i)\bupdate\b`),
	regexp.MustCompile(`(?i)\battach\b`),
	regexp.MustCompile(`(?i)\bpragma\b`),
}

// Validate rejects empty statements and statements containing mutating
// keywords. It is a guard against accidents, not a sandbox.
func Validate(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return errors.New(errors.ErrorTypeValidation, "query is empty")
	}
	for _, re := range blockedPatterns {
		if loc := re.FindStringIndex(trimmed); loc != nil {
			word := strings.ToUpper(strings.TrimSpace(trimmed[loc[0]:loc[1]]))
			return errors.Newf(errors.ErrorTypeValidation, "query contains blocked keyword %q", word)
		}
	}
	return nil
}

// Executor runs validated queries against staged in-memory datasets.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an executor. A nil logger disables logging.
func NewExecutor(logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{logger: logger.With(zap.String("component", "sqlquery"))}
}

// Execute stages the dataset into a transient SQLite database as table
// "data" and runs the query against it. The query must pass Validate.
func (e *Executor) Execute(ctx context.Context, t *table.Table, query string) (*table.Table, error) {
	if err := Validate(query); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "no dataset loaded")
	}

	st, err := store.Open(":memory:", store.DefaultOptions(), e.logger)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to open staging database")
	}
	defer st.Close()

	if err := st.Store(ctx, t, StagedTableName, store.WriteReplace); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeStorage, "failed to stage dataset")
	}

	e.logger.Debug("executing staged query",
		zap.Int("rows", t.NumRows()),
		zap.String("query", query))
	return st.Query(ctx, query)
}

// ExampleQueries returns starter queries against the staged table name,
// parameterized with the dataset's first column where one exists.
func ExampleQueries(t *table.Table) []string {
	col := "*"
	if t != nil && t.NumCols() > 0 {
		col = t.ColumnNames()[0]
	}
	return []string{
		"SELECT * FROM data LIMIT 10",
		"SELECT COUNT(*) AS total FROM data",
		"SELECT " + col + ", COUNT(*) AS n FROM data GROUP BY " + col + " ORDER BY n DESC LIMIT 10",
	}
}

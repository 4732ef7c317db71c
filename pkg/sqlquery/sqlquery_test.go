package sqlquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

func TestValidate(t *testing.T) {
	valid := []string{
		"SELECT * FROM data",
		"select region, count(*) from data group by region",
		// Word boundaries: column names containing blocked words pass.
		"SELECT updated_at, created_at FROM data",
		"SELECT * FROM data WHERE name = 'insertion'",
	}
	for _, q := range valid {
		assert.NoError(t, Validate(q), q)
	}

	blocked := []string{
		"DROP TABLE data",
		"delete from data",
		"TRUNCATE data",
		"ALTER TABLE data ADD COLUMN x",
		"CREATE TABLE evil (x)",
		"INSERT INTO data VALUES (1)",
		"UPDATE data SET x = 1",
		"ATTACH DATABASE '/etc/passwd' AS p",
		"PRAGMA writable_schema = 1",
		"",
		"   ",
	}
	for _, q := range blocked {
		err := Validate(q)
		require.Error(t, err, q)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation), q)
	}
}

func queryTable(t *testing.T) *table.Table {
	t.Helper()
	tbl := table.New("sales", []table.Column{
		{Name: "region", Type: table.FieldTypeString},
		{Name: "amount", Type: table.FieldTypeFloat},
	})
	rows := []table.Row{
		{"north", 10.0},
		{"north", 20.0},
		{"south", 5.0},
	}
	for _, row := range rows {
		require.NoError(t, tbl.AppendRow(row))
	}
	return tbl
}

func TestExecute(t *testing.T) {
	e := NewExecutor(nil)
	ctx := context.Background()

	got, err := e.Execute(ctx, queryTable(t),
		"SELECT region, SUM(amount) AS total FROM data GROUP BY region ORDER BY region")
	require.NoError(t, err)
	require.Equal(t, 2, got.NumRows())
	assert.Equal(t, "north", got.Cell(0, 0))
	assert.Equal(t, 30.0, got.Cell(0, 1))
	assert.Equal(t, "south", got.Cell(1, 0))
	assert.Equal(t, 5.0, got.Cell(1, 1))
}

func TestExecuteRejectsBlockedStatement(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Execute(context.Background(), queryTable(t), "DROP TABLE data")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestExecuteNilTable(t *testing.T) {
	e := NewExecutor(nil)
	_, err := e.Execute(context.Background(), nil, "SELECT 1")
	require.Error(t, err)
}

func TestExampleQueries(t *testing.T) {
	queries := ExampleQueries(queryTable(t))
	require.NotEmpty(t, queries)
	for _, q := range queries {
		assert.NoError(t, Validate(q), q)
		assert.Contains(t, q, StagedTableName)
	}
}

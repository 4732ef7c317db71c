package formats

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

const parquetParallelism = 4

// ImportParquet reads a Parquet file into a table. Values are read
// through the row-group reader as flat structs; optional columns come
// back as pointers and map to missing cells when nil. String columns
// whose values all parse as RFC 3339 are promoted to timestamps.
func ImportParquet(path string) (*table.Table, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open Parquet file")
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, nil, parquetParallelism)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet reader")
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	rows, err := pr.ReadByNumber(num)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read Parquet rows")
	}

	records := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		v := reflect.ValueOf(row)
		rt := v.Type()
		rec := make(map[string]interface{}, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			rec[rt.Field(i).Name] = deref(v.Field(i))
		}
		records = append(records, rec)
	}

	t := TableFromRecords(baseName(path), records)
	promoteTimestampColumns(t)
	return t, nil
}

// deref unwraps the pointer wrapping parquet-go uses for optional fields.
func deref(v reflect.Value) interface{} {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Int32, reflect.Int64:
		// Stay in int64: routing through float64 would corrupt ids
		// above 2^53.
		return v.Int()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Bool:
		return v.Bool()
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

func promoteTimestampColumns(t *table.Table) {
	for col, c := range t.Columns() {
		if c.Type != table.FieldTypeString {
			continue
		}
		parsed := make([]interface{}, t.NumRows())
		ok, seen := true, false
		for i := 0; i < t.NumRows() && ok; i++ {
			cell := t.Cell(i, col)
			if cell == nil {
				continue
			}
			s, isStr := cell.(string)
			if !isStr {
				ok = false
				break
			}
			ts, err := time.Parse(time.RFC3339, s)
			if err != nil {
				ok = false
				break
			}
			parsed[i], seen = ts, true
		}
		if ok && seen {
			t.SetColumnType(col, table.FieldTypeTimestamp)
			for i := 0; i < t.NumRows(); i++ {
				if parsed[i] != nil {
					t.SetCell(i, col, parsed[i])
				}
			}
		}
	}
}

// ExportParquet writes a table as a Parquet file using a JSON row writer
// with a schema derived from the table's columns. All columns are
// OPTIONAL so missing cells survive the round trip.
func ExportParquet(t *table.Table, path string) error {
	schema, err := parquetSchema(t)
	if err != nil {
		return err
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet file")
	}
	defer fw.Close()

	pw, err := writer.NewJSONWriter(schema, fw, parquetParallelism)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet writer")
	}

	names := t.ColumnNames()
	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		rec := make(map[string]interface{}, len(names))
		for j, name := range names {
			if row[j] == nil {
				continue
			}
			rec[name] = exportJSONValue(row[j])
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to marshal Parquet row")
		}
		if err := pw.Write(raw); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write Parquet row %d", i)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to finish Parquet file")
	}
	return nil
}

type parquetJSONSchema struct {
	Tag    string               `json:",omitempty"`
	Fields []*parquetJSONSchema `json:",omitempty"`
}

// parquetSchema renders the JSON schema string the row writer expects.
func parquetSchema(t *table.Table) (string, error) {
	fields := make([]*parquetJSONSchema, 0, t.NumCols())
	for _, c := range t.Columns() {
		var typeTag string
		switch c.Type {
		case table.FieldTypeInt:
			typeTag = "type=INT64"
		case table.FieldTypeFloat:
			typeTag = "type=DOUBLE"
		case table.FieldTypeBool:
			typeTag = "type=BOOLEAN"
		default:
			// strings and timestamps, the latter stored as RFC 3339 text
			typeTag = "type=BYTE_ARRAY, convertedtype=UTF8"
		}
		fields = append(fields, &parquetJSONSchema{
			Tag: fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", parquetFieldName(c.Name), typeTag),
		})
	}

	raw, err := json.Marshal(parquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeData, "failed to build Parquet schema")
	}
	return string(raw), nil
}

// parquetFieldName makes a column name safe for a schema tag. The writer
// matches JSON keys to fields case-insensitively, so the original keys in
// exported rows still line up.
func parquetFieldName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if s == "" {
		return "Field"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

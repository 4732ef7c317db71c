package formats

import (
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

// ImportJSON reads a records-oriented JSON file (an array of flat objects)
// into a table. Columns are the union of record keys, sorted for a
// deterministic order since JSON objects carry none.
func ImportJSON(path string) (*table.Table, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read JSON file")
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to parse records-oriented JSON")
	}

	return TableFromRecords(baseName(path), records), nil
}

// TableFromRecords builds a table from decoded JSON records. Shared with
// the REST client, which lands API payloads the same way.
func TableFromRecords(name string, records []map[string]interface{}) *table.Table {
	keySet := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]table.Column, len(keys))
	for i, k := range keys {
		columns[i] = table.Column{Name: k, Type: inferJSONColumnType(records, k)}
	}

	t := table.New(name, columns)
	for _, rec := range records {
		row := make(table.Row, len(keys))
		for i, k := range keys {
			row[i] = convertJSONValue(rec[k], columns[i].Type)
		}
		_ = t.AppendRow(row) // row length matches columns by construction
	}
	return t
}

// inferJSONColumnType picks a column type from the values under a key.
// JSON numbers decode as float64, while Parquet readers hand over int64
// directly; a column is int only when every value is integral.
func inferJSONColumnType(records []map[string]interface{}, key string) table.FieldType {
	isNum, isInt, isBool := true, true, true
	seen := false

	for _, rec := range records {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		seen = true

		switch n := v.(type) {
		case float64:
			isBool = false
			if n != float64(int64(n)) {
				isInt = false
			}
		case int64:
			isBool = false
		case bool:
			isNum, isInt = false, false
		default:
			return table.FieldTypeString
		}
	}

	switch {
	case !seen:
		return table.FieldTypeString
	case isNum && isInt:
		return table.FieldTypeInt
	case isNum:
		return table.FieldTypeFloat
	case isBool:
		return table.FieldTypeBool
	default:
		return table.FieldTypeString
	}
}

func convertJSONValue(v interface{}, ft table.FieldType) interface{} {
	if v == nil {
		return nil
	}
	switch ft {
	case table.FieldTypeInt:
		switch n := v.(type) {
		case float64:
			return int64(n)
		case int64:
			return n
		}
	case table.FieldTypeFloat:
		switch n := v.(type) {
		case float64:
			return n
		case int64:
			return float64(n)
		}
	case table.FieldTypeBool:
		if b, ok := v.(bool); ok {
			return b
		}
	}
	if s, ok := v.(string); ok {
		return s
	}
	// Nested objects and arrays flatten to their JSON text.
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// ExportJSON writes a table as a records-oriented JSON array with two-space
// indentation.
func ExportJSON(t *table.Table, path string) error {
	records := make([]map[string]interface{}, 0, t.NumRows())
	names := t.ColumnNames()

	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		rec := make(map[string]interface{}, len(names))
		for j, name := range names {
			rec[name] = exportJSONValue(row[j])
		}
		records = append(records, rec)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to marshal records")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write JSON file")
	}
	return nil
}

func exportJSONValue(v interface{}) interface{} {
	if ts, ok := v.(time.Time); ok {
		return ts.Format(time.RFC3339)
	}
	return v
}

package table

import (
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the accepted timestamp formats for string cells, tried in
// order. Matches what the desktop importers accepted.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// InferColumnTypes inspects string-valued rows and returns the narrowest
// FieldType for each column. Empty cells are ignored; a column where every
// cell is empty stays a string column.
func InferColumnTypes(rows [][]string, numCols int) []FieldType {
	types := make([]FieldType, numCols)

	for col := 0; col < numCols; col++ {
		isInt, isFloat, isBool, isTime := true, true, true, true
		seen := false

		for _, row := range rows {
			if col >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[col])
			if v == "" {
				continue
			}
			seen = true

			if isInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					isInt = false
				}
			}
			if isFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					isFloat = false
				}
			}
			if isBool {
				if _, err := strconv.ParseBool(v); err != nil {
					isBool = false
				}
			}
			if isTime {
				if _, ok := parseTime(v); !ok {
					isTime = false
				}
			}
			if !isInt && !isFloat && !isBool && !isTime {
				break
			}
		}

		switch {
		case !seen:
			types[col] = FieldTypeString
		case isInt:
			types[col] = FieldTypeInt
		case isFloat:
			types[col] = FieldTypeFloat
		case isBool:
			types[col] = FieldTypeBool
		case isTime:
			types[col] = FieldTypeTimestamp
		default:
			types[col] = FieldTypeString
		}
	}

	return types
}

// ConvertCell parses a string cell into the Go value for the given type.
// Empty strings become nil (missing). Values that fail to parse fall back
// to the raw string rather than erroring, mirroring a permissive import.
func ConvertCell(v string, ft FieldType) interface{} {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	switch ft {
	case FieldTypeInt:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case FieldTypeFloat:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	case FieldTypeBool:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	case FieldTypeTimestamp:
		if ts, ok := parseTime(v); ok {
			return ts
		}
	}
	return v
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// FromStringRows builds a typed table from a header and string rows,
// inferring column types from the data.
func FromStringRows(name string, header []string, rows [][]string) *Table {
	types := InferColumnTypes(rows, len(header))

	columns := make([]Column, len(header))
	for i, h := range header {
		columns[i] = Column{Name: h, Type: types[i]}
	}

	t := New(name, columns)
	for _, row := range rows {
		tr := make(Row, len(header))
		for i := range header {
			if i < len(row) {
				tr[i] = ConvertCell(row[i], types[i])
			}
		}
		t.rows = append(t.rows, tr)
	}
	return t
}

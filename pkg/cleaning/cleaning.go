// Package cleaning provides in-place data cleaning operations on tables:
// deduplication, missing-value handling, outlier removal, normalization,
// type conversion and sorting. Operations report how many rows or cells
// they touched so callers can surface the effect.
package cleaning

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

// RemoveDuplicates drops rows whose full cell tuple repeats an earlier
// row. It returns the number of rows removed.
func RemoveDuplicates(t *table.Table) int {
	seen := make(map[string]struct{}, t.NumRows())
	kept := make([]table.Row, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		key := rowKey(t.Row(i))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, t.Row(i))
	}
	removed := t.NumRows() - len(kept)
	t.ReplaceRows(kept)
	return removed
}

func rowKey(row table.Row) string {
	var b strings.Builder
	for _, cell := range row {
		if cell == nil {
			b.WriteString("\x00nil")
		} else {
			fmt.Fprintf(&b, "%v", cell)
		}
		b.WriteByte('\x1f')
	}
	return b.String()
}

// DropMissing removes rows with a missing value in any of the named
// columns, or in any column at all when none are named. It returns the
// number of rows removed.
func DropMissing(t *table.Table, columns []string) (int, error) {
	cols, err := resolveColumns(t, columns)
	if err != nil {
		return 0, err
	}

	kept := make([]table.Row, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		missing := false
		for _, c := range cols {
			if row[c] == nil {
				missing = true
				break
			}
		}
		if !missing {
			kept = append(kept, row)
		}
	}
	removed := t.NumRows() - len(kept)
	t.ReplaceRows(kept)
	return removed, nil
}

// FillMean replaces missing values in a numeric column with the column
// mean. It returns the number of cells filled.
func FillMean(t *table.Table, column string) (int, error) {
	return fillNumeric(t, column, func(values []float64) float64 {
		return mean(values)
	})
}

// FillMedian replaces missing values in a numeric column with the column
// median.
func FillMedian(t *table.Table, column string) (int, error) {
	return fillNumeric(t, column, func(values []float64) float64 {
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	})
}

// FillMode replaces missing values in any column with the most frequent
// present value. Ties break toward the smaller rendered value.
func FillMode(t *table.Table, column string) (int, error) {
	col, err := columnIndex(t, column)
	if err != nil {
		return 0, err
	}

	counts := make(map[string]int)
	values := make(map[string]interface{})
	for i := 0; i < t.NumRows(); i++ {
		cell := t.Cell(i, col)
		if cell == nil {
			continue
		}
		key := fmt.Sprintf("%v", cell)
		counts[key]++
		values[key] = cell
	}
	if len(counts) == 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "column %q has no present values", column)
	}

	bestKey, bestN := "", -1
	for key, n := range counts {
		if n > bestN || (n == bestN && key < bestKey) {
			bestKey, bestN = key, n
		}
	}
	modeValue := values[bestKey]

	filled := 0
	for i := 0; i < t.NumRows(); i++ {
		if t.Cell(i, col) == nil {
			t.SetCell(i, col, modeValue)
			filled++
		}
	}
	return filled, nil
}

// ForwardFill replaces missing values with the nearest earlier present
// value in the column.
func ForwardFill(t *table.Table, column string) (int, error) {
	col, err := columnIndex(t, column)
	if err != nil {
		return 0, err
	}
	filled := 0
	var last interface{}
	for i := 0; i < t.NumRows(); i++ {
		cell := t.Cell(i, col)
		if cell != nil {
			last = cell
			continue
		}
		if last != nil {
			t.SetCell(i, col, last)
			filled++
		}
	}
	return filled, nil
}

// BackwardFill replaces missing values with the nearest later present
// value in the column.
func BackwardFill(t *table.Table, column string) (int, error) {
	col, err := columnIndex(t, column)
	if err != nil {
		return 0, err
	}
	filled := 0
	var next interface{}
	for i := t.NumRows() - 1; i >= 0; i-- {
		cell := t.Cell(i, col)
		if cell != nil {
			next = cell
			continue
		}
		if next != nil {
			t.SetCell(i, col, next)
			filled++
		}
	}
	return filled, nil
}

// RemoveOutliersIQR drops rows whose value in the named numeric column
// lies outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR]. Rows with a missing value
// in the column are kept. It returns the number of rows removed.
func RemoveOutliersIQR(t *table.Table, column string) (int, error) {
	col, err := numericColumnIndex(t, column)
	if err != nil {
		return 0, err
	}

	values := presentNumeric(t, col)
	if len(values) < 4 {
		return 0, nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	kept := make([]table.Row, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		v, ok := numericCell(t.Cell(i, col))
		if ok && (v < lo || v > hi) {
			continue
		}
		kept = append(kept, t.Row(i))
	}
	removed := t.NumRows() - len(kept)
	t.ReplaceRows(kept)
	return removed, nil
}

// NormalizeMinMax rescales a numeric column to [0, 1]. A constant column
// maps to 0. The column type becomes float.
func NormalizeMinMax(t *table.Table, column string) error {
	col, err := numericColumnIndex(t, column)
	if err != nil {
		return err
	}
	values := presentNumeric(t, col)
	if len(values) == 0 {
		return errors.Newf(errors.ErrorTypeData, "column %q has no present values", column)
	}
	lo, hi := minMax(values)
	span := hi - lo

	for i := 0; i < t.NumRows(); i++ {
		v, ok := numericCell(t.Cell(i, col))
		if !ok {
			continue
		}
		if span == 0 {
			t.SetCell(i, col, 0.0)
		} else {
			t.SetCell(i, col, (v-lo)/span)
		}
	}
	t.SetColumnType(col, table.FieldTypeFloat)
	return nil
}

// NormalizeZScore rescales a numeric column to zero mean and unit
// variance. A zero-variance column is an error. The column type becomes
// float.
func NormalizeZScore(t *table.Table, column string) error {
	col, err := numericColumnIndex(t, column)
	if err != nil {
		return err
	}
	values := presentNumeric(t, col)
	if len(values) == 0 {
		return errors.Newf(errors.ErrorTypeData, "column %q has no present values", column)
	}
	m := mean(values)
	sd := stdDev(values, m)
	if sd == 0 {
		return errors.Newf(errors.ErrorTypeData, "column %q has zero variance", column)
	}

	for i := 0; i < t.NumRows(); i++ {
		v, ok := numericCell(t.Cell(i, col))
		if !ok {
			continue
		}
		t.SetCell(i, col, (v-m)/sd)
	}
	t.SetColumnType(col, table.FieldTypeFloat)
	return nil
}

func fillNumeric(t *table.Table, column string, pick func([]float64) float64) (int, error) {
	col, err := numericColumnIndex(t, column)
	if err != nil {
		return 0, err
	}
	values := presentNumeric(t, col)
	if len(values) == 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "column %q has no present values", column)
	}

	fill := pick(values)
	var cell interface{} = fill
	if t.Columns()[col].Type == table.FieldTypeInt {
		cell = int64(math.Round(fill))
	}

	filled := 0
	for i := 0; i < t.NumRows(); i++ {
		if t.Cell(i, col) == nil {
			t.SetCell(i, col, cell)
			filled++
		}
	}
	return filled, nil
}

func resolveColumns(t *table.Table, columns []string) ([]int, error) {
	if len(columns) == 0 {
		all := make([]int, t.NumCols())
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	out := make([]int, 0, len(columns))
	for _, name := range columns {
		col, err := columnIndex(t, name)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

func columnIndex(t *table.Table, name string) (int, error) {
	col := t.ColumnIndex(name)
	if col < 0 {
		return 0, errors.Newf(errors.ErrorTypeNotFound, "column %q not found", name)
	}
	return col, nil
}

func numericColumnIndex(t *table.Table, name string) (int, error) {
	col, err := columnIndex(t, name)
	if err != nil {
		return 0, err
	}
	ft := t.Columns()[col].Type
	if ft != table.FieldTypeInt && ft != table.FieldTypeFloat {
		return 0, errors.Newf(errors.ErrorTypeValidation, "column %q is not numeric", name)
	}
	return col, nil
}

func presentNumeric(t *table.Table, col int) []float64 {
	values := make([]float64, 0, t.NumRows())
	for i := 0; i < t.NumRows(); i++ {
		if v, ok := numericCell(t.Cell(i, col)); ok {
			values = append(values, v)
		}
	}
	return values
}

func numericCell(cell interface{}) (float64, bool) {
	switch v := cell.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// quantile interpolates linearly on a sorted slice.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ToNumeric converts a column to float. Unparseable values become
// missing. It returns the number of values that failed to convert.
func ToNumeric(t *table.Table, column string) (int, error) {
	col, err := columnIndex(t, column)
	if err != nil {
		return 0, err
	}
	failed := 0
	for i := 0; i < t.NumRows(); i++ {
		cell := t.Cell(i, col)
		switch v := cell.(type) {
		case nil, float64:
		case int64:
			t.SetCell(i, col, float64(v))
		case bool:
			if v {
				t.SetCell(i, col, 1.0)
			} else {
				t.SetCell(i, col, 0.0)
			}
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				t.SetCell(i, col, nil)
				failed++
				continue
			}
			t.SetCell(i, col, f)
		default:
			t.SetCell(i, col, nil)
			failed++
		}
	}
	t.SetColumnType(col, table.FieldTypeFloat)
	return failed, nil
}

// ToString converts a column to its rendered string form.
func ToString(t *table.Table, column string) error {
	col, err := columnIndex(t, column)
	if err != nil {
		return err
	}
	for i := 0; i < t.NumRows(); i++ {
		cell := t.Cell(i, col)
		if cell == nil {
			continue
		}
		if ts, ok := cell.(time.Time); ok {
			t.SetCell(i, col, ts.Format(time.RFC3339))
			continue
		}
		t.SetCell(i, col, fmt.Sprintf("%v", cell))
	}
	t.SetColumnType(col, table.FieldTypeString)
	return nil
}

// ToTimestamp converts a column of date strings to timestamps.
// Unparseable values become missing. It returns the number of values
// that failed to convert.
func ToTimestamp(t *table.Table, column string) (int, error) {
	col, err := columnIndex(t, column)
	if err != nil {
		return 0, err
	}
	failed := 0
	for i := 0; i < t.NumRows(); i++ {
		cell := t.Cell(i, col)
		switch v := cell.(type) {
		case nil, time.Time:
		case string:
			ts, ok := parseTimestamp(v)
			if !ok {
				t.SetCell(i, col, nil)
				failed++
				continue
			}
			t.SetCell(i, col, ts)
		default:
			t.SetCell(i, col, nil)
			failed++
		}
	}
	t.SetColumnType(col, table.FieldTypeTimestamp)
	return failed, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// SortByColumn sorts rows by the named column. Missing values sort last
// regardless of direction. The sort is stable.
func SortByColumn(t *table.Table, column string, descending bool) error {
	col, err := columnIndex(t, column)
	if err != nil {
		return err
	}

	rows := make([]table.Row, t.NumRows())
	for i := range rows {
		rows[i] = t.Row(i)
	}
	sort.SliceStable(rows, func(a, b int) bool {
		va, vb := rows[a][col], rows[b][col]
		if va == nil || vb == nil {
			return vb == nil && va != nil
		}
		less := compareCells(va, vb)
		if descending {
			return less > 0
		}
		return less < 0
	})
	t.ReplaceRows(rows)
	return nil
}

// compareCells orders two present cells of the same column type.
func compareCells(a, b interface{}) int {
	if fa, ok := numericCell(a); ok {
		if fb, ok := numericCell(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			switch {
			case ta.Before(tb):
				return -1
			case ta.After(tb):
				return 1
			default:
				return 0
			}
		}
	}
	sa, sb := fmt.Sprintf("%v", a), fmt.Sprintf("%v", b)
	return strings.Compare(sa, sb)
}

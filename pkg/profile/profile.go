// Package profile computes dataset profiles: per-column statistics,
// strong correlations between numeric columns, and data quality findings
// with an overall score.
package profile

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nexdata/nexdata/pkg/table"
)

// Severity grades a quality issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue is one data quality finding.
type Issue struct {
	Column   string   `json:"column"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ColumnProfile summarizes one column.
type ColumnProfile struct {
	Name    string          `json:"name"`
	Type    table.FieldType `json:"type"`
	Count   int             `json:"count"`
	Missing int             `json:"missing"`

	// Numeric columns
	Mean   float64 `json:"mean,omitempty"`
	StdDev float64 `json:"std_dev,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Median float64 `json:"median,omitempty"`
	Q1     float64 `json:"q1,omitempty"`
	Q3     float64 `json:"q3,omitempty"`

	// Text columns
	Distinct int    `json:"distinct,omitempty"`
	TopValue string `json:"top_value,omitempty"`

	// Timestamp columns
	Earliest time.Time `json:"earliest,omitempty"`
	Latest   time.Time `json:"latest,omitempty"`
}

// Correlation is a strongly correlated column pair.
type Correlation struct {
	ColumnA string  `json:"column_a"`
	ColumnB string  `json:"column_b"`
	R       float64 `json:"r"`
}

// Report is a full dataset profile.
type Report struct {
	Rows            int             `json:"rows"`
	DuplicateRows   int             `json:"duplicate_rows"`
	Columns         []ColumnProfile `json:"columns"`
	Correlations    []Correlation   `json:"correlations"`
	Issues          []Issue         `json:"issues"`
	QualityScore    float64         `json:"quality_score"`
	Recommendations []string        `json:"recommendations"`
}

// correlationThreshold marks the |r| above which a pair is reported.
const correlationThreshold = 0.7

// Profile computes a full report for the table.
func Profile(t *table.Table) *Report {
	report := &Report{Rows: t.NumRows(), DuplicateRows: duplicateRows(t)}

	numericSeries := make(map[string][]float64)
	for col, c := range t.Columns() {
		p := profileColumn(t, col, c)
		report.Columns = append(report.Columns, p)
		if c.Type == table.FieldTypeInt || c.Type == table.FieldTypeFloat {
			numericSeries[c.Name] = numericColumn(t, col)
		}
	}

	report.Correlations = strongCorrelations(numericSeries)
	report.Issues = findIssues(t, report.Columns)
	report.QualityScore = qualityScore(report.Issues, len(report.Columns))
	report.Recommendations = recommendations(report)
	return report
}

func profileColumn(t *table.Table, col int, c table.Column) ColumnProfile {
	p := ColumnProfile{Name: c.Name, Type: c.Type, Count: t.NumRows()}

	switch c.Type {
	case table.FieldTypeInt, table.FieldTypeFloat:
		values := make([]float64, 0, t.NumRows())
		for i := 0; i < t.NumRows(); i++ {
			v, ok := numericCell(t.Cell(i, col))
			if !ok {
				p.Missing++
				continue
			}
			values = append(values, v)
		}
		if len(values) > 0 {
			p.Mean = mean(values)
			p.StdDev = stdDev(values, p.Mean)
			p.Min, p.Max = minMax(values)
			sorted := append([]float64(nil), values...)
			sort.Float64s(sorted)
			p.Q1 = quantile(sorted, 0.25)
			p.Median = quantile(sorted, 0.5)
			p.Q3 = quantile(sorted, 0.75)
		}

	case table.FieldTypeTimestamp:
		for i := 0; i < t.NumRows(); i++ {
			ts, ok := t.Cell(i, col).(time.Time)
			if !ok {
				p.Missing++
				continue
			}
			if p.Earliest.IsZero() || ts.Before(p.Earliest) {
				p.Earliest = ts
			}
			if p.Latest.IsZero() || ts.After(p.Latest) {
				p.Latest = ts
			}
		}

	default:
		counts := make(map[string]int)
		for i := 0; i < t.NumRows(); i++ {
			cell := t.Cell(i, col)
			if cell == nil {
				p.Missing++
				continue
			}
			counts[fmt.Sprintf("%v", cell)]++
		}
		p.Distinct = len(counts)
		best := -1
		for v, n := range counts {
			if n > best || (n == best && v < p.TopValue) {
				best, p.TopValue = n, v
			}
		}
	}
	return p
}

// numericColumn extracts a column as floats with NaN for missing cells,
// keeping row alignment for pairwise correlation.
func numericColumn(t *table.Table, col int) []float64 {
	out := make([]float64, t.NumRows())
	for i := range out {
		v, ok := numericCell(t.Cell(i, col))
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
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

// strongCorrelations computes Pearson r for every numeric column pair
// and keeps pairs above the threshold, strongest first.
func strongCorrelations(series map[string][]float64) []Correlation {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Correlation
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			r, ok := pearson(series[names[i]], series[names[j]])
			if ok && math.Abs(r) >= correlationThreshold {
				out = append(out, Correlation{ColumnA: names[i], ColumnB: names[j], R: r})
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		return math.Abs(out[a].R) > math.Abs(out[b].R)
	})
	return out
}

// pearson computes the correlation over rows where both values are
// present. It reports false with fewer than two complete pairs or when
// either side has zero variance.
func pearson(xs, ys []float64) (float64, bool) {
	var n int
	var sumX, sumY float64
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		n++
		sumX += xs[i]
		sumY += ys[i]
	}
	if n < 2 {
		return 0, false
	}
	meanX, meanY := sumX/float64(n), sumY/float64(n)

	var cov, varX, varY float64
	for i := range xs {
		if math.IsNaN(xs[i]) || math.IsNaN(ys[i]) {
			continue
		}
		dx, dy := xs[i]-meanX, ys[i]-meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0, false
	}
	return cov / math.Sqrt(varX*varY), true
}

func findIssues(t *table.Table, columns []ColumnProfile) []Issue {
	var issues []Issue
	rows := t.NumRows()
	if rows == 0 {
		return []Issue{{Severity: SeverityCritical, Message: "dataset has no rows"}}
	}

	for _, p := range columns {
		missingRatio := float64(p.Missing) / float64(rows)
		switch {
		case missingRatio > 0.5:
			issues = append(issues, Issue{
				Column:   p.Name,
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%.0f%% of values are missing", missingRatio*100),
			})
		case missingRatio > 0.2:
			issues = append(issues, Issue{
				Column:   p.Name,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("%.0f%% of values are missing", missingRatio*100),
			})
		}

		numeric := p.Type == table.FieldTypeInt || p.Type == table.FieldTypeFloat
		if numeric && p.Missing < rows && p.StdDev == 0 {
			issues = append(issues, Issue{
				Column:   p.Name,
				Severity: SeverityWarning,
				Message:  "column has zero variance",
			})
		}

		if p.Type == table.FieldTypeString && !table.IsIDColumn(p.Name) {
			present := rows - p.Missing
			if present > 0 && float64(p.Distinct)/float64(present) > 0.9 && present > 10 {
				issues = append(issues, Issue{
					Column:   p.Name,
					Severity: SeverityInfo,
					Message:  "nearly all values are distinct; column may be an identifier",
				})
			}
		}
	}
	return issues
}

// qualityScore starts at 100 and deducts per issue by severity.
func qualityScore(issues []Issue, numColumns int) float64 {
	if numColumns == 0 {
		return 0
	}
	score := 100.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= 20
		case SeverityWarning:
			score -= 10
		case SeverityInfo:
			score -= 2
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func recommendations(r *Report) []string {
	var recs []string
	if r.DuplicateRows > 0 {
		recs = append(recs, fmt.Sprintf("remove %d duplicate rows", r.DuplicateRows))
	}
	for _, p := range r.Columns {
		if p.Type == table.FieldTypeString && table.IsDateColumn(p.Name) {
			recs = append(recs, fmt.Sprintf("column %q looks like a date stored as text; convert it to a timestamp", p.Name))
		}
	}
	for _, issue := range r.Issues {
		if issue.Column == "" {
			continue
		}
		switch issue.Severity {
		case SeverityCritical:
			recs = append(recs, fmt.Sprintf("consider dropping column %q or imputing its missing values", issue.Column))
		case SeverityWarning:
			if issue.Message == "column has zero variance" {
				recs = append(recs, fmt.Sprintf("column %q is constant and can be removed", issue.Column))
			} else {
				recs = append(recs, fmt.Sprintf("fill or drop missing values in column %q", issue.Column))
			}
		}
	}
	for _, c := range r.Correlations {
		recs = append(recs, fmt.Sprintf("columns %q and %q are strongly correlated (r=%.2f); one may be redundant",
			c.ColumnA, c.ColumnB, c.R))
	}
	return recs
}

// duplicateRows counts rows beyond the first occurrence of each distinct
// row value. Cells are keyed by their rendered value with separators that
// cannot appear in data.
func duplicateRows(t *table.Table) int {
	seen := make(map[string]struct{}, t.NumRows())
	dupes := 0
	for i := 0; i < t.NumRows(); i++ {
		key := ""
		for _, cell := range t.Row(i) {
			if cell == nil {
				key += "\x00\x1f"
				continue
			}
			key += fmt.Sprintf("%v\x1f", cell)
		}
		if _, ok := seen[key]; ok {
			dupes++
			continue
		}
		seen[key] = struct{}{}
	}
	return dupes
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation; 0 for fewer than two values.
func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
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

// quantile interpolates linearly between the two nearest ranks of a
// sorted slice.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

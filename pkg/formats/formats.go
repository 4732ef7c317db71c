// Package formats provides the file import/export codecs for NexData:
// CSV (with multi-encoding fallback and optional gzip), Excel, JSON
// records and Parquet. Each codec reads into and writes from the common
// table model.
package formats

import (
	"path/filepath"
	"strings"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

// Format identifies a supported file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatExcel   Format = "excel"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// DetectFormat maps a file path to its format by extension.
func DetectFormat(path string) (Format, error) {
	name := strings.ToLower(path)
	if strings.HasSuffix(name, ".csv.gz") {
		return FormatCSV, nil
	}
	switch filepath.Ext(name) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xls":
		return FormatExcel, nil
	case ".json":
		return FormatJSON, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", errors.Newf(errors.ErrorTypeFile, "unsupported file extension: %s", filepath.Ext(name))
	}
}

// ImportOptions tweak format-specific import behavior.
type ImportOptions struct {
	// Sheet selects the Excel worksheet; empty means the first sheet.
	Sheet string
}

// ImportFile reads a file into a table, dispatching on extension. The
// table is named after the file's base name without extension.
func ImportFile(path string, opts ImportOptions) (*table.Table, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return ImportCSV(path)
	case FormatExcel:
		return ImportExcel(path, opts.Sheet)
	case FormatJSON:
		return ImportJSON(path)
	case FormatParquet:
		return ImportParquet(path)
	}
	return nil, errors.Newf(errors.ErrorTypeFile, "unsupported format %q", format)
}

// ExportFile writes a table to a file, dispatching on extension.
func ExportFile(t *table.Table, path string) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}

	switch format {
	case FormatCSV:
		return ExportCSV(t, path)
	case FormatExcel:
		return ExportExcel(t, path, "Sheet1")
	case FormatJSON:
		return ExportJSON(t, path)
	case FormatParquet:
		return ExportParquet(t, path)
	}
	return errors.Newf(errors.ErrorTypeFile, "unsupported format %q", format)
}

// baseName derives a dataset name from a file path: base name with the
// extension (including .csv.gz) stripped.
func baseName(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, ".gz")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

package formats

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

// ImportCSV reads a CSV file into a table. The first row is the header.
// Files are decoded as UTF-8 with fallback to Latin-1 and then CP1252;
// a .csv.gz suffix enables transparent gzip decompression.
func ImportCSV(path string) (*table.Table, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV file")
	}

	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open gzip stream")
		}
		raw, err = io.ReadAll(zr)
		if cerr := zr.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to decompress CSV file")
		}
	}

	text, err := decodeBytes(raw)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1 // tolerate ragged rows

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to parse CSV")
	}
	if len(records) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "CSV file is empty")
	}

	return table.FromStringRows(baseName(path), records[0], records[1:]), nil
}

// decodeBytes decodes file content as UTF-8, Latin-1 or CP1252, in that
// order, mirroring the desktop importer's encoding fallback.
func decodeBytes(raw []byte) (string, error) {
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	for _, cm := range []*charmap.Charmap{charmap.ISO8859_1, charmap.Windows1252} {
		decoded, err := cm.NewDecoder().Bytes(raw)
		if err == nil {
			return string(decoded), nil
		}
	}
	return "", errors.New(errors.ErrorTypeFile, "failed to decode file with supported encodings")
}

// ExportCSV writes a table as CSV with a header row. A .csv.gz suffix
// enables gzip compression.
func ExportCSV(t *table.Table, path string) error {
	f, err := os.Create(path) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create CSV file")
	}
	defer f.Close()

	var w io.Writer = f
	var zw *gzip.Writer
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		zw = gzip.NewWriter(f)
		w = zw
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.ColumnNames()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV header")
	}

	record := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		for j, cell := range row {
			record[j] = FormatCell(cell)
		}
		if err := cw.Write(record); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV row")
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush CSV")
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to finish gzip stream")
		}
	}
	return nil
}

// FormatCell renders a cell value as its canonical string form. Missing
// cells render as the empty string.
func FormatCell(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

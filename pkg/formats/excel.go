package formats

import (
	"github.com/xuri/excelize/v2"

	"github.com/nexdata/nexdata/pkg/errors"
	"github.com/nexdata/nexdata/pkg/table"
)

// SheetNames returns the worksheet names of an Excel workbook.
func SheetNames(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open Excel file")
	}
	defer f.Close()
	return f.GetSheetList(), nil
}

// ImportExcel reads one worksheet into a table. An empty sheet name selects
// the first worksheet. The first row is the header; cell types are inferred
// from the data.
func ImportExcel(path, sheet string) (*table.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open Excel file")
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New(errors.ErrorTypeData, "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read sheet %q", sheet)
	}
	if len(rows) == 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "sheet %q is empty", sheet)
	}

	return table.FromStringRows(baseName(path), rows[0], rows[1:]), nil
}

// ExportExcel writes a table to one worksheet of a new workbook.
func ExportExcel(t *table.Table, path, sheet string) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeFile, "failed to create sheet %q", sheet)
		}
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to remove default sheet")
		}
	}

	header := make([]interface{}, t.NumCols())
	for i, name := range t.ColumnNames() {
		header[i] = name
	}
	if err := setRow(f, sheet, 1, header); err != nil {
		return err
	}

	for i := 0; i < t.NumRows(); i++ {
		row := t.Row(i)
		cells := make([]interface{}, len(row))
		for j, cell := range row {
			// excelize renders nil as an empty cell, which is what we want
			// for missing values.
			cells[j] = cell
		}
		if err := setRow(f, sheet, i+2, cells); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to save Excel file")
	}
	return nil
}

func setRow(f *excelize.File, sheet string, rowNum int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to compute cell coordinates")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write row %d", rowNum)
	}
	return nil
}

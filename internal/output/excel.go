// internal/output/excel.go
package output

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/valpere/craigslist-data/pkg/types"
)

// ExcelWriter writes records to a single worksheet with a styled,
// frozen header row and an auto filter
type ExcelWriter struct {
	filename  string
	file      *excelize.File
	sheetName string
	schema    Schema
}

// NewExcelWriter creates a new Excel writer
func NewExcelWriter(filename string, schema Schema) (*ExcelWriter, error) {
	if filename == "" {
		return nil, fmt.Errorf("Excel file path is required")
	}

	file := excelize.NewFile()
	sheetName := schema.Name
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	if err := file.SetSheetName("Sheet1", sheetName); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to name worksheet: %w", err)
	}

	return &ExcelWriter{
		filename:  filename,
		file:      file,
		sheetName: sheetName,
		schema:    schema,
	}, nil
}

// Write writes the header and all records, then saves the workbook.
func (w *ExcelWriter) Write(data []map[string]interface{}) error {
	if err := w.writeHeaders(); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	dateStyle, err := w.file.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return err
	}

	for i, record := range data {
		row := i + 2
		for j, column := range w.schema.Columns {
			cell, err := excelize.CoordinatesToCellName(j+1, row)
			if err != nil {
				return err
			}
			value, isDate := excelValue(column, record[column.Name])
			if value == nil {
				continue
			}
			if err := w.file.SetCellValue(w.sheetName, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s: %w", cell, err)
			}
			if isDate {
				if err := w.file.SetCellStyle(w.sheetName, cell, cell, dateStyle); err != nil {
					return err
				}
			}
		}
	}

	if err := w.finalize(len(data)); err != nil {
		return err
	}
	return w.file.SaveAs(w.filename)
}

func (w *ExcelWriter) writeHeaders() error {
	headers := make([]interface{}, len(w.schema.Columns))
	for i, c := range w.schema.Columns {
		headers[i] = c.Name
	}
	if err := w.file.SetSheetRow(w.sheetName, "A1", &headers); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{
		Font: &excelize.Font{
			Bold: true,
			Size: 12,
		},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E0E0E0"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	return w.file.SetCellStyle(w.sheetName, "A1", last, style)
}

// finalize sets column widths, freezes the header row and adds a filter.
func (w *ExcelWriter) finalize(rows int) error {
	for i, c := range w.schema.Columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		width := 14.0
		switch c.Name {
		case types.FieldURL, types.FieldTitle, types.FieldAttrs:
			width = 40
		case types.FieldDescription:
			width = 60
		case types.FieldPostedDate, types.FieldResultDate, types.FieldUpdatedDate:
			width = 20
		}
		if err := w.file.SetColWidth(w.sheetName, name, name, width); err != nil {
			return err
		}
	}

	if err := w.file.SetPanes(w.sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(w.schema.Columns), rows+1)
	if err != nil {
		return err
	}
	return w.file.AutoFilter(w.sheetName, "A1:"+last, nil)
}

// excelValue converts a record value into a cell value. Timestamps become
// dates so spreadsheets can sort them.
func excelValue(c Column, v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	switch c.Kind {
	case KindList:
		if list, ok := listStrings(v); ok {
			return strings.Join(list, "; "), false
		}
	case KindTime:
		if s, ok := v.(string); ok {
			if t, err := types.ParseTimestamp(s); err == nil {
				return t, true
			}
		}
	}
	return v, false
}

// Close closes the workbook
func (w *ExcelWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

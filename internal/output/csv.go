// internal/output/csv.go
package output

import (
	"encoding/csv"
	"fmt"
	"os"
)

// CSVWriter writes records as CSV in schema column order
type CSVWriter struct {
	filename string
	file     *os.File
	writer   *csv.Writer
	columns  []string
}

// NewCSVWriter creates a new CSV writer
func NewCSVWriter(filename string, schema Schema) (*CSVWriter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	return &CSVWriter{
		filename: filename,
		file:     file,
		writer:   csv.NewWriter(file),
		columns:  schema.ColumnNames(),
	}, nil
}

// Write writes the header followed by one row per record. The header is
// written even when there are no records.
func (w *CSVWriter) Write(data []map[string]interface{}) error {
	if err := w.writer.Write(w.columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, len(w.columns))
	for _, record := range data {
		for i, column := range w.columns {
			row[i] = cellString(record[column])
		}
		if err := w.writer.Write(row); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	w.writer.Flush()
	return w.writer.Error()
}

// Close closes the CSV writer
func (w *CSVWriter) Close() error {
	if w.file == nil {
		return nil
	}
	w.writer.Flush()
	err := w.file.Close()
	w.file = nil
	return err
}

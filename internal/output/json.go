// internal/output/json.go
package output

import (
	"encoding/json"
	"os"
)

// JSONWriter writes records as an indented JSON array
type JSONWriter struct {
	filename string
	file     *os.File
}

// NewJSONWriter creates a new JSON writer
func NewJSONWriter(filename string) (*JSONWriter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, err
	}

	return &JSONWriter{
		filename: filename,
		file:     file,
	}, nil
}

// Write writes data to the JSON file. An empty slice is written as [].
func (w *JSONWriter) Write(data []map[string]interface{}) error {
	if data == nil {
		data = []map[string]interface{}{}
	}
	encoder := json.NewEncoder(w.file)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(data)
}

// Close closes the JSON writer
func (w *JSONWriter) Close() error {
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

// internal/output/xml.go
package output

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"time"
)

// XMLWriter writes records as children of one root element, one child
// element per schema column. Lists become item elements and missing
// nullable values are written as empty elements with nil="true".
type XMLWriter struct {
	file       *os.File
	encoder    *xml.Encoder
	schema     Schema
	rootName   string
	recordName string
}

// NewXMLWriter creates a new XML writer. The root element is named after
// the schema and each record after its singular form.
func NewXMLWriter(filename string, schema Schema) (*XMLWriter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create XML file: %w", err)
	}

	encoder := xml.NewEncoder(file)
	encoder.Indent("", "  ")

	rootName := schema.Name
	if rootName == "" {
		rootName = "data"
	}
	recordName := strings.TrimSuffix(rootName, "s")
	if recordName == "" || recordName == rootName {
		recordName = "record"
	}

	return &XMLWriter{
		file:       file,
		encoder:    encoder,
		schema:     schema,
		rootName:   rootName,
		recordName: recordName,
	}, nil
}

// Write writes the XML declaration, the root element and every record.
func (w *XMLWriter) Write(data []map[string]interface{}) error {
	if _, err := w.file.WriteString(xml.Header); err != nil {
		return fmt.Errorf("failed to write XML declaration: %w", err)
	}

	root := xml.StartElement{
		Name: xml.Name{Local: w.rootName},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "generated"}, Value: time.Now().UTC().Format(time.RFC3339)},
			{Name: xml.Name{Local: "generator"}, Value: GeneratorName},
			{Name: xml.Name{Local: "count"}, Value: fmt.Sprintf("%d", len(data))},
		},
	}
	if err := w.encoder.EncodeToken(root); err != nil {
		return err
	}

	for i, record := range data {
		if err := w.writeRecord(record); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	if err := w.encoder.EncodeToken(root.End()); err != nil {
		return err
	}
	if err := w.encoder.Flush(); err != nil {
		return err
	}
	_, err := w.file.WriteString("\n")
	return err
}

func (w *XMLWriter) writeRecord(record map[string]interface{}) error {
	start := xml.StartElement{Name: xml.Name{Local: w.recordName}}
	if err := w.encoder.EncodeToken(start); err != nil {
		return err
	}
	for _, column := range w.schema.Columns {
		if err := w.writeField(column, record[column.Name]); err != nil {
			return fmt.Errorf("field %s: %w", column.Name, err)
		}
	}
	return w.encoder.EncodeToken(start.End())
}

func (w *XMLWriter) writeField(column Column, value interface{}) error {
	start := xml.StartElement{Name: xml.Name{Local: column.Name}}

	if value == nil {
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "nil"}, Value: "true"}}
		if err := w.encoder.EncodeToken(start); err != nil {
			return err
		}
		return w.encoder.EncodeToken(start.End())
	}

	if list, ok := listStrings(value); ok {
		start.Attr = []xml.Attr{{Name: xml.Name{Local: "length"}, Value: fmt.Sprintf("%d", len(list))}}
		if err := w.encoder.EncodeToken(start); err != nil {
			return err
		}
		for _, item := range list {
			if err := w.encoder.EncodeElement(item, xml.StartElement{Name: xml.Name{Local: "item"}}); err != nil {
				return err
			}
		}
		return w.encoder.EncodeToken(start.End())
	}

	return w.encoder.EncodeElement(cellString(value), start)
}

// Close closes the XML file
func (w *XMLWriter) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// internal/output/yaml.go
package output

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// GeneratorName is written in the head comment of YAML output.
const GeneratorName = "craigslist-data"

// YAMLWriter writes records as a YAML sequence, keeping schema column
// order within each mapping
type YAMLWriter struct {
	file    *os.File
	encoder *yaml.Encoder
	columns []string
}

// NewYAMLWriter creates a new YAML writer
func NewYAMLWriter(filename string, schema Schema) (*YAMLWriter, error) {
	file, err := createFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create YAML file: %w", err)
	}

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(2)

	return &YAMLWriter{
		file:    file,
		encoder: encoder,
		columns: schema.ColumnNames(),
	}, nil
}

// Write writes data to the YAML file as a single document.
func (w *YAMLWriter) Write(data []map[string]interface{}) error {
	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for i, record := range data {
		node, err := w.recordNode(record)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		seq.Content = append(seq.Content, node)
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: fmt.Sprintf("Generated by %s at %s", GeneratorName, time.Now().UTC().Format(time.RFC3339)),
		Content:     []*yaml.Node{seq},
	}
	if err := w.encoder.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return nil
}

func (w *YAMLWriter) recordNode(record map[string]interface{}) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode}
	for _, column := range w.columns {
		value := &yaml.Node{}
		if err := value.Encode(record[column]); err != nil {
			return nil, fmt.Errorf("field %s: %w", column, err)
		}
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: column},
			value,
		)
	}
	return m, nil
}

// Close flushes the encoder and closes the file
func (w *YAMLWriter) Close() error {
	if w.file == nil {
		return nil
	}
	encErr := w.encoder.Close()
	err := w.file.Close()
	w.file = nil
	if encErr != nil {
		return encErr
	}
	return err
}

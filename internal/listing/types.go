// internal/listing/types.go
package listing

import (
	"errors"
	"time"

	"github.com/valpere/craigslist-data/internal/pipeline"
)

// Common errors
var (
	ErrRequiredField = errors.New("required field not found")
	ErrInvalidField  = errors.New("invalid field configuration")
)

// Extraction sources
const (
	SourceText  = "text"  // text of the match at Index
	SourceAttr  = "attr"  // attribute of the match at Index
	SourceCount = "count" // number of matches
	SourceList  = "list"  // text of every match
	SourceLines = "lines" // text of the first match, one entry per line
)

// Value types
const (
	ValueString  = "string"
	ValueInt     = "int"
	ValueFloat   = "float"
	ValueTime    = "time"
	ValueStrings = "strings"
)

// FieldConfig defines extraction configuration for a single field
type FieldConfig struct {
	Name      string                 `yaml:"name" json:"name"`
	Selector  string                 `yaml:"selector" json:"selector"`
	Source    string                 `yaml:"source" json:"source"`
	Attribute string                 `yaml:"attribute,omitempty" json:"attribute,omitempty"`
	Index     int                    `yaml:"index,omitempty" json:"index,omitempty"`
	SkipLines int                    `yaml:"skip_lines,omitempty" json:"skip_lines,omitempty"`
	ValueType string                 `yaml:"value_type" json:"value_type"`
	Required  bool                   `yaml:"required,omitempty" json:"required,omitempty"`
	Transform pipeline.TransformList `yaml:"transform,omitempty" json:"transform,omitempty"`
}

// FieldError represents an error during field extraction
type FieldError struct {
	FieldName string `json:"field_name"`
	Message   string `json:"message"`
	Selector  string `json:"selector,omitempty"`
	Required  bool   `json:"required"`
	Err       error  `json:"-"`
}

// FieldWarning represents a warning during field extraction
type FieldWarning struct {
	FieldName string `json:"field_name"`
	Message   string `json:"message"`
	Selector  string `json:"selector,omitempty"`
}

// ExtractionResult represents the result of field extraction
type ExtractionResult struct {
	Data        map[string]interface{} `json:"data"`
	Errors      []FieldError           `json:"errors,omitempty"`
	Warnings    []FieldWarning         `json:"warnings,omitempty"`
	ProcessedAt time.Time              `json:"processed_at"`
	Duration    time.Duration          `json:"duration"`
	Success     bool                   `json:"success"`
}

// internal/listing/extractor.go
package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/craigslist-data/internal/pipeline"
	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

// FieldExtractor handles extraction and transformation of individual fields
type FieldExtractor struct {
	config   FieldConfig
	document *goquery.Document
}

// ExtractionEngine orchestrates field extraction for multiple fields
type ExtractionEngine struct {
	fields   []FieldConfig
	document *goquery.Document
}

// NewExtractionEngine creates a new field extraction engine
func NewExtractionEngine(fields []FieldConfig, document *goquery.Document) *ExtractionEngine {
	return &ExtractionEngine{
		fields:   fields,
		document: document,
	}
}

// NewFieldExtractor creates a new field extractor for a specific field
func NewFieldExtractor(config FieldConfig, document *goquery.Document) *FieldExtractor {
	return &FieldExtractor{
		config:   config,
		document: document,
	}
}

// Extract returns the typed value of the field, or nil when an optional
// field is absent from the page.
func (fe *FieldExtractor) Extract(ctx context.Context) (interface{}, error) {
	raw, found, err := fe.extractRawValue()
	if err != nil {
		return nil, err
	}
	if !found {
		return fe.missing()
	}

	switch v := raw.(type) {
	case int:
		return v, nil
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			t, err := fe.config.Transform.Apply(ctx, s)
			if err != nil {
				return nil, fmt.Errorf("transformation failed: %w", err)
			}
			out = append(out, t)
		}
		return out, nil
	case string:
		t, err := fe.config.Transform.Apply(ctx, v)
		if errors.Is(err, pipeline.ErrNoValue) {
			return fe.missing()
		}
		if err != nil {
			return nil, fmt.Errorf("transformation failed: %w", err)
		}
		if t == "" && !fe.config.Required {
			return nil, nil
		}
		return convertValue(fe.config.ValueType, t)
	default:
		return nil, fmt.Errorf("unexpected raw value %T", raw)
	}
}

func (fe *FieldExtractor) missing() (interface{}, error) {
	if fe.config.Required {
		return nil, fmt.Errorf("%w: %s (%s)", ErrRequiredField, fe.config.Name, fe.config.Selector)
	}
	return nil, nil
}

// ExtractAll performs extraction for all configured fields. Every field is
// attempted; Success is false if any required field failed.
func (ee *ExtractionEngine) ExtractAll(ctx context.Context) *ExtractionResult {
	startTime := time.Now()

	result := &ExtractionResult{
		Data:        make(map[string]interface{}),
		ProcessedAt: startTime,
		Success:     true,
	}

	for _, fieldConfig := range ee.fields {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, FieldError{
				FieldName: fieldConfig.Name,
				Message:   err.Error(),
				Required:  true,
				Err:       err,
			})
			result.Success = false
			break
		}

		value, err := NewFieldExtractor(fieldConfig, ee.document).Extract(ctx)
		if err != nil {
			if !fieldConfig.Required {
				result.Warnings = append(result.Warnings, FieldWarning{
					FieldName: fieldConfig.Name,
					Message:   err.Error(),
					Selector:  fieldConfig.Selector,
				})
				continue
			}
			result.Errors = append(result.Errors, FieldError{
				FieldName: fieldConfig.Name,
				Message:   err.Error(),
				Selector:  fieldConfig.Selector,
				Required:  true,
				Err:       err,
			})
			result.Success = false
			continue
		}
		if value != nil {
			result.Data[fieldConfig.Name] = value
		}
	}

	result.Duration = time.Since(startTime)
	return result
}

// ValidateField checks a field configuration.
func ValidateField(fc FieldConfig) error {
	if fc.Name == "" {
		return fmt.Errorf("%w: field name is required", ErrInvalidField)
	}
	if fc.Selector == "" {
		return fmt.Errorf("%w: %s: selector is required", ErrInvalidField, fc.Name)
	}
	switch fc.Source {
	case SourceText, SourceLines:
	case SourceAttr:
		if fc.Attribute == "" {
			return fmt.Errorf("%w: %s: attribute name required for attr source", ErrInvalidField, fc.Name)
		}
	case SourceCount:
		if fc.ValueType != ValueInt {
			return fmt.Errorf("%w: %s: count source yields int", ErrInvalidField, fc.Name)
		}
	case SourceList:
		if fc.ValueType != ValueStrings {
			return fmt.Errorf("%w: %s: list source yields strings", ErrInvalidField, fc.Name)
		}
	default:
		return fmt.Errorf("%w: %s: invalid source %q", ErrInvalidField, fc.Name, fc.Source)
	}
	switch fc.ValueType {
	case ValueString, ValueInt, ValueFloat, ValueTime, ValueStrings:
	default:
		return fmt.Errorf("%w: %s: invalid value type %q", ErrInvalidField, fc.Name, fc.ValueType)
	}
	if fc.Index < 0 {
		return fmt.Errorf("%w: %s: index cannot be negative", ErrInvalidField, fc.Name)
	}
	if err := pipeline.ValidateTransformRules(fc.Transform); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidField, fc.Name, err)
	}
	return nil
}

// extractRawValue returns a string, []string or int, and whether the
// selector matched.
func (fe *FieldExtractor) extractRawValue() (interface{}, bool, error) {
	selection := fe.document.Find(fe.config.Selector)

	switch fe.config.Source {
	case SourceCount:
		return selection.Length(), true, nil

	case SourceList:
		items := make([]string, 0, selection.Length())
		selection.Each(func(i int, s *goquery.Selection) {
			items = append(items, utils.NormalizeText(s.Text()))
		})
		return items, true, nil

	case SourceText:
		if selection.Length() <= fe.config.Index {
			return nil, false, nil
		}
		return utils.NormalizeText(selection.Eq(fe.config.Index).Text()), true, nil

	case SourceAttr:
		if selection.Length() <= fe.config.Index {
			return nil, false, nil
		}
		v, ok := selection.Eq(fe.config.Index).Attr(fe.config.Attribute)
		if !ok {
			return nil, false, nil
		}
		return strings.TrimSpace(v), true, nil

	case SourceLines:
		if selection.Length() <= fe.config.Index {
			return nil, false, nil
		}
		return bodyLines(selection.Eq(fe.config.Index).Text(), fe.config.SkipLines), true, nil

	default:
		return nil, false, fmt.Errorf("%w: unsupported source %q", ErrInvalidField, fe.config.Source)
	}
}

// bodyLines trims every line of text and drops the first skip lines.
// Empty lines are dropped, while lines holding only whitespace are kept as
// blank paragraph breaks. Blank lines at either end are removed.
func bodyLines(text string, skip int) string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		lines = append(lines, utils.NormalizeText(line))
	}
	lines = trimBlankLines(lines)
	if skip >= len(lines) {
		return ""
	}
	return strings.Join(trimBlankLines(lines[skip:]), "\n")
}

func trimBlankLines(lines []string) []string {
	for len(lines) > 0 && lines[0] == "" {
		lines = lines[1:]
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func convertValue(valueType, s string) (interface{}, error) {
	switch valueType {
	case ValueString, "":
		return s, nil
	case ValueInt:
		v, err := pipeline.ParseInt(s)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", s, err)
		}
		return v, nil
	case ValueFloat:
		v, err := pipeline.ParseFloat(s)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", s, err)
		}
		return v, nil
	case ValueTime:
		return types.ParseTimestamp(s)
	default:
		return nil, fmt.Errorf("%w: unsupported value type %q", ErrInvalidField, valueType)
	}
}

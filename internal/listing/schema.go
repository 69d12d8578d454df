// internal/listing/schema.go
package listing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/craigslist-data/internal/pipeline"
	"github.com/valpere/craigslist-data/pkg/types"
)

// DefaultFields is the extraction table for a listing page.
func DefaultFields() []FieldConfig {
	return []FieldConfig{
		{
			Name: types.FieldLat, Selector: "#map", Source: SourceAttr,
			Attribute: "data-latitude", ValueType: ValueFloat, Required: true,
		},
		{
			Name: types.FieldLng, Selector: "#map", Source: SourceAttr,
			Attribute: "data-longitude", ValueType: ValueFloat, Required: true,
		},
		{
			Name: types.FieldNumImages, Selector: ".swipe-wrap .slide", Source: SourceCount,
			ValueType: ValueInt, Required: true,
		},
		{
			Name: types.FieldPrice, Selector: ".postingtitletext .price", Source: SourceText,
			ValueType: ValueInt, Required: true,
			Transform: pipeline.TransformList{pipeline.Trim(), pipeline.TrimChars("$"), pipeline.Remove(",")},
		},
		{
			Name: types.FieldBedrooms, Selector: ".postingtitletext .housing", Source: SourceText,
			ValueType: ValueInt,
			Transform: pipeline.TransformList{
				pipeline.TrimChars("/ "), pipeline.Split("-", 0), pipeline.Match(`(?i)^(\d+)\s*br$`),
			},
		},
		{
			Name: types.FieldSize, Selector: ".postingtitletext .housing", Source: SourceText,
			ValueType: ValueInt,
			Transform: pipeline.TransformList{pipeline.TrimChars("/ "), pipeline.Match(`(\d+)\s*ft2`)},
		},
		{
			Name: types.FieldTitle, Selector: "#titletextonly", Source: SourceText,
			ValueType: ValueString, Required: true,
		},
		{
			Name: types.FieldLocationDescription, Selector: ".postingtitletext small", Source: SourceText,
			ValueType: ValueString,
			Transform: pipeline.TransformList{pipeline.Trim(), pipeline.TrimChars("()"), pipeline.Trim()},
		},
		{
			Name: types.FieldDescription, Selector: "#postingbody", Source: SourceLines,
			SkipLines: 1, ValueType: ValueString, Required: true,
		},
		{
			Name: types.FieldAttrs, Selector: ".attrgroup span", Source: SourceList,
			ValueType: ValueStrings, Required: true,
		},
		{
			Name: types.FieldPostedDate, Selector: ".postinginfos .date.timeago", Source: SourceAttr,
			Attribute: "datetime", Index: 0, ValueType: ValueTime, Required: true,
		},
		{
			Name: types.FieldUpdatedDate, Selector: ".postinginfos .date.timeago", Source: SourceAttr,
			Attribute: "datetime", Index: 1, ValueType: ValueTime,
		},
	}
}

// Schema extracts apartments from listing pages.
type Schema struct {
	fields []FieldConfig
}

// NewSchema builds a schema from fields. Selector overrides keyed by field
// name replace the selectors of the matching fields.
func NewSchema(fields []FieldConfig, selectorOverrides map[string]string) (*Schema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: schema has no fields", ErrInvalidField)
	}

	known := make(map[string]bool, len(fields))
	out := make([]FieldConfig, len(fields))
	for i, f := range fields {
		if sel, ok := selectorOverrides[f.Name]; ok && sel != "" {
			f.Selector = sel
		}
		if err := ValidateField(f); err != nil {
			return nil, err
		}
		if _, ok := assigners[f.Name]; !ok {
			return nil, fmt.Errorf("%w: unknown apartment field %q", ErrInvalidField, f.Name)
		}
		known[f.Name] = true
		out[i] = f
	}
	for name := range selectorOverrides {
		if !known[name] {
			return nil, fmt.Errorf("%w: selector override for unknown field %q", ErrInvalidField, name)
		}
	}

	return &Schema{fields: out}, nil
}

// DefaultSchema returns the schema built from DefaultFields.
func DefaultSchema() *Schema {
	s, err := NewSchema(DefaultFields(), nil)
	if err != nil {
		panic(err)
	}
	return s
}

// Fields returns a copy of the schema's field table.
func (s *Schema) Fields() []FieldConfig {
	out := make([]FieldConfig, len(s.fields))
	copy(out, s.fields)
	return out
}

// Extract runs every field of the table against doc and merges the values
// with the search result. A missing required field is an error naming it.
func (s *Schema) Extract(ctx context.Context, doc *goquery.Document, sr types.SearchResult) (types.Apartment, error) {
	apt := types.Apartment{
		PostID:     sr.PostID,
		URL:        sr.URL,
		ResultDate: sr.ResultDate,
		Attrs:      []string{},
	}

	res := NewExtractionEngine(s.fields, doc).ExtractAll(ctx)
	if err := ctx.Err(); err != nil {
		return apt, err
	}
	if !res.Success {
		names := make([]string, 0, len(res.Errors))
		for _, fe := range res.Errors {
			names = append(names, fe.FieldName)
		}
		return apt, &ExtractionError{Fields: names, Result: res}
	}

	for name, value := range res.Data {
		if err := assigners[name](&apt, value); err != nil {
			return apt, fmt.Errorf("field %s: %w", name, err)
		}
	}

	if err := apt.Validate(); err != nil {
		return apt, err
	}
	return apt, nil
}

// ExtractionError lists the required fields that could not be extracted.
type ExtractionError struct {
	Fields []string
	Result *ExtractionResult
}

func (e *ExtractionError) Error() string {
	msgs := make([]string, 0, len(e.Result.Errors))
	for _, fe := range e.Result.Errors {
		msgs = append(msgs, fe.Message)
	}
	return fmt.Sprintf("extraction failed for %s: %s", strings.Join(e.Fields, ", "), strings.Join(msgs, "; "))
}

func (e *ExtractionError) Unwrap() error { return ErrRequiredField }

type assigner func(a *types.Apartment, v interface{}) error

var assigners = map[string]assigner{
	types.FieldTitle:       func(a *types.Apartment, v interface{}) error { return setString(&a.Title, v) },
	types.FieldDescription: func(a *types.Apartment, v interface{}) error { return setString(&a.Description, v) },
	types.FieldNumImages:   func(a *types.Apartment, v interface{}) error { return setInt(&a.NumImages, v) },
	types.FieldLat:         func(a *types.Apartment, v interface{}) error { return setFloat(&a.Lat, v) },
	types.FieldLng:         func(a *types.Apartment, v interface{}) error { return setFloat(&a.Lng, v) },
	types.FieldPrice:       func(a *types.Apartment, v interface{}) error { return setInt(&a.Price, v) },
	types.FieldPostedDate:  func(a *types.Apartment, v interface{}) error { return setTime(&a.PostedDate, v) },
	types.FieldAttrs: func(a *types.Apartment, v interface{}) error {
		s, ok := v.([]string)
		if !ok {
			return fmt.Errorf("expected []string, got %T", v)
		}
		a.Attrs = s
		return nil
	},
	types.FieldBedrooms: func(a *types.Apartment, v interface{}) error {
		var n int
		if err := setInt(&n, v); err != nil {
			return err
		}
		a.Bedrooms = &n
		return nil
	},
	types.FieldSize: func(a *types.Apartment, v interface{}) error {
		var n int
		if err := setInt(&n, v); err != nil {
			return err
		}
		a.Size = &n
		return nil
	},
	types.FieldUpdatedDate: func(a *types.Apartment, v interface{}) error {
		var t time.Time
		if err := setTime(&t, v); err != nil {
			return err
		}
		a.UpdatedDate = &t
		return nil
	},
	types.FieldLocationDescription: func(a *types.Apartment, v interface{}) error {
		var s string
		if err := setString(&s, v); err != nil {
			return err
		}
		a.LocationDescription = &s
		return nil
	},
}

func setString(dst *string, v interface{}) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	*dst = s
	return nil
}

func setInt(dst *int, v interface{}) error {
	n, ok := v.(int)
	if !ok {
		return fmt.Errorf("expected int, got %T", v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v interface{}) error {
	f, ok := v.(float64)
	if !ok {
		return fmt.Errorf("expected float64, got %T", v)
	}
	*dst = f
	return nil
}

func setTime(dst *time.Time, v interface{}) error {
	t, ok := v.(time.Time)
	if !ok {
		return fmt.Errorf("expected time.Time, got %T", v)
	}
	*dst = t
	return nil
}

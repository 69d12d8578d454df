// internal/listing/schema_test.go
package listing

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"

	"github.com/valpere/craigslist-data/pkg/types"
)

func loadDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("failed to parse HTML: %v", err)
	}
	return doc
}

func loadFixture(t *testing.T) *goquery.Document {
	t.Helper()
	data, err := os.ReadFile("testdata/listing.html")
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	return loadDoc(t, string(data))
}

func intPtr(n int) *int { return &n }
func strPtr(s string) *string { return &s }
func timePtr(t time.Time) *time.Time { return &t }

func TestSchema_Extract(t *testing.T) {
	est := time.FixedZone("", -5*60*60)
	sr := types.SearchResult{
		URL:        "https://philadelphia.craigslist.org/apa/d/philadelphia-sunny-2br/7290000000.html",
		PostID:     "7290000000",
		ResultDate: time.Date(2021, 3, 4, 18, 2, 0, 0, time.UTC),
	}

	got, err := DefaultSchema().Extract(context.Background(), loadFixture(t), sr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := types.Apartment{
		PostID:      "7290000000",
		URL:         sr.URL,
		Title:       "Sunny 2BR near the park",
		Description: "Bright second floor apartment.\nHardwood floors throughout.\nClose to the El.",
		NumImages:   3,
		Lat:         39.9713,
		Lng:         -75.1341,
		Price:       1450,
		Attrs:       []string{"2BR / 1Ba", "cats are OK - purrr", "laundry in bldg", "street parking"},
		PostedDate:  time.Date(2021, 3, 1, 9, 15, 0, 0, est),
		ResultDate:  sr.ResultDate,

		Bedrooms:            intPtr(2),
		Size:                intPtr(950),
		UpdatedDate:         timePtr(time.Date(2021, 3, 4, 18, 2, 11, 0, est)),
		LocationDescription: strPtr("Fishtown"),
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("apartment mismatch (-want +got):\n%s", diff)
	}
}

const minimalListing = `<html><body>
<span class="postingtitletext">
  <span class="price">$900</span>
  <span id="titletextonly">Studio</span>
</span>
<div id="map" data-latitude="39.95" data-longitude="-75.16"></div>
<section id="postingbody">QR Code Link to This Post
Small studio.</section>
<div class="postinginfos"><time class="date timeago" datetime="2021-03-01 12:00"></time></div>
</body></html>`

func TestSchema_Extract_OptionalFieldsAbsent(t *testing.T) {
	sr := types.SearchResult{URL: "https://x.org/apa/1.html", PostID: "1", ResultDate: time.Now()}

	got, err := DefaultSchema().Extract(context.Background(), loadDoc(t, minimalListing), sr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.Bedrooms != nil || got.Size != nil || got.UpdatedDate != nil || got.LocationDescription != nil {
		t.Errorf("expected optional fields to be nil, got %+v", got)
	}
	if got.NumImages != 0 {
		t.Errorf("expected 0 images, got %d", got.NumImages)
	}
	if got.Attrs == nil || len(got.Attrs) != 0 {
		t.Errorf("expected empty attrs, got %#v", got.Attrs)
	}
	if got.Description != "Small studio." {
		t.Errorf("unexpected description %q", got.Description)
	}
	if got.Price != 900 {
		t.Errorf("expected price 900, got %d", got.Price)
	}
}

func TestSchema_Extract_HousingWithoutBedrooms(t *testing.T) {
	html := strings.Replace(minimalListing, `<span id="titletextonly">`,
		`<span class="housing">/ 650ft2 - </span><span id="titletextonly">`, 1)
	sr := types.SearchResult{URL: "https://x.org/apa/1.html", PostID: "1", ResultDate: time.Now()}

	got, err := DefaultSchema().Extract(context.Background(), loadDoc(t, html), sr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Bedrooms != nil {
		t.Errorf("expected no bedrooms, got %d", *got.Bedrooms)
	}
	if got.Size == nil || *got.Size != 650 {
		t.Errorf("expected size 650, got %v", got.Size)
	}
}

func TestSchema_Extract_MissingRequired(t *testing.T) {
	html := strings.Replace(minimalListing, `<span class="price">$900</span>`, "", 1)
	html = strings.Replace(html, `<div class="postinginfos">`, `<div class="other">`, 1)
	sr := types.SearchResult{URL: "https://x.org/apa/1.html", PostID: "1", ResultDate: time.Now()}

	_, err := DefaultSchema().Extract(context.Background(), loadDoc(t, html), sr)
	if err == nil {
		t.Fatal("expected error for missing required fields")
	}
	if !errors.Is(err, ErrRequiredField) {
		t.Errorf("expected ErrRequiredField, got %v", err)
	}

	var extErr *ExtractionError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected *ExtractionError, got %T", err)
	}
	if diff := cmp.Diff([]string{types.FieldPrice, types.FieldPostedDate}, extErr.Fields); diff != "" {
		t.Errorf("failed fields mismatch (-want +got):\n%s", diff)
	}
}

func TestSchema_Extract_BadPrice(t *testing.T) {
	html := strings.Replace(minimalListing, "$900", "call for price", 1)
	sr := types.SearchResult{URL: "https://x.org/apa/1.html", PostID: "1", ResultDate: time.Now()}

	if _, err := DefaultSchema().Extract(context.Background(), loadDoc(t, html), sr); err == nil {
		t.Error("expected error for non-numeric price")
	}
}

func TestNewSchema_SelectorOverrides(t *testing.T) {
	s, err := NewSchema(DefaultFields(), map[string]string{types.FieldTitle: "h1.title"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, f := range s.Fields() {
		if f.Name == types.FieldTitle && f.Selector != "h1.title" {
			t.Errorf("expected overridden title selector, got %q", f.Selector)
		}
	}

	if _, err := NewSchema(DefaultFields(), map[string]string{"floor": ".floor"}); err == nil {
		t.Error("expected error for override of unknown field")
	}
}

func TestNewSchema_InvalidFields(t *testing.T) {
	tests := []struct {
		name  string
		field FieldConfig
	}{
		{"no name", FieldConfig{Selector: "#x", Source: SourceText, ValueType: ValueString}},
		{"no selector", FieldConfig{Name: types.FieldTitle, Source: SourceText, ValueType: ValueString}},
		{"attr without attribute", FieldConfig{Name: types.FieldLat, Selector: "#map", Source: SourceAttr, ValueType: ValueFloat}},
		{"count as string", FieldConfig{Name: types.FieldNumImages, Selector: ".slide", Source: SourceCount, ValueType: ValueString}},
		{"unknown source", FieldConfig{Name: types.FieldTitle, Selector: "#x", Source: "html", ValueType: ValueString}},
		{"unknown apartment field", FieldConfig{Name: "floor", Selector: "#x", Source: SourceText, ValueType: ValueString}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSchema([]FieldConfig{tt.field}, nil)
			if !errors.Is(err, ErrInvalidField) {
				t.Errorf("expected ErrInvalidField, got %v", err)
			}
		})
	}
}

func TestBodyLines(t *testing.T) {
	text := "\n  QR Code Link to This Post \n\n line one  \n\t\n line   two\n"
	if got := bodyLines(text, 1); got != "line one\n\nline   two" {
		t.Errorf("unexpected body %q", got)
	}
	if got := bodyLines("\r\n   \r\nQR\r\nfirst\r\n  \r\nsecond\r\n \r\n", 1); got != "first\n\nsecond" {
		t.Errorf("unexpected body %q", got)
	}
	if got := bodyLines("only line", 1); got != "" {
		t.Errorf("expected empty body, got %q", got)
	}
}

func TestExtractionEngine_OptionalWarnings(t *testing.T) {
	doc := loadDoc(t, `<span class="housing">/ 3br - lots of space</span>`)
	fields := []FieldConfig{
		{Name: "size", Selector: ".housing", Source: SourceText, ValueType: ValueInt},
		{Name: "bedrooms", Selector: ".housing", Source: SourceText, ValueType: ValueInt},
	}

	res := NewExtractionEngine(fields, doc).ExtractAll(context.Background())
	if !res.Success {
		t.Fatalf("optional failures must not fail extraction: %+v", res.Errors)
	}
	if len(res.Warnings) != 2 {
		t.Errorf("expected 2 warnings, got %d", len(res.Warnings))
	}
	if len(res.Data) != 0 {
		t.Errorf("expected no data, got %v", res.Data)
	}
}

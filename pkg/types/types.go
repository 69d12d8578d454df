// pkg/types/types.go
package types

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// ScraperStatus represents the current state of a scraping run
type ScraperStatus string

const (
	StatusIdle      ScraperStatus = "idle"
	StatusRunning   ScraperStatus = "running"
	StatusCompleted ScraperStatus = "completed"
	StatusPartial   ScraperStatus = "partial"
	StatusFailed    ScraperStatus = "failed"
	StatusCancelled ScraperStatus = "cancelled"
)

// ValidStatuses returns all valid scraper status values
func ValidStatuses() []ScraperStatus {
	return []ScraperStatus{
		StatusIdle, StatusRunning, StatusCompleted,
		StatusPartial, StatusFailed, StatusCancelled,
	}
}

// IsValid checks if the status is a valid value
func (s ScraperStatus) IsValid() bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// Record field names shared by every output format.
const (
	FieldPostID              = "post_id"
	FieldURL                 = "url"
	FieldTitle               = "title"
	FieldDescription         = "description"
	FieldNumImages           = "num_images"
	FieldLat                 = "lat"
	FieldLng                 = "lng"
	FieldPrice               = "price"
	FieldAttrs               = "attrs"
	FieldPostedDate          = "posted_date"
	FieldResultDate          = "result_date"
	FieldBedrooms            = "bedrooms"
	FieldSize                = "size"
	FieldUpdatedDate         = "updated_date"
	FieldLocationDescription = "location_description"
)

// TimeLayout is the layout used when records carry timestamps as strings.
const TimeLayout = time.RFC3339

// SearchResult is one row collected from a search-results page.
type SearchResult struct {
	URL        string    `json:"url" yaml:"url" bson:"url"`
	PostID     string    `json:"post_id" yaml:"post_id" bson:"post_id"`
	ResultDate time.Time `json:"result_date" yaml:"result_date" bson:"result_date"`
}

// SearchResultColumns is the column order for tabular search-result output.
var SearchResultColumns = []string{FieldURL, FieldPostID, FieldResultDate}

// PostIDFromURL returns the last path segment of a listing URL with its
// extension removed: ".../d/some-title/7290000000.html" -> "7290000000".
func PostIDFromURL(listingURL string) (string, error) {
	u, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("invalid listing URL %q: %w", listingURL, err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("listing URL %q has no path segment", listingURL)
	}
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	if base == "" {
		return "", fmt.Errorf("listing URL %q has an empty post id", listingURL)
	}
	return base, nil
}

// ToRecord converts the search result into a generic output record.
func (r SearchResult) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		FieldURL:        r.URL,
		FieldPostID:     r.PostID,
		FieldResultDate: r.ResultDate.Format(TimeLayout),
	}
}

// SearchResultFromRecord rebuilds a SearchResult from a decoded record, as
// read back from CSV or JSON. A missing post_id is derived from the URL.
func SearchResultFromRecord(rec map[string]interface{}) (SearchResult, error) {
	var r SearchResult

	r.URL = strings.TrimSpace(stringValue(rec[FieldURL]))
	if r.URL == "" {
		return r, fmt.Errorf("record has no %s", FieldURL)
	}

	r.PostID = strings.TrimSpace(stringValue(rec[FieldPostID]))
	if r.PostID == "" {
		id, err := PostIDFromURL(r.URL)
		if err != nil {
			return r, err
		}
		r.PostID = id
	}

	if raw := strings.TrimSpace(stringValue(rec[FieldResultDate])); raw != "" {
		t, err := ParseTimestamp(raw)
		if err != nil {
			return r, fmt.Errorf("invalid %s: %w", FieldResultDate, err)
		}
		r.ResultDate = t
	}

	return r, nil
}

// Apartment is the typed record extracted from a single listing page.
type Apartment struct {
	PostID      string    `json:"post_id" yaml:"post_id" bson:"post_id"`
	URL         string    `json:"url" yaml:"url" bson:"url"`
	Title       string    `json:"title" yaml:"title" bson:"title"`
	Description string    `json:"description" yaml:"description" bson:"description"`
	NumImages   int       `json:"num_images" yaml:"num_images" bson:"num_images"`
	Lat         float64   `json:"lat" yaml:"lat" bson:"lat"`
	Lng         float64   `json:"lng" yaml:"lng" bson:"lng"`
	Price       int       `json:"price" yaml:"price" bson:"price"`
	Attrs       []string  `json:"attrs" yaml:"attrs" bson:"attrs"`
	PostedDate  time.Time `json:"posted_date" yaml:"posted_date" bson:"posted_date"`
	ResultDate  time.Time `json:"result_date" yaml:"result_date" bson:"result_date"`

	Bedrooms            *int       `json:"bedrooms,omitempty" yaml:"bedrooms,omitempty" bson:"bedrooms,omitempty"`
	Size                *int       `json:"size,omitempty" yaml:"size,omitempty" bson:"size,omitempty"`
	UpdatedDate         *time.Time `json:"updated_date,omitempty" yaml:"updated_date,omitempty" bson:"updated_date,omitempty"`
	LocationDescription *string    `json:"location_description,omitempty" yaml:"location_description,omitempty" bson:"location_description,omitempty"`
}

// ApartmentColumns is the column order for tabular apartment output.
var ApartmentColumns = []string{
	FieldPostID, FieldURL, FieldTitle, FieldDescription, FieldNumImages,
	FieldLat, FieldLng, FieldPrice, FieldAttrs, FieldPostedDate, FieldResultDate,
	FieldBedrooms, FieldSize, FieldUpdatedDate, FieldLocationDescription,
}

// RequiredApartmentFields lists the fields every extracted listing must carry.
var RequiredApartmentFields = []string{
	FieldPostID, FieldURL, FieldTitle, FieldDescription, FieldNumImages,
	FieldLat, FieldLng, FieldPrice, FieldAttrs, FieldPostedDate, FieldResultDate,
}

// ToRecord converts the apartment into a generic output record. Optional
// fields that were not present on the page are nil.
func (a Apartment) ToRecord() map[string]interface{} {
	attrs := a.Attrs
	if attrs == nil {
		attrs = []string{}
	}
	rec := map[string]interface{}{
		FieldPostID:              a.PostID,
		FieldURL:                 a.URL,
		FieldTitle:               a.Title,
		FieldDescription:         a.Description,
		FieldNumImages:           a.NumImages,
		FieldLat:                 a.Lat,
		FieldLng:                 a.Lng,
		FieldPrice:               a.Price,
		FieldAttrs:               attrs,
		FieldPostedDate:          a.PostedDate.Format(TimeLayout),
		FieldResultDate:          a.ResultDate.Format(TimeLayout),
		FieldBedrooms:            nil,
		FieldSize:                nil,
		FieldUpdatedDate:         nil,
		FieldLocationDescription: nil,
	}
	if a.Bedrooms != nil {
		rec[FieldBedrooms] = *a.Bedrooms
	}
	if a.Size != nil {
		rec[FieldSize] = *a.Size
	}
	if a.UpdatedDate != nil {
		rec[FieldUpdatedDate] = a.UpdatedDate.Format(TimeLayout)
	}
	if a.LocationDescription != nil {
		rec[FieldLocationDescription] = *a.LocationDescription
	}
	return rec
}

// Validate checks the invariants of a fully extracted apartment.
func (a Apartment) Validate() error {
	var missing []string
	if a.PostID == "" {
		missing = append(missing, FieldPostID)
	}
	if a.URL == "" {
		missing = append(missing, FieldURL)
	}
	if a.Title == "" {
		missing = append(missing, FieldTitle)
	}
	if a.PostedDate.IsZero() {
		missing = append(missing, FieldPostedDate)
	}
	if a.ResultDate.IsZero() {
		missing = append(missing, FieldResultDate)
	}
	if len(missing) > 0 {
		return fmt.Errorf("apartment %q missing required fields: %s", a.PostID, strings.Join(missing, ", "))
	}
	if a.NumImages < 0 {
		return fmt.Errorf("apartment %q has negative num_images", a.PostID)
	}
	if a.Lat < -90 || a.Lat > 90 || a.Lng < -180 || a.Lng > 180 {
		return fmt.Errorf("apartment %q has coordinates out of range (%v, %v)", a.PostID, a.Lat, a.Lng)
	}
	return nil
}

// ApartmentRecords converts a slice of apartments to output records.
func ApartmentRecords(apts []Apartment) []map[string]interface{} {
	out := make([]map[string]interface{}, len(apts))
	for i, a := range apts {
		out[i] = a.ToRecord()
	}
	return out
}

// SearchResultRecords converts a slice of search results to output records.
func SearchResultRecords(results []SearchResult) []map[string]interface{} {
	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		out[i] = r.ToRecord()
	}
	return out
}

// timestampLayouts covers the formats seen in listing datetime attributes
// plus the layout records are written with.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTimestamp parses a datetime attribute value.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func stringValue(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return s.Format(TimeLayout)
	case fmt.Stringer:
		return s.String()
	default:
		return fmt.Sprintf("%v", s)
	}
}

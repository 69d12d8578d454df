// internal/scraper/types.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/valpere/craigslist-data/pkg/types"
)

// Common errors
var (
	ErrNoResults     = errors.New("search returned no results")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrEmptySelector = errors.New("selector cannot be empty")
)

// Fetcher retrieves a page and parses it into a document. It is implemented
// by HTTPClient and by the chromedp browser client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*goquery.Document, error)
}

// Extractor turns a listing document into an apartment record.
type Extractor interface {
	Extract(ctx context.Context, doc *goquery.Document, result types.SearchResult) (types.Apartment, error)
}

// Recorder receives crawl metrics. monitoring.MetricsManager implements it.
type Recorder interface {
	RecordRequest(method, host string, statusCode int, duration time.Duration)
	RecordRequestError(errorType, host string)
	RecordRequestRetry(reason, host string)
	RecordRateLimitWait(host string, wait time.Duration)
	RecordPageScraped(kind, status string)
	RecordListing(status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordRequestError(string, string)                {}
func (nopRecorder) RecordRequestRetry(string, string)                {}
func (nopRecorder) RecordRateLimitWait(string, time.Duration)        {}
func (nopRecorder) RecordPageScraped(string, string)                 {}
func (nopRecorder) RecordListing(string, time.Duration)              {}

// ProgressFunc is called after each listing is processed.
type ProgressFunc func(done, total int, result types.SearchResult, err error)

// SiteConfig locates the search entry point.
type SiteConfig struct {
	BaseURL    string `yaml:"base_url" json:"base_url"`
	SearchPath string `yaml:"search_path" json:"search_path"`
}

// Default site values.
const (
	DefaultBaseURL    = "http://philadelphia.craigslist.org"
	DefaultSearchPath = "/search/apa"

	DefaultRequestsPerMinute = 60
)

// SearchURL returns the first search-results page URL.
func (s SiteConfig) SearchURL() string {
	return s.BaseURL + s.SearchPath
}

// Validate checks the site configuration.
func (s SiteConfig) Validate() error {
	if s.BaseURL == "" {
		return fmt.Errorf("%w: base_url is required", ErrInvalidConfig)
	}
	if s.SearchPath == "" {
		return fmt.Errorf("%w: search_path is required", ErrInvalidConfig)
	}
	return nil
}

// ListingError records a listing that could not be scraped.
type ListingError struct {
	PostID  string `json:"post_id"`
	URL     string `json:"url"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("listing %s (%s): %s", e.PostID, e.URL, e.Message)
}

func (e *ListingError) Unwrap() error { return e.Err }

// Result is the outcome of a crawl.
type Result struct {
	Status        types.ScraperStatus  `json:"status"`
	SearchResults []types.SearchResult `json:"search_results,omitempty"`
	Apartments    []types.Apartment    `json:"apartments"`
	Failures      []ListingError       `json:"failures,omitempty"`
	Pages         int                  `json:"pages"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
}

// Records returns the apartments as output records.
func (r *Result) Records() []map[string]interface{} {
	return types.ApartmentRecords(r.Apartments)
}

// finish sets the final status from the collected counts.
func (r *Result) finish(err error) {
	r.Duration = time.Since(r.StartedAt)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		r.Status = types.StatusCancelled
	case err != nil:
		r.Status = types.StatusFailed
	case len(r.Failures) == 0:
		r.Status = types.StatusCompleted
	case len(r.Apartments) == 0:
		r.Status = types.StatusFailed
	default:
		r.Status = types.StatusPartial
	}
}

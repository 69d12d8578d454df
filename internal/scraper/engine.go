// internal/scraper/engine.go
package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

// EngineConfig defines the configuration for the scraping engine
type EngineConfig struct {
	Site       SiteConfig       `yaml:"site" json:"site"`
	Pagination PaginationConfig `yaml:"pagination" json:"pagination"`
	Selectors  SearchSelectors  `yaml:"selectors" json:"selectors"`
}

// Engine runs the sequential crawl: search pages first, then one request
// per listing.
type Engine struct {
	fetcher   Fetcher
	search    *SearchScraper
	extractor Extractor
	recorder  Recorder
	logger    utils.Logger
	progress  ProgressFunc
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l utils.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress registers a callback invoked after every listing.
func WithProgress(fn ProgressFunc) EngineOption {
	return func(e *Engine) { e.progress = fn }
}

// NewEngine creates a scraping engine. Listing pages are fetched with
// fetcher and turned into apartments by extractor.
func NewEngine(fetcher Fetcher, extractor Extractor, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if extractor == nil {
		return nil, fmt.Errorf("%w: extractor is required", ErrInvalidConfig)
	}

	e := &Engine{
		fetcher:   fetcher,
		extractor: extractor,
		recorder:  nopRecorder{},
		logger:    utils.NewComponentLogger("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	search, err := NewSearchScraper(fetcher, config.Site,
		WithPagination(config.Pagination),
		WithSearchSelectors(config.Selectors),
		WithSearchRecorder(e.recorder),
		WithSearchLogger(e.logger.WithField("phase", "search")),
	)
	if err != nil {
		return nil, err
	}
	e.search = search

	return e, nil
}

// ScrapeSearch runs the search phase only.
func (e *Engine) ScrapeSearch(ctx context.Context, maxResults int) (*Result, error) {
	result := &Result{StartedAt: time.Now(), Apartments: []types.Apartment{}}

	results, pages, err := e.search.ScrapeSearchResults(ctx, maxResults)
	result.SearchResults = results
	result.Pages = pages
	result.finish(err)
	if err == nil && len(results) == 0 {
		return result, ErrNoResults
	}
	return result, err
}

// ScrapeApartments collects search results and scrapes every listing.
// Failed listings are recorded in the result and the run continues.
func (e *Engine) ScrapeApartments(ctx context.Context, maxResults int) (*Result, error) {
	started := time.Now()

	results, pages, err := e.search.ScrapeSearchResults(ctx, maxResults)
	if err != nil {
		result := &Result{StartedAt: started, SearchResults: results, Pages: pages, Apartments: []types.Apartment{}}
		result.finish(err)
		return result, fmt.Errorf("search phase: %w", err)
	}
	if len(results) == 0 {
		result := &Result{StartedAt: started, Pages: pages, Apartments: []types.Apartment{}}
		result.finish(nil)
		return result, ErrNoResults
	}

	result, err := e.ScrapeListings(ctx, results)
	result.StartedAt = started
	result.Pages = pages
	result.Duration = time.Since(started)
	return result, err
}

// ScrapeListings scrapes the given listings in order. Duplicate post ids
// are scraped once.
func (e *Engine) ScrapeListings(ctx context.Context, results []types.SearchResult) (*Result, error) {
	result := &Result{
		StartedAt:     time.Now(),
		SearchResults: results,
		Apartments:    make([]types.Apartment, 0, len(results)),
	}

	seen := make(map[string]bool, len(results))
	total := len(results)

	for i, sr := range results {
		if err := ctx.Err(); err != nil {
			result.finish(err)
			return result, err
		}

		if seen[sr.PostID] {
			e.logger.WithField("post_id", sr.PostID).Debug("duplicate listing skipped")
			e.reportProgress(i+1, total, sr, nil)
			continue
		}
		seen[sr.PostID] = true

		start := time.Now()
		apt, err := e.ScrapeListing(ctx, sr)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				result.finish(ctxErr)
				return result, ctxErr
			}
			e.recorder.RecordListing("failed", time.Since(start))
			e.logger.WithFields(map[string]interface{}{
				"post_id": sr.PostID,
				"url":     sr.URL,
			}).Warnf("listing failed: %v", err)
			result.Failures = append(result.Failures, ListingError{
				PostID:  sr.PostID,
				URL:     sr.URL,
				Message: err.Error(),
				Err:     err,
			})
			e.reportProgress(i+1, total, sr, err)
			continue
		}

		e.recorder.RecordListing("success", time.Since(start))
		result.Apartments = append(result.Apartments, apt)
		e.reportProgress(i+1, total, sr, nil)
	}

	result.finish(nil)
	e.logger.WithFields(map[string]interface{}{
		"scraped":  len(result.Apartments),
		"failed":   len(result.Failures),
		"status":   string(result.Status),
		"duration": utils.FormatDuration(result.Duration),
	}).Info("listing phase finished")

	return result, nil
}

// ScrapeListing fetches one listing page and extracts the apartment.
func (e *Engine) ScrapeListing(ctx context.Context, sr types.SearchResult) (types.Apartment, error) {
	doc, err := e.fetcher.Fetch(ctx, sr.URL)
	if err != nil {
		e.recorder.RecordPageScraped("listing", "error")
		return types.Apartment{}, fmt.Errorf("fetch: %w", err)
	}
	e.recorder.RecordPageScraped("listing", "success")

	apt, err := e.extractor.Extract(ctx, doc, sr)
	if err != nil {
		return types.Apartment{}, fmt.Errorf("extract: %w", err)
	}
	return apt, nil
}

func (e *Engine) reportProgress(done, total int, sr types.SearchResult, err error) {
	if e.progress != nil {
		e.progress(done, total, sr, err)
	}
}

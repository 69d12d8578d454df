// internal/scraper/search.go
package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

// SearchSelectors locate the pieces of a search-results row.
type SearchSelectors struct {
	Row   string `yaml:"row" json:"row"`
	Title string `yaml:"title" json:"title"`
	Date  string `yaml:"date" json:"date"`
}

// DefaultSearchSelectors returns the selectors for the classic result list.
func DefaultSearchSelectors() SearchSelectors {
	return SearchSelectors{
		Row:   DefaultRowSelector,
		Title: ".result-title",
		Date:  ".result-date",
	}
}

func (s SearchSelectors) withDefaults() SearchSelectors {
	d := DefaultSearchSelectors()
	if s.Row == "" {
		s.Row = d.Row
	}
	if s.Title == "" {
		s.Title = d.Title
	}
	if s.Date == "" {
		s.Date = d.Date
	}
	return s
}

// SearchScraper walks the paginated search results.
type SearchScraper struct {
	fetcher    Fetcher
	site       SiteConfig
	pagination PaginationConfig
	selectors  SearchSelectors
	recorder   Recorder
	logger     utils.Logger
}

// SearchOption configures a SearchScraper.
type SearchOption func(*SearchScraper)

// WithPagination overrides the pagination strategy configuration.
func WithPagination(config PaginationConfig) SearchOption {
	return func(s *SearchScraper) { s.pagination = config }
}

// WithSearchSelectors overrides the search row selectors.
func WithSearchSelectors(sel SearchSelectors) SearchOption {
	return func(s *SearchScraper) { s.selectors = sel.withDefaults() }
}

// WithSearchRecorder sets the metrics recorder.
func WithSearchRecorder(r Recorder) SearchOption {
	return func(s *SearchScraper) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithSearchLogger sets the logger.
func WithSearchLogger(l utils.Logger) SearchOption {
	return func(s *SearchScraper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSearchScraper creates a search scraper for site.
func NewSearchScraper(fetcher Fetcher, site SiteConfig, opts ...SearchOption) (*SearchScraper, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher is required", ErrInvalidConfig)
	}
	if err := site.Validate(); err != nil {
		return nil, err
	}

	s := &SearchScraper{
		fetcher:    fetcher,
		site:       site,
		pagination: PaginationConfig{Type: PaginationTypeNextButton},
		selectors:  DefaultSearchSelectors(),
		recorder:   nopRecorder{},
		logger:     utils.NewComponentLogger("search"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ScrapeSearchResults collects listing URLs from the search pages, following
// the next-page link until a page adds no new post ids. maxResults <= 0
// means no limit. It returns the pages visited alongside the results; on
// error the results gathered so far are returned too.
func (s *SearchScraper) ScrapeSearchResults(ctx context.Context, maxResults int) ([]types.SearchResult, int, error) {
	strategy, err := NewPaginationStrategy(s.pagination, s.site.BaseURL, s.selectors.Row)
	if err != nil {
		return nil, 0, err
	}

	var (
		results []types.SearchResult
		seen    = make(map[string]bool)
		pages   int
	)

	pageURL := s.site.SearchURL()
	for pageURL != "" && (maxResults <= 0 || len(results) <= maxResults) {
		if err := ctx.Err(); err != nil {
			return results, pages, err
		}

		doc, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			s.recorder.RecordPageScraped("search", "error")
			return results, pages, fmt.Errorf("failed to fetch search page %s: %w", pageURL, err)
		}
		pages++
		s.recorder.RecordPageScraped("search", "success")

		rows, skipped := s.ParsePage(doc, pageURL)
		added := 0
		for _, r := range rows {
			if seen[r.PostID] {
				continue
			}
			seen[r.PostID] = true
			results = append(results, r)
			added++
		}
		s.logger.WithFields(map[string]interface{}{
			"page":    pages,
			"url":     pageURL,
			"rows":    len(rows),
			"added":   added,
			"skipped": skipped,
			"total":   len(results),
		}).Debug("search page scraped")

		// A page that repeats earlier rows means the site served the same
		// results again.
		if added == 0 {
			s.logger.WithField("url", pageURL).Debug("search page added no new results, stopping")
			break
		}

		pageURL, err = strategy.GetNextURL(ctx, pageURL, doc, pages)
		if err != nil {
			return results, pages, fmt.Errorf("pagination (%s): %w", strategy.GetName(), err)
		}
	}

	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	s.logger.Infof("collected %d search results from %d pages", len(results), pages)
	return results, pages, nil
}

// ParsePage extracts the result rows of one search page. Rows without a
// title link or with an unparseable date are skipped and counted.
func (s *SearchScraper) ParsePage(doc *goquery.Document, pageURL string) ([]types.SearchResult, int) {
	var (
		results []types.SearchResult
		skipped int
	)

	doc.Find(s.selectors.Row).Each(func(i int, row *goquery.Selection) {
		r, err := s.parseRow(row, pageURL)
		if err != nil {
			skipped++
			s.logger.WithField("row", i).Warnf("skipping search row: %v", err)
			return
		}
		results = append(results, r)
	})

	return results, skipped
}

func (s *SearchScraper) parseRow(row *goquery.Selection, pageURL string) (types.SearchResult, error) {
	var r types.SearchResult

	href := strings.TrimSpace(row.Find(s.selectors.Title).First().AttrOr("href", ""))
	if href == "" {
		return r, fmt.Errorf("no %s href", s.selectors.Title)
	}
	abs, err := utils.ResolveURL(pageURL, href)
	if err != nil {
		return r, err
	}
	r.URL = abs

	if r.PostID, err = types.PostIDFromURL(abs); err != nil {
		return r, err
	}

	raw, ok := row.Find(s.selectors.Date).First().Attr("datetime")
	if !ok {
		return r, fmt.Errorf("no %s datetime", s.selectors.Date)
	}
	if r.ResultDate, err = types.ParseTimestamp(raw); err != nil {
		return r, err
	}

	return r, nil
}

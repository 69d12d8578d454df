// pkg/api/api.go
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/valpere/craigslist-data/internal/browser"
	"github.com/valpere/craigslist-data/internal/config"
	errs "github.com/valpere/craigslist-data/internal/errors"
	"github.com/valpere/craigslist-data/internal/listing"
	"github.com/valpere/craigslist-data/internal/monitoring"
	"github.com/valpere/craigslist-data/internal/output"
	"github.com/valpere/craigslist-data/internal/scraper"
	"github.com/valpere/craigslist-data/internal/security"
	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

// Commands reported to the tracker and run metrics.
const (
	CommandSearch = "search"
	CommandScrape = "scrape"
	CommandRun    = "run"
)

// Client wires configuration, fetcher, listing schema and engine together.
type Client struct {
	config  *config.Config
	engine  *scraper.Engine
	browser *browser.BrowserManager
	breaker *errs.CircuitBreaker
	urls    *security.URLValidator
	metrics *monitoring.MetricsManager
	tracker *monitoring.RunTracker
	logger  utils.Logger
}

type clientOptions struct {
	metrics   *monitoring.MetricsManager
	tracker   *monitoring.RunTracker
	progress  scraper.ProgressFunc
	transport http.RoundTripper
	logger    utils.Logger
	breaker   errs.CircuitBreakerConfig
}

// Option configures a Client.
type Option func(*clientOptions)

// WithMetrics records crawl metrics into m.
func WithMetrics(m *monitoring.MetricsManager) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithTracker reports run progress to t.
func WithTracker(t *monitoring.RunTracker) Option {
	return func(o *clientOptions) { o.tracker = t }
}

// WithProgress registers a callback invoked after every listing.
func WithProgress(fn scraper.ProgressFunc) Option {
	return func(o *clientOptions) { o.progress = fn }
}

// WithTransport replaces the HTTP transport of the default fetcher.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithLogger sets the client logger.
func WithLogger(l utils.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithBreaker configures the circuit breaker that pauses fetching while
// the site blocks or throttles requests.
func WithBreaker(cfg errs.CircuitBreakerConfig) Option {
	return func(o *clientOptions) { o.breaker = cfg }
}

// NewClient creates a client from cfg. When cfg.Browser.Enabled is set
// pages are rendered with Chrome instead of fetched over HTTP.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := clientOptions{
		breaker: errs.CircuitBreakerConfig{MaxFailures: 5, ResetTimeout: time.Minute},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.NewComponentLogger("api")
	}
	if o.tracker == nil {
		o.tracker = monitoring.NewRunTracker()
	}

	var recorder scraper.Recorder
	if o.metrics != nil {
		recorder = o.metrics
	}

	c := &Client{
		config:  cfg,
		metrics: o.metrics,
		tracker: o.tracker,
		logger:  o.logger,
		breaker: errs.NewCircuitBreaker("craigslist", o.breaker),
	}

	urls, err := security.ForSite(cfg.Site.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", scraper.ErrInvalidConfig, err)
	}
	c.urls = urls

	var fetcher scraper.Fetcher
	if cfg.Browser.Enabled {
		bm, err := browser.NewBrowserManager(&cfg.Browser)
		if err != nil {
			return nil, err
		}
		c.browser = bm
		fetcher = newRateLimitedFetcher(bm, cfg.Request.RequestsPerMinute)
		o.logger.Info("using browser automation")
	} else {
		fetcher = scraper.NewHTTPClient(scraper.ClientConfig{
			Timeout:           cfg.Request.Timeout,
			RetryAttempts:     cfg.Request.Retries,
			RetryDelay:        cfg.Request.RetryDelay,
			MaxRetryDelay:     cfg.Request.MaxRetryDelay,
			UserAgents:        cfg.Request.UserAgents,
			Headers:           cfg.Request.Headers,
			RequestsPerMinute: cfg.Request.RequestsPerMinute,
			RateBurst:         cfg.Request.Burst,
			Transport:         o.transport,
			Recorder:          recorder,
			Logger:            o.logger.WithField("component", "http-client"),
		})
	}

	schema, err := listing.NewSchema(listing.DefaultFields(), cfg.Listing.Selectors)
	if err != nil {
		c.Close()
		return nil, err
	}

	tracker := o.tracker
	userProgress := o.progress
	engine, err := scraper.NewEngine(
		&breakerFetcher{next: fetcher, breaker: c.breaker, logger: o.logger},
		schema,
		scraper.EngineConfig{
			Site:       cfg.Site,
			Pagination: cfg.Search.Pagination,
			Selectors:  cfg.Search.Selectors,
		},
		scraper.WithRecorder(recorder),
		scraper.WithLogger(o.logger),
		scraper.WithProgress(func(done, total int, sr types.SearchResult, err error) {
			tracker.Listing(done, total, sr.URL, err)
			if userProgress != nil {
				userProgress(done, total, sr, err)
			}
		}),
	)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.engine = engine

	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.Config {
	return c.config
}

// ScrapeSearch collects search results without visiting listings.
func (c *Client) ScrapeSearch(ctx context.Context, maxResults int) (*scraper.Result, error) {
	c.start(CommandSearch)
	result, err := c.engine.ScrapeSearch(ctx, maxResults)
	c.finish(CommandSearch, result, err)
	return result, err
}

// ScrapeApartments collects search results and scrapes every listing.
func (c *Client) ScrapeApartments(ctx context.Context, maxResults int) (*scraper.Result, error) {
	c.start(CommandScrape)
	result, err := c.engine.ScrapeApartments(ctx, maxResults)
	c.finish(CommandScrape, result, err)
	return result, err
}

// ScrapeListings scrapes the listings named in results.
func (c *Client) ScrapeListings(ctx context.Context, results []types.SearchResult) (*scraper.Result, error) {
	c.start(CommandRun)
	c.tracker.SetPhase(monitoring.PhaseListings)
	result, err := c.engine.ScrapeListings(ctx, results)
	c.finish(CommandRun, result, err)
	return result, err
}

// ScrapeListingsFromFile scrapes the listings in a search-results file
// written by the search command (CSV, JSON or YAML).
func (c *Client) ScrapeListingsFromFile(ctx context.Context, path string) (*scraper.Result, error) {
	results, err := output.ReadSearchResults(path, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load search results: %w", err)
	}

	allowed := results[:0]
	for _, sr := range results {
		if err := c.urls.Check(sr.URL); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"post_id": sr.PostID,
				"url":     sr.URL,
			}).Warnf("skipping search result: %v", err)
			continue
		}
		allowed = append(allowed, sr)
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%s: %w", path, scraper.ErrNoResults)
	}
	c.logger.WithFields(map[string]interface{}{
		"path":    path,
		"results": len(allowed),
		"skipped": len(results) - len(allowed),
	}).Info("loaded search results")
	return c.ScrapeListings(ctx, allowed)
}

// Tracker returns the run tracker.
func (c *Client) Tracker() *monitoring.RunTracker {
	return c.tracker
}

// BreakerState reports the state of the fetch circuit breaker.
func (c *Client) BreakerState() errs.CircuitBreakerState {
	return c.breaker.GetState()
}

// Close releases the browser, if one was started.
func (c *Client) Close() error {
	if c.browser != nil {
		return c.browser.Close()
	}
	return nil
}

func (c *Client) start(command string) {
	c.tracker.Start(command)
}

func (c *Client) finish(command string, result *scraper.Result, err error) {
	status := types.StatusFailed
	var d time.Duration
	if result != nil {
		status = result.Status
		d = result.Duration
	}
	c.tracker.Finish(status, err)
	if c.metrics != nil {
		c.metrics.RecordRun(command, string(status), d)
	}
}

// ScrapeApartments runs a complete crawl with the default configuration,
// limited to requestsPerMinute and at most maxResults listings (0 means no
// limit).
func ScrapeApartments(ctx context.Context, requestsPerMinute float64, maxResults int) ([]types.Apartment, error) {
	cfg := config.Default()
	if requestsPerMinute > 0 {
		cfg.Request.RequestsPerMinute = requestsPerMinute
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	result, err := client.ScrapeApartments(ctx, maxResults)
	if result == nil {
		return nil, err
	}
	return result.Apartments, err
}

// breakerFetcher pauses fetching while the site keeps blocking or
// throttling requests, then sends one trial request once the breaker's
// reset timeout has passed.
type breakerFetcher struct {
	next    scraper.Fetcher
	breaker *errs.CircuitBreaker
	logger  utils.Logger
}

func (f *breakerFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if f.breaker.GetState() == errs.CircuitOpen && f.logger != nil {
		f.logger.WithField("url", url).Warn("circuit breaker open, waiting before next request")
	}
	if err := f.breaker.Wait(ctx); err != nil {
		return nil, err
	}

	var doc *goquery.Document
	err := f.breaker.Execute(func() error {
		var err error
		doc, err = f.next.Fetch(ctx, url)
		return err
	}, func(err error) bool {
		switch errs.Classify(err) {
		case errs.CategoryBlocked, errs.CategoryRateLimit:
			return true
		}
		return false
	})
	return doc, err
}

// rateLimitedFetcher applies the request budget to fetchers that do not
// limit themselves, such as the browser.
type rateLimitedFetcher struct {
	next    scraper.Fetcher
	limiter *rate.Limiter
}

func newRateLimitedFetcher(next scraper.Fetcher, requestsPerMinute float64) *rateLimitedFetcher {
	if requestsPerMinute <= 0 {
		requestsPerMinute = scraper.DefaultRequestsPerMinute
	}
	return &rateLimitedFetcher{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMinute/60), 1),
	}
}

func (f *rateLimitedFetcher) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return f.next.Fetch(ctx, url)
}

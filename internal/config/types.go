// internal/config/types.go

// Package config provides the configuration structures for craigslist-data.
// A configuration names the site to crawl, how requests are paced and
// retried, how search pages are paginated, where records are written, and
// how the run is logged and observed.
package config

import (
	"time"

	"github.com/valpere/craigslist-data/internal/browser"
	"github.com/valpere/craigslist-data/internal/scraper"
)

// Config represents the main configuration structure for a crawl.
type Config struct {
	// Site defines the classifieds site and search path
	Site scraper.SiteConfig `yaml:"site" json:"site"`

	// Request controls pacing, retries and headers of HTTP requests
	Request RequestConfig `yaml:"request" json:"request"`

	// Search controls the search-results phase
	Search SearchConfig `yaml:"search" json:"search"`

	// Listing overrides the listing page selectors
	Listing ListingConfig `yaml:"listing" json:"listing"`

	// Browser enables chromedp rendering instead of plain HTTP
	Browser browser.BrowserConfig `yaml:"browser" json:"browser"`

	// Output selects where records are written
	Output OutputConfig `yaml:"output" json:"output"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// RequestConfig defines HTTP request behaviour.
type RequestConfig struct {
	// RequestsPerMinute is the rate limit applied to every request
	RequestsPerMinute float64 `yaml:"requests_per_minute" json:"requests_per_minute"`

	// Burst is the number of requests allowed without waiting
	Burst int `yaml:"burst,omitempty" json:"burst,omitempty"`

	Timeout       time.Duration     `yaml:"timeout" json:"timeout"`
	Retries       int               `yaml:"retries" json:"retries"`
	RetryDelay    time.Duration     `yaml:"retry_delay" json:"retry_delay"`
	MaxRetryDelay time.Duration     `yaml:"max_retry_delay,omitempty" json:"max_retry_delay,omitempty"`
	UserAgents    []string          `yaml:"user_agents,omitempty" json:"user_agents,omitempty"`
	Headers       map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// SearchConfig defines the search-results phase.
type SearchConfig struct {
	// MaxResults caps the number of search results; 0 means no limit
	MaxResults int `yaml:"max_results" json:"max_results"`

	Pagination scraper.PaginationConfig `yaml:"pagination" json:"pagination"`
	Selectors  scraper.SearchSelectors  `yaml:"selectors,omitempty" json:"selectors,omitempty"`
}

// ListingConfig defines listing page extraction.
type ListingConfig struct {
	// Selectors maps a field name (price, title, ...) to a replacement selector
	Selectors map[string]string `yaml:"selectors,omitempty" json:"selectors,omitempty"`
}

// OutputConfig defines where records go.
type OutputConfig struct {
	// Format is json, csv, yaml, xml, excel, sqlite, postgresql, mysql or mongodb.
	// Empty means infer from the output path extension.
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// Path is the output file for file formats
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	Database DatabaseConfig `yaml:"database,omitempty" json:"database,omitempty"`
}

// DatabaseConfig defines database output settings.
type DatabaseConfig struct {
	// DSN is a driver connection string or MongoDB URI
	DSN string `yaml:"dsn,omitempty" json:"dsn,omitempty"`

	// Table is the SQL table name
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// Database and Collection are used by MongoDB
	Database   string `yaml:"database,omitempty" json:"database,omitempty"`
	Collection string `yaml:"collection,omitempty" json:"collection,omitempty"`

	BatchSize int           `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// LoggingConfig defines log output.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json,omitempty" json:"json,omitempty"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics and /health; empty disables it
	Addr      string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
}

// Defaults used when a value is not configured.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultRetries       = 3
	DefaultRetryDelay    = time.Second
	DefaultMaxRetryDelay = 30 * time.Second
	DefaultLogLevel      = "info"
	DefaultTable         = "apartments"
	DefaultDatabase      = "craigslist"
	DefaultBatchSize     = 100
	DefaultDBTimeout     = 30 * time.Second
	DefaultNamespace     = "craigslist"
)

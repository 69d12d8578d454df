// internal/browser/types.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// BrowserConfig defines browser automation configuration
type BrowserConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Headless       bool          `yaml:"headless" json:"headless"`
	ExecPath       string        `yaml:"exec_path,omitempty" json:"exec_path,omitempty"`
	UserDataDir    string        `yaml:"user_data_dir,omitempty" json:"user_data_dir,omitempty"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height" json:"viewport_height"`
	WaitForElement string        `yaml:"wait_for_element,omitempty" json:"wait_for_element,omitempty"`
	WaitDelay      time.Duration `yaml:"wait_delay,omitempty" json:"wait_delay,omitempty"`
	UserAgent      string        `yaml:"user_agent,omitempty" json:"user_agent,omitempty"`
	DisableImages  bool          `yaml:"disable_images" json:"disable_images"`
}

// DefaultBrowserConfig returns default browser configuration
func DefaultBrowserConfig() *BrowserConfig {
	return &BrowserConfig{
		Enabled:        false,
		Headless:       true,
		Timeout:        30 * time.Second,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		WaitDelay:      time.Second,
		DisableImages:  true,
	}
}

// Validate checks the browser configuration.
func (c *BrowserConfig) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("browser timeout cannot be negative")
	}
	if c.WaitDelay < 0 {
		return fmt.Errorf("browser wait_delay cannot be negative")
	}
	if c.ViewportWidth < 0 || c.ViewportHeight < 0 {
		return fmt.Errorf("browser viewport must be positive")
	}
	return nil
}

// BrowserClient interface defines browser automation operations
type BrowserClient interface {
	// Navigate to a URL and wait for page load
	Navigate(ctx context.Context, url string) error

	// GetHTML returns the current page HTML
	GetHTML(ctx context.Context) (string, error)

	// Fetch navigates to url and parses the rendered page
	Fetch(ctx context.Context, url string) (*goquery.Document, error)

	// Close closes the browser
	Close() error
}

// BrowserStats contains browser automation statistics
type BrowserStats struct {
	PagesLoaded      int           `json:"pages_loaded"`
	AverageLoadTime  time.Duration `json:"average_load_time"`
	Errors           int           `json:"errors"`
	TimeoutsOccurred int           `json:"timeouts_occurred"`
}

type statsTracker struct {
	mu    sync.Mutex
	stats BrowserStats
}

func (s *statsTracker) recordLoad(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.PagesLoaded++
	n := time.Duration(s.stats.PagesLoaded)
	s.stats.AverageLoadTime += (d - s.stats.AverageLoadTime) / n
}

func (s *statsTracker) recordError(timeout bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Errors++
	if timeout {
		s.stats.TimeoutsOccurred++
	}
}

func (s *statsTracker) snapshot() BrowserStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// internal/browser/chromedp.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"

	"github.com/valpere/craigslist-data/internal/utils"
)

// ChromeClient implements BrowserClient using chromedp. A single tab is
// reused for every page.
type ChromeClient struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	config      *BrowserConfig
	stats       statsTracker
	logger      utils.Logger

	// chromedp drives one tab; navigation and reads must not interleave.
	mu                sync.Mutex
	navigationSuccess bool
}

// NewChromeClient starts a Chrome instance.
func NewChromeClient(config *BrowserConfig) (*ChromeClient, error) {
	if config == nil {
		config = DefaultBrowserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox, // Required for Docker environments
		chromedp.Flag("headless", config.Headless),
	)
	if config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(config.ExecPath))
	}
	if config.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(config.UserDataDir))
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}
	if config.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if config.ViewportWidth > 0 && config.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(config.ViewportWidth, config.ViewportHeight))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	client := &ChromeClient{
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		config:      config,
		logger:      utils.NewComponentLogger("browser"),
	}

	// Run with no actions starts the browser so launch errors surface here.
	if err := chromedp.Run(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return client, nil
}

// runCtx derives a context from the browser tab that also ends when the
// caller's ctx does or the page timeout elapses.
func (c *ChromeClient) runCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if c.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(c.ctx, c.config.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(c.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

// Navigate navigates to a URL and waits for page load
func (c *ChromeClient) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.navigate(ctx, url)
}

func (c *ChromeClient) navigate(ctx context.Context, url string) error {
	start := time.Now()

	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if c.config.WaitForElement != "" {
		tasks = append(tasks, chromedp.WaitVisible(c.config.WaitForElement, chromedp.ByQuery))
	}
	if c.config.WaitDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(c.config.WaitDelay))
	}

	runCtx, cancel := c.runCtx(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, tasks); err != nil {
		c.navigationSuccess = false
		c.stats.recordError(errors.Is(err, context.DeadlineExceeded))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	c.navigationSuccess = true
	c.stats.recordLoad(time.Since(start))
	return nil
}

// GetHTML returns the current page HTML
func (c *ChromeClient) GetHTML(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getHTML(ctx)
}

func (c *ChromeClient) getHTML(ctx context.Context) (string, error) {
	if !c.navigationSuccess {
		return "", fmt.Errorf("cannot extract HTML: navigation has not completed successfully")
	}

	runCtx, cancel := c.runCtx(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		c.stats.recordError(false)
		return "", fmt.Errorf("failed to get HTML: %w", err)
	}
	return html, nil
}

// Fetch renders url in the browser and parses the resulting HTML.
func (c *ChromeClient) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.navigate(ctx, url); err != nil {
		return nil, err
	}
	html, err := c.getHTML(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rendered page %s: %w", url, err)
	}
	c.logger.WithField("url", url).Debug("page rendered")
	return doc, nil
}

// GetStats returns browser statistics
func (c *ChromeClient) GetStats() BrowserStats {
	return c.stats.snapshot()
}

// Close shuts down the tab and the browser process.
func (c *ChromeClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	return nil
}

// BrowserManager owns the browser client when browser automation is enabled.
type BrowserManager struct {
	config *BrowserConfig
	client BrowserClient
}

// NewBrowserManager creates a new browser manager
func NewBrowserManager(config *BrowserConfig) (*BrowserManager, error) {
	if config == nil {
		config = DefaultBrowserConfig()
	}

	var client BrowserClient
	if config.Enabled {
		cc, err := NewChromeClient(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create browser client: %w", err)
		}
		client = cc
	}

	return &BrowserManager{
		config: config,
		client: client,
	}, nil
}

// IsEnabled returns whether browser automation is enabled
func (bm *BrowserManager) IsEnabled() bool {
	return bm.config.Enabled && bm.client != nil
}

// Fetch renders url with the browser.
func (bm *BrowserManager) Fetch(ctx context.Context, url string) (*goquery.Document, error) {
	if !bm.IsEnabled() {
		return nil, fmt.Errorf("browser automation is not enabled")
	}
	return bm.client.Fetch(ctx, url)
}

// FetchHTML fetches HTML using browser automation
func (bm *BrowserManager) FetchHTML(ctx context.Context, url string) (string, error) {
	if !bm.IsEnabled() {
		return "", fmt.Errorf("browser automation is not enabled")
	}
	if err := bm.client.Navigate(ctx, url); err != nil {
		return "", err
	}
	return bm.client.GetHTML(ctx)
}

// Close closes the browser manager
func (bm *BrowserManager) Close() error {
	if bm.client != nil {
		return bm.client.Close()
	}
	return nil
}

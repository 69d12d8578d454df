// internal/scraper/client.go
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/valpere/craigslist-data/internal/utils"
)

// HTTPClient is a rate-limited HTTP client with retries and user agent
// rotation. It implements Fetcher.
type HTTPClient struct {
	httpClient    *http.Client
	userAgents    []string
	currentUA     int
	uaMutex       sync.Mutex
	rateLimiter   *rate.Limiter
	retryAttempts int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	headers       map[string]string
	recorder      Recorder
	logger        utils.Logger
}

// ClientConfig defines configuration options for the HTTP client
type ClientConfig struct {
	Timeout           time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration
	UserAgents        []string
	Headers           map[string]string
	RequestsPerMinute float64
	RateBurst         int
	Transport         http.RoundTripper
	Recorder          Recorder
	Logger            utils.Logger
}

// NewHTTPClient creates a new HTTP client with the specified configuration
func NewHTTPClient(config ClientConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RetryAttempts < 0 {
		config.RetryAttempts = 0
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}
	if config.MaxRetryDelay == 0 {
		config.MaxRetryDelay = 30 * time.Second
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 1
	}
	if len(config.UserAgents) == 0 {
		config.UserAgents = DefaultUserAgents()
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if config.Logger == nil {
		config.Logger = utils.NewComponentLogger("http-client")
	}

	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
		userAgents:    config.UserAgents,
		rateLimiter:   rate.NewLimiter(rate.Limit(config.RequestsPerMinute/60), config.RateBurst),
		retryAttempts: config.RetryAttempts,
		retryDelay:    config.RetryDelay,
		maxRetryDelay: config.MaxRetryDelay,
		headers:       config.Headers,
		recorder:      config.Recorder,
		logger:        config.Logger,
	}
}

// Fetch downloads targetURL and parses the body as HTML.
func (c *HTTPClient) Fetch(ctx context.Context, targetURL string) (*goquery.Document, error) {
	resp, err := c.Get(ctx, targetURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", targetURL, err)
	}
	doc.Url = resp.Request.URL
	return doc, nil
}

// Get performs an HTTP GET request with rate limiting and retries. The
// caller must close the response body.
func (c *HTTPClient) Get(ctx context.Context, targetURL string) (*http.Response, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	host := u.Host

	var lastErr error
	for attempt := 0; attempt <= c.retryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.waitForRetry(ctx, attempt-1); err != nil {
				return nil, err
			}
		}

		waitStart := time.Now()
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		c.recorder.RecordRateLimitWait(host, time.Since(waitStart))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setRequestHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			c.recorder.RecordRequestError("network", host)
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w",
				attempt+1, c.retryAttempts+1, err)
			c.logger.WithFields(map[string]interface{}{
				"url":     targetURL,
				"attempt": attempt + 1,
			}).Warnf("request failed: %v", err)
			c.recorder.RecordRequestRetry("network", host)
			continue
		}
		c.recorder.RecordRequest(http.MethodGet, host, resp.StatusCode, time.Since(start))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		lastErr = &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			URL:        targetURL,
			Attempt:    attempt + 1,
		}
		c.recorder.RecordRequestError(fmt.Sprintf("http_%d", resp.StatusCode), host)

		if !shouldRetryStatusCode(resp.StatusCode) {
			break
		}
		c.logger.WithFields(map[string]interface{}{
			"url":     targetURL,
			"status":  resp.StatusCode,
			"attempt": attempt + 1,
		}).Warn("retryable status")
		c.recorder.RecordRequestRetry(fmt.Sprintf("http_%d", resp.StatusCode), host)
	}

	return nil, lastErr
}

// setRequestHeaders configures request headers including user agent rotation
func (c *HTTPClient) setRequestHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.nextUserAgent())

	// Accept-Encoding is left to the transport so gzip is decoded for us.
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

func (c *HTTPClient) nextUserAgent() string {
	c.uaMutex.Lock()
	defer c.uaMutex.Unlock()

	ua := c.userAgents[c.currentUA]
	c.currentUA = (c.currentUA + 1) % len(c.userAgents)
	return ua
}

// retryBackoff returns the exponential backoff with jitter for attempt.
func (c *HTTPClient) retryBackoff(attempt int) time.Duration {
	backoff := c.retryDelay * time.Duration(1<<uint(attempt))
	if backoff > c.maxRetryDelay || backoff <= 0 {
		backoff = c.maxRetryDelay
	}
	if half := int64(backoff / 2); half > 0 {
		backoff += time.Duration(rand.Int63n(half))
	}
	return backoff
}

func (c *HTTPClient) waitForRetry(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.retryBackoff(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func shouldRetryStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		520, 521, 522, 523, 524: // CloudFlare
		return true
	}
	return false
}

// DefaultUserAgents returns a set of realistic user agent strings
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	}
}

// HTTPError represents an HTTP-related error with additional context
type HTTPError struct {
	StatusCode int
	Status     string
	URL        string
	Attempt    int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (URL: %s, Attempt: %d)",
		e.StatusCode, e.Status, e.URL, e.Attempt)
}

// IsRetryableError checks if an error indicates the request should be retried
func IsRetryableError(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return shouldRetryStatusCode(httpErr.StatusCode)
	}
	return false
}

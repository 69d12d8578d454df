// internal/errors/service.go - error classification and recovery for the CLI
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/valpere/craigslist-data/internal/listing"
	"github.com/valpere/craigslist-data/internal/scraper"
)

// Category groups errors by what the user can do about them.
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryConfig    Category = "config"
	CategoryNetwork   Category = "network"
	CategoryRateLimit Category = "rate_limit"
	CategoryBlocked   Category = "blocked"
	CategoryParse     Category = "parse"
	CategoryNoResults Category = "no_results"
	CategoryOutput    Category = "output"
	CategoryCancelled Category = "cancelled"
)

// Exit codes returned by the CLI.
const (
	ExitOK        = 0
	ExitGeneral   = 1
	ExitConfig    = 2
	ExitNetwork   = 3
	ExitParse     = 4
	ExitOutput    = 5
	ExitNoResults = 6
	ExitRateLimit = 7
	ExitBlocked   = 8
	ExitCancelled = 130
)

// ErrCircuitOpen is returned while a circuit breaker rejects calls.
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// OutputError marks a failure while writing results.
type OutputError struct {
	Target string
	Err    error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output %s: %v", e.Target, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// Service provides error classification and retry for whole operations
type Service struct {
	retryConfig    RetryConfig
	messageHandler *MessageHandler
}

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	BackoffFactor float64       `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
}

// MessageHandler converts technical errors to user-friendly messages
type MessageHandler struct {
	showTechnical bool
}

// NewService creates a new error service
func NewService() *Service {
	return &Service{
		retryConfig: RetryConfig{
			MaxRetries:    2,
			BaseDelay:     2 * time.Second,
			BackoffFactor: 2.0,
			MaxDelay:      time.Minute,
		},
		messageHandler: &MessageHandler{showTechnical: false},
	}
}

// WithVerbose enables technical error details
func (s *Service) WithVerbose(verbose bool) *Service {
	s.messageHandler.showTechnical = verbose
	return s
}

// WithRetryConfig replaces the retry settings used by ExecuteWithRetry.
func (s *Service) WithRetryConfig(config RetryConfig) *Service {
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	s.retryConfig = config
	return s
}

// Classify returns the category of err.
func Classify(err error) Category {
	if err == nil {
		return ""
	}

	if stderrors.Is(err, context.Canceled) {
		return CategoryCancelled
	}
	if stderrors.Is(err, scraper.ErrInvalidConfig) {
		return CategoryConfig
	}
	if stderrors.Is(err, scraper.ErrNoResults) {
		return CategoryNoResults
	}

	var outErr *OutputError
	if stderrors.As(err, &outErr) {
		return CategoryOutput
	}

	var httpErr *scraper.HTTPError
	if stderrors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests:
			return CategoryRateLimit
		case http.StatusForbidden, http.StatusUnauthorized:
			return CategoryBlocked
		}
		return CategoryNetwork
	}
	if stderrors.Is(err, ErrCircuitOpen) {
		return CategoryBlocked
	}

	if stderrors.Is(err, listing.ErrRequiredField) || stderrors.Is(err, listing.ErrInvalidField) {
		return CategoryParse
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "yaml") || strings.Contains(errStr, "configuration"):
		return CategoryConfig
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout"):
		return CategoryNetwork
	case strings.Contains(errStr, "selector") || strings.Contains(errStr, "parse"):
		return CategoryParse
	}
	return CategoryGeneral
}

// ExecuteWithRetry retries a whole operation while its error is transient.
func (s *Service) ExecuteWithRetry(ctx context.Context, operation func() error, operationName string) error {
	var lastErr error

	for attempt := 0; attempt <= s.retryConfig.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isTransient(err) {
			return err
		}
		if attempt >= s.retryConfig.MaxRetries {
			break
		}

		timer := time.NewTimer(s.calculateDelay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, s.retryConfig.MaxRetries+1, lastErr)
}

// isTransient reports whether err may succeed when retried.
func isTransient(err error) bool {
	switch Classify(err) {
	case CategoryNetwork, CategoryRateLimit:
		return true
	}
	return false
}

// calculateDelay computes exponential backoff delay
func (s *Service) calculateDelay(attempt int) time.Duration {
	delay := float64(s.retryConfig.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.retryConfig.BackoffFactor
	}
	if s.retryConfig.MaxDelay > 0 && time.Duration(delay) > s.retryConfig.MaxDelay {
		return s.retryConfig.MaxDelay
	}
	return time.Duration(delay)
}

// GetUserFriendlyError converts technical errors to user-friendly messages
func (s *Service) GetUserFriendlyError(err error) (title, message string, suggestions []string) {
	if err == nil {
		return "", "", nil
	}

	switch Classify(err) {
	case CategoryCancelled:
		return "Cancelled",
			"The run was interrupted before it finished.",
			nil
	case CategoryConfig:
		return "Configuration Error",
			"The configuration is invalid.",
			[]string{
				"Check YAML indentation (use spaces, not tabs)",
				"Run the validate command for a detailed report",
				"Run the template command for a known-good configuration",
			}
	case CategoryNoResults:
		return "No Search Results",
			"The search page did not contain any listings.",
			[]string{
				"Open the search URL in a browser to confirm it has results",
				"The result row selector may no longer match the page layout",
			}
	case CategoryRateLimit:
		return "Rate Limit Exceeded",
			"The site is rejecting requests because they arrive too quickly.",
			[]string{
				"Lower requests_per_minute",
				"Wait a while before running again",
			}
	case CategoryBlocked:
		return "Access Blocked",
			"The site refused to serve pages to this client.",
			[]string{
				"Lower requests_per_minute",
				"Try the browser fetcher with --browser",
				"Wait before retrying; blocks are usually temporary",
			}
	case CategoryNetwork:
		return "Network Error",
			"Could not retrieve a page from the site.",
			[]string{
				"Check your internet connection",
				"Verify site.base_url opens in a browser",
				"Increase request.timeout in configuration",
			}
	case CategoryParse:
		return "Extraction Error",
			"A page did not contain the expected elements.",
			[]string{
				"The listing layout might have changed",
				"Override the selector under listing.selectors",
			}
	case CategoryOutput:
		return "Output Error",
			"The results could not be written.",
			[]string{
				"Check that the output directory exists and is writable",
				"For database output verify output.database.dsn",
			}
	}

	return "Unexpected Error",
		"An unexpected error occurred during the operation.",
		[]string{
			"Try running the command again with --verbose",
			"Check your configuration file",
		}
}

// GetExitCode returns appropriate exit code for error
func (s *Service) GetExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	switch Classify(err) {
	case CategoryConfig:
		return ExitConfig
	case CategoryNetwork:
		return ExitNetwork
	case CategoryParse:
		return ExitParse
	case CategoryOutput:
		return ExitOutput
	case CategoryNoResults:
		return ExitNoResults
	case CategoryRateLimit:
		return ExitRateLimit
	case CategoryBlocked:
		return ExitBlocked
	case CategoryCancelled:
		return ExitCancelled
	default:
		return ExitGeneral
	}
}

// FormatErrorForCLI formats error for command-line display
func (s *Service) FormatErrorForCLI(err error) string {
	title, message, suggestions := s.GetUserFriendlyError(err)

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n%s\n", title, message)

	if s.messageHandler.showTechnical {
		fmt.Fprintf(&b, "\nTechnical details: %s\n", err.Error())
	}

	if len(suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, suggestion := range suggestions {
			fmt.Fprintf(&b, "  - %s\n", suggestion)
		}
	}

	return b.String()
}

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	CircuitClosed CircuitBreakerState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures" json:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout" json:"reset_timeout"`
}

// CircuitBreaker stops calls after consecutive failures until ResetTimeout
// has passed.
type CircuitBreaker struct {
	name            string
	maxFailures     int
	resetTimeout    time.Duration
	state           CircuitBreakerState
	failures        int
	lastFailureTime time.Time
	nextAttemptTime time.Time
	mu              sync.Mutex
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = time.Minute
	}
	return &CircuitBreaker{
		name:         name,
		maxFailures:  config.MaxFailures,
		resetTimeout: config.ResetTimeout,
	}
}

// Execute runs operation unless the breaker is open. Only failures for
// which countable returns true move the breaker towards open. In half-open
// state any other outcome closes the breaker again.
func (cb *CircuitBreaker) Execute(operation func() error, countable func(error) bool) error {
	if !cb.CanExecute() {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	err := operation()
	switch {
	case err == nil:
		cb.RecordSuccess()
	case countable == nil || countable(err):
		cb.RecordFailure()
	case cb.GetState() == CircuitHalfOpen:
		cb.RecordSuccess()
	}
	return err
}

// Wait blocks while the breaker is open until a trial call is allowed or
// ctx is done.
func (cb *CircuitBreaker) Wait(ctx context.Context) error {
	cb.mu.Lock()
	var delay time.Duration
	if cb.state == CircuitOpen {
		delay = time.Until(cb.nextAttemptTime)
	}
	cb.mu.Unlock()

	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// CanExecute checks if circuit breaker allows execution
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		if time.Now().After(cb.nextAttemptTime) {
			cb.state = CircuitHalfOpen
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records successful execution
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = CircuitClosed
}

// RecordFailure records failed execution
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = CircuitOpen
		cb.nextAttemptTime = cb.lastFailureTime.Add(cb.resetTimeout)
	}
}

// GetState returns current circuit breaker state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() map[string]interface{} {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]interface{}{
		"name":              cb.name,
		"state":             cb.state.String(),
		"failures":          cb.failures,
		"max_failures":      cb.maxFailures,
		"last_failure_time": cb.lastFailureTime,
		"next_attempt_time": cb.nextAttemptTime,
		"reset_timeout":     cb.resetTimeout,
	}
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.RecordSuccess()
}

// internal/config/validation.go - validation with detailed error messages
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/valpere/craigslist-data/internal/scraper"
	"github.com/valpere/craigslist-data/internal/utils"
)

// Output formats understood by the output package.
var supportedFormats = []string{
	"json", "csv", "yaml", "xml", "excel", "sqlite", "postgresql", "mysql", "mongodb",
}

var databaseFormats = []string{"sqlite", "postgresql", "mysql", "mongodb"}

// IsDatabaseFormat reports whether format writes to a database instead of a
// file path.
func IsDatabaseFormat(format string) bool {
	return contains(databaseFormats, strings.ToLower(format))
}

// ValidationError represents a detailed validation error
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []string          `json:"warnings"`
}

func (r *ValidationResult) addError(field, value, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	result := c.ValidateWithDetails()
	if !result.Valid {
		return formatValidationError(result)
	}
	return nil
}

// ValidateWithDetails provides detailed validation results
func (c *Config) ValidateWithDetails() *ValidationResult {
	result := &ValidationResult{
		Errors:   make([]ValidationError, 0),
		Warnings: make([]string, 0),
	}

	c.validateSite(result)
	c.validateRequest(result)
	c.validateSearch(result)
	c.validateBrowser(result)
	c.validateOutput(result)
	c.validateLogging(result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (c *Config) validateSite(result *ValidationResult) {
	if err := c.Site.Validate(); err != nil {
		result.addError("site", "", err.Error())
		return
	}

	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Host == "" {
		result.addError("site.base_url", c.Site.BaseURL, "invalid URL format")
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		result.addError("site.base_url", c.Site.BaseURL, "URL must use http or https scheme")
	}
	if u.Path != "" && u.Path != "/" {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("site.base_url has a path (%s); search_path is appended to it", u.Path))
	}
}

func (c *Config) validateRequest(result *ValidationResult) {
	r := c.Request
	if r.RequestsPerMinute < 0 {
		result.addError("request.requests_per_minute", fmt.Sprint(r.RequestsPerMinute), "must be positive")
	}
	if r.RequestsPerMinute > 600 {
		result.Warnings = append(result.Warnings,
			"request.requests_per_minute above 600 is likely to be blocked")
	}
	if r.Burst < 0 {
		result.addError("request.burst", fmt.Sprint(r.Burst), "cannot be negative")
	}
	if r.Timeout < 0 {
		result.addError("request.timeout", r.Timeout.String(), "cannot be negative")
	}
	if r.Retries < 0 {
		result.addError("request.retries", fmt.Sprint(r.Retries), "cannot be negative")
	}
	if r.Retries > 10 {
		result.addError("request.retries", fmt.Sprint(r.Retries), "cannot exceed 10")
	}
	if r.RetryDelay < 0 || r.MaxRetryDelay < 0 {
		result.addError("request.retry_delay", r.RetryDelay.String(), "cannot be negative")
	}
	if r.MaxRetryDelay > 0 && r.MaxRetryDelay < r.RetryDelay {
		result.addError("request.max_retry_delay", r.MaxRetryDelay.String(), "must not be less than retry_delay")
	}
	for i, ua := range r.UserAgents {
		if strings.TrimSpace(ua) == "" {
			result.addError(fmt.Sprintf("request.user_agents[%d]", i), ua, "user agent cannot be empty")
		}
	}
}

func (c *Config) validateSearch(result *ValidationResult) {
	if c.Search.MaxResults < 0 {
		result.addError("search.max_results", fmt.Sprint(c.Search.MaxResults), "cannot be negative")
	}

	pagination := c.Search.Pagination
	if err := scraper.ValidatePaginationConfig(&pagination); err != nil {
		result.addError("search.pagination", pagination.Type, err.Error())
	}

	for name, selector := range c.Listing.Selectors {
		if strings.TrimSpace(selector) == "" {
			result.addError("listing.selectors."+name, selector, "selector cannot be empty")
		}
	}
}

func (c *Config) validateBrowser(result *ValidationResult) {
	if err := c.Browser.Validate(); err != nil {
		result.addError("browser", "", err.Error())
	}
}

func (c *Config) validateOutput(result *ValidationResult) {
	format := strings.ToLower(c.Output.Format)
	if format != "" && !contains(supportedFormats, format) {
		result.addError("output.format", c.Output.Format,
			fmt.Sprintf("unsupported output format (supported: %s)", strings.Join(supportedFormats, ", ")))
		return
	}

	if IsDatabaseFormat(format) && format != "sqlite" && c.Output.Database.DSN == "" {
		result.addError("output.database.dsn", "", fmt.Sprintf("dsn is required for %s output", format))
	}
	if c.Output.Database.BatchSize < 0 {
		result.addError("output.database.batch_size", fmt.Sprint(c.Output.Database.BatchSize), "cannot be negative")
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	if _, err := utils.ParseLogLevel(c.Logging.Level); err != nil {
		result.addError("logging.level", c.Logging.Level, err.Error())
	}
}

// formatValidationError creates a comprehensive error message
func formatValidationError(result *ValidationResult) error {
	var errorMsg strings.Builder

	errorMsg.WriteString("configuration validation failed:\n")

	for i, err := range result.Errors {
		errorMsg.WriteString(fmt.Sprintf("  %d. %s", i+1, err.Message))
		if err.Field != "" {
			errorMsg.WriteString(fmt.Sprintf(" (field: %s)", err.Field))
		}
		if err.Value != "" {
			errorMsg.WriteString(fmt.Sprintf(" (value: %s)", err.Value))
		}
		errorMsg.WriteString("\n")
	}

	return fmt.Errorf("%w: %s", scraper.ErrInvalidConfig, strings.TrimRight(errorMsg.String(), "\n"))
}

// GetValidationSuggestions provides actionable suggestions for fixing validation errors
func GetValidationSuggestions(result *ValidationResult) []string {
	suggestions := make([]string, 0)

	var hasURLError, hasRequestError, hasOutputError bool
	for _, err := range result.Errors {
		switch {
		case strings.HasPrefix(err.Field, "site"):
			hasURLError = true
		case strings.HasPrefix(err.Field, "request"):
			hasRequestError = true
		case strings.HasPrefix(err.Field, "output"):
			hasOutputError = true
		}
	}

	if hasURLError {
		suggestions = append(suggestions,
			"Ensure site.base_url includes the protocol (http:// or https://)",
			"Use the regional host, e.g. http://philadelphia.craigslist.org")
	}
	if hasRequestError {
		suggestions = append(suggestions,
			"Keep requests_per_minute near the default of 60",
			"Durations use Go syntax such as 500ms, 2s or 1m")
	}
	if hasOutputError {
		suggestions = append(suggestions,
			"Set output.format to one of: "+strings.Join(supportedFormats, ", "),
			"Database formats other than sqlite need output.database.dsn")
	}
	if len(suggestions) == 0 {
		suggestions = append(suggestions,
			"Check YAML indentation and formatting",
			"Run the template command for a known-good configuration")
	}

	return suggestions
}

// Helper function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

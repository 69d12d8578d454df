// internal/scraper/pagination.go
package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Pagination types
const (
	PaginationTypeNextButton = "next_button"
	PaginationTypeOffset     = "offset"
)

// Default search page selectors.
const (
	DefaultNextSelector = "a.button.next"
	DefaultRowSelector  = ".result-row"
	DefaultOffsetParam  = "s"
	DefaultPageSize     = 120
)

// PaginationConfig selects and configures the pagination strategy.
type PaginationConfig struct {
	Type          string `yaml:"type" json:"type"`
	NextSelector  string `yaml:"next_selector,omitempty" json:"next_selector,omitempty"`
	DisabledClass string `yaml:"disabled_class,omitempty" json:"disabled_class,omitempty"`
	OffsetParam   string `yaml:"offset_param,omitempty" json:"offset_param,omitempty"`
	PageSize      int    `yaml:"page_size,omitempty" json:"page_size,omitempty"`
	MaxPages      int    `yaml:"max_pages,omitempty" json:"max_pages,omitempty"`
}

// PaginationStrategy defines the interface for pagination strategies
type PaginationStrategy interface {
	// GetNextURL returns the next URL to scrape, or empty string if done
	GetNextURL(ctx context.Context, currentURL string, doc *goquery.Document, pageNum int) (string, error)

	// IsComplete returns true if pagination is complete
	IsComplete(ctx context.Context, currentURL string, doc *goquery.Document, pageNum int) bool

	// GetName returns the strategy name
	GetName() string
}

// NewPaginationStrategy creates the strategy named by config.Type. Relative
// next links are resolved against baseURL. rowSelector tells the offset
// strategy when a page is empty; "" means DefaultRowSelector.
func NewPaginationStrategy(config PaginationConfig, baseURL, rowSelector string) (PaginationStrategy, error) {
	if err := ValidatePaginationConfig(&config); err != nil {
		return nil, err
	}

	switch config.Type {
	case PaginationTypeNextButton:
		return &NextButtonStrategy{
			BaseURL:       baseURL,
			Selector:      config.NextSelector,
			DisabledClass: config.DisabledClass,
			MaxPages:      config.MaxPages,
		}, nil
	case PaginationTypeOffset:
		if rowSelector == "" {
			rowSelector = DefaultRowSelector
		}
		return &OffsetStrategy{
			OffsetParam: config.OffsetParam,
			PageSize:    config.PageSize,
			MaxPages:    config.MaxPages,
			RowSelector: rowSelector,
		}, nil
	default:
		return nil, fmt.Errorf("unknown pagination type: %s", config.Type)
	}
}

// ValidatePaginationConfig validates pagination configuration and fills
// defaults.
func ValidatePaginationConfig(config *PaginationConfig) error {
	if config.Type == "" {
		config.Type = PaginationTypeNextButton
	}
	if config.MaxPages < 0 {
		return fmt.Errorf("%w: max_pages cannot be negative", ErrInvalidConfig)
	}

	switch config.Type {
	case PaginationTypeNextButton:
		if config.NextSelector == "" {
			config.NextSelector = DefaultNextSelector
		}
	case PaginationTypeOffset:
		if config.OffsetParam == "" {
			config.OffsetParam = DefaultOffsetParam
		}
		if config.PageSize == 0 {
			config.PageSize = DefaultPageSize
		}
		if config.PageSize < 0 {
			return fmt.Errorf("%w: page_size must be greater than 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unsupported pagination type: %s", ErrInvalidConfig, config.Type)
	}
	return nil
}

// NextButtonStrategy follows the href of a "next page" link until the link
// is missing, empty, disabled or points to a page already visited.
type NextButtonStrategy struct {
	BaseURL       string
	Selector      string
	DisabledClass string
	MaxPages      int

	visited map[string]bool
}

// GetNextURL finds the next URL using a next button
func (nbs *NextButtonStrategy) GetNextURL(ctx context.Context, currentURL string, doc *goquery.Document, pageNum int) (string, error) {
	if nbs.visited == nil {
		nbs.visited = make(map[string]bool)
	}
	nbs.visited[currentURL] = true

	if nbs.MaxPages > 0 && pageNum >= nbs.MaxPages {
		return "", nil
	}
	if nbs.Selector == "" {
		return "", ErrEmptySelector
	}
	if doc == nil {
		return "", nil
	}

	selection := doc.Find(nbs.Selector).First()
	if selection.Length() == 0 {
		return "", nil
	}
	if nbs.DisabledClass != "" && selection.HasClass(nbs.DisabledClass) {
		return "", nil
	}

	href := strings.TrimSpace(selection.AttrOr("href", ""))
	if href == "" {
		return "", nil
	}

	base := nbs.BaseURL
	if base == "" {
		base = currentURL
	}
	baseU, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	nextU, err := baseU.Parse(href)
	if err != nil {
		return "", fmt.Errorf("invalid next URL %q: %w", href, err)
	}

	next := nextU.String()
	if nbs.visited[next] {
		return "", nil
	}
	return next, nil
}

// IsComplete checks if next button pagination is complete
func (nbs *NextButtonStrategy) IsComplete(ctx context.Context, currentURL string, doc *goquery.Document, pageNum int) bool {
	if nbs.MaxPages > 0 && pageNum >= nbs.MaxPages {
		return true
	}
	if doc == nil {
		return true
	}
	selection := doc.Find(nbs.Selector).First()
	return selection.Length() == 0 || strings.TrimSpace(selection.AttrOr("href", "")) == ""
}

// GetName returns the strategy name
func (nbs *NextButtonStrategy) GetName() string {
	return PaginationTypeNextButton
}

// OffsetStrategy pages through results with an offset query parameter
// (?s=120, ?s=240, ...) until a page has no result rows.
type OffsetStrategy struct {
	OffsetParam string
	PageSize    int
	MaxPages    int
	RowSelector string
}

// GetNextURL generates the next URL using offset pagination
func (os *OffsetStrategy) GetNextURL(ctx context.Context, currentURL string, doc *goquery.Document, pageNum int) (string, error) {
	if os.IsComplete(ctx, currentURL, doc, pageNum) {
		return "", nil
	}

	u, err := url.Parse(currentURL)
	if err != nil {
		return "", fmt.Errorf("invalid current URL: %w", err)
	}

	query := u.Query()
	query.Set(os.OffsetParam, strconv.Itoa(pageNum*os.PageSize))
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// IsComplete checks if offset pagination is complete
func (os *OffsetStrategy) IsComplete(ctx context.Context, currentURL string, doc *goquery.Document, pageNum int) bool {
	if os.MaxPages > 0 && pageNum >= os.MaxPages {
		return true
	}
	return doc == nil || doc.Find(os.RowSelector).Length() == 0
}

// GetName returns the strategy name
func (os *OffsetStrategy) GetName() string {
	return PaginationTypeOffset
}

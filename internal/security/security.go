// Package security validates URLs before the crawler requests them.
package security

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// Severity levels for URL issues
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "critical"
	}
}

// Issue describes one problem found in a URL.
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s", i.Type, i.Message)
}

// URLValidatorConfig configures a URLValidator.
type URLValidatorConfig struct {
	AllowedSchemes []string
	// AllowedHosts lists hosts that may be fetched. Subdomains of an allowed
	// host are accepted too. Empty allows every host.
	AllowedHosts []string
	MaxURLLength int
}

// URLValidator checks URLs read from files before they are fetched, so a
// tampered results file cannot send the crawler to an unrelated host.
type URLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
	maxURLLength   int
}

// NewURLValidator creates a validator. Zero values default to http/https
// and a 2048 byte limit.
func NewURLValidator(config URLValidatorConfig) *URLValidator {
	if len(config.AllowedSchemes) == 0 {
		config.AllowedSchemes = []string{"https", "http"}
	}
	if config.MaxURLLength <= 0 {
		config.MaxURLLength = 2048
	}

	hosts := make([]string, 0, len(config.AllowedHosts))
	for _, h := range config.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}

	return &URLValidator{
		allowedSchemes: config.AllowedSchemes,
		allowedHosts:   hosts,
		maxURLLength:   config.MaxURLLength,
	}
}

// ForSite returns a validator that accepts the host of baseURL and, for
// domain names, every sibling under the same parent domain
// (philadelphia.craigslist.org allows newyork.craigslist.org).
func ForSite(baseURL string) (*URLValidator, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return nil, fmt.Errorf("invalid site URL %q", baseURL)
	}
	return NewURLValidator(URLValidatorConfig{
		AllowedHosts: []string{siteDomain(u.Hostname())},
	}), nil
}

// siteDomain drops the first label of a host name with three or more
// labels. IP addresses are returned unchanged.
func siteDomain(host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	labels := strings.Split(host, ".")
	if len(labels) < 3 {
		return host
	}
	return strings.Join(labels[1:], ".")
}

var attackPatterns = []struct {
	pattern  *regexp.Regexp
	name     string
	severity Severity
}{
	{regexp.MustCompile(`(?i)^\s*(javascript|data|vbscript):`), "script_protocol", SeverityCritical},
	{regexp.MustCompile(`(?i)(\.\.[\\/]|%2e%2e)`), "path_traversal", SeverityHigh},
	{regexp.MustCompile(`[\x00-\x1f\x7f]`), "control_characters", SeverityHigh},
}

// Validate returns every issue found in rawURL. An empty slice means the
// URL may be fetched.
func (v *URLValidator) Validate(rawURL string) []Issue {
	var issues []Issue

	if len(rawURL) > v.maxURLLength {
		issues = append(issues, Issue{
			Type:     "url_length_exceeded",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("URL length %d exceeds maximum allowed %d", len(rawURL), v.maxURLLength),
		})
	}

	for _, p := range attackPatterns {
		if p.pattern.MatchString(rawURL) {
			issues = append(issues, Issue{
				Type:     p.name,
				Severity: p.severity,
				Message:  "URL matches a disallowed pattern",
			})
		}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return append(issues, Issue{
			Type:     "invalid_url_format",
			Severity: SeverityHigh,
			Message:  err.Error(),
		})
	}

	if !v.isSchemeAllowed(u.Scheme) {
		issues = append(issues, Issue{
			Type:     "disallowed_scheme",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("scheme %q not in allowed list %s", u.Scheme, strings.Join(v.allowedSchemes, ", ")),
		})
	}
	if u.Hostname() == "" {
		issues = append(issues, Issue{
			Type:     "missing_host",
			Severity: SeverityHigh,
			Message:  "URL has no host",
		})
	} else if !v.isHostAllowed(u.Hostname()) {
		issues = append(issues, Issue{
			Type:     "foreign_host",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("host %q is not part of the configured site", u.Hostname()),
		})
	}

	return issues
}

// Check returns the most severe issue in rawURL as an error, or nil.
func (v *URLValidator) Check(rawURL string) error {
	issues := v.Validate(rawURL)
	if len(issues) == 0 {
		return nil
	}
	worst := issues[0]
	for _, issue := range issues[1:] {
		if issue.Severity > worst.Severity {
			worst = issue
		}
	}
	return worst
}

func (v *URLValidator) isSchemeAllowed(scheme string) bool {
	scheme = strings.ToLower(scheme)
	for _, allowed := range v.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func (v *URLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range v.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// internal/pipeline/transform.go
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// TransformRule defines a single transformation rule
type TransformRule struct {
	Type        string                 `yaml:"type" json:"type"`
	Pattern     string                 `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement string                 `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Params      map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
}

// TransformList represents a list of transformation rules that can be applied sequentially
type TransformList []TransformRule

var (
	spacesRe = regexp.MustCompile(`\s+`)
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)

	regexCache sync.Map // pattern -> *regexp.Regexp
)

// Trim, TrimChars, Remove, Split and ExtractNumber build the rules used by
// the listing schema.
func Trim() TransformRule { return TransformRule{Type: "trim"} }

func TrimChars(chars string) TransformRule {
	return TransformRule{Type: "trim_chars", Params: map[string]interface{}{"chars": chars}}
}

func Remove(s string) TransformRule {
	return TransformRule{Type: "replace", Params: map[string]interface{}{"old": s, "new": ""}}
}

func Split(sep string, index int) TransformRule {
	return TransformRule{Type: "split", Params: map[string]interface{}{"sep": sep, "index": index}}
}

func ExtractNumber() TransformRule { return TransformRule{Type: "extract_number"} }

// Match keeps capture group 1 of pattern, or the whole match when the
// pattern has no groups.
func Match(pattern string) TransformRule { return TransformRule{Type: "match", Pattern: pattern} }

// Apply applies all transformation rules in sequence to the input string
func (tl TransformList) Apply(ctx context.Context, input string) (string, error) {
	result := input
	for i, rule := range tl {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		var err error
		result, err = rule.Apply(ctx, result)
		if err != nil {
			return "", fmt.Errorf("transform rule %d (%s) failed: %w", i, rule.Type, err)
		}
	}
	return result, nil
}

// Apply applies a single transformation rule to the input string
func (tr TransformRule) Apply(ctx context.Context, input string) (string, error) {
	switch tr.Type {
	case "trim":
		return strings.TrimSpace(input), nil

	case "trim_chars":
		chars, err := tr.stringParam("chars")
		if err != nil {
			return "", err
		}
		return strings.Trim(input, chars), nil

	case "normalize_spaces":
		return spacesRe.ReplaceAllString(strings.TrimSpace(input), " "), nil

	case "lowercase":
		return strings.ToLower(input), nil

	case "uppercase":
		return strings.ToUpper(input), nil

	case "extract_number":
		match := numberRe.FindString(input)
		if match == "" {
			return "", fmt.Errorf("no number in %q", input)
		}
		return match, nil

	case "regex":
		if tr.Pattern == "" {
			return "", fmt.Errorf("regex pattern is required")
		}
		re, err := compileCached(tr.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid regex pattern: %w", err)
		}
		return re.ReplaceAllString(input, tr.Replacement), nil

	case "match":
		if tr.Pattern == "" {
			return "", fmt.Errorf("match pattern is required")
		}
		re, err := compileCached(tr.Pattern)
		if err != nil {
			return "", fmt.Errorf("invalid match pattern: %w", err)
		}
		m := re.FindStringSubmatch(input)
		if m == nil {
			return "", fmt.Errorf("%w: %q does not match %s", ErrNoValue, input, tr.Pattern)
		}
		if len(m) > 1 {
			return m[1], nil
		}
		return m[0], nil

	case "split":
		// Splits on sep, drops blank parts, and keeps the part at index.
		sep, err := tr.stringParam("sep")
		if err != nil {
			return "", err
		}
		index, err := tr.intParam("index")
		if err != nil {
			return "", err
		}
		var parts []string
		for _, p := range strings.Split(input, sep) {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if index < 0 || index >= len(parts) {
			return "", fmt.Errorf("%w: index %d of %d parts", ErrNoValue, index, len(parts))
		}
		return parts[index], nil

	case "prefix":
		v, err := tr.stringParam("value")
		if err != nil {
			return "", err
		}
		return v + input, nil

	case "suffix":
		v, err := tr.stringParam("value")
		if err != nil {
			return "", err
		}
		return input + v, nil

	case "replace":
		old, err := tr.stringParam("old")
		if err != nil {
			return "", err
		}
		repl, err := tr.stringParam("new")
		if err != nil {
			return "", err
		}
		return strings.ReplaceAll(input, old, repl), nil

	default:
		return "", fmt.Errorf("unknown transform type: %s", tr.Type)
	}
}

// ErrNoValue reports that a rule found nothing to keep, e.g. a split index
// past the available parts. Callers treat it as an absent optional value.
var ErrNoValue = fmt.Errorf("no value")

func (tr TransformRule) stringParam(name string) (string, error) {
	if tr.Params == nil || tr.Params[name] == nil {
		return "", fmt.Errorf("%s requires %s parameter", tr.Type, name)
	}
	return fmt.Sprintf("%v", tr.Params[name]), nil
}

func (tr TransformRule) intParam(name string) (int, error) {
	if tr.Params == nil || tr.Params[name] == nil {
		return 0, fmt.Errorf("%s requires %s parameter", tr.Type, name)
	}
	switch v := tr.Params[name].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("%s parameter %s has unsupported type %T", tr.Type, name, v)
	}
}

func compileCached(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// ParseInt converts a string to an integer
func ParseInt(s string) (int, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.Atoi(cleaned)
}

// ParseFloat converts a string to a float64
func ParseFloat(s string) (float64, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	return strconv.ParseFloat(cleaned, 64)
}

// ValidateTransformRules validates transformation rule configuration
func ValidateTransformRules(rules TransformList) error {
	for i, rule := range rules {
		switch rule.Type {
		case "trim", "normalize_spaces", "lowercase", "uppercase", "extract_number":
		case "regex", "match":
			if rule.Pattern == "" {
				return fmt.Errorf("rule %d: %s pattern is required", i, rule.Type)
			}
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				return fmt.Errorf("rule %d: invalid regex pattern: %w", i, err)
			}
		case "trim_chars":
			if _, err := rule.stringParam("chars"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		case "prefix", "suffix":
			if _, err := rule.stringParam("value"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		case "replace":
			if rule.Params == nil || rule.Params["old"] == nil || rule.Params["new"] == nil {
				return fmt.Errorf("rule %d: replace requires old and new parameters", i)
			}
		case "split":
			if _, err := rule.stringParam("sep"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
			if _, err := rule.intParam("index"); err != nil {
				return fmt.Errorf("rule %d: %w", i, err)
			}
		default:
			return fmt.Errorf("rule %d: unknown transform type: %s", i, rule.Type)
		}
	}
	return nil
}

// internal/output/values.go
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/valpere/craigslist-data/pkg/types"
)

// createFile creates path, making parent directories as needed.
func createFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return os.Create(path)
}

// cellString renders a record value for text formats. Lists are written
// as JSON arrays so they survive a CSV round trip.
func cellString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []string, []interface{}:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(types.TimeLayout)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// listStrings normalizes a list value, as built in memory or decoded
// from JSON.
func listStrings(v interface{}) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out, true
	}
	return nil, false
}

// columnValue converts a record value for a database column. Lists become
// JSON text; timestamps become time.Time when the driver stores them
// natively.
func columnValue(c Column, v interface{}, nativeTime bool) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	switch c.Kind {
	case KindList:
		list, ok := listStrings(v)
		if !ok {
			return nil, fmt.Errorf("column %s: expected a list, got %T", c.Name, v)
		}
		if list == nil {
			list = []string{}
		}
		b, err := json.Marshal(list)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		return string(b), nil

	case KindTime:
		var t time.Time
		switch x := v.(type) {
		case time.Time:
			t = x
		case string:
			if strings.TrimSpace(x) == "" {
				return nil, nil
			}
			parsed, err := types.ParseTimestamp(x)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Name, err)
			}
			t = parsed
		default:
			return nil, fmt.Errorf("column %s: expected a timestamp, got %T", c.Name, v)
		}
		if nativeTime {
			return t.UTC(), nil
		}
		return t.Format(types.TimeLayout), nil
	}

	return v, nil
}

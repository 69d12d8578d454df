// internal/output/reader.go
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/valpere/craigslist-data/internal/utils"
	"github.com/valpere/craigslist-data/pkg/types"
)

// ReadRecords loads records previously written as JSON, CSV or YAML.
func ReadRecords(path string) ([]map[string]interface{}, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if format != FormatJSON && format != FormatYAML && format != FormatCSV {
		return nil, fmt.Errorf("%w: cannot read %s input", ErrUnsupportedFormat, format)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	switch format {
	case FormatJSON:
		var records []map[string]interface{}
		if err := json.NewDecoder(file).Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return records, nil
	case FormatYAML:
		var records []map[string]interface{}
		if err := yaml.NewDecoder(file).Decode(&records); err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		return records, nil
	default:
		return readCSV(file)
	}
}

func readCSV(r io.Reader) ([]map[string]interface{}, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	records := make([]map[string]interface{}, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]interface{}, len(header))
		for i, column := range header {
			if i < len(row) {
				record[column] = row[i]
			}
		}
		records = append(records, record)
	}
	return records, nil
}

// ReadSearchResults loads search results saved by the search command.
// Rows that cannot be converted are skipped with a warning.
func ReadSearchResults(path string, logger utils.Logger) ([]types.SearchResult, error) {
	if logger == nil {
		logger = utils.NopLogger()
	}

	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, 0, len(records))
	for i, record := range records {
		sr, err := types.SearchResultFromRecord(record)
		if err != nil {
			logger.Warnf("skipping row %d of %s: %v", i+1, path, err)
			continue
		}
		results = append(results, sr)
	}
	return results, nil
}

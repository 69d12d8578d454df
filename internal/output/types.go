// internal/output/types.go
package output

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/valpere/craigslist-data/pkg/types"
)

// OutputFormat represents supported output formats
type OutputFormat string

const (
	FormatJSON       OutputFormat = "json"
	FormatCSV        OutputFormat = "csv"
	FormatYAML       OutputFormat = "yaml"
	FormatXML        OutputFormat = "xml"
	FormatExcel      OutputFormat = "excel"
	FormatSQLite     OutputFormat = "sqlite"
	FormatPostgreSQL OutputFormat = "postgresql"
	FormatMySQL      OutputFormat = "mysql"
	FormatMongoDB    OutputFormat = "mongodb"
)

// ErrUnsupportedFormat is returned for unknown formats and file extensions.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// ValidOutputFormats returns all valid output format values
func ValidOutputFormats() []OutputFormat {
	return []OutputFormat{
		FormatJSON, FormatCSV, FormatYAML, FormatXML, FormatExcel,
		FormatSQLite, FormatPostgreSQL, FormatMySQL, FormatMongoDB,
	}
}

// IsValid reports whether f is a known format.
func (f OutputFormat) IsValid() bool {
	for _, valid := range ValidOutputFormats() {
		if f == valid {
			return true
		}
	}
	return false
}

// IsFile reports whether the format is written to a file path. SQLite
// counts as a file format since its target is a path too.
func (f OutputFormat) IsFile() bool {
	switch f {
	case FormatJSON, FormatCSV, FormatYAML, FormatXML, FormatExcel, FormatSQLite:
		return true
	}
	return false
}

var extensionFormats = map[string]OutputFormat{
	".json":    FormatJSON,
	".csv":     FormatCSV,
	".yaml":    FormatYAML,
	".yml":     FormatYAML,
	".xml":     FormatXML,
	".xlsx":    FormatExcel,
	".db":      FormatSQLite,
	".sqlite":  FormatSQLite,
	".sqlite3": FormatSQLite,
}

// FormatFromPath picks the output format from a file extension.
func FormatFromPath(path string) (OutputFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := extensionFormats[ext]; ok {
		return f, nil
	}
	if ext == "" {
		return "", fmt.Errorf("%w: %q has no file extension", ErrUnsupportedFormat, path)
	}
	return "", fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
}

// Writer is implemented by every output target.
type Writer interface {
	Write(data []map[string]interface{}) error
	Close() error
}

// Pinger is implemented by writers backed by a database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a single writer.
type Options struct {
	Format     OutputFormat
	Path       string
	DSN        string
	Table      string
	Database   string
	Collection string
	BatchSize  int
	Timeout    time.Duration
	Schema     Schema
}

func (o *Options) setDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if len(o.Schema.Columns) == 0 {
		o.Schema = ApartmentSchema()
	}
	if o.Table == "" {
		o.Table = o.Schema.Name
	}
	if o.Collection == "" {
		o.Collection = o.Schema.Name
	}
}

// ColumnKind is the storage kind of a record field.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInt
	KindFloat
	KindTime
	KindList
)

// Column describes one record field.
type Column struct {
	Name     string
	Kind     ColumnKind
	Nullable bool
}

// Schema fixes the column order and key of a record set.
type Schema struct {
	Name    string
	Key     string
	Columns []Column
}

// ColumnNames returns the column names in order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// Column looks up a column by name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ApartmentSchema describes records produced by types.Apartment.ToRecord.
func ApartmentSchema() Schema {
	return Schema{
		Name: "apartments",
		Key:  types.FieldPostID,
		Columns: []Column{
			{Name: types.FieldPostID, Kind: KindText},
			{Name: types.FieldURL, Kind: KindText},
			{Name: types.FieldTitle, Kind: KindText},
			{Name: types.FieldDescription, Kind: KindText},
			{Name: types.FieldNumImages, Kind: KindInt},
			{Name: types.FieldLat, Kind: KindFloat},
			{Name: types.FieldLng, Kind: KindFloat},
			{Name: types.FieldPrice, Kind: KindInt},
			{Name: types.FieldAttrs, Kind: KindList},
			{Name: types.FieldPostedDate, Kind: KindTime},
			{Name: types.FieldResultDate, Kind: KindTime},
			{Name: types.FieldBedrooms, Kind: KindInt, Nullable: true},
			{Name: types.FieldSize, Kind: KindInt, Nullable: true},
			{Name: types.FieldUpdatedDate, Kind: KindTime, Nullable: true},
			{Name: types.FieldLocationDescription, Kind: KindText, Nullable: true},
		},
	}
}

// SearchResultSchema describes records produced by types.SearchResult.ToRecord.
func SearchResultSchema() Schema {
	return Schema{
		Name: "search_results",
		Key:  types.FieldPostID,
		Columns: []Column{
			{Name: types.FieldURL, Kind: KindText},
			{Name: types.FieldPostID, Kind: KindText},
			{Name: types.FieldResultDate, Kind: KindTime},
		},
	}
}

// SQL identifier validation
var (
	sqlIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

	// Keywords reserved in at least one of SQLite, PostgreSQL and MySQL.
	reservedWords = map[string]bool{
		"ALL": true, "ALTER": true, "AND": true, "AS": true, "ASC": true, "BETWEEN": true,
		"BY": true, "CASE": true, "CHECK": true, "COLUMN": true, "CONSTRAINT": true,
		"CREATE": true, "CROSS": true, "DEFAULT": true, "DELETE": true, "DESC": true,
		"DISTINCT": true, "DROP": true, "ELSE": true, "EXISTS": true, "FOREIGN": true,
		"FROM": true, "GROUP": true, "HAVING": true, "IN": true, "INDEX": true,
		"INNER": true, "INSERT": true, "INTO": true, "IS": true, "JOIN": true, "KEY": true,
		"LEFT": true, "LIKE": true, "LIMIT": true, "NOT": true, "NULL": true, "ON": true,
		"OR": true, "ORDER": true, "PRIMARY": true, "REFERENCES": true, "RIGHT": true,
		"SELECT": true, "SET": true, "TABLE": true, "THEN": true, "TO": true, "UNION": true,
		"UNIQUE": true, "UPDATE": true, "USER": true, "USING": true, "VALUES": true,
		"WHEN": true, "WHERE": true, "WITH": true,
	}
)

// ValidateSQLIdentifier rejects table names that cannot be used unquoted
// in every supported dialect.
func ValidateSQLIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(identifier) > 63 {
		return fmt.Errorf("identifier %q exceeds maximum length of 63 characters", identifier)
	}
	if !sqlIdentifierRegex.MatchString(identifier) {
		return fmt.Errorf("identifier %q must start with a letter or underscore and contain only letters, digits, and underscores", identifier)
	}
	if reservedWords[strings.ToUpper(identifier)] {
		return fmt.Errorf("identifier %q is a reserved SQL keyword", identifier)
	}
	return nil
}

// internal/output/sqlite.go
package output

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	quote:       doubleQuote,
	columnType: func(c Column, key bool) string {
		switch c.Kind {
		case KindInt:
			return "INTEGER"
		case KindFloat:
			return "REAL"
		default:
			return "TEXT"
		}
	},
	upsert: func(d dialect, key string, columns []string) string {
		return fmt.Sprintf("ON CONFLICT(%s) DO UPDATE SET %s", d.quote(key),
			updateAssignments(d, key, columns, func(q string) string { return "excluded." + q }))
	},
}

// NewSQLiteWriter opens (creating if needed) the database file at
// opts.Path.
func NewSQLiteWriter(opts Options) (*SQLWriter, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("SQLite database path is required")
	}
	opts.setDefaults()

	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", opts.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	w, err := newSQLWriter(db, sqliteDialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

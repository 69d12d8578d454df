// internal/output/mysql.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name:        "mysql",
	placeholder: func(int) string { return "?" },
	quote: func(identifier string) string {
		return "`" + strings.ReplaceAll(identifier, "`", "``") + "`"
	},
	columnType: func(c Column, key bool) string {
		switch {
		case key:
			return "VARCHAR(64)"
		case c.Kind == KindInt:
			return "BIGINT"
		case c.Kind == KindFloat:
			return "DOUBLE"
		case c.Kind == KindTime:
			return "DATETIME"
		case c.Kind == KindList:
			return "JSON"
		default:
			return "TEXT"
		}
	},
	upsert: func(d dialect, key string, columns []string) string {
		return "ON DUPLICATE KEY UPDATE " +
			updateAssignments(d, key, columns, func(q string) string { return "VALUES(" + q + ")" })
	},
	nativeTime: true,
}

// mysqlConfig parses dsn ("user:pass@tcp(localhost:3306)/craigslist") and
// forces the settings the writer relies on.
func mysqlConfig(dsn string, timeout time.Duration) (*mysql.Config, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL connection string: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Timeout == 0 {
		cfg.Timeout = timeout
	}
	return cfg, nil
}

// NewMySQLWriter connects to the server named by opts.DSN.
func NewMySQLWriter(opts Options) (*SQLWriter, error) {
	if opts.DSN == "" {
		return nil, fmt.Errorf("MySQL connection string is required")
	}
	opts.setDefaults()

	cfg, err := mysqlConfig(opts.DSN, opts.Timeout)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	w, err := newSQLWriter(db, mysqlDialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

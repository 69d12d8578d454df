// internal/output/sql.go
package output

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/valpere/craigslist-data/internal/utils"
)

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name        string
	placeholder func(n int) string
	quote       func(identifier string) string
	columnType  func(c Column, key bool) string
	upsert      func(d dialect, key string, columns []string) string
	nativeTime  bool
}

// SQLWriter creates the table on first use and upserts records on the
// schema key in batches, one transaction per Write.
type SQLWriter struct {
	db        *sql.DB
	dialect   dialect
	schema    Schema
	table     string
	batchSize int
	timeout   time.Duration
	created   bool
	logger    utils.Logger
}

func newSQLWriter(db *sql.DB, d dialect, opts Options) (*SQLWriter, error) {
	if err := ValidateSQLIdentifier(opts.Table); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}
	if _, ok := opts.Schema.Column(opts.Schema.Key); !ok {
		return nil, fmt.Errorf("schema %s has no key column %q", opts.Schema.Name, opts.Schema.Key)
	}
	return &SQLWriter{
		db:        db,
		dialect:   d,
		schema:    opts.Schema,
		table:     opts.Table,
		batchSize: opts.BatchSize,
		timeout:   opts.Timeout,
		logger:    utils.NewComponentLogger("output").WithField("db", d.name),
	}, nil
}

// Write upserts data into the table.
func (w *SQLWriter) Write(data []map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if !w.created {
		if err := w.createTable(ctx); err != nil {
			return fmt.Errorf("failed to create table %s: %w", w.table, err)
		}
		w.created = true
	}
	if len(data) == 0 {
		return nil
	}

	data, err := w.dedupe(data)
	if err != nil {
		return err
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for i := 0; i < len(data); i += w.batchSize {
		end := i + w.batchSize
		if end > len(data) {
			end = len(data)
		}
		if err := w.insertBatch(ctx, tx, data[i:end]); err != nil {
			return fmt.Errorf("failed to insert batch %d-%d: %w", i, end-1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	w.logger.WithFields(map[string]interface{}{
		"table":   w.table,
		"records": len(data),
	}).Debug("records upserted")
	return nil
}

// dedupe keeps the last record for each key. A single upsert statement
// may not touch the same row twice.
func (w *SQLWriter) dedupe(data []map[string]interface{}) ([]map[string]interface{}, error) {
	index := make(map[string]int, len(data))
	out := make([]map[string]interface{}, 0, len(data))
	for i, record := range data {
		key := cellString(record[w.schema.Key])
		if key == "" {
			return nil, fmt.Errorf("record %d has no %s", i, w.schema.Key)
		}
		if j, ok := index[key]; ok {
			out[j] = record
			continue
		}
		index[key] = len(out)
		out = append(out, record)
	}
	return out, nil
}

func (w *SQLWriter) createTable(ctx context.Context) error {
	defs := make([]string, len(w.schema.Columns))
	for i, c := range w.schema.Columns {
		key := c.Name == w.schema.Key
		def := w.dialect.quote(c.Name) + " " + w.dialect.columnType(c, key)
		switch {
		case key:
			def += " PRIMARY KEY"
		case !c.Nullable:
			def += " NOT NULL"
		}
		defs[i] = def
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		w.dialect.quote(w.table), strings.Join(defs, ", "))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// insertSQL builds a multi-row upsert for rows records.
func (w *SQLWriter) insertSQL(rows int) string {
	columns := w.schema.ColumnNames()
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = w.dialect.quote(c)
	}

	values := make([]string, rows)
	n := 1
	for r := 0; r < rows; r++ {
		ph := make([]string, len(columns))
		for i := range columns {
			ph[i] = w.dialect.placeholder(n)
			n++
		}
		values[r] = "(" + strings.Join(ph, ", ") + ")"
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s %s",
		w.dialect.quote(w.table),
		strings.Join(quoted, ", "),
		strings.Join(values, ", "),
		w.dialect.upsert(w.dialect, w.schema.Key, columns),
	)
}

func (w *SQLWriter) insertBatch(ctx context.Context, tx *sql.Tx, batch []map[string]interface{}) error {
	args := make([]interface{}, 0, len(batch)*len(w.schema.Columns))
	for i, record := range batch {
		for _, c := range w.schema.Columns {
			v, err := columnValue(c, record[c.Name], w.dialect.nativeTime)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			if v == nil && !c.Nullable {
				return fmt.Errorf("record %d: %s is required", i, c.Name)
			}
			args = append(args, v)
		}
	}

	_, err := tx.ExecContext(ctx, w.insertSQL(len(batch)), args...)
	return err
}

// Ping checks the database connection.
func (w *SQLWriter) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Close closes the database connection
func (w *SQLWriter) Close() error {
	if w.db == nil {
		return nil
	}
	err := w.db.Close()
	w.db = nil
	return err
}

// updateAssignments lists "col = <excluded col>" for every non-key column.
func updateAssignments(d dialect, key string, columns []string, excluded func(quoted string) string) string {
	var sets []string
	for _, c := range columns {
		if c == key {
			continue
		}
		q := d.quote(c)
		sets = append(sets, q+" = "+excluded(q))
	}
	return strings.Join(sets, ", ")
}

func doubleQuote(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// internal/output/manager.go
package output

import (
	"context"
	"fmt"
	"time"

	"github.com/valpere/craigslist-data/internal/config"
	errs "github.com/valpere/craigslist-data/internal/errors"
	"github.com/valpere/craigslist-data/internal/utils"
)

// Recorder receives one observation per completed write.
type Recorder interface {
	RecordOutput(format string, records int, d time.Duration, err error)
}

// Manager builds the writer for the configured target and writes record
// sets through it
type Manager struct {
	opts     Options
	recorder Recorder
	logger   utils.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder reports write outcomes to r.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithLogger sets the manager's logger.
func WithLogger(l utils.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a new output manager. When opts.Format is empty it
// is taken from the extension of opts.Path.
func NewManager(opts Options, options ...ManagerOption) (*Manager, error) {
	if opts.Format == "" {
		f, err := FormatFromPath(opts.Path)
		if err != nil {
			return nil, err
		}
		opts.Format = f
	}
	if !opts.Format.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, opts.Format)
	}
	if opts.Format.IsFile() && opts.Path == "" {
		return nil, fmt.Errorf("output format %s requires a file path", opts.Format)
	}
	if !opts.Format.IsFile() && opts.DSN == "" {
		return nil, fmt.Errorf("output format %s requires a database dsn", opts.Format)
	}
	opts.setDefaults()

	m := &Manager{
		opts:   opts,
		logger: utils.NewComponentLogger("output"),
	}
	for _, o := range options {
		o(m)
	}
	return m, nil
}

// OptionsFromConfig resolves the output target. An explicit path wins and
// must name a file format by extension; otherwise the configured format
// and path are used.
func OptionsFromConfig(cfg config.OutputConfig, path string, schema Schema) (Options, error) {
	opts := Options{
		Format:     OutputFormat(cfg.Format),
		Path:       cfg.Path,
		DSN:        cfg.Database.DSN,
		Table:      cfg.Database.Table,
		Database:   cfg.Database.Database,
		Collection: cfg.Database.Collection,
		BatchSize:  cfg.Database.BatchSize,
		Timeout:    cfg.Database.Timeout,
		Schema:     schema,
	}

	if path != "" {
		f, err := FormatFromPath(path)
		if err != nil {
			return opts, fmt.Errorf("output file must end in .json, .csv, .yaml, .xml, .xlsx or .db: %w", err)
		}
		opts.Format = f
		opts.Path = path
	}
	if opts.Format == "" && opts.Path == "" {
		return opts, fmt.Errorf("no output target: pass an output file or set output.format in the configuration")
	}

	// Search results get their own table unless one was named explicitly.
	if opts.Table == "" || (opts.Table == config.DefaultTable && schema.Name != config.DefaultTable) {
		opts.Table = schema.Name
	}
	if opts.Collection == "" || (opts.Collection == config.DefaultTable && schema.Name != config.DefaultTable) {
		opts.Collection = schema.Name
	}
	return opts, nil
}

// Format returns the resolved output format.
func (m *Manager) Format() OutputFormat {
	return m.opts.Format
}

// Target describes where records go without exposing credentials.
func (m *Manager) Target() string {
	switch m.opts.Format {
	case FormatSQLite:
		return fmt.Sprintf("%s (table %s)", m.opts.Path, m.opts.Table)
	case FormatPostgreSQL, FormatMySQL:
		return fmt.Sprintf("%s table %s", m.opts.Format, m.opts.Table)
	case FormatMongoDB:
		return fmt.Sprintf("mongodb %s.%s", m.opts.Database, m.opts.Collection)
	default:
		return m.opts.Path
	}
}

// NewWriter returns the appropriate writer for the configured format
func (m *Manager) NewWriter() (Writer, error) {
	switch m.opts.Format {
	case FormatJSON:
		return NewJSONWriter(m.opts.Path)
	case FormatCSV:
		return NewCSVWriter(m.opts.Path, m.opts.Schema)
	case FormatYAML:
		return NewYAMLWriter(m.opts.Path, m.opts.Schema)
	case FormatXML:
		return NewXMLWriter(m.opts.Path, m.opts.Schema)
	case FormatExcel:
		return NewExcelWriter(m.opts.Path, m.opts.Schema)
	case FormatSQLite:
		return NewSQLiteWriter(m.opts)
	case FormatPostgreSQL:
		return NewPostgreSQLWriter(m.opts)
	case FormatMySQL:
		return NewMySQLWriter(m.opts)
	case FormatMongoDB:
		return NewMongoDBWriter(m.opts)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, m.opts.Format)
	}
}

// Write writes data using the configured format. Failures are returned
// as *errors.OutputError.
func (m *Manager) Write(data []map[string]interface{}) (err error) {
	start := time.Now()
	defer func() {
		if m.recorder != nil {
			m.recorder.RecordOutput(string(m.opts.Format), len(data), time.Since(start), err)
		}
		if err != nil {
			err = &errs.OutputError{Target: m.Target(), Err: err}
		}
	}()

	writer, err := m.NewWriter()
	if err != nil {
		return fmt.Errorf("failed to open writer: %w", err)
	}
	if err := writer.Write(data); err != nil {
		writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"format":  m.opts.Format,
		"target":  m.Target(),
		"records": len(data),
	}).Info("results saved")
	return nil
}

// Ping opens a connection to a database target and checks it. File
// targets always succeed.
func (m *Manager) Ping(ctx context.Context) error {
	if m.opts.Format.IsFile() && m.opts.Format != FormatSQLite {
		return nil
	}
	writer, err := m.NewWriter()
	if err != nil {
		return err
	}
	defer writer.Close()

	if p, ok := writer.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

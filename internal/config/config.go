// internal/config/config.go
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/valpere/craigslist-data/internal/browser"
	"github.com/valpere/craigslist-data/internal/scraper"
)

// DotEnvFile is the name of the environment file searched for at startup.
const DotEnvFile = ".env"

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("configuration filename cannot be empty")
	}

	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", filename)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes
func LoadFromBytes(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("configuration data cannot be empty")
	}

	expanded := ExpandEnv(string(data))

	// Browser defaults are seeded before decoding so that a partial browser
	// section keeps headless mode and the viewport.
	cfg := &Config{Browser: *browser.DefaultBrowserConfig()}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML configuration: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromReader loads configuration from an io.Reader
func LoadFromReader(reader io.Reader) (*Config, error) {
	if reader == nil {
		return nil, fmt.Errorf("reader cannot be nil")
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	return LoadFromBytes(data)
}

// Load returns the configuration in filename, or the defaults when filename
// is empty.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}
	return LoadFromFile(filename)
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	return c.SaveToWriter(file)
}

// SaveToWriter writes configuration as YAML to writer
func (c *Config) SaveToWriter(writer io.Writer) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return nil
}

// GenerateTemplate returns a commented YAML configuration holding the
// defaults for the Philadelphia apartments search.
func GenerateTemplate() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# craigslist-data configuration\n")
	buf.WriteString("# Values may reference the environment as ${VAR} or ${VAR:-default}.\n")
	if err := Default().SaveToWriter(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExpandEnv substitutes ${VAR}, $VAR and ${VAR:-default} references.
func ExpandEnv(content string) string {
	return os.Expand(content, func(name string) string {
		if key, def, ok := strings.Cut(name, ":-"); ok {
			if v, set := os.LookupEnv(key); set && v != "" {
				return v
			}
			return def
		}
		return os.Getenv(name)
	})
}

// FindDotEnv walks up from dir looking for a .env file. It returns an
// empty path when none is found.
func FindDotEnv(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, DotEnvFile)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// LoadDotEnv loads the nearest .env file above dir into the process
// environment. Variables that are already set are not overridden.
func LoadDotEnv(dir string) (string, error) {
	path, err := FindDotEnv(dir)
	if err != nil || path == "" {
		return "", err
	}
	if err := godotenv.Load(path); err != nil {
		return path, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return path, nil
}

// applyDefaults applies default values to the configuration
func applyDefaults(config *Config) {
	if config.Site.BaseURL == "" {
		config.Site.BaseURL = scraper.DefaultBaseURL
	}
	config.Site.BaseURL = strings.TrimRight(config.Site.BaseURL, "/")
	if config.Site.SearchPath == "" {
		config.Site.SearchPath = scraper.DefaultSearchPath
	}
	if !strings.HasPrefix(config.Site.SearchPath, "/") {
		config.Site.SearchPath = "/" + config.Site.SearchPath
	}

	if config.Request.RequestsPerMinute == 0 {
		config.Request.RequestsPerMinute = scraper.DefaultRequestsPerMinute
	}
	if config.Request.Burst == 0 {
		config.Request.Burst = 1
	}
	if config.Request.Timeout == 0 {
		config.Request.Timeout = DefaultTimeout
	}
	if config.Request.Retries == 0 {
		config.Request.Retries = DefaultRetries
	}
	if config.Request.RetryDelay == 0 {
		config.Request.RetryDelay = DefaultRetryDelay
	}
	if config.Request.MaxRetryDelay == 0 {
		config.Request.MaxRetryDelay = DefaultMaxRetryDelay
	}

	if config.Search.Pagination.Type == "" {
		config.Search.Pagination.Type = scraper.PaginationTypeNextButton
	}
	if config.Search.Selectors == (scraper.SearchSelectors{}) {
		config.Search.Selectors = scraper.DefaultSearchSelectors()
	}

	if config.Browser == (browser.BrowserConfig{}) {
		config.Browser = *browser.DefaultBrowserConfig()
	}

	if config.Output.Database.Table == "" {
		config.Output.Database.Table = DefaultTable
	}
	if config.Output.Database.Database == "" {
		config.Output.Database.Database = DefaultDatabase
	}
	if config.Output.Database.Collection == "" {
		config.Output.Database.Collection = DefaultTable
	}
	if config.Output.Database.BatchSize == 0 {
		config.Output.Database.BatchSize = DefaultBatchSize
	}
	if config.Output.Database.Timeout == 0 {
		config.Output.Database.Timeout = DefaultDBTimeout
	}

	if config.Logging.Level == "" {
		config.Logging.Level = DefaultLogLevel
	}
	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = DefaultNamespace
	}
}

// cmd/craigslist-data/root.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/valpere/craigslist-data/internal/config"
	errs "github.com/valpere/craigslist-data/internal/errors"
	"github.com/valpere/craigslist-data/internal/utils"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configFile        string
	logLevel          string
	verbose           bool
	metricsAddr       string
	maxResults        int
	requestsPerMinute float64
	browser           bool
	noProgress        bool
}

type app struct {
	opts   rootOptions
	stdout io.Writer
	stderr io.Writer
	errors *errs.Service
}

// execute runs the command line in args and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr, errors: errs.NewService()}
	root := a.newRootCmd()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return errs.ExitOK
	}

	a.errors.WithVerbose(a.opts.verbose)
	fmt.Fprint(stderr, a.errors.FormatErrorForCLI(err))
	return a.errors.GetExitCode(err)
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "craigslist-data",
		Short: "Collect apartment listings from Craigslist",
		Long: `craigslist-data walks the apartment search results of a Craigslist region,
visits every listing and saves the extracted fields as JSON, CSV, YAML,
Excel or into a database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate(versionString() + "\n")
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.configFile, "config", "c", "", "configuration file (defaults are used when empty)")
	flags.StringVar(&a.opts.logLevel, "log-level", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "debug logging and technical error details")
	flags.StringVar(&a.opts.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	flags.IntVar(&a.opts.maxResults, "max-results", 0, "stop after this many search results (0 means no limit)")
	flags.Float64Var(&a.opts.requestsPerMinute, "requests-per-minute", 0, "request rate limit")
	flags.BoolVar(&a.opts.browser, "browser", false, "render pages with headless Chrome")
	flags.BoolVar(&a.opts.noProgress, "no-progress", false, "disable the progress bar")

	root.AddCommand(
		a.newSearchCmd(),
		a.newScrapeCmd(),
		a.newRunCmd(),
		a.newValidateCmd(),
		a.newTemplateCmd(),
		a.newVersionCmd(),
	)
	return root
}

func versionString() string {
	return fmt.Sprintf("craigslist-data %s (built %s, commit %s)", version, buildTime, gitCommit)
}

// loadConfig reads .env and the configuration file, then applies the flags
// the user set explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if cwd, err := os.Getwd(); err == nil {
		if _, err := config.LoadDotEnv(cwd); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(a.opts.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.opts.logLevel
	}
	if a.opts.verbose {
		cfg.Logging.Level = "debug"
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.opts.metricsAddr
	}
	if flags.Changed("max-results") {
		cfg.Search.MaxResults = a.opts.maxResults
	}
	if flags.Changed("requests-per-minute") {
		cfg.Request.RequestsPerMinute = a.opts.requestsPerMinute
	}
	if flags.Changed("browser") {
		cfg.Browser.Enabled = a.opts.browser
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs written to a file are always
// JSON.
func (a *app) newLogger(cfg *config.Config) (utils.Logger, func(), error) {
	level, err := utils.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}

	out := a.stderr
	jsonOutput := cfg.Logging.JSON
	closer := func() {}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		jsonOutput = true
		closer = func() { f.Close() }
	}

	logger := utils.NewLoggerWithOptions(utils.LoggerOptions{
		Level:     level,
		Output:    out,
		JSON:      jsonOutput,
		Component: "cli",
	})
	utils.SetDefault(logger)
	return logger, closer, nil
}

// cmd/craigslist-data/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/craigslist-data/internal/config"
	"github.com/valpere/craigslist-data/internal/monitoring"
	"github.com/valpere/craigslist-data/internal/output"
	"github.com/valpere/craigslist-data/internal/scraper"
	"github.com/valpere/craigslist-data/pkg/api"
	"github.com/valpere/craigslist-data/pkg/types"
)

func (a *app) newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [output]",
		Short: "Collect search results without visiting listings",
		Long: `Walk the search result pages and save the url, post id and result date
of every result. The format follows the output file extension, or the
output section of the configuration when no file is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCrawl(cmd, crawlJob{
				command: api.CommandSearch,
				output:  firstArg(args),
				schema:  output.SearchResultSchema(),
				records: func(r *scraper.Result) []map[string]interface{} {
					return types.SearchResultRecords(r.SearchResults)
				},
				crawl: func(ctx context.Context, c *api.Client) (*scraper.Result, error) {
					return c.ScrapeSearch(ctx, c.Config().Search.MaxResults)
				},
			})
		},
	}
}

func (a *app) newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [output]",
		Short: "Collect search results and scrape every listing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCrawl(cmd, crawlJob{
				command: api.CommandScrape,
				output:  firstArg(args),
				schema:  output.ApartmentSchema(),
				records: (*scraper.Result).Records,
				crawl: func(ctx context.Context, c *api.Client) (*scraper.Result, error) {
					return c.ScrapeApartments(ctx, c.Config().Search.MaxResults)
				},
			})
		},
	}
}

func (a *app) newRunCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "run <data_path>",
		Short: "Scrape the listings in a saved search results file",
		Long: `Read the search results written by the search command (CSV, JSON or
YAML) and scrape every listing they name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataPath := args[0]
			return a.runCrawl(cmd, crawlJob{
				command: api.CommandRun,
				output:  outputPath,
				schema:  output.ApartmentSchema(),
				records: (*scraper.Result).Records,
				crawl: func(ctx context.Context, c *api.Client) (*scraper.Result, error) {
					return c.ScrapeListingsFromFile(ctx, dataPath)
				},
			})
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (format from extension)")
	return cmd
}

func (a *app) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "✓ Configuration file '%s' is valid\n", args[0])
			for _, warning := range cfg.ValidateWithDetails().Warnings {
				fmt.Fprintf(a.stdout, "  warning: %s\n", warning)
			}
			return nil
		},
	}
}

func (a *app) newTemplateCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print a configuration file with every default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateTemplate()
			if err != nil {
				return err
			}
			if outputPath == "" {
				_, err = a.stdout.Write(data)
				return err
			}
			if err := os.WriteFile(outputPath, data, 0644); err != nil {
				return fmt.Errorf("failed to write template: %w", err)
			}
			fmt.Fprintf(a.stdout, "Template written to %s\n", outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the template to this file")
	return cmd
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.stdout, versionString())
		},
	}
}

// crawlJob describes one crawling command.
type crawlJob struct {
	command string
	output  string
	schema  output.Schema
	records func(*scraper.Result) []map[string]interface{}
	crawl   func(context.Context, *api.Client) (*scraper.Result, error)
}

// errAllListingsFailed is returned when a crawl found listings but could
// scrape none of them.
var errAllListingsFailed = errors.New("every listing failed to scrape")

func (a *app) runCrawl(cmd *cobra.Command, job crawlJob) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closeLog, err := a.newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	metrics := monitoring.NewMetricsManager(monitoring.MetricsConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableGoMetrics:      cfg.Metrics.Addr != "",
		EnableProcessMetrics: cfg.Metrics.Addr != "",
	})

	// The output target is resolved before crawling so a bad path or an
	// unreachable database fails fast.
	opts, err := output.OptionsFromConfig(cfg.Output, job.output, job.schema)
	if err != nil {
		return fmt.Errorf("%w: %v", scraper.ErrInvalidConfig, err)
	}
	manager, err := output.NewManager(opts,
		output.WithRecorder(metrics),
		output.WithLogger(logger.WithField("component", "output")),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", scraper.ErrInvalidConfig, err)
	}

	ctx := cmd.Context()
	if err := manager.Ping(ctx); err != nil {
		return err
	}

	tracker := monitoring.NewRunTracker()
	if cfg.Metrics.Addr != "" {
		health := monitoring.NewHealthManager(version, 5*time.Second)
		health.RegisterCheck(monitoring.RunHealthCheck(tracker, 0.5))
		health.RegisterCheck(monitoring.GoroutineHealthCheck(1000))
		if format := manager.Format(); !format.IsFile() || format == output.FormatSQLite {
			health.RegisterCheck(monitoring.DatabaseHealthCheck(string(format), manager.Ping))
		}

		srv := monitoring.NewServer(cfg.Metrics.Addr, metrics, health, tracker)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	progress := monitoring.NewProgressReporter(a.stderr, !a.opts.noProgress)
	client, err := api.NewClient(cfg,
		api.WithMetrics(metrics),
		api.WithTracker(tracker),
		api.WithLogger(logger),
		api.WithProgress(func(done, total int, _ types.SearchResult, err error) {
			progress.Update(done, total, err)
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	logger.WithFields(map[string]interface{}{
		"command": job.command,
		"site":    cfg.Site.BaseURL,
		"target":  manager.Target(),
	}).Info("starting crawl")

	var result *scraper.Result
	crawlErr := a.errors.ExecuteWithRetry(ctx, func() error {
		var err error
		result, err = job.crawl(ctx, client)
		return err
	}, job.command)
	progress.Stop()

	if result == nil {
		return crawlErr
	}

	// Whatever was collected before a cancellation or a failed phase is
	// still saved.
	records := job.records(result)
	if crawlErr == nil || len(records) > 0 {
		if err := manager.Write(records); err != nil {
			return errors.Join(crawlErr, err)
		}
	}

	monitoring.RenderSummary(a.stdout, job.command, manager.Target(), result)

	if crawlErr == nil && result.Status == types.StatusFailed {
		return fmt.Errorf("%w (%d failures)", errAllListingsFailed, len(result.Failures))
	}
	return crawlErr
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

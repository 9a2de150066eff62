package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/app"
	"github.com/JakeFAU/scrape-engine-gateway/internal/config"
	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
	"github.com/JakeFAU/scrape-engine-gateway/internal/logging"
)

type ctxKey string

const (
	scraperKey ctxKey = "scraper"
	loggerKey  ctxKey = "logger"
)

// newScraper is the facade factory. Tests swap it for a fake.
var newScraper = func(cfg config.Config, logger *zap.Logger) (jobs.Scraper, error) {
	return app.NewScraper(cfg, logger)
}

type rootOptions struct {
	configPath string
	envFile    string
	engineURL  string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "scrapectl",
		Short:         "Run one scrape against a remote scraping engine",
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFiles(opts.envFile); err != nil {
				return err
			}
			overrides := map[string]any{}
			if opts.engineURL != "" {
				overrides["engine.base_url"] = opts.engineURL
			}
			cfg, err := config.LoadWithOverrides(opts.configPath, overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := zap.NewNop()
			if opts.verbose {
				logger, err = logging.New(logging.Options{Development: true, Level: cfg.Logging.Level})
				if err != nil {
					return fmt.Errorf("init logger: %w", err)
				}
			}
			scraper, err := newScraper(cfg, logger)
			if err != nil {
				return fmt.Errorf("init scraper: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), scraperKey, scraper)
			ctx = context.WithValue(ctx, loggerKey, logger)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if logger, ok := cmd.Context().Value(loggerKey).(*zap.Logger); ok {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (env SCRAPER_* always applies)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment")
	cmd.PersistentFlags().StringVar(&opts.engineURL, "engine-url", "", "engine base URL, overrides engine.base_url")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log dispatch and polling to stderr")

	cmd.AddCommand(newScrapeCmd())
	return cmd
}

func resolveScraper(ctx context.Context) (jobs.Scraper, error) {
	scraper, ok := ctx.Value(scraperKey).(jobs.Scraper)
	if !ok || scraper == nil {
		return nil, errors.New("scraper not initialized")
	}
	return scraper, nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "scrapectl:", err)
		return 1
	}
	return 0
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/app"
	"github.com/JakeFAU/athlete-results-crawler/internal/config"
	"github.com/JakeFAU/athlete-results-crawler/internal/logging"
	"github.com/JakeFAU/athlete-results-crawler/internal/telemetry"
)

const serviceName = "athlete-results-crawler"

var (
	cfgFile string
	// shutdownTracing flushes the trace provider installed by PersistentPreRunE.
	shutdownTracing = func(context.Context) error { return nil }
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   serviceName,
		Short: "Crawls athlete, event, and heat results into a consolidated dataset.",
		Long: `athlete-results-crawler discovers athletes from a paginated results directory,
fans each athlete out over years, tours, events, and heats, and assembles the
results into JSON, JSONL, and CSV datasets. Run it as a job service (serve) or
for a single crawl (crawl).`,
		SilenceUsage: true,

		// Builds the application once the subcommand and its flags are known.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				File:        cfg.Logging.File,
				MaxSizeMB:   cfg.Logging.MaxSizeMB,
				MaxBackups:  cfg.Logging.MaxBackups,
				MaxAgeDays:  cfg.Logging.MaxAgeDays,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			tp, err := telemetry.InitTracerProvider(cmd.Context(), serviceName)
			if err != nil {
				return err
			}
			shutdownTracing = tp.Shutdown

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				_ = logger.Sync()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				appInstance.Close()
			}
			if err := shutdownTracing(context.WithoutCancel(cmd.Context())); err != nil {
				fmt.Fprintf(os.Stderr, "trace provider shutdown failed: %v\n", err)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON, or TOML); env vars use the CRAWLER_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/athlete-results-crawler/internal/discovery"
	"github.com/JakeFAU/athlete-results-crawler/internal/jobs"
)

type crawlFlags struct {
	years     []int
	countries []string
	tours     []string
	entities  string
	locations []string
	workers   int
	delay     float64
}

// newCrawlCmd runs one job in the foreground and prints the finished job.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a single crawl job and writes its dataset",
		Long: `Runs one crawl job with the given selections, falling back to the configured
defaults for anything left unset, and prints the finished job as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			job, runErr := appInstance.Crawl(ctx, f.request(cmd))
			if job.ID != "" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(job); err != nil {
					return fmt.Errorf("write job: %w", err)
				}
			}
			return runErr
		},
	}
	cmd.Flags().IntSliceVar(&f.years, "years", nil, "years to crawl, e.g. 2024,2025")
	cmd.Flags().StringSliceVar(&f.countries, "countries", nil, "country codes or source ids for discovery")
	cmd.Flags().StringSliceVar(&f.tours, "tours", nil, "tour codes to keep (all when empty)")
	cmd.Flags().StringVar(&f.entities, "entities", "", "comma-separated athlete ids or name fragments")
	cmd.Flags().StringSliceVar(&f.locations, "locations", nil, "event location fragments to keep")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent athletes (configured default when unset)")
	cmd.Flags().Float64Var(&f.delay, "delay", 0, "seconds to wait before each request (configured default when unset)")
	return cmd
}

// request leaves numeric fields nil unless their flag was given so defaults apply.
func (f crawlFlags) request(cmd *cobra.Command) jobs.Request {
	req := jobs.Request{
		Years:     f.years,
		Countries: f.countries,
		Tours:     f.tours,
		Entities:  discovery.SplitTokens(f.entities),
		Locations: f.locations,
	}
	if cmd.Flags().Changed("workers") {
		workers := f.workers
		req.MaxWorkers = &workers
	}
	if cmd.Flags().Changed("delay") {
		delay := f.delay
		req.RequestDelaySeconds = &delay
	}
	return req
}

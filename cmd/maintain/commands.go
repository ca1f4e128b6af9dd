package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/backfill"
	"github.com/nitwit45/stream/notifier"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

func newFetchAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-all",
		Short: "Crawl the whole catalog and cache every available title",
		RunE: withStore(ctx, func(cmd *cobra.Command) error {
			summary, err := ctx.service().FetchAndCacheAllContent(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return err
		}),
	}
}

func newInitCacheCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init-cache",
		Short: "Seed the cache from the first popular pages",
		RunE: withStore(ctx, func(cmd *cobra.Command) error {
			summary, err := ctx.service().SeedPopular(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return err
		}),
	}
}

func newInitDBCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Remove expired records, then refresh popular content",
		RunE: withStore(ctx, func(cmd *cobra.Command) error {
			service := ctx.service()
			out := cmd.OutOrStdout()

			cleanup, err := service.CleanupOldContent(cmd.Context())
			fmt.Fprintln(out, cleanup)
			if err != nil {
				return err
			}
			popular, err := service.UpdatePopularContent(cmd.Context())
			fmt.Fprintln(out, popular)
			return err
		}),
	}
}

func newUpdateEpisodesCommand(ctx *commandContext) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "update-episodes",
		Short: "Refresh the season structure of every available TV show",
		RunE: withStore(ctx, func(cmd *cobra.Command) error {
			cfg := ctx.cfg.Backfill
			if concurrency > 0 {
				cfg.InitialConcurrency = concurrency
			}
			worker := backfill.NewWorker(ctx.store, ctx.catalog(), backfill.HostSampler{}, backfill.Options{
				InitialConcurrency: cfg.InitialConcurrency,
				MinConcurrency:     cfg.MinConcurrency,
				MaxConcurrency:     cfg.MaxConcurrency,
				BatchSize:          cfg.BatchSize,
				FlushSize:          cfg.FlushSize,
				RetryAttempts:      cfg.RetryAttempts,
				RetryDelay:         cfg.RetryDelay.Std(),
				RateLimitWait:      cfg.RateLimitWait.Std(),
				MonitorInterval:    cfg.MonitorInterval.Std(),
			})

			report, err := worker.Run(cmd.Context())
			out := cmd.OutOrStdout()
			if len(report.Batches) > 0 {
				fmt.Fprintln(out, renderBatches(report.Batches))
			}
			fmt.Fprintln(out, report)
			return err
		}),
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "initial number of concurrent requests")
	return cmd
}

func newCheckDBCommand(ctx *commandContext) *cobra.Command {
	var samples int

	cmd := &cobra.Command{
		Use:   "check-db",
		Short: "Print cache statistics and recently checked titles",
		RunE: withStore(ctx, func(cmd *cobra.Command) error {
			stats, err := ctx.store.GetStats()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStats(stats))

			for _, contentType := range []storage.ContentType{storage.Movie, storage.TVShow} {
				records, err := ctx.store.Sample(contentType, samples)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintf(out, "No %s records cached\n", contentType)
					continue
				}
				fmt.Fprintln(out, renderSample(contentType, records))
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&samples, "samples", 5, "number of records to show per content type")
	return cmd
}

func newTestEmailCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-email",
		Short: "Send a test message with the configured mail settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := ctx.loadConfig(); err != nil {
				return err
			}
			defer ctx.close()

			if !ctx.cfg.EmailEnabled() {
				return errors.New("email is not configured: set EMAIL_SMTP_HOST and EMAIL_RECIPIENT")
			}
			n, err := notifier.NewEmailNotifier(notifier.EmailConfigFrom(ctx.cfg.Email))
			if err != nil {
				return err
			}
			if err := n.SendTest(); err != nil {
				return fmt.Errorf("failed to send test email: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test email sent to %s\n", ctx.cfg.Email.RecipientEmail)
			return nil
		},
	}
}

func renderStats(stats map[string]int) string {
	rows := [][]string{
		{"Movies", humanize.Comma(int64(stats["movies"])), humanize.Comma(int64(stats["available_movies"]))},
		{"TV shows", humanize.Comma(int64(stats["tvshows"])), humanize.Comma(int64(stats["available_tvshows"]))},
		{"Total", humanize.Comma(int64(stats["total"])), humanize.Comma(int64(stats["available_movies"] + stats["available_tvshows"]))},
	}
	table := renderTable("Cache", []string{"Type", "Cached", "Available"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight})
	return table + fmt.Sprintf("\nSeasons: %s, episodes: %s",
		humanize.Comma(int64(stats["seasons"])), humanize.Comma(int64(stats["episodes"])))
}

func renderSample(contentType storage.ContentType, records []storage.ContentRecord) string {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		name := "-"
		var title tmdb.Title
		if err := record.Decode(&title); err == nil {
			name = title.DisplayName()
		}
		available := "no"
		if record.Available {
			available = "yes"
		}
		rows = append(rows, []string{
			strconv.FormatInt(record.ExternalID, 10),
			name,
			available,
			humanize.Time(record.LastChecked),
		})
	}
	return renderTable(fmt.Sprintf("Recent %s records", availability.MediaFor(contentType)),
		[]string{"ID", "Title", "Available", "Checked"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
}

func renderBatches(batches []backfill.BatchReport) string {
	rows := make([][]string, 0, len(batches))
	for _, b := range batches {
		rows = append(rows, []string{
			fmt.Sprintf("%d/%d", b.Number, b.Total),
			strconv.Itoa(b.Size),
			strconv.Itoa(b.Succeeded),
			strconv.Itoa(b.Failed),
			strconv.Itoa(b.Written),
			b.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable("Batches", []string{"Batch", "Shows", "OK", "Failed", "Written", "Took"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight})
}

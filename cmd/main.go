package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/config"
	"github.com/nitwit45/stream/notifier"
	"github.com/nitwit45/stream/scheduler"
	"github.com/nitwit45/stream/scraper"
	"github.com/nitwit45/stream/server"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logCloser := config.SetupLogging(cfg.Log)
	defer logCloser.Close()
	log.Println("Starting Stream application...")

	if err := cfg.Validate(false); err != nil {
		log.Printf("Warning: %v", err)
	}
	if cfg.TMDB.APIKey == "" {
		log.Println("Warning: TMDB_API_KEY is not set, catalog requests will fail")
	}

	// Initialize storage
	sqliteStorage := storage.NewSQLiteStorage(cfg.DataPath)
	if err := sqliteStorage.Initialize(); err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer sqliteStorage.Close()

	catalog := tmdb.NewClient(tmdb.Options{
		APIKey:            cfg.TMDB.APIKey,
		BaseURL:           cfg.TMDB.BaseURL,
		Language:          cfg.TMDB.Language,
		RequestsPerSecond: cfg.TMDB.RequestsPerSecond,
	})
	embeds := scraper.NewEmbedURLs(cfg.Embed.BaseURL)
	service := availability.NewService(sqliteStorage, catalog, scraper.NewProber(cfg.Embed.Timeout.Std()), embeds, availability.Options{
		Freshness:        cfg.Cache.Freshness.Std(),
		Retention:        cfg.Cache.Retention.Std(),
		BatchSize:        cfg.Crawl.FilterBatch,
		Lookahead:        cfg.Crawl.Lookahead,
		CrawlConcurrency: cfg.Crawl.Concurrency,
		MaxPages:         cfg.Crawl.MaxPages,
		SeedMaxPages:     cfg.Crawl.SeedMaxPages,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.RunMode {
	case "server", "":
		log.Println("Starting in server mode")
		sched := startScheduler(cfg, service)
		defer sched.Stop()

		hash, err := server.AdminPasswordHash(cfg.Admin)
		if err != nil {
			log.Fatalf("Failed to configure admin login: %v", err)
		}
		proxies, err := server.ParseTrustedProxies(cfg.TrustedProxies)
		if err != nil {
			log.Fatalf("Failed to configure trusted proxies: %v", err)
		}
		srv, err := server.NewServer(service, sqliteStorage, catalog, scraper.NewFeedReader(embeds, cfg.Embed.Timeout.Std()), embeds, server.Options{
			CronSecret:        cfg.CronSecret,
			APIRateLimit:      cfg.APIRateLimit,
			TrustedProxies:    proxies,
			AdminUsername:     cfg.Admin.Username,
			AdminPasswordHash: hash,
		})
		if err != nil {
			log.Fatalf("Failed to create server: %v", err)
		}

		displayDatabaseStats(sqliteStorage)
		if err := srv.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
			log.Fatalf("Server error: %v", err)
		}

	case "scheduler":
		log.Println("Starting in scheduler mode")
		sched := startScheduler(cfg, service)

		displayDatabaseStats(sqliteStorage)
		log.Println("Application running. Press Ctrl+C to exit")

		<-ctx.Done()
		log.Println("Received shutdown signal, shutting down...")
		sched.Stop()

	case "once":
		log.Println("Running in single execution mode")

		runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()

		for _, job := range []scheduler.Job{
			scheduler.NewCacheCleanupJob(service, nil),
			scheduler.NewPopularRefreshJob(service, nil),
		} {
			if err := job.Run(runCtx); err != nil {
				log.Fatalf("Error running job: %v", err)
			}
		}

		displayDatabaseStats(sqliteStorage)

	default:
		log.Printf("Unknown RUN_MODE %q, expected server, scheduler or once", cfg.RunMode)
		os.Exit(1)
	}

	log.Println("Application exiting")
}

// startScheduler registers the maintenance jobs and starts cron
func startScheduler(cfg config.Config, service *availability.Service) *scheduler.Scheduler {
	sched := scheduler.NewScheduler()

	var reports notifier.NotifierInterface
	if cfg.EmailEnabled() {
		emailNotifier, err := notifier.NewEmailNotifier(notifier.EmailConfigFrom(cfg.Email))
		if err != nil {
			log.Printf("Failed to create email notifier: %v", err)
		} else {
			reports = emailNotifier
			log.Printf("Email notifications will be sent to: %s", cfg.Email.RecipientEmail)
		}
	} else {
		log.Println("Email notifications disabled: missing configuration")
	}

	if err := scheduler.RegisterMaintenanceJobs(sched, service, reports, cfg.Schedule.Popular, cfg.Schedule.Cleanup); err != nil {
		log.Fatalf("Failed to schedule maintenance jobs: %v", err)
	}
	sched.Start()
	for _, job := range sched.Status() {
		log.Printf("Scheduled %s (%s), next run at %s", job.Name, job.Spec, job.Next.Format(time.RFC3339))
	}

	// Run the refresh once at startup if specified
	if os.Getenv("RUN_AT_STARTUP") == "true" {
		log.Println("Running initial popular refresh at startup")
		if err := sched.RunJobNow(scheduler.PopularRefreshJobName); err != nil {
			log.Printf("Error running initial job: %v", err)
		}
	}
	return sched
}

// displayDatabaseStats shows database statistics
func displayDatabaseStats(db *storage.SQLiteStorage) {
	log.Println("Database Statistics")

	stats, err := db.GetStats()
	if err != nil {
		log.Printf("Error getting database stats: %v", err)
		return
	}

	log.Printf("Total content: %d", stats["total"])
	log.Printf("Movies: %d (%d available)", stats["movies"], stats["available_movies"])
	log.Printf("TV shows: %d (%d available)", stats["tvshows"], stats["available_tvshows"])
	log.Printf("Seasons: %d, episodes: %d", stats["seasons"], stats["episodes"])
}

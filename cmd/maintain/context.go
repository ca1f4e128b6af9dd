package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/config"
	"github.com/nitwit45/stream/scraper"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

const lockFileName = "maintain.lock"

// commandContext holds what a maintenance command needs. It is opened once
// per command and closed when the command returns.
type commandContext struct {
	cfg       config.Config
	store     *storage.SQLiteStorage
	lock      *flock.Flock
	logCloser io.Closer
}

func (c *commandContext) loadConfig() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logCloser = config.SetupLogging(cfg.Log)
	return nil
}

// open loads configuration, takes the maintenance lock and opens the store.
// Only one maintenance command can hold the lock at a time.
func (c *commandContext) open() error {
	return c.openStore(true)
}

func (c *commandContext) openStore(requireCatalog bool) error {
	if err := c.loadConfig(); err != nil {
		return err
	}
	if err := c.cfg.Validate(requireCatalog); err != nil {
		return err
	}

	if err := os.MkdirAll(c.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	c.lock = flock.New(filepath.Join(c.cfg.DataPath, lockFileName))
	ok, err := c.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another maintenance command is already running")
	}

	c.store = storage.NewSQLiteStorage(c.cfg.DataPath)
	if err := c.store.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	return nil
}

func (c *commandContext) close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}
	if c.lock != nil {
		_ = c.lock.Unlock()
	}
	if c.logCloser != nil {
		c.logCloser.Close()
	}
}

func (c *commandContext) catalog() *tmdb.Client {
	return tmdb.NewClient(tmdb.Options{
		APIKey:            c.cfg.TMDB.APIKey,
		BaseURL:           c.cfg.TMDB.BaseURL,
		Language:          c.cfg.TMDB.Language,
		RequestsPerSecond: c.cfg.TMDB.RequestsPerSecond,
	})
}

func (c *commandContext) service() *availability.Service {
	return availability.NewService(c.store, c.catalog(),
		scraper.NewProber(c.cfg.Embed.Timeout.Std()),
		scraper.NewEmbedURLs(c.cfg.Embed.BaseURL),
		availability.Options{
			Freshness:        c.cfg.Cache.Freshness.Std(),
			Retention:        c.cfg.Cache.Retention.Std(),
			BatchSize:        c.cfg.Crawl.FilterBatch,
			Lookahead:        c.cfg.Crawl.Lookahead,
			CrawlConcurrency: c.cfg.Crawl.Concurrency,
			MaxPages:         c.cfg.Crawl.MaxPages,
			SeedMaxPages:     c.cfg.Crawl.SeedMaxPages,
		})
}

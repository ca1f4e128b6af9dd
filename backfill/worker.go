// Package backfill refreshes the season structure of every cached TV show
// with a bounded, load-adaptive number of concurrent catalog requests.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

// ShowStore is the part of the content store the worker reads and writes
type ShowStore interface {
	ListIDs(contentType storage.ContentType, availableOnly bool) ([]int64, error)
	BulkUpsertSeasons(updates []storage.SeasonUpdate) (storage.BulkResult, error)
}

// DetailsFetcher fetches full show details including seasons
type DetailsFetcher interface {
	Details(ctx context.Context, media tmdb.MediaType, id int64) (*tmdb.Title, error)
}

// Options tunes the worker. Zero values fall back to defaults.
type Options struct {
	InitialConcurrency int
	MinConcurrency     int
	MaxConcurrency     int
	BatchSize          int
	FlushSize          int
	RetryAttempts      int
	RetryDelay         time.Duration
	RateLimitWait      time.Duration
	MaxRateLimitWaits  int
	MonitorInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.InitialConcurrency <= 0 {
		o.InitialConcurrency = 25
	}
	if o.MinConcurrency <= 0 {
		o.MinConcurrency = 10
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 50
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushSize <= 0 {
		o.FlushSize = 100
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 200 * time.Millisecond
	}
	if o.RateLimitWait <= 0 {
		o.RateLimitWait = time.Second
	}
	if o.MaxRateLimitWaits <= 0 {
		o.MaxRateLimitWaits = 10
	}
	return o
}

// Worker runs the backfill
type Worker struct {
	store   ShowStore
	catalog DetailsFetcher
	sampler Sampler
	opts    Options
	limiter *Limiter

	// observe is called with the in-flight count after every admission
	observe func(inFlight, limit int)
}

func NewWorker(store ShowStore, catalog DetailsFetcher, sampler Sampler, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		store:   store,
		catalog: catalog,
		sampler: sampler,
		opts:    opts,
		limiter: NewLimiter(opts.InitialConcurrency, opts.MinConcurrency, opts.MaxConcurrency),
	}
}

// Limiter exposes the worker's admission limit
func (w *Worker) Limiter() *Limiter {
	return w.limiter
}

type outcome struct {
	id      int64
	seasons []storage.SeasonRecord
	err     error
}

// Run processes every available cached show in sequential batches
func (w *Worker) Run(ctx context.Context) (Report, error) {
	report := Report{Started: time.Now()}

	ids, err := w.store.ListIDs(storage.TVShow, true)
	if err != nil {
		return report, fmt.Errorf("failed to list shows: %w", err)
	}
	report.Shows = len(ids)
	log.Printf("[backfill] found %d TV shows to update", len(ids))

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	defer stopMonitor()
	go NewMonitor(w.limiter, w.sampler, w.opts.MonitorInterval).Run(monitorCtx)

	total := (len(ids) + w.opts.BatchSize - 1) / w.opts.BatchSize
	for number, start := 1, 0; start < len(ids); number, start = number+1, start+w.opts.BatchSize {
		end := min(start+w.opts.BatchSize, len(ids))
		batch := w.runBatch(ctx, ids[start:end], number, total)
		report.add(batch)
		log.Printf("[backfill] %s", batch)

		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(report.Started)
			return report, err
		}
	}

	report.Duration = time.Since(report.Started)
	log.Printf("[backfill] %s", report)
	return report, nil
}

// runBatch is the dispatch loop. It is the only owner of the in-flight count
// and the write buffer; workers hand their outcome back over a channel.
func (w *Worker) runBatch(ctx context.Context, ids []int64, number, total int) BatchReport {
	batch := BatchReport{Number: number, Total: total, Size: len(ids)}
	started := time.Now()

	results := make(chan outcome)
	queue := ids
	inFlight := 0
	var buffer []storage.SeasonUpdate

	for len(queue) > 0 || inFlight > 0 {
		if ctx.Err() != nil && len(queue) > 0 {
			batch.Failed += len(queue)
			queue = nil
		}

		for len(queue) > 0 && inFlight < w.limiter.Limit() {
			id := queue[0]
			queue = queue[1:]
			inFlight++
			if w.observe != nil {
				w.observe(inFlight, w.limiter.Limit())
			}
			go func() {
				seasons, err := w.fetchSeasons(ctx, id)
				results <- outcome{id: id, seasons: seasons, err: err}
			}()
		}

		if inFlight == 0 {
			break
		}

		result := <-results
		inFlight--

		if result.err != nil {
			batch.Failed++
			log.Printf("[backfill] failed to process show %d: %v", result.id, result.err)
			continue
		}
		batch.Succeeded++
		if len(result.seasons) == 0 {
			continue
		}

		buffer = append(buffer, storage.SeasonUpdate{ExternalID: result.id, Seasons: result.seasons})
		if len(buffer) >= w.opts.FlushSize {
			w.flush(buffer, &batch)
			buffer = nil
		}
	}

	if len(buffer) > 0 {
		w.flush(buffer, &batch)
	}

	batch.Duration = time.Since(started)
	return batch
}

func (w *Worker) flush(buffer []storage.SeasonUpdate, batch *BatchReport) {
	log.Printf("[backfill] performing bulk update for %d shows", len(buffer))
	result, err := w.store.BulkUpsertSeasons(buffer)
	if err != nil {
		log.Printf("[backfill] bulk update failed: %v", err)
		batch.WriteFailed += len(buffer)
		return
	}
	batch.Written += result.Succeeded
	batch.WriteFailed += result.Failed
	batch.Flushes++
}

// fetchSeasons fetches a show with retries. Attempts use a linear backoff;
// rate-limit responses are waited out inside an attempt.
func (w *Worker) fetchSeasons(ctx context.Context, id int64) ([]storage.SeasonRecord, error) {
	var details *tmdb.Title
	err := retry.Do(
		func() error {
			d, err := w.fetchRateLimited(ctx, id)
			if err != nil {
				return err
			}
			details = d
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(w.opts.RetryAttempts)),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return time.Duration(n+1) * w.opts.RetryDelay
		}),
		retry.RetryIf(func(err error) bool {
			return !tmdb.IsNotFound(err) && !errors.Is(err, tmdb.ErrNotConfigured)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Printf("[backfill] retrying show %d after attempt %d: %v", id, n+1, err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return toSeasonRecords(details.Seasons), nil
}

func (w *Worker) fetchRateLimited(ctx context.Context, id int64) (*tmdb.Title, error) {
	for waits := 0; ; waits++ {
		details, err := w.catalog.Details(ctx, tmdb.TV, id)
		if err == nil {
			return details, nil
		}
		if !tmdb.IsRateLimited(err) || waits >= w.opts.MaxRateLimitWaits {
			return nil, err
		}

		log.Printf("[backfill] rate limited when fetching show %d, waiting %s", id, w.opts.RateLimitWait)
		select {
		case <-time.After(w.opts.RateLimitWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func toSeasonRecords(seasons []tmdb.Season) []storage.SeasonRecord {
	out := make([]storage.SeasonRecord, 0, len(seasons))
	for _, s := range seasons {
		out = append(out, storage.SeasonRecord{
			SeasonNumber: s.SeasonNumber,
			EpisodeCount: s.EpisodeCount,
			Name:         s.Name,
			AirDate:      s.AirDate,
		})
	}
	return out
}

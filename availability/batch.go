package availability

import (
	"context"
	"fmt"
	"log"

	"github.com/sourcegraph/conc/iter"
	"golang.org/x/sync/errgroup"

	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

// FilterAvailableContent probes items in fixed-size batches and returns the
// available ones in their original order
func (s *Service) FilterAvailableContent(ctx context.Context, items []tmdb.Title, contentType storage.ContentType) []tmdb.Title {
	available := make([]tmdb.Title, 0, len(items))
	for _, batch := range chunk(items, s.opts.BatchSize) {
		if ctx.Err() != nil {
			break
		}
		results := s.checkBatch(ctx, batch, contentType)
		for i, ok := range results {
			if ok {
				available = append(available, batch[i])
			}
		}
	}
	return available
}

func (s *Service) checkBatch(ctx context.Context, batch []tmdb.Title, contentType storage.ContentType) []bool {
	return iter.Map(batch, func(item *tmdb.Title) bool {
		return s.CheckAndCacheAvailability(ctx, *item, contentType)
	})
}

// UpdatePopularContent re-checks the first popular page of movies and shows
func (s *Service) UpdatePopularContent(ctx context.Context) (summary Summary, err error) {
	summary = s.begin("popular refresh")
	defer s.finish(&summary)

	var movies, shows []tmdb.Title
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		page, err := s.catalog.Popular(gctx, tmdb.Movie, 1)
		if err != nil {
			return fmt.Errorf("failed to fetch popular movies: %w", err)
		}
		movies = page.Results
		return nil
	})
	g.Go(func() error {
		page, err := s.catalog.Popular(gctx, tmdb.TV, 1)
		if err != nil {
			return fmt.Errorf("failed to fetch popular shows: %w", err)
		}
		shows = page.Results
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Printf("[availability] popular refresh aborted: %v", err)
		return summary, err
	}

	summary.Pages = 1
	s.checkAll(ctx, movies, storage.Movie, &summary)
	s.checkAll(ctx, shows, storage.TVShow, &summary)

	log.Printf("[availability] popular content updated: %d/%d available", summary.Available, summary.Checked)
	return summary, ctx.Err()
}

// CleanupOldContent removes records older than the retention window
func (s *Service) CleanupOldContent(ctx context.Context) (summary Summary, err error) {
	summary = s.begin("cache cleanup")
	defer s.finish(&summary)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	deleted, err := s.store.DeleteOlderThan(s.opts.Retention)
	if err != nil {
		log.Printf("[availability] cleanup failed: %v", err)
		return summary, err
	}
	summary.Deleted = deleted
	log.Printf("[availability] removed %d records older than %s", deleted, s.opts.Retention)
	return summary, nil
}

// SeedPopular walks every popular page of both types, up to the seed page
// limit or the catalog's page count, and checks each title
func (s *Service) SeedPopular(ctx context.Context) (summary Summary, err error) {
	summary = s.begin("cache seed")
	defer s.finish(&summary)

	for _, media := range []tmdb.MediaType{tmdb.Movie, tmdb.TV} {
		contentType := storage.Movie
		if media == tmdb.TV {
			contentType = storage.TVShow
		}

		last := s.opts.SeedMaxPages
		for page := 1; page <= last; page++ {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			result, err := s.catalog.Popular(ctx, media, page)
			if err != nil {
				return summary, fmt.Errorf("failed to fetch popular %s page %d: %w", media, page, err)
			}
			if page == 1 && result.TotalPages < last {
				last = result.TotalPages
			}
			if len(result.Results) == 0 {
				break
			}
			summary.Pages++
			s.checkAll(ctx, result.Results, contentType, &summary)
			log.Printf("[availability] seeded %s page %d/%d", media, page, last)
		}
	}

	log.Printf("[availability] cache initialized: %d/%d available", summary.Available, summary.Checked)
	return summary, nil
}

func (s *Service) checkAll(ctx context.Context, items []tmdb.Title, contentType storage.ContentType, summary *Summary) {
	for _, batch := range chunk(items, s.opts.BatchSize) {
		if ctx.Err() != nil {
			return
		}
		for _, ok := range s.checkBatch(ctx, batch, contentType) {
			summary.Checked++
			if ok {
				summary.Available++
			}
		}
	}
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

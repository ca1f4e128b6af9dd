package availability

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

type discoverPage struct {
	number int
	movies []tmdb.Title
	shows  []tmdb.Title
	err    error
}

func (p discoverPage) empty() bool {
	return len(p.movies) == 0 && len(p.shows) == 0
}

// FetchAndCacheAllContent crawls the discovery endpoint for both types page
// by page and checks every title. Up to Lookahead pages are fetched ahead of
// the page being processed. A failed prefetch is retried synchronously once.
// The crawl ends on the first page that is empty for both types.
func (s *Service) FetchAndCacheAllContent(ctx context.Context) (summary Summary, err error) {
	summary = s.begin("full crawl")
	defer s.finish(&summary)

	crawlCtx, stop := context.WithCancel(ctx)
	defer stop()

	pages := s.prefetch(crawlCtx)

	var checked, available atomic.Int64
	for future := range pages {
		var page discoverPage
		select {
		case page = <-future:
		case <-ctx.Done():
			return summary, ctx.Err()
		}

		if page.err != nil {
			log.Printf("[crawl] prefetch of page %d failed, fetching directly: %v", page.number, page.err)
			page = s.fetchDiscoverPage(ctx, page.number)
			if page.err != nil {
				summary.Checked, summary.Available = int(checked.Load()), int(available.Load())
				return summary, fmt.Errorf("crawl stopped at page %d: %w", page.number, page.err)
			}
		}

		if page.empty() {
			break
		}

		s.processPage(ctx, page, &checked, &available)
		summary.Pages++
		log.Printf("[crawl] completed page %d, %d items processed so far, %d pages buffered",
			page.number, checked.Load(), len(pages))
	}

	summary.Checked, summary.Available = int(checked.Load()), int(available.Load())
	log.Printf("[crawl] all content fetched: %s", summary)
	return summary, ctx.Err()
}

// prefetch starts a producer that fetches discovery pages in order. Each
// channel element resolves to one page; the channel capacity bounds how far
// ahead of the consumer the producer may run.
func (s *Service) prefetch(ctx context.Context) <-chan chan discoverPage {
	pages := make(chan chan discoverPage, s.opts.Lookahead)
	go func() {
		defer close(pages)
		for number := 1; number <= s.opts.MaxPages; number++ {
			future := make(chan discoverPage, 1)
			select {
			case pages <- future:
			case <-ctx.Done():
				return
			}
			go func(number int) {
				future <- s.fetchDiscoverPage(ctx, number)
			}(number)
		}
	}()
	return pages
}

func (s *Service) fetchDiscoverPage(ctx context.Context, number int) discoverPage {
	page := discoverPage{number: number}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, err := s.catalog.Discover(gctx, tmdb.Movie, number)
		if err != nil {
			return fmt.Errorf("discover movies: %w", err)
		}
		page.movies = result.Results
		return nil
	})
	g.Go(func() error {
		result, err := s.catalog.Discover(gctx, tmdb.TV, number)
		if err != nil {
			return fmt.Errorf("discover shows: %w", err)
		}
		page.shows = result.Results
		return nil
	})
	page.err = g.Wait()
	return page
}

func (s *Service) processPage(ctx context.Context, page discoverPage, checked, available *atomic.Int64) {
	work := []struct {
		items       []tmdb.Title
		contentType storage.ContentType
	}{
		{page.movies, storage.Movie},
		{page.shows, storage.TVShow},
	}

	for _, w := range work {
		p := pool.New().WithMaxGoroutines(s.opts.CrawlConcurrency)
		for _, item := range w.items {
			p.Go(func() {
				ok := s.CheckAndCacheAvailability(ctx, item, w.contentType)
				n := checked.Add(1)
				if ok {
					available.Add(1)
				}
				state := "Not Available"
				if ok {
					state = "Available"
				}
				log.Printf("[crawl] [%d] %s: %s - %s", n, w.contentType, item.DisplayName(), state)
			})
		}
		p.Wait()
	}
}

package availability

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

// Content is a title together with its availability
type Content struct {
	tmdb.Title
	Available bool `json:"available"`
}

// GetContent returns one title. A fresh cached record is served as is
// (unless it is a show without season data); otherwise the catalog details
// are fetched and availability is checked. A stale record is the fallback
// when the catalog cannot be reached.
func (s *Service) GetContent(ctx context.Context, contentType storage.ContentType, id int64) (*Content, error) {
	cached, err := s.store.GetByExternalIDAndType(contentType, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("[availability] cache lookup for %s %d failed: %v", contentType, id, err)
		cached = nil
	}

	var cachedTitle *tmdb.Title
	if cached != nil {
		var title tmdb.Title
		if err := cached.Decode(&title); err == nil && title.ID == id {
			cachedTitle = &title
			complete := contentType == storage.Movie || len(title.Seasons) > 0
			if complete && cached.Fresh(s.now(), s.opts.Freshness) {
				return &Content{Title: title, Available: cached.Available}, nil
			}
		}
	}

	details, err := s.catalog.Details(ctx, MediaFor(contentType), id)
	if err != nil {
		if cachedTitle != nil {
			log.Printf("[availability] serving cached %s %d: %v", contentType, id, err)
			return &Content{Title: *cachedTitle, Available: cached.Available}, nil
		}
		if tmdb.IsNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch %s %d: %w", contentType, id, err)
	}

	available := s.CheckAndCacheAvailability(ctx, *details, contentType)
	return &Content{Title: *details, Available: available}, nil
}

// Search runs a catalog search and keeps only results known to be
// available. When none of the results are cached yet the unfiltered page is
// returned so titles are not hidden before their first probe.
func (s *Service) Search(ctx context.Context, contentType storage.ContentType, query string, page int) (*tmdb.Page, error) {
	result, err := s.catalog.Search(ctx, MediaFor(contentType), query, page)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s %q: %w", contentType, query, err)
	}

	ids := make([]int64, 0, len(result.Results))
	for _, title := range result.Results {
		ids = append(ids, title.ID)
	}

	known, err := s.store.LookupAvailability(contentType, ids)
	if err != nil {
		log.Printf("[availability] availability lookup for search %q failed: %v", query, err)
		return result, nil
	}
	if len(known) == 0 {
		return result, nil
	}

	filtered := make([]tmdb.Title, 0, len(known))
	for _, title := range result.Results {
		if known[title.ID] {
			filtered = append(filtered, title)
		}
	}
	out := *result
	out.Results = filtered
	return &out, nil
}

// Browse returns one page of cached available titles for a category
func (s *Service) Browse(contentType storage.ContentType, category string, page, pageSize int) (*storage.CategoryPage, error) {
	if category == "" {
		category = "popular"
	}
	result, err := s.store.QueryByCategory(contentType, category, page, pageSize)
	if err != nil {
		log.Printf("[availability] category %q of %s failed: %v", category, contentType, err)
		return nil, err
	}
	return result, nil
}

// Titles decodes the payloads of a category page
func Titles(page *storage.CategoryPage) []tmdb.Title {
	if page == nil {
		return []tmdb.Title{}
	}
	titles := make([]tmdb.Title, 0, len(page.Items))
	for _, item := range page.Items {
		var title tmdb.Title
		if err := item.Decode(&title); err != nil {
			log.Printf("[availability] skipping record %d: %v", item.ExternalID, err)
			continue
		}
		titles = append(titles, title)
	}
	return titles
}

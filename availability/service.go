// Package availability decides whether catalog titles can be streamed and
// keeps the content cache in step with the embed provider.
package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nitwit45/stream/scraper"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

// CatalogInterface is the subset of the metadata API the pipeline uses
type CatalogInterface interface {
	Popular(ctx context.Context, media tmdb.MediaType, page int) (*tmdb.Page, error)
	Discover(ctx context.Context, media tmdb.MediaType, page int) (*tmdb.Page, error)
	Search(ctx context.Context, media tmdb.MediaType, query string, page int) (*tmdb.Page, error)
	Details(ctx context.Context, media tmdb.MediaType, id int64) (*tmdb.Title, error)
}

// Options tunes the pipeline. Zero values fall back to defaults.
type Options struct {
	Freshness        time.Duration
	Retention        time.Duration
	BatchSize        int
	Lookahead        int
	CrawlConcurrency int
	MaxPages         int
	SeedMaxPages     int
}

func (o Options) withDefaults() Options {
	if o.Freshness <= 0 {
		o.Freshness = 24 * time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.Lookahead <= 0 {
		o.Lookahead = 3
	}
	if o.CrawlConcurrency <= 0 {
		o.CrawlConcurrency = 5
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 500
	}
	if o.SeedMaxPages <= 0 {
		o.SeedMaxPages = 100
	}
	return o
}

// Service is the availability pipeline
type Service struct {
	store   storage.StorageInterface
	catalog CatalogInterface
	prober  scraper.ProberInterface
	embeds  scraper.EmbedURLs
	opts    Options
	probes  singleflight.Group
	now     func() time.Time
}

func NewService(store storage.StorageInterface, catalog CatalogInterface, prober scraper.ProberInterface, embeds scraper.EmbedURLs, opts Options) *Service {
	return &Service{
		store:   store,
		catalog: catalog,
		prober:  prober,
		embeds:  embeds,
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// MediaFor maps a cache content type to the metadata API's media type
func MediaFor(contentType storage.ContentType) tmdb.MediaType {
	if contentType == storage.TVShow {
		return tmdb.TV
	}
	return tmdb.Movie
}

// CheckAndCacheAvailability returns the cached availability of item when it
// was checked within the freshness window. Otherwise it probes the provider
// and stores the result. Concurrent calls for the same title share one probe,
// which is not cancelled when the caller that started it goes away. A probe
// that could not reach the provider reads as unavailable and is not cached.
func (s *Service) CheckAndCacheAvailability(ctx context.Context, item tmdb.Title, contentType storage.ContentType) bool {
	key := fmt.Sprintf("%s:%d", contentType, item.ID)
	v, _, _ := s.probes.Do(key, func() (any, error) {
		return s.checkAndCache(context.WithoutCancel(ctx), item, contentType), nil
	})
	return v.(bool)
}

func (s *Service) checkAndCache(ctx context.Context, item tmdb.Title, contentType storage.ContentType) bool {
	if item.ID <= 0 {
		return false
	}
	now := s.now()

	cached, err := s.store.GetByExternalIDAndType(contentType, item.ID)
	switch {
	case err == nil && cached.Fresh(now, s.opts.Freshness):
		return cached.Available
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		log.Printf("[availability] cache lookup for %s %d failed: %v", contentType, item.ID, err)
	}

	var urls []string
	if contentType == storage.Movie {
		urls = s.embeds.Movie(item.ID)
	} else {
		urls = s.embeds.Show(item.ID)
	}
	available, err := s.prober.Probe(ctx, urls...)
	if err != nil {
		log.Printf("[availability] probe for %s %d failed, not caching: %v", contentType, item.ID, err)
		return false
	}

	payload, err := json.Marshal(item)
	if err != nil {
		log.Printf("[availability] failed to encode %s %d: %v", contentType, item.ID, err)
		return false
	}

	err = s.store.Upsert(storage.ContentRecord{
		ExternalID:  item.ID,
		ContentType: contentType,
		Payload:     payload,
		Available:   available,
		LastChecked: now,
	})
	if err != nil {
		log.Printf("[availability] failed to cache %s %d: %v", contentType, item.ID, err)
		return false
	}
	return available
}

// CheckAndUpdateEpisodeAvailability is the episode-level counterpart of
// CheckAndCacheAvailability. A show that is not cached yet is checked on its
// own first; the season and episode entries are created when missing and a
// known episode is updated in place.
func (s *Service) CheckAndUpdateEpisodeAvailability(ctx context.Context, showID int64, season, episode int) bool {
	if showID <= 0 || season < 0 || episode < 1 {
		return false
	}
	key := fmt.Sprintf("episode:%d:%d:%d", showID, season, episode)
	v, _, _ := s.probes.Do(key, func() (any, error) {
		return s.checkEpisode(context.WithoutCancel(ctx), showID, season, episode), nil
	})
	return v.(bool)
}

func (s *Service) checkEpisode(ctx context.Context, showID int64, season, episode int) bool {
	now := s.now()

	cached, err := s.store.GetEpisode(showID, season, episode)
	switch {
	case err == nil && now.Sub(cached.LastChecked) < s.opts.Freshness:
		return cached.Available
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		log.Printf("[availability] cache lookup for episode %d/%d/%d failed: %v", showID, season, episode, err)
	}

	available, err := s.prober.Probe(ctx, s.embeds.Episode(showID, season, episode)...)
	if err != nil {
		log.Printf("[availability] probe for episode %d/%d/%d failed, not caching: %v", showID, season, episode, err)
		return false
	}

	payload := s.ensureShow(ctx, showID)
	err = s.store.UpsertEpisode(storage.EpisodeUpdate{
		ShowID:        showID,
		SeasonNumber:  season,
		EpisodeNumber: episode,
		Available:     available,
		LastChecked:   now,
		ShowPayload:   payload,
	})
	if err != nil {
		log.Printf("[availability] failed to cache episode %d/%d/%d: %v", showID, season, episode, err)
		return false
	}
	return available
}

// ensureShow caches a show that is not known yet with its own probe. The
// returned payload is only used when that probe could not store a record.
func (s *Service) ensureShow(ctx context.Context, showID int64) json.RawMessage {
	if _, err := s.store.GetByExternalIDAndType(storage.TVShow, showID); err == nil {
		return nil
	}

	show := tmdb.Title{ID: showID}
	if details, err := s.catalog.Details(ctx, tmdb.TV, showID); err != nil {
		log.Printf("[availability] no details for show %d: %v", showID, err)
	} else {
		show = *details
	}
	s.CheckAndCacheAvailability(ctx, show, storage.TVShow)

	payload, err := json.Marshal(show)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"id":%d}`, showID))
	}
	return payload
}

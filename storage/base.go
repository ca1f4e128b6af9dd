package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ContentType says whether a record is a movie or a TV show
type ContentType string

const (
	Movie  ContentType = "movie"
	TVShow ContentType = "tvshow"
)

// Valid reports whether t is a known content type
func (t ContentType) Valid() bool {
	return t == Movie || t == TVShow
}

// ErrNotFound is returned by point lookups that match nothing
var ErrNotFound = errors.New("record not found")

// EpisodeRecord is the availability of one episode of a show
type EpisodeRecord struct {
	EpisodeNumber int       `json:"episodeNumber"`
	Available     bool      `json:"available"`
	LastChecked   time.Time `json:"lastChecked"`
}

// SeasonRecord is one season of a show
type SeasonRecord struct {
	SeasonNumber int             `json:"seasonNumber"`
	EpisodeCount int             `json:"episodeCount"`
	Name         string          `json:"name,omitempty"`
	AirDate      string          `json:"airDate,omitempty"`
	Episodes     []EpisodeRecord `json:"episodes,omitempty"`
}

// ContentRecord is the cached state of a single title. Records are keyed by
// ExternalID alone; ContentType is informational.
type ContentRecord struct {
	ExternalID  int64           `json:"externalId"`
	ContentType ContentType     `json:"contentType"`
	Payload     json.RawMessage `json:"payload"`
	Available   bool            `json:"available"`
	LastChecked time.Time       `json:"lastChecked"`
	Seasons     []SeasonRecord  `json:"seasons,omitempty"`
}

// Decode unmarshals the stored catalog payload into v
func (r ContentRecord) Decode(v any) error {
	if len(r.Payload) == 0 {
		return fmt.Errorf("record %d has no payload", r.ExternalID)
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload of %d: %w", r.ExternalID, err)
	}
	return nil
}

// Fresh reports whether the record was checked less than ttl before now
func (r ContentRecord) Fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(r.LastChecked) < ttl
}

// SeasonUpdate is one entry of a bulk season write
type SeasonUpdate struct {
	ExternalID int64
	Seasons    []SeasonRecord
}

// EpisodeUpdate sets the availability of one episode. ShowPayload is used
// only when the parent show record does not exist yet, in which case the
// parent is stored as an unchecked, unavailable placeholder.
type EpisodeUpdate struct {
	ShowID        int64
	SeasonNumber  int
	EpisodeNumber int
	Available     bool
	LastChecked   time.Time
	ShowPayload   json.RawMessage
}

// BulkResult is the aggregate outcome of an unordered bulk write
type BulkResult struct {
	Succeeded int
	Failed    int
}

// CategoryPage is one page of a category query
type CategoryPage struct {
	Items      []ContentRecord
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// StorageInterface is the content cache store
type StorageInterface interface {
	Initialize() error
	GetByExternalIDAndType(contentType ContentType, externalID int64) (*ContentRecord, error)
	QueryByCategory(contentType ContentType, category string, page, pageSize int) (*CategoryPage, error)
	Upsert(record ContentRecord) error
	BulkUpsertSeasons(updates []SeasonUpdate) (BulkResult, error)
	DeleteOlderThan(ttl time.Duration) (int64, error)
	LookupAvailability(contentType ContentType, externalIDs []int64) (map[int64]bool, error)
	GetEpisode(showID int64, season, episode int) (*EpisodeRecord, error)
	UpsertEpisode(update EpisodeUpdate) error
	ListIDs(contentType ContentType, availableOnly bool) ([]int64, error)
	Sample(contentType ContentType, limit int) ([]ContentRecord, error)
	GetStats() (map[string]int, error)
	Close() error
}

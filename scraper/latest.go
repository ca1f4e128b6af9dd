package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gocolly/colly"
)

// LatestKind selects one of the provider's "latest" feeds
type LatestKind string

const (
	LatestMovies   LatestKind = "movies"
	LatestTVShows  LatestKind = "tvshows"
	LatestEpisodes LatestKind = "episodes"
)

// LatestItem is one entry of a provider feed. Movies, shows and episodes
// share this shape; fields not used by a feed stay empty.
type LatestItem struct {
	IMDBID       string `json:"imdb_id"`
	TMDBID       string `json:"tmdb_id"`
	Title        string `json:"title,omitempty"`
	ShowTitle    string `json:"show_title,omitempty"`
	Season       string `json:"season,omitempty"`
	Episode      string `json:"episode,omitempty"`
	EmbedURL     string `json:"embed_url"`
	EmbedURLTMDB string `json:"embed_url_tmdb,omitempty"`
	Quality      string `json:"quality,omitempty"`
	ReleasedDate string `json:"released_date,omitempty"`
}

// LatestPage is one page of a provider feed
type LatestPage struct {
	Result []LatestItem `json:"result"`
	Pages  int          `json:"pages"`
}

// FeedReader reads the provider's latest feeds
type FeedReader struct {
	baseURL string
	timeout time.Duration
}

// NewFeedReader creates a feed reader for the provider at embeds.BaseURL
func NewFeedReader(embeds EmbedURLs, timeout time.Duration) *FeedReader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FeedReader{baseURL: embeds.BaseURL, timeout: timeout}
}

// Latest fetches one page of a feed. Failures yield an empty page.
func (f *FeedReader) Latest(ctx context.Context, kind LatestKind, page int) LatestPage {
	if page < 1 {
		page = 1
	}
	url := fmt.Sprintf("%s/%s/latest/page-%d.json", f.baseURL, kind, page)
	out := LatestPage{Result: []LatestItem{}}
	if ctx.Err() != nil {
		return out
	}

	c := colly.NewCollector(colly.UserAgent(userAgent), colly.AllowURLRevisit())
	c.SetRequestTimeout(f.timeout)

	c.OnResponse(func(r *colly.Response) {
		var parsed LatestPage
		if err := json.Unmarshal(r.Body, &parsed); err != nil {
			log.Printf("[probe] failed to parse %s: %v", url, err)
			return
		}
		if parsed.Result == nil {
			parsed.Result = []LatestItem{}
		}
		out = parsed
	})

	if err := c.Visit(url); err != nil {
		log.Printf("[probe] error fetching %s: %v", url, err)
	}
	return out
}

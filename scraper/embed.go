package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// EmbedURLs builds embed page URLs for the configured provider host. Every
// builder returns the path-style variant first and the query-style one second.
type EmbedURLs struct {
	BaseURL string
}

// NewEmbedURLs creates a URL builder for baseURL
func NewEmbedURLs(baseURL string) EmbedURLs {
	return EmbedURLs{BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

// Movie returns the embed URL variants of a movie
func (e EmbedURLs) Movie(tmdbID int64) []string {
	id := strconv.FormatInt(tmdbID, 10)
	return []string{
		fmt.Sprintf("%s/embed/movie/%s", e.BaseURL, id),
		e.query("movie", url.Values{"tmdb": {id}}),
	}
}

// Show returns the embed URL variants of a whole TV show
func (e EmbedURLs) Show(tmdbID int64) []string {
	id := strconv.FormatInt(tmdbID, 10)
	return []string{
		fmt.Sprintf("%s/embed/tv/%s", e.BaseURL, id),
		e.query("tv", url.Values{"tmdb": {id}}),
	}
}

// Episode returns the embed URL variants of a single episode
func (e EmbedURLs) Episode(tmdbID int64, season, episode int) []string {
	id := strconv.FormatInt(tmdbID, 10)
	return []string{
		fmt.Sprintf("%s/embed/tv/%s/%d-%d", e.BaseURL, id, season, episode),
		e.query("tv", url.Values{
			"tmdb":    {id},
			"season":  {strconv.Itoa(season)},
			"episode": {strconv.Itoa(episode)},
		}),
	}
}

// Player returns the URL used by the player iframe for a title or episode.
// A zero season means the title itself.
func (e EmbedURLs) Player(kind string, tmdbID int64, season, episode int) string {
	if kind == "movie" {
		return e.Movie(tmdbID)[0]
	}
	if season > 0 && episode > 0 {
		return e.Episode(tmdbID, season, episode)[0]
	}
	return e.Show(tmdbID)[0]
}

func (e EmbedURLs) query(kind string, params url.Values) string {
	return fmt.Sprintf("%s/embed/%s?%s", e.BaseURL, kind, params.Encode())
}

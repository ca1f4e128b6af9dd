package tmdb

import (
	"errors"
	"fmt"
	"net/http"
)

// MediaType is the TMDB path segment for a kind of title
type MediaType string

const (
	Movie MediaType = "movie"
	TV    MediaType = "tv"
)

// Genre is a TMDB genre reference
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Season is the season summary embedded in TV details
type Season struct {
	ID           int64   `json:"id,omitempty"`
	Name         string  `json:"name,omitempty"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   *string `json:"poster_path,omitempty"`
	SeasonNumber int     `json:"season_number"`
	EpisodeCount int     `json:"episode_count"`
	AirDate      string  `json:"air_date,omitempty"`
}

// Episode is an episode entry of a season response
type Episode struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Overview      string  `json:"overview,omitempty"`
	StillPath     *string `json:"still_path,omitempty"`
	EpisodeNumber int     `json:"episode_number"`
	SeasonNumber  int     `json:"season_number"`
	AirDate       string  `json:"air_date,omitempty"`
	Runtime       int     `json:"runtime,omitempty"`
	VoteAverage   float64 `json:"vote_average,omitempty"`
}

// SeasonDetails is the response of /tv/{id}/season/{n}
type SeasonDetails struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Overview     string    `json:"overview,omitempty"`
	SeasonNumber int       `json:"season_number"`
	AirDate      string    `json:"air_date,omitempty"`
	Episodes     []Episode `json:"episodes"`
}

// Title is a movie or TV show as returned by list and details endpoints.
// Fields that only exist for one kind are omitted from the other's JSON.
type Title struct {
	ID               int64    `json:"id"`
	Title            string   `json:"title,omitempty"`
	Name             string   `json:"name,omitempty"`
	Overview         string   `json:"overview,omitempty"`
	PosterPath       *string  `json:"poster_path,omitempty"`
	BackdropPath     *string  `json:"backdrop_path,omitempty"`
	ReleaseDate      string   `json:"release_date,omitempty"`
	FirstAirDate     string   `json:"first_air_date,omitempty"`
	VoteAverage      float64  `json:"vote_average"`
	VoteCount        int      `json:"vote_count"`
	Popularity       float64  `json:"popularity"`
	OriginalLanguage string   `json:"original_language,omitempty"`
	GenreIDs         []int    `json:"genre_ids,omitempty"`
	Genres           []Genre  `json:"genres,omitempty"`
	Runtime          int      `json:"runtime,omitempty"`
	EpisodeRunTime   []int    `json:"episode_run_time,omitempty"`
	NumberOfSeasons  int      `json:"number_of_seasons,omitempty"`
	NumberOfEpisodes int      `json:"number_of_episodes,omitempty"`
	Seasons          []Season `json:"seasons,omitempty"`
}

// DisplayName returns the movie title or the show name, whichever is set
func (t Title) DisplayName() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// Page is a paginated list response
type Page struct {
	Page         int     `json:"page"`
	Results      []Title `json:"results"`
	TotalPages   int     `json:"total_pages"`
	TotalResults int     `json:"total_results"`
}

// ErrNotConfigured is returned when no API key was provided
var ErrNotConfigured = errors.New("tmdb api key not configured")

// StatusError reports a non-2xx response from the API
type StatusError struct {
	Endpoint   string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tmdb request %s failed: %s", e.Endpoint, e.Status)
}

// IsRateLimited reports whether err is a 429 response
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 response
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

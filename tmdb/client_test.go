package tmdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Options{APIKey: "test-key", BaseURL: srv.URL})
}

func TestPopularSendsKeyAndPage(t *testing.T) {
	var gotPath, gotKey, gotPage, gotLang string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("api_key")
		gotPage = r.URL.Query().Get("page")
		gotLang = r.URL.Query().Get("language")
		json.NewEncoder(w).Encode(Page{
			Page:         2,
			Results:      []Title{{ID: 1, Title: "One", Popularity: 9.5}},
			TotalPages:   7,
			TotalResults: 140,
		})
	})

	page, err := client.Popular(context.Background(), Movie, 2)
	require.NoError(t, err)

	assert.Equal(t, "/movie/popular", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "2", gotPage)
	assert.Equal(t, "en-US", gotLang)
	assert.Equal(t, 7, page.TotalPages)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "One", page.Results[0].DisplayName())
}

func TestDiscoverAndSearchPaths(t *testing.T) {
	var paths []string
	var query string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if q := r.URL.Query().Get("query"); q != "" {
			query = q
		}
		w.Write([]byte(`{"page":1,"results":[],"total_pages":0,"total_results":0}`))
	})

	_, err := client.Discover(context.Background(), TV, 0)
	require.NoError(t, err)
	_, err = client.Search(context.Background(), Movie, "blade runner", 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"/discover/tv", "/search/movie"}, paths)
	assert.Equal(t, "blade runner", query)
}

func TestDetailsIncludesSeasonsForTV(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/42", r.URL.Path)
		assert.Equal(t, "external_ids,content_ratings", r.URL.Query().Get("append_to_response"))
		w.Write([]byte(`{"id":42,"name":"Show","seasons":[{"season_number":0,"episode_count":2},{"season_number":1,"episode_count":10}]}`))
	})

	show, err := client.Details(context.Background(), TV, 42)
	require.NoError(t, err)
	assert.Equal(t, "Show", show.DisplayName())
	require.Len(t, show.Seasons, 2)
	assert.Equal(t, 10, show.Seasons[1].EpisodeCount)
}

func TestStatusErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})

	_, err := client.Details(context.Background(), Movie, 1)
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.False(t, IsNotFound(err))

	status = http.StatusNotFound
	_, err = client.Details(context.Background(), Movie, 1)
	assert.True(t, IsNotFound(err))
}

func TestUnconfiguredClient(t *testing.T) {
	client := NewClient(Options{})
	assert.False(t, client.IsConfigured())
	_, err := client.Popular(context.Background(), Movie, 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestImageURLs(t *testing.T) {
	path := "/abc.jpg"
	assert.Equal(t, "https://image.tmdb.org/t/p/w500/abc.jpg", PosterURL(&path, ""))
	assert.Equal(t, "https://image.tmdb.org/t/p/w1280/abc.jpg", BackdropURL(&path, "w1280"))
	assert.Equal(t, "/static/placeholder-poster.svg", PosterURL(nil, ""))
}

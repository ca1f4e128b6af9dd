package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedURLVariants(t *testing.T) {
	embeds := NewEmbedURLs("https://embed.example/")

	assert.Equal(t, []string{
		"https://embed.example/embed/movie/603",
		"https://embed.example/embed/movie?tmdb=603",
	}, embeds.Movie(603))

	assert.Equal(t, []string{
		"https://embed.example/embed/tv/42/1-3",
		"https://embed.example/embed/tv?episode=3&season=1&tmdb=42",
	}, embeds.Episode(42, 1, 3))

	assert.Equal(t, "https://embed.example/embed/tv/42", embeds.Player("tvshow", 42, 0, 0))
	assert.Equal(t, "https://embed.example/embed/tv/42/2-5", embeds.Player("tvshow", 42, 2, 5))
}

func TestProbeStatusSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/embed/movie/1":
			w.Write([]byte("<html><body>player</body></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	embeds := NewEmbedURLs(srv.URL)
	prober := NewProber(2 * time.Second)

	available, err := prober.Probe(context.Background(), embeds.Movie(1)...)
	require.NoError(t, err)
	assert.True(t, available)

	available, err = prober.Probe(context.Background(), embeds.Movie(2)...)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestProbeFallsBackToQueryStyle(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/embed/tv" && r.URL.Query().Get("tmdb") == "7" {
			w.Write([]byte("ok"))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	prober := NewProber(2 * time.Second)
	available, err := prober.Probe(context.Background(), NewEmbedURLs(srv.URL).Show(7)...)
	require.NoError(t, err)
	assert.True(t, available)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNetworkErrorIsReported(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	prober := NewProber(500 * time.Millisecond)
	available, err := prober.Probe(context.Background(), url+"/embed/movie/1")
	assert.Error(t, err)
	assert.False(t, available)
}

func TestErrorOnlyWhenNoVariantAnswers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	available, err := NewProber(time.Second).Probe(context.Background(), "http://127.0.0.1:1/embed/movie/1", srv.URL+"/embed/movie?tmdb=1")
	require.NoError(t, err)
	assert.True(t, available)
}

func TestCancelledContextStopsVisits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	available, err := NewProber(time.Second).Probe(ctx, srv.URL+"/embed/movie/1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, available)
	assert.Zero(t, hits.Load())
}

func TestLatestFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/episodes/latest/page-2.json", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result":[{"imdb_id":"tt1","tmdb_id":"42","show_title":"Show","season":"1","episode":"3","embed_url":"u"}],"pages":9}`))
	}))
	defer srv.Close()

	reader := NewFeedReader(NewEmbedURLs(srv.URL), time.Second)
	page := reader.Latest(context.Background(), LatestEpisodes, 2)

	assert.Equal(t, 9, page.Pages)
	require.Len(t, page.Result, 1)
	assert.Equal(t, "Show", page.Result[0].ShowTitle)
}

func TestLatestFeedFailureIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	page := NewFeedReader(NewEmbedURLs(srv.URL), time.Second).Latest(context.Background(), LatestMovies, 1)
	assert.Empty(t, page.Result)
	assert.Zero(t, page.Pages)
}

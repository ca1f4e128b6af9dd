package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/config"
	"github.com/nitwit45/stream/scraper"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

type fakeContent struct {
	mu       sync.Mutex
	browsed  []string
	titles   map[storage.ContentType][]tmdb.Title
	items    map[int64]*availability.Content
	search   *tmdb.Page
	episodes []string
	cleanups int
	popular  int
	failList bool
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		titles: map[storage.ContentType][]tmdb.Title{
			storage.Movie: {
				{ID: 7, Title: "Heat", ReleaseDate: "1995-12-15", Popularity: 50, VoteAverage: 8.3},
				{ID: 8, Title: "Ronin", ReleaseDate: "1998-09-25", Popularity: 30},
			},
			storage.TVShow: {
				{ID: 5, Name: "The Wire", FirstAirDate: "2002-06-02", Popularity: 40},
			},
		},
		items: map[int64]*availability.Content{
			7: {Title: tmdb.Title{ID: 7, Title: "Heat", Overview: "A heist."}, Available: true},
			5: {Title: tmdb.Title{ID: 5, Name: "The Wire", Seasons: []tmdb.Season{{SeasonNumber: 1, EpisodeCount: 13}}}, Available: true},
		},
		search: &tmdb.Page{Page: 1, TotalPages: 1, TotalResults: 1, Results: []tmdb.Title{{ID: 7, Title: "Heat"}}},
	}
}

func (f *fakeContent) Browse(contentType storage.ContentType, category string, page, pageSize int) (*storage.CategoryPage, error) {
	f.mu.Lock()
	f.browsed = append(f.browsed, fmt.Sprintf("%s:%s:%d:%d", contentType, category, page, pageSize))
	f.mu.Unlock()
	if f.failList {
		return nil, fmt.Errorf("database is locked")
	}

	result := &storage.CategoryPage{Page: page, PageSize: pageSize, TotalPages: 3}
	for _, title := range f.titles[contentType] {
		payload, _ := json.Marshal(title)
		result.Items = append(result.Items, storage.ContentRecord{ExternalID: title.ID, ContentType: contentType, Payload: payload, Available: true})
	}
	result.Total = len(result.Items)
	return result, nil
}

func (f *fakeContent) GetContent(ctx context.Context, contentType storage.ContentType, id int64) (*availability.Content, error) {
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakeContent) Search(ctx context.Context, contentType storage.ContentType, query string, page int) (*tmdb.Page, error) {
	return f.search, nil
}

func (f *fakeContent) CheckAndUpdateEpisodeAvailability(ctx context.Context, showID int64, season, episode int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes = append(f.episodes, fmt.Sprintf("%d:%d:%d", showID, season, episode))
	return true
}

func (f *fakeContent) UpdatePopularContent(ctx context.Context) (availability.Summary, error) {
	f.popular++
	return availability.Summary{Operation: "popular", Checked: 40, Available: 12}, nil
}

func (f *fakeContent) CleanupOldContent(ctx context.Context) (availability.Summary, error) {
	f.cleanups++
	return availability.Summary{Operation: "cleanup", Deleted: 2}, nil
}

type fakeStats map[string]int

func (f fakeStats) GetStats() (map[string]int, error) { return f, nil }

type fakeSeasons struct{}

func (fakeSeasons) Season(ctx context.Context, showID int64, season int) (*tmdb.SeasonDetails, error) {
	return &tmdb.SeasonDetails{SeasonNumber: season, Episodes: []tmdb.Episode{
		{EpisodeNumber: 1, Name: "The Target"},
		{EpisodeNumber: 2, Name: "The Detail"},
		{EpisodeNumber: 3, Name: "The Buys"},
	}}, nil
}

type fakeLatest struct{}

func (fakeLatest) Latest(ctx context.Context, kind scraper.LatestKind, page int) scraper.LatestPage {
	return scraper.LatestPage{Pages: 2, Result: []scraper.LatestItem{
		{TMDBID: "1399", ShowTitle: "Game of Thrones", Season: "1", Episode: "1", EmbedURL: "https://embed.example/tv/1399/1-1"},
	}}
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeContent) {
	t.Helper()
	content := newFakeContent()
	stats := fakeStats{"total": 1234, "movies": 1000, "tvshows": 234, "available_movies": 900, "available_tvshows": 200, "seasons": 50, "episodes": 700}
	s, err := NewServer(content, stats, fakeSeasons{}, fakeLatest{}, scraper.NewEmbedURLs("https://embed.example"), opts)
	require.NoError(t, err)
	return s, content
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, h, httptest.NewRequest(http.MethodGet, target, nil))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestListUsesDefaults(t *testing.T) {
	s, content := newTestServer(t, Options{})
	h := s.Handler()

	rec := get(t, h, "/api/movies")
	require.Equal(t, http.StatusOK, rec.Code)

	var body listResponse
	decode(t, rec, &body)
	assert.Len(t, body.Content, 2)
	assert.Equal(t, "Heat", body.Content[0].Title)
	assert.Equal(t, 2, body.Total)
	assert.Equal(t, 3, body.TotalPages)
	assert.Equal(t, 1, body.CurrentPage)
	assert.Equal(t, []string{"movie:popular:1:20"}, content.browsed)
}

func TestListParsesAndClampsParams(t *testing.T) {
	s, content := newTestServer(t, Options{})
	h := s.Handler()

	require.Equal(t, http.StatusOK, get(t, h, "/api/tv?category=top_rated&page=2&limit=500").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/api/tv?page=abc&limit=-1").Code)
	assert.Equal(t, []string{"tvshow:top_rated:2:100", "tvshow:popular:1:20"}, content.browsed)
}

func TestListFailureIsServerError(t *testing.T) {
	s, content := newTestServer(t, Options{})
	content.failList = true

	rec := get(t, s.Handler(), "/api/movies")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch movies"}`, rec.Body.String())
}

func TestGetByID(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/movies/abc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/movies/999").Code)

	rec := get(t, h, "/api/movies/7")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "Heat", body["title"])
	assert.Equal(t, true, body["available"])

	rec = get(t, h, "/api/tv/5")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &body)
	assert.Equal(t, "The Wire", body["name"])
}

func TestSearch(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	rec := get(t, h, "/api/search/movies")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Query parameter is required"}`, rec.Body.String())

	rec = get(t, h, "/api/search/tv?query=heat")
	require.Equal(t, http.StatusOK, rec.Code)
	var body listResponse
	decode(t, rec, &body)
	assert.Len(t, body.Content, 1)
	assert.Equal(t, 1, body.Total)
}

func TestEpisodeCheck(t *testing.T) {
	s, content := newTestServer(t, Options{})
	h := s.Handler()

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/tv/episodes", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return do(t, h, req)
	}

	rec := post(`{"tvId":"42","seasonNumber":1,"episodeNumber":3}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"available":true}`, rec.Body.String())
	assert.Equal(t, []string{"42:1:3"}, content.episodes)

	assert.Equal(t, http.StatusBadRequest, post(`{"tvId":42,"seasonNumber":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{"tvId":"x","seasonNumber":1,"episodeNumber":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)
	assert.Len(t, content.episodes, 1)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/tv/episodes").Code, "GET falls through to the by-id route")
}

func TestUpdateCacheRequiresSecret(t *testing.T) {
	s, content := newTestServer(t, Options{CronSecret: "s3cret"})
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/api/cron/update-cache").Code)
	assert.Zero(t, content.popular)

	req := httptest.NewRequest(http.MethodGet, "/api/cron/update-cache", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"deleted":2,"checked":40,"available":12}`, rec.Body.String())
	assert.Equal(t, 1, content.cleanups)
	assert.Equal(t, 1, content.popular)
}

func TestAPIRateLimit(t *testing.T) {
	s, _ := newTestServer(t, Options{APIRateLimit: 1})
	h := s.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/api/movies").Code)
	rec := get(t, h, "/api/movies")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	spoofed := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	spoofed.Header.Set("X-Forwarded-For", "198.51.100.7")
	spoofed.Header.Set("X-Real-IP", "198.51.100.8")
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, spoofed).Code, "forwarding headers from untrusted peers are ignored")

	other := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	other.RemoteAddr = "203.0.113.9:4000"
	assert.Equal(t, http.StatusOK, do(t, h, other).Code)

	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code, "non-API routes are not limited")
}

func TestAPIRateLimitBehindTrustedProxy(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	require.NoError(t, err)
	s, _ := newTestServer(t, Options{APIRateLimit: 1, TrustedProxies: proxies})
	h := s.Handler()

	fromProxy := func(client string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
		req.RemoteAddr = "10.1.2.3:5555"
		req.Header.Set("X-Forwarded-For", client+", 10.1.2.3")
		return req
	}
	assert.Equal(t, http.StatusOK, do(t, h, fromProxy("198.51.100.7")).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, fromProxy("198.51.100.7")).Code)
	assert.Equal(t, http.StatusOK, do(t, h, fromProxy("198.51.100.8")).Code)

	realIP := httptest.NewRequest(http.MethodGet, "/api/movies", nil)
	realIP.Header.Set("X-Real-IP", "198.51.100.9")
	assert.Equal(t, http.StatusOK, do(t, h, realIP).Code, "single trusted address")

	_, err = ParseTrustedProxies([]string{"not-an-ip"})
	assert.Error(t, err)
}

func TestCORSAndNotFound(t *testing.T) {
	s, _ := newTestServer(t, Options{})
	h := s.Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodOptions, "/api/movies", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = get(t, h, "/api/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())

	rec = get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not found")

	rec = get(t, h, "/health")
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPages(t *testing.T) {
	s, content := newTestServer(t, Options{})
	h := s.Handler()

	rec := get(t, h, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Heat")
	assert.Contains(t, rec.Body.String(), "The Wire")

	rec = get(t, h, "/movies?category=latest&page=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Page 2 of 3")
	assert.Contains(t, content.browsed, "movie:latest:2:20")

	rec = get(t, h, "/movie/7")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://embed.example/embed/movie/7")
	assert.Contains(t, rec.Body.String(), "/static/placeholder-poster.svg")

	assert.Equal(t, http.StatusNotFound, get(t, h, "/movie/999").Code)

	rec = get(t, h, "/tv/5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/tv/5/season/1/episode/1")

	rec = get(t, h, "/tv/5/season/1/episode/2")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "The Detail")
	assert.Contains(t, body, "/tv/5/season/1/episode/1")
	assert.Contains(t, body, "/tv/5/season/1/episode/3")
	assert.Contains(t, body, "https://embed.example/embed/tv/5/1-2")
	assert.Equal(t, []string{"5:1:2"}, content.episodes)

	rec = get(t, h, "/search?q=heat&type=tv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Heat")

	assert.Equal(t, http.StatusOK, get(t, h, "/static/style.css").Code)
}

func TestAdminLoginFlow(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	s, _ := newTestServer(t, Options{AdminUsername: "admin", AdminPasswordHash: hash})
	h := s.Handler()

	rec := get(t, h, "/admin/dashboard")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/login", rec.Header().Get("Location"))

	login := func(user, pass string) *httptest.ResponseRecorder {
		form := url.Values{"username": {user}, "password": {pass}}
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return do(t, h, req)
	}

	rec = login("admin", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")

	rec = login("admin", "hunter2")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	session := cookies[0]

	withSession := func(method, target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, nil)
		req.AddCookie(session)
		return do(t, h, req)
	}

	rec = withSession(http.MethodGet, "/admin/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "1,234")

	rec = withSession(http.MethodGet, "/admin/episodes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Game of Thrones")
	assert.Contains(t, rec.Body.String(), "Page 1 of 2")

	rec = withSession(http.MethodPost, "/admin/logout")
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec = withSession(http.MethodGet, "/admin/dashboard")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestAdminLoginDisabledWithoutPassword(t *testing.T) {
	s, _ := newTestServer(t, Options{AdminUsername: "admin"})
	assert.False(t, s.checkCredentials("admin", ""))
}

func TestAdminPasswordHash(t *testing.T) {
	hash, err := AdminPasswordHash(config.Admin{Password: "hunter2"})
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword(hash, []byte("hunter2")))

	existing, err := bcrypt.GenerateFromPassword([]byte("other"), bcrypt.MinCost)
	require.NoError(t, err)
	hash, err = AdminPasswordHash(config.Admin{Password: "ignored", PasswordHash: string(existing)})
	require.NoError(t, err)
	assert.Equal(t, existing, hash)

	_, err = AdminPasswordHash(config.Admin{PasswordHash: "not-a-hash"})
	assert.Error(t, err)

	hash, err = AdminPasswordHash(config.Admin{})
	require.NoError(t, err)
	assert.Nil(t, hash)
}

func TestNewPager(t *testing.T) {
	p := newPager("/movies?category=popular&", 2, 3)
	assert.Equal(t, "/movies?category=popular&page=1", p.Prev)
	assert.Equal(t, "/movies?category=popular&page=3", p.Next)

	p = newPager("/tv?", 1, 1)
	assert.Empty(t, p.Prev)
	assert.Empty(t, p.Next)
}

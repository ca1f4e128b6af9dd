// Package server exposes the content cache over HTTP: a JSON API, server
// rendered pages and a small admin panel.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/scraper"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

// ContentService is the part of the availability pipeline the server uses
type ContentService interface {
	Browse(contentType storage.ContentType, category string, page, pageSize int) (*storage.CategoryPage, error)
	GetContent(ctx context.Context, contentType storage.ContentType, id int64) (*availability.Content, error)
	Search(ctx context.Context, contentType storage.ContentType, query string, page int) (*tmdb.Page, error)
	CheckAndUpdateEpisodeAvailability(ctx context.Context, showID int64, season, episode int) bool
	UpdatePopularContent(ctx context.Context) (availability.Summary, error)
	CleanupOldContent(ctx context.Context) (availability.Summary, error)
}

// StatsStore reports cache counters for the admin dashboard
type StatsStore interface {
	GetStats() (map[string]int, error)
}

// SeasonFetcher loads the episode list of a season
type SeasonFetcher interface {
	Season(ctx context.Context, showID int64, season int) (*tmdb.SeasonDetails, error)
}

// LatestReader reads the embed provider's latest feeds
type LatestReader interface {
	Latest(ctx context.Context, kind scraper.LatestKind, page int) scraper.LatestPage
}

// Options configures the HTTP surface
type Options struct {
	CronSecret string
	// APIRateLimit is the per-client request rate for /api, in requests per
	// second. Zero disables the limit.
	APIRateLimit float64
	// TrustedProxies are the networks whose forwarding headers are believed.
	// Requests from anywhere else are identified by their remote address.
	TrustedProxies    []netip.Prefix
	AdminUsername     string
	AdminPasswordHash []byte
	SessionTTL        time.Duration
}

// Server serves the API, pages and admin panel
type Server struct {
	content  ContentService
	stats    StatsStore
	seasons  SeasonFetcher
	latest   LatestReader
	embeds   scraper.EmbedURLs
	opts     Options
	sessions *SessionStore
	limiter  *IPRateLimiter
	pages    pageSet
}

// NewServer creates a server. Templates are parsed here so a broken
// template fails at startup.
func NewServer(content ContentService, stats StatsStore, seasons SeasonFetcher, latest LatestReader, embeds scraper.EmbedURLs, opts Options) (*Server, error) {
	pages, err := loadPages()
	if err != nil {
		return nil, err
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}

	s := &Server{
		content:  content,
		stats:    stats,
		seasons:  seasons,
		latest:   latest,
		embeds:   embeds,
		opts:     opts,
		sessions: NewSessionStore(opts.SessionTTL),
		pages:    pages,
	}
	if opts.APIRateLimit > 0 {
		s.limiter = NewIPRateLimiter(opts.APIRateLimit)
	}
	if len(opts.AdminPasswordHash) == 0 {
		log.Println("[http] admin password not configured, admin login disabled")
	}
	return s, nil
}

// Handler builds the routing tree
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/movies", s.handleList(storage.Movie)).Methods(http.MethodGet)
	api.HandleFunc("/tv", s.handleList(storage.TVShow)).Methods(http.MethodGet)
	api.HandleFunc("/movies/{id}", s.handleGet(storage.Movie)).Methods(http.MethodGet)
	api.HandleFunc("/tv/{id}", s.handleGet(storage.TVShow)).Methods(http.MethodGet)
	api.HandleFunc("/search/movies", s.handleSearch(storage.Movie)).Methods(http.MethodGet)
	api.HandleFunc("/search/tv", s.handleSearch(storage.TVShow)).Methods(http.MethodGet)
	api.HandleFunc("/tv/episodes", s.handleEpisode).Methods(http.MethodPost)
	api.HandleFunc("/cron/update-cache", s.handleUpdateCache).Methods(http.MethodGet)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(staticHandler())

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/movies", s.handleBrowse(storage.Movie)).Methods(http.MethodGet)
	r.HandleFunc("/tv", s.handleBrowse(storage.TVShow)).Methods(http.MethodGet)
	r.HandleFunc("/search", s.handleSearchPage).Methods(http.MethodGet)
	r.HandleFunc("/movie/{id}", s.handleMoviePage).Methods(http.MethodGet)
	r.HandleFunc("/tv/{id}", s.handleShowPage).Methods(http.MethodGet)
	r.HandleFunc("/tv/{id}/season/{season}/episode/{episode}", s.handleEpisodePage).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("", s.redirectTo("/admin/dashboard")).Methods(http.MethodGet)
	admin.HandleFunc("/", s.redirectTo("/admin/dashboard")).Methods(http.MethodGet)
	admin.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet)
	admin.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	admin.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet, http.MethodPost)
	admin.Handle("/dashboard", s.requireAdmin(http.HandlerFunc(s.handleDashboard))).Methods(http.MethodGet)
	admin.Handle("/movies", s.requireAdmin(s.handleLatest(scraper.LatestMovies))).Methods(http.MethodGet)
	admin.Handle("/tvshows", s.requireAdmin(s.handleLatest(scraper.LatestTVShows))).Methods(http.MethodGet)
	admin.Handle("/episodes", s.requireAdmin(s.handleLatest(scraper.LatestEpisodes))).Methods(http.MethodGet)

	var h http.Handler = r
	h = s.apiMiddleware(h)
	return logMiddleware(h)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[http] listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	log.Println("[http] shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if isAPI(r) {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	s.render(w, http.StatusNotFound, "not_found", notFoundView{Path: r.URL.Path})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) redirectTo(target string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

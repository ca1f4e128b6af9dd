package server

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/scraper"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pageNames = []string{
	"home", "browse", "search", "title", "episode", "not_found",
	"admin_login", "admin_dashboard", "admin_latest",
}

type pageSet map[string]*template.Template

var templateFuncs = template.FuncMap{
	"poster":   func(p *string) string { return tmdb.PosterURL(p, "w342") },
	"backdrop": func(p *string) string { return tmdb.BackdropURL(p, "w1280") },
	"still":    func(p *string) string { return tmdb.BackdropURL(p, "w300") },
	"year":     year,
	"rating":   func(v float64) string { return strconv.FormatFloat(v, 'f', 1, 64) },
	"comma":    func(n int) string { return humanize.Comma(int64(n)) },
}

func loadPages() (pageSet, error) {
	base, err := template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	pages := make(pageSet, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.Must(base.Clone()).ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse page %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}

func staticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		http.Error(w, "unknown page", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.Printf("[http] failed to render %s: %v", name, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// Pager holds previous/next links of a paginated page
type Pager struct {
	Page       int
	TotalPages int
	Prev       string
	Next       string
}

// newPager builds links by appending page=N to base, which must end in ? or &
func newPager(base string, page, totalPages int) Pager {
	p := Pager{Page: page, TotalPages: totalPages}
	if page > 1 {
		p.Prev = base + "page=" + strconv.Itoa(page-1)
	}
	if page < totalPages {
		p.Next = base + "page=" + strconv.Itoa(page+1)
	}
	return p
}

type notFoundView struct {
	Path string
}

type homeView struct {
	Movies []tmdb.Title
	Shows  []tmdb.Title
}

type browseView struct {
	Heading    string
	Kind       string
	Category   string
	Categories []string
	Titles     []tmdb.Title
	Pager      Pager
}

type searchView struct {
	Query  string
	Type   string
	Titles []tmdb.Title
	Pager  Pager
}

type titleView struct {
	Kind    string
	Content *availability.Content
	Player  string
}

type episodeView struct {
	Show      *availability.Content
	Season    int
	Episode   int
	Current   *tmdb.Episode
	Episodes  []tmdb.Episode
	Available bool
	Player    string
	Prev      string
	Next      string
}

type loginView struct {
	Username string
	Error    string
}

type dashboardView struct {
	Username string
	Stats    map[string]int
	Error    string
}

type latestView struct {
	Kind  scraper.LatestKind
	Items []scraper.LatestItem
	Pager Pager
}

var browseCategories = []string{"popular", "latest", "top_rated"}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	view := homeView{}
	if movies, err := s.content.Browse(storage.Movie, "popular", 1, 12); err == nil {
		view.Movies = availability.Titles(movies)
	}
	if shows, err := s.content.Browse(storage.TVShow, "popular", 1, 12); err == nil {
		view.Shows = availability.Titles(shows)
	}
	s.render(w, http.StatusOK, "home", view)
}

func (s *Server) handleBrowse(contentType storage.ContentType) http.HandlerFunc {
	kind, heading := "movie", "Movies"
	if contentType == storage.TVShow {
		kind, heading = "tv", "TV Shows"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		category := r.URL.Query().Get("category")
		if category == "" {
			category = "popular"
		}
		page := intParam(r.URL.Query().Get("page"), 1)

		view := browseView{Heading: heading, Kind: kind, Category: category, Categories: browseCategories}
		result, err := s.content.Browse(contentType, category, page, defaultPageSize)
		if err == nil {
			view.Titles = availability.Titles(result)
			base := fmt.Sprintf("%s?category=%s&", r.URL.Path, url.QueryEscape(category))
			view.Pager = newPager(base, page, result.TotalPages)
		}
		s.render(w, http.StatusOK, "browse", view)
	}
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	kind := r.URL.Query().Get("type")
	contentType := storage.Movie
	if kind == "tv" {
		contentType = storage.TVShow
	} else {
		kind = "movie"
	}
	page := intParam(r.URL.Query().Get("page"), 1)

	view := searchView{Query: query, Type: kind}
	if query != "" {
		if result, err := s.content.Search(r.Context(), contentType, query, page); err == nil {
			view.Titles = result.Results
			base := fmt.Sprintf("/search?q=%s&type=%s&", url.QueryEscape(query), kind)
			view.Pager = newPager(base, page, result.TotalPages)
		} else {
			log.Printf("[http] search page failed for %q: %v", query, err)
		}
	}
	s.render(w, http.StatusOK, "search", view)
}

func (s *Server) handleMoviePage(w http.ResponseWriter, r *http.Request) {
	s.titlePage(w, r, storage.Movie)
}

func (s *Server) handleShowPage(w http.ResponseWriter, r *http.Request) {
	s.titlePage(w, r, storage.TVShow)
}

func (s *Server) titlePage(w http.ResponseWriter, r *http.Request, contentType storage.ContentType) {
	content, ok := s.loadContent(w, r, contentType)
	if !ok {
		return
	}

	view := titleView{Kind: string(contentType), Content: content}
	if content.Available {
		view.Player = s.embeds.Player(string(contentType), content.ID, 0, 0)
	}
	s.render(w, http.StatusOK, "title", view)
}

func (s *Server) handleEpisodePage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	season, errSeason := strconv.Atoi(vars["season"])
	episode, errEpisode := strconv.Atoi(vars["episode"])
	if errSeason != nil || errEpisode != nil || season < 0 || episode < 1 {
		s.handleNotFound(w, r)
		return
	}

	show, ok := s.loadContent(w, r, storage.TVShow)
	if !ok {
		return
	}

	view := episodeView{Show: show, Season: season, Episode: episode}
	details, err := s.seasons.Season(r.Context(), show.ID, season)
	if err != nil {
		log.Printf("[http] failed to load season %d of %d: %v", season, show.ID, err)
	} else {
		view.Episodes = details.Episodes
		for i := range details.Episodes {
			if details.Episodes[i].EpisodeNumber == episode {
				view.Current = &details.Episodes[i]
			}
		}
		base := fmt.Sprintf("/tv/%d/season/%d/episode/", show.ID, season)
		if episode > 1 {
			view.Prev = base + strconv.Itoa(episode-1)
		}
		if episode < len(details.Episodes) {
			view.Next = base + strconv.Itoa(episode+1)
		}
	}

	view.Available = s.content.CheckAndUpdateEpisodeAvailability(r.Context(), show.ID, season, episode)
	if view.Available {
		view.Player = s.embeds.Player("tv", show.ID, season, episode)
	}
	s.render(w, http.StatusOK, "episode", view)
}

func (s *Server) loadContent(w http.ResponseWriter, r *http.Request, contentType storage.ContentType) (*availability.Content, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		s.handleNotFound(w, r)
		return nil, false
	}

	content, err := s.content.GetContent(r.Context(), contentType, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("[http] failed to load %s %d: %v", contentType, id, err)
		}
		s.handleNotFound(w, r)
		return nil, false
	}
	return content, true
}

func year(date string) string {
	if len(date) >= 4 {
		return date[:4]
	}
	return ""
}

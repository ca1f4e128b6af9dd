package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/nitwit45/stream/availability"
	"github.com/nitwit45/stream/storage"
	"github.com/nitwit45/stream/tmdb"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// listResponse is the shape of every paginated API response
type listResponse struct {
	Content     []tmdb.Title `json:"content"`
	Total       int          `json:"total"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
}

func (s *Server) handleList(contentType storage.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		category := q.Get("category")
		if category == "" {
			category = "popular"
		}
		page := intParam(q.Get("page"), 1)
		limit := min(intParam(q.Get("limit"), defaultPageSize), maxPageSize)

		result, err := s.content.Browse(contentType, category, page, limit)
		if err != nil {
			log.Printf("[http] error fetching %s list: %v", contentType, err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch %s", plural(contentType)))
			return
		}

		writeJSON(w, http.StatusOK, listResponse{
			Content:     availability.Titles(result),
			Total:       result.Total,
			TotalPages:  result.TotalPages,
			CurrentPage: result.Page,
		})
	}
}

func (s *Server) handleGet(contentType storage.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s ID", singular(contentType)))
			return
		}

		content, err := s.content.GetContent(r.Context(), contentType, id)
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Content not found")
			return
		}
		if err != nil {
			log.Printf("[http] error fetching %s %d: %v", contentType, id, err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to fetch %s details", singular(contentType)))
			return
		}
		writeJSON(w, http.StatusOK, content)
	}
}

func (s *Server) handleSearch(contentType storage.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := strings.TrimSpace(r.URL.Query().Get("query"))
		if query == "" {
			writeError(w, http.StatusBadRequest, "Query parameter is required")
			return
		}
		page := intParam(r.URL.Query().Get("page"), 1)

		result, err := s.content.Search(r.Context(), contentType, query, page)
		if err != nil {
			log.Printf("[http] error searching %s for %q: %v", contentType, query, err)
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to search %s", plural(contentType)))
			return
		}

		writeJSON(w, http.StatusOK, listResponse{
			Content:     result.Results,
			Total:       result.TotalResults,
			TotalPages:  result.TotalPages,
			CurrentPage: result.Page,
		})
	}
}

// flexInt accepts a JSON number or a numeric string
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if text == "" || text == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return fmt.Errorf("invalid number %s", data)
	}
	*f = flexInt(n)
	return nil
}

type episodeRequest struct {
	TVID          flexInt `json:"tvId"`
	SeasonNumber  flexInt `json:"seasonNumber"`
	EpisodeNumber flexInt `json:"episodeNumber"`
}

func (s *Server) handleEpisode(w http.ResponseWriter, r *http.Request) {
	var req episodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TVID <= 0 || req.SeasonNumber <= 0 || req.EpisodeNumber <= 0 {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	available := s.content.CheckAndUpdateEpisodeAvailability(r.Context(),
		int64(req.TVID), int(req.SeasonNumber), int(req.EpisodeNumber))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true, "available": available})
}

func (s *Server) handleUpdateCache(w http.ResponseWriter, r *http.Request) {
	if s.opts.CronSecret != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.CronSecret {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	cleanup, err := s.content.CleanupOldContent(r.Context())
	if err != nil {
		log.Printf("[http] error updating cache: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update cache")
		return
	}
	popular, err := s.content.UpdatePopularContent(r.Context())
	if err != nil {
		log.Printf("[http] error updating cache: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to update cache")
		return
	}

	log.Printf("[http] cache updated: %s; %s", cleanup, popular)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"deleted":   cleanup.Deleted,
		"checked":   popular.Checked,
		"available": popular.Available,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[http] failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func intParam(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func singular(contentType storage.ContentType) string {
	if contentType == storage.Movie {
		return "movie"
	}
	return "TV show"
}

func plural(contentType storage.ContentType) string {
	return singular(contentType) + "s"
}

package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultBaseURL  = "https://api.themoviedb.org/3"
	defaultLanguage = "en-US"
	imageBaseURL    = "https://image.tmdb.org/t/p"
)

// Options configures a Client
type Options struct {
	APIKey            string
	BaseURL           string
	Language          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is a thin wrapper around the TMDB v3 API
type Client struct {
	apiKey   string
	baseURL  string
	language string
	httpc    *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a TMDB client
func NewClient(opts Options) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	language := strings.TrimSpace(opts.Language)
	if language == "" {
		language = defaultLanguage
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Client{
		apiKey:   strings.TrimSpace(opts.APIKey),
		baseURL:  baseURL,
		language: language,
		httpc:    httpc,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// IsConfigured reports whether an API key is present
func (c *Client) IsConfigured() bool {
	return c != nil && c.apiKey != ""
}

// Popular returns one page of the popular list
func (c *Client) Popular(ctx context.Context, media MediaType, page int) (*Page, error) {
	var out Page
	err := c.get(ctx, []string{string(media), "popular"}, url.Values{"page": {pageParam(page)}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Discover returns one page of the discovery endpoint
func (c *Client) Discover(ctx context.Context, media MediaType, page int) (*Page, error) {
	var out Page
	err := c.get(ctx, []string{"discover", string(media)}, url.Values{"page": {pageParam(page)}}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a free-text search
func (c *Client) Search(ctx context.Context, media MediaType, query string, page int) (*Page, error) {
	params := url.Values{
		"query": {query},
		"page":  {pageParam(page)},
	}
	var out Page
	if err := c.get(ctx, []string{"search", string(media)}, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Details fetches the full record of a movie or show. TV details include the
// season list.
func (c *Client) Details(ctx context.Context, media MediaType, id int64) (*Title, error) {
	params := url.Values{}
	if media == TV {
		params.Set("append_to_response", "external_ids,content_ratings")
	}
	var out Title
	if err := c.get(ctx, []string{string(media), strconv.FormatInt(id, 10)}, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Season fetches one season of a show with its episodes
func (c *Client) Season(ctx context.Context, showID int64, season int) (*SeasonDetails, error) {
	var out SeasonDetails
	segments := []string{"tv", strconv.FormatInt(showID, 10), "season", strconv.Itoa(season)}
	if err := c.get(ctx, segments, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, segments []string, params url.Values, v any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	q := req.URL.Query()
	for key, values := range params {
		for _, value := range values {
			q.Add(key, value)
		}
	}
	q.Set("api_key", c.apiKey)
	q.Set("language", c.language)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("tmdb request %s: %w", "/"+strings.Join(segments, "/"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusTooManyRequests {
			log.Printf("[tmdb] rate limited on /%s", strings.Join(segments, "/"))
		}
		return &StatusError{
			Endpoint:   "/" + strings.Join(segments, "/"),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode tmdb response: %w", err)
	}
	return nil
}

func pageParam(page int) string {
	if page < 1 {
		page = 1
	}
	return strconv.Itoa(page)
}

// PosterURL builds a poster image URL, falling back to a local placeholder
func PosterURL(path *string, size string) string {
	return imageURL(path, size, "w500", "/static/placeholder-poster.svg")
}

// BackdropURL builds a backdrop image URL, falling back to a local placeholder
func BackdropURL(path *string, size string) string {
	return imageURL(path, size, "original", "/static/placeholder-backdrop.svg")
}

func imageURL(path *string, size, defaultSize, placeholder string) string {
	if path == nil || strings.TrimSpace(*path) == "" {
		return placeholder
	}
	if size == "" {
		size = defaultSize
	}
	return fmt.Sprintf("%s/%s/%s", imageBaseURL, size, strings.TrimPrefix(strings.TrimSpace(*path), "/"))
}

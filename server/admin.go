package server

import (
	"crypto/subtle"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/crypto/bcrypt"

	"github.com/nitwit45/stream/config"
	"github.com/nitwit45/stream/scraper"
)

const sessionCookie = "stream_admin"

// AdminSession is a logged-in admin
type AdminSession struct {
	Token     string
	Username  string
	ExpiresAt time.Time
}

// SessionStore keeps admin sessions in memory until they expire
type SessionStore struct {
	sessions *expirable.LRU[string, AdminSession]
	ttl      time.Duration
}

// NewSessionStore creates a session store with the given lifetime
func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: expirable.NewLRU[string, AdminSession](256, nil, ttl),
		ttl:      ttl,
	}
}

// Create starts a session for username
func (s *SessionStore) Create(username string) AdminSession {
	session := AdminSession{
		Token:     uuid.NewString(),
		Username:  username,
		ExpiresAt: time.Now().Add(s.ttl),
	}
	s.sessions.Add(session.Token, session)
	return session
}

// Get returns the live session for token
func (s *SessionStore) Get(token string) (AdminSession, bool) {
	if token == "" {
		return AdminSession{}, false
	}
	return s.sessions.Get(token)
}

// Delete ends a session
func (s *SessionStore) Delete(token string) {
	s.sessions.Remove(token)
}

// AdminPasswordHash returns the bcrypt hash admins log in against. A
// configured hash wins over a plain password. Nil means login is disabled.
func AdminPasswordHash(cfg config.Admin) ([]byte, error) {
	if cfg.PasswordHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.PasswordHash)); err != nil {
			return nil, fmt.Errorf("invalid ADMIN_PASSWORD_HASH: %w", err)
		}
		return []byte(cfg.PasswordHash), nil
	}
	if cfg.Password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin password: %w", err)
	}
	return hash, nil
}

func (s *Server) checkCredentials(username, password string) bool {
	if len(s.opts.AdminPasswordHash) == 0 {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.opts.AdminUsername)) == 1
	passOK := bcrypt.CompareHashAndPassword(s.opts.AdminPasswordHash, []byte(password)) == nil
	return userOK && passOK
}

func (s *Server) currentSession(r *http.Request) (AdminSession, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return AdminSession{}, false
	}
	return s.sessions.Get(cookie.Value)
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.currentSession(r); !ok {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.currentSession(r); ok {
		http.Redirect(w, r, "/admin/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "admin_login", loginView{})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.render(w, http.StatusBadRequest, "admin_login", loginView{Error: "Invalid form submission"})
		return
	}
	username := r.PostFormValue("username")
	if !s.checkCredentials(username, r.PostFormValue("password")) {
		log.Printf("[http] failed admin login for %q from %s", username, s.clientIP(r))
		s.render(w, http.StatusUnauthorized, "admin_login", loginView{Username: username, Error: "Invalid username or password"})
		return
	}

	session := s.sessions.Create(username)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/admin",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	log.Printf("[http] admin %q logged in", username)
	http.Redirect(w, r, "/admin/dashboard", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/admin",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	session, _ := s.currentSession(r)
	view := dashboardView{Username: session.Username}

	stats, err := s.stats.GetStats()
	if err != nil {
		log.Printf("[http] error loading stats: %v", err)
		view.Error = "Could not load cache statistics"
	}
	view.Stats = stats
	s.render(w, http.StatusOK, "admin_dashboard", view)
}

func (s *Server) handleLatest(kind scraper.LatestKind) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := intParam(r.URL.Query().Get("page"), 1)
		feed := s.latest.Latest(r.Context(), kind, page)
		s.render(w, http.StatusOK, "admin_latest", latestView{
			Kind:  kind,
			Items: feed.Result,
			Pager: newPager(r.URL.Path+"?", page, feed.Pages),
		})
	})
}

package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"

	"orgcal/internal/calendar"
	"orgcal/internal/config"
	appLog "orgcal/internal/log"
)

// maxWait bounds how long a ?wait=1 request blocks on its fetch generation.
const maxWait = 30 * time.Second

// Options configures a Server.
type Options struct {
	// Engines are served under /api/{mode}/...
	Engines map[calendar.Mode]*calendar.Engine

	BasicAuth *config.BasicAuthConfig

	// Invalidate, if set, drops cached events for a calendar before an
	// explicit refresh refetches it.
	Invalidate func(ctx context.Context, calendarID string) error
}

// Server exposes calendar engines over HTTP.
type Server struct {
	opts   Options
	router *mux.Router
}

// NewServer constructs a new Server.
func NewServer(opts Options) *Server {
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/{mode}").Subrouter()
	api.HandleFunc("/view", s.withEngine(s.handleView)).Methods("GET")
	api.HandleFunc("/navigate", s.withEngine(s.handleNavigate)).Methods("POST")
	api.HandleFunc("/prev", s.withEngine(s.handlePrev)).Methods("POST")
	api.HandleFunc("/next", s.withEngine(s.handleNext)).Methods("POST")
	api.HandleFunc("/refresh", s.withEngine(s.handleRefresh)).Methods("POST")
	api.HandleFunc("/select", s.withEngine(s.handleSelect)).Methods("POST")
	api.HandleFunc("/close", s.withEngine(s.handleClose)).Methods("POST")
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	ba := s.opts.BasicAuth
	if ba == nil {
		return false
	}
	// Empty username or password disables auth.
	return ba.Username != "" && ba.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.opts.BasicAuth.Username
	password := s.opts.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="orgcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type engineHandler func(w http.ResponseWriter, r *http.Request, e *calendar.Engine)

// withEngine resolves {mode} to a configured engine or answers 404.
func (s *Server) withEngine(h engineHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["mode"]
		switch name {
		case "full", "mini", "compact":
		default:
			writeError(w, http.StatusNotFound, "unknown mode "+strconv.Quote(name))
			return
		}
		mode := calendar.ParseMode(name)
		e, ok := s.opts.Engines[mode]
		if !ok || e == nil {
			writeError(w, http.StatusNotFound, "mode "+mode.String()+" is not enabled")
			return
		}
		h(w, r, e)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleView(w http.ResponseWriter, _ *http.Request, e *calendar.Engine) {
	writeJSON(w, http.StatusOK, e.View())
}

// handleNavigate shows another month and/or calendar.
//
// POST /api/{mode}/navigate?month=2024-02&calendar=ID
//   - month:    YYYY-MM (or a full YYYY-MM-DD), defaults to the current one
//   - calendar: primary calendar id, defaults to the current one
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, e *calendar.Engine) {
	q := r.URL.Query()
	month := e.Month()
	if v := q.Get("month"); v != "" {
		m, err := parseMonth(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid month "+strconv.Quote(v))
			return
		}
		month = m
	}

	appLog.Info("api navigate", "mode", e.Mode().String(), "month", month.String(), "calendar", q.Get("calendar"))
	s.respondAfter(w, r, e, e.Navigate(context.Background(), month, q.Get("calendar")))
}

func (s *Server) handlePrev(w http.ResponseWriter, r *http.Request, e *calendar.Engine) {
	s.respondAfter(w, r, e, e.PrevMonth(context.Background()))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request, e *calendar.Engine) {
	s.respondAfter(w, r, e, e.NextMonth(context.Background()))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request, e *calendar.Engine) {
	if s.opts.Invalidate != nil {
		for _, id := range []string{e.CalendarID(), e.HolidayCalendarID()} {
			if id == "" {
				continue
			}
			if err := s.opts.Invalidate(r.Context(), id); err != nil {
				appLog.Error("api refresh: cache invalidation failed", err, "calendar", id)
			}
		}
	}
	s.respondAfter(w, r, e, e.Refresh(context.Background()))
}

// handleSelect clicks a day.
//
// POST /api/{mode}/select?date=2024-02-14
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, e *calendar.Engine) {
	v := r.URL.Query().Get("date")
	d, err := civil.ParseDate(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date "+strconv.Quote(v))
		return
	}
	e.Select(d)
	writeJSON(w, http.StatusOK, e.View())
}

func (s *Server) handleClose(w http.ResponseWriter, _ *http.Request, e *calendar.Engine) {
	if !e.Close() {
		writeError(w, http.StatusConflict, "no overlay to close")
		return
	}
	writeJSON(w, http.StatusOK, e.View())
}

// respondAfter writes the view. With ?wait=1 it first waits for the fetch
// generation to settle, bounded by the request context and maxWait.
func (s *Server) respondAfter(w http.ResponseWriter, r *http.Request, e *calendar.Engine, tk calendar.Ticket) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), maxWait)
		defer cancel()
		if err := tk.Wait(ctx); err != nil {
			appLog.Warn("api: fetch still running", "generation", tk.Generation, "reason", err.Error())
		}
	}
	writeJSON(w, http.StatusOK, e.View())
}

func parseMonth(v string) (civil.Date, error) {
	if d, err := civil.ParseDate(v); err == nil {
		return d, nil
	}
	return civil.ParseDate(v + "-01")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// Package api serves a read-only local status API over the running pipeline.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"exambridge/internal/bank"
	"exambridge/internal/browser"
	"exambridge/internal/intercept"
	"exambridge/internal/journal"
	"exambridge/internal/logging"
	"exambridge/internal/session"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 500
)

// BankSource reports question bank statistics.
type BankSource interface {
	Stats() bank.Stats
}

// SessionSource reports the live interception sessions.
type SessionSource interface {
	Snapshot() []session.Info
	Stats() session.Stats
}

// StatsSource reports interceptor counters.
type StatsSource interface {
	Stats() intercept.Stats
}

// JournalSource lists unmatched questions.
type JournalSource interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
	Count(ctx context.Context) (int, error)
	Stats() journal.Stats
}

// BrowserSource lists exam pages hosted by the browser.
type BrowserSource interface {
	List() []browser.Session
	IsConnected() bool
}

// Sources wires the API to the pipeline. Nil sources produce 503 on their
// endpoints.
type Sources struct {
	Bank        BankSource
	Sessions    SessionSource
	Interceptor StatsSource
	Journal     JournalSource
	Browser     BrowserSource
}

// Server is the status API.
type Server struct {
	src     Sources
	started time.Time
	srv     *http.Server
}

// New builds a server with its routes.
func New(addr string, src Sources) *Server {
	s := &Server{src: src, started: time.Now()}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, requestLogger)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.health)
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/bank", s.bankStats)
		ar.Get("/sessions", s.sessions)
		ar.Get("/stats", s.interceptStats)
		ar.Get("/journal", s.journalEntries)
		ar.Get("/browser", s.browserSessions)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.API("status api listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.src.Bank != nil {
		resp["questions"] = s.src.Bank.Stats().Questions
	}
	if s.src.Browser != nil {
		resp["browser_connected"] = s.src.Browser.IsConnected()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) bankStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Bank == nil {
		unavailable(w, "bank")
		return
	}
	respondJSON(w, http.StatusOK, s.src.Bank.Stats())
}

func (s *Server) sessions(w http.ResponseWriter, r *http.Request) {
	if s.src.Sessions == nil {
		unavailable(w, "sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": s.src.Sessions.Snapshot(),
		"stats":    s.src.Sessions.Stats(),
	})
}

func (s *Server) interceptStats(w http.ResponseWriter, r *http.Request) {
	if s.src.Interceptor == nil {
		unavailable(w, "interceptor")
		return
	}
	respondJSON(w, http.StatusOK, s.src.Interceptor.Stats())
}

func (s *Server) journalEntries(w http.ResponseWriter, r *http.Request) {
	if s.src.Journal == nil {
		unavailable(w, "journal")
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(v, maxJournalLimit)
	}

	entries, err := s.src.Journal.List(r.Context(), limit)
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("journal list: %v", err)
		http.Error(w, "journal error", http.StatusInternalServerError)
		return
	}
	total, err := s.src.Journal.Count(r.Context())
	if err != nil {
		logging.Get(logging.CategoryAPI).Error("journal count: %v", err)
		http.Error(w, "journal error", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"entries": entries,
		"stats":   s.src.Journal.Stats(),
	})
}

func (s *Server) browserSessions(w http.ResponseWriter, r *http.Request) {
	if s.src.Browser == nil {
		unavailable(w, "browser")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"connected": s.src.Browser.IsConnected(),
		"sessions":  s.src.Browser.List(),
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.Get(logging.CategoryAPI).Debug("%s %s %d %s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}

func unavailable(w http.ResponseWriter, what string) {
	http.Error(w, what+" not configured", http.StatusServiceUnavailable)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hazz-dev/servwatch/internal/event"
	"github.com/hazz-dev/servwatch/internal/monitor"
	"github.com/hazz-dev/servwatch/internal/storage"
)

// EventStore defines the journal queries the server needs.
type EventStore interface {
	RecentEvents(ctx context.Context, kind event.Kind, limit int) ([]storage.Event, error)
}

// StatusSource provides the monitor's current view.
type StatusSource interface {
	Snapshot() monitor.Snapshot
}

// Server holds the chi router and its dependencies.
type Server struct {
	status      StatusSource
	store       EventStore
	nextRestart func() time.Time
	router      chi.Router
	logger      *zap.Logger
}

// New creates a new Server and registers all routes. store and nextRestart
// may be nil when the journal or the daily restart are disabled. Pass nil
// logger to discard logs.
func New(status StatusSource, store EventStore, nextRestart func() time.Time, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		status:      status,
		store:       store,
		nextRestart: nextRestart,
		router:      chi.NewRouter(),
		logger:      logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/events", s.handleEvents)
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type statusResponse struct {
	monitor.Snapshot
	NextRestartAt *time.Time `json:"next_restart_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Snapshot: s.status.Snapshot()}
	if s.nextRestart != nil {
		if t := s.nextRestart(); !t.IsZero() {
			resp.NextRestartAt = &t
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

var knownKinds = map[event.Kind]bool{
	event.KindHealth:           true,
	event.KindVersion:          true,
	event.KindRestart:          true,
	event.KindUpdate:           true,
	event.KindScheduledRestart: true,
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	const maxLimit = 1000
	limit := 50

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}

	kind := event.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !knownKinds[kind] {
		writeError(w, http.StatusBadRequest, "invalid kind parameter")
		return
	}

	events, err := s.store.RecentEvents(r.Context(), kind, limit)
	if err != nil {
		s.logger.Error("RecentEvents", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if events == nil {
		events = []storage.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

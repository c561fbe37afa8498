// Package web exposes the calendar service over a JSON HTTP API and a
// websocket change feed.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"condcal/internal/calendar"
	"condcal/internal/config"
	"condcal/internal/ics"
	appLog "condcal/internal/log"
	"condcal/internal/realtime"
	"condcal/internal/schedule"
	"condcal/internal/store"
)

// maxBodyBytes bounds JSON and ICS request bodies.
const maxBodyBytes = 1 << 20

// Server provides the HTTP API for one calendar service.
type Server struct {
	cfg    *config.Config
	cal    *calendar.Service
	hub    *realtime.Hub
	auth   *Auth
	router *mux.Router
}

// NewServer constructs a new Server and registers its routes.
func NewServer(cfg *config.Config, cal *calendar.Service, hub *realtime.Hub, auth *Auth) *Server {
	s := &Server{
		cfg:    cfg,
		cal:    cal,
		hub:    hub,
		auth:   auth,
		router: mux.NewRouter(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware)

	api.HandleFunc("/day/{date}", s.handleDay).Methods(http.MethodGet)
	api.HandleFunc("/day/{date}/ics", s.handleDayICS).Methods(http.MethodGet)

	api.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/import", s.handleImportTasks).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}", s.handleUpdateTask).Methods(http.MethodPut)
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)
	api.HandleFunc("/occurrences", s.handleOccurrences).Methods(http.MethodGet)

	api.HandleFunc("/conditions", s.handleListConditions).Methods(http.MethodGet)
	api.HandleFunc("/conditions", s.handleCreateCondition).Methods(http.MethodPost)
	api.HandleFunc("/conditions/{id}", s.handleRenameCondition).Methods(http.MethodPatch)
	api.HandleFunc("/conditions/{id}", s.handleDeleteCondition).Methods(http.MethodDelete)

	api.HandleFunc("/events", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleCreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/events/{id}", s.handleUpdateEvent).Methods(http.MethodPut)
	api.HandleFunc("/events/{id}", s.handleMoveEvent).Methods(http.MethodPatch)
	api.HandleFunc("/events/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)

	api.HandleFunc("/preferences", s.handleGetPreferences).Methods(http.MethodGet)
	api.HandleFunc("/preferences", s.handleSavePreferences).Methods(http.MethodPut)
	api.HandleFunc("/account", s.handleDeleteAccount).Methods(http.MethodDelete)

	api.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, OwnerFrom(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

type errResp struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}

// writeServiceError maps calendar and store errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var vErr *schedule.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errResp{Error: vErr.Error(), Field: vErr.Field, Kind: string(vErr.Kind)})
	case errors.Is(err, calendar.ErrUnknownCondition):
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error(), Field: "condition", Kind: "UnknownCondition"})
	case errors.Is(err, calendar.ErrInvalidEndpoint):
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error(), Field: "push_endpoint", Kind: "InvalidEndpoint"})
	case errors.Is(err, calendar.ErrInvalidEmail):
		writeJSON(w, http.StatusBadRequest, errResp{Error: err.Error(), Field: "email", Kind: "InvalidEmail"})
	case errors.Is(err, ics.ErrInvalidCalendar):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calendar.ErrInvalidDate),
		errors.Is(err, calendar.ErrInvalidColor),
		errors.Is(err, calendar.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	default:
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

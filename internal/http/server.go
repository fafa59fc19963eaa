package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"lsmkv/pkg/config"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5
)

type iStoreAPI interface {
	Set(key, value string) error
	Get(key string) (string, bool, error)
	Rm(key string) error
	Stats() store.Stats
}

// Server represents the HTTP server in front of a store
type Server struct {
	store      iStoreAPI
	gatherer   prometheus.Gatherer
	httpServer *http.Server
	URL        string
	addr       string
	timeout    time.Duration
}

// NewServer creates a new server instance. Metrics are served from gatherer;
// a nil gatherer falls back to the default registry.
func NewServer(st iStoreAPI, cfg config.ServerConfig, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	port := strconv.Itoa(cfg.Port)
	return &Server{
		store:    st,
		gatherer: gatherer,
		URL:      "http://localhost:" + port,
		addr:     ":" + port,
		timeout:  cfg.ReadHeaderTimeout,
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.timeout,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds the chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Put("/api/string", s.handlePut)
	r.Get("/api/string", s.handleGet)
	r.Delete("/api", s.handleDelete)
	r.Get("/api/stats", s.handleStats)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

// writeError maps store errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberrors.ErrEmptyKey), errors.Is(err, dberrors.ErrInvalidUTF8):
		status = http.StatusBadRequest
	case errors.Is(err, dberrors.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if broken := s.store.Stats().Broken; broken != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, NewErrorResponse(broken.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	// an empty value is a valid value, only a missing one is rejected
	if key == "" || !r.Form.Has("value") {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	if err := s.store.Set(key, r.FormValue("value")); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	value, found, err := s.store.Get(key)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if !found {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Key not found"))
		return
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(value))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	if err := s.store.Rm(key); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()

	resp := StatsResponse{
		Status:          StatusSuccess,
		MemtableEntries: stats.MemtableEntries,
		Flushing:        stats.Flushing,
		Segments:        stats.Segments,
	}
	if resp.Segments == nil {
		resp.Segments = []string{}
	}
	if stats.Broken != nil {
		resp.Broken = stats.Broken.Error()
	}

	s.writeJSON(w, http.StatusOK, resp)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"cfdb/pkg/db"
	"cfdb/pkg/dberrors"

	"github.com/go-chi/chi/v5"
)

const (
	contentTypeJSON        = "application/json"
	defaultHTTPPort        = "8080"
	defaultShutdownTimeout = time.Second * 5
)

type iEngineAPI interface {
	CreateColumnFamily(opts db.ColumnFamilyOptions, name string) (*db.ColumnFamilyHandle, error)
	DropColumnFamily(h *db.ColumnFamilyHandle) error
	Put(h *db.ColumnFamilyHandle, key, value []byte) error
	Get(h *db.ColumnFamilyHandle, key []byte, opts db.ReadOptions) ([]byte, error)
	Delete(h *db.ColumnFamilyHandle, key []byte) error
	Merge(h *db.ColumnFamilyHandle, key, operand []byte) error
}

// Server exposes a column-family keyed string API over the engine.
type Server struct {
	engine iEngineAPI
	cfOpts db.ColumnFamilyOptions

	// handleMu guards handles; entries are removed on drop so stale
	// handles never leak back into request paths.
	handleMu sync.RWMutex
	handles  map[string]*db.ColumnFamilyHandle

	httpServer *http.Server
	URL        string
	addr       string
}

// NewServer creates a new server instance. The handle map keys are the
// column family names the engine was opened with; families created
// through the API use cfOpts.
func NewServer(engine iEngineAPI, handles map[string]*db.ColumnFamilyHandle, cfOpts db.ColumnFamilyOptions, port string) *Server {
	if port == "" {
		port = defaultHTTPPort
	}
	if handles == nil {
		handles = make(map[string]*db.ColumnFamilyHandle)
	}
	return &Server{
		engine:  engine,
		cfOpts:  cfOpts,
		handles: handles,
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/api/cf", s.handleListFamilies)
	r.Post("/api/cf", s.handleCreateFamily)
	r.Delete("/api/cf/{name}", s.handleDropFamily)
	r.Put("/api/cf/{name}/string", s.handlePut)
	r.Get("/api/cf/{name}/string", s.handleGet)
	r.Delete("/api/cf/{name}/string", s.handleDelete)
	r.Post("/api/cf/{name}/merge", s.handleMerge)

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dberrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dberrors.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, dberrors.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, dberrors.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleFor(name string) (*db.ColumnFamilyHandle, bool) {
	s.handleMu.RLock()
	defer s.handleMu.RUnlock()
	h, ok := s.handles[name]
	return h, ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleListFamilies(w http.ResponseWriter, r *http.Request) {
	s.handleMu.RLock()
	names := make([]string, 0, len(s.handles))
	for name := range s.handles {
		names = append(names, name)
	}
	s.handleMu.RUnlock()
	sort.Strings(names)

	s.writeJSON(w, http.StatusOK, NewFamiliesResponse(names))
}

func (s *Server) handleCreateFamily(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	name := r.FormValue("name")
	if name == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing name"))
		return
	}

	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	if _, ok := s.handles[name]; ok {
		s.writeJSON(w, http.StatusConflict, NewErrorResponse(dberrors.ErrAlreadyExists.Error()))
		return
	}

	h, err := s.engine.CreateColumnFamily(s.cfOpts, name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.handles[name] = h

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleDropFamily(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.handleMu.Lock()
	defer s.handleMu.Unlock()

	h, ok := s.handles[name]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Unknown column family"))
		return
	}

	if err := s.engine.DropColumnFamily(h); err != nil {
		s.writeError(w, err)
		return
	}
	delete(s.handles, name)

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	value := r.FormValue("value")
	if key == "" || value == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	h, ok := s.handleFor(chi.URLParam(r, "name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Unknown column family"))
		return
	}

	if err := s.engine.Put(h, []byte(key), []byte(value)); err != nil {
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

	h, ok := s.handleFor(chi.URLParam(r, "name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Unknown column family"))
		return
	}

	value, err := s.engine.Get(h, []byte(key), db.ReadOptions{})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewValueResponse(string(value)))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key"))
		return
	}

	h, ok := s.handleFor(chi.URLParam(r, "name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Unknown column family"))
		return
	}

	if err := s.engine.Delete(h, []byte(key)); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Failed to parse form"))
		return
	}

	key := r.FormValue("key")
	value := r.FormValue("value")
	if key == "" || value == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing key or value"))
		return
	}

	h, ok := s.handleFor(chi.URLParam(r, "name"))
	if !ok {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("Unknown column family"))
		return
	}

	if err := s.engine.Merge(h, []byte(key), []byte(value)); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

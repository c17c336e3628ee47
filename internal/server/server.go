package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/jpalmerr/mapboard/format"
	"github.com/jpalmerr/mapboard/internal/markers"
	"github.com/jpalmerr/mapboard/internal/store"
)

const (
	// sseWriteTimeout is the maximum time allowed for a single SSE write operation.
	// Must be <= shutdown timeout to ensure clean shutdown.
	sseWriteTimeout = 5 * time.Second

	shutdownTimeout = 5 * time.Second

	// defaultTitle is used when no custom title is configured.
	defaultTitle = "Mapboard"

	// titlePlaceholder is the marker in HTML that gets replaced with the actual title.
	titlePlaceholder = "{{.Title}}"

	// linksPlaceholder is replaced with links to the JSON API.
	linksPlaceholder = "{{.Links}}"
)

// MarkerView is the marker map as the server sees it.
type MarkerView interface {
	// Snapshot returns the map as a GeoJSON feature collection.
	Snapshot() ([]byte, error)

	// Select opens the popup of a marker and returns its HTML.
	Select(id string) (string, error)

	// Unselect closes the popup of a marker.
	Unselect(id string) error
}

// Options configures a [Server].
type Options struct {
	// Port is the TCP port to listen on. 0 picks a free port.
	Port int

	// Title is the dashboard title. Defaults to "Mapboard".
	Title string

	// Assets holds assets/index.html. nil disables the dashboard route.
	Assets fs.FS

	// CORSOrigins lists allowed origins. Empty allows any origin.
	CORSOrigins []string
}

// Server handles HTTP requests for the dashboard and API.
//
// The server is designed for graceful shutdown via context cancellation.
type Server struct {
	store   store.Store
	markers MarkerView
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// NewServer creates a new HTTP [Server].
//
// The server is not started until [Server.Start] is called.
func NewServer(st store.Store, mv MarkerView, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   st,
		markers: mv,
		opts:    opts,
		logger:  logger,
	}
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(s.opts.CORSOrigins))

	if s.opts.Assets != nil {
		r.Get("/", s.handleDashboard)
	}
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/grids", s.handleGrids)
		r.Get("/grids/{name}", s.handleGrid)
		if s.markers != nil {
			r.Get("/markers", s.handleMarkers)
			r.Post("/markers/{id}/popup", s.handleSelect)
			r.Delete("/markers/{id}/popup", s.handleUnselect)
		}
		r.Get("/sse", s.handleSSE)
	})

	return r
}

// Start begins serving HTTP requests in a background goroutine.
//
// Start is non-blocking and returns immediately after confirming the server
// is listening. The server will continue running until the context is
// cancelled, at which point it initiates a graceful shutdown with a 5-second
// timeout.
//
// Returns an error if the server fails to bind to the configured port.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", s.opts.Port, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// BaseContext derives all request contexts from the server context,
		// so long-running handlers like SSE end on shutdown.
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.addr = ln.Addr()
	s.mu.Unlock()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// handleDashboard serves the main dashboard page.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.opts.Assets == nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	content, err := fs.ReadFile(s.opts.Assets, "assets/index.html")
	if err != nil {
		http.Error(w, "Dashboard not found", http.StatusInternalServerError)
		return
	}

	title := s.opts.Title
	if title == "" {
		title = defaultTitle
	}
	rendered := strings.NewReplacer(
		titlePlaceholder, html.EscapeString(title),
		linksPlaceholder, s.apiLinks(),
	).Replace(string(content))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err = w.Write([]byte(rendered)); err != nil {
		s.logger.Error("failed to write dashboard response", "error", err)
	}
}

// apiLinks renders the JSON routes this server has as anchors.
func (s *Server) apiLinks() string {
	paths := []string{"/api/grids"}
	if s.markers != nil {
		paths = append(paths, "/api/markers")
	}
	links := make([]string, len(paths))
	for i, p := range paths {
		links[i] = format.Link(p)
	}
	return strings.Join(links, " ")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGrids lists grid summaries.
func (s *Server) handleGrids(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Grids())
}

// handleGrid returns one full record set.
func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	name, err := pathParam(r, "name")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	set, ok := s.store.Grid(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown grid %q", name))
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

// handleMarkers returns the marker map as GeoJSON.
func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	data, err := s.markers.Snapshot()
	if err != nil {
		s.logger.Error("failed to export markers", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to export markers")
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("failed to write markers response", "error", err)
	}
}

// handleSelect opens a marker popup.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := s.markers.Select(id)
	if errors.Is(err, markers.ErrUnknownMarker) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown marker %q", id))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "content": content})
}

// handleUnselect closes a marker popup.
func (s *Server) handleUnselect(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.markers.Unselect(id)
	if errors.Is(err, markers.ErrUnknownMarker) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown marker %q", id))
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSSE streams grid and marker events via Server-Sent Events.
//
// Every write carries a deadline so a slow or vanished client cannot pin the
// handler past shutdown.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	rc := http.NewResponseController(w)

	// some ResponseWriter implementations cannot set deadlines
	deadlinesSupported := true

	send := func(kind store.EventKind, data []byte) error {
		if deadlinesSupported {
			if err := rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout)); err != nil {
				s.logger.Warn("sse write deadlines not supported", "error", err)
				deadlinesSupported = false
			}
		}

		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data); err != nil {
			return err
		}
		return rc.Flush()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// subscribe before the initial snapshot so nothing in between is lost
	ch := s.store.Subscribe()
	defer s.store.Unsubscribe(ch)

	for _, summary := range s.store.Grids() {
		set, ok := s.store.Grid(summary.Name)
		if !ok {
			continue
		}
		data, err := json.Marshal(set)
		if err != nil {
			continue
		}
		if err := send(store.EventGrid, data); err != nil {
			return
		}
	}
	if s.markers != nil {
		if data, err := s.markers.Snapshot(); err == nil {
			if err := send(store.EventMarkers, data); err != nil {
				return
			}
		}
	}

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := send(ev.Kind, ev.Data); err != nil {
				return
			}

		case <-r.Context().Done():
			// fires on both client disconnect and server shutdown
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// pathParam returns a decoded chi URL parameter.
func pathParam(r *http.Request, key string) (string, error) {
	raw := chi.URLParam(r, key)
	v, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

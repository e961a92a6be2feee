// Package web provides the HTTP JSON API over the analysis pipeline.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	woningcheck "github.com/marcelkurvers/funda-woning-check-sub000"
	"github.com/marcelkurvers/funda-woning-check-sub000/ai"
	"github.com/marcelkurvers/funda-woning-check-sub000/internal/db"
	"github.com/marcelkurvers/funda-woning-check-sub000/internal/scrape"
)

// Server exposes run management, report retrieval and AI runtime status.
type Server struct {
	runs      *woningcheck.RunStore
	store     *db.Store
	pool      *woningcheck.Pool
	scraper   *scrape.Scraper
	authority *ai.Authority
	logger    *slog.Logger
	server    *http.Server
	testMode  bool

	// SSE clients, keyed by channel. The value is the run ID the client
	// follows; empty follows every run.
	sseClients   map[chan string]string
	sseMu        sync.RWMutex
	shutdownOnce sync.Once
}

// NewServer assembles the API server. The SQLite store may be nil, in
// which case event history and historical run lookups are unavailable.
func NewServer(runs *woningcheck.RunStore, store *db.Store, pool *woningcheck.Pool, scraper *scrape.Scraper, authority *ai.Authority, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runs:       runs,
		store:      store,
		pool:       pool,
		scraper:    scraper,
		authority:  authority,
		logger:     logger,
		sseClients: make(map[chan string]string),
	}
}

// Start starts the HTTP server. Blocks until the listener fails or the
// server is shut down.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.withLogging(s.routes()),
		ReadTimeout: 15 * time.Second,
		// No write timeout: live-status streams stay open indefinitely.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Run lifecycle
	mux.HandleFunc("POST /runs", s.handleCreateRun)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("POST /runs/{id}/start", s.handleStartRun)
	mux.HandleFunc("POST /runs/{id}/paste", s.handlePasteRun)

	// Run inspection
	mux.HandleFunc("GET /runs/{id}/status", s.handleRunStatus)
	mux.HandleFunc("GET /runs/{id}/report", s.handleRunReport)
	mux.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)
	mux.HandleFunc("GET /runs/{id}/live-status", s.handleLiveStatus)

	// SSE for real-time updates
	mux.HandleFunc("GET /events", s.handleEventStream)

	// AI runtime
	mux.HandleFunc("GET /ai/runtime-status", s.handleAIRuntimeStatus)
	mux.HandleFunc("POST /ai/invalidate-cache", s.handleAIInvalidateCache)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// Shutdown gracefully shuts down the server and closes all SSE streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.sseMu.Lock()
		for ch := range s.sseClients {
			close(ch)
			delete(s.sseClients, ch)
		}
		s.sseMu.Unlock()
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// EnableTestMode marks all payloads as produced under the test
// environment.
func (s *Server) EnableTestMode() { s.testMode = true }

// BroadcastRun sends an SSE event to every client following the run,
// plus all clients following everything.
func (s *Server) BroadcastRun(runID, event string) {
	message := "run:" + runID + " " + event

	s.sseMu.RLock()
	defer s.sseMu.RUnlock()

	for ch, follow := range s.sseClients {
		if follow != "" && follow != runID {
			continue
		}
		select {
		case ch <- message:
		default:
			// Client too slow, skip
		}
	}
}

// withLogging wraps a handler with request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// jsonResponse writes data as JSON.
func (s *Server) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

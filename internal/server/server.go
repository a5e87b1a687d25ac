// Package server provides the HTTP server for the blink control dashboard.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ayusman/nimesh/internal/server/api"
	"github.com/ayusman/nimesh/internal/store"
)

// ShutdownTimeout bounds how long Run waits for open requests on shutdown.
const ShutdownTimeout = 10 * time.Second

// Config holds the server configuration. Nil collaborators disable their routes.
type Config struct {
	StaticDir string
	Store     *store.Store
	Detection api.DetectionController
	Tuner     api.DetectionTuner
	Hub       *Hub
	Stream    *StreamHandler
	Logger    *zap.Logger
}

// Server represents the HTTP server of the application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
	logger *zap.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Store != nil {
		mappings := api.NewMappingHandler(s.config.Store)
		s.mux.Handle("/api/mappings", mappings)
		s.mux.Handle("/api/mappings/", mappings)
		s.mux.Handle("/api/events", api.NewEventHandler(s.config.Store))
		s.mux.Handle("/api/settings", api.NewSettingsHandler(s.config.Store, s.config.Tuner))
	}

	if s.config.Detection != nil {
		detection := api.NewDetectionHandler(s.config.Detection)
		s.mux.Handle("/api/detection", detection)
		s.mux.Handle("/api/detection/", detection)
	}

	if s.config.Hub != nil {
		s.mux.Handle("/api/events/ws", s.config.Hub)
	}

	if s.config.Stream != nil {
		s.mux.Handle("/api/stream", s.config.Stream)
	}

	// Serve static files if StaticDir is configured
	if s.config.StaticDir != "" {
		fs := http.FileServer(http.Dir(s.config.StaticDir))
		s.mux.Handle("/", fs)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Detection != nil {
		st := s.config.Detection.Status()
		response["detection"] = map[string]bool{
			"initialized": st.Initialized,
			"running":     st.Running,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Streaming handlers end when ctx is canceled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

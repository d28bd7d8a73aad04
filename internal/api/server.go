// Package api exposes the daemon's HTTP surface: media submission, catalog
// queries, job control, and a websocket stream of job progress events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"nexus/internal/blob"
	"nexus/internal/catalog"
	"nexus/internal/config"
	"nexus/internal/logging"
	"nexus/internal/pipeline"
)

// Server serves the HTTP API on the configured bind address.
type Server struct {
	bind     string
	manager  *pipeline.Manager
	store    *catalog.Store
	blobs    *blob.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader

	listener net.Listener
	server   *http.Server
}

// NewServer wires the API against the pipeline manager and its stores.
func NewServer(cfg *config.Config, manager *pipeline.Manager, store *catalog.Store, blobs *blob.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		manager: manager,
		store:   store,
		blobs:   blobs,
		logger:  logging.NewComponentLogger(logger, "api-server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The daemon binds to loopback; cross-origin browsers are not a
			// concern for a local control socket.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed so tests can drive the API through
// httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/media/url", s.handleSubmitURL)
	mux.HandleFunc("/api/media/upload", s.handleUpload)
	mux.HandleFunc("/api/media", s.handleMediaList)
	mux.HandleFunc("/api/media/", s.handleMediaItem)
	mux.HandleFunc("/api/jobs/", s.handleJob)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Start begins serving in the background and shuts down when ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address not configured")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, allowing in-flight requests a short grace
// period.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

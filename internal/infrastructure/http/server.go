// Package http provides the HTTP server infrastructure.
// Clean Architecture: Framework/driver layer - outermost circle.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/domain/entities"
	"github.com/0xcro3dile/edenchat/internal/domain/extractor"
	"github.com/0xcro3dile/edenchat/internal/domain/ports"
	"github.com/0xcro3dile/edenchat/internal/domain/usecases"
)

const (
	maxChatBody    = 1 << 20
	maxExtractBody = 4 << 20
)

// ChatService handles one inbound message and streams its events to sink.
type ChatService interface {
	HandleMessage(ctx context.Context, req entities.ChatRequest, sink ports.EventSink) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps groups what the server exposes. Artifacts and Checks are optional.
type Deps struct {
	Chat      ChatService
	Artifacts ports.ArtifactSink
	Providers []string
	Checks    map[string]HealthCheck
}

// Server is the HTTP server for the chat API.
type Server struct {
	deps Deps
	addr string
	log  *zap.Logger
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, addr string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{deps: deps, addr: addr, log: log.Named("http")}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat/stream", s.handleChatStream)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("POST /api/extract", s.handleExtract)
	mux.HandleFunc("GET /api/artifacts/{session_id}", s.handleArtifacts)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Start runs the HTTP server until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Streaming handlers lift this per request.
		WriteTimeout: 60 * time.Second,
	}

	s.log.Info("edenchat server starting", zap.String("addr", s.addr))

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// handleChatStream streams one message as server-sent events. Validation
// happens in the chat service; a rejected request is answered with 400
// because nothing has been written yet.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req entities.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.log.Debug("clearing write deadline", zap.Error(err))
	}

	sink := newSSESink(r.Context(), w)
	err := s.deps.Chat.HandleMessage(r.Context(), req, sink)
	switch {
	case err == nil:
	case !sink.started():
		status := http.StatusInternalServerError
		if errors.Is(err, usecases.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
	default:
		s.log.Warn("chat stream ended with error", zap.String("session_id", req.SessionID), zap.Error(err))
	}
}

type extractRequest struct {
	Text string `json:"text"`
}

// ExtractResult is what both extractors found in one text.
type ExtractResult struct {
	Deliverable *entities.DeliverablePayload `json:"deliverable"`
	Artifacts   []entities.CodeArtifact      `json:"artifacts"`
}

// handleExtract runs both extractors over a posted text.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxExtractBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, Extract(req.Text))
}

// Extract runs both extractors over text.
func Extract(text string) ExtractResult {
	artifacts := extractor.CodeArtifacts(text)
	if artifacts == nil {
		artifacts = []entities.CodeArtifact{}
	}
	return ExtractResult{
		Deliverable: extractor.Deliverable(text),
		Artifacts:   artifacts,
	}
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Artifacts == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact builds are disabled"})
		return
	}
	build, ok := s.deps.Artifacts.Lookup(r.PathValue("session_id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no artifact build for session"})
		return
	}
	writeJSON(w, http.StatusOK, build)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"
	checks := make(map[string]bool, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		checks[name] = check(ctx)
		if !checks[name] {
			status = "degraded"
		}
	}
	providers := s.deps.Providers
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"providers": providers,
		"checks":    checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PuertOcho/puertocho-intent/internal/orchestrate"
)

// maxUtteranceBody bounds the request body; utterances are short.
const maxUtteranceBody = 64 << 10

// Server exposes the pipeline over HTTP: utterance handling, progress
// queries, a health probe, and the Prometheus scrape endpoint.
type Server struct {
	pipeline *Pipeline
	srv      *http.Server
}

// NewServer builds the HTTP server listening on addr.
func NewServer(pipeline *Pipeline, addr string) *Server {
	s := &Server{pipeline: pipeline}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/utterance", s.handleUtterance)
	mux.HandleFunc("GET /api/v1/progress/{tracker}", s.handleProgress)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve %s: %w", s.srv.Addr, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// utteranceRequest is the POST /api/v1/utterance body.
type utteranceRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleUtterance(w http.ResponseWriter, r *http.Request) {
	var req utteranceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUtteranceBody))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id is required"})
		return
	}

	resp, err := s.pipeline.HandleUtterance(r.Context(), req.SessionID, req.UserID, req.Text)
	switch {
	case errors.Is(err, ErrEmptyUtterance):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "text is required"})
		return
	case err != nil:
		slog.Error("utterance handling failed", "session_id", req.SessionID, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := s.pipeline.Progress(r.PathValue("tracker"))
	switch {
	case errors.Is(err, orchestrate.ErrTrackerNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "tracker not found"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "err", err)
	}
}

// Package webui serves the status front end: a single dashboard page,
// JSON endpoints for pipeline control and replay listings, and a live
// status event stream.
package webui

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/rfinnell/demovault/internal/pipeline"
	"github.com/rfinnell/demovault/internal/session"
)

//go:embed templates/index.html
var templateFS embed.FS

const (
	sseHeartbeat    = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Pipeline is the slice of the runner the web UI drives.
type Pipeline interface {
	Start(ctx context.Context) error
	Snapshot() pipeline.Snapshot
}

// LoginService forces a fresh interactive Steam login.
type LoginService interface {
	Login(ctx context.Context) ([]session.Cookie, error)
}

// Server hosts the dashboard and its API on a single listener.
type Server struct {
	runner    Pipeline
	login     LoginService
	broker    *StatusBroker
	outputDir string
	log       *zap.Logger
	tmpl      *template.Template
	srv       *http.Server
}

func NewServer(addr string, runner Pipeline, login LoginService, broker *StatusBroker, outputDir string, logger *zap.Logger) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}

	s := &Server{
		runner:    runner,
		login:     login,
		broker:    broker,
		outputDir: outputDir,
		log:       logger.Named("webui"),
		tmpl:      tmpl,
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /start-download", s.handleStartDownload)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /stream-status", s.handleStreamStatus)
	mux.HandleFunc("GET /demos", s.handleDemos)
	mux.HandleFunc("GET /stats/{name}", s.handleStats)
	mux.HandleFunc("POST /login", s.handleLogin)
	return mux
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks until the listener fails or the context is
// cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("web ui listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web ui shutdown: %w", err)
	}
	<-errCh
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, s.runner.Snapshot()); err != nil {
		s.log.Error("failed to render dashboard", zap.Error(err))
	}
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	// The run outlives this request, so it gets its own context.
	err := s.runner.Start(context.Background())
	switch {
	case errors.Is(err, pipeline.ErrRunActive):
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.runner.Snapshot())
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, cancel := s.broker.Subscribe()
	defer cancel()

	// Late joiners see the current status immediately.
	if last := s.broker.Last(); last != "" {
		fmt.Fprintf(w, "data: %s\n\n", last)
	}
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-events:
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

func (s *Server) handleDemos(w http.ResponseWriter, r *http.Request) {
	demos, err := ListDemos(s.outputDir)
	if err != nil {
		s.log.Error("failed to list demos", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list demos"})
		return
	}
	if demos == nil {
		demos = []DemoInfo{}
	}
	s.writeJSON(w, http.StatusOK, demos)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	stats, err := ReadStats(s.outputDir, name)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, os.ErrNotExist) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, map[string]string{"error": fmt.Sprintf("no stats available for %s", name)})
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.runner.Snapshot().Running {
		s.writeJSON(w, http.StatusConflict, map[string]string{"error": "cannot start a login while a run is active"})
		return
	}

	cookies, err := s.login.Login(r.Context())
	if err != nil {
		s.log.Error("interactive login failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "login failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "authenticated", "cookies": len(cookies)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}

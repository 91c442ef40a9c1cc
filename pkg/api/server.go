package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/video-system/go-frame-recorder/pkg/capture"
)

// Controller is the part of a capture session the API drives
type Controller interface {
	Status() capture.Status
	StartRecording(path string) (capture.RecordingStatus, error)
	StopRecording() error
	Pause()
	Resume()
	Stop()
	SetSpeed(speed float64) float64
	TogglePixelSwap() bool
}

// ServerConfig holds API server configuration
type ServerConfig struct {
	Host       string
	Port       int
	Controller Controller
	Logger     *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	cfg    ServerConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/record/start", s.handleRecordStart)
	mux.HandleFunc("/api/v1/record/stop", s.handleRecordStop)
	mux.HandleFunc("/api/v1/playback", s.handlePlayback)
	mux.HandleFunc("/api/v1/display/swap", s.handleSwap)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

// Handler exposes the routes, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Stop. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("api: server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the API server
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("api: shutdown", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "go-frame-recorder",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.Controller.Status())
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	rec, err := s.cfg.Controller.StartRecording(req.Path)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"recording": rec,
	})
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.cfg.Controller.StopRecording(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Action string   `json:"action,omitempty"` // pause, resume, stop
		Speed  *float64 `json:"speed,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Action {
	case "":
	case "pause":
		s.cfg.Controller.Pause()
	case "resume":
		s.cfg.Controller.Resume()
	case "stop":
		s.cfg.Controller.Stop()
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}

	resp := map[string]interface{}{"status": "ok"}
	if req.Speed != nil {
		resp["speed"] = s.cfg.Controller.SetSpeed(*req.Speed)
	}
	resp["state"] = s.cfg.Controller.Status().State
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"pixel_swap": s.cfg.Controller.TogglePixelSwap(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrNoFrame), errors.Is(err, capture.ErrStopped):
		return http.StatusConflict
	case errors.Is(err, capture.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

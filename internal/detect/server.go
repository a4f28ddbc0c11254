package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// InferenceFunc produces detections for a decoded image. Results below
// minConfidence are filtered by the server before responding.
type InferenceFunc func(img image.Image, minConfidence float64) []Detection

// EmbeddedServer is a built-in inference backend that runs in-process.
// It speaks the same wire protocol the Client does, so a deployment
// without an external detection service can point the client at it.
// The default inference function returns no detections; tests and
// development setups plug in their own.
type EmbeddedServer struct {
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	port     int
	infer    InferenceFunc

	startTime      time.Time
	processedCount int64
	errorCount     int64
}

// EmbeddedServerConfig holds embedded server settings.
type EmbeddedServerConfig struct {
	Port  int // 0 picks an ephemeral port
	Infer InferenceFunc
}

// NewEmbeddedServer creates an embedded inference server.
func NewEmbeddedServer(cfg EmbeddedServerConfig) *EmbeddedServer {
	if cfg.Infer == nil {
		cfg.Infer = func(image.Image, float64) []Detection { return nil }
	}
	return &EmbeddedServer{
		port:   cfg.Port,
		infer:  cfg.Infer,
		logger: slog.Default().With("component", "embedded-detector"),
	}
}

// Start binds the listener and serves in the background.
func (s *EmbeddedServer) Start(ctx context.Context) error {
	r := chi.NewRouter()
	r.Post("/detect", s.handleDetect)
	r.Get("/status", s.handleStatus)

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.port = listener.Addr().(*net.TCPAddr).Port
	s.server = &http.Server{Handler: r}
	s.startTime = time.Now()

	s.logger.Info("Embedded inference server starting", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Embedded inference server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *EmbeddedServer) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Address returns the host:port the server is listening on.
func (s *EmbeddedServer) Address() string {
	return fmt.Sprintf("127.0.0.1:%d", s.port)
}

func (s *EmbeddedServer) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageData     string  `json:"image_data"`
		Width         int     `json:"width"`
		Height        int     `json:"height"`
		MinConfidence float64 `json:"min_confidence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.countError()
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raw, err := base64.StdEncoding.DecodeString(req.ImageData)
	if err != nil {
		s.countError()
		s.respondError(w, http.StatusBadRequest, "image_data is not valid base64")
		return
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		s.countError()
		s.respondError(w, http.StatusBadRequest, "image_data is not a valid JPEG")
		return
	}

	detections := make([]Detection, 0)
	for _, d := range s.infer(img, req.MinConfidence) {
		if d.Confidence >= req.MinConfidence {
			detections = append(detections, d)
		}
	}

	s.mu.Lock()
	s.processedCount++
	s.mu.Unlock()

	s.respondJSON(w, http.StatusOK, map[string]any{"detections": detections})
}

func (s *EmbeddedServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	processed, errors := s.processedCount, s.errorCount
	s.mu.Unlock()

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"processed":      processed,
		"errors":         errors,
	})
}

func (s *EmbeddedServer) countError() {
	s.mu.Lock()
	s.errorCount++
	s.mu.Unlock()
}

func (s *EmbeddedServer) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *EmbeddedServer) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]string{"error": message})
}

// Package camera provides thread-safe frame ingestion with reconnect on
// failure and last-frame caching. It is the only component in the pipeline
// permitted to block on I/O; all blocking is bounded by configured timeouts.
package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// Reader reads frames from an opened stream. Implementations must bound
// every ReadFrame call by the timeouts they were configured with.
type Reader interface {
	ReadFrame() (*frame.Frame, error)
	Close() error
}

// Dialer opens a stream handle. Called on Start and on every reconnect.
type Dialer func() (Reader, error)

// ErrNotOpen is returned by Read after the source has given up reconnecting.
var ErrNotOpen = errors.New("camera source is not open")

// Config holds frame source settings.
type Config struct {
	MaxFailures      int           // consecutive read failures before reconnect
	ReconnectBackoff time.Duration // wait before reopening the handle
}

// DefaultConfig returns the default source configuration.
func DefaultConfig() Config {
	return Config{
		MaxFailures:      10,
		ReconnectBackoff: 2 * time.Second,
	}
}

// Source wraps a Reader with failure tracking, reconnect and a last good
// frame cache. Reads are serialized under one mutex so the cache and the
// failure counter stay consistent.
type Source struct {
	mu sync.Mutex

	dial   Dialer
	cfg    Config
	logger *slog.Logger

	reader       Reader
	open         bool
	lastFrame    *frame.Frame
	failures     int
	framesRead   int64
	reconnects   int64
	sleep        func(time.Duration)
}

// NewSource creates a frame source. The dialer is not invoked until Start.
func NewSource(dial Dialer, cfg Config) *Source {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultConfig().ReconnectBackoff
	}
	return &Source{
		dial:   dial,
		cfg:    cfg,
		logger: slog.Default().With("component", "camera"),
		sleep:  time.Sleep,
	}
}

// Start opens the stream handle. Safe to call again after a failed
// reconnect has closed the source.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return nil
	}

	r, err := s.dial()
	if err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}

	s.reader = r
	s.open = true
	s.failures = 0
	s.logger.Info("Camera source opened")
	return nil
}

// Read returns the next frame. On a transient read failure it returns the
// last successfully read frame instead of failing the caller; after
// MaxFailures consecutive failures it reconnects in-line. Once reconnect
// itself fails the source closes and Read returns (nil, ErrNotOpen) until
// Start is called again.
func (s *Source) Read() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, ErrNotOpen
	}

	f, err := s.reader.ReadFrame()
	if err == nil {
		s.failures = 0
		s.framesRead++
		s.lastFrame = f
		return f, nil
	}

	s.failures++
	s.logger.Warn("Frame read failed", "error", err, "consecutive", s.failures)

	if s.failures >= s.cfg.MaxFailures {
		if rerr := s.reconnectLocked(); rerr != nil {
			s.closeLocked()
			s.logger.Error("Camera reconnect failed, source closed", "error", rerr)
			return nil, ErrNotOpen
		}
		s.failures = 0
	}

	if s.lastFrame != nil {
		return s.lastFrame, nil
	}
	return nil, fmt.Errorf("read failed with no cached frame: %w", err)
}

// reconnectLocked releases the handle, waits the backoff, reopens and
// verifies the new handle with a test read. Caller holds the mutex.
func (s *Source) reconnectLocked() error {
	s.logger.Info("Reconnecting camera", "backoff", s.cfg.ReconnectBackoff)

	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}

	s.sleep(s.cfg.ReconnectBackoff)

	r, err := s.dial()
	if err != nil {
		return fmt.Errorf("redial failed: %w", err)
	}

	f, err := r.ReadFrame()
	if err != nil {
		_ = r.Close()
		return fmt.Errorf("post-reconnect test read failed: %w", err)
	}

	s.reader = r
	s.lastFrame = f
	s.reconnects++
	s.logger.Info("Camera reconnected")
	return nil
}

// Stop closes the stream handle.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.logger.Info("Camera source stopped")
}

func (s *Source) closeLocked() {
	if s.reader != nil {
		_ = s.reader.Close()
		s.reader = nil
	}
	s.open = false
}

// IsOpen reports whether the source currently holds a stream handle.
func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Status is a read-only snapshot of the source.
type Status struct {
	Open       bool  `json:"open"`
	FramesRead int64 `json:"frames_read"`
	Failures   int   `json:"consecutive_failures"`
	Reconnects int64 `json:"reconnects"`
}

// GetStatus returns the current source status.
func (s *Source) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Open:       s.open,
		FramesRead: s.framesRead,
		Failures:   s.failures,
		Reconnects: s.reconnects,
	}
}

package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// Config holds recorder settings.
type Config struct {
	OutputDir         string
	FPS               int
	PreBufferSeconds  int
	PostBufferSeconds int
	MaxDuration       time.Duration
	JPEGQuality       int
}

// session is one open recording. At most one exists at a time.
type session struct {
	ID           string
	EventType    string
	Path         string
	StartTime    time.Time
	LastActivity time.Time
	FrameCount   int
	sink         FrameSink
}

// Recorder owns the pre-event buffer and the active session. One mutex
// guards both: AddFrame runs on the capture goroutine while
// StartRecording/UpdateRecording run on the pipeline goroutine, and they
// must never interleave partially.
type Recorder struct {
	mu      sync.Mutex
	cfg     Config
	buffer  *PreBuffer
	session *session
	newSink SinkFactory
	logger  *slog.Logger

	completed int64
	aborted   int64
	lastPath  string

	now func() time.Time
}

// NewRecorder creates a recorder writing MJPEG files under cfg.OutputDir.
func NewRecorder(cfg Config) (*Recorder, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.PreBufferSeconds <= 0 {
		cfg.PreBufferSeconds = 5
	}
	if cfg.PostBufferSeconds <= 0 {
		cfg.PostBufferSeconds = 10
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 5 * time.Minute
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	quality := cfg.JPEGQuality
	return &Recorder{
		cfg:    cfg,
		buffer: NewPreBuffer(cfg.FPS * cfg.PreBufferSeconds),
		newSink: func(path string) (FrameSink, error) {
			return NewMJPEGSink(path, quality)
		},
		logger: slog.Default().With("component", "recorder"),
		now:    time.Now,
	}, nil
}

// AddFrame pushes the frame into the pre-event buffer. Always safe to
// call, recording or not; this runs on every captured frame.
func (r *Recorder) AddFrame(f *frame.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffer.Push(f)
}

// StartRecording opens a new session and flushes the pre-event buffer into
// it in arrival order. If a session is already active this is a no-op that
// refreshes its last-activity and returns the existing identifier.
func (r *Recorder) StartRecording(eventType string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now()
	if r.session != nil {
		r.session.LastActivity = ts
		return r.session.ID, nil
	}

	name := fmt.Sprintf("%s_%s.mjpeg", eventType, ts.Format("20060102_150405"))
	path := filepath.Join(r.cfg.OutputDir, name)
	sink, err := r.newSink(path)
	if err != nil {
		return "", fmt.Errorf("failed to open recording sink: %w", err)
	}

	s := &session{
		ID:           uuid.New().String(),
		EventType:    eventType,
		Path:         path,
		StartTime:    ts,
		LastActivity: ts,
		sink:         sink,
	}

	for _, buffered := range r.buffer.Snapshot() {
		if err := sink.WriteFrame(buffered); err != nil {
			r.logger.Error("Failed to flush pre-buffer", "path", path, "error", err)
			sink.Close()
			os.Remove(path)
			r.aborted++
			return "", fmt.Errorf("failed to flush pre-buffer: %w", err)
		}
		s.FrameCount++
	}

	r.session = s
	r.logger.Info("Recording started",
		"id", s.ID,
		"event_type", eventType,
		"path", path,
		"prebuffered_frames", s.FrameCount)
	return s.ID, nil
}

// UpdateRecording writes the frame into the active session, refreshes
// last-activity when the frame carried a detection, and closes the session
// once the post-event grace period or the maximum duration has elapsed.
// No-op when not recording.
func (r *Recorder) UpdateRecording(f *frame.Frame, hasDetection bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return
	}

	if err := r.session.sink.WriteFrame(f); err != nil {
		r.logger.Error("Recording write failed, aborting session",
			"id", r.session.ID, "error", err)
		r.abortLocked()
		return
	}
	r.session.FrameCount++

	ts := r.now()
	if hasDetection {
		r.session.LastActivity = ts
	}

	postBuffer := time.Duration(r.cfg.PostBufferSeconds) * time.Second
	if ts.Sub(r.session.LastActivity) >= postBuffer || ts.Sub(r.session.StartTime) >= r.cfg.MaxDuration {
		r.closeLocked()
	}
}

// StopRecording closes the active session immediately. No-op when idle.
func (r *Recorder) StopRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return
	}
	r.closeLocked()
}

// closeLocked finalizes the session. Caller holds the mutex.
func (r *Recorder) closeLocked() {
	s := r.session
	if err := s.sink.Close(); err != nil {
		r.logger.Error("Failed to close recording", "id", s.ID, "error", err)
		r.session = nil
		r.aborted++
		return
	}
	r.logger.Info("Recording completed",
		"id", s.ID,
		"path", s.Path,
		"frames", s.FrameCount,
		"duration", r.now().Sub(s.StartTime))
	r.lastPath = s.Path
	r.completed++
	r.session = nil
}

// abortLocked tears down the session after a write failure. The pipeline
// keeps running; only this session is lost.
func (r *Recorder) abortLocked() {
	s := r.session
	s.sink.Close()
	os.Remove(s.Path)
	r.session = nil
	r.aborted++
}

// Status is a snapshot of recorder state.
type Status struct {
	Recording      bool      `json:"recording"`
	SessionID      string    `json:"session_id,omitempty"`
	EventType      string    `json:"event_type,omitempty"`
	StartTime      time.Time `json:"start_time,omitzero"`
	FrameCount     int       `json:"frame_count"`
	BufferedFrames int       `json:"buffered_frames"`
	Completed      int64     `json:"completed"`
	Aborted        int64     `json:"aborted"`
	LastPath       string    `json:"last_path,omitempty"`
}

// GetStatus returns recorder state.
func (r *Recorder) GetStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		BufferedFrames: r.buffer.Count(),
		Completed:      r.completed,
		Aborted:        r.aborted,
		LastPath:       r.lastPath,
	}
	if r.session != nil {
		st.Recording = true
		st.SessionID = r.session.ID
		st.EventType = r.session.EventType
		st.StartTime = r.session.StartTime
		st.FrameCount = r.session.FrameCount
	}
	return st
}

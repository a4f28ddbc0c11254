// Package tamper watches for camera covering and movement against a
// baseline established during a quiet warm-up period.
package tamper

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// Reference frames are compared at a reduced size; full-resolution diffs
// buy no accuracy for tamper purposes.
const (
	refWidth  = 160
	refHeight = 120
)

// Config holds tamper monitor settings.
type Config struct {
	BrightnessThreshold float64
	MovementThreshold   float64
	PixelThreshold      int
	CheckInterval       time.Duration
	HistorySize         int
	EventLogSize        int
}

// Event is one tamper state transition.
type Event struct {
	Type      string    `json:"type"` // "covered" or "moved"
	Timestamp time.Time `json:"timestamp"`
	Detail    float64   `json:"detail"` // brightness or diff ratio
}

// Status is a snapshot of monitor state.
type Status struct {
	BaselineEstablished bool      `json:"baseline_established"`
	BaselineBrightness  float64   `json:"baseline_brightness"`
	Covered             bool      `json:"covered"`
	Moved               bool      `json:"moved"`
	LastCheck           time.Time `json:"last_check,omitzero"`
	ChecksRun           int64     `json:"checks_run"`
	EventCount          int64     `json:"event_count"`
}

// Monitor tracks a brightness baseline and a reference frame, and flags
// covering or movement. Owned by the pipeline goroutine; the mutex only
// protects status reads from the API.
type Monitor struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	history     []float64
	baseline    float64
	reference   *frame.Frame
	established bool

	covered   bool
	moved     bool
	lastCheck time.Time
	checksRun int64

	events     []Event
	eventCount int64

	now func() time.Time
}

// NewMonitor creates a tamper monitor.
func NewMonitor(cfg Config) *Monitor {
	if cfg.BrightnessThreshold <= 0 {
		cfg.BrightnessThreshold = 30
	}
	if cfg.MovementThreshold <= 0 {
		cfg.MovementThreshold = 0.5
	}
	if cfg.PixelThreshold <= 0 {
		cfg.PixelThreshold = 25
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 30
	}
	if cfg.EventLogSize <= 0 {
		cfg.EventLogSize = 50
	}
	return &Monitor{
		cfg:    cfg,
		logger: slog.Default().With("component", "tamper"),
		now:    time.Now,
	}
}

// UpdateBaseline accumulates brightness samples until the history fills,
// then locks in the median as the baseline and snapshots a reference
// frame. Further calls are no-ops until Reset.
func (m *Monitor) UpdateBaseline(f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.established {
		return
	}

	gray := f.Gray()
	m.history = append(m.history, gray.MeanBrightness())
	if len(m.history) < m.cfg.HistorySize {
		return
	}

	m.baseline = median(m.history)
	m.reference = gray.Resize(refWidth, refHeight)
	m.established = true
	m.logger.Info("Tamper baseline established",
		"brightness", m.baseline,
		"samples", len(m.history))
}

// CheckTampering evaluates the frame against the baseline. Rate-limited:
// between checks it returns the last known state unchanged. Only state
// transitions are logged and recorded as events.
func (m *Monitor) CheckTampering(f *frame.Frame) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now()
	if !m.established || ts.Sub(m.lastCheck) < m.cfg.CheckInterval {
		return m.statusLocked()
	}
	m.lastCheck = ts
	m.checksRun++

	gray := f.Gray()
	brightness := gray.MeanBrightness()
	covered := brightness < m.cfg.BrightnessThreshold ||
		m.baseline-brightness > 0.7*m.baseline

	moved := false
	if !covered {
		small := gray.Resize(refWidth, refHeight)
		ratio, err := frame.DiffRatio(small, m.reference, uint8(m.cfg.PixelThreshold))
		if err == nil && ratio > m.cfg.MovementThreshold {
			moved = true
			if !m.moved {
				m.recordEventLocked("moved", ts, ratio)
			}
		}
	}

	if covered && !m.covered {
		m.recordEventLocked("covered", ts, brightness)
	}
	m.covered = covered
	m.moved = moved
	return m.statusLocked()
}

// recordEventLocked appends a transition event. Caller holds the mutex.
func (m *Monitor) recordEventLocked(kind string, ts time.Time, detail float64) {
	m.events = append(m.events, Event{Type: kind, Timestamp: ts, Detail: detail})
	if len(m.events) > m.cfg.EventLogSize {
		m.events = m.events[len(m.events)-m.cfg.EventLogSize:]
	}
	m.eventCount++
	m.logger.Warn("Tampering detected", "type", kind, "detail", detail)
}

// Reset discards the baseline and all state; the warm-up starts over.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = nil
	m.baseline = 0
	m.reference = nil
	m.established = false
	m.covered = false
	m.moved = false
	m.logger.Info("Tamper baseline reset")
}

// GetStatus returns monitor state.
func (m *Monitor) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	return Status{
		BaselineEstablished: m.established,
		BaselineBrightness:  m.baseline,
		Covered:             m.covered,
		Moved:               m.moved,
		LastCheck:           m.lastCheck,
		ChecksRun:           m.checksRun,
		EventCount:          m.eventCount,
	}
}

// RecentEvents returns a copy of the retained transition log, oldest
// first.
func (m *Monitor) RecentEvents() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func median(samples []float64) float64 {
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

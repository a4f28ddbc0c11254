// Package alerts decides when zone detections become human-visible alerts.
// Detections are never suppressed upstream; only alerts are, via per-zone
// cooldowns.
package alerts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sentrycam/sentrycam/internal/detect"
)

// Level is the alert severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Rule controls how a zone alerts.
type Rule struct {
	Level    Level
	Duration time.Duration
	Cooldown time.Duration
}

// Event is one accepted alert. Ephemeral: kept only in the bounded
// in-memory history.
type Event struct {
	ID        string        `json:"id"`
	Zone      string        `json:"zone"`
	Level     Level         `json:"level"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Config holds coordinator settings.
type Config struct {
	DefaultRule Rule
	ZoneRules   map[string]Rule
	HistorySize int
}

// Coordinator gates alerts per zone. A zone cannot re-trigger until its
// cooldown has elapsed since the last accepted alert.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	actuator Actuator
	logger   *slog.Logger

	lastTrigger map[string]time.Time
	history     []Event
	triggered   int64
	suppressed  int64

	now func() time.Time
}

// NewCoordinator creates an alert coordinator dispatching to the given
// actuator.
func NewCoordinator(cfg Config, actuator Actuator) *Coordinator {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.DefaultRule.Level == "" {
		cfg.DefaultRule.Level = LevelWarning
	}
	if cfg.DefaultRule.Duration == 0 {
		cfg.DefaultRule.Duration = 2 * time.Second
	}
	if cfg.DefaultRule.Cooldown == 0 {
		cfg.DefaultRule.Cooldown = 30 * time.Second
	}
	return &Coordinator{
		cfg:         cfg,
		actuator:    actuator,
		logger:      slog.Default().With("component", "alerts"),
		lastTrigger: make(map[string]time.Time),
		now:         time.Now,
	}
}

// ruleFor returns the zone's rule, falling back to the default.
func (c *Coordinator) ruleFor(zone string) Rule {
	if r, ok := c.cfg.ZoneRules[zone]; ok {
		if r.Level == "" {
			r.Level = c.cfg.DefaultRule.Level
		}
		if r.Duration == 0 {
			r.Duration = c.cfg.DefaultRule.Duration
		}
		if r.Cooldown == 0 {
			r.Cooldown = c.cfg.DefaultRule.Cooldown
		}
		return r
	}
	return c.cfg.DefaultRule
}

// TriggerAlert fires an alert for the zone unless its cooldown is still
// running. Returns true when the alert was accepted. Suppression has no
// side effects.
func (c *Coordinator) TriggerAlert(zone string, level Level, duration, cooldown time.Duration) bool {
	_, ok := c.trigger(zone, level, duration, cooldown)
	return ok
}

func (c *Coordinator) trigger(zone string, level Level, duration, cooldown time.Duration) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now()
	if last, ok := c.lastTrigger[zone]; ok && ts.Sub(last) < cooldown {
		c.suppressed++
		return Event{}, false
	}

	ev := Event{
		ID:        uuid.New().String(),
		Zone:      zone,
		Level:     level,
		Timestamp: ts,
		Duration:  duration,
	}
	c.lastTrigger[zone] = ts
	c.history = append(c.history, ev)
	if len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	c.triggered++

	c.logger.Info("Alert triggered",
		"zone", zone,
		"level", string(level),
		"duration", duration)

	if err := c.actuator.Activate(level, duration); err != nil {
		c.logger.Error("Actuator activation failed", "zone", zone, "error", err)
	}
	return ev, true
}

// ProcessZoneDetections applies zone rules to the output of the zone index
// and fires one alert attempt per matched zone. Returns the accepted
// alerts.
func (c *Coordinator) ProcessZoneDetections(matched map[string][]detect.Detection) []Event {
	var accepted []Event
	for zone, detections := range matched {
		if len(detections) == 0 {
			continue
		}
		rule := c.ruleFor(zone)
		if ev, ok := c.trigger(zone, rule.Level, rule.Duration, rule.Cooldown); ok {
			accepted = append(accepted, ev)
		}
	}
	return accepted
}

// History returns a copy of the retained alert history, oldest first.
func (c *Coordinator) History() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.history))
	copy(out, c.history)
	return out
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Triggered  int64 `json:"triggered"`
	Suppressed int64 `json:"suppressed"`
}

// GetStats returns alert counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Triggered: c.triggered, Suppressed: c.suppressed}
}

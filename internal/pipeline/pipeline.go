// Package pipeline wires the capture, motion, detection, zone, alert,
// recording, tamper and behavior components into one processing loop.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentrycam/sentrycam/internal/alerts"
	"github.com/sentrycam/sentrycam/internal/behavior"
	"github.com/sentrycam/sentrycam/internal/camera"
	"github.com/sentrycam/sentrycam/internal/core"
	"github.com/sentrycam/sentrycam/internal/detect"
	"github.com/sentrycam/sentrycam/internal/frame"
	"github.com/sentrycam/sentrycam/internal/motion"
	"github.com/sentrycam/sentrycam/internal/recording"
	"github.com/sentrycam/sentrycam/internal/store"
	"github.com/sentrycam/sentrycam/internal/tamper"
	"github.com/sentrycam/sentrycam/internal/zones"
)

// Config holds pipeline loop settings.
type Config struct {
	// FrameSkip runs motion analysis on every Nth frame; 1 analyses all.
	FrameSkip int
	// MinConfidence drops detections the model is not sure about.
	MinConfidence float64
	// TargetLabel is the object class the pipeline reacts to.
	TargetLabel string
	// CalibrationFrames warms the motion background up from this many
	// frames before normal processing; 0 skips calibration.
	CalibrationFrames int
	// TamperRule is applied when the tamper monitor flags the camera.
	TamperRule alerts.Rule
	// CleanupInterval paces storage governor sweeps.
	CleanupInterval time.Duration
	// BehaviorSaveInterval paces behavior state persistence.
	BehaviorSaveInterval time.Duration
	// ReadRetryDelay is the pause after a failed frame read.
	ReadRetryDelay time.Duration
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		FrameSkip:     1,
		MinConfidence: 0.5,
		TargetLabel:   "person",
		TamperRule: alerts.Rule{
			Level:    alerts.LevelCritical,
			Duration: 5 * time.Second,
			Cooldown: 60 * time.Second,
		},
		CleanupInterval:      5 * time.Minute,
		BehaviorSaveInterval: 5 * time.Minute,
		ReadRetryDelay:       200 * time.Millisecond,
	}
}

// Deps are the components the pipeline drives. Tamper and Behavior may be
// nil to disable those stages; everything else is required.
type Deps struct {
	Source   *camera.Source
	Motion   *motion.Detector
	Filter   *motion.SmartFilter
	Zones    *zones.Index
	Alerts   *alerts.Coordinator
	Recorder *recording.Recorder
	Governor *recording.StorageGovernor
	Detector detect.Detector
	Tamper   *tamper.Monitor
	Behavior *behavior.Model
	Bus      *core.EventBus
	Store    store.EventStore
}

// Pipeline runs the frame loop. One goroutine owns the processing path;
// the mutex only covers lifecycle state and status snapshots.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu            sync.Mutex
	running       bool
	stop          chan struct{}
	wg            sync.WaitGroup
	frames        int64
	analyzed      int64
	inferences    int64
	lastSessionID string
	// sessionJustStarted marks a session opened while processing the
	// current frame: its pre-buffer flush already wrote that frame.
	sessionJustStarted bool
	prevTamper         tamper.Status
	lastError     string
	motionStats   motion.Stats

	now func() time.Time
}

// New creates a pipeline over the given components.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	def := DefaultConfig()
	if cfg.FrameSkip <= 0 {
		cfg.FrameSkip = def.FrameSkip
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = def.MinConfidence
	}
	if cfg.TargetLabel == "" {
		cfg.TargetLabel = def.TargetLabel
	}
	if cfg.TamperRule.Level == "" {
		cfg.TamperRule = def.TamperRule
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.BehaviorSaveInterval <= 0 {
		cfg.BehaviorSaveInterval = def.BehaviorSaveInterval
	}
	if cfg.ReadRetryDelay <= 0 {
		cfg.ReadRetryDelay = def.ReadRetryDelay
	}

	if deps.Source == nil || deps.Motion == nil || deps.Filter == nil ||
		deps.Zones == nil || deps.Alerts == nil || deps.Recorder == nil ||
		deps.Governor == nil || deps.Detector == nil || deps.Bus == nil ||
		deps.Store == nil {
		return nil, fmt.Errorf("pipeline is missing a required component")
	}

	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: slog.Default().With("component", "pipeline"),
		now:    time.Now,
	}, nil
}

// Start opens the camera source and launches the processing and
// maintenance loops.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("pipeline already running")
	}
	p.running = true
	p.stop = make(chan struct{})
	p.mu.Unlock()

	if err := p.deps.Source.Start(); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("failed to start camera source: %w", err)
	}

	p.wg.Add(2)
	go p.run(ctx)
	go p.maintain(ctx)

	p.logger.Info("Pipeline started",
		"frame_skip", p.cfg.FrameSkip,
		"min_confidence", p.cfg.MinConfidence,
		"target", p.cfg.TargetLabel)
	return nil
}

// Stop shuts the pipeline down: the loops drain, the camera closes, any
// open recording is finalized and the behavior state is persisted.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
	p.deps.Source.Stop()
	p.deps.Recorder.StopRecording()

	if p.deps.Behavior != nil {
		if err := p.deps.Behavior.Save(); err != nil {
			p.logger.Error("Failed to persist behavior state", "error", err)
		}
	}

	_ = p.deps.Bus.Publish(core.SubjectShutdown, map[string]any{"ts": p.now()})
	p.logger.Info("Pipeline stopped")
}

// run is the frame loop.
func (p *Pipeline) run(ctx context.Context) {
	defer p.wg.Done()

	p.calibrate(ctx)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		f, err := p.deps.Source.Read()
		if err != nil {
			p.mu.Lock()
			p.lastError = err.Error()
			p.mu.Unlock()
			select {
			case <-p.stop:
				return
			case <-time.After(p.cfg.ReadRetryDelay):
			}
			continue
		}

		p.process(ctx, f)
	}
}

// calibrate seeds the motion background from the first frames off the
// camera. Calibration frames do not count toward pipeline statistics.
func (p *Pipeline) calibrate(ctx context.Context) {
	n := p.cfg.CalibrationFrames
	if n <= 0 {
		return
	}

	collected := make([]*frame.Frame, 0, n)
	for len(collected) < n {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		f, err := p.deps.Source.Read()
		if err != nil {
			select {
			case <-p.stop:
				return
			case <-time.After(p.cfg.ReadRetryDelay):
			}
			continue
		}
		collected = append(collected, f)
	}

	p.deps.Motion.Calibrate(collected)
}

// process runs one frame through every stage.
func (p *Pipeline) process(ctx context.Context, f *frame.Frame) {
	p.mu.Lock()
	p.frames++
	n := p.frames
	p.sessionJustStarted = false
	p.mu.Unlock()

	p.deps.Recorder.AddFrame(f)

	if p.deps.Tamper != nil {
		p.deps.Tamper.UpdateBaseline(f)
		p.handleTamper(ctx, p.deps.Tamper.CheckTampering(f))
	}

	hasDetection := false
	if n%int64(p.cfg.FrameSkip) == 0 {
		p.mu.Lock()
		p.analyzed++
		p.mu.Unlock()

		res := p.deps.Motion.Detect(f)
		p.mu.Lock()
		p.motionStats = p.deps.Motion.GetStats()
		p.mu.Unlock()
		if p.deps.Filter.ShouldRunDetection(res.HasMotion) {
			hasDetection = p.infer(ctx, f)
		}
	}

	p.updateRecording(ctx, f, hasDetection)
}

// infer runs the detector and feeds its output through zones, alerts and
// the behavior model. Returns true when a target object was found.
func (p *Pipeline) infer(ctx context.Context, f *frame.Frame) bool {
	p.mu.Lock()
	p.inferences++
	p.mu.Unlock()

	detections, err := p.deps.Detector.Detect(ctx, f)
	if err != nil {
		p.logger.Error("Detection failed", "error", err)
		p.mu.Lock()
		p.lastError = err.Error()
		p.mu.Unlock()
		return false
	}

	kept := detections[:0]
	for _, d := range detections {
		if d.Label == p.cfg.TargetLabel && d.Confidence >= p.cfg.MinConfidence {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		return false
	}

	matched := p.deps.Zones.CheckDetections(kept)
	if len(matched) > 0 {
		p.handleMatches(ctx, f.Timestamp, matched)
	}
	return true
}

// handleMatches records, publishes and scores zone-matched detections,
// then lets the alert coordinator decide what fires.
func (p *Pipeline) handleMatches(ctx context.Context, ts time.Time, matched map[string][]detect.Detection) {
	total := 0
	anomalies := 0

	for zone, detections := range matched {
		total += len(detections)

		for _, d := range detections {
			if _, err := p.deps.Store.LogDetection(ctx, zone, d, nil); err != nil {
				p.logger.Error("Failed to log detection", "zone", zone, "error", err)
			}
			_ = p.deps.Bus.Publish(core.SubjectDetection, core.DetectionEvent{
				Zone:       zone,
				Label:      d.Label,
				Confidence: d.Confidence,
				Timestamp:  ts,
			})
			if p.deps.Behavior != nil {
				p.deps.Behavior.LearnDetection(zone, ts, d.Confidence)
			}
		}

		if p.deps.Behavior != nil {
			res := p.deps.Behavior.CheckAnomaly(zone, ts)
			if res.IsAnomaly {
				anomalies++
				reason := "unusual_frequency"
				if res.UnusualTime {
					reason = "unusual_time"
				}
				p.logger.Warn("Behavioral anomaly", "zone", zone, "reason", reason, "z_score", res.ZScore)
				_ = p.deps.Bus.Publish(core.SubjectAnomaly, core.AnomalyEvent{
					Zone:      zone,
					Reason:    reason,
					Timestamp: ts,
				})
				if err := p.deps.Store.LogSystemEvent(ctx, "anomaly", "warning",
					fmt.Sprintf("anomalous activity in zone %s: %s", zone, reason), nil); err != nil {
					p.logger.Error("Failed to log anomaly", "error", err)
				}
			}
		}
	}

	accepted := p.deps.Alerts.ProcessZoneDetections(matched)
	for _, ev := range accepted {
		_ = p.deps.Bus.Publish(core.SubjectAlert, core.AlertEvent{
			Zone:      ev.Zone,
			Level:     string(ev.Level),
			Timestamp: ev.Timestamp,
		})
		if err := p.deps.Store.LogSystemEvent(ctx, "alert", string(ev.Level),
			fmt.Sprintf("alert in zone %s", ev.Zone), nil); err != nil {
			p.logger.Error("Failed to log alert", "error", err)
		}
	}

	delta := store.DailyDelta{
		Detections: total,
		Alerts:     len(accepted),
		Anomalies:  anomalies,
	}
	if err := p.deps.Store.UpdateDailyStats(ctx, ts, delta); err != nil {
		p.logger.Error("Failed to update daily stats", "error", err)
	}
}

// handleTamper reacts to tamper state transitions: a critical alert, a
// recording, a system event and a bus publish per new condition.
func (p *Pipeline) handleTamper(ctx context.Context, st tamper.Status) {
	p.mu.Lock()
	prev := p.prevTamper
	p.prevTamper = st
	p.mu.Unlock()

	var kinds []string
	if st.Covered && !prev.Covered {
		kinds = append(kinds, "covered")
	}
	if st.Moved && !prev.Moved {
		kinds = append(kinds, "moved")
	}

	for _, kind := range kinds {
		ts := p.now()
		p.logger.Warn("Camera tampering detected", "kind", kind)

		_ = p.deps.Bus.Publish(core.SubjectTamper, core.TamperEvent{Kind: kind, Timestamp: ts})
		if err := p.deps.Store.LogSystemEvent(ctx, "tamper", "critical",
			fmt.Sprintf("camera %s", kind), nil); err != nil {
			p.logger.Error("Failed to log tamper event", "error", err)
		}
		if err := p.deps.Store.UpdateDailyStats(ctx, ts, store.DailyDelta{TamperEvents: 1}); err != nil {
			p.logger.Error("Failed to update daily stats", "error", err)
		}

		rule := p.cfg.TamperRule
		p.deps.Alerts.TriggerAlert("tamper", rule.Level, rule.Duration, rule.Cooldown)
		p.startRecording(ctx, "tamper")
	}
}

// updateRecording starts or advances the event recording for this frame.
func (p *Pipeline) updateRecording(ctx context.Context, f *frame.Frame, hasDetection bool) {
	st := p.deps.Recorder.GetStatus()
	if hasDetection && !st.Recording {
		p.startRecording(ctx, p.cfg.TargetLabel)
		return
	}
	if !st.Recording {
		return
	}

	p.mu.Lock()
	flushed := p.sessionJustStarted
	p.mu.Unlock()
	if flushed {
		// The frame reached the session through the pre-buffer flush.
		return
	}

	p.deps.Recorder.UpdateRecording(f, hasDetection)

	after := p.deps.Recorder.GetStatus()
	if !after.Recording {
		p.logger.Info("Recording completed", "session", st.SessionID, "path", after.LastPath)
		_ = p.deps.Bus.Publish(core.SubjectRecording, core.RecordingEvent{
			SessionID: st.SessionID,
			EventType: st.EventType,
			State:     "completed",
			Timestamp: p.now(),
		})
	}
}

// startRecording opens a session and publishes the start when it is new.
func (p *Pipeline) startRecording(ctx context.Context, eventType string) {
	id, err := p.deps.Recorder.StartRecording(eventType)
	if err != nil {
		p.logger.Error("Failed to start recording", "error", err)
		return
	}

	p.mu.Lock()
	isNew := id != p.lastSessionID
	p.lastSessionID = id
	if isNew {
		p.sessionJustStarted = true
	}
	p.mu.Unlock()
	if !isNew {
		return
	}

	ts := p.now()
	p.logger.Info("Recording started", "session", id, "event_type", eventType)
	_ = p.deps.Bus.Publish(core.SubjectRecording, core.RecordingEvent{
		SessionID: id,
		EventType: eventType,
		State:     "started",
		Timestamp: ts,
	})
	if err := p.deps.Store.UpdateDailyStats(ctx, ts, store.DailyDelta{Recordings: 1}); err != nil {
		p.logger.Error("Failed to update daily stats", "error", err)
	}
}

// maintain runs the periodic storage sweep and behavior persistence.
func (p *Pipeline) maintain(ctx context.Context) {
	defer p.wg.Done()

	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()
	persist := time.NewTicker(p.cfg.BehaviorSaveInterval)
	defer persist.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-cleanup.C:
			deleted, err := p.deps.Governor.Cleanup(false)
			if err != nil {
				p.logger.Error("Storage cleanup failed", "error", err)
			} else if deleted > 0 {
				p.logger.Info("Storage cleanup", "deleted", deleted)
			}
		case <-persist.C:
			if p.deps.Behavior == nil {
				continue
			}
			if removed := p.deps.Behavior.CleanupOldData(); removed > 0 {
				p.logger.Info("Pruned stale behavior samples", "removed", removed)
			}
			if err := p.deps.Behavior.Save(); err != nil {
				p.logger.Error("Failed to persist behavior state", "error", err)
			}
		}
	}
}

// Status is an aggregate snapshot for the API.
type Status struct {
	Running    bool             `json:"running"`
	Frames     int64            `json:"frames"`
	Analyzed   int64            `json:"analyzed"`
	Inferences int64            `json:"inferences"`
	LastError  string           `json:"last_error,omitempty"`
	Camera     camera.Status    `json:"camera"`
	Motion     motion.Stats     `json:"motion"`
	Alerts     alerts.Stats     `json:"alerts"`
	Recording  recording.Status `json:"recording"`
	Tamper     *tamper.Status   `json:"tamper,omitempty"`
	Zones      []zones.Stats    `json:"zones"`
}

// GetStatus returns an aggregate snapshot across components.
func (p *Pipeline) GetStatus() Status {
	p.mu.Lock()
	st := Status{
		Running:    p.running,
		Frames:     p.frames,
		Analyzed:   p.analyzed,
		Inferences: p.inferences,
		LastError:  p.lastError,
		Motion:     p.motionStats,
	}
	p.mu.Unlock()

	st.Camera = p.deps.Source.GetStatus()
	st.Alerts = p.deps.Alerts.GetStats()
	st.Recording = p.deps.Recorder.GetStatus()
	st.Zones = p.deps.Zones.GetStats()
	if p.deps.Tamper != nil {
		ts := p.deps.Tamper.GetStatus()
		st.Tamper = &ts
	}
	return st
}

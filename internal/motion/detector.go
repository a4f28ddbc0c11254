// Package motion provides lightweight background-subtraction motion
// detection and the smart filter that gates expensive inference behind it.
package motion

import (
	"log/slog"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// Region is an axis-aligned bounding box around detected motion, in pixels.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Result holds the outcome of one detection pass.
type Result struct {
	HasMotion bool
	Regions   []Region
}

// Config holds motion detector settings.
type Config struct {
	// PixelThreshold is the per-pixel foreground difference threshold (0-255).
	PixelThreshold uint8
	// MinArea is the minimum region area in pixels to count as motion.
	MinArea int
	// BlurRadius smooths the input before subtraction to reduce noise.
	BlurRadius int
	// LearningRate controls how fast the background model adapts (0-1).
	LearningRate float64
	// CalibrationRate is the fast learning rate used while calibrating.
	CalibrationRate float64
}

// DefaultConfig returns settings tuned for constrained hardware.
func DefaultConfig() Config {
	return Config{
		PixelThreshold:  25,
		MinArea:         500,
		BlurRadius:      2,
		LearningRate:    0.01,
		CalibrationRate: 0.5,
	}
}

// Detector maintains a running background model and extracts motion regions
// from each frame. It is owned by the pipeline thread and is not safe for
// concurrent use.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	// background is a float model of the blurred grayscale scene.
	background []float64
	width      int
	height     int

	framesProcessed int64
	motionFrames    int64
	lastMotion      time.Time
}

// NewDetector creates a motion detector. The background model seeds itself
// from the first frame it sees.
func NewDetector(cfg Config) *Detector {
	if cfg.PixelThreshold == 0 {
		cfg.PixelThreshold = DefaultConfig().PixelThreshold
	}
	if cfg.MinArea <= 0 {
		cfg.MinArea = DefaultConfig().MinArea
	}
	if cfg.LearningRate <= 0 || cfg.LearningRate > 1 {
		cfg.LearningRate = DefaultConfig().LearningRate
	}
	if cfg.CalibrationRate <= 0 || cfg.CalibrationRate > 1 {
		cfg.CalibrationRate = DefaultConfig().CalibrationRate
	}
	if cfg.BlurRadius < 0 {
		cfg.BlurRadius = 0
	}
	return &Detector{
		cfg:    cfg,
		logger: slog.Default().With("component", "motion"),
	}
}

// Detect runs one background-subtraction pass and returns the motion result.
func (d *Detector) Detect(f *frame.Frame) Result {
	d.framesProcessed++

	gray := d.prepare(f)
	if d.background == nil || d.width != gray.Width || d.height != gray.Height {
		d.seed(gray)
		return Result{}
	}

	mask := d.subtract(gray, d.cfg.LearningRate)
	morphOpen(mask, gray.Width, gray.Height)
	morphClose(mask, gray.Width, gray.Height)
	dilate(mask, gray.Width, gray.Height)

	regions := extractRegions(mask, gray.Width, gray.Height, d.cfg.MinArea)
	if len(regions) > 0 {
		d.motionFrames++
		d.lastMotion = f.Timestamp
	}

	return Result{HasMotion: len(regions) > 0, Regions: regions}
}

// Calibrate seeds the background model from an initial batch of frames using
// the fast learning rate, without flagging motion.
func (d *Detector) Calibrate(frames []*frame.Frame) {
	d.logger.Info("Calibrating motion detector", "frames", len(frames))
	for _, f := range frames {
		gray := d.prepare(f)
		if d.background == nil || d.width != gray.Width || d.height != gray.Height {
			d.seed(gray)
			continue
		}
		d.subtract(gray, d.cfg.CalibrationRate)
	}
}

// Reset discards the background model and statistics.
func (d *Detector) Reset() {
	d.background = nil
	d.framesProcessed = 0
	d.motionFrames = 0
	d.lastMotion = time.Time{}
}

// Stats is a read-only snapshot of detector counters.
type Stats struct {
	FramesProcessed int64     `json:"frames_processed"`
	MotionFrames    int64     `json:"motion_frames"`
	MotionRate      float64   `json:"motion_rate"`
	LastMotion      time.Time `json:"last_motion,omitzero"`
}

// GetStats returns detection statistics.
func (d *Detector) GetStats() Stats {
	rate := 0.0
	if d.framesProcessed > 0 {
		rate = float64(d.motionFrames) / float64(d.framesProcessed)
	}
	return Stats{
		FramesProcessed: d.framesProcessed,
		MotionFrames:    d.motionFrames,
		MotionRate:      rate,
		LastMotion:      d.lastMotion,
	}
}

// prepare converts to grayscale and blurs.
func (d *Detector) prepare(f *frame.Frame) *frame.Frame {
	gray := f.Gray()
	if d.cfg.BlurRadius > 0 {
		frame.BoxBlur(gray, d.cfg.BlurRadius)
	}
	return gray
}

// seed initializes the background model from a prepared frame.
func (d *Detector) seed(gray *frame.Frame) {
	d.width = gray.Width
	d.height = gray.Height
	d.background = make([]float64, len(gray.Pix))
	for i, p := range gray.Pix {
		d.background[i] = float64(p)
	}
}

// subtract thresholds the frame against the background model and folds the
// frame into the model at the given learning rate. Returns a binary mask.
func (d *Detector) subtract(gray *frame.Frame, rate float64) []byte {
	mask := make([]byte, len(gray.Pix))
	thr := float64(d.cfg.PixelThreshold)
	for i, p := range gray.Pix {
		v := float64(p)
		diff := v - d.background[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > thr {
			mask[i] = 1
		}
		d.background[i] += rate * (v - d.background[i])
	}
	return mask
}

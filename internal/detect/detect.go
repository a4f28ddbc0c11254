// Package detect defines the detection types and the opaque Detector
// interface the pipeline consumes. Model internals live behind the
// interface; this package only ships results around.
package detect

import (
	"context"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// BoundingBox is an axis-aligned box in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the box.
func (b BoundingBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.Width)/2, float64(b.Y) + float64(b.Height)/2
}

// Area returns the box area in pixels.
func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Detection is a single object detection. Immutable once returned by a
// Detector.
type Detection struct {
	BoundingBox BoundingBox `json:"bbox"`
	Confidence  float64     `json:"confidence"`
	Label       string      `json:"label"`
}

// Detector produces detections for a frame. Implementations may be CPU- or
// accelerator-backed; the pipeline tolerates their latency by throttling
// invocations through the motion gate.
type Detector interface {
	Detect(ctx context.Context, f *frame.Frame) ([]Detection, error)
}

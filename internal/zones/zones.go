// Package zones provides named polygonal detection zones and the index that
// partitions detections into them.
package zones

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentrycam/sentrycam/internal/detect"
)

// Point is a pixel coordinate in the camera frame.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is a named polygonal region of the frame. Zones are configured at
// startup; the only mutation afterwards is enable/disable and the running
// detection counter.
type Zone struct {
	Name    string  `json:"name"`
	Points  []Point `json:"points"`
	Color   string  `json:"color,omitempty"`
	Enabled bool    `json:"enabled"`

	DetectionCount int64     `json:"detection_count"`
	LastDetection  time.Time `json:"last_detection,omitzero"`
}

// NewZone creates a zone. Polygons with fewer than 3 points are rejected
// here rather than surfacing as misbehavior at detection time.
func NewZone(name string, points []Point, color string, enabled bool) (*Zone, error) {
	if name == "" {
		return nil, fmt.Errorf("zone name must not be empty")
	}
	if len(points) < 3 {
		return nil, fmt.Errorf("zone %q: polygon needs at least 3 points, got %d", name, len(points))
	}
	return &Zone{
		Name:    name,
		Points:  points,
		Color:   color,
		Enabled: enabled,
	}, nil
}

// ContainsPoint reports whether the point lies inside the zone polygon,
// using ray casting. Disabled zones never contain anything.
func (z *Zone) ContainsPoint(x, y float64) bool {
	if !z.Enabled {
		return false
	}
	n := len(z.Points)
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := z.Points[i].X, z.Points[i].Y
		xj, yj := z.Points[j].X, z.Points[j].Y
		if ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi)+xi) {
			inside = !inside
		}
		j = i
	}
	return inside
}

// ContainsBBox reports whether the bounding box overlaps the zone: true if
// the box center is inside the polygon, or if at least overlapThreshold of
// its four corners are.
func (z *Zone) ContainsBBox(box detect.BoundingBox, overlapThreshold float64) bool {
	if !z.Enabled {
		return false
	}

	cx, cy := box.Center()
	if z.ContainsPoint(cx, cy) {
		return true
	}

	corners := [4][2]float64{
		{float64(box.X), float64(box.Y)},
		{float64(box.X + box.Width), float64(box.Y)},
		{float64(box.X), float64(box.Y + box.Height)},
		{float64(box.X + box.Width), float64(box.Y + box.Height)},
	}

	inside := 0
	for _, c := range corners {
		if z.ContainsPoint(c[0], c[1]) {
			inside++
		}
	}
	return float64(inside)/4.0 >= overlapThreshold
}

// recordDetection bumps the zone counter.
func (z *Zone) recordDetection(ts time.Time) {
	z.DetectionCount++
	z.LastDetection = ts
}

// Stats is a read-only snapshot of a zone.
type Stats struct {
	Name           string    `json:"name"`
	Enabled        bool      `json:"enabled"`
	DetectionCount int64     `json:"detection_count"`
	LastDetection  time.Time `json:"last_detection,omitzero"`
}

// Index monitors a set of zones and partitions detections into them.
type Index struct {
	mu               sync.RWMutex
	zones            map[string]*Zone
	order            []string
	overlapThreshold float64
	totalDetections  int64
	logger           *slog.Logger
	now              func() time.Time
}

// NewIndex creates a zone index. Zone names must be unique.
func NewIndex(zones []*Zone, overlapThreshold float64) (*Index, error) {
	if overlapThreshold <= 0 {
		overlapThreshold = 0.1
	}
	idx := &Index{
		zones:            make(map[string]*Zone, len(zones)),
		overlapThreshold: overlapThreshold,
		logger:           slog.Default().With("component", "zones"),
		now:              time.Now,
	}
	for _, z := range zones {
		if _, ok := idx.zones[z.Name]; ok {
			return nil, fmt.Errorf("duplicate zone name %q", z.Name)
		}
		idx.zones[z.Name] = z
		idx.order = append(idx.order, z.Name)
	}
	return idx, nil
}

// CheckDetections partitions every detection into all zones it overlaps and
// updates each matched zone's counter. A detection may land in multiple
// zones; that fan-out is intentional. Disabled zones never match.
func (idx *Index) CheckDetections(detections []detect.Detection) map[string][]detect.Detection {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	matched := make(map[string][]detect.Detection)
	ts := idx.now()

	for _, d := range detections {
		for _, name := range idx.order {
			z := idx.zones[name]
			if z.ContainsBBox(d.BoundingBox, idx.overlapThreshold) {
				matched[name] = append(matched[name], d)
				z.recordDetection(ts)
				idx.totalDetections++
			}
		}
	}

	return matched
}

// Zone returns a zone by name.
func (idx *Index) Zone(name string) (*Zone, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	z, ok := idx.zones[name]
	return z, ok
}

// SetEnabled enables or disables a zone by name.
func (idx *Index) SetEnabled(name string, enabled bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	z, ok := idx.zones[name]
	if !ok {
		return fmt.Errorf("zone not found: %s", name)
	}
	z.Enabled = enabled
	idx.logger.Info("Zone state changed", "zone", name, "enabled", enabled)
	return nil
}

// GetStats returns per-zone statistics in configuration order.
func (idx *Index) GetStats() []Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	stats := make([]Stats, 0, len(idx.order))
	for _, name := range idx.order {
		z := idx.zones[name]
		stats = append(stats, Stats{
			Name:           z.Name,
			Enabled:        z.Enabled,
			DetectionCount: z.DetectionCount,
			LastDetection:  z.LastDetection,
		})
	}
	return stats
}

// TotalDetections returns the cumulative zone-match count.
func (idx *Index) TotalDetections() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDetections
}

package motion

import (
	"testing"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

func staticFrame(w, h int, value byte) *frame.Frame {
	f := frame.New(w, h, 1, time.Now())
	for i := range f.Pix {
		f.Pix[i] = value
	}
	return f
}

// paintBlock sets a rectangular block of pixels to a value.
func paintBlock(f *frame.Frame, x, y, w, h int, value byte) {
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			f.Pix[yy*f.Width+xx] = value
		}
	}
}

func newTestDetector() *Detector {
	return NewDetector(Config{
		PixelThreshold:  25,
		MinArea:         20,
		BlurRadius:      0, // keep edges sharp for deterministic assertions
		LearningRate:    0.01,
		CalibrationRate: 0.5,
	})
}

func TestNoMotionOnStaticScene(t *testing.T) {
	d := newTestDetector()

	for i := 0; i < 5; i++ {
		res := d.Detect(staticFrame(32, 32, 100))
		if res.HasMotion {
			t.Fatalf("frame %d: motion on static scene", i)
		}
	}
}

func TestDetectsMovingBlock(t *testing.T) {
	d := newTestDetector()
	d.Calibrate([]*frame.Frame{staticFrame(32, 32, 100), staticFrame(32, 32, 100)})

	f := staticFrame(32, 32, 100)
	paintBlock(f, 8, 8, 10, 10, 220)

	res := d.Detect(f)
	if !res.HasMotion {
		t.Fatal("bright block not detected as motion")
	}
	if len(res.Regions) != 1 {
		t.Fatalf("region count = %d, want 1", len(res.Regions))
	}

	r := res.Regions[0]
	if r.X > 8 || r.Y > 8 || r.X+r.Width < 18 || r.Y+r.Height < 18 {
		t.Errorf("region %+v does not cover the painted block", r)
	}
}

func TestMinAreaFiltersSpeckle(t *testing.T) {
	d := NewDetector(Config{
		PixelThreshold: 25,
		MinArea:        200,
		BlurRadius:     0,
		LearningRate:   0.01,
	})
	d.Calibrate([]*frame.Frame{staticFrame(32, 32, 100), staticFrame(32, 32, 100)})

	f := staticFrame(32, 32, 100)
	paintBlock(f, 10, 10, 6, 6, 220) // 36 px, below MinArea even after dilation

	res := d.Detect(f)
	if res.HasMotion {
		t.Errorf("sub-threshold region reported as motion: %+v", res.Regions)
	}
}

func TestCalibrationAbsorbsScene(t *testing.T) {
	d := newTestDetector()

	// Calibrate against a scene with a fixed bright block.
	scene := staticFrame(32, 32, 100)
	paintBlock(scene, 8, 8, 10, 10, 220)
	d.Calibrate([]*frame.Frame{scene.Clone(), scene.Clone(), scene.Clone(), scene.Clone()})

	// The same scene must not flag motion after calibration.
	res := d.Detect(scene.Clone())
	if res.HasMotion {
		t.Errorf("calibrated scene still flags motion: %+v", res.Regions)
	}
}

func TestStatsTrackMotionRate(t *testing.T) {
	d := newTestDetector()
	d.Calibrate([]*frame.Frame{staticFrame(32, 32, 100), staticFrame(32, 32, 100)})

	d.Detect(staticFrame(32, 32, 100))
	moving := staticFrame(32, 32, 100)
	paintBlock(moving, 8, 8, 10, 10, 220)
	d.Detect(moving)

	st := d.GetStats()
	if st.FramesProcessed != 2 {
		t.Errorf("frames processed = %d, want 2", st.FramesProcessed)
	}
	if st.MotionFrames != 1 {
		t.Errorf("motion frames = %d, want 1", st.MotionFrames)
	}
	if st.MotionRate != 0.5 {
		t.Errorf("motion rate = %v, want 0.5", st.MotionRate)
	}
}

func TestSmartFilterConsecutiveFrames(t *testing.T) {
	f := NewSmartFilter(2, 10*time.Second)
	now := time.Unix(1000, 0)
	f.now = func() time.Time { return now }

	if f.ShouldRunDetection(true) {
		t.Error("triggered after one motion frame, want two")
	}
	if !f.ShouldRunDetection(true) {
		t.Error("did not trigger after two consecutive motion frames")
	}
}

func TestSmartFilterGapResetsCounter(t *testing.T) {
	f := NewSmartFilter(2, 0)
	now := time.Unix(1000, 0)
	f.now = func() time.Time { return now }

	f.ShouldRunDetection(true)
	f.ShouldRunDetection(false) // gap resets the run
	if f.ShouldRunDetection(true) {
		t.Error("triggered without two consecutive motion frames")
	}
	if !f.ShouldRunDetection(true) {
		t.Error("did not trigger once run rebuilt")
	}
}

func TestSmartFilterCooldown(t *testing.T) {
	f := NewSmartFilter(1, 10*time.Second)
	now := time.Unix(1000, 0)
	f.now = func() time.Time { return now }

	if !f.ShouldRunDetection(true) {
		t.Fatal("first trigger suppressed")
	}

	now = now.Add(5 * time.Second)
	if f.ShouldRunDetection(true) {
		t.Error("triggered during cooldown")
	}

	now = now.Add(6 * time.Second)
	if !f.ShouldRunDetection(true) {
		t.Error("did not trigger after cooldown elapsed")
	}
}

package motion

import "time"

// SmartFilter decides when detected motion justifies running the expensive
// object detector. It requires a minimum run of consecutive motion frames
// and enforces a cooldown between triggers, which keeps inference to a small
// fraction of frames.
type SmartFilter struct {
	minMotionFrames int
	cooldown        time.Duration

	motionFrames int
	lastTrigger  time.Time
	now          func() time.Time
}

// NewSmartFilter creates a filter. minMotionFrames below 1 is clamped to 1.
func NewSmartFilter(minMotionFrames int, cooldown time.Duration) *SmartFilter {
	if minMotionFrames < 1 {
		minMotionFrames = 1
	}
	return &SmartFilter{
		minMotionFrames: minMotionFrames,
		cooldown:        cooldown,
		now:             time.Now,
	}
}

// ShouldRunDetection reports whether the object detector should run for this
// frame. It returns true only once at least minMotionFrames consecutive
// frames had motion and the cooldown since the last trigger has elapsed; on
// trigger the consecutive counter resets.
func (f *SmartFilter) ShouldRunDetection(hasMotion bool) bool {
	now := f.now()

	if now.Sub(f.lastTrigger) < f.cooldown {
		return false
	}

	if hasMotion {
		f.motionFrames++
	} else {
		f.motionFrames = 0
	}

	if f.motionFrames >= f.minMotionFrames {
		f.lastTrigger = now
		f.motionFrames = 0
		return true
	}

	return false
}

// Reset clears the filter state.
func (f *SmartFilter) Reset() {
	f.motionFrames = 0
	f.lastTrigger = time.Time{}
}

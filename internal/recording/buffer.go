// Package recording buffers frames around events and writes clipped
// recordings to disk.
package recording

import (
	"github.com/sentrycam/sentrycam/internal/frame"
)

// PreBuffer is a fixed-capacity ring of the most recent frames. Frames are
// cloned on insert; the buffer owns its copies. Not safe for concurrent
// use on its own — the Recorder's mutex covers it.
type PreBuffer struct {
	frames   []*frame.Frame
	head     int
	tail     int
	count    int
	capacity int
}

// NewPreBuffer creates a ring holding at most capacity frames.
func NewPreBuffer(capacity int) *PreBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &PreBuffer{
		frames:   make([]*frame.Frame, capacity),
		capacity: capacity,
	}
}

// Push clones the frame into the ring, evicting the oldest on overflow.
func (b *PreBuffer) Push(f *frame.Frame) {
	b.frames[b.head] = f.Clone()
	b.head = (b.head + 1) % b.capacity

	if b.count < b.capacity {
		b.count++
	} else {
		b.tail = (b.tail + 1) % b.capacity
	}
}

// Snapshot returns the buffered frames oldest first. The returned slice
// shares the buffer's clones; callers must not mutate them.
func (b *PreBuffer) Snapshot() []*frame.Frame {
	if b.count == 0 {
		return nil
	}
	out := make([]*frame.Frame, b.count)
	idx := b.tail
	for i := 0; i < b.count; i++ {
		out[i] = b.frames[idx]
		idx = (idx + 1) % b.capacity
	}
	return out
}

// Count returns the number of buffered frames.
func (b *PreBuffer) Count() int { return b.count }

// Capacity returns the maximum number of buffered frames.
func (b *PreBuffer) Capacity() int { return b.capacity }

// Clear drops all buffered frames.
func (b *PreBuffer) Clear() {
	b.frames = make([]*frame.Frame, b.capacity)
	b.head = 0
	b.tail = 0
	b.count = 0
}

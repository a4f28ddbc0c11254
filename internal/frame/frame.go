// Package frame provides timestamped pixel buffers and the small amount of
// image math the pipeline needs (grayscale, brightness, differencing).
package frame

import (
	"fmt"
	"time"
)

// Frame is a single captured image. Pix is tightly packed row-major data,
// Channels bytes per pixel (1 = grayscale, 3 = BGR). A frame is owned by
// whichever stage currently holds it; stages that retain a frame beyond the
// current iteration must Clone it first.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Channels  int
	Timestamp time.Time
}

// New allocates a zeroed frame.
func New(width, height, channels int, ts time.Time) *Frame {
	return &Frame{
		Pix:       make([]byte, width*height*channels),
		Width:     width,
		Height:    height,
		Channels:  channels,
		Timestamp: ts,
	}
}

// Validate checks that the pixel buffer matches the declared geometry.
func (f *Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", f.Width, f.Height)
	}
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if len(f.Pix) != f.Width*f.Height*f.Channels {
		return fmt.Errorf("pixel buffer size %d does not match %dx%dx%d",
			len(f.Pix), f.Width, f.Height, f.Channels)
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{
		Pix:       pix,
		Width:     f.Width,
		Height:    f.Height,
		Channels:  f.Channels,
		Timestamp: f.Timestamp,
	}
}

// Gray returns a single-channel copy of the frame. Color frames are
// converted with integer BT.601 luma weights; grayscale frames are copied.
func (f *Frame) Gray() *Frame {
	out := New(f.Width, f.Height, 1, f.Timestamp)
	if f.Channels == 1 {
		copy(out.Pix, f.Pix)
		return out
	}
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+1 {
		b := int(f.Pix[i])
		g := int(f.Pix[i+1])
		r := int(f.Pix[i+2])
		out.Pix[j] = byte((299*r + 587*g + 114*b) / 1000)
	}
	return out
}

// MeanBrightness returns the average luma of the frame in [0, 255].
func (f *Frame) MeanBrightness() float64 {
	if len(f.Pix) == 0 {
		return 0
	}
	if f.Channels == 1 {
		var sum uint64
		for _, p := range f.Pix {
			sum += uint64(p)
		}
		return float64(sum) / float64(len(f.Pix))
	}
	var sum uint64
	n := 0
	for i := 0; i < len(f.Pix); i += 3 {
		b := int(f.Pix[i])
		g := int(f.Pix[i+1])
		r := int(f.Pix[i+2])
		sum += uint64((299*r + 587*g + 114*b) / 1000)
		n++
	}
	return float64(sum) / float64(n)
}

// Resize returns a nearest-neighbor resized copy of the frame.
func (f *Frame) Resize(width, height int) *Frame {
	if width == f.Width && height == f.Height {
		return f.Clone()
	}
	out := New(width, height, f.Channels, f.Timestamp)
	for y := 0; y < height; y++ {
		srcY := y * f.Height / height
		for x := 0; x < width; x++ {
			srcX := x * f.Width / width
			src := (srcY*f.Width + srcX) * f.Channels
			dst := (y*width + x) * f.Channels
			copy(out.Pix[dst:dst+f.Channels], f.Pix[src:src+f.Channels])
		}
	}
	return out
}

// DiffRatio compares two grayscale frames of equal size and returns the
// fraction of pixels whose absolute difference exceeds pixelThreshold.
// Mismatched geometry returns an error instead of a bogus ratio.
func DiffRatio(a, b *Frame, pixelThreshold uint8) (float64, error) {
	if a.Channels != 1 || b.Channels != 1 {
		return 0, fmt.Errorf("diff requires grayscale frames")
	}
	if a.Width != b.Width || a.Height != b.Height {
		return 0, fmt.Errorf("diff requires equal dimensions: %dx%d vs %dx%d",
			a.Width, a.Height, b.Width, b.Height)
	}
	changed := 0
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		if d > int(pixelThreshold) {
			changed++
		}
	}
	return float64(changed) / float64(len(a.Pix)), nil
}

// BoxBlur applies an in-place separable box blur of the given odd radius to
// a grayscale frame. It approximates the Gaussian smoothing the motion
// detector needs at a fraction of the cost.
func BoxBlur(f *Frame, radius int) {
	if f.Channels != 1 || radius < 1 {
		return
	}
	w, h := f.Width, f.Height
	tmp := make([]byte, len(f.Pix))

	// Horizontal pass
	for y := 0; y < h; y++ {
		row := f.Pix[y*w : (y+1)*w]
		out := tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			sum, n := 0, 0
			for k := -radius; k <= radius; k++ {
				xx := x + k
				if xx < 0 || xx >= w {
					continue
				}
				sum += int(row[xx])
				n++
			}
			out[x] = byte(sum / n)
		}
	}

	// Vertical pass
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			sum, n := 0, 0
			for k := -radius; k <= radius; k++ {
				yy := y + k
				if yy < 0 || yy >= h {
					continue
				}
				sum += int(tmp[yy*w+x])
				n++
			}
			f.Pix[y*w+x] = byte(sum / n)
		}
	}
}

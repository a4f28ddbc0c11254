package frame

import (
	"testing"
	"time"
)

func TestCloneIsDeep(t *testing.T) {
	f := New(4, 4, 1, time.Now())
	f.Pix[0] = 42

	c := f.Clone()
	c.Pix[0] = 7

	if f.Pix[0] != 42 {
		t.Errorf("clone mutated original: got %d, want 42", f.Pix[0])
	}
	if c.Width != 4 || c.Height != 4 || c.Channels != 1 {
		t.Errorf("clone geometry mismatch: %dx%dx%d", c.Width, c.Height, c.Channels)
	}
}

func TestValidate(t *testing.T) {
	f := New(4, 4, 1, time.Now())
	if err := f.Validate(); err != nil {
		t.Errorf("valid frame rejected: %v", err)
	}

	f.Pix = f.Pix[:3]
	if err := f.Validate(); err == nil {
		t.Error("truncated pixel buffer accepted")
	}

	bad := &Frame{Pix: make([]byte, 32), Width: 4, Height: 4, Channels: 2}
	if err := bad.Validate(); err == nil {
		t.Error("2-channel frame accepted")
	}
}

func TestGrayFromColor(t *testing.T) {
	f := New(2, 1, 3, time.Now())
	// Pure white pixel and pure black pixel (BGR)
	f.Pix[0], f.Pix[1], f.Pix[2] = 255, 255, 255
	f.Pix[3], f.Pix[4], f.Pix[5] = 0, 0, 0

	g := f.Gray()
	if g.Channels != 1 || len(g.Pix) != 2 {
		t.Fatalf("unexpected gray geometry: channels=%d len=%d", g.Channels, len(g.Pix))
	}
	if g.Pix[0] < 250 {
		t.Errorf("white pixel converted to %d", g.Pix[0])
	}
	if g.Pix[1] != 0 {
		t.Errorf("black pixel converted to %d", g.Pix[1])
	}
}

func TestMeanBrightness(t *testing.T) {
	f := New(4, 4, 1, time.Now())
	for i := range f.Pix {
		f.Pix[i] = 100
	}
	if got := f.MeanBrightness(); got != 100 {
		t.Errorf("MeanBrightness = %v, want 100", got)
	}
}

func TestResize(t *testing.T) {
	f := New(4, 4, 1, time.Now())
	for i := range f.Pix {
		f.Pix[i] = byte(i)
	}

	r := f.Resize(2, 2)
	if r.Width != 2 || r.Height != 2 {
		t.Fatalf("resize geometry %dx%d, want 2x2", r.Width, r.Height)
	}
	if r.Pix[0] != f.Pix[0] {
		t.Errorf("top-left pixel changed: %d vs %d", r.Pix[0], f.Pix[0])
	}
}

func TestDiffRatio(t *testing.T) {
	a := New(4, 4, 1, time.Now())
	b := New(4, 4, 1, time.Now())

	ratio, err := DiffRatio(a, b, 30)
	if err != nil {
		t.Fatalf("DiffRatio: %v", err)
	}
	if ratio != 0 {
		t.Errorf("identical frames diff = %v, want 0", ratio)
	}

	// Change half the pixels well past the threshold
	for i := 0; i < 8; i++ {
		b.Pix[i] = 200
	}
	ratio, err = DiffRatio(a, b, 30)
	if err != nil {
		t.Fatalf("DiffRatio: %v", err)
	}
	if ratio != 0.5 {
		t.Errorf("diff = %v, want 0.5", ratio)
	}

	c := New(2, 2, 1, time.Now())
	if _, err := DiffRatio(a, c, 30); err == nil {
		t.Error("mismatched dimensions accepted")
	}
}

func TestBoxBlurSmooths(t *testing.T) {
	f := New(9, 9, 1, time.Now())
	f.Pix[4*9+4] = 255 // single bright pixel

	BoxBlur(f, 1)

	center := f.Pix[4*9+4]
	if center == 255 {
		t.Error("blur did not spread the impulse")
	}
	if f.Pix[3*9+4] == 0 {
		t.Error("blur did not reach neighboring pixel")
	}
}

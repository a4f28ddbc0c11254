package recording

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// memSink records written frames in memory.
type memSink struct {
	frames    []byte
	count     int
	closed    bool
	failAfter int // fail writes once count reaches this; 0 disables
}

func (s *memSink) WriteFrame(f *frame.Frame) error {
	if s.failAfter > 0 && s.count >= s.failAfter {
		return errors.New("disk full")
	}
	s.frames = append(s.frames, f.Pix[0])
	s.count++
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func newTestRecorder(t *testing.T) (*Recorder, *memSink, *fakeRecorderClock) {
	t.Helper()
	r, err := NewRecorder(Config{
		OutputDir:         t.TempDir(),
		FPS:               10,
		PreBufferSeconds:  5,
		PostBufferSeconds: 10,
		MaxDuration:       time.Minute,
	})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	sink := &memSink{}
	r.newSink = func(string) (FrameSink, error) { return sink, nil }
	clk := &fakeRecorderClock{t: time.Date(2026, 4, 2, 22, 0, 0, 0, time.UTC)}
	r.now = clk.now
	return r, sink, clk
}

type fakeRecorderClock struct {
	t time.Time
}

func (c *fakeRecorderClock) now() time.Time          { return c.t }
func (c *fakeRecorderClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestStartRecordingFlushesPreBuffer(t *testing.T) {
	r, sink, _ := newTestRecorder(t)

	for i := 1; i <= 7; i++ {
		r.AddFrame(seqFrame(i))
	}
	id, err := r.StartRecording("person_detected")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	if len(sink.frames) != 7 {
		t.Fatalf("flushed %d frames, want 7", len(sink.frames))
	}
	for i, seq := range sink.frames {
		if seq != byte(i+1) {
			t.Fatalf("flush order broken at %d: got frame %d", i, seq)
		}
	}
	st := r.GetStatus()
	if !st.Recording || st.FrameCount != 7 {
		t.Errorf("status = %+v, want recording with 7 frames", st)
	}
}

func TestStartRecordingIdempotent(t *testing.T) {
	r, _, clk := newTestRecorder(t)

	id1, err := r.StartRecording("person_detected")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	clk.advance(5 * time.Second)
	id2, err := r.StartRecording("person_detected")
	if err != nil {
		t.Fatalf("second StartRecording: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("second start created a new session: %s vs %s", id1, id2)
	}

	// The re-start refreshed last-activity at t=5, so the post-buffer
	// window (10s) runs to t=15, not t=10.
	clk.advance(9 * time.Second) // t=14
	r.UpdateRecording(seqFrame(1), false)
	if !r.GetStatus().Recording {
		t.Fatal("stopped before refreshed post-buffer elapsed")
	}
	clk.advance(time.Second) // t=15
	r.UpdateRecording(seqFrame(2), false)
	if r.GetStatus().Recording {
		t.Fatal("still recording after refreshed post-buffer elapsed")
	}
}

func TestFrameCountInvariant(t *testing.T) {
	r, sink, clk := newTestRecorder(t)

	for i := 1; i <= 12; i++ {
		r.AddFrame(seqFrame(i))
	}
	if _, err := r.StartRecording("person_detected"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	live := 25
	for i := 0; i < live; i++ {
		clk.advance(100 * time.Millisecond)
		r.UpdateRecording(seqFrame(100+i), true)
	}
	r.StopRecording()

	want := 12 + live
	if len(sink.frames) != want {
		t.Errorf("frames written = %d, want prebuffer 12 + live %d", len(sink.frames), live)
	}
	if !sink.closed {
		t.Error("sink not closed")
	}
	if st := r.GetStatus(); st.Completed != 1 || st.Recording {
		t.Errorf("status = %+v, want one completed session", st)
	}
}

func TestPostBufferHysteresis(t *testing.T) {
	r, _, clk := newTestRecorder(t)

	if _, err := r.StartRecording("person_detected"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	// Detections keep refreshing activity; recording must continue well
	// past the first post-buffer window.
	for i := 0; i < 4; i++ {
		clk.advance(5 * time.Second)
		r.UpdateRecording(seqFrame(i), true)
	}
	if !r.GetStatus().Recording {
		t.Fatal("stopped while detections were still arriving")
	}

	// Quiet frames: stops once 10s pass since the last detection.
	clk.advance(9 * time.Second)
	r.UpdateRecording(seqFrame(50), false)
	if !r.GetStatus().Recording {
		t.Fatal("stopped before post-buffer elapsed")
	}
	clk.advance(time.Second)
	r.UpdateRecording(seqFrame(51), false)
	if r.GetStatus().Recording {
		t.Fatal("still recording after post-buffer elapsed")
	}
}

func TestMaxDurationCutoff(t *testing.T) {
	r, _, clk := newTestRecorder(t)

	if _, err := r.StartRecording("person_detected"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	// Constant detections never let the post-buffer expire; only the
	// max-duration cutoff can stop this session.
	for i := 0; i < 11; i++ {
		clk.advance(6 * time.Second)
		r.UpdateRecording(seqFrame(i), true)
	}
	if r.GetStatus().Recording {
		t.Error("still recording past max duration")
	}
	if st := r.GetStatus(); st.Completed != 1 {
		t.Errorf("completed = %d, want 1", st.Completed)
	}
}

func TestWriteFailureAbortsSessionOnly(t *testing.T) {
	r, sink, clk := newTestRecorder(t)
	sink.failAfter = 2

	r.AddFrame(seqFrame(1))
	if _, err := r.StartRecording("person_detected"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	clk.advance(100 * time.Millisecond)
	r.UpdateRecording(seqFrame(2), true) // write 2 succeeds
	clk.advance(100 * time.Millisecond)
	r.UpdateRecording(seqFrame(3), true) // write 3 fails -> abort

	st := r.GetStatus()
	if st.Recording {
		t.Fatal("session survived a write failure")
	}
	if st.Aborted != 1 || st.Completed != 0 {
		t.Errorf("status = %+v, want aborted=1 completed=0", st)
	}
	if !sink.closed {
		t.Error("aborted sink not closed")
	}

	// The recorder itself keeps working: a fresh session starts fine.
	fresh := &memSink{}
	r.newSink = func(string) (FrameSink, error) { return fresh, nil }
	if _, err := r.StartRecording("person_detected"); err != nil {
		t.Fatalf("restart after abort: %v", err)
	}
	if !r.GetStatus().Recording {
		t.Error("no session after restart")
	}
}

func TestAddFrameIndependentOfRecordingState(t *testing.T) {
	r, _, _ := newTestRecorder(t)

	// Pushing frames while idle only fills the pre-buffer.
	for i := 0; i < 5; i++ {
		r.AddFrame(seqFrame(i))
	}
	st := r.GetStatus()
	if st.Recording || st.BufferedFrames != 5 {
		t.Errorf("status = %+v, want idle with 5 buffered frames", st)
	}
}

func TestMJPEGSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/clip.mjpeg"
	sink, err := NewMJPEGSink(path, 80)
	if err != nil {
		t.Fatalf("NewMJPEGSink: %v", err)
	}

	f := frame.New(8, 8, 1, time.Now())
	for i := 0; i < 3; i++ {
		if err := sink.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read clip: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != "MJPG" {
		t.Fatal("missing stream magic")
	}
	// Walk the length-prefixed frames.
	off := 4
	frames := 0
	for off < len(data) {
		if off+4 > len(data) {
			t.Fatal("truncated length prefix")
		}
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if off+n > len(data) {
			t.Fatalf("frame %d overruns file", frames)
		}
		if data[off] != 0xFF || data[off+1] != 0xD8 {
			t.Fatalf("frame %d is not JPEG", frames)
		}
		off += n
		frames++
	}
	if frames != 3 {
		t.Errorf("decoded %d frames, want 3", frames)
	}
}

func TestMJPEGSinkRefusesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/clip.mjpeg"
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewMJPEGSink(path, 80); err == nil {
		t.Error("overwrote an existing recording")
	}
}

func TestRecordingFileNaming(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(Config{OutputDir: dir, FPS: 10, PreBufferSeconds: 1, PostBufferSeconds: 1})
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	start := time.Date(2026, 4, 2, 22, 15, 30, 0, time.UTC)
	r.now = func() time.Time { return start }

	if _, err := r.StartRecording("person_detected"); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	r.StopRecording()

	want := fmt.Sprintf("%s/person_detected_20260402_221530.mjpeg", dir)
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected recording at %s: %v", want, err)
	}
}

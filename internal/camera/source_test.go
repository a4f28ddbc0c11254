package camera

import (
	"errors"
	"testing"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// fakeReader returns scripted results per ReadFrame call.
type fakeReader struct {
	results []error
	call    int
	closed  bool
}

func (r *fakeReader) ReadFrame() (*frame.Frame, error) {
	var err error
	if r.call < len(r.results) {
		err = r.results[r.call]
	}
	r.call++
	if err != nil {
		return nil, err
	}
	return frame.New(2, 2, 1, time.Now()), nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func newTestSource(dial Dialer) *Source {
	s := NewSource(dial, Config{MaxFailures: 3, ReconnectBackoff: time.Millisecond})
	s.sleep = func(time.Duration) {} // no real waiting in tests
	return s
}

func TestReadBeforeStart(t *testing.T) {
	s := newTestSource(func() (Reader, error) { return &fakeReader{}, nil })
	if _, err := s.Read(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Read before Start: got %v, want ErrNotOpen", err)
	}
}

func TestReadReturnsCachedFrameOnFailure(t *testing.T) {
	readErr := errors.New("read failed")
	r := &fakeReader{results: []error{nil, readErr}}
	s := newTestSource(func() (Reader, error) { return r, nil })

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first, err := s.Read()
	if err != nil || first == nil {
		t.Fatalf("first read: frame=%v err=%v", first, err)
	}

	// Failed read should fall back to the cached frame
	second, err := s.Read()
	if err != nil {
		t.Fatalf("read after failure: %v", err)
	}
	if second != first {
		t.Error("expected last good frame on failure")
	}

	st := s.GetStatus()
	if st.Failures != 1 {
		t.Errorf("failure count = %d, want 1", st.Failures)
	}
}

func TestReconnectAfterMaxFailures(t *testing.T) {
	readErr := errors.New("read failed")
	dials := 0
	var first *fakeReader
	dial := func() (Reader, error) {
		dials++
		if dials == 1 {
			first = &fakeReader{results: []error{nil, readErr, readErr, readErr}}
			return first, nil
		}
		return &fakeReader{}, nil // healthy replacement
	}
	s := newTestSource(dial)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// One good read, then three failures; the third crosses MaxFailures and
	// reconnects in-line.
	for i := 0; i < 4; i++ {
		if _, err := s.Read(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}

	if dials != 2 {
		t.Errorf("dial count = %d, want 2", dials)
	}
	if first == nil || !first.closed {
		t.Error("failed reader was not closed on reconnect")
	}

	st := s.GetStatus()
	if !st.Open || st.Failures != 0 || st.Reconnects != 1 {
		t.Errorf("post-reconnect status = %+v", st)
	}
}

func TestFailedReconnectClosesSource(t *testing.T) {
	readErr := errors.New("read failed")
	dialErr := errors.New("dial failed")
	dials := 0
	dial := func() (Reader, error) {
		dials++
		if dials == 1 {
			return &fakeReader{results: []error{readErr, readErr, readErr, readErr}}, nil
		}
		return nil, dialErr
	}
	s := newTestSource(dial)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// First two failures fall back, the third triggers the failing reconnect.
	_, _ = s.Read()
	_, _ = s.Read()
	if _, err := s.Read(); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after failed reconnect, got %v", err)
	}

	if s.IsOpen() {
		t.Error("source still open after failed reconnect")
	}
	if _, err := s.Read(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("subsequent reads should return ErrNotOpen, got %v", err)
	}

	// Start recovers the source.
	dial2Called := false
	s.dial = func() (Reader, error) {
		dial2Called = true
		return &fakeReader{}, nil
	}
	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !dial2Called {
		t.Error("Start did not redial")
	}
	if _, err := s.Read(); err != nil {
		t.Errorf("read after restart: %v", err)
	}
}

func TestStartIdempotent(t *testing.T) {
	dials := 0
	s := newTestSource(func() (Reader, error) {
		dials++
		return &fakeReader{}, nil
	})

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if dials != 1 {
		t.Errorf("dial count = %d, want 1", dials)
	}
}

package recording

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// FrameSink receives the frames of one recording session. Implementations
// own their output handle; Close flushes and finalizes it.
type FrameSink interface {
	WriteFrame(f *frame.Frame) error
	Close() error
}

// SinkFactory opens a sink for a new session at the given path.
type SinkFactory func(path string) (FrameSink, error)

// mjpegMagic marks a length-prefixed JPEG frame stream.
var mjpegMagic = [4]byte{'M', 'J', 'P', 'G'}

// MJPEGSink writes frames as a stream of length-prefixed JPEG images. The
// format keeps the writer codec-free and each frame independently
// decodable after a crash.
type MJPEGSink struct {
	file    *os.File
	w       *bufio.Writer
	quality int
}

// NewMJPEGSink creates the output file and writes the stream header.
func NewMJPEGSink(path string, quality int) (*MJPEGSink, error) {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	w := bufio.NewWriterSize(file, 256<<10)
	if _, err := w.Write(mjpegMagic[:]); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write recording header: %w", err)
	}
	return &MJPEGSink{file: file, w: w, quality: quality}, nil
}

// WriteFrame appends one JPEG-encoded frame.
func (s *MJPEGSink) WriteFrame(f *frame.Frame) error {
	encoded, err := f.JPEGBytes(s.quality)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(encoded)))
	if _, err := s.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if _, err := s.w.Write(encoded); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close flushes and syncs the output file.
func (s *MJPEGSink) Close() error {
	if err := s.w.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to flush recording: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("failed to sync recording: %w", err)
	}
	return s.file.Close()
}

package camera

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// StreamConfig holds network stream settings.
type StreamConfig struct {
	Address        string        // host:port of the frame stream
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Width          int
	Height         int
	Channels       int
}

// maxFrameBytes caps a single frame read so a corrupt length prefix cannot
// trigger an unbounded allocation.
const maxFrameBytes = 32 << 20

// StreamReader reads raw frames from a TCP stream. Each frame on the wire is
// a 4-byte big-endian payload length followed by packed pixel data matching
// the configured geometry. The small bufio buffer keeps per-read syscall
// overhead down without letting stale frames accumulate.
type StreamReader struct {
	conn        net.Conn
	br          *bufio.Reader
	cfg         StreamConfig
	frameBytes  int
}

// DialStream connects to a network frame stream with a bounded timeout.
func DialStream(cfg StreamConfig) (*StreamReader, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 5 * time.Second
	}

	conn, err := net.DialTimeout("tcp", cfg.Address, cfg.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Address, err)
	}

	return &StreamReader{
		conn:       conn,
		br:         bufio.NewReaderSize(conn, 64*1024),
		cfg:        cfg,
		frameBytes: cfg.Width * cfg.Height * cfg.Channels,
	}, nil
}

// ReadFrame reads one frame, bounded by the configured read timeout.
func (r *StreamReader) ReadFrame() (*frame.Frame, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}

	var length uint32
	if err := binary.Read(r.br, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}
	if length == 0 || length > maxFrameBytes {
		return nil, fmt.Errorf("invalid frame length %d", length)
	}
	if r.frameBytes > 0 && int(length) != r.frameBytes {
		return nil, fmt.Errorf("frame length %d does not match configured geometry %d", length, r.frameBytes)
	}

	pix := make([]byte, length)
	if _, err := io.ReadFull(r.br, pix); err != nil {
		return nil, fmt.Errorf("failed to read frame payload: %w", err)
	}

	f := &frame.Frame{
		Pix:       pix,
		Width:     r.cfg.Width,
		Height:    r.cfg.Height,
		Channels:  r.cfg.Channels,
		Timestamp: time.Now(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Close closes the underlying connection.
func (r *StreamReader) Close() error {
	return r.conn.Close()
}

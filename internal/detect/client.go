package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sentrycam/sentrycam/internal/frame"
)

// ClientConfig holds HTTP detector client settings.
type ClientConfig struct {
	Address       string // host:port of the inference server
	Timeout       time.Duration
	MinConfidence float64
	JPEGQuality   int
}

// Client is an HTTP client for an external inference server. It posts JPEG
// frames and decodes bounding boxes back.
type Client struct {
	mu         sync.Mutex
	httpClient *http.Client
	baseURL    string
	cfg        ClientConfig
	logger     *slog.Logger

	requestCount int64
	errorCount   int64
	totalLatency time.Duration
}

// NewClient creates a detector client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 80
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    fmt.Sprintf("http://%s", cfg.Address),
		cfg:        cfg,
		logger:     slog.Default().With("component", "detector_client"),
	}
}

// Detect sends the frame for inference and returns detections in pixel
// coordinates.
func (c *Client) Detect(ctx context.Context, f *frame.Frame) ([]Detection, error) {
	c.mu.Lock()
	c.requestCount++
	c.mu.Unlock()

	start := time.Now()

	encoded, err := f.JPEGBytes(c.cfg.JPEGQuality)
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"image_data":     base64.StdEncoding.EncodeToString(encoded),
		"width":          f.Width,
		"height":         f.Height,
		"min_confidence": c.cfg.MinConfidence,
	})
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.countError()
		return nil, fmt.Errorf("detection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.countError()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Detections []struct {
			Label      string  `json:"label"`
			Confidence float64 `json:"confidence"`
			BBox       struct {
				X      int `json:"x"`
				Y      int `json:"y"`
				Width  int `json:"width"`
				Height int `json:"height"`
			} `json:"bbox"`
		} `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.countError()
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.mu.Lock()
	c.totalLatency += time.Since(start)
	c.mu.Unlock()

	detections := make([]Detection, 0, len(result.Detections))
	for _, d := range result.Detections {
		detections = append(detections, Detection{
			Label:      d.Label,
			Confidence: d.Confidence,
			BoundingBox: BoundingBox{
				X:      d.BBox.X,
				Y:      d.BBox.Y,
				Width:  d.BBox.Width,
				Height: d.BBox.Height,
			},
		})
	}
	return detections, nil
}

// Status is a snapshot of client counters.
type Status struct {
	RequestCount int64   `json:"request_count"`
	ErrorCount   int64   `json:"error_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// GetStatus returns client statistics.
func (c *Client) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	avg := 0.0
	if c.requestCount > 0 {
		avg = float64(c.totalLatency.Milliseconds()) / float64(c.requestCount)
	}
	return Status{
		RequestCount: c.requestCount,
		ErrorCount:   c.errorCount,
		AvgLatencyMs: avg,
	}
}

func (c *Client) countError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

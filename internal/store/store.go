// Package store persists detection and system events. The pipeline only
// appends; reads exist for dashboard snapshots.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sentrycam/sentrycam/internal/database"
	"github.com/sentrycam/sentrycam/internal/detect"
)

// DailyDelta is the increment applied to one day's aggregate row.
type DailyDelta struct {
	Detections   int
	Alerts       int
	Recordings   int
	TamperEvents int
	Anomalies    int
}

// Totals is an aggregate snapshot for the dashboard.
type Totals struct {
	Detections   int64 `json:"detections"`
	SystemEvents int64 `json:"system_events"`
}

// EventStore is the append-only event sink the pipeline writes to.
type EventStore interface {
	LogDetection(ctx context.Context, zone string, d detect.Detection, metadata map[string]any) (string, error)
	LogSystemEvent(ctx context.Context, kind, severity, message string, metadata map[string]any) error
	UpdateDailyStats(ctx context.Context, day time.Time, delta DailyDelta) error
	Totals(ctx context.Context) (Totals, error)
}

// SQLiteStore implements EventStore on the shared database handle.
type SQLiteStore struct {
	db     *database.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a store over an open, migrated database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: slog.Default().With("component", "store"),
	}
}

func marshalMetadata(metadata map[string]any) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(data), nil
}

// LogDetection appends one detection event and returns its id.
func (s *SQLiteStore) LogDetection(ctx context.Context, zone string, d detect.Detection, metadata map[string]any) (string, error) {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO detections (id, zone, label, confidence, bbox_x, bbox_y, bbox_width, bbox_height, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, zone, d.Label, d.Confidence,
		d.BoundingBox.X, d.BoundingBox.Y, d.BoundingBox.Width, d.BoundingBox.Height,
		meta,
	)
	if err != nil {
		return "", fmt.Errorf("failed to log detection: %w", err)
	}
	return id, nil
}

// LogSystemEvent appends one system event (tamper, recording, anomaly,
// lifecycle).
func (s *SQLiteStore) LogSystemEvent(ctx context.Context, kind, severity, message string, metadata map[string]any) error {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO system_events (id, kind, severity, message, metadata)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), kind, severity, message, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to log system event: %w", err)
	}
	return nil
}

// UpdateDailyStats applies the delta to the day's aggregate row, creating
// it on first touch.
func (s *SQLiteStore) UpdateDailyStats(ctx context.Context, day time.Time, delta DailyDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (day, detections, alerts, recordings, tamper_events, anomalies)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET
			detections = detections + excluded.detections,
			alerts = alerts + excluded.alerts,
			recordings = recordings + excluded.recordings,
			tamper_events = tamper_events + excluded.tamper_events,
			anomalies = anomalies + excluded.anomalies,
			updated_at = unixepoch()`,
		day.Format("2006-01-02"),
		delta.Detections, delta.Alerts, delta.Recordings, delta.TamperEvents, delta.Anomalies,
	)
	if err != nil {
		return fmt.Errorf("failed to update daily stats: %w", err)
	}
	return nil
}

// DailyStats is one day's aggregate row.
type DailyStats struct {
	Day          string `json:"day"`
	Detections   int64  `json:"detections"`
	Alerts       int64  `json:"alerts"`
	Recordings   int64  `json:"recordings"`
	TamperEvents int64  `json:"tamper_events"`
	Anomalies    int64  `json:"anomalies"`
}

// GetDailyStats returns the aggregate row for a day, zero-valued when the
// day has no activity.
func (s *SQLiteStore) GetDailyStats(ctx context.Context, day time.Time) (DailyStats, error) {
	st := DailyStats{Day: day.Format("2006-01-02")}
	err := s.db.QueryRowContext(ctx, `
		SELECT detections, alerts, recordings, tamper_events, anomalies
		FROM daily_stats WHERE day = ?`, st.Day,
	).Scan(&st.Detections, &st.Alerts, &st.Recordings, &st.TamperEvents, &st.Anomalies)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to query daily stats: %w", err)
	}
	return st, nil
}

// Totals returns cumulative event counts.
func (s *SQLiteStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM detections").Scan(&t.Detections); err != nil {
		return t, fmt.Errorf("failed to count detections: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM system_events").Scan(&t.SystemEvents); err != nil {
		return t, fmt.Errorf("failed to count system events: %w", err)
	}
	return t, nil
}

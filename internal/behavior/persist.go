package behavior

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// stateFile is the on-disk representation of the model.
type stateFile struct {
	Zones     map[string]*zoneProfile `json:"zones"`
	Anomalies []Anomaly               `json:"anomalies"`
	Metadata  stateMetadata           `json:"metadata"`
}

type stateMetadata struct {
	LearningPeriodDays int       `json:"learning_period_days"`
	AnomalyThreshold   float64   `json:"anomaly_threshold"`
	BucketMinutes      int       `json:"bucket_minutes"`
	LastUpdated        time.Time `json:"last_updated"`
}

// Save writes the model state atomically: marshal to a temp file in the
// same directory, then rename over the target.
func (m *Model) Save() error {
	m.mu.Lock()
	state := stateFile{
		Zones:     m.zones,
		Anomalies: m.anomalies,
		Metadata: stateMetadata{
			LearningPeriodDays: m.cfg.LearningPeriodDays,
			AnomalyThreshold:   m.cfg.AnomalyThreshold,
			BucketMinutes:      m.cfg.BucketMinutes,
			LastUpdated:        m.now(),
		},
	}
	data, err := json.MarshalIndent(state, "", "  ")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to marshal behavior state: %w", err)
	}

	dir := filepath.Dir(m.cfg.StatePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".behavior-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write behavior state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpPath, m.cfg.StatePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace behavior state: %w", err)
	}

	m.logger.Info("Behavior state saved", "path", m.cfg.StatePath)
	return nil
}

// load reads persisted state. Called during construction only.
func (m *Model) load() error {
	data, err := os.ReadFile(m.cfg.StatePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read behavior state: %w", err)
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse behavior state: %w", err)
	}

	if state.Zones != nil {
		m.zones = state.Zones
		for _, p := range m.zones {
			if p.Buckets == nil {
				p.Buckets = make(map[BucketKey][]Sample)
			}
		}
	}
	m.anomalies = state.Anomalies

	m.logger.Info("Behavior state loaded",
		"path", m.cfg.StatePath,
		"zones", len(m.zones))
	return nil
}

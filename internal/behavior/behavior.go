// Package behavior learns per-zone activity patterns over time buckets
// and scores new detections for anomalies.
package behavior

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"
)

// Config holds behavior model settings.
type Config struct {
	LearningPeriodDays int
	MinSamples         int
	AnomalyThreshold   float64
	BucketMinutes      int
	StatePath          string
	AnomalyLogSize     int
}

// BucketKey identifies one (weekday, time-of-day slot) bucket. Slot is the
// start of the bucket in minutes since midnight.
type BucketKey struct {
	Weekday time.Weekday
	Slot    int
}

// MarshalText encodes the key as "weekday_HH:MM" so bucket maps serialize
// directly.
func (k BucketKey) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d_%02d:%02d", int(k.Weekday), k.Slot/60, k.Slot%60)), nil
}

// UnmarshalText decodes "weekday_HH:MM".
func (k *BucketKey) UnmarshalText(text []byte) error {
	var wd, hour, minute int
	if _, err := fmt.Sscanf(string(text), "%d_%d:%d", &wd, &hour, &minute); err != nil {
		return fmt.Errorf("invalid bucket key %q: %w", text, err)
	}
	k.Weekday = time.Weekday(wd)
	k.Slot = hour*60 + minute
	return nil
}

// Sample is one learned detection event.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// ZoneStats aggregates per-zone learning state.
type ZoneStats struct {
	TotalDetections int64     `json:"total_detections"`
	FirstSeen       time.Time `json:"first_seen,omitzero"`
	LastSeen        time.Time `json:"last_seen,omitzero"`
	AnomalyCount    int64     `json:"anomaly_count"`
}

// zoneProfile is the full learned state for one zone.
type zoneProfile struct {
	Buckets map[BucketKey][]Sample `json:"buckets"`
	Stats   ZoneStats              `json:"stats"`
}

// Anomaly is one scored anomaly event.
type Anomaly struct {
	Zone             string    `json:"zone"`
	Timestamp        time.Time `json:"timestamp"`
	Reason           string    `json:"reason"` // "unusual_time" or "unusual_frequency"
	ExpectedPerWeek  float64   `json:"expected_per_week"`
	RecentCount      int       `json:"recent_count"`
	UnusualTime      bool      `json:"unusual_time"`
	UnusualFrequency bool      `json:"unusual_frequency"`
}

// Result is the outcome of one anomaly check.
type Result struct {
	Learning         bool    `json:"learning"`
	IsAnomaly        bool    `json:"is_anomaly"`
	UnusualTime      bool    `json:"unusual_time"`
	UnusualFrequency bool    `json:"unusual_frequency"`
	ExpectedPerWeek  float64 `json:"expected_per_week"`
	RecentCount      int     `json:"recent_count"`
	StdDev           float64 `json:"std_dev"`
	ZScore           float64 `json:"z_score"`
	Samples          int     `json:"samples"`
}

// Model learns and scores zone activity. Owned by the pipeline goroutine;
// the mutex protects API snapshot reads.
type Model struct {
	mu     sync.Mutex
	cfg    Config
	logger *slog.Logger

	zones     map[string]*zoneProfile
	anomalies []Anomaly

	now func() time.Time
}

// NewModel creates a behavior model, loading persisted state from
// cfg.StatePath when present. A missing or unreadable state file starts
// the model empty.
func NewModel(cfg Config) *Model {
	if cfg.LearningPeriodDays <= 0 {
		cfg.LearningPeriodDays = 7
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 2.5
	}
	if cfg.BucketMinutes <= 0 {
		cfg.BucketMinutes = 30
	}
	if cfg.AnomalyLogSize <= 0 {
		cfg.AnomalyLogSize = 100
	}

	m := &Model{
		cfg:    cfg,
		logger: slog.Default().With("component", "behavior"),
		zones:  make(map[string]*zoneProfile),
		now:    time.Now,
	}
	if cfg.StatePath != "" {
		if err := m.load(); err != nil {
			m.logger.Warn("Failed to load behavior state, starting empty", "error", err)
		}
	}
	return m
}

// bucketFor maps a timestamp into its (weekday, slot) bucket.
func (m *Model) bucketFor(ts time.Time) BucketKey {
	minutes := ts.Hour()*60 + ts.Minute()
	return BucketKey{
		Weekday: ts.Weekday(),
		Slot:    minutes / m.cfg.BucketMinutes * m.cfg.BucketMinutes,
	}
}

// LearnDetection records one detection into the zone's bucket history and
// updates aggregate stats. This is the only operation that mutates the
// learned history.
func (m *Model) LearnDetection(zone string, ts time.Time, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.zones[zone]
	if !ok {
		p = &zoneProfile{Buckets: make(map[BucketKey][]Sample)}
		m.zones[zone] = p
	}

	key := m.bucketFor(ts)
	p.Buckets[key] = append(p.Buckets[key], Sample{Timestamp: ts, Confidence: confidence})

	p.Stats.TotalDetections++
	if p.Stats.FirstSeen.IsZero() {
		p.Stats.FirstSeen = ts
	}
	p.Stats.LastSeen = ts
}

// CheckAnomaly scores the timestamp against the zone's learned history.
// With fewer than MinSamples events in the bucket the model is still
// learning and nothing is flagged. The learned history is never mutated
// here; only the anomaly log is appended to.
func (m *Model) CheckAnomaly(zone string, ts time.Time) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.zones[zone]
	if !ok {
		return Result{Learning: true}
	}

	history := p.Buckets[m.bucketFor(ts)]
	if len(history) < m.cfg.MinSamples {
		return Result{Learning: true, Samples: len(history)}
	}

	// One count per ISO year-week of the bucket's history.
	weekCounts := make(map[string]int)
	for _, s := range history {
		year, week := s.Timestamp.ISOWeek()
		weekCounts[fmt.Sprintf("%d-%02d", year, week)]++
	}
	counts := make([]float64, 0, len(weekCounts))
	for _, n := range weekCounts {
		counts = append(counts, float64(n))
	}

	mean := meanOf(counts)
	std := 1.0
	if len(counts) > 1 {
		std = stdOf(counts, mean)
	}

	// A slot that historically sees under one event per week makes any
	// event there notable.
	unusualTime := mean < 1.0

	// Compare the last rolling hour against the weekly distribution.
	cutoff := ts.Add(-time.Hour)
	recent := 0
	for _, s := range history {
		if s.Timestamp.After(cutoff) {
			recent++
		}
	}
	zScore := 0.0
	unusualFrequency := false
	if std > 0 {
		zScore = (float64(recent) - mean) / std
		unusualFrequency = zScore > m.cfg.AnomalyThreshold
	}

	res := Result{
		IsAnomaly:        unusualTime || unusualFrequency,
		UnusualTime:      unusualTime,
		UnusualFrequency: unusualFrequency,
		ExpectedPerWeek:  mean,
		RecentCount:      recent,
		StdDev:           std,
		ZScore:           zScore,
		Samples:          len(history),
	}

	if res.IsAnomaly {
		reason := "unusual_frequency"
		if unusualTime {
			reason = "unusual_time"
		}
		m.anomalies = append(m.anomalies, Anomaly{
			Zone:             zone,
			Timestamp:        ts,
			Reason:           reason,
			ExpectedPerWeek:  mean,
			RecentCount:      recent,
			UnusualTime:      unusualTime,
			UnusualFrequency: unusualFrequency,
		})
		if len(m.anomalies) > m.cfg.AnomalyLogSize {
			m.anomalies = m.anomalies[len(m.anomalies)-m.cfg.AnomalyLogSize:]
		}
		p.Stats.AnomalyCount++
		m.logger.Warn("Behavioral anomaly detected",
			"zone", zone,
			"reason", reason,
			"expected_per_week", mean,
			"recent_count", recent)
	}
	return res
}

// CleanupOldData prunes bucket entries older than the learning period and
// removes buckets that end up empty. Returns the number of pruned events.
func (m *Model) CleanupOldData() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().AddDate(0, 0, -m.cfg.LearningPeriodDays)
	removed := 0

	for _, p := range m.zones {
		for key, samples := range p.Buckets {
			kept := samples[:0]
			for _, s := range samples {
				if s.Timestamp.After(cutoff) {
					kept = append(kept, s)
				}
			}
			removed += len(samples) - len(kept)
			if len(kept) == 0 {
				delete(p.Buckets, key)
			} else {
				p.Buckets[key] = kept
			}
		}
	}

	if removed > 0 {
		m.logger.Info("Behavior history pruned", "removed", removed)
	}
	return removed
}

// RecentAnomalies returns up to limit of the newest anomalies, oldest
// first.
func (m *Model) RecentAnomalies(limit int) []Anomaly {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.anomalies) {
		limit = len(m.anomalies)
	}
	out := make([]Anomaly, limit)
	copy(out, m.anomalies[len(m.anomalies)-limit:])
	return out
}

// HourActivity summarizes one hour of a zone's history.
type HourActivity struct {
	Detections    int     `json:"detections"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// Profile is the learned behavioral profile of one zone.
type Profile struct {
	Zone            string               `json:"zone"`
	Stats           ZoneStats            `json:"stats"`
	HourlyActivity  map[int]HourActivity `json:"hourly_activity"`
	PeakHours       []int                `json:"peak_hours"`
	PatternCount    int                  `json:"pattern_count"`
	LearnedPatterns int                  `json:"learned_patterns"`
}

// ZoneProfile returns the learned profile for a zone.
func (m *Model) ZoneProfile(zone string) (Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.zones[zone]
	if !ok {
		return Profile{}, false
	}
	return m.profileLocked(zone, p), true
}

// AllProfiles returns profiles for every learned zone.
func (m *Model) AllProfiles() map[string]Profile {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Profile, len(m.zones))
	for zone, p := range m.zones {
		out[zone] = m.profileLocked(zone, p)
	}
	return out
}

func (m *Model) profileLocked(zone string, p *zoneProfile) Profile {
	type hourAgg struct {
		count int
		sum   float64
	}
	hours := make(map[int]hourAgg)
	learned := 0
	for key, samples := range p.Buckets {
		if len(samples) >= m.cfg.MinSamples {
			learned++
		}
		h := key.Slot / 60
		agg := hours[h]
		for _, s := range samples {
			agg.count++
			agg.sum += s.Confidence
		}
		hours[h] = agg
	}

	activity := make(map[int]HourActivity, len(hours))
	for h, agg := range hours {
		avg := 0.0
		if agg.count > 0 {
			avg = agg.sum / float64(agg.count)
		}
		activity[h] = HourActivity{Detections: agg.count, AvgConfidence: avg}
	}

	// Top three hours by detection count.
	ordered := make([]int, 0, len(hours))
	for h := range hours {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if hours[ordered[i]].count != hours[ordered[j]].count {
			return hours[ordered[i]].count > hours[ordered[j]].count
		}
		return ordered[i] < ordered[j]
	})
	if len(ordered) > 3 {
		ordered = ordered[:3]
	}

	return Profile{
		Zone:            zone,
		Stats:           p.Stats,
		HourlyActivity:  activity,
		PeakHours:       ordered,
		PatternCount:    len(p.Buckets),
		LearnedPatterns: learned,
	}
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

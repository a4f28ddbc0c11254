package behavior

import (
	"path/filepath"
	"testing"
	"time"
)

// Wednesday. Weekly steps from here stay on the same weekday and bucket.
var baseDay = time.Date(2026, 1, 7, 8, 5, 0, 0, time.UTC)

func TestUnknownZoneIsLearning(t *testing.T) {
	m := NewModel(Config{})

	res := m.CheckAnomaly("entry", baseDay)
	if !res.Learning || res.IsAnomaly {
		t.Errorf("result = %+v, want learning without anomaly", res)
	}
}

func TestSparseBucketIsLearning(t *testing.T) {
	m := NewModel(Config{MinSamples: 10})

	for i := 0; i < 9; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.9)
	}
	res := m.CheckAnomaly("entry", baseDay.AddDate(0, 0, 63))
	if !res.Learning {
		t.Errorf("result = %+v, want learning with 9 of 10 samples", res)
	}
	if res.Samples != 9 {
		t.Errorf("samples = %d, want 9", res.Samples)
	}
}

func TestOtherBucketsDoNotCount(t *testing.T) {
	m := NewModel(Config{MinSamples: 5})

	// Plenty of history, all in the Wednesday 08:00 bucket.
	for i := 0; i < 10; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.9)
	}
	// A Thursday evening timestamp hits an empty bucket.
	res := m.CheckAnomaly("entry", time.Date(2026, 3, 19, 21, 10, 0, 0, time.UTC))
	if !res.Learning {
		t.Errorf("result = %+v, want learning for an unseen bucket", res)
	}
}

func TestBucketBoundary(t *testing.T) {
	m := NewModel(Config{MinSamples: 3, BucketMinutes: 30})

	// 08:29 and 08:31 land in different buckets.
	early := time.Date(2026, 1, 7, 8, 29, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		m.LearnDetection("entry", early.AddDate(0, 0, 7*i), 0.9)
	}
	res := m.CheckAnomaly("entry", time.Date(2026, 1, 28, 8, 31, 0, 0, time.UTC))
	if !res.Learning {
		t.Errorf("result = %+v, want learning across the slot boundary", res)
	}
	res = m.CheckAnomaly("entry", time.Date(2026, 1, 28, 8, 20, 0, 0, time.UTC))
	if res.Learning {
		t.Errorf("result = %+v, want scored inside the slot", res)
	}
}

func TestSteadyPatternIsNotAnomalous(t *testing.T) {
	m := NewModel(Config{MinSamples: 5})

	// One event per week for ten weeks in the same slot.
	for i := 0; i < 10; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.9)
	}
	// Check just after the latest event: one recent event, weekly mean 1.
	ts := baseDay.AddDate(0, 0, 63).Add(10 * time.Minute)
	res := m.CheckAnomaly("entry", ts)

	if res.Learning {
		t.Fatalf("result = %+v, want scored", res)
	}
	if res.IsAnomaly || res.UnusualTime || res.UnusualFrequency {
		t.Errorf("steady pattern flagged: %+v", res)
	}
	if res.ExpectedPerWeek != 1.0 {
		t.Errorf("expected per week = %v, want 1.0", res.ExpectedPerWeek)
	}
}

func TestBurstFlagsUnusualFrequency(t *testing.T) {
	m := NewModel(Config{MinSamples: 10, AnomalyThreshold: 2.5})

	// Seven quiet weeks with one event each.
	for i := 0; i < 7; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.9)
	}
	// Burst week: twenty events inside the slot.
	burstDay := baseDay.AddDate(0, 0, 49)
	for i := 0; i < 20; i++ {
		ts := time.Date(burstDay.Year(), burstDay.Month(), burstDay.Day(), 8, i, 0, 0, time.UTC)
		m.LearnDetection("entry", ts, 0.9)
	}

	ts := time.Date(burstDay.Year(), burstDay.Month(), burstDay.Day(), 8, 29, 0, 0, time.UTC)
	res := m.CheckAnomaly("entry", ts)

	if res.Learning {
		t.Fatalf("result = %+v, want scored", res)
	}
	if !res.UnusualFrequency || !res.IsAnomaly {
		t.Errorf("burst not flagged: %+v", res)
	}
	if res.RecentCount != 20 {
		t.Errorf("recent count = %d, want 20", res.RecentCount)
	}

	anomalies := m.RecentAnomalies(10)
	if len(anomalies) != 1 {
		t.Fatalf("anomaly log length = %d, want 1", len(anomalies))
	}
	if anomalies[0].Reason != "unusual_frequency" || anomalies[0].Zone != "entry" {
		t.Errorf("anomaly = %+v", anomalies[0])
	}
	if p, ok := m.ZoneProfile("entry"); !ok || p.Stats.AnomalyCount != 1 {
		t.Errorf("zone anomaly count not incremented: %+v", p)
	}
}

func TestSingleWeekStdFallback(t *testing.T) {
	m := NewModel(Config{MinSamples: 5, AnomalyThreshold: 2.5})

	// All history in one ISO week: std falls back to 1.0.
	for i := 0; i < 6; i++ {
		m.LearnDetection("entry", baseDay.Add(time.Duration(i)*time.Minute), 0.9)
	}
	res := m.CheckAnomaly("entry", baseDay.Add(20*time.Minute))

	if res.Learning {
		t.Fatalf("result = %+v, want scored", res)
	}
	if res.StdDev != 1.0 {
		t.Errorf("std = %v, want fallback 1.0", res.StdDev)
	}
	// recent == weekly count, so the z-score is zero.
	if res.ZScore != 0 || res.IsAnomaly {
		t.Errorf("result = %+v, want no anomaly", res)
	}
}

func TestCheckDoesNotMutateHistory(t *testing.T) {
	m := NewModel(Config{MinSamples: 5})

	for i := 0; i < 10; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.9)
	}
	before, _ := m.ZoneProfile("entry")
	m.CheckAnomaly("entry", baseDay.AddDate(0, 0, 63).Add(5*time.Minute))
	after, _ := m.ZoneProfile("entry")

	if before.Stats.TotalDetections != after.Stats.TotalDetections ||
		before.PatternCount != after.PatternCount {
		t.Errorf("check mutated history: before %+v after %+v", before, after)
	}
}

func TestZoneProfile(t *testing.T) {
	m := NewModel(Config{MinSamples: 3})

	for i := 0; i < 3; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.5)
	}
	m.LearnDetection("entry", time.Date(2026, 1, 7, 9, 10, 0, 0, time.UTC), 0.9)

	p, ok := m.ZoneProfile("entry")
	if !ok {
		t.Fatal("profile missing")
	}
	if p.Stats.TotalDetections != 4 {
		t.Errorf("total = %d, want 4", p.Stats.TotalDetections)
	}
	if p.PatternCount != 2 || p.LearnedPatterns != 1 {
		t.Errorf("patterns = %d learned = %d, want 2 and 1", p.PatternCount, p.LearnedPatterns)
	}
	if got := p.HourlyActivity[8]; got.Detections != 3 || got.AvgConfidence != 0.5 {
		t.Errorf("hour 8 activity = %+v", got)
	}
	if got := p.HourlyActivity[9]; got.Detections != 1 || got.AvgConfidence != 0.9 {
		t.Errorf("hour 9 activity = %+v", got)
	}
	if len(p.PeakHours) != 2 || p.PeakHours[0] != 8 {
		t.Errorf("peak hours = %v, want [8 9]", p.PeakHours)
	}
	if p.Stats.FirstSeen != baseDay {
		t.Errorf("first seen = %v, want %v", p.Stats.FirstSeen, baseDay)
	}
}

func TestCleanupOldData(t *testing.T) {
	m := NewModel(Config{LearningPeriodDays: 7})
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.LearnDetection("entry", now.AddDate(0, 0, -10), 0.9) // stale, bucket empties
	m.LearnDetection("entry", now.AddDate(0, 0, -1), 0.9)  // fresh

	removed := m.CleanupOldData()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	p, _ := m.ZoneProfile("entry")
	if p.PatternCount != 1 {
		t.Errorf("pattern count = %d, want 1 after pruning empty bucket", p.PatternCount)
	}

	if m.CleanupOldData() != 0 {
		t.Error("second cleanup removed fresh data")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "behavior.json")

	m := NewModel(Config{MinSamples: 5, StatePath: path})
	for i := 0; i < 10; i++ {
		m.LearnDetection("entry", baseDay.AddDate(0, 0, 7*i), 0.8)
	}
	m.CheckAnomaly("entry", baseDay) // steady, no anomaly
	if err := m.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewModel(Config{MinSamples: 5, StatePath: path})
	p, ok := loaded.ZoneProfile("entry")
	if !ok {
		t.Fatal("profile lost on reload")
	}
	if p.Stats.TotalDetections != 10 || p.PatternCount != 1 {
		t.Errorf("reloaded profile = %+v", p)
	}

	// The reloaded bucket scores exactly like the original.
	res := loaded.CheckAnomaly("entry", baseDay.AddDate(0, 0, 63).Add(5*time.Minute))
	if res.Learning || res.ExpectedPerWeek != 1.0 {
		t.Errorf("reloaded result = %+v", res)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	m := NewModel(Config{StatePath: filepath.Join(t.TempDir(), "missing.json")})
	if len(m.AllProfiles()) != 0 {
		t.Error("model not empty without a state file")
	}
}

func TestBucketKeyTextRoundTrip(t *testing.T) {
	key := BucketKey{Weekday: time.Wednesday, Slot: 8*60 + 30}
	text, err := key.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "3_08:30" {
		t.Errorf("text = %q, want 3_08:30", text)
	}

	var back BucketKey
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != key {
		t.Errorf("round trip = %+v, want %+v", back, key)
	}
}

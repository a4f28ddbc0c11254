package recording

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeClip creates a file of the given size with a deterministic mtime.
func writeClip(t *testing.T, dir, name string, size int, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUsage(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.mjpeg", 100, time.Hour)
	writeClip(t, dir, "b.mjpeg", 250, time.Minute)

	g := NewStorageGovernor(dir, 1000)
	u, err := g.Usage()
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if u.TotalBytes != 350 || u.FileCount != 2 {
		t.Errorf("usage = %+v, want 350 bytes over 2 files", u)
	}
}

func TestShouldCleanup(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.mjpeg", 600, time.Hour)

	g := NewStorageGovernor(dir, 1000)
	if over, _ := g.ShouldCleanup(); over {
		t.Error("cleanup signaled under the limit")
	}

	writeClip(t, dir, "b.mjpeg", 500, time.Minute)
	if over, _ := g.ShouldCleanup(); !over {
		t.Error("cleanup not signaled over the limit")
	}
}

func TestCleanupEvictsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	// Oldest to newest: a, b, c, d. 400 bytes each, limit 1000.
	oldest := writeClip(t, dir, "a.mjpeg", 400, 4*time.Hour)
	second := writeClip(t, dir, "b.mjpeg", 400, 3*time.Hour)
	writeClip(t, dir, "c.mjpeg", 400, 2*time.Hour)
	writeClip(t, dir, "d.mjpeg", 400, time.Hour)

	g := NewStorageGovernor(dir, 1000)
	deleted, err := g.Cleanup(false)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	// Target is 80% of 1000 = 800: dropping a and b leaves exactly 800.
	if deleted != 2 {
		t.Fatalf("deleted %d files, want 2", deleted)
	}
	for _, path := range []string{oldest, second} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("oldest file %s survived cleanup", filepath.Base(path))
		}
	}
	u, _ := g.Usage()
	if u.TotalBytes > 800 {
		t.Errorf("usage after cleanup = %d, want <= 800", u.TotalBytes)
	}
}

func TestCleanupNoOpUnderLimit(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.mjpeg", 100, time.Hour)

	g := NewStorageGovernor(dir, 1000)
	deleted, err := g.Cleanup(false)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 0 {
		t.Errorf("deleted %d files under the limit", deleted)
	}
}

func TestCleanupForced(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeClip(t, dir, fmt.Sprintf("clip%d.mjpeg", i), 100, time.Duration(5-i)*time.Hour)
	}

	// Under the limit, but forced: still trims to 80% of max.
	g := NewStorageGovernor(dir, 500)
	deleted, err := g.Cleanup(true)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d files, want 1 (500 -> 400 bytes)", deleted)
	}
}

func TestCleanupNeverBelowTarget(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.mjpeg", 300, 3*time.Hour)
	writeClip(t, dir, "b.mjpeg", 300, 2*time.Hour)
	writeClip(t, dir, "c.mjpeg", 300, time.Hour)

	g := NewStorageGovernor(dir, 800)
	if _, err := g.Cleanup(false); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	// 900 bytes over an 800 limit: deleting one 300-byte file reaches
	// 600 <= 640 target; the remaining two must survive.
	u, _ := g.Usage()
	if u.FileCount != 2 || u.TotalBytes != 600 {
		t.Errorf("usage = %+v, want 2 files / 600 bytes", u)
	}
}

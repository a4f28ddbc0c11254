package recording

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// cleanupTargetRatio is the fraction of the storage limit cleanup shrinks
// usage down to. Deleting exactly to the limit would re-trigger cleanup on
// the very next recording.
const cleanupTargetRatio = 0.8

// StorageGovernor accounts disk usage of the recordings directory and
// evicts the oldest files when the limit is exceeded.
type StorageGovernor struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger
}

// NewStorageGovernor creates a governor over dir with the given byte limit.
func NewStorageGovernor(dir string, maxBytes int64) *StorageGovernor {
	return &StorageGovernor{
		dir:      dir,
		maxBytes: maxBytes,
		logger:   slog.Default().With("component", "storage"),
	}
}

// Usage is the current state of the recordings directory.
type Usage struct {
	TotalBytes int64 `json:"total_bytes"`
	FileCount  int   `json:"file_count"`
	MaxBytes   int64 `json:"max_bytes"`
}

type storedFile struct {
	path    string
	size    int64
	modTime time.Time
}

func (g *StorageGovernor) scan() ([]storedFile, error) {
	var files []storedFile
	err := filepath.WalkDir(g.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, storedFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan storage directory: %w", err)
	}
	return files, nil
}

// Usage scans the directory and returns totals.
func (g *StorageGovernor) Usage() (Usage, error) {
	files, err := g.scan()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{FileCount: len(files), MaxBytes: g.maxBytes}
	for _, f := range files {
		u.TotalBytes += f.size
	}
	return u, nil
}

// ShouldCleanup reports whether usage exceeds the limit.
func (g *StorageGovernor) ShouldCleanup() (bool, error) {
	u, err := g.Usage()
	if err != nil {
		return false, err
	}
	return u.TotalBytes > g.maxBytes, nil
}

// Cleanup deletes recordings oldest-first until usage drops to 80% of the
// limit. Runs only when over the limit unless forced. Deletion failures
// are logged and skipped. Returns the number of files deleted.
func (g *StorageGovernor) Cleanup(force bool) (int, error) {
	files, err := g.scan()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, f := range files {
		total += f.size
	}
	if total <= g.maxBytes && !force {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	target := int64(float64(g.maxBytes) * cleanupTargetRatio)
	deleted := 0
	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			g.logger.Warn("Failed to delete recording", "path", f.path, "error", err)
			continue
		}
		total -= f.size
		deleted++
	}

	if deleted > 0 {
		g.logger.Info("Storage cleanup completed",
			"deleted", deleted,
			"remaining_bytes", total,
			"max_bytes", g.maxBytes)
	}
	return deleted, nil
}

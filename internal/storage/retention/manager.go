// Package retention deletes day archives that have outlived the configured
// retention period. Day directories are never touched; only finished
// archives are eligible.
package retention

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	dserrors "github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/logging"
	"github.com/xtxerr/datastor/internal/storage/archive"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// Manager handles cleanup of expired archives under one root.
type Manager struct {
	mu    sync.RWMutex
	root  string
	keep  time.Duration
	log   *slog.Logger
	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime  time.Time
	Runs         int64
	FilesDeleted int64
	BytesFreed   int64
	FilesSkipped int64
	Errors       int64
}

// CleanupResult holds the result of a cleanup operation.
type CleanupResult struct {
	Cutoff       time.Time
	Deleted      []string
	FilesDeleted int
	BytesFreed   int64
	FilesSkipped int
	Errors       []error
}

// New creates a retention manager. Archives whose UTC day is more than keep
// before the cleanup time are deleted; keep <= 0 keeps everything.
func New(root string, keep time.Duration) *Manager {
	return &Manager{
		root: root,
		keep: keep,
		log:  logging.Component("retention"),
	}
}

// Enabled reports whether the manager deletes anything at all.
func (m *Manager) Enabled() bool {
	return m.keep > 0
}

// Cutoff returns the first UTC day that is kept at time now.
func (m *Manager) Cutoff(now time.Time) time.Time {
	return layout.DayKey(now.Add(-m.keep))
}

// RunCleanup deletes expired archives.
func (m *Manager) RunCleanup(now time.Time) CleanupResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := m.cleanup(now, false)

	m.stats.LastRunTime = now
	m.stats.Runs++
	m.stats.FilesDeleted += int64(result.FilesDeleted)
	m.stats.BytesFreed += result.BytesFreed
	m.stats.FilesSkipped += int64(result.FilesSkipped)
	m.stats.Errors += int64(len(result.Errors))

	if result.FilesDeleted > 0 || len(result.Errors) > 0 {
		m.log.Info("retention cleanup",
			"cutoff", layout.DayName(result.Cutoff),
			"deleted", result.FilesDeleted,
			"freed", humanize.IBytes(uint64(result.BytesFreed)),
			"errors", len(result.Errors),
		)
	}

	return result
}

// DryRun reports what RunCleanup would delete without deleting.
func (m *Manager) DryRun(now time.Time) CleanupResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.cleanup(now, true)
}

func (m *Manager) cleanup(now time.Time, dryRun bool) CleanupResult {
	result := CleanupResult{Cutoff: m.Cutoff(now)}
	if !m.Enabled() {
		return result
	}

	files, err := listArchives(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, dserrors.Wrap(err, "list archives"))
		}
		return result
	}

	for _, file := range files {
		if !file.day.Before(result.Cutoff) {
			result.FilesSkipped++
			continue
		}

		if !dryRun {
			if err := os.Remove(file.path); err != nil {
				result.Errors = append(result.Errors, dserrors.Wrapf(err, "delete %s", file.path))
				m.log.Warn("delete expired archive", "path", file.path, "error", err)
				continue
			}
		}

		result.Deleted = append(result.Deleted, file.path)
		result.FilesDeleted++
		result.BytesFreed += file.size
	}

	return result
}

// fileInfo holds information about an archive file.
type fileInfo struct {
	path string
	day  time.Time
	size int64
}

// listArchives lists the day archives under root, oldest first.
func listArchives(root string) ([]fileInfo, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var files []fileInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !isArchiveName(entry.Name()) {
			continue
		}

		day, err := layout.ParseDay(entry.Name())
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, fileInfo{
			path: filepath.Join(root, entry.Name()),
			day:  day,
			size: info.Size(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].path < files[j].path
	})

	return files, nil
}

func isArchiveName(name string) bool {
	for _, ext := range archive.Extensions() {
		stem, ok := strings.CutSuffix(name, ext)
		if ok && len(stem) == len(layout.DayLayout) {
			return true
		}
	}
	return false
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.stats
}

// DiskUsage holds disk usage information.
type DiskUsage struct {
	Archives     int
	ArchiveBytes int64
	Days         int
	BucketFiles  int
	BucketBytes  int64
}

// GetDiskUsage returns disk usage of archives and open day directories.
func (m *Manager) GetDiskUsage() (DiskUsage, error) {
	var usage DiskUsage

	archives, err := listArchives(m.root)
	if err != nil {
		return usage, err
	}
	for _, f := range archives {
		usage.Archives++
		usage.ArchiveBytes += f.size
	}

	dirs, err := layout.DayDirs(m.root)
	if err != nil {
		return usage, err
	}
	usage.Days = len(dirs)

	files, err := layout.BucketFiles(m.root)
	if err != nil {
		return usage, err
	}
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		usage.BucketFiles++
		usage.BucketBytes += info.Size()
	}

	return usage, nil
}

// FormatDiskUsage returns a formatted string of disk usage.
func (m *Manager) FormatDiskUsage() (string, error) {
	u, err := m.GetDiskUsage()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("Disk Usage:\n  buckets: %d files in %d days, %s\n  archives: %d files, %s\n  Total: %s\n",
		u.BucketFiles, u.Days, humanize.IBytes(uint64(u.BucketBytes)),
		u.Archives, humanize.IBytes(uint64(u.ArchiveBytes)),
		humanize.IBytes(uint64(u.BucketBytes+u.ArchiveBytes)),
	), nil
}

// Package layout maps UTC timestamps to the on-disk bucket layout:
//
//	<root>/<YYYYMMDD>/<YYYYMMDDHHMM>.<ext>
//	<root>/<YYYYMMDD>.tar[.<codec>]
//
// All truncation happens in UTC, so the lexicographic order of generated
// names equals the chronological order of the timestamps behind them.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	defaults "github.com/xtxerr/datastor/config"
)

const (
	// DayLayout formats day directory names.
	DayLayout = "20060102"

	// StemLayout formats bucket file stems.
	StemLayout = "200601021504"

	// ExtBinary and ExtJSON are the bucket file extensions.
	ExtBinary = "bin"
	ExtJSON   = "json"
)

// HourKey truncates ts to the start of its UTC hour.
func HourKey(ts time.Time) time.Time {
	return ts.UTC().Truncate(time.Hour)
}

// DayKey truncates ts to the start of its UTC day.
func DayKey(ts time.Time) time.Time {
	u := ts.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayName returns the YYYYMMDD name of ts's UTC day.
func DayName(ts time.Time) string {
	return ts.UTC().Format(DayLayout)
}

// PathFor returns the day directory and bucket file path for ts. The file
// stem carries minutes, which are always 00 for the hour bucket containing ts.
func PathFor(root string, ts time.Time, ext string) (dayDir, filePath string) {
	hour := HourKey(ts)
	dayDir = filepath.Join(root, hour.Format(DayLayout))
	filePath = filepath.Join(dayDir, hour.Format(StemLayout)+"."+ext)
	return dayDir, filePath
}

// EnsureDayDir creates dir if it does not exist.
func EnsureDayDir(dir string) error {
	if err := os.MkdirAll(dir, defaults.DefaultDirMode); err != nil {
		return fmt.Errorf("create day dir %s: %w", dir, err)
	}
	return nil
}

// ParseDay parses a YYYYMMDD name, optionally followed by an extension
// such as ".tar.gz", into the start of that UTC day.
func ParseDay(name string) (time.Time, error) {
	stem, _, _ := strings.Cut(filepath.Base(name), ".")
	if len(stem) != len(DayLayout) {
		return time.Time{}, fmt.Errorf("not a day name: %q", name)
	}
	return time.ParseInLocation(DayLayout, stem, time.UTC)
}

// ParseBucket parses a bucket file name into its hour key and extension.
func ParseBucket(name string) (time.Time, string, error) {
	stem, ext, ok := strings.Cut(filepath.Base(name), ".")
	if !ok || len(stem) != len(StemLayout) {
		return time.Time{}, "", fmt.Errorf("not a bucket file: %q", name)
	}
	ts, err := time.ParseInLocation(StemLayout, stem, time.UTC)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("not a bucket file: %q: %w", name, err)
	}
	return ts, ext, nil
}

// DayDirs lists the day directories under root in chronological order.
func DayDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := ParseDay(entry.Name()); err != nil {
			continue
		}
		dirs = append(dirs, filepath.Join(root, entry.Name()))
	}

	sort.Strings(dirs)
	return dirs, nil
}

// BucketFiles lists the bucket files of every day directory under root in
// chronological order.
func BucketFiles(root string) ([]string, error) {
	dirs, err := DayDirs(root)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, _, err := ParseBucket(entry.Name()); err != nil {
				continue
			}
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

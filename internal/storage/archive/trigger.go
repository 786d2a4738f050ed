package archive

import (
	"io/fs"
	"log/slog"
	"time"

	"github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/logging"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// TriggerStats holds compression trigger statistics.
type TriggerStats struct {
	DayChanges   int64
	Archived     int64
	Failed       int64
	Skipped      int64
	SourceBytes  int64
	ArchiveBytes int64
	LastError    string
}

// Trigger watches the UTC day of the active bucket and archives the
// previous day's directory once a later day becomes active. It never
// touches the active day. Failures are logged and counted, never returned.
//
// A Trigger is not safe for concurrent use.
type Trigger struct {
	archiver *Archiver
	enabled  bool
	lastDay  time.Time
	log      *slog.Logger
	stats    TriggerStats
}

// NewTrigger creates a trigger. With enabled false it only tracks days.
func NewTrigger(a *Archiver, enabled bool) *Trigger {
	return &Trigger{
		archiver: a,
		enabled:  enabled,
		log:      logging.Component("archive"),
	}
}

// Observe records that the active bucket lies on ts's UTC day. When that
// day is later than the last one observed, the last day's directory is
// archived and the result returned. Otherwise, or on failure, it returns nil.
func (t *Trigger) Observe(ts time.Time) *Result {
	day := layout.DayKey(ts)

	if t.lastDay.IsZero() {
		t.lastDay = day
		return nil
	}
	if !day.After(t.lastDay) {
		return nil
	}

	prev := t.lastDay
	t.lastDay = day
	t.stats.DayChanges++

	if !t.enabled {
		return nil
	}

	return t.archive(prev)
}

// Sweep archives every day directory whose day is before before's UTC day,
// regardless of what was observed. It returns the days archived.
func (t *Trigger) Sweep(before time.Time) []*Result {
	cutoff := layout.DayKey(before)

	dirs, err := layout.DayDirs(t.archiver.root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.fail(t.archiver.root, err)
		}
		return nil
	}

	var results []*Result
	for _, dir := range dirs {
		day, err := layout.ParseDay(dir)
		if err != nil || !day.Before(cutoff) {
			continue
		}
		if res := t.archive(day); res != nil {
			results = append(results, res)
		}
	}
	return results
}

func (t *Trigger) archive(day time.Time) *Result {
	res, err := t.archiver.ArchiveDay(day)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			t.stats.Skipped++
			t.log.Debug("no day directory to archive", "day", layout.DayName(day))
			return nil
		}
		t.fail(layout.DayName(day), err)
		return nil
	}

	t.stats.Archived++
	t.stats.SourceBytes += res.SourceBytes
	t.stats.ArchiveBytes += res.ArchiveBytes
	return res
}

func (t *Trigger) fail(what string, err error) {
	t.stats.Failed++
	t.stats.LastError = err.Error()
	t.log.Warn("archival failed", "day", what, "error", err)
}

// LastDay returns the last observed UTC day, or the zero time.
func (t *Trigger) LastDay() time.Time {
	return t.lastDay
}

// Stats returns trigger statistics.
func (t *Trigger) Stats() TriggerStats {
	return t.stats
}

package storage

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/logging"
	"github.com/xtxerr/datastor/internal/storage/archive"
	"github.com/xtxerr/datastor/internal/storage/bucket"
	"github.com/xtxerr/datastor/internal/storage/config"
	"github.com/xtxerr/datastor/internal/storage/retention"
)

// Store writes records of type T into hourly bucket files under one root
// and archives each day once a later day becomes active.
//
// A Store is not safe for concurrent use. Everything, archival included,
// happens synchronously inside Store.
type Store[T any] struct {
	config    *config.Config
	writer    *bucket.Writer[T]
	trigger   *archive.Trigger
	retention *retention.Manager
	log       *slog.Logger
	closed    bool
}

// Stats holds store statistics.
type Stats struct {
	Bucket    bucket.Stats
	Archive   archive.TriggerStats
	Retention retention.Stats
}

// Open validates cfg and creates a store writing with enc. The root
// directory is created if needed; no bucket file is opened until the first
// record arrives. cfg is copied, later changes have no effect.
func Open[T any](cfg *config.Config, enc bucket.Encoder[T]) (*Store[T], error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg = cfg.Clone()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := cfg.EnsureRoot(); err != nil {
		return nil, errors.Wrap(err, "ensure root")
	}

	arch, err := archive.NewArchiver(archive.Options{
		Root:            cfg.Root,
		Algorithm:       cfg.Compression.Algorithm,
		Level:           cfg.Compression.Level,
		RemoveOriginals: cfg.Compression.RemoveOriginals,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create archiver")
	}

	w := bucket.NewWriter[T](bucket.Options{
		Root:        cfg.Root,
		Program:     cfg.Program,
		SyncMode:    cfg.SyncMode,
		LateRecords: cfg.LateRecords,
		BufferSize:  cfg.BufferSize,
	}, enc)

	s := &Store[T]{
		config:    cfg,
		writer:    w,
		trigger:   archive.NewTrigger(arch, cfg.Compression.Enabled),
		retention: retention.New(cfg.Root, cfg.Retention.Archives),
		log:       logging.Component("store"),
	}

	s.log.Info("store opened",
		"root", cfg.Root,
		"program", cfg.Program,
		"ext", enc.Extension(),
		"sync_mode", cfg.SyncMode,
		"compression", cfg.Compression.Enabled,
		"algorithm", cfg.Compression.Algorithm,
	)

	return s, nil
}

// OpenBinary opens a store writing framed binary records.
func OpenBinary(cfg *config.Config) (*Store[[]byte], error) {
	return Open[[]byte](cfg, bucket.Binary{})
}

// OpenJSON opens a store writing one JSON value per line.
func OpenJSON[T any](cfg *config.Config) (*Store[T], error) {
	return Open[T](cfg, bucket.JSON[T]{})
}

// Store appends v to the bucket of ts's UTC hour and returns the number of
// bytes appended. When the active bucket moves to a later UTC day, the
// previous day is archived before Store returns. Archival problems are
// logged and counted in Stats but never returned.
func (s *Store[T]) Store(ts time.Time, v T) (int, error) {
	if s.closed {
		return 0, errors.ErrClosed
	}

	n, err := s.writer.Write(ts, v)

	if s.writer.IsOpen() {
		active := s.writer.Hour()
		if res := s.trigger.Observe(active); res != nil {
			s.applyRetention(active)
		}
	}

	return n, err
}

// CompressStale archives every day directory older than both now's UTC day
// and the active bucket's day, for instance days left behind by a process
// that stopped before midnight. It runs even with compression disabled.
func (s *Store[T]) CompressStale(now time.Time) ([]*archive.Result, error) {
	if s.closed {
		return nil, errors.ErrClosed
	}

	before := now
	if s.writer.IsOpen() && s.writer.Hour().Before(before) {
		before = s.writer.Hour()
	}

	failed := s.trigger.Stats().Failed
	results := s.trigger.Sweep(before)
	if len(results) > 0 {
		s.applyRetention(now)
	}

	if stats := s.trigger.Stats(); stats.Failed > failed {
		return results, fmt.Errorf("%w: %d day(s) failed, last: %s",
			errors.ErrCompressionFailure, stats.Failed-failed, stats.LastError)
	}
	return results, nil
}

func (s *Store[T]) applyRetention(now time.Time) {
	if !s.retention.Enabled() {
		return
	}
	s.retention.RunCleanup(now)
}

// Flush writes buffered records of the active bucket to disk.
func (s *Store[T]) Flush() error {
	return s.writer.Flush()
}

// Close flushes and closes the active bucket. Further calls to Store fail
// with ErrClosed.
func (s *Store[T]) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.writer.Close()
	stats := s.Stats()
	s.log.Info("store closed",
		"records", stats.Bucket.RecordsWritten,
		"buckets", stats.Bucket.BucketsOpened,
		"archived", stats.Archive.Archived,
		"archive_failures", stats.Archive.Failed,
	)
	return err
}

// CurrentPath returns the path of the active bucket file, or "" when no
// bucket is open.
func (s *Store[T]) CurrentPath() string {
	return s.writer.Path()
}

// Config returns the store's copy of its configuration.
func (s *Store[T]) Config() *config.Config {
	return s.config
}

// Stats returns store statistics.
func (s *Store[T]) Stats() Stats {
	return Stats{
		Bucket:    s.writer.Stats(),
		Archive:   s.trigger.Stats(),
		Retention: s.retention.Stats(),
	}
}

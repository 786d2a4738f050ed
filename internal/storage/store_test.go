package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/datastor/internal/constants"
	dserrors "github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/storage/archive"
	"github.com/xtxerr/datastor/internal/storage/config"
	"github.com/xtxerr/datastor/internal/storage/frame"
	"github.com/xtxerr/datastor/internal/storage/inspect"
	dstesting "github.com/xtxerr/datastor/internal/testing"
)

var base = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func openBinary(t *testing.T, cfg *config.Config) *Store[[]byte] {
	t.Helper()
	s, err := OpenBinary(cfg)
	if err != nil {
		t.Fatalf("OpenBinary: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreDayBoundary(t *testing.T) {
	root := t.TempDir()
	s := openBinary(t, config.New(root, true, "boundary-test"))

	for _, ts := range []time.Time{base, base.Add(2 * time.Hour), base.Add(25 * time.Hour)} {
		if _, err := s.Store(ts, []byte(ts.Format(time.RFC3339))); err != nil {
			t.Fatalf("store %v: %v", ts, err)
		}
	}
	s.Close()

	active := filepath.Join(root, "20240102", "202401021100.bin")
	dstesting.MustExist(t, active)
	dstesting.MustNotExist(t, filepath.Join(root, "20240101"))

	archivePath := filepath.Join(root, "20240101.tar.gz")
	entries, err := archive.List(archivePath)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 ||
		entries[0].Name != "20240101/202401011000.bin" ||
		entries[1].Name != "20240101/202401011200.bin" {
		t.Errorf("archive entries: %+v", entries)
	}

	h, payloads, err := frame.ReadFile(active)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if h.Program != "boundary-test" || len(payloads) != 1 {
		t.Errorf("active bucket: header %+v, %d records", h, len(payloads))
	}

	stats := s.Stats()
	if stats.Bucket.BucketsOpened != 3 || stats.Archive.Archived != 1 || stats.Archive.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestStoreCompressionDisabled(t *testing.T) {
	root := t.TempDir()
	s := openBinary(t, config.New(root, false, "p"))

	s.Store(base, []byte("a"))
	s.Store(base.Add(25*time.Hour), []byte("b"))

	dstesting.MustExist(t, filepath.Join(root, "20240101", "202401011000.bin"))
	dstesting.MustNotExist(t, filepath.Join(root, "20240101.tar.gz"))
	if s.Stats().Archive.DayChanges != 1 {
		t.Errorf("day changes = %d", s.Stats().Archive.DayChanges)
	}
}

func TestStoreArchiveFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	dstesting.WriteFile(t, root, "20240101.tar.gz", []byte("stale"))

	s := openBinary(t, config.New(root, true, "p"))
	s.Store(base, []byte("a"))

	if _, err := s.Store(base.Add(24*time.Hour), []byte("b")); err != nil {
		t.Fatalf("store failed because of archival: %v", err)
	}

	dstesting.MustExist(t, filepath.Join(root, "20240101", "202401011000.bin"))
	if s.Stats().Archive.Failed != 1 {
		t.Errorf("failures = %d", s.Stats().Archive.Failed)
	}
}

func TestStoreAlgorithms(t *testing.T) {
	for _, algo := range constants.ValidAlgorithms {
		t.Run(algo, func(t *testing.T) {
			root := t.TempDir()
			cfg := config.New(root, true, "p")
			cfg.Compression.Algorithm = algo

			s := openBinary(t, cfg)
			s.Store(base, []byte("a"))
			s.Store(base.Add(24*time.Hour), []byte("b"))

			codec, _ := archive.CodecFor(algo)
			dstesting.MustExist(t, filepath.Join(root, "20240101"+codec.Ext()))
		})
	}
}

type reading struct {
	Sensor string  `json:"sensor"`
	Value  float64 `json:"value"`
}

func TestStoreJSON(t *testing.T) {
	root := t.TempDir()
	cfg := config.New(root, false, "json-store")
	cfg.Format = constants.FormatJSON

	s, err := OpenJSON[reading](cfg)
	if err != nil {
		t.Fatalf("OpenJSON: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.Store(base.Add(time.Duration(i)*time.Minute), reading{"t1", float64(i)}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	if got := s.CurrentPath(); got != filepath.Join(root, "20240101", "202401011000.json") {
		t.Errorf("CurrentPath = %s", got)
	}
	s.Close()

	sum, err := inspect.SummarizeFile(filepath.Join(root, "20240101", "202401011000.json"))
	if err != nil {
		t.Fatalf("SummarizeFile: %v", err)
	}
	if sum.Program != "json-store" || sum.Records != 3 || sum.Truncated {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestStoreCompressStale(t *testing.T) {
	root := t.TempDir()
	dstesting.WriteFiles(t, root, "20231230/202312300000.bin", "20231231/202312310000.bin")

	s := openBinary(t, config.New(root, true, "p"))
	s.Store(base, []byte("today"))

	results, err := s.CompressStale(base.Add(48 * time.Hour))
	if err != nil {
		t.Fatalf("CompressStale: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("archived %d days, want 2", len(results))
	}

	dstesting.MustExist(t, filepath.Join(root, "20231230.tar.gz"))
	dstesting.MustExist(t, filepath.Join(root, "20231231.tar.gz"))
	// The active day is never swept.
	dstesting.MustExist(t, filepath.Join(root, "20240101", "202401011000.bin"))
}

func TestStoreCompressStaleReportsFailure(t *testing.T) {
	root := t.TempDir()
	dstesting.WriteFiles(t, root, "20231231/202312310000.bin")
	dstesting.WriteFile(t, root, "20231231.tar.gz", nil)

	s := openBinary(t, config.New(root, true, "p"))
	_, err := s.CompressStale(base)
	if !errors.Is(err, dserrors.ErrCompressionFailure) {
		t.Errorf("expected ErrCompressionFailure, got %v", err)
	}
}

func TestStoreRetentionAfterArchive(t *testing.T) {
	root := t.TempDir()
	dstesting.WriteFiles(t, root, "20231201.tar.gz", "20231230.tar.gz")

	cfg := config.New(root, true, "p")
	cfg.Retention.Archives = 7 * 24 * time.Hour

	s := openBinary(t, cfg)
	s.Store(base, []byte("a"))
	s.Store(base.Add(24*time.Hour), []byte("b"))

	dstesting.MustNotExist(t, filepath.Join(root, "20231201.tar.gz"))
	dstesting.MustExist(t, filepath.Join(root, "20231230.tar.gz"))
	dstesting.MustExist(t, filepath.Join(root, "20240101.tar.gz"))

	if s.Stats().Retention.FilesDeleted != 1 {
		t.Errorf("retention deleted %d files", s.Stats().Retention.FilesDeleted)
	}
}

func TestStoreLateRecordsReject(t *testing.T) {
	cfg := config.New(t.TempDir(), true, "p")
	cfg.LateRecords = constants.LateRecordsReject

	s := openBinary(t, cfg)
	s.Store(base, []byte("a"))
	s.Store(base.Add(time.Hour), []byte("b"))

	if _, err := s.Store(base.Add(time.Minute), []byte("late")); !errors.Is(err, dserrors.ErrOutOfOrder) {
		t.Errorf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestStoreInvalidConfig(t *testing.T) {
	cfg := config.New(t.TempDir(), true, "bad\nname")
	if _, err := OpenBinary(cfg); !errors.Is(err, dserrors.ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}

	cfg = config.New("", true, "p")
	if _, err := OpenBinary(cfg); !errors.Is(err, dserrors.ErrMissingField) {
		t.Errorf("expected ErrMissingField, got %v", err)
	}
}

func TestStoreConfigIsCopied(t *testing.T) {
	root := t.TempDir()
	cfg := config.New(root, true, "original")
	s := openBinary(t, cfg)

	cfg.Program = "changed"
	s.Store(base, []byte("a"))
	s.Close()

	h, _, err := frame.ReadFile(filepath.Join(root, "20240101", "202401011000.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if h.Program != "original" {
		t.Errorf("program = %q", h.Program)
	}
}

func TestStoreClosed(t *testing.T) {
	s := openBinary(t, config.New(t.TempDir(), true, "p"))
	s.Store(base, []byte("a"))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Store(base, []byte("b")); !errors.Is(err, dserrors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if s.CurrentPath() != "" {
		t.Errorf("CurrentPath after close = %q", s.CurrentPath())
	}
}

func TestStoreFlush(t *testing.T) {
	root := t.TempDir()
	cfg := config.New(root, true, "p")
	cfg.SyncMode = constants.SyncModeNone

	s := openBinary(t, cfg)
	s.Store(base, []byte("buffered"))

	path := s.CurrentPath()
	if _, payloads, _ := frame.ReadFile(path); len(payloads) != 0 {
		t.Fatalf("record reached the file before Flush: %d records", len(payloads))
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	_, payloads, err := frame.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(payloads) != 1 || string(payloads[0]) != "buffered" {
		t.Errorf("payloads after Flush = %q", payloads)
	}
}

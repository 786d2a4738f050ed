// Package bucket implements the UTC-hour bucket writer: it owns the single
// open output file of a store and decides when to close it and open the
// next one.
//
// The writer has two states. Closed: no file is open. Open: one file for one
// hour key is open for appending. A record whose hour key differs from the
// open one rotates the bucket, whether that hour is later or earlier; at most
// one new bucket is opened per call, no matter how many hours passed in
// between. The only exception are hours whose bucket this writer already
// closed: those are never reopened (see Options.LateRecords).
//
// A Writer is not safe for concurrent use.
package bucket

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	defaults "github.com/xtxerr/datastor/config"
	"github.com/xtxerr/datastor/internal/constants"
	"github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/logging"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// Options configures a bucket writer.
type Options struct {
	// Root is the directory holding the day directories.
	Root string

	// Program is written into the header of every new file.
	Program string

	// SyncMode is one of constants.SyncMode*.
	// Default: flush
	SyncMode string

	// LateRecords is one of constants.LateRecords*. It applies to records
	// for an hour whose bucket this writer already closed.
	// Default: current
	LateRecords string

	// BufferSize is the size of the write buffer.
	// Default: 64KB
	BufferSize int
}

// Stats holds writer statistics.
type Stats struct {
	BucketsOpened  int64
	HeadersWritten int64
	RecordsWritten int64
	BytesWritten   int64
	LateRecords    int64
	Errors         int64
}

// Writer appends records of type T to hourly bucket files.
type Writer[T any] struct {
	opts Options
	enc  Encoder[T]
	log  *slog.Logger

	// Open bucket. file == nil means Closed.
	file          *os.File
	out           *countingWriter
	w             *bufio.Writer
	path          string
	hour          time.Time
	size          int64   // bytes appended, buffered included
	flushed       int64   // last record boundary known to be in the file
	pending       []int64 // record ends past flushed, still in the buffer
	headerWritten bool

	// Hour keys of buckets closed by rotation.
	done map[time.Time]struct{}

	scratch []byte
	closed  bool

	// Statistics
	stats Stats
}

// scratchLimit caps the encode buffer kept between calls.
const scratchLimit = 1 << 20

// NewWriter creates a writer in the Closed state. No file is touched until
// the first Write.
func NewWriter[T any](opts Options, enc Encoder[T]) *Writer[T] {
	if opts.SyncMode == "" {
		opts.SyncMode = constants.SyncModeFlush
	}
	if opts.LateRecords == "" {
		opts.LateRecords = constants.LateRecordsCurrent
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.DefaultBufferSize
	}

	return &Writer[T]{
		opts: opts,
		enc:  enc,
		log:  logging.Component("bucket"),
		done: make(map[time.Time]struct{}),
	}
}

// countingWriter counts the bytes that reached the file, so a failed
// append can be cut back to a record boundary the file really holds.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Write appends v to the bucket for ts, rotating first if ts falls into a
// different hour than the open bucket. It returns the number of bytes
// appended for the record.
//
// v is encoded before anything else happens, so an oversized or
// unserializable record leaves the files untouched. A late record (an hour
// whose bucket this writer already closed) never reopens that bucket: it is
// appended to the open one or rejected with ErrOutOfOrder, depending on
// LateRecords.
//
// On an I/O error the writer drops back to Closed and the next call rotates
// from scratch.
func (w *Writer[T]) Write(ts time.Time, v T) (int, error) {
	if w.closed {
		return 0, errors.ErrClosed
	}

	hour := layout.HourKey(ts)
	late := w.isLate(hour)
	if late {
		w.stats.LateRecords++
		if w.opts.LateRecords == constants.LateRecordsReject {
			return 0, fmt.Errorf("%w: %s is before bucket %s", errors.ErrOutOfOrder,
				ts.UTC().Format(time.RFC3339), w.hour.Format(time.RFC3339))
		}
	}

	rec, err := w.enc.AppendRecord(w.scratch[:0], v)
	if err != nil {
		w.stats.Errors++
		return 0, err
	}
	if cap(rec) <= scratchLimit {
		w.scratch = rec[:0]
	}

	if w.file == nil || (!late && !hour.Equal(w.hour)) {
		if err := w.rotate(hour); err != nil {
			w.stats.Errors++
			return 0, err
		}
	}

	if err := w.append(rec); err != nil {
		w.stats.Errors++
		return 0, err
	}

	w.stats.RecordsWritten++
	w.stats.BytesWritten += int64(len(rec))
	return len(rec), nil
}

// isLate reports whether hour belongs to a bucket this writer closed.
func (w *Writer[T]) isLate(hour time.Time) bool {
	if w.file == nil || hour.Equal(w.hour) {
		return false
	}
	_, ok := w.done[hour]
	return ok
}

// rotate closes the open bucket, if any, and opens the bucket for hour.
func (w *Writer[T]) rotate(hour time.Time) error {
	if w.file != nil {
		w.done[w.hour] = struct{}{}
	}
	if err := w.closeBucket(); err != nil {
		return fmt.Errorf("close bucket: %w", err)
	}

	dayDir, path := layout.PathFor(w.opts.Root, hour, w.enc.Extension())
	if err := layout.EnsureDayDir(dayDir); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, defaults.DefaultFileMode)
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat bucket %s: %w", path, err)
	}

	size := info.Size()
	created := size == 0
	if created {
		n, err := w.writeHeader(f)
		if err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("write header %s: %w", path, err)
		}
		size = int64(n)
		w.stats.HeadersWritten++
	}

	w.out = &countingWriter{w: f, n: size}
	if w.w == nil {
		w.w = bufio.NewWriterSize(w.out, w.opts.BufferSize)
	} else {
		w.w.Reset(w.out)
	}

	w.file = f
	w.path = path
	w.hour = hour
	w.size = size
	w.flushed = size
	w.headerWritten = true
	w.stats.BucketsOpened++

	w.log.Debug("bucket opened", "path", path, "created", created, "size", size)
	return nil
}

// writeHeader writes the header straight to f, bypassing the buffer.
func (w *Writer[T]) writeHeader(f *os.File) (int, error) {
	hdr, err := w.enc.AppendHeader(nil, w.opts.Program)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(hdr)
	if err != nil {
		return n, err
	}
	if w.opts.SyncMode == constants.SyncModeFsync {
		if err := f.Sync(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// append writes one encoded record to the open bucket.
func (w *Writer[T]) append(rec []byte) error {
	if _, err := w.w.Write(rec); err != nil {
		return w.abort(err)
	}
	w.size += int64(len(rec))
	w.pending = append(w.pending, w.size)
	w.settle()

	switch w.opts.SyncMode {
	case constants.SyncModeFlush:
		if err := w.w.Flush(); err != nil {
			return w.abort(err)
		}
		w.settle()
	case constants.SyncModeFsync:
		if err := w.w.Flush(); err != nil {
			return w.abort(err)
		}
		w.settle()
		if err := w.file.Sync(); err != nil {
			return w.abort(err)
		}
	}

	return nil
}

// settle advances flushed over the pending record ends that the buffer
// has passed on to the file.
func (w *Writer[T]) settle() {
	i := 0
	for i < len(w.pending) && w.pending[i] <= w.out.n {
		w.flushed = w.pending[i]
		i++
	}
	w.pending = w.pending[:copy(w.pending, w.pending[i:])]
}

// abort drops the open bucket after a failed append. The file is cut back
// to the last record boundary it holds so that later appends do not follow
// a partial record. Records still in the buffer are lost.
func (w *Writer[T]) abort(cause error) error {
	path := w.path
	w.settle()
	if lost := len(w.pending); lost > 0 {
		w.log.Warn("buffered records lost", "path", path, "records", lost)
	}
	if err := w.file.Truncate(w.flushed); err != nil {
		w.log.Warn("truncate after failed append", "path", path, "size", w.flushed, "error", err)
	}
	w.file.Close()
	w.reset()
	return fmt.Errorf("append to %s: %w", path, cause)
}

// closeBucket flushes and closes the open bucket. The writer is Closed
// afterwards even if flushing failed.
func (w *Writer[T]) closeBucket() error {
	if w.file == nil {
		return nil
	}

	var errs []error
	if err := w.w.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush %s: %w", w.path, err))
	} else if w.opts.SyncMode == constants.SyncModeFsync {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", w.path, err))
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", w.path, err))
	}

	w.log.Debug("bucket closed", "path", w.path, "size", w.size)
	w.reset()
	return errors.Join(errs...)
}

func (w *Writer[T]) reset() {
	w.file = nil
	w.out = nil
	w.path = ""
	w.hour = time.Time{}
	w.size = 0
	w.flushed = 0
	w.pending = w.pending[:0]
	w.headerWritten = false
}

// Flush writes buffered records of the open bucket to its file.
func (w *Writer[T]) Flush() error {
	if w.file == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return w.abort(err)
	}
	w.settle()
	return nil
}

// Close flushes and closes the open bucket. Further writes fail with
// ErrClosed.
func (w *Writer[T]) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeBucket()
}

// IsOpen reports whether a bucket is open.
func (w *Writer[T]) IsOpen() bool {
	return w.file != nil
}

// Hour returns the hour key of the open bucket, or the zero time.
func (w *Writer[T]) Hour() time.Time {
	return w.hour
}

// Path returns the path of the open bucket, or "".
func (w *Writer[T]) Path() string {
	return w.path
}

// Size returns the size of the open bucket including buffered bytes.
func (w *Writer[T]) Size() int64 {
	return w.size
}

// HeaderWritten reports whether the open bucket starts with a header.
func (w *Writer[T]) HeaderWritten() bool {
	return w.headerWritten
}

// Stats returns writer statistics.
func (w *Writer[T]) Stats() Stats {
	return w.stats
}

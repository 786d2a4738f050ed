// Package testing provides test fixtures for datastor packages: store roots
// with day directories, bucket files and archives laid out on disk.
//
// All helpers take a testing.TB and fail the test on any setup error, so
// callers never check errors from fixture code.
package testing

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/datastor/internal/storage/frame"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// Day1 is the reference day used across tests: 2024-01-01 UTC.
var Day1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(tb testing.TB, root, rel string, content []byte) string {
	tb.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}

// WriteFiles writes each name below root with a fixed ten byte content.
func WriteFiles(tb testing.TB, root string, names ...string) {
	tb.Helper()
	for _, name := range names {
		WriteFile(tb, root, name, []byte("0123456789"))
	}
}

// WriteDay creates the day directory of day under root holding files
// (name to content) and returns its path.
func WriteDay(tb testing.TB, root string, day time.Time, files map[string]string) string {
	tb.Helper()
	dir := filepath.Join(root, layout.DayName(day))
	if err := layout.EnsureDayDir(dir); err != nil {
		tb.Fatalf("%v", err)
	}
	for name, content := range files {
		WriteFile(tb, dir, name, []byte(content))
	}
	return dir
}

// BinaryBucket returns the bytes of a .bin bucket file: a header frame for
// program followed by one frame per payload.
func BinaryBucket(tb testing.TB, program string, payloads ...string) []byte {
	tb.Helper()
	data, err := frame.EncodeHeader(program)
	if err != nil {
		tb.Fatalf("encode header: %v", err)
	}
	for _, p := range payloads {
		data, err = frame.AppendFrame(data, []byte(p))
		if err != nil {
			tb.Fatalf("append frame: %v", err)
		}
	}
	return data
}

// WriteBinaryBucket writes BinaryBucket(program, payloads...) to path and
// returns the bytes written.
func WriteBinaryBucket(tb testing.TB, path, program string, payloads ...string) []byte {
	tb.Helper()
	data := BinaryBucket(tb, program, payloads...)
	WriteFile(tb, filepath.Dir(path), filepath.Base(path), data)
	return data
}

// MustExist fails the test if path does not exist.
func MustExist(tb testing.TB, path string) {
	tb.Helper()
	if _, err := os.Stat(path); err != nil {
		tb.Errorf("%s: %v", path, err)
	}
}

// MustNotExist fails the test if path exists.
func MustNotExist(tb testing.TB, path string) {
	tb.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		tb.Errorf("%s exists (err=%v)", path, err)
	}
}

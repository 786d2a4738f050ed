package archive

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/datastor/internal/constants"
	dserrors "github.com/xtxerr/datastor/internal/errors"
	dstesting "github.com/xtxerr/datastor/internal/testing"
)

var day1 = dstesting.Day1

func TestCodecRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("datastor frame payload "), 500)

	for _, algo := range constants.ValidAlgorithms {
		t.Run(algo, func(t *testing.T) {
			codec, err := CodecFor(algo)
			if err != nil {
				t.Fatalf("CodecFor: %v", err)
			}

			var buf bytes.Buffer
			w, err := codec.NewWriter(&buf, 0)
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			if _, err := w.Write(data); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			r, err := codec.NewReader(&buf)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("round trip mismatch: %d bytes, want %d", len(got), len(data))
			}
		})
	}
}

func TestCodecLookup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/r/20240101.tar.gz", constants.AlgorithmGzip},
		{"/r/20240101.tar.zst", constants.AlgorithmZstd},
		{"/r/20240101.tar.sz", constants.AlgorithmSnappy},
		{"/r/20240101.tar.lz4", constants.AlgorithmLZ4},
		{"/r/20240101.tar", constants.AlgorithmNone},
	}
	for _, tt := range tests {
		c, err := CodecForPath(tt.path)
		if err != nil {
			t.Errorf("CodecForPath(%s): %v", tt.path, err)
			continue
		}
		if c.Name() != tt.want {
			t.Errorf("CodecForPath(%s) = %s, want %s", tt.path, c.Name(), tt.want)
		}
	}

	if _, err := CodecFor("brotli"); !errors.Is(err, dserrors.ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
	if _, err := CodecForPath("/r/20240101.zip"); !errors.Is(err, dserrors.ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}

func TestArchiveDay(t *testing.T) {
	for _, algo := range constants.ValidAlgorithms {
		t.Run(algo, func(t *testing.T) {
			root := t.TempDir()
			dir := dstesting.WriteDay(t, root, day1, map[string]string{
				"202401011000.bin": "first bucket",
				"202401011200.bin": "second bucket",
			})

			a, err := NewArchiver(Options{Root: root, Algorithm: algo, RemoveOriginals: true})
			if err != nil {
				t.Fatalf("NewArchiver: %v", err)
			}

			res, err := a.ArchiveDay(day1.Add(5 * time.Hour))
			if err != nil {
				t.Fatalf("ArchiveDay: %v", err)
			}

			if res.Path != filepath.Join(root, "20240101"+a.Codec().Ext()) {
				t.Errorf("archive path = %s", res.Path)
			}
			if !res.Removed {
				t.Error("originals not removed")
			}
			if _, err := os.Stat(dir); !os.IsNotExist(err) {
				t.Errorf("day dir still present: %v", err)
			}
			if _, err := os.Stat(res.Path + ".tmp"); !os.IsNotExist(err) {
				t.Errorf("temporary archive left behind")
			}
			if res.SourceBytes != int64(len("first bucket")+len("second bucket")) {
				t.Errorf("source bytes = %d", res.SourceBytes)
			}

			entries, err := List(res.Path)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(entries) != 2 {
				t.Fatalf("archive holds %d entries, want 2", len(entries))
			}
			if entries[0].Name != "20240101/202401011000.bin" || entries[1].Name != "20240101/202401011200.bin" {
				t.Errorf("entry names: %s, %s", entries[0].Name, entries[1].Name)
			}
			if err := Verify(res.Path, res.Entries); err != nil {
				t.Errorf("Verify: %v", err)
			}
		})
	}
}

func TestArchiveDayKeepOriginals(t *testing.T) {
	root := t.TempDir()
	dir := dstesting.WriteDay(t, root, day1, map[string]string{"202401010000.json": "{}\n"})

	a, _ := NewArchiver(Options{Root: root})
	res, err := a.ArchiveDay(day1)
	if err != nil {
		t.Fatalf("ArchiveDay: %v", err)
	}
	if res.Removed {
		t.Error("Removed set without RemoveOriginals")
	}
	if _, err := os.Stat(filepath.Join(dir, "202401010000.json")); err != nil {
		t.Errorf("original removed: %v", err)
	}
}

func TestArchiveDayExisting(t *testing.T) {
	root := t.TempDir()
	dir := dstesting.WriteDay(t, root, day1, map[string]string{"202401010000.bin": "x"})
	if err := os.WriteFile(filepath.Join(root, "20240101.tar.gz"), []byte("old"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a, _ := NewArchiver(Options{Root: root, RemoveOriginals: true})
	_, err := a.ArchiveDay(day1)
	if !errors.Is(err, dserrors.ErrArchiveExists) {
		t.Fatalf("expected ErrArchiveExists, got %v", err)
	}
	if !errors.Is(err, dserrors.ErrCompressionFailure) {
		t.Errorf("expected ErrCompressionFailure, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "202401010000.bin")); err != nil {
		t.Errorf("original touched after failure: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(root, "20240101.tar.gz"))
	if string(data) != "old" {
		t.Error("existing archive overwritten")
	}
}

func TestArchiveDayMissing(t *testing.T) {
	a, _ := NewArchiver(Options{Root: t.TempDir()})
	_, err := a.ArchiveDay(day1)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist, got %v", err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	root := t.TempDir()
	dstesting.WriteDay(t, root, day1, map[string]string{"202401010000.bin": "payload"})

	a, _ := NewArchiver(Options{Root: root})
	res, err := a.ArchiveDay(day1)
	if err != nil {
		t.Fatalf("ArchiveDay: %v", err)
	}

	wrong := append([]Entry(nil), res.Entries...)
	wrong[0].Digest++
	if err := Verify(res.Path, wrong); !errors.Is(err, dserrors.ErrArchiveMismatch) {
		t.Errorf("digest: expected ErrArchiveMismatch, got %v", err)
	}

	extra := append(append([]Entry(nil), res.Entries...), Entry{Name: "20240101/extra.bin"})
	if err := Verify(res.Path, extra); !errors.Is(err, dserrors.ErrArchiveMismatch) {
		t.Errorf("count: expected ErrArchiveMismatch, got %v", err)
	}
}

func TestExtract(t *testing.T) {
	root := t.TempDir()
	dstesting.WriteDay(t, root, day1, map[string]string{
		"202401010100.bin": "one",
		"202401010200.bin": "two",
	})

	a, _ := NewArchiver(Options{Root: root, Algorithm: constants.AlgorithmZstd, RemoveOriginals: true})
	res, err := a.ArchiveDay(day1)
	if err != nil {
		t.Fatalf("ArchiveDay: %v", err)
	}

	dest := t.TempDir()
	files, err := Extract(res.Path, dest)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("extracted %d files", len(files))
	}

	data, err := os.ReadFile(filepath.Join(dest, "20240101", "202401010200.bin"))
	if err != nil || string(data) != "two" {
		t.Errorf("extracted content %q, %v", data, err)
	}
}

type brokenCodec struct {
	noneCodec
	w *brokenWriter
}

type brokenWriter struct {
	closed bool
}

func (w *brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (w *brokenWriter) Close() error              { w.closed = true; return nil }

func (c brokenCodec) NewWriter(io.Writer, int) (io.WriteCloser, error) { return c.w, nil }

func TestArchiveDayFailedWriteClosesCodec(t *testing.T) {
	root := t.TempDir()
	dir := dstesting.WriteDay(t, root, day1, map[string]string{"202401010000.bin": "x"})

	a, _ := NewArchiver(Options{Root: root, RemoveOriginals: true})
	w := &brokenWriter{}
	a.codec = brokenCodec{w: w}

	if _, err := a.ArchiveDay(day1); !errors.Is(err, dserrors.ErrCompressionFailure) {
		t.Fatalf("expected ErrCompressionFailure, got %v", err)
	}
	if !w.closed {
		t.Error("codec writer left open after failed archive")
	}
	dstesting.MustExist(t, filepath.Join(dir, "202401010000.bin"))
	dstesting.MustNotExist(t, a.PathFor(day1)+".tmp")
}

// Package archive packs finished day directories into single compressed tar
// files next to them:
//
//	<root>/20240101/202401011000.bin  ->  <root>/20240101.tar.gz
//
// An archive is written to a temporary file, read back and compared entry by
// entry (xxhash64 of the content) against the source files before it is
// renamed into place. Originals are removed only after that check passed.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"

	defaults "github.com/xtxerr/datastor/config"
	"github.com/xtxerr/datastor/internal/constants"
	"github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/logging"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// Options configures an Archiver.
type Options struct {
	// Root holds the day directories and receives the archives.
	Root string

	// Algorithm is the codec name.
	// Default: gzip
	Algorithm string

	// Level is the codec level; 0 selects the codec default.
	Level int

	// RemoveOriginals deletes archived files and their day directory.
	RemoveOriginals bool
}

// Entry describes one file inside an archive.
type Entry struct {
	Name   string // "YYYYMMDD/<file>"
	Size   int64
	Digest uint64 // xxhash64 of the content
}

// Result describes one archived day.
type Result struct {
	Day          time.Time
	Dir          string
	Path         string
	Entries      []Entry
	SourceBytes  int64
	ArchiveBytes int64
	Removed      bool
	Duration     time.Duration
}

// Ratio returns archive size divided by source size.
func (r *Result) Ratio() float64 {
	if r.SourceBytes == 0 {
		return 0
	}
	return float64(r.ArchiveBytes) / float64(r.SourceBytes)
}

// Archiver archives day directories under one root with one codec.
type Archiver struct {
	root            string
	codec           Codec
	level           int
	removeOriginals bool
	log             *slog.Logger
}

// NewArchiver creates an archiver.
func NewArchiver(opts Options) (*Archiver, error) {
	if opts.Algorithm == "" {
		opts.Algorithm = constants.AlgorithmGzip
	}
	codec, err := CodecFor(opts.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Archiver{
		root:            opts.Root,
		codec:           codec,
		level:           opts.Level,
		removeOriginals: opts.RemoveOriginals,
		log:             logging.Component("archive"),
	}, nil
}

// Codec returns the archiver's codec.
func (a *Archiver) Codec() Codec {
	return a.codec
}

// PathFor returns the archive path for day.
func (a *Archiver) PathFor(day time.Time) string {
	return filepath.Join(a.root, layout.DayName(day)+a.codec.Ext())
}

// ArchiveDay archives the day directory for day. Every error is wrapped so
// that it matches ErrCompressionFailure; a missing directory additionally
// matches fs.ErrNotExist.
func (a *Archiver) ArchiveDay(day time.Time) (*Result, error) {
	dir := filepath.Join(a.root, layout.DayName(day))
	res, err := a.archive(dir, layout.DayKey(day))
	if err != nil {
		return nil, errors.NewCompressionFailure(dir, err)
	}
	return res, nil
}

func (a *Archiver) archive(dir string, day time.Time) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	dest := a.PathFor(day)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("%w: %s", errors.ErrArchiveExists, dest)
	}

	files, err := sourceFiles(dir)
	if err != nil {
		return nil, err
	}

	tmp := dest + ".tmp"
	entries, err := a.writeArchive(tmp, layout.DayName(day), files)
	if err != nil {
		os.Remove(tmp)
		return nil, err
	}

	if err := Verify(tmp, entries); err != nil {
		os.Remove(tmp)
		return nil, err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename archive: %w", err)
	}

	res := &Result{
		Day:      day,
		Dir:      dir,
		Path:     dest,
		Entries:  entries,
		Duration: time.Since(start),
	}
	for _, e := range entries {
		res.SourceBytes += e.Size
	}
	if st, err := os.Stat(dest); err == nil {
		res.ArchiveBytes = st.Size()
	}

	if a.removeOriginals {
		res.Removed = a.removeSources(dir, files)
	}

	a.log.Info("day archived",
		"dir", dir,
		"archive", dest,
		"files", len(entries),
		"source", humanize.IBytes(uint64(res.SourceBytes)),
		"archive_size", humanize.IBytes(uint64(res.ArchiveBytes)),
		"removed", res.Removed,
		"duration", res.Duration,
	)

	return res, nil
}

// sourceFiles lists the regular files of dir in name order.
func sourceFiles(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range dirEntries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (a *Archiver) writeArchive(path, dayName string, files []string) ([]Entry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaults.DefaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	cw, err := a.codec.NewWriter(f, a.level)
	if err != nil {
		return nil, fmt.Errorf("%s writer: %w", a.codec.Name(), err)
	}
	cwOpen := true
	defer func() {
		if cwOpen {
			cw.Close()
		}
	}()

	tw := tar.NewWriter(cw)

	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dayName + "/",
		Mode:     int64(defaults.DefaultDirMode),
		ModTime:  time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("write dir entry: %w", err)
	}

	entries := make([]Entry, 0, len(files))
	for _, file := range files {
		entry, err := addFile(tw, dayName, file)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("close tar: %w", err)
	}
	cwOpen = false
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", a.codec.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	return entries, nil
}

func addFile(tw *tar.Writer, dayName, path string) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Entry{}, err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return Entry{}, err
	}
	hdr.Name = dayName + "/" + info.Name()

	if err := tw.WriteHeader(hdr); err != nil {
		return Entry{}, fmt.Errorf("write header %s: %w", hdr.Name, err)
	}

	h := xxhash.New()
	n, err := io.Copy(io.MultiWriter(tw, h), io.LimitReader(f, info.Size()))
	if err != nil {
		return Entry{}, fmt.Errorf("copy %s: %w", path, err)
	}
	if n != info.Size() {
		return Entry{}, fmt.Errorf("copy %s: file shrank from %d to %d bytes", path, info.Size(), n)
	}

	return Entry{Name: hdr.Name, Size: n, Digest: h.Sum64()}, nil
}

// removeSources deletes the archived files and then dir itself. Files that
// appeared after archiving keep the directory alive.
func (a *Archiver) removeSources(dir string, files []string) bool {
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			a.log.Warn("remove archived file", "path", file, "error", err)
			return false
		}
	}
	if err := os.Remove(dir); err != nil {
		a.log.Warn("remove archived day dir", "dir", dir, "error", err)
		return false
	}
	return true
}

// List reads the archive at path and returns its file entries with digests.
func List(path string) ([]Entry, error) {
	codec, err := CodecForPath(trimTmp(path))
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr, err := codec.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", codec.Name(), err)
	}
	defer cr.Close()

	var entries []Entry
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entries, fmt.Errorf("read %s: %w", path, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		h := xxhash.New()
		n, err := io.Copy(h, tr)
		if err != nil {
			return entries, fmt.Errorf("read %s in %s: %w", hdr.Name, path, err)
		}
		entries = append(entries, Entry{Name: hdr.Name, Size: n, Digest: h.Sum64()})
	}

	return entries, nil
}

// Verify checks that the archive at path holds exactly want.
func Verify(path string, want []Entry) error {
	got, err := List(path)
	if err != nil {
		return err
	}

	if len(got) != len(want) {
		return fmt.Errorf("%w: %s holds %d files, expected %d", errors.ErrArchiveMismatch, path, len(got), len(want))
	}

	byName := make(map[string]Entry, len(got))
	for _, e := range got {
		byName[e.Name] = e
	}
	for _, w := range want {
		g, ok := byName[w.Name]
		if !ok {
			return fmt.Errorf("%w: %s missing from %s", errors.ErrArchiveMismatch, w.Name, path)
		}
		if g.Size != w.Size || g.Digest != w.Digest {
			return fmt.Errorf("%w: %s differs in %s", errors.ErrArchiveMismatch, w.Name, path)
		}
	}

	return nil
}

// Extract unpacks the archive at path below dest, recreating the day
// directory. Existing files are not overwritten.
func Extract(path, dest string) ([]string, error) {
	codec, err := CodecForPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr, err := codec.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s reader: %w", codec.Name(), err)
	}
	defer cr.Close()

	var written []string
	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read %s: %w", path, err)
		}

		name := filepath.Clean(filepath.FromSlash(hdr.Name))
		if !filepath.IsLocal(name) {
			return written, fmt.Errorf("%w: unsafe entry name %q", errors.ErrArchiveMismatch, hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := layout.EnsureDayDir(target); err != nil {
				return written, err
			}
		case tar.TypeReg:
			if err := layout.EnsureDayDir(filepath.Dir(target)); err != nil {
				return written, err
			}
			if err := extractFile(tr, target); err != nil {
				return written, err
			}
			written = append(written, target)
		}
	}

	return written, nil
}

func extractFile(r io.Reader, target string) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaults.DefaultFileMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", target, err)
	}
	return out.Close()
}

func trimTmp(path string) string {
	if filepath.Ext(path) == ".tmp" {
		return path[:len(path)-len(".tmp")]
	}
	return path
}

// Package inspect reads bucket files back for verification and dumping.
//
// A truncated tail (a frame or JSON line cut short by a crash) is reported
// in the Summary and is not an error; anything else that does not decode is.
package inspect

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	json "github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	defaults "github.com/xtxerr/datastor/config"
	"github.com/xtxerr/datastor/internal/constants"
	"github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/storage/bucket"
	"github.com/xtxerr/datastor/internal/storage/frame"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// Summary describes one bucket file.
type Summary struct {
	Path         string    `json:"path"`
	Format       string    `json:"format"`
	Hour         time.Time `json:"hour,omitempty"`
	Program      string    `json:"program"`
	Version      int       `json:"version,omitempty"`
	Records      int64     `json:"records"`
	Bytes        int64     `json:"bytes"`
	PayloadBytes int64     `json:"payload_bytes"`
	Truncated    bool      `json:"truncated"`
	PayloadP50   float64   `json:"payload_p50"`
	PayloadP90   float64   `json:"payload_p90"`
	PayloadP99   float64   `json:"payload_p99"`
}

// RecordFunc receives each record of a file in order. The slice is only
// valid during the call.
type RecordFunc func(rec []byte) error

// SummarizeFile reads the bucket file at path and summarizes it.
func SummarizeFile(path string) (*Summary, error) {
	return ForEach(path, nil)
}

// ForEach reads the bucket file at path, calls fn for every record after
// the header and returns the file summary. The format follows from the file
// extension. An error from fn stops the read and is returned as is.
func ForEach(path string, fn RecordFunc) (*Summary, error) {
	s := &Summary{Path: path}
	if hour, _, err := layout.ParseBucket(path); err == nil {
		s.Hour = hour
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		s.Bytes = info.Size()
	}

	sketch, err := ddsketch.NewDefaultDDSketch(defaults.DefaultSketchAccuracy)
	if err != nil {
		return nil, err
	}

	switch strings.TrimPrefix(filepath.Ext(path), ".") {
	case layout.ExtBinary:
		s.Format = constants.FormatBinary
		err = readBinary(f, s, sketch, fn)
	case layout.ExtJSON:
		s.Format = constants.FormatJSON
		err = readJSON(f, s, sketch, fn)
	default:
		return nil, fmt.Errorf("%s: unknown bucket file extension", path)
	}

	if sketch.GetCount() > 0 {
		s.PayloadP50, _ = sketch.GetValueAtQuantile(0.50)
		s.PayloadP90, _ = sketch.GetValueAtQuantile(0.90)
		s.PayloadP99, _ = sketch.GetValueAtQuantile(0.99)
	}

	if err != nil {
		return s, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func readBinary(r io.Reader, s *Summary, sketch *ddsketch.DDSketch, fn RecordFunc) error {
	fr := frame.NewReader(r)

	if !fr.Next() {
		if fr.Truncated() {
			s.Truncated = true
			return nil
		}
		if err := fr.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w: empty file", errors.ErrInvalidHeader)
	}
	hdr, err := frame.ParseHeader(fr.Payload())
	if err != nil {
		return err
	}
	s.Program = hdr.Program
	s.Version = hdr.Version

	for fr.Next() {
		rec := fr.Payload()
		s.Records++
		s.PayloadBytes += int64(len(rec))
		sketch.Add(float64(len(rec)))
		if fn != nil {
			if err := fn(rec); err != nil {
				return err
			}
		}
	}

	if fr.Truncated() {
		s.Truncated = true
		return nil
	}
	return fr.Err()
}

func readJSON(r io.Reader, s *Summary, sketch *ddsketch.DDSketch, fn RecordFunc) error {
	br := bufio.NewReaderSize(r, defaults.DefaultBufferSize)

	for line := 0; ; line++ {
		b, err := br.ReadBytes('\n')
		if err == io.EOF {
			if len(b) > 0 {
				s.Truncated = true
			}
			if line == 0 && len(b) == 0 {
				return fmt.Errorf("%w: empty file", errors.ErrInvalidHeader)
			}
			return nil
		}
		if err != nil {
			return err
		}
		b = bytes.TrimSuffix(b, []byte{'\n'})

		if line == 0 {
			var hdr bucket.HeaderLine
			if err := json.Unmarshal(b, &hdr); err != nil || hdr.Header == "" {
				return fmt.Errorf("%w: line 1 is not a header line", errors.ErrInvalidHeader)
			}
			s.Program = hdr.Header
			continue
		}

		if !json.Valid(b) {
			return fmt.Errorf("%w: line %d is not valid JSON", errors.ErrCorruptFrame, line+1)
		}
		s.Records++
		s.PayloadBytes += int64(len(b))
		sketch.Add(float64(len(b)))
		if fn != nil {
			if err := fn(b); err != nil {
				return err
			}
		}
	}
}

// Result is the verification outcome of one file.
type Result struct {
	Path    string   `json:"path"`
	Summary *Summary `json:"summary,omitempty"`
	Err     error    `json:"-"`
}

// OK reports whether the file verified. A truncated tail counts as OK.
func (r Result) OK() bool {
	return r.Err == nil
}

// VerifyAll summarizes paths with at most workers files in flight. Results
// are in the order of paths. The returned error is only set when ctx ends
// before all files were read.
func VerifyAll(ctx context.Context, paths []string, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = defaults.DefaultVerifyWorkers
	}

	results := make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, path := range paths {
		i, path := i, path
		results[i].Path = path
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := SummarizeFile(path)
			results[i] = Result{Path: path, Summary: s, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// WalkBuckets returns every bucket file under root in chronological order.
func WalkBuckets(root string) ([]string, error) {
	return layout.BucketFiles(root)
}

// Expand resolves a mix of root directories and bucket files into a list of
// bucket files. Directories are walked with WalkBuckets.
func Expand(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		files, err := WalkBuckets(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	return paths, nil
}

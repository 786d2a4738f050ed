package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/xtxerr/datastor/internal/constants"
	"github.com/xtxerr/datastor/internal/errors"
)

// Codec compresses the tar stream of a day archive.
type Codec interface {
	// Name is the algorithm name used in configuration.
	Name() string

	// Ext is the archive file extension including the leading dot.
	Ext() string

	// NewWriter wraps w. Level 0 selects the codec default.
	NewWriter(w io.Writer, level int) (io.WriteCloser, error)

	// NewReader wraps r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var codecs = []Codec{
	gzipCodec{},
	zstdCodec{},
	snappyCodec{},
	lz4Codec{},
	noneCodec{},
}

// CodecFor returns the codec for an algorithm name.
func CodecFor(algorithm string) (Codec, error) {
	for _, c := range codecs {
		if c.Name() == algorithm {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (valid: %v)", errors.ErrUnknownCodec, algorithm, constants.ValidAlgorithms)
}

// CodecForPath picks the codec from an archive file name.
func CodecForPath(path string) (Codec, error) {
	for _, c := range codecs {
		if strings.HasSuffix(path, c.Ext()) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no codec for %s", errors.ErrUnknownCodec, path)
}

// Extensions returns the archive extensions of all codecs.
func Extensions() []string {
	exts := make([]string, len(codecs))
	for i, c := range codecs {
		exts[i] = c.Ext()
	}
	return exts
}

// -----------------------------------------------------------------------------
// gzip
// -----------------------------------------------------------------------------

type gzipCodec struct{}

func (gzipCodec) Name() string { return constants.AlgorithmGzip }
func (gzipCodec) Ext() string  { return ".tar.gz" }

func (gzipCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return gzip.NewWriterLevel(w, level)
}

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// -----------------------------------------------------------------------------
// zstd
// -----------------------------------------------------------------------------

type zstdCodec struct{}

func (zstdCodec) Name() string { return constants.AlgorithmZstd }
func (zstdCodec) Ext() string  { return ".tar.zst" }

func (zstdCodec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	var opts []zstd.EOption
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	return zstd.NewWriter(w, opts...)
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}

// -----------------------------------------------------------------------------
// snappy (framed stream format)
// -----------------------------------------------------------------------------

type snappyCodec struct{}

func (snappyCodec) Name() string { return constants.AlgorithmSnappy }
func (snappyCodec) Ext() string  { return ".tar.sz" }

func (snappyCodec) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

// -----------------------------------------------------------------------------
// lz4
// -----------------------------------------------------------------------------

type lz4Codec struct{}

var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast,
	lz4.Level1, lz4.Level2, lz4.Level3,
	lz4.Level4, lz4.Level5, lz4.Level6,
	lz4.Level7, lz4.Level8, lz4.Level9,
}

func (lz4Codec) Name() string { return constants.AlgorithmLZ4 }
func (lz4Codec) Ext() string  { return ".tar.lz4" }

func (lz4Codec) NewWriter(w io.Writer, level int) (io.WriteCloser, error) {
	zw := lz4.NewWriter(w)
	if level < 0 || level >= len(lz4Levels) {
		return nil, fmt.Errorf("lz4 level %d out of range 0-%d", level, len(lz4Levels)-1)
	}
	if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
		return nil, err
	}
	return zw, nil
}

func (lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// -----------------------------------------------------------------------------
// none
// -----------------------------------------------------------------------------

type noneCodec struct{}

func (noneCodec) Name() string { return constants.AlgorithmNone }
func (noneCodec) Ext() string  { return ".tar" }

func (noneCodec) NewWriter(w io.Writer, _ int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

package frame

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/xtxerr/datastor/internal/errors"
)

// Reader iterates over the frames of a stream.
type Reader struct {
	r       *bufio.Reader
	offset  int64
	start   int64
	payload []byte
	err     error
	done    bool

	// Statistics
	stats ReaderStats
}

// ReaderStats holds reader statistics.
type ReaderStats struct {
	FramesRead   int64
	PayloadBytes int64
	BytesRead    int64
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next frame. It returns false at the end of the
// stream or on the first error; Err tells the two apart.
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}

	r.start = r.offset
	_, payload, n, err := decode(r.r)
	r.offset += n
	r.stats.BytesRead += n
	if err == io.EOF {
		r.done = true
		r.payload = nil
		return false
	}
	if err != nil {
		r.err = fmt.Errorf("frame at offset %d: %w", r.start, err)
		r.payload = nil
		return false
	}

	r.payload = payload
	r.stats.FramesRead++
	r.stats.PayloadBytes += int64(len(payload))
	return true
}

// Payload returns the payload of the current frame. The slice is owned by
// the caller.
func (r *Reader) Payload() []byte {
	return r.payload
}

// Offset returns the byte offset at which the current frame starts.
func (r *Reader) Offset() int64 {
	return r.start
}

// Err returns the error that stopped iteration, or nil at a clean end.
func (r *Reader) Err() error {
	return r.err
}

// Truncated reports whether iteration stopped on a cut-off final frame.
func (r *Reader) Truncated() bool {
	return errors.Is(r.err, errors.ErrTruncatedFrame)
}

// Stats returns reader statistics.
func (r *Reader) Stats() ReaderStats {
	return r.stats
}

// ReadFile reads a whole .bin bucket file. The first frame must be a header
// frame. Payloads decoded before an error are returned together with it, so
// a crash-truncated file is still usable up to the cut.
func ReadFile(path string) (Header, [][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open bucket file: %w", err)
	}
	defer f.Close()

	r := NewReader(f)
	if !r.Next() {
		if r.Err() != nil {
			return Header{}, nil, r.Err()
		}
		return Header{}, nil, fmt.Errorf("%s: %w: empty file", path, errors.ErrInvalidHeader)
	}

	h, err := ParseHeader(r.Payload())
	if err != nil {
		return Header{}, nil, err
	}

	var payloads [][]byte
	for r.Next() {
		payloads = append(payloads, r.Payload())
	}

	return h, payloads, r.Err()
}

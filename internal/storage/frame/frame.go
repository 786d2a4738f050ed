// Package frame implements the length-delimited binary frame format used
// by .bin bucket files.
//
// Frame layout (little-endian):
//
//	+-------+------------+--------------+---------+---------+-------+
//	| magic | frame_size | payload_size | payload | padding | magic |
//	|  4 B  |    u32     |     u32      |  n B    | 0-3 B   |  4 B  |
//	+-------+------------+--------------+---------+---------+-------+
//
// frame_size is 8 + align4(payload_size). Padding bytes are 0xFF and bring
// every frame to a multiple of 4 bytes on disk. The first frame of a file is
// a header frame (see HeaderPayload).
package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/xtxerr/datastor/internal/errors"
)

const (
	// MagicSize is the size of the leading and trailing markers.
	MagicSize = 4

	// prefixSize covers magic, frame_size and payload_size.
	prefixSize = MagicSize + 8

	// Overhead is the number of bytes a frame adds to its payload, padding excluded.
	Overhead = prefixSize + MagicSize

	// PaddingByte fills the gap between the payload and the trailing magic.
	PaddingByte byte = 0xFF

	// MaxPayloadSize is the largest payload whose frame_size fits in a u32
	// (4 GiB - 12).
	MaxPayloadSize = math.MaxUint32 - 11
)

// Magic marks both ends of every frame.
var Magic = [MagicSize]byte{'D', 'S', 'F', 'R'}

// PaddingFor returns the number of padding bytes written after a payload of
// n bytes. Frames are truly aligned: a payload that is already a multiple of
// 4 gets no padding.
func PaddingFor(n int) int {
	return (4 - n%4) % 4
}

// Align4 rounds n up to the next multiple of 4.
func Align4(n int) int {
	return n + PaddingFor(n)
}

// FrameSize returns the frame_size field for a payload of n bytes.
func FrameSize(n int) (uint32, error) {
	if n < 0 || uint64(n) > MaxPayloadSize {
		return 0, fmt.Errorf("%d bytes exceeds %d: %w", n, uint64(MaxPayloadSize), errors.ErrPayloadTooLarge)
	}
	return uint32(8 + Align4(n)), nil
}

// EncodedLen returns the on-disk length of a frame carrying n payload bytes.
func EncodedLen(n int) int {
	return Overhead + Align4(n)
}

// Encode returns payload wrapped in a frame.
func Encode(payload []byte) ([]byte, error) {
	return AppendFrame(nil, payload)
}

// AppendFrame appends the frame for payload to dst. On error dst is
// returned unchanged.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	frameSize, err := FrameSize(len(payload))
	if err != nil {
		return dst, err
	}

	dst = slices.Grow(dst, EncodedLen(len(payload)))
	dst = append(dst, Magic[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, frameSize)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, payload...)
	for i := PaddingFor(len(payload)); i > 0; i-- {
		dst = append(dst, PaddingByte)
	}
	dst = append(dst, Magic[:]...)

	return dst, nil
}

// Decode reads one frame from r and returns its payload size and payload.
//
// It returns io.EOF when r is exhausted exactly on a frame boundary,
// ErrTruncatedFrame when r ends inside a frame, and ErrCorruptFrame when a
// marker or size field is wrong.
func Decode(r io.Reader) (uint32, []byte, error) {
	size, payload, _, err := decode(r)
	return size, payload, err
}

// decode is Decode that also reports the number of bytes consumed.
func decode(r io.Reader) (uint32, []byte, int64, error) {
	var prefix [prefixSize]byte
	n, err := io.ReadFull(r, prefix[:])
	if err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			// A partial marker that already disagrees is damage, not a cut.
			m := min(n, MagicSize)
			if !bytes.Equal(prefix[:m], Magic[:m]) {
				return 0, nil, int64(n), fmt.Errorf("%w: leading magic %x", errors.ErrCorruptFrame, prefix[:m])
			}
			return 0, nil, int64(n), fmt.Errorf("%w: %d of %d prefix bytes", errors.ErrTruncatedFrame, n, prefixSize)
		}
		return 0, nil, int64(n), fmt.Errorf("read frame prefix: %w", err)
	}

	if !bytes.Equal(prefix[:MagicSize], Magic[:]) {
		return 0, nil, prefixSize, fmt.Errorf("%w: leading magic %x", errors.ErrCorruptFrame, prefix[:MagicSize])
	}

	frameSize := binary.LittleEndian.Uint32(prefix[4:8])
	payloadSize := binary.LittleEndian.Uint32(prefix[8:12])

	if uint64(payloadSize) > MaxPayloadSize {
		return 0, nil, prefixSize, fmt.Errorf("%w: payload_size %d", errors.ErrCorruptFrame, payloadSize)
	}
	if want := uint64(8) + uint64(Align4(int(payloadSize))); uint64(frameSize) != want {
		return 0, nil, prefixSize, fmt.Errorf("%w: frame_size %d, payload_size %d", errors.ErrCorruptFrame, frameSize, payloadSize)
	}

	consumed := int64(prefixSize)

	// Grow with the data actually present so a cut-off file does not
	// allocate the full declared size.
	var buf bytes.Buffer
	buf.Grow(int(min(payloadSize, 1<<20)))
	copied, err := io.CopyN(&buf, r, int64(payloadSize))
	consumed += copied
	if err != nil {
		if err == io.EOF {
			return 0, nil, consumed, fmt.Errorf("%w: %d of %d payload bytes", errors.ErrTruncatedFrame, copied, payloadSize)
		}
		return 0, nil, consumed, fmt.Errorf("read payload: %w", err)
	}

	var tail [3 + MagicSize]byte
	pad := PaddingFor(int(payloadSize))
	trailer := tail[:pad+MagicSize]
	n, err = io.ReadFull(r, trailer)
	consumed += int64(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			if n > pad && !bytes.Equal(trailer[pad:n], Magic[:n-pad]) {
				return 0, nil, consumed, fmt.Errorf("%w: trailing magic %x", errors.ErrCorruptFrame, trailer[pad:n])
			}
			return 0, nil, consumed, fmt.Errorf("%w: missing trailing magic", errors.ErrTruncatedFrame)
		}
		return 0, nil, consumed, fmt.Errorf("read frame trailer: %w", err)
	}

	if !bytes.Equal(trailer[pad:], Magic[:]) {
		return 0, nil, consumed, fmt.Errorf("%w: trailing magic %x", errors.ErrCorruptFrame, trailer[pad:])
	}

	return payloadSize, buf.Bytes(), consumed, nil
}

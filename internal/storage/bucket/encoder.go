package bucket

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/storage/frame"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// Encoder turns records of type T into bytes for a bucket file.
// Implementations are stateless; the Writer owns all buffers.
type Encoder[T any] interface {
	// Extension is the bucket file extension, without the dot.
	Extension() string

	// AppendHeader appends the first record of a new bucket file.
	AppendHeader(dst []byte, program string) ([]byte, error)

	// AppendRecord appends one encoded record. On error nothing is appended.
	AppendRecord(dst []byte, v T) ([]byte, error)
}

// Binary writes each record as one frame and starts files with a header frame.
type Binary struct{}

// Extension implements Encoder.
func (Binary) Extension() string { return layout.ExtBinary }

// AppendHeader implements Encoder.
func (Binary) AppendHeader(dst []byte, program string) ([]byte, error) {
	return frame.AppendFrame(dst, frame.HeaderPayload(program))
}

// AppendRecord implements Encoder.
func (Binary) AppendRecord(dst []byte, payload []byte) ([]byte, error) {
	return frame.AppendFrame(dst, payload)
}

// JSON writes each record as one line of compact JSON and starts files with
// a {"header":"<program>"} line.
type JSON[T any] struct{}

// HeaderLine is the first line of every JSON bucket file.
type HeaderLine struct {
	Header string `json:"header"`
}

// Extension implements Encoder.
func (JSON[T]) Extension() string { return layout.ExtJSON }

// AppendHeader implements Encoder.
func (JSON[T]) AppendHeader(dst []byte, program string) ([]byte, error) {
	b, err := json.Marshal(HeaderLine{Header: program})
	if err != nil {
		return dst, fmt.Errorf("%w: header: %w", errors.ErrSerialize, err)
	}
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}

// AppendRecord implements Encoder. Marshal output is compact, so the record
// never spans more than one line.
func (JSON[T]) AppendRecord(dst []byte, v T) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return dst, fmt.Errorf("%w: %w", errors.ErrSerialize, err)
	}
	dst = append(dst, b...)
	return append(dst, '\n'), nil
}

package frame

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/xtxerr/datastor/internal/errors"
)

const (
	// FormatName identifies the frame format in header frames.
	FormatName = "datastor-frame"

	// FormatVersion is bumped whenever the frame layout changes.
	FormatVersion = 1
)

// Header is the decoded content of a header frame.
type Header struct {
	Format  string
	Version int
	Program string
}

// HeaderPayload returns the ASCII payload of the header frame written at the
// start of every new binary file:
//
//	format=datastor-frame
//	version=1
//	program=<program>
func HeaderPayload(program string) []byte {
	return []byte(fmt.Sprintf("format=%s\nversion=%d\nprogram=%s\n", FormatName, FormatVersion, program))
}

// EncodeHeader returns the header frame for program.
func EncodeHeader(program string) ([]byte, error) {
	return Encode(HeaderPayload(program))
}

// ParseHeader decodes a header frame payload.
func ParseHeader(payload []byte) (Header, error) {
	var h Header
	seen := make(map[string]bool, 3)

	for _, line := range bytes.Split(payload, []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		key, value, ok := bytes.Cut(line, []byte{'='})
		if !ok {
			return Header{}, fmt.Errorf("%w: malformed line %q", errors.ErrInvalidHeader, line)
		}
		switch string(key) {
		case "format":
			h.Format = string(value)
		case "version":
			v, err := strconv.Atoi(string(value))
			if err != nil {
				return Header{}, fmt.Errorf("%w: version %q", errors.ErrInvalidHeader, value)
			}
			h.Version = v
		case "program":
			h.Program = string(value)
		default:
			// Unknown keys are tolerated so later versions can add fields.
			continue
		}
		seen[string(key)] = true
	}

	for _, key := range []string{"format", "version", "program"} {
		if !seen[key] {
			return Header{}, fmt.Errorf("%w: missing %s", errors.ErrInvalidHeader, key)
		}
	}
	if h.Format != FormatName {
		return Header{}, fmt.Errorf("%w: format %q", errors.ErrInvalidHeader, h.Format)
	}

	return h, nil
}

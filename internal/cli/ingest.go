package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/xtxerr/datastor/internal/constants"
	dserrors "github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/storage"
	"github.com/xtxerr/datastor/internal/storage/config"
)

// now is the clock used for ingested records.
var now = time.Now

// IngestResult summarizes an ingest run.
type IngestResult struct {
	Records  int64  `json:"records"`
	Bytes    int64  `json:"bytes"`
	Rejected int64  `json:"rejected"`
	Buckets  int64  `json:"buckets"`
	Archived int64  `json:"archived"`
	LastPath string `json:"last_path,omitempty"`
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	var flags StoreFlags
	var format string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Store each line of stdin as one record",
		Long: `Read stdin line by line and store every line as one record stamped
with the current UTC time.

With the binary format the line (without its newline) becomes the frame
payload. With the json format every line must hold one JSON value; lines
that do not parse are rejected and counted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), rootOpts, &flags, format, cmd)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&format, "record-format", "", "record format binary|json (overrides config)")

	return cmd
}

func runIngest(ctx context.Context, opts *RootOptions, flags *StoreFlags, format string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := flags.load()
	if err != nil {
		return f.Fail(err)
	}
	if format != "" {
		if !constants.IsValidFormat(format) {
			return f.Fail(NewExitError(ExitCommandError,
				fmt.Sprintf("invalid record format %q: must be one of %v", format, constants.ValidFormats)))
		}
		cfg.Format = format
	}

	f.VerboseLog("Ingesting %s records into %s", cfg.Format, cfg.Root)

	var res *IngestResult
	switch cfg.Format {
	case constants.FormatJSON:
		res, err = ingestJSON(ctx, cfg, cmd.InOrStdin(), f)
	default:
		res, err = ingestBinary(ctx, cfg, cmd.InOrStdin(), f)
	}
	if err != nil {
		return f.Fail(err)
	}

	if err := f.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "stored %d records (%s) in %d buckets, rejected %d, archived %d days\n",
			res.Records, formatBytes(res.Bytes), res.Buckets, res.Rejected, res.Archived)
	}); err != nil {
		return err
	}

	if res.Rejected > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d records rejected", res.Rejected))
	}
	return nil
}

func ingestBinary(ctx context.Context, cfg *config.Config, r io.Reader, f *OutputFormatter) (*IngestResult, error) {
	s, err := storage.OpenBinary(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return ingest(ctx, s, r, f, func(line []byte) ([]byte, error) {
		return line, nil
	})
}

func ingestJSON(ctx context.Context, cfg *config.Config, r io.Reader, f *OutputFormatter) (*IngestResult, error) {
	s, err := storage.OpenJSON[json.RawMessage](cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return ingest(ctx, s, r, f, func(line []byte) (json.RawMessage, error) {
		if !json.Valid(line) {
			return nil, fmt.Errorf("%w: not a JSON value", dserrors.ErrSerialize)
		}
		return json.RawMessage(line), nil
	})
}

// ingest stores every line of r. Lines the store refuses for good (bad
// JSON, oversized, late) are rejected and counted; a store error that may
// go away on retry, or an I/O error reading r, ends the run.
func ingest[T any](ctx context.Context, s *storage.Store[T], r io.Reader, f *OutputFormatter, conv func([]byte) (T, error)) (*IngestResult, error) {
	res := &IngestResult{}
	br := bufio.NewReader(r)

	var readErr, storeErr error
	for line := 1; ctx.Err() == nil && storeErr == nil; line++ {
		b, err := br.ReadBytes('\n')
		if len(b) > 0 {
			b = bytes.TrimSuffix(b, []byte{'\n'})
			b = bytes.TrimSuffix(b, []byte{'\r'})

			v, cerr := conv(b)
			if cerr == nil {
				var n int
				n, cerr = s.Store(now(), v)
				res.Bytes += int64(n)
			}
			switch {
			case cerr != nil && dserrors.IsRetriable(cerr):
				storeErr = dserrors.Wrapf(cerr, "line %d", line)
			case cerr != nil:
				res.Rejected++
				f.VerboseLog("line %d rejected: %v", line, cerr)
			default:
				res.Records++
			}
		}
		if storeErr != nil || err == io.EOF {
			break
		}
		if err != nil {
			readErr = err
			break
		}
	}

	res.LastPath = s.CurrentPath()
	closeErr := s.Close()

	stats := s.Stats()
	res.Buckets = stats.Bucket.BucketsOpened
	res.Archived = stats.Archive.Archived

	if storeErr != nil {
		return res, WrapExitError(ExitFailure, "store record", storeErr)
	}
	if readErr != nil {
		return res, WrapExitError(ExitFailure, "read input", readErr)
	}
	if closeErr != nil {
		return res, WrapExitError(ExitFailure, "close store", closeErr)
	}
	if err := ctx.Err(); err != nil {
		return res, WrapExitError(ExitFailure, "interrupted", err)
	}
	return res, nil
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/xtxerr/datastor/internal/storage/inspect"
	"github.com/xtxerr/datastor/internal/storage/layout"
)

// DumpResult is the JSON output of the dump command.
type DumpResult struct {
	Summary *inspect.Summary `json:"summary"`
	Records []any            `json:"records"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var raw bool
	var limit int

	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the records of a bucket file",
		Long: `Print the records of one .bin or .json bucket file, followed by a
summary line with the header fields.

Binary payloads are printed as quoted strings; --raw writes the payload
bytes back to back instead and refuses to do so to a terminal.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, args[0], raw, limit, cmd)
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "write raw payload bytes to stdout")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after n records (0 = all)")

	return cmd
}

// errLimit stops ForEach once the record limit is reached.
var errLimit = errors.New("record limit reached")

func runDump(opts *RootOptions, path string, raw bool, limit int, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	out := cmd.OutOrStdout()
	asJSON := filepath.Ext(path) == "."+layout.ExtJSON

	if raw {
		if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
			return f.Fail(NewExitError(ExitCommandError, "refusing to write raw payloads to a terminal"))
		}
	}

	records := []any{}
	count := 0
	var writeErr error

	s, err := inspect.ForEach(path, func(rec []byte) error {
		count++
		switch {
		case raw:
			if _, writeErr = out.Write(rec); writeErr != nil {
				return writeErr
			}
		case opts.Format == "json":
			records = append(records, recordValue(asJSON, rec))
		default:
			fmt.Fprintf(out, "%6d  %s\n", count, recordText(asJSON, rec))
		}
		if limit > 0 && count >= limit {
			return errLimit
		}
		return nil
	})
	if writeErr != nil {
		return WrapExitError(ExitCommandError, "write output", writeErr)
	}
	if err != nil && !errors.Is(err, errLimit) {
		return f.Fail(WrapExitError(ExitFailure, "read bucket file", err))
	}

	if raw {
		return nil
	}

	return f.Success(DumpResult{Summary: s, Records: records}, func(w io.Writer) {
		fmt.Fprintf(w, "# %s format=%s program=%s records=%d", path, s.Format, strconv.Quote(s.Program), count)
		if s.Truncated {
			fmt.Fprint(w, " truncated")
		}
		fmt.Fprintln(w)
	})
}

// recordText renders a record for text output.
func recordText(asJSON bool, rec []byte) string {
	if asJSON {
		return string(rec)
	}
	return strconv.Quote(string(rec))
}

// recordValue renders a record for JSON output: JSON records are embedded
// as is, binary payloads as base64 strings.
func recordValue(asJSON bool, rec []byte) any {
	if asJSON {
		return json.RawMessage(append([]byte(nil), rec...))
	}
	return append([]byte(nil), rec...)
}

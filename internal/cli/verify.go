package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	defaults "github.com/xtxerr/datastor/config"
	dserrors "github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/storage/inspect"
)

// VerifyResult is the output of the verify command.
type VerifyResult struct {
	Files     int           `json:"files"`
	Failed    int           `json:"failed"`
	Corrupt   int           `json:"corrupt"`
	Truncated int           `json:"truncated"`
	Records   int64         `json:"records"`
	Results   []VerifyEntry `json:"results"`
}

// VerifyEntry is the outcome for one file.
type VerifyEntry struct {
	Path    string           `json:"path"`
	OK      bool             `json:"ok"`
	Corrupt bool             `json:"corrupt,omitempty"`
	Error   string           `json:"error,omitempty"`
	Summary *inspect.Summary `json:"summary,omitempty"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "verify <root|file>...",
		Short: "Check that bucket files decode cleanly",
		Long: `Decode every record of the given bucket files, or of all bucket files
under the given store roots.

A truncated last record is reported but accepted. Any other decoding
error fails the file and makes the command exit with code 1.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, workers, cmd)
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", defaults.DefaultVerifyWorkers, "files verified in parallel")

	return cmd
}

func runVerify(opts *RootOptions, args []string, workers int, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	paths, err := inspect.Expand(args)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "resolve paths", err))
	}
	f.VerboseLog("Verifying %d file(s) with %d workers", len(paths), workers)

	results, err := inspect.VerifyAll(cmd.Context(), paths, workers)
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "verify", err))
	}

	out := VerifyResult{Files: len(results), Results: make([]VerifyEntry, 0, len(results))}
	for _, r := range results {
		e := VerifyEntry{Path: r.Path, OK: r.OK(), Summary: r.Summary}
		if r.Err != nil {
			e.Error = r.Err.Error()
			e.Corrupt = dserrors.IsFrameError(r.Err)
			out.Failed++
			if e.Corrupt {
				out.Corrupt++
			}
		}
		if r.Summary != nil {
			out.Records += r.Summary.Records
			if r.Summary.Truncated {
				out.Truncated++
			}
		}
		out.Results = append(out.Results, e)
	}

	if err := f.Success(out, func(w io.Writer) {
		for _, e := range out.Results {
			switch {
			case e.Corrupt:
				fmt.Fprintf(w, "FAIL  %s: %s\n", e.Path, e.Error)
			case !e.OK:
				fmt.Fprintf(w, "ERROR %s: %s\n", e.Path, e.Error)
			case e.Summary.Truncated:
				fmt.Fprintf(w, "OK    %s (%d records, truncated tail)\n", e.Path, e.Summary.Records)
			default:
				fmt.Fprintf(w, "OK    %s (%d records)\n", e.Path, e.Summary.Records)
			}
		}
		fmt.Fprintf(w, "%d files, %d records, %d failed (%d corrupt), %d truncated\n",
			out.Files, out.Records, out.Failed, out.Corrupt, out.Truncated)
	}); err != nil {
		return err
	}

	if out.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d files failed verification", out.Failed, out.Files))
	}
	return nil
}

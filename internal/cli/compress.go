package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/xtxerr/datastor/internal/errors"
	"github.com/xtxerr/datastor/internal/storage"
)

// CompressResult is the output of the compress command.
type CompressResult struct {
	Archived []ArchivedDay `json:"archived"`
	Failed   int64         `json:"failed"`
}

// ArchivedDay describes one archive written by the compress command.
type ArchivedDay struct {
	Day          string  `json:"day"`
	Archive      string  `json:"archive"`
	Files        int     `json:"files"`
	SourceBytes  int64   `json:"source_bytes"`
	ArchiveBytes int64   `json:"archive_bytes"`
	Ratio        float64 `json:"ratio"`
	Removed      bool    `json:"removed"`
}

// NewCompressCommand creates the compress command.
func NewCompressCommand(rootOpts *RootOptions) *cobra.Command {
	var flags StoreFlags
	var at string

	cmd := &cobra.Command{
		Use:   "compress",
		Short: "Archive day directories older than today",
		Long: `Archive every day directory of the store root that lies before the
current UTC day, using the configured compression settings. Use this for
days left behind by a writer that stopped before midnight.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompress(rootOpts, &flags, at, cmd)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&at, "now", "", "reference time (RFC 3339) instead of the current time")

	return cmd
}

func runCompress(opts *RootOptions, flags *StoreFlags, at string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := flags.load()
	if err != nil {
		return f.Fail(err)
	}
	ref, err := parseNow(at)
	if err != nil {
		return f.Fail(err)
	}

	s, err := storage.OpenBinary(cfg)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "open store", err))
	}
	defer s.Close()

	f.VerboseLog("Archiving days before %s in %s (%s)", ref.UTC().Format("2006-01-02"), cfg.Root, cfg.Compression.Algorithm)

	results, sweepErr := s.CompressStale(ref)

	out := CompressResult{Archived: []ArchivedDay{}, Failed: s.Stats().Archive.Failed}
	for _, r := range results {
		out.Archived = append(out.Archived, ArchivedDay{
			Day:          r.Day.Format("2006-01-02"),
			Archive:      r.Path,
			Files:        len(r.Entries),
			SourceBytes:  r.SourceBytes,
			ArchiveBytes: r.ArchiveBytes,
			Ratio:        r.Ratio(),
			Removed:      r.Removed,
		})
	}

	if sweepErr != nil && !dserrors.IsArchiveError(sweepErr) {
		return f.Fail(WrapExitError(ExitFailure, "compress", sweepErr))
	}

	if err := f.Success(out, func(w io.Writer) {
		for _, a := range out.Archived {
			fmt.Fprintf(w, "%s  %s  %d files  %s -> %s (%.1f%%)\n",
				a.Day, a.Archive, a.Files,
				formatBytes(a.SourceBytes), formatBytes(a.ArchiveBytes), a.Ratio*100)
		}
		fmt.Fprintf(w, "%d days archived, %d failed\n", len(out.Archived), out.Failed)
	}); err != nil {
		return err
	}

	// Days that did archive are reported above; failed ones only change
	// the exit code.
	if sweepErr != nil {
		return WrapExitError(ExitFailure, "compress", sweepErr)
	}
	return nil
}

// parseNow parses an RFC 3339 reference time; empty means now.
func parseNow(s string) (time.Time, error) {
	if s == "" {
		return now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --now", err)
	}
	return t, nil
}

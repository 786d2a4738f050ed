package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/datastor/internal/storage/retention"
)

// PruneResult is the output of the prune command.
type PruneResult struct {
	DryRun     bool     `json:"dry_run"`
	Cutoff     string   `json:"cutoff"`
	Deleted    []string `json:"deleted"`
	BytesFreed int64    `json:"bytes_freed"`
	Kept       int      `json:"kept"`
	Errors     []string `json:"errors,omitempty"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var flags StoreFlags
	var keep time.Duration
	var dryRun bool
	var at string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete day archives older than the retention period",
		Long: `Delete day archives of the store root whose day lies more than the
retention period (retention.archives, or --keep) before now. Day
directories are never deleted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("keep") {
				keep = -1
			}
			return runPrune(rootOpts, &flags, keep, dryRun, at, cmd)
		},
	}

	flags.register(cmd)
	cmd.Flags().DurationVar(&keep, "keep", 0, "retention period (overrides config)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted")
	cmd.Flags().StringVar(&at, "now", "", "reference time (RFC 3339) instead of the current time")

	return cmd
}

func runPrune(opts *RootOptions, flags *StoreFlags, keep time.Duration, dryRun bool, at string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	cfg, err := flags.load()
	if err != nil {
		return f.Fail(err)
	}
	if keep < 0 {
		keep = cfg.Retention.Archives
	}
	ref, err := parseNow(at)
	if err != nil {
		return f.Fail(err)
	}

	m := retention.New(cfg.Root, keep)
	if !m.Enabled() {
		f.VerboseLog("Retention is 0, archives are kept forever")
	}

	var res retention.CleanupResult
	if dryRun {
		res = m.DryRun(ref)
	} else {
		res = m.RunCleanup(ref)
	}

	out := PruneResult{
		DryRun:     dryRun,
		Cutoff:     res.Cutoff.Format("2006-01-02"),
		Deleted:    res.Deleted,
		BytesFreed: res.BytesFreed,
		Kept:       res.FilesSkipped,
	}
	if out.Deleted == nil {
		out.Deleted = []string{}
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}

	if opts.Verbose {
		if usage, err := m.FormatDiskUsage(); err == nil {
			f.VerboseLog("%s", usage)
		}
	}

	if err := f.Success(out, func(w io.Writer) {
		verb := "deleted"
		if dryRun {
			verb = "would delete"
		}
		for _, p := range out.Deleted {
			fmt.Fprintf(w, "%s %s\n", verb, p)
		}
		for _, e := range out.Errors {
			fmt.Fprintf(w, "error: %s\n", e)
		}
		fmt.Fprintf(w, "%s %d archives before %s (%s), kept %d\n",
			verb, len(out.Deleted), out.Cutoff, formatBytes(out.BytesFreed), out.Kept)
	}); err != nil {
		return err
	}

	if len(res.Errors) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d archives could not be deleted", len(res.Errors)))
	}
	return nil
}

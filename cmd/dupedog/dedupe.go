package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fileforge/dupedog/internal/registry"
	"github.com/spf13/cobra"
)

// dedupeOptions holds CLI flags for the dedupe command.
type dedupeOptions struct {
	minSizeStr string
	ignoreDirs []string
	ignoreExts []string
	noProgress bool
	dryRun     bool
	linkType   string
	saveAuto   bool
	cacheFile  string
}

// newDedupeCmd creates the dedupe subcommand.
func newDedupeCmd() *cobra.Command {
	opts := &dedupeOptions{
		minSizeStr: "1",
		linkType:   "hard",
	}

	cmd := &cobra.Command{
		Use:   "dedupe [paths...]",
		Short: "Find and deduplicate files",
		Long: `Scans for duplicates and replaces them with hardlinks (or symlinks).

Use --dry-run to preview a scan's findings without replacing anything.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runDedupe(args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.minSizeStr, "min-size", "m", opts.minSizeStr, "Minimum file size (e.g., 100, 1K, 10M, 1G)")
	cmd.Flags().StringSliceVar(&opts.ignoreDirs, "ignore-dirs", nil, "Directory basenames to skip")
	cmd.Flags().StringSliceVar(&opts.ignoreExts, "ignore-exts", nil, "File extensions to skip")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "Preview changes without executing")
	cmd.Flags().StringVar(&opts.linkType, "link-type", opts.linkType, `Link type to create: "hard" or "soft"`)
	cmd.Flags().BoolVar(&opts.saveAuto, "save", false, "Auto-save the scan result as scan_results_<id>.json in the first path")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", "", "Path to hash cache file (enables caching across runs)")

	return cmd
}

// runDedupe submits a ScanRequest to an in-process JobRegistry and polls
// it to completion, printing progress and the final summary. This is the
// CLI's only point of contact with the pipeline — everything past this
// function belongs to internal/registry.
func runDedupe(paths []string, opts *dedupeOptions) error {
	minSize, err := parseSize(opts.minSizeStr)
	if err != nil {
		return fmt.Errorf("invalid --min-size: %w", err)
	}
	if opts.linkType != "hard" && opts.linkType != "soft" {
		return fmt.Errorf("invalid --link-type %q: must be \"hard\" or \"soft\"", opts.linkType)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	reg := registry.New(logger)

	req := registry.ScanRequest{
		Roots:       paths,
		DryRun:      opts.dryRun,
		LinkType:    opts.linkType,
		SaveAuto:    opts.saveAuto,
		IgnoreDirs:  opts.ignoreDirs,
		IgnoreExts:  opts.ignoreExts,
		MinFileSize: uint64(minSize),
		CacheFile:   opts.cacheFile,
	}

	jobID := reg.SubmitScan(req)
	snap, err := pollUntilTerminal(reg, jobID, !opts.noProgress)
	if err != nil {
		return err
	}
	if snap.Status == registry.StatusError {
		return fmt.Errorf("scan failed")
	}

	res, err := reg.Result(jobID)
	if err != nil {
		return fmt.Errorf("fetch scan result: %w", err)
	}
	scanResult := res.(*registry.ScanResult)

	fmt.Printf("scan %s: %d duplicate set(s), %s potential savings\n",
		jobID, scanResult.Summary.TotalSetsFound, humanizeBytes(scanResult.Summary.PotentialSavings))
	if opts.dryRun {
		fmt.Println("dry run complete; no files were changed")
	} else {
		fmt.Printf("linked %d file(s), %d failed\n", scanResult.Summary.FilesLinked, scanResult.Summary.FilesFailed)
		if scanResult.Summary.FilesFailed > 0 {
			return errPartialFailure
		}
	}
	return nil
}

// pollUntilTerminal blocks until jobID reaches a terminal status,
// printing a one-line progress update when showProgress is set.
func pollUntilTerminal(reg *registry.Registry, jobID string, showProgress bool) (registry.ProgressSnapshot, error) {
	for {
		snap, err := reg.Snapshot(jobID)
		if err != nil {
			return snap, fmt.Errorf("snapshot %s: %w", jobID, err)
		}
		if showProgress {
			fmt.Fprintf(os.Stderr, "\r\033[K%s: %s %d%%", jobID, snap.Phase, snap.Percentage)
		}
		switch snap.Status {
		case registry.StatusDone, registry.StatusError, registry.StatusCancelled:
			if showProgress {
				fmt.Fprintln(os.Stderr)
			}
			return snap, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
}

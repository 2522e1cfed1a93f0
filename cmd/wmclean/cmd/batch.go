package cmd

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
	"github.com/MeKo-Tech/wmclean/internal/batch"
	"github.com/spf13/cobra"
)

func newBatchCommand(a *app) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch <paths...>",
		Short: "Remove watermarks from many images",
		Long: `Remove the corner watermark from every supported image found in the given
files and directories. Workers share one model session, so the learned
strategy loads its model once per run.

Outputs are named <stem><suffix><ext> and written to --output-dir, or next to
each input when no output directory is set.

Examples:
  wmclean batch ./photos --output-dir ./clean
  wmclean batch ./photos -r --include "*.jpg" --exclude "*_clean*" --workers 8
  wmclean batch a.png b.png --strategy learned --continue-on-error --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBatch(cmd, args)
		},
	}

	f := batchCmd.Flags()
	addRequestFlags(batchCmd)
	f.StringP("output-dir", "o", "", "directory for cleaned images (default next to inputs)")
	f.IntP("workers", "w", 0, "number of parallel workers (default from config, NumCPU)")
	f.String("suffix", batch.DefaultSuffix, "suffix appended to output file names")
	f.BoolP("recursive", "r", false, "descend into subdirectories")
	f.StringSlice("include", nil, "only process files matching these patterns")
	f.StringSlice("exclude", nil, "skip files matching these patterns")
	f.Bool("continue-on-error", false, "keep going when a file fails")
	f.String("format", "text", "result listing format (text, json, csv)")
	f.Bool("progress", false, "draw a progress bar on stderr")
	f.Bool("stats", false, "print processing statistics")
	return batchCmd
}

func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	cfg := a.cfg
	f := cmd.Flags()

	bc := batch.Config{
		Workers:         cfg.Batch.Workers,
		ContinueOnError: cfg.Batch.ContinueOnError,
		OutputDir:       cfg.Batch.OutputDir,
		Suffix:          cfg.Batch.Suffix,
		Recursive:       cfg.Batch.Recursive,
		IncludePatterns: cfg.Batch.Include,
		ExcludePatterns: cfg.Batch.Exclude,
	}
	if f.Changed("workers") {
		bc.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("continue-on-error") {
		bc.ContinueOnError, _ = f.GetBool("continue-on-error")
	}
	if f.Changed("output-dir") {
		bc.OutputDir, _ = f.GetString("output-dir")
	}
	if f.Changed("suffix") {
		bc.Suffix, _ = f.GetString("suffix")
	}
	if f.Changed("recursive") {
		bc.Recursive, _ = f.GetBool("recursive")
	}
	if f.Changed("include") {
		bc.IncludePatterns, _ = f.GetStringSlice("include")
	}
	if f.Changed("exclude") {
		bc.ExcludePatterns, _ = f.GetStringSlice("exclude")
	}

	format, _ := f.GetString("format")
	if !slices.Contains(batch.ResultFormats, strings.ToLower(format)) {
		return apperr.Newf(apperr.KindInvalidOption, "batch", "unsupported result format %q (want %s)",
			format, strings.Join(batch.ResultFormats, ", "))
	}

	if progress, _ := f.GetBool("progress"); progress {
		bc.Progress = batch.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Cleaning: ").
			WithUpdateInterval(200 * time.Millisecond)
	} else {
		bc.Progress = batch.NewLogProgressCallback(slog.Default(), slog.LevelDebug)
	}

	req, err := requestFromFlags(cmd, cfg)
	if err != nil {
		return err
	}
	bc.Request = req

	d, err := dispatcherFromFlags(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	result, runErr := batch.ProcessBatch(cmd.Context(), d, args, bc)
	if result == nil {
		return runErr
	}

	out, err := result.FormatResults(format)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(cmd.OutOrStdout(), out)
	if stats, _ := f.GetBool("stats"); stats {
		result.PrintStats(cmd.OutOrStdout())
	}

	if runErr != nil {
		return runErr
	}
	if n := result.Failed(); n > 0 {
		return fmt.Errorf("%d of %d images failed", n, len(result.Items))
	}
	return nil
}

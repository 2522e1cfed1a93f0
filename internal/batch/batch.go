// Package batch removes watermarks from many files with a pool of workers
// sharing one processor.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/apperr"
)

var errNotStarted = errors.New("not started: batch stopped")

type job struct {
	index int
	in    string
	out   string
}

type jobResult struct {
	index    int
	err      error
	duration time.Duration
}

// ProcessBatch discovers the images under paths and processes them with
// config.Workers goroutines. Results are in discovery order.
//
// Without ContinueOnError the first failure stops the batch: files not yet
// started are marked skipped and the failure is returned together with the
// partial result. With ContinueOnError every file is attempted and the
// returned error is nil; failures are reported per item.
func ProcessBatch(ctx context.Context, proc Processor, paths []string, config Config) (*Result, error) {
	const op = "batch"

	if proc == nil {
		return nil, apperr.New(apperr.KindInvalidOption, op, errors.New("no processor"))
	}
	if config.Request.Strategy == nil {
		return nil, apperr.New(apperr.KindInvalidOption, op, errors.New("request has no strategy"))
	}
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	progress := config.Progress
	if progress == nil {
		progress = NoOpProgressCallback{}
	}

	files, err := DiscoverImageFiles(paths, config.Recursive, config.IncludePatterns, config.ExcludePatterns,
		outputSkipDir(paths, config.OutputDir))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperr.New(apperr.KindInvalidInputPath, op, errors.New("no image files found"))
	}

	jobs, err := planJobs(files, config.OutputDir, config.Suffix)
	if err != nil {
		return nil, err
	}
	if config.OutputDir != "" {
		if err := os.MkdirAll(config.OutputDir, 0o750); err != nil {
			return nil, apperr.WithPath(apperr.KindIOWrite, op, config.OutputDir, err)
		}
	}

	workers := min(config.Workers, len(jobs))
	result := &Result{Items: make([]ItemResult, len(jobs)), WorkerCount: workers}
	for i, j := range jobs {
		result.Items[i] = ItemResult{Input: j.in, Output: j.out, Status: StatusSkipped, err: errNotStarted}
	}

	slog.Info("Batch processing started",
		"files", len(jobs),
		"workers", workers,
		"strategy", config.Request.Strategy.Name(),
		"output_dir", config.OutputDir)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	progress.OnStart(len(jobs))

	results := runWorkers(runCtx, proc, jobs, workers, config)

	var firstErr error
	done := 0
	for res := range results {
		item := &result.Items[res.index]
		item.Duration = res.duration
		done++

		switch {
		case res.err == nil:
			item.Status = StatusOK
			item.err = nil
			slog.Debug("Batch item processed", "input", item.Input, "output", item.Output, "duration", res.duration)
		case firstErr != nil && errors.Is(res.err, context.Canceled):
			// stopped by an earlier failure; stays skipped
		default:
			item.Status = StatusFailed
			item.err = res.err
			item.Error = res.err.Error()
			progress.OnError(item.Input, res.err)
			if !config.ContinueOnError && firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", item.Input, res.err)
				cancel()
			}
		}
		progress.OnProgress(done, len(jobs))
	}
	result.Duration = time.Since(start)
	progress.OnComplete()

	for i := range result.Items {
		if result.Items[i].Status == StatusSkipped {
			result.Items[i].Error = result.Items[i].err.Error()
		}
	}

	slog.Info("Batch processing finished",
		"processed", result.Processed(),
		"failed", result.Failed(),
		"skipped", result.Skipped(),
		"duration", result.Duration.Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, firstErr
}

// runWorkers feeds jobs to the pool and closes the returned channel once
// every worker has exited. Jobs not picked up before ctx is done produce no
// result.
func runWorkers(ctx context.Context, proc Processor, jobs []job, workers int, config Config) <-chan jobResult {
	queue := make(chan job)
	results := make(chan jobResult, len(jobs))

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				if ctx.Err() != nil {
					continue
				}
				t := time.Now()
				err := proc.ProcessFile(ctx, j.in, j.out, config.Request)
				results <- jobResult{index: j.index, err: err, duration: time.Since(t)}
			}
		}()
	}

	go func() {
		defer close(queue)
		for _, j := range jobs {
			select {
			case queue <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// planJobs assigns output paths and rejects plans that would overwrite an
// input or write two inputs to the same file.
func planJobs(files []string, outputDir, suffix string) ([]job, error) {
	const op = "plan batch"

	jobs := make([]job, len(files))
	inputs := make(map[string]bool, len(files))
	for _, f := range files {
		inputs[absClean(f)] = true
	}
	owners := make(map[string]string, len(files))
	for i, f := range files {
		out := OutputPath(f, outputDir, suffix)
		key := absClean(out)
		if inputs[key] {
			return nil, apperr.WithPath(apperr.KindInvalidOption, op, f,
				errors.New("output would overwrite an input; set an output directory or a suffix"))
		}
		if prev, ok := owners[key]; ok {
			return nil, apperr.WithPath(apperr.KindInvalidOption, op, out,
				fmt.Errorf("inputs %s and %s map to the same output", prev, f))
		}
		owners[key] = f
		jobs[i] = job{index: i, in: f, out: out}
	}
	return jobs, nil
}

// outputSkipDir returns the directory discovery should ignore: the output
// directory, unless an input lives inside it.
func outputSkipDir(paths []string, outputDir string) string {
	if outputDir == "" {
		return ""
	}
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return ""
	}
	for _, p := range paths {
		if isWithin(p, abs) {
			return ""
		}
	}
	return abs
}

func absClean(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}

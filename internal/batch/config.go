package batch

import (
	"context"
	"runtime"
	"time"

	"github.com/MeKo-Tech/wmclean/internal/inpaint"
	"github.com/MeKo-Tech/wmclean/internal/remover"
)

// DefaultSuffix is appended to the file stem of every output.
const DefaultSuffix = "_clean"

// Processor removes the watermark from one file. *remover.Dispatcher
// satisfies it; a single instance is shared by all workers.
type Processor interface {
	ProcessFile(ctx context.Context, in, out string, req remover.Request) error
}

// Config holds all configuration for batch processing.
type Config struct {
	// Request is applied to every discovered file.
	Request remover.Request

	// Parallel processing settings
	Workers         int
	ContinueOnError bool

	// Output settings. An empty OutputDir writes next to each input.
	OutputDir string
	Suffix    string

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress is optional.
	Progress ProgressCallback
}

// DefaultConfig returns a classical batch with one worker per CPU.
func DefaultConfig() Config {
	return Config{
		Request: remover.ClassicalRequest(remover.DefaultClassicalWidthPct, remover.DefaultClassicalHeightPct, inpaint.Fast),
		Workers: runtime.NumCPU(),
		Suffix:  DefaultSuffix,
	}
}

// Status of one batch item.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// ItemResult is the outcome for one input file.
type ItemResult struct {
	Input    string        `json:"input"`
	Output   string        `json:"output"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`

	err error
}

// Err returns the failure for a failed or skipped item.
func (r ItemResult) Err() error {
	return r.err
}

// Result holds the result of batch processing. Items are in discovery order.
type Result struct {
	Items       []ItemResult  `json:"items"`
	Duration    time.Duration `json:"duration_ns"`
	WorkerCount int           `json:"workers"`
}

// Processed returns the number of files written.
func (r *Result) Processed() int { return r.count(StatusOK) }

// Failed returns the number of files that failed.
func (r *Result) Failed() int { return r.count(StatusFailed) }

// Skipped returns the number of files never started because the batch stopped.
func (r *Result) Skipped() int { return r.count(StatusSkipped) }

func (r *Result) count(s Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

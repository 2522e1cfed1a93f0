package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ResultFormats lists the accepted FormatResults formats.
var ResultFormats = []string{"text", "json", "csv"}

// FormatResults renders the per-file results as text, json or csv.
func (r *Result) FormatResults(format string) (string, error) {
	switch strings.ToLower(format) {
	case "json":
		return r.formatJSON()
	case "csv":
		return r.formatCSV()
	case "", "text":
		return r.formatText(), nil
	default:
		return "", fmt.Errorf("unsupported result format %q (want text, json or csv)", format)
	}
}

func (r *Result) formatJSON() (string, error) {
	summary := struct {
		*Result
		Processed int `json:"processed"`
		Failed    int `json:"failed"`
		Skipped   int `json:"skipped"`
	}{r, r.Processed(), r.Failed(), r.Skipped()}

	bts, err := json.MarshalIndent(summary, "", "  ")
	return string(bts), err
}

func (r *Result) formatCSV() (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	if err := writer.Write([]string{"input", "output", "status", "duration_ms", "error"}); err != nil {
		return "", err
	}
	for _, it := range r.Items {
		row := []string{
			it.Input,
			it.Output,
			string(it.Status),
			strconv.FormatInt(it.Duration.Milliseconds(), 10),
			it.Error,
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

func (r *Result) formatText() string {
	var output strings.Builder
	for _, it := range r.Items {
		switch it.Status {
		case StatusOK:
			fmt.Fprintf(&output, "ok      %s -> %s\n", it.Input, it.Output)
		default:
			fmt.Fprintf(&output, "%-7s %s: %s\n", it.Status, it.Input, it.Error)
		}
	}
	return output.String()
}

// PrintStats writes the processing summary.
func (r *Result) PrintStats(w io.Writer) {
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total images: %d\n", len(r.Items))
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", r.Processed())
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", r.Failed())
	if n := r.Skipped(); n > 0 {
		_, _ = fmt.Fprintf(w, "  Skipped: %d\n", n)
	}
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", r.WorkerCount)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", r.Duration.Round(time.Millisecond))
	if n := r.Processed(); n > 0 && r.Duration > 0 {
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f images/sec\n", float64(n)/r.Duration.Seconds())
	}
}

package batch

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	return &Result{
		Items: []ItemResult{
			{Input: "in/a.png", Output: "out/a_clean.png", Status: StatusOK, Duration: 12 * time.Millisecond},
			{Input: "in/b.png", Output: "out/b_clean.png", Status: StatusFailed, Error: "inference_error: boom",
				err: errors.New("boom")},
			{Input: "in/c.png", Output: "out/c_clean.png", Status: StatusSkipped, Error: errNotStarted.Error(),
				err: errNotStarted},
		},
		Duration:    2 * time.Second,
		WorkerCount: 2,
	}
}

func TestResult_Counts(t *testing.T) {
	r := sampleResult()
	assert.Equal(t, 1, r.Processed())
	assert.Equal(t, 1, r.Failed())
	assert.Equal(t, 1, r.Skipped())
}

func TestFormatResults_Text(t *testing.T) {
	out, err := sampleResult().FormatResults("text")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ok      in/a.png -> out/a_clean.png", lines[0])
	assert.Equal(t, "failed  in/b.png: inference_error: boom", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "skipped in/c.png"))

	def, err := sampleResult().FormatResults("")
	require.NoError(t, err)
	assert.Equal(t, out, def)
}

func TestFormatResults_JSON(t *testing.T) {
	out, err := sampleResult().FormatResults("json")
	require.NoError(t, err)

	var decoded struct {
		Items []struct {
			Input  string `json:"input"`
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"items"`
		Workers   int `json:"workers"`
		Processed int `json:"processed"`
		Failed    int `json:"failed"`
		Skipped   int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Len(t, decoded.Items, 3)
	assert.Equal(t, "ok", decoded.Items[0].Status)
	assert.Empty(t, decoded.Items[0].Error)
	assert.Equal(t, "inference_error: boom", decoded.Items[1].Error)
	assert.Equal(t, 2, decoded.Workers)
	assert.Equal(t, 1, decoded.Processed)
	assert.Equal(t, 1, decoded.Failed)
	assert.Equal(t, 1, decoded.Skipped)
}

func TestFormatResults_CSV(t *testing.T) {
	out, err := sampleResult().FormatResults("CSV")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"input", "output", "status", "duration_ms", "error"}, records[0])
	assert.Equal(t, []string{"in/a.png", "out/a_clean.png", "ok", "12", ""}, records[1])
	assert.Equal(t, "failed", records[2][2])
}

func TestFormatResults_Unknown(t *testing.T) {
	_, err := sampleResult().FormatResults("xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported result format")
}

func TestPrintStats(t *testing.T) {
	var buf bytes.Buffer
	sampleResult().PrintStats(&buf)

	out := buf.String()
	assert.Contains(t, out, "Total images: 3")
	assert.Contains(t, out, "Processed: 1")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "Skipped: 1")
	assert.Contains(t, out, "Workers: 2")
	assert.Contains(t, out, "Throughput: 0.5 images/sec")
}

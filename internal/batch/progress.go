package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives batch progress. Calls are serialized by the
// batch runner.
type ProgressCallback interface {
	// OnStart is called once with the number of discovered files.
	OnStart(total int)

	// OnProgress is called after each finished file.
	OnProgress(current, total int)

	// OnComplete is called when processing is finished.
	OnComplete()

	// OnError is called for each failed file.
	OnError(path string, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)           {}
func (NoOpProgressCallback) OnProgress(int, int)   {}
func (NoOpProgressCallback) OnComplete()           {}
func (NoOpProgressCallback) OnError(string, error) {}

// ConsoleProgressCallback draws a progress bar.
type ConsoleProgressCallback struct {
	writer         io.Writer
	prefix         string
	width          int
	lastUpdate     time.Time
	updateInterval time.Duration
	mutex          sync.Mutex
	startTime      time.Time
}

// NewConsoleProgressCallback writes to writer, or stderr when nil.
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          40,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithUpdateInterval sets how frequently the bar is redrawn.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	_, _ = fmt.Fprintf(c.writer, "%s0/%d\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(current, total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if now.Sub(c.lastUpdate) < c.updateInterval && current < total {
		return
	}
	c.lastUpdate = now
	if total == 0 {
		return
	}

	filled := c.width * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	status := fmt.Sprintf("\r%s[%s] %d/%d (%.1f%%)", c.prefix, bar, current, total,
		float64(current)/float64(total)*100)
	if elapsed := now.Sub(c.startTime); elapsed > 0 && current > 0 {
		status += fmt.Sprintf(" %.1f/s", float64(current)/elapsed.Seconds())
	}
	_, _ = fmt.Fprint(c.writer, status)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%sCompleted in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(path string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%s%s: %v\n", c.prefix, path, err)
}

// LogProgressCallback logs progress every interval files.
type LogProgressCallback struct {
	logger    *slog.Logger
	level     slog.Level
	interval  int
	lastLog   int
	startTime time.Time
}

// NewLogProgressCallback logs with logger, or slog.Default when nil.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 10}
}

// WithInterval sets how many files pass between progress lines.
func (l *LogProgressCallback) WithInterval(interval int) *LogProgressCallback {
	l.interval = interval
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.startTime = time.Now()
	l.lastLog = 0
	l.logger.Log(context.Background(), l.level, "Batch started", "total", total)
}

func (l *LogProgressCallback) OnProgress(current, total int) {
	if current-l.lastLog < l.interval && current != total {
		return
	}
	l.lastLog = current
	l.logger.Log(context.Background(), l.level, "Batch progress",
		"current", current,
		"total", total,
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "Batch completed",
		"elapsed", time.Since(l.startTime).Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(path string, err error) {
	l.logger.Log(context.Background(), slog.LevelWarn, "Batch item failed", "input", path, "error", err)
}

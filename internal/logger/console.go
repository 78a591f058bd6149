// Package logger provides logging implementations for logscan runs.
//
// Loggers report scan lifecycle events (start, per-file results, progress,
// summary) plus free-form levelled messages. Implementations are safe for
// concurrent use and support console and file destinations.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/harrison/logscan/internal/models"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// ConsoleLogger logs scan progress to a writer with timestamps and thread safety.
// All output is prefixed with [HH:MM:SS] timestamps.
// Color output is enabled automatically for terminal output (os.Stdout/os.Stderr).
type ConsoleLogger struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded.
// Valid levels: trace, debug, info, warn, error (case-insensitive); anything
// else falls back to "info".
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		logLevel:    normalizeLogLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal reports whether w is a color-capable TTY.
// NO_COLOR is honored through color.NoColor.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// normalizeLogLevel converts a log level string to lowercase and validates it.
func normalizeLogLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	return normalizeLogLevel(level) == strings.ToLower(strings.TrimSpace(level))
}

// logLevelToInt converts a log level string to its numeric value.
func logLevelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func levelEnabled(configured, message string) bool {
	return logLevelToInt(message) >= logLevelToInt(configured)
}

// LogTrace logs a trace-level message.
func (cl *ConsoleLogger) LogTrace(message string) {
	cl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (cl *ConsoleLogger) LogDebug(message string) {
	cl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (cl *ConsoleLogger) LogInfo(message string) {
	cl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (cl *ConsoleLogger) LogWarn(message string) {
	cl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (cl *ConsoleLogger) LogError(message string) {
	cl.logWithLevel("ERROR", message)
}

func (cl *ConsoleLogger) logWithLevel(level string, message string) {
	if cl.writer == nil || !levelEnabled(cl.logLevel, strings.ToLower(level)) {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	if cl.colorOutput {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, colorLevel(level), message)
		return
	}
	fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, level, message)
}

func colorLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}

// writeLine writes one timestamped line at the given level without a level tag.
func (cl *ConsoleLogger) writeLine(level, line string) {
	if cl.writer == nil || !levelEnabled(cl.logLevel, level) {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	fmt.Fprintf(cl.writer, "[%s] %s\n", timestamp(), line)
}

// LogScanStart logs the start of a folder scan at INFO level.
// Format: "[HH:MM:SS] Scanning <root>: <n> files with <w> workers (job <id>)"
func (cl *ConsoleLogger) LogScanStart(jobID, root string, total, workers int) {
	rootText := root
	if cl.colorOutput {
		rootText = color.New(color.Bold).Sprint(root)
	}
	cl.writeLine("info", fmt.Sprintf("Scanning %s: %d files with %d workers (job %s)", rootText, total, workers, shortID(jobID)))
}

// LogFileResult logs one file outcome. Failures are logged at WARN, slow
// files at INFO, everything else at DEBUG.
func (cl *ConsoleLogger) LogFileResult(outcome models.FileOutcome) {
	name := filepath.Base(outcome.Path)
	switch {
	case outcome.Failed():
		cl.LogWarn(fmt.Sprintf("%s: %v (%d matches kept)", name, outcome.Err, len(outcome.Matches)))
	case outcome.Skipped:
		cl.LogDebug(fmt.Sprintf("%s: skipped after abort", name))
	case outcome.Cancelled:
		cl.LogDebug(fmt.Sprintf("%s: stopped after %d lines", name, outcome.Lines))
	case outcome.Metrics.SlowNote != "":
		cl.LogInfo(outcome.Metrics.SlowNote)
	default:
		cl.LogDebug(fmt.Sprintf("%s: %d lines, %d matches in %s", name, outcome.Lines, len(outcome.Matches), formatDuration(outcome.Metrics.Total)))
	}
}

// LogProgress logs scan progress with a progress bar at INFO level.
// Format: "[HH:MM:SS] Progress: [=====     ] 5/10 (50%) - 12 anomalies"
func (cl *ConsoleLogger) LogProgress(p models.Progress) {
	pb := NewProgressBar(p.Total, 10, cl.colorOutput)
	pb.Update(p.Completed)
	msg := fmt.Sprintf("Progress: %s - %d anomalies", pb.Render(), p.Matches)
	if p.Errors > 0 {
		msg += fmt.Sprintf(", %d unreadable", p.Errors)
	}
	if p.Aborting {
		msg += " (aborting)"
	}
	cl.writeLine("info", msg)
}

// LogSummary logs the terminal scan summary at INFO level.
func (cl *ConsoleLogger) LogSummary(result *models.ScanResult) {
	if cl.writer == nil || !levelEnabled(cl.logLevel, "info") || result == nil {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := timestamp()
	header := "=== Scan Summary ==="
	status := string(result.State)
	if cl.colorOutput {
		header = color.New(color.Bold).Sprint(header)
		if result.Aborted() {
			status = color.New(color.FgYellow).Sprint(status)
		} else {
			status = color.New(color.FgGreen).Sprint(status)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s\n", ts, header)
	fmt.Fprintf(&sb, "[%s] Status: %s\n", ts, status)
	fmt.Fprintf(&sb, "[%s] Files: %d/%d\n", ts, result.Completed, result.Total)
	if result.Errors > 0 {
		line := fmt.Sprintf("Unreadable: %d", result.Errors)
		if cl.colorOutput {
			line = color.New(color.FgRed).Sprint(line)
		}
		fmt.Fprintf(&sb, "[%s] %s\n", ts, line)
	}
	fmt.Fprintf(&sb, "[%s] Anomalies: %d\n", ts, len(result.Matches))
	for _, category := range sortedCategories(result.CategoryCounts) {
		fmt.Fprintf(&sb, "[%s]   %s: %d\n", ts, category, result.CategoryCounts[category])
	}
	fmt.Fprintf(&sb, "[%s] Duration: %s\n", ts, formatDuration(result.Duration()))
	fmt.Fprintf(&sb, "[%s] %s\n", ts, result.StatusMessage())

	io.WriteString(cl.writer, sb.String())
}

// sortedCategories orders categories by descending count, then name.
func sortedCategories(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// timestamp returns the current time formatted as "15:04:05" (HH:MM:SS).
func timestamp() string {
	return time.Now().Format("15:04:05")
}

// formatDuration converts a time.Duration to a human-readable string.
// Examples: "350ms", "5s", "1m30s", "2h15m"
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case d >= time.Minute:
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds == 0 {
			return fmt.Sprintf("%dm", minutes)
		}
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	case d >= time.Second:
		return fmt.Sprintf("%ds", int64(d.Seconds()))
	default:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
}

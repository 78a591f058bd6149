package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/harrison/logscan/internal/models"
)

// FileLogger writes scan events to a timestamped run log in a log directory
// and keeps a latest.log symlink pointing at the most recent run.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	logLevel string
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger under .logscan/logs at "info" level.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerWithDirAndLevel(filepath.Join(".logscan", "logs"), "info")
}

// NewFileLoggerWithDirAndLevel creates a FileLogger with a custom directory and level.
func NewFileLoggerWithDirAndLevel(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// run-YYYYMMDD-HHMMSS.log; a nanosecond suffix keeps same-second runs apart
	now := time.Now()
	runFile := filepath.Join(logDir, fmt.Sprintf("run-%s.log", now.Format("20060102-150405")))
	if _, err := os.Stat(runFile); err == nil {
		runFile = filepath.Join(logDir, fmt.Sprintf("run-%s-%09d.log", now.Format("20060102-150405"), now.Nanosecond()))
	}

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		logLevel: normalizeLogLevel(logLevel),
	}

	fl.writeRunLog("=== logscan Run Log ===\n")
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", now.Format(time.RFC3339)))

	return fl, nil
}

// RunFile returns the path of the current run log.
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

// LogTrace logs a trace-level message.
func (fl *FileLogger) LogTrace(message string) {
	fl.logWithLevel("TRACE", message)
}

// LogDebug logs a debug-level message.
func (fl *FileLogger) LogDebug(message string) {
	fl.logWithLevel("DEBUG", message)
}

// LogInfo logs an info-level message.
func (fl *FileLogger) LogInfo(message string) {
	fl.logWithLevel("INFO", message)
}

// LogWarn logs a warning-level message.
func (fl *FileLogger) LogWarn(message string) {
	fl.logWithLevel("WARN", message)
}

// LogError logs an error-level message.
func (fl *FileLogger) LogError(message string) {
	fl.logWithLevel("ERROR", message)
}

func (fl *FileLogger) logWithLevel(level string, message string) {
	if !levelEnabled(fl.logLevel, strings.ToLower(level)) {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", time.Now().Format("15:04:05"), level, message))
}

// LogScanStart records the scan header.
func (fl *FileLogger) LogScanStart(jobID, root string, total, workers int) {
	fl.LogInfo(fmt.Sprintf("Scan %s started: root=%s files=%d workers=%d", jobID, root, total, workers))
}

// LogFileResult records every file outcome; the run log is the place to look
// for per-file detail, so successes are kept at INFO.
func (fl *FileLogger) LogFileResult(outcome models.FileOutcome) {
	m := outcome.Metrics
	switch {
	case outcome.Failed():
		fl.LogWarn(fmt.Sprintf("%s: error=%v matches=%d", outcome.Path, outcome.Err, len(outcome.Matches)))
	case outcome.Skipped:
		fl.LogDebug(fmt.Sprintf("%s: skipped after abort", outcome.Path))
	case outcome.Cancelled:
		fl.LogDebug(fmt.Sprintf("%s: stopped after abort at line %d, matches=%d", outcome.Path, outcome.Lines, len(outcome.Matches)))
	default:
		fl.LogInfo(fmt.Sprintf("%s: lines=%d matches=%d size=%d total=%s read=%s analyze=%s",
			outcome.Path, outcome.Lines, len(outcome.Matches), m.Size,
			m.Total.Round(time.Millisecond), m.Read.Round(time.Millisecond), m.Analyze.Round(time.Millisecond)))
	}
}

// LogProgress is recorded at DEBUG only; the console owns live progress.
func (fl *FileLogger) LogProgress(p models.Progress) {
	fl.LogDebug(fmt.Sprintf("progress %d/%d matches=%d errors=%d", p.Completed, p.Total, p.Matches, p.Errors))
}

// LogSummary writes the terminal summary block.
func (fl *FileLogger) LogSummary(result *models.ScanResult) {
	if result == nil || !levelEnabled(fl.logLevel, "info") {
		return
	}
	var sb strings.Builder
	sb.WriteString("\n=== Scan Summary ===\n")
	fmt.Fprintf(&sb, "Job: %s\n", result.JobID)
	fmt.Fprintf(&sb, "Root: %s\n", result.Root)
	fmt.Fprintf(&sb, "State: %s\n", result.State)
	fmt.Fprintf(&sb, "Files: %d/%d (unreadable %d)\n", result.Completed, result.Total, result.Errors)
	fmt.Fprintf(&sb, "Anomalies: %d\n", len(result.Matches))
	for _, category := range sortedCategories(result.CategoryCounts) {
		fmt.Fprintf(&sb, "  %s: %d\n", category, result.CategoryCounts[category])
	}
	for path, msg := range result.FileErrors {
		fmt.Fprintf(&sb, "  error %s: %s\n", path, msg)
	}
	fmt.Fprintf(&sb, "Duration: %s\n", formatDuration(result.Duration()))
	fmt.Fprintf(&sb, "%s\n", result.StatusMessage())
	fl.writeRunLog(sb.String())
}

// Close flushes and closes the run log file.
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		if err := fl.runLog.Sync(); err != nil {
			return fmt.Errorf("failed to sync run log: %w", err)
		}
		if err := fl.runLog.Close(); err != nil {
			return fmt.Errorf("failed to close run log: %w", err)
		}
		fl.runLog = nil
	}
	return nil
}

// writeRunLog is a thread-safe helper to write to the run log file.
func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog != nil {
		fl.runLog.WriteString(message)
	}
}

package logger

import "github.com/harrison/logscan/internal/models"

// ScanLogger is the full set of events a scan emits.
type ScanLogger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogScanStart(jobID, root string, total, workers int)
	LogFileResult(outcome models.FileOutcome)
	LogProgress(p models.Progress)
	LogSummary(result *models.ScanResult)
}

// MultiLogger fans every event out to several loggers.
type MultiLogger struct {
	loggers []ScanLogger
}

// NewMultiLogger combines loggers, skipping nil entries.
func NewMultiLogger(loggers ...ScanLogger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

func (m *MultiLogger) LogDebug(message string) {
	for _, l := range m.loggers {
		l.LogDebug(message)
	}
}

func (m *MultiLogger) LogInfo(message string) {
	for _, l := range m.loggers {
		l.LogInfo(message)
	}
}

func (m *MultiLogger) LogWarn(message string) {
	for _, l := range m.loggers {
		l.LogWarn(message)
	}
}

func (m *MultiLogger) LogError(message string) {
	for _, l := range m.loggers {
		l.LogError(message)
	}
}

func (m *MultiLogger) LogScanStart(jobID, root string, total, workers int) {
	for _, l := range m.loggers {
		l.LogScanStart(jobID, root, total, workers)
	}
}

func (m *MultiLogger) LogFileResult(outcome models.FileOutcome) {
	for _, l := range m.loggers {
		l.LogFileResult(outcome)
	}
}

func (m *MultiLogger) LogProgress(p models.Progress) {
	for _, l := range m.loggers {
		l.LogProgress(p)
	}
}

func (m *MultiLogger) LogSummary(result *models.ScanResult) {
	for _, l := range m.loggers {
		l.LogSummary(result)
	}
}

// NoOpLogger discards all events.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger instance.
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogDebug(message string)                             {}
func (n *NoOpLogger) LogInfo(message string)                              {}
func (n *NoOpLogger) LogWarn(message string)                              {}
func (n *NoOpLogger) LogError(message string)                             {}
func (n *NoOpLogger) LogScanStart(jobID, root string, total, workers int) {}
func (n *NoOpLogger) LogFileResult(outcome models.FileOutcome)            {}
func (n *NoOpLogger) LogProgress(p models.Progress)                       {}
func (n *NoOpLogger) LogSummary(result *models.ScanResult)                {}

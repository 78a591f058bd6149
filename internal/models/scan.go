package models

import (
	"fmt"
	"time"
)

// ScanState is the lifecycle state of a folder scan scheduler.
type ScanState string

// Scheduler states
const (
	StateIdle      ScanState = "idle"
	StateScanning  ScanState = "scanning"
	StateCompleted ScanState = "completed"
	StateAborted   ScanState = "aborted"
)

// IsTerminal reports whether s ends a scan job.
func (s ScanState) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}

// FileMetrics is advisory timing for one file scan.
type FileMetrics struct {
	Size     int64         // bytes on disk, 0 if unknown
	Read     time.Duration // time spent reading and decoding
	Analyze  time.Duration // time spent classifying
	Total    time.Duration // wall clock for the whole file
	Network  bool          // path looked like a network share
	SlowNote string        // set when Total exceeded the slow-file threshold
}

// FileOutcome is the result of scanning one file.
// On failure Err is set and Matches holds whatever was classified before the
// failure, possibly nothing.
type FileOutcome struct {
	Path      string
	Matches   []Match
	Metrics   FileMetrics
	Lines     int
	Cancelled bool
	Skipped   bool // abort was already requested; the file was never opened
	Err       error
}

// Failed reports whether the file could not be fully scanned.
func (o FileOutcome) Failed() bool {
	return o.Err != nil
}

// Progress is a snapshot of a running scan job.
type Progress struct {
	JobID      string
	Completed  int
	Total      int
	Matches    int
	Errors     int
	LastFile   string
	LastNote   string // last slow-file performance note, if any
	Aborting   bool
	Percentage int
}

// ScanResult is the terminal summary of a scan job.
type ScanResult struct {
	JobID          string
	Root           string
	State          ScanState
	Matches        []Match
	CategoryCounts map[string]int
	Completed      int
	Skipped        int // dispatched but never opened because of an abort
	Total          int
	Errors         int
	FileErrors     map[string]string // path -> error message
	Durations      []time.Duration   // per-file wall clock, completion order
	StartedAt      time.Time
	FinishedAt     time.Time
	SnapshotPath   string
	Fatal          error // catastrophic scheduler failure, if any
}

// Aborted reports whether the job was stopped before completion.
func (r *ScanResult) Aborted() bool {
	return r.State == StateAborted
}

// Duration returns the job's wall clock.
func (r *ScanResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StatusMessage renders the human-readable terminal status line.
func (r *ScanResult) StatusMessage() string {
	saved := r.SnapshotPath
	if saved == "" {
		saved = "not saved"
	}
	verb := "Analysis complete."
	if r.Aborted() {
		verb = "Analysis stopped."
	}
	msg := fmt.Sprintf("%s Found %d anomalies in %d/%d files. Saved: %s",
		verb, len(r.Matches), r.Completed, r.Total, saved)
	if r.Errors > 0 {
		msg += fmt.Sprintf(" (%d files unreadable)", r.Errors)
	}
	if r.Fatal != nil {
		msg += fmt.Sprintf(" (scan failed: %v)", r.Fatal)
	}
	return msg
}

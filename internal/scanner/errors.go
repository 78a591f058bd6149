package scanner

import (
	"errors"
	"fmt"
)

// Validation failures returned synchronously by StartScan.
var (
	ErrNoLogFiles     = errors.New("no log files found")
	ErrNoPatterns     = errors.New("no usable patterns after validation")
	ErrScanInProgress = errors.New("a scan is already in progress")
	ErrNotRunning     = errors.New("no scan is running")
)

// RootError reports an unusable scan root.
type RootError struct {
	Path string
	Err  error
}

func (e *RootError) Error() string {
	return fmt.Sprintf("invalid scan root %s: %v", e.Path, e.Err)
}

func (e *RootError) Unwrap() error {
	return e.Err
}

// FileError reports a per-file failure; it never aborts a scan.
type FileError struct {
	Path string
	Op   string // open, stat, read
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// SchedulerError is a catastrophic failure of the scan machinery itself,
// such as a panicking worker. It ends the current job but keeps every result
// aggregated before it.
type SchedulerError struct {
	Path  string
	Cause interface{}
}

func (e *SchedulerError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("scheduler failure: %v", e.Cause)
	}
	return fmt.Sprintf("scheduler failure while scanning %s: %v", e.Path, e.Cause)
}

// Package fileutil discovers log files under a scan root.
//
// ScanDirectory walks a whole directory tree, hidden directories included,
// and returns the files whose extension is in a case-insensitive allow list. Non-fatal walk errors (an unreadable
// subdirectory, a vanished entry) are collected in ScanResult.Errors and the
// walk continues; only a missing or non-directory root fails the call.
//
// Output is sorted so the discovered file list is deterministic; scan order
// across files is not otherwise significant.
//
//	result, err := fileutil.ScanDirectory("/var/log/devices", fileutil.ScanOptions{
//	    Extensions:  []string{".log", ".txt", ".out"},
//	    ExcludeDirs: []string{"archive"},
//	})
package fileutil

package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrNotDirectory is returned when the scan root is not a directory.
var ErrNotDirectory = errors.New("path is not a directory")

// ScanOptions configures discovery.
type ScanOptions struct {
	// Extensions is the allow list, e.g. ".log" or "txt"; empty accepts every file
	Extensions []string
	// ExcludeDirs are directory names never descended into
	ExcludeDirs []string
}

// ScanResult contains the results of a directory scan
type ScanResult struct {
	// Files contains the absolute paths of all matched files, sorted
	Files []string
	// Errors contains any errors encountered during scanning
	Errors []error
}

// ScanDirectory walks the whole tree under dir and collects recognized files.
func ScanDirectory(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, dir)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	w := &walker{
		root:     root,
		accept:   extensionSet(opts.Extensions),
		excluded: opts.ExcludeDirs,
		result:   &ScanResult{Files: make([]string, 0), Errors: make([]error, 0)},
	}
	if err := filepath.WalkDir(root, w.visit); err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	slices.Sort(w.result.Files)
	return w.result, nil
}

type walker struct {
	root     string
	accept   map[string]bool
	excluded []string
	result   *ScanResult
}

func (w *walker) visit(path string, d fs.DirEntry, err error) error {
	if err != nil {
		w.result.Errors = append(w.result.Errors, fmt.Errorf("error accessing %s: %w", path, err))
		return nil
	}
	if d.IsDir() {
		if path != w.root && slices.Contains(w.excluded, d.Name()) {
			return filepath.SkipDir
		}
		return nil
	}
	// symlinks are kept; opening them later reports a dangling target
	if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
		return nil
	}
	if len(w.accept) > 0 && !w.accept[strings.ToLower(filepath.Ext(d.Name()))] {
		return nil
	}
	w.result.Files = append(w.result.Files, path)
	return nil
}

// extensionSet normalizes extensions to lower case with a leading dot.
func extensionSet(exts []string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = true
	}
	return set
}

// IsNetworkPath reports whether path names a UNC-style network share.
func IsNetworkPath(path string) bool {
	return strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//")
}

// Package snapshot persists a scan's aggregate match list as JSON.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/harrison/logscan/internal/filelock"
	"github.com/harrison/logscan/internal/models"
)

// FailedPath is reported in place of a snapshot path when saving failed.
const FailedPath = "save_failed.json"

// FileName returns the snapshot file name for t.
func FileName(t time.Time) string {
	return fmt.Sprintf("offline_anomalies_%s.json", t.Format("20060102_150405"))
}

// Writer saves terminal scan results under Dir.
type Writer struct {
	Dir string
	now func() time.Time
}

// NewWriter creates a Writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{Dir: dir, now: time.Now}
}

// Save writes result.Matches to Dir/offline_anomalies_YYYYMMDD_HHMMSS.json
// and returns its absolute path. If Dir cannot be created the current
// directory is used. On failure FailedPath is returned with the error.
func (w *Writer) Save(result *models.ScanResult) (string, error) {
	dir := w.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		dir = "."
	}

	path := filepath.Join(dir, FileName(w.now()))
	matches := result.Matches
	if matches == nil {
		matches = []models.Match{}
	}

	err := filelock.AtomicWriteFunc(path, func(out io.Writer) error {
		return Encode(out, matches)
	})
	if err != nil {
		return FailedPath, fmt.Errorf("save snapshot: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

// Encode writes matches as an indented JSON array.
func Encode(w io.Writer, matches []models.Match) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(matches)
}

// Load reads a snapshot back.
func Load(path string) ([]models.Match, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var matches []models.Match
	if err := json.Unmarshal(data, &matches); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return matches, nil
}

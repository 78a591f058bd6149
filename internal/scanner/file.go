package scanner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"

	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/fileutil"
	"github.com/harrison/logscan/internal/models"
)

// FileOptions control a single file scan.
type FileOptions struct {
	MaxLineBytes  int
	CheckEvery    int
	SlowThreshold time.Duration // zero disables the performance note
	Cancelled     func() bool
}

// LossyDecoder decodes bytes as text: a UTF-8 or UTF-16 BOM selects the
// encoding, otherwise UTF-8 is assumed, and undecodable bytes are dropped.
// Dropping works on U+FFFD after decoding, so a U+FFFD that was valid in
// the input is removed too.
func LossyDecoder() transform.Transformer {
	decode := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	drop := runes.Remove(runes.Predicate(func(r rune) bool { return r == utf8.RuneError }))
	return transform.Chain(decode, drop)
}

// LossyReader wraps r with LossyDecoder.
func LossyReader(r io.Reader) io.Reader {
	return transform.NewReader(r, LossyDecoder())
}

// timedReader accumulates the time spent inside Read.
type timedReader struct {
	r       io.Reader
	elapsed time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	start := time.Now()
	n, err := t.r.Read(p)
	t.elapsed += time.Since(start)
	return n, err
}

// ScanFile classifies one file in streaming mode. It never panics on bad
// input: open, stat and read failures come back in the outcome together with
// whatever matched before the failure.
func ScanFile(path string, m *detector.Matcher, opts FileOptions) models.FileOutcome {
	start := time.Now()
	outcome := models.FileOutcome{Path: path}
	outcome.Metrics.Network = fileutil.IsNetworkPath(path)

	if opts.Cancelled != nil && opts.Cancelled() {
		outcome.Cancelled = true
		outcome.Skipped = true
		return outcome
	}

	f, err := os.Open(path)
	if err != nil {
		outcome.Err = &FileError{Path: path, Op: "open", Err: err}
		outcome.Metrics.Total = time.Since(start)
		return outcome
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		outcome.Err = &FileError{Path: path, Op: "stat", Err: err}
		outcome.Metrics.Total = time.Since(start)
		return outcome
	}
	if info.IsDir() {
		outcome.Err = &FileError{Path: path, Op: "read", Err: errors.New("is a directory")}
		outcome.Metrics.Total = time.Since(start)
		return outcome
	}
	outcome.Metrics.Size = info.Size()

	tr := &timedReader{r: f}
	classifier := detector.NewClassifier(m)
	lines, err := classifier.Stream(LossyReader(tr), detector.StreamOptions{
		MaxLineBytes: opts.MaxLineBytes,
		CheckEvery:   opts.CheckEvery,
		Cancelled:    opts.Cancelled,
	}, func(match models.Match) {
		outcome.Matches = append(outcome.Matches, match)
	})
	outcome.Lines = lines

	switch {
	case errors.Is(err, detector.ErrCancelled):
		outcome.Cancelled = true
	case err != nil:
		outcome.Err = &FileError{Path: path, Op: "read", Err: err}
	}

	models.Decorate(outcome.Matches, path)

	outcome.Metrics.Total = time.Since(start)
	outcome.Metrics.Read = tr.elapsed
	outcome.Metrics.Analyze = outcome.Metrics.Total - tr.elapsed
	if opts.SlowThreshold > 0 && outcome.Metrics.Total > opts.SlowThreshold {
		outcome.Metrics.SlowNote = SlowNote(path, outcome.Metrics)
	}
	return outcome
}

// SlowNote renders the performance note for a slow file, e.g.
// "[LOCAL] ap-01.log (file_size 12.50 MB) total=6.20s, read=5.90s, analyze=0.30s".
func SlowNote(path string, m models.FileMetrics) string {
	kind := "[LOCAL]"
	if m.Network {
		kind = "[NETWORK]"
	}
	return fmt.Sprintf("%s %s (file_size %.2f MB) total=%.2fs, read=%.2fs, analyze=%.2fs",
		kind, filepath.Base(path), float64(m.Size)/(1024*1024),
		m.Total.Seconds(), m.Read.Seconds(), m.Analyze.Seconds())
}

package detector

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/harrison/logscan/internal/models"
)

// ErrCancelled is returned by Stream when its cancellation check fires.
var ErrCancelled = errors.New("classification cancelled")

// Default streaming limits.
const (
	DefaultMaxLineBytes = 8 * 1024 * 1024
	DefaultCheckEvery   = 4096
)

// Classifier applies a Matcher to sequences of lines. Numbering is 1-based
// and counts every physical line, blank ones included; blank lines never
// produce a record.
type Classifier struct {
	matcher *Matcher
	now     func() time.Time
}

// NewClassifier creates a Classifier over an immutable Matcher.
func NewClassifier(m *Matcher) *Classifier {
	return &Classifier{matcher: m, now: time.Now}
}

// ClassifyLine classifies one physical line.
func (c *Classifier) ClassifyLine(number int, line string) (models.Match, bool) {
	line = strings.TrimSuffix(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return models.Match{}, false
	}
	r, ok := c.matcher.Match(line)
	if !ok {
		return models.Match{}, false
	}
	return models.Match{
		LineNumber: number,
		Line:       trimmed,
		Fragment:   r.Fragment,
		Category:   r.Pattern.Category,
		DetectedAt: c.now(),
	}, true
}

// ClassifySeq lazily classifies lines. The returned sequence can be ranged
// over more than once if lines can.
func (c *Classifier) ClassifySeq(lines iter.Seq[string]) iter.Seq[models.Match] {
	return func(yield func(models.Match) bool) {
		number := 0
		for line := range lines {
			number++
			if m, ok := c.ClassifyLine(number, line); ok {
				if !yield(m) {
					return
				}
			}
		}
	}
}

// ClassifyLines classifies a materialized line collection.
func (c *Classifier) ClassifyLines(lines []string) []models.Match {
	return slices.Collect(c.ClassifySeq(slices.Values(lines)))
}

// ClassifyText splits buffered text on newlines and classifies it.
func (c *Classifier) ClassifyText(text string) []models.Match {
	if text == "" {
		return nil
	}
	return c.ClassifyLines(strings.Split(text, "\n"))
}

// StreamOptions control Stream.
type StreamOptions struct {
	// MaxLineBytes caps a single line; zero uses DefaultMaxLineBytes.
	MaxLineBytes int
	// CheckEvery is the number of lines between cancellation checks; zero
	// uses DefaultCheckEvery.
	CheckEvery int
	// Cancelled is polled every CheckEvery lines when non-nil.
	Cancelled func() bool
}

// Stream classifies r line by line without buffering the whole input and
// calls emit for every match in line order. It returns the number of lines
// read. A line longer than MaxLineBytes is classified on its first
// MaxLineBytes bytes and still counts as one line. On a read error or
// cancellation the matches already emitted stand.
func (c *Classifier) Stream(r io.Reader, opts StreamOptions, emit func(models.Match)) (int, error) {
	checkEvery := opts.CheckEvery
	if checkEvery <= 0 {
		checkEvery = DefaultCheckEvery
	}

	lr := NewLineReader(r, opts.MaxLineBytes)
	number := 0
	for {
		line, err := lr.Next()
		if err == io.EOF {
			return number, nil
		}
		if err != nil {
			return number, fmt.Errorf("read line %d: %w", number+1, err)
		}
		number++
		if opts.Cancelled != nil && number%checkEvery == 0 && opts.Cancelled() {
			return number, ErrCancelled
		}
		if m, ok := c.ClassifyLine(number, string(line)); ok {
			emit(m)
		}
	}
}

package scanner

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harrison/logscan/internal/detector"
)

// ContextLine is one line of surrounding context for a match.
type ContextLine struct {
	Number int
	Text   string
	Target bool // the requested line itself
}

// ContextLines re-reads path and returns the lines around line (1-based),
// clamped to the file bounds. A line past the end of the file yields an
// empty result, not an error.
func ContextLines(path string, line, before, after int) ([]ContextLine, error) {
	if line < 1 {
		return nil, fmt.Errorf("line number must be >= 1, got %d", line)
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	first := line - before
	if first < 1 {
		first = 1
	}
	last := line + after

	lr := detector.NewLineReader(LossyReader(f), detector.DefaultMaxLineBytes)

	var out []ContextLine
	number := 0
	for {
		text, err := lr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, &FileError{Path: path, Op: "read", Err: err}
		}
		number++
		if number < first {
			continue
		}
		if number > last {
			break
		}
		out = append(out, ContextLine{
			Number: number,
			Text:   strings.TrimSuffix(string(text), "\r"),
			Target: number == line,
		})
	}
	if number < line {
		return nil, nil
	}
	return out, nil
}

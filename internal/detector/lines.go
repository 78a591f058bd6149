package detector

import (
	"bufio"
	"bytes"
	"io"
)

// LineReader splits input into physical lines separated by '\n'. A line
// longer than its cap is cut at the cap and the remainder up to the next
// newline is discarded, so the line still counts once and reading goes on.
type LineReader struct {
	r         *bufio.Reader
	max       int
	line      []byte
	truncated bool
}

// NewLineReader reads lines from r, keeping at most maxLine bytes of each.
// A non-positive maxLine uses DefaultMaxLineBytes.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	size := 64 * 1024
	if size > maxLine {
		size = maxLine
	}
	if size < 16 {
		size = 16
	}
	return &LineReader{r: bufio.NewReaderSize(r, size), max: maxLine}
}

// Next returns the next line without its '\n'; a trailing '\r' is left for
// the caller. The slice is only valid until the following call. A final
// unterminated line is returned before io.EOF.
func (lr *LineReader) Next() ([]byte, error) {
	lr.line = lr.line[:0]
	lr.truncated = false
	for {
		chunk, err := lr.r.ReadSlice('\n')
		lr.keep(chunk)
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == nil:
			return bytes.TrimSuffix(lr.line, []byte{'\n'}), nil
		case err == io.EOF:
			if len(chunk) == 0 && len(lr.line) == 0 && !lr.truncated {
				return nil, io.EOF
			}
			return lr.line, nil
		default:
			return nil, err
		}
	}
}

// Truncated reports whether the last line returned was cut at the cap.
func (lr *LineReader) Truncated() bool {
	return lr.truncated
}

func (lr *LineReader) keep(chunk []byte) {
	room := lr.max - len(lr.line)
	if room <= 0 {
		if len(bytes.TrimRight(chunk, "\n")) > 0 {
			lr.truncated = true
		}
		return
	}
	if len(chunk) > room {
		if len(bytes.TrimRight(chunk[room:], "\n")) > 0 {
			lr.truncated = true
		}
		chunk = chunk[:room]
	}
	lr.line = append(lr.line, chunk...)
}

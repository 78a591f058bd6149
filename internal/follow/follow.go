// Package follow classifies lines appended to a growing log file.
//
// A Follower watches the file's directory with fsnotify so rotation by rename
// or re-creation is seen, and falls back to polling when no watcher can be
// set up. A truncated or replaced file is read again from the start.
package follow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/transform"

	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/models"
	"github.com/harrison/logscan/internal/scanner"
)

// DefaultPollInterval is the polling period in fallback mode.
const DefaultPollInterval = time.Second

// DefaultDebounceDelay coalesces bursts of write events.
const DefaultDebounceDelay = 50 * time.Millisecond

// MatcherSource hands out the matcher snapshot used for each batch of lines.
type MatcherSource interface {
	Compile() *detector.Matcher
}

// Logger receives watcher diagnostics.
type Logger interface {
	LogDebug(message string)
	LogWarn(message string)
}

// Options control a Follower.
type Options struct {
	FromStart     bool // classify existing content before following
	ForcePoll     bool
	PollInterval  time.Duration
	DebounceDelay time.Duration
	MaxLineBytes  int
	Logger        Logger
}

// Follower tails one file.
type Follower struct {
	path   string
	source MatcherSource
	opts   Options

	offset     int64
	line       int
	pending    []byte
	discarding bool // inside the cut tail of an overlong line
	polling    bool
}

// New creates a Follower for path. Unless FromStart is set, content already
// in the file when New returns is skipped; anything written afterwards is
// classified by Run, even if Run starts later.
func New(path string, source MatcherSource, opts Options) (*Follower, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DebounceDelay <= 0 {
		opts.DebounceDelay = DefaultDebounceDelay
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = detector.DefaultMaxLineBytes
	}
	f := &Follower{path: abs, source: source, opts: opts}

	info, err := os.Stat(abs)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err == nil && info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", abs)
	}
	if err == nil && !opts.FromStart {
		if err := f.skipExisting(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Path returns the followed file's absolute path.
func (f *Follower) Path() string {
	return f.path
}

// Polling reports whether the last Run fell back to polling.
func (f *Follower) Polling() bool {
	return f.polling
}

// Run follows the file until ctx is done, calling emit for every match in
// line order. It returns nil when ctx is cancelled.
func (f *Follower) Run(ctx context.Context, emit func(models.Match)) error {
	var watcher *fsnotify.Watcher
	var err error
	if !f.opts.ForcePoll {
		watcher, err = fsnotify.NewWatcher()
		if err == nil {
			if addErr := watcher.Add(filepath.Dir(f.path)); addErr != nil {
				watcher.Close()
				watcher, err = nil, addErr
			}
		}
		if err != nil {
			f.debug(fmt.Sprintf("fsnotify unavailable, polling every %s: %v", f.opts.PollInterval, err))
		}
	}

	// watcher is registered before this read; later writes raise events
	if err := f.readNew(emit); err != nil {
		f.warn(err)
	}

	if watcher == nil {
		f.polling = true
		return f.poll(ctx, emit)
	}
	defer watcher.Close()
	return f.watch(ctx, watcher, emit)
}

func (f *Follower) watch(ctx context.Context, watcher *fsnotify.Watcher, emit func(models.Match)) error {
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				f.debug("followed file moved away, waiting for it to return")
				f.rewind()
			case event.Has(fsnotify.Create):
				f.rewind()
				debounce.Reset(f.opts.DebounceDelay)
			case event.Has(fsnotify.Write):
				debounce.Reset(f.opts.DebounceDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.warn(err)
		case <-debounce.C:
			if err := f.readNew(emit); err != nil {
				f.warn(err)
			}
		}
	}
}

func (f *Follower) poll(ctx context.Context, emit func(models.Match)) error {
	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.readNew(emit); err != nil {
				f.warn(err)
			}
		}
	}
}

// skipExisting moves past the current content while keeping line numbers
// aligned with the file.
func (f *Follower) skipExisting() error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, 64*1024)
	for {
		n, err := file.Read(buf)
		f.offset += int64(n)
		f.line += bytes.Count(buf[:n], []byte{'\n'})
		if n > 0 {
			if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
				f.pending = append(f.pending[:0], buf[i+1:n]...)
			} else {
				f.pending = append(f.pending, buf[:n]...)
			}
		}
		if err == io.EOF {
			// re-read an unterminated last line once it is complete
			f.offset -= int64(len(f.pending))
			f.pending = nil
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *Follower) rewind() {
	f.offset = 0
	f.line = 0
	f.pending = nil
	f.discarding = false
}

// readNew classifies every complete line written since the last read.
func (f *Follower) readNew(emit func(models.Match)) error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < f.offset {
		f.debug("followed file truncated, reading from the start")
		f.rewind()
	}
	if info.Size() == f.offset {
		return nil
	}
	if _, err := file.Seek(f.offset, io.SeekStart); err != nil {
		return err
	}

	classifier := detector.NewClassifier(f.source.Compile())
	buf := make([]byte, 64*1024)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			f.offset += int64(n)
			f.consume(buf[:n], classifier, emit)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// consume splits chunk into lines; a trailing partial line waits for its
// newline. A line longer than MaxLineBytes is classified on its first
// MaxLineBytes bytes and the rest up to the newline is dropped.
func (f *Follower) consume(chunk []byte, c *detector.Classifier, emit func(models.Match)) {
	if f.discarding {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			return
		}
		f.discarding = false
		chunk = chunk[i+1:]
	}
	f.pending = append(f.pending, chunk...)
	for {
		i := bytes.IndexByte(f.pending, '\n')
		if i < 0 {
			break
		}
		line := f.pending[:i]
		if len(line) > f.opts.MaxLineBytes {
			line = line[:f.opts.MaxLineBytes]
		}
		f.classify(line, c, emit)
		f.pending = f.pending[i+1:]
	}
	if len(f.pending) > f.opts.MaxLineBytes {
		f.classify(f.pending[:f.opts.MaxLineBytes], c, emit)
		f.pending = nil
		f.discarding = true
	}
	if len(f.pending) == 0 {
		f.pending = nil
	}
}

func (f *Follower) classify(raw []byte, c *detector.Classifier, emit func(models.Match)) {
	f.line++
	text, _, err := transform.Bytes(scanner.LossyDecoder(), raw)
	if err != nil {
		text = raw
	}
	if m, ok := c.ClassifyLine(f.line, string(text)); ok {
		matches := []models.Match{m}
		models.Decorate(matches, f.path)
		emit(matches[0])
	}
}

func (f *Follower) debug(msg string) {
	if f.opts.Logger != nil {
		f.opts.Logger.LogDebug(msg)
	}
}

func (f *Follower) warn(err error) {
	if f.opts.Logger != nil {
		f.opts.Logger.LogWarn(fmt.Sprintf("follow %s: %v", f.path, err))
	}
}

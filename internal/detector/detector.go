// Package detector classifies log lines against named regular-expression
// signatures.
//
// A Detector owns an editable pattern Set and a lazily compiled Matcher.
// Edits invalidate the Matcher; the next read recompiles it. Callers that
// scan concurrently take a Matcher snapshot once and keep using it; later
// edits never touch a snapshot already handed out.
package detector

import (
	"fmt"
	"strings"
	"sync"

	"github.com/harrison/logscan/internal/models"
)

// Logger receives compile-time diagnostics. ConsoleLogger and FileLogger both
// satisfy it.
type Logger interface {
	LogWarn(message string)
	LogDebug(message string)
}

// Detector is the classification engine instance.
type Detector struct {
	mu      sync.RWMutex
	set     *Set
	matcher *Matcher // nil when stale
	opts    CompileOptions
	logger  Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithCompileOptions overrides the compile options.
func WithCompileOptions(opts CompileOptions) Option {
	return func(d *Detector) {
		d.opts = opts
	}
}

// WithLogger routes compile diagnostics to logger.
func WithLogger(logger Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// New creates a Detector seeded with the built-in defaults and no customs.
func New(opts ...Option) *Detector {
	set, _ := NewSet(DefaultPatterns(), nil)
	d := &Detector{set: set, opts: DefaultCompileOptions()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewWithPatterns creates a Detector over explicit defaults and customs.
func NewWithPatterns(defaults, customs []Pattern, opts ...Option) (*Detector, error) {
	d := New(opts...)
	if _, err := d.SetPatterns(defaults, customs); err != nil {
		return nil, err
	}
	return d, nil
}

// SetPatterns replaces both subsets and marks the matcher stale.
func (d *Detector) SetPatterns(defaults, customs []Pattern) (string, error) {
	set, err := NewSet(defaults, customs)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set = set
	d.matcher = nil
	return d.statusLocked(), nil
}

// LoadCustoms replaces the custom subset, as a pattern-file import does.
func (d *Detector) LoadCustoms(customs []Pattern) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.set.ReplaceCustoms(customs); err != nil {
		return "", err
	}
	d.matcher = nil
	return fmt.Sprintf("Loaded %d custom patterns", len(customs)), nil
}

// validateEdit checks an interactive edit before it is applied.
func (d *Detector) validateEdit(expression, category string) (Pattern, error) {
	p := Pattern{
		Expression: strings.TrimSpace(expression),
		Category:   strings.TrimSpace(category),
	}
	if p.Expression == "" || p.Category == "" {
		return Pattern{}, newValidationError("", "both pattern and category are required")
	}
	if _, err := compileExpression(p, d.opts); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

// AddOrUpdate inserts or overwrites one entry in the targeted subset.
// The expression must compile; a rejected edit reports which regex failed.
func (d *Detector) AddOrUpdate(expression, category string, which Subset) (string, error) {
	p, err := d.validateEdit(expression, category)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, existed := d.set.Lookup(p.Expression, which)
	d.set.Put(p, which)
	d.matcher = nil
	if existed {
		return fmt.Sprintf("Updated %s pattern: %s -> %s", which, p.Expression, p.Category), nil
	}
	return fmt.Sprintf("Added pattern: %s -> %s", p.Expression, p.Category), nil
}

// Edit renames oldExpression to expression within the targeted subset and
// sets its category. The old key is deleted and the new one inserted.
func (d *Detector) Edit(oldExpression, expression, category string, which Subset) (string, error) {
	p, err := d.validateEdit(expression, category)
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set.Rename(oldExpression, p, which)
	d.matcher = nil
	return fmt.Sprintf("Edited %s pattern: %s -> %s", which, p.Expression, p.Category), nil
}

// Copy duplicates an effective pattern into the custom subset.
func (d *Detector) Copy(expression string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.set.Effective() {
		if p.Expression == expression {
			d.set.Put(p, SubsetCustom)
			d.matcher = nil
			return fmt.Sprintf("Copied pattern to custom: %s -> %s", p.Expression, p.Category), nil
		}
	}
	return "", newValidationError("", "pattern %q not found", expression)
}

// Remove deletes expression from the targeted subset. Removing a missing key
// is a no-op.
func (d *Detector) Remove(expression string, which Subset) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.set.Delete(expression, which) {
		return fmt.Sprintf("No %s pattern %s", which, expression)
	}
	d.matcher = nil
	return fmt.Sprintf("Deleted %s pattern: %s", which, expression)
}

// Reset restores the built-in defaults and drops every custom pattern.
func (d *Detector) Reset() string {
	set, _ := NewSet(DefaultPatterns(), nil)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.set = set
	d.matcher = nil
	return "Reset to default patterns"
}

// Compile forces an eager rebuild if the matcher is stale and returns it.
// Repeated calls without an intervening edit return the cached matcher.
func (d *Detector) Compile() *Matcher {
	d.mu.RLock()
	m := d.matcher
	d.mu.RUnlock()
	if m != nil {
		return m
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.matcher != nil {
		return d.matcher
	}
	m = Compile(d.set.Effective(), d.opts)
	for _, rejected := range m.Rejected() {
		if d.logger != nil {
			d.logger.LogWarn(fmt.Sprintf("Skipping pattern: %v", rejected))
		}
	}
	if d.logger != nil {
		d.logger.LogDebug(fmt.Sprintf("Compiled %d patterns (%s strategy)", m.Len(), m.Strategy()))
	}
	d.matcher = m
	return m
}

// Matcher returns the current matcher snapshot, compiling it if stale.
func (d *Detector) Matcher() *Matcher {
	return d.Compile()
}

// Stale reports whether the next read will recompile.
func (d *Detector) Stale() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.matcher == nil
}

// ClassifyLine classifies one line against the current patterns.
func (d *Detector) ClassifyLine(line string) (Result, bool) {
	return d.Compile().Match(line)
}

// ClassifyText classifies buffered text against the current patterns.
func (d *Detector) ClassifyText(text string) []models.Match {
	return NewClassifier(d.Compile()).ClassifyText(text)
}

// Effective returns the effective pattern list.
func (d *Detector) Effective() []Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set.Effective()
}

// Defaults returns the default subset.
func (d *Detector) Defaults() []Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set.Defaults()
}

// Customs returns the custom subset.
func (d *Detector) Customs() []Pattern {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set.Customs()
}

// Status renders the pattern status line.
func (d *Detector) Status() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.statusLocked()
}

func (d *Detector) statusLocked() string {
	effective, defaults, customs := d.set.Counts()
	return fmt.Sprintf("Using %d patterns (%d default + %d custom)", effective, defaults, customs)
}

// Set returns a copy of the raw pattern set.
func (d *Detector) Set() *Set {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.set.Clone()
}

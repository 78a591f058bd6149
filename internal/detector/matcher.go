package detector

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dlclark/regexp2"
)

// Strategy names how a Matcher evaluates a line.
type Strategy string

const (
	// StrategyCombined runs one alternation of every pattern per line and only
	// re-checks lower-ranked patterns when the alternation fires.
	StrategyCombined Strategy = "combined"
	// StrategySequential tries each pattern in registration order.
	StrategySequential Strategy = "sequential"
)

// groupPrefix names the capture group wrapping each sub-pattern in the
// combined alternation.
const groupPrefix = "lsp"

// DefaultMatchTimeout bounds a single backtracking match.
const DefaultMatchTimeout = time.Second

// CompileOptions tune how expressions are compiled.
type CompileOptions struct {
	// ExtendedSyntax retries expressions RE2 rejects (lookaround,
	// backreferences) with a backtracking engine.
	ExtendedSyntax bool
	// MatchTimeout bounds each backtracking match; zero uses DefaultMatchTimeout.
	MatchTimeout time.Duration
	// DisableCombined forces the sequential strategy.
	DisableCombined bool
}

// DefaultCompileOptions returns the options used when none are configured.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{ExtendedSyntax: true, MatchTimeout: DefaultMatchTimeout}
}

// compiled is one executable pattern.
type compiled struct {
	pattern   Pattern
	re        *regexp.Regexp
	extended  *regexp2.Regexp
	timeouts  *atomic.Int64
	inCombine bool
}

// find returns the leftmost match of the pattern in line.
func (c *compiled) find(line string) (string, bool) {
	if c.re != nil {
		loc := c.re.FindStringIndex(line)
		if loc == nil {
			return "", false
		}
		return line[loc[0]:loc[1]], true
	}
	m, err := c.extended.FindStringMatch(line)
	if err != nil {
		// A timed-out match counts as no match for this line.
		c.timeouts.Add(1)
		return "", false
	}
	if m == nil {
		return "", false
	}
	return m.String(), true
}

// Result is the outcome of classifying one line.
type Result struct {
	Pattern  Pattern
	Fragment string
	Rank     int // position of the winning pattern among compiled patterns
}

// Matcher is an immutable compiled view of a pattern snapshot. It is safe for
// concurrent use by any number of goroutines.
type Matcher struct {
	entries  []*compiled
	combined *regexp.Regexp
	groups   []int // combined subexpression index -> entry index, -1 if foreign
	strategy Strategy
	rejected []*PatternError
	timeouts atomic.Int64
}

// compileExpression compiles one expression case-insensitively.
func compileExpression(p Pattern, opts CompileOptions) (*compiled, error) {
	re, err := regexp.Compile("(?i)" + p.Expression)
	if err == nil {
		return &compiled{pattern: p, re: re}, nil
	}
	if !opts.ExtendedSyntax {
		return nil, &PatternError{Expression: p.Expression, Category: p.Category, Err: err}
	}
	ext, extErr := regexp2.Compile(p.Expression, regexp2.IgnoreCase)
	if extErr != nil {
		return nil, &PatternError{Expression: p.Expression, Category: p.Category, Err: err}
	}
	timeout := opts.MatchTimeout
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	ext.MatchTimeout = timeout
	return &compiled{pattern: p, extended: ext}, nil
}

// ValidateExpression reports whether expression compiles under opts.
func ValidateExpression(expression string, opts CompileOptions) error {
	_, err := compileExpression(Pattern{Expression: expression}, opts)
	return err
}

// Compile builds a Matcher from patterns in registration order. Patterns that
// fail to compile are excluded and reported through Rejected; they never
// prevent the remaining patterns from matching.
func Compile(patterns []Pattern, opts CompileOptions) *Matcher {
	m := &Matcher{strategy: StrategySequential}
	for _, p := range patterns {
		c, err := compileExpression(p, opts)
		if err != nil {
			m.rejected = append(m.rejected, err.(*PatternError))
			continue
		}
		c.timeouts = &m.timeouts
		m.entries = append(m.entries, c)
	}
	if !opts.DisableCombined {
		m.buildCombined()
	}
	return m
}

// buildCombined wraps each RE2 entry in a uniquely named group and joins them.
// Any construction failure leaves the matcher on the sequential strategy,
// which yields identical results.
func (m *Matcher) buildCombined() {
	var parts []string
	var members []int
	for i, c := range m.entries {
		if c.re == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("(?P<%s%d>%s)", groupPrefix, i, c.pattern.Expression))
		members = append(members, i)
	}
	if len(parts) == 0 {
		return
	}
	re, err := regexp.Compile("(?i)" + strings.Join(parts, "|"))
	if err != nil {
		return
	}

	names := re.SubexpNames()
	groups := make([]int, len(names))
	seen := make(map[string]bool, len(members))
	for idx, name := range names {
		groups[idx] = -1
		if !strings.HasPrefix(name, groupPrefix) {
			continue
		}
		var entry int
		if _, err := fmt.Sscanf(name[len(groupPrefix):], "%d", &entry); err != nil {
			continue
		}
		if seen[name] {
			// A user pattern reused one of our group names.
			return
		}
		if entry < 0 || entry >= len(m.entries) || fmt.Sprintf("%s%d", groupPrefix, entry) != name {
			continue
		}
		seen[name] = true
		groups[idx] = entry
	}
	if len(seen) != len(members) {
		return
	}

	for _, i := range members {
		m.entries[i].inCombine = true
	}
	m.combined = re
	m.groups = groups
	m.strategy = StrategyCombined
}

// Strategy reports the evaluation strategy in use.
func (m *Matcher) Strategy() Strategy {
	return m.strategy
}

// Len returns the number of compiled patterns.
func (m *Matcher) Len() int {
	return len(m.entries)
}

// Rejected returns the patterns excluded at compile time.
func (m *Matcher) Rejected() []*PatternError {
	out := make([]*PatternError, len(m.rejected))
	copy(out, m.rejected)
	return out
}

// Timeouts returns how many backtracking matches hit their time limit.
func (m *Matcher) Timeouts() int64 {
	return m.timeouts.Load()
}

// Patterns returns the compiled patterns in registration order.
func (m *Matcher) Patterns() []Pattern {
	out := make([]Pattern, len(m.entries))
	for i, c := range m.entries {
		out[i] = c.pattern
	}
	return out
}

// Match returns the earliest-registered pattern matching line.
func (m *Matcher) Match(line string) (Result, bool) {
	if m.combined == nil {
		return m.matchSequential(line, len(m.entries))
	}

	loc := m.combined.FindStringSubmatchIndex(line)
	if loc == nil {
		// Only patterns outside the alternation can still match.
		return m.matchOutsideCombined(line)
	}

	winner, group := -1, 0
	for idx := 1; idx < len(m.groups); idx++ {
		if m.groups[idx] >= 0 && loc[2*idx] >= 0 {
			winner, group = m.groups[idx], idx
			break
		}
	}
	if winner < 0 {
		return m.matchSequential(line, len(m.entries))
	}

	// The alternation reports the leftmost match in the line. Any pattern
	// registered before the winner takes precedence if it matches anywhere.
	if r, ok := m.matchSequential(line, winner); ok {
		return r, true
	}
	c := m.entries[winner]
	fragment, ok := c.find(line)
	if !ok {
		fragment = line[loc[2*group]:loc[2*group+1]]
	}
	return Result{Pattern: c.pattern, Fragment: fragment, Rank: winner}, true
}

// matchSequential tries entries [0, limit) in order.
func (m *Matcher) matchSequential(line string, limit int) (Result, bool) {
	for i := 0; i < limit; i++ {
		c := m.entries[i]
		if fragment, ok := c.find(line); ok {
			return Result{Pattern: c.pattern, Fragment: fragment, Rank: i}, true
		}
	}
	return Result{}, false
}

func (m *Matcher) matchOutsideCombined(line string) (Result, bool) {
	for i, c := range m.entries {
		if c.inCombine {
			continue
		}
		if fragment, ok := c.find(line); ok {
			return Result{Pattern: c.pattern, Fragment: fragment, Rank: i}, true
		}
	}
	return Result{}, false
}

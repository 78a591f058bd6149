package detector

import (
	"sort"
	"strings"
)

// Pattern maps one case-insensitive regular expression to a category label.
type Pattern struct {
	Expression string `json:"expression" yaml:"expression" toml:"expression"`
	Category   string `json:"category" yaml:"category" toml:"category"`
}

// Subset selects the default or the custom half of a Set.
type Subset int

const (
	// SubsetDefault addresses the built-in (or replaced) default patterns.
	SubsetDefault Subset = iota
	// SubsetCustom addresses user-supplied patterns.
	SubsetCustom
)

// String returns the display name used in pattern listings.
func (s Subset) String() string {
	if s == SubsetDefault {
		return "default"
	}
	return "custom"
}

// orderedPatterns is an insertion-ordered expression -> category mapping.
// Overwriting an existing key keeps its position; deleting and re-adding a
// key moves it to the end.
type orderedPatterns struct {
	keys       []string
	categories map[string]string
}

func newOrderedPatterns(patterns []Pattern) *orderedPatterns {
	op := &orderedPatterns{categories: make(map[string]string, len(patterns))}
	for _, p := range patterns {
		op.put(p.Expression, p.Category)
	}
	return op
}

func (op *orderedPatterns) put(expression, category string) {
	if _, ok := op.categories[expression]; !ok {
		op.keys = append(op.keys, expression)
	}
	op.categories[expression] = category
}

func (op *orderedPatterns) get(expression string) (string, bool) {
	c, ok := op.categories[expression]
	return c, ok
}

func (op *orderedPatterns) delete(expression string) bool {
	if _, ok := op.categories[expression]; !ok {
		return false
	}
	delete(op.categories, expression)
	for i, k := range op.keys {
		if k == expression {
			op.keys = append(op.keys[:i:i], op.keys[i+1:]...)
			break
		}
	}
	return true
}

func (op *orderedPatterns) len() int {
	return len(op.keys)
}

func (op *orderedPatterns) list() []Pattern {
	out := make([]Pattern, 0, len(op.keys))
	for _, k := range op.keys {
		out = append(out, Pattern{Expression: k, Category: op.categories[k]})
	}
	return out
}

// Set is the raw, editable pattern collection: defaults plus customs.
// A Set keeps invalid expressions so they can still be edited or exported;
// compilation decides what actually reaches the matcher.
// Set is not safe for concurrent use; Detector serializes access to it.
type Set struct {
	defaults *orderedPatterns
	customs  *orderedPatterns
}

// NewSet creates a Set from ordered default and custom patterns.
// Entries are validated structurally; regex syntax is checked at compile time.
func NewSet(defaults, customs []Pattern) (*Set, error) {
	if err := validatePatterns("defaults", defaults); err != nil {
		return nil, err
	}
	if err := validatePatterns("customs", customs); err != nil {
		return nil, err
	}
	return &Set{
		defaults: newOrderedPatterns(defaults),
		customs:  newOrderedPatterns(customs),
	}, nil
}

func validatePatterns(field string, patterns []Pattern) error {
	for i, p := range patterns {
		if strings.TrimSpace(p.Expression) == "" {
			return newValidationError(field, "entry %d has an empty expression", i+1)
		}
		if strings.TrimSpace(p.Category) == "" {
			return newValidationError(field, "pattern %q has an empty category", p.Expression)
		}
	}
	return nil
}

func (s *Set) subset(which Subset) *orderedPatterns {
	if which == SubsetDefault {
		return s.defaults
	}
	return s.customs
}

// Effective returns the patterns used for matching: defaults in order with
// same-expression customs overriding their category, followed by the
// remaining customs in their own order.
func (s *Set) Effective() []Pattern {
	out := make([]Pattern, 0, s.defaults.len()+s.customs.len())
	for _, k := range s.defaults.keys {
		category := s.defaults.categories[k]
		if c, ok := s.customs.get(k); ok {
			category = c
		}
		out = append(out, Pattern{Expression: k, Category: category})
	}
	for _, k := range s.customs.keys {
		if _, ok := s.defaults.get(k); ok {
			continue
		}
		out = append(out, Pattern{Expression: k, Category: s.customs.categories[k]})
	}
	return out
}

// Defaults returns the default subset in order.
func (s *Set) Defaults() []Pattern {
	return s.defaults.list()
}

// Customs returns the custom subset in order.
func (s *Set) Customs() []Pattern {
	return s.customs.list()
}

// Lookup reports the category registered for expression in a subset.
func (s *Set) Lookup(expression string, which Subset) (string, bool) {
	return s.subset(which).get(expression)
}

// Put inserts or overwrites one entry.
func (s *Set) Put(p Pattern, which Subset) {
	s.subset(which).put(p.Expression, p.Category)
}

// Rename replaces oldExpression with p. The old key is removed and p is
// inserted as a new key, so it moves to the end of its subset.
func (s *Set) Rename(oldExpression string, p Pattern, which Subset) {
	sub := s.subset(which)
	sub.delete(oldExpression)
	sub.put(p.Expression, p.Category)
}

// Delete removes expression from a subset. Missing keys are ignored.
func (s *Set) Delete(expression string, which Subset) bool {
	return s.subset(which).delete(expression)
}

// ReplaceCustoms swaps the whole custom subset.
func (s *Set) ReplaceCustoms(customs []Pattern) error {
	if err := validatePatterns("customs", customs); err != nil {
		return err
	}
	s.customs = newOrderedPatterns(customs)
	return nil
}

// Counts returns effective, default and custom sizes.
func (s *Set) Counts() (effective, defaults, customs int) {
	return len(s.Effective()), s.defaults.len(), s.customs.len()
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	return &Set{
		defaults: newOrderedPatterns(s.defaults.list()),
		customs:  newOrderedPatterns(s.customs.list()),
	}
}

// SortedByExpression returns patterns ordered by expression, the layout used
// by pattern exports.
func SortedByExpression(patterns []Pattern) []Pattern {
	out := make([]Pattern, len(patterns))
	copy(out, patterns)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Expression < out[j].Expression
	})
	return out
}

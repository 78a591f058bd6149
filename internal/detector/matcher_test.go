package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var patternPool = []Pattern{
	{"error", "ERROR"},
	{"fail(ed|ure)?", "FAIL"},
	{"pan.c", "PANIC"},
	{`\d{3,}`, "NUMBER"},
	{"o+k", "OK"},
	{"er|fa", "SHORT"},
	{"time ?out", "TIMEOUT"},
	{"^warn", "WARN_PREFIX"},
	{"x?", "EMPTY_OK"},
	{"(", "BROKEN"},
}

var wordPool = []string{"error", "fail", "failed", "panic", "PANIC", "ok", "oook", "1234", "warn", "timeout", "time out", "quiet", " ", "\t"}

func genPatterns() *rapid.Generator[[]Pattern] {
	return rapid.Custom(func(t *rapid.T) []Pattern {
		n := rapid.IntRange(1, len(patternPool)).Draw(t, "n")
		perm := rapid.Permutation(patternPool).Draw(t, "perm")
		return perm[:n]
	})
}

func genLine() *rapid.Generator[string] {
	return rapid.Custom(func(t *rapid.T) string {
		words := rapid.SliceOfN(rapid.SampledFrom(wordPool), 0, 6).Draw(t, "words")
		return strings.Join(words, " ")
	})
}

func TestMatcherStrategiesAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		patterns := genPatterns().Draw(t, "patterns")
		line := genLine().Draw(t, "line")

		combined := Compile(patterns, CompileOptions{})
		sequential := Compile(patterns, CompileOptions{DisableCombined: true})
		if sequential.Strategy() != StrategySequential {
			t.Fatalf("expected sequential strategy, got %s", sequential.Strategy())
		}

		rc, okc := combined.Match(line)
		rs, oks := sequential.Match(line)
		if okc != oks || rc != rs {
			t.Fatalf("strategies disagree on %q: combined=%+v/%v sequential=%+v/%v", line, rc, okc, rs, oks)
		}

		// The winner is the first registered pattern that matches anywhere.
		if oks {
			for _, p := range sequential.Patterns()[:rs.Rank] {
				if _, ok := Compile([]Pattern{p}, CompileOptions{}).Match(line); ok {
					t.Fatalf("pattern %q registered before winner %q also matches %q", p.Expression, rs.Pattern.Expression, line)
				}
			}
		}
	})
}

func TestMatcherIdempotentCompile(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		patterns := genPatterns().Draw(t, "patterns")
		lines := rapid.SliceOfN(genLine(), 1, 20).Draw(t, "lines")

		first := Compile(patterns, DefaultCompileOptions())
		second := Compile(patterns, DefaultCompileOptions())
		for _, line := range lines {
			r1, ok1 := first.Match(line)
			r2, ok2 := second.Match(line)
			if ok1 != ok2 || r1 != r2 {
				t.Fatalf("recompiled matcher differs on %q", line)
			}
		}
	})
}

func TestMatcherBadPatternNeverHidesGoodOnes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		patterns := genPatterns().Draw(t, "patterns")
		line := genLine().Draw(t, "line")
		pos := rapid.IntRange(0, len(patterns)).Draw(t, "pos")

		withBroken := append([]Pattern{}, patterns[:pos]...)
		withBroken = append(withBroken, Pattern{"[unclosed", "BROKEN"})
		withBroken = append(withBroken, patterns[pos:]...)

		r1, ok1 := Compile(patterns, CompileOptions{}).Match(line)
		r2, ok2 := Compile(withBroken, CompileOptions{}).Match(line)
		if ok1 != ok2 || r1.Pattern != r2.Pattern || r1.Fragment != r2.Fragment {
			t.Fatalf("broken pattern changed classification of %q", line)
		}
	})
}

func TestMatcherGroupNameCollisionFallsBack(t *testing.T) {
	patterns := []Pattern{
		{"(?P<lsp1>disk) full", "DISK"},
		{"full", "FULL"},
	}
	m := Compile(patterns, CompileOptions{})
	assert.Equal(t, StrategySequential, m.Strategy())

	r, ok := m.Match("the disk full alarm")
	require.True(t, ok)
	assert.Equal(t, "DISK", r.Pattern.Category)
	assert.Equal(t, "disk full", r.Fragment)
}

func TestMatcherCombinedStrategyByDefault(t *testing.T) {
	m := Compile(DefaultPatterns(), DefaultCompileOptions())
	assert.Equal(t, StrategyCombined, m.Strategy())
	assert.Equal(t, len(DefaultPatterns()), m.Len())
	assert.Empty(t, m.Rejected())
}

func TestMatcherExtendedSyntax(t *testing.T) {
	patterns := []Pattern{
		{"link (?!up)", "LINK_NOT_UP"},
		{"link", "LINK"},
	}

	t.Run("enabled", func(t *testing.T) {
		m := Compile(patterns, DefaultCompileOptions())
		require.Equal(t, 2, m.Len())

		r, ok := m.Match("eth0: Link down")
		require.True(t, ok)
		assert.Equal(t, "LINK_NOT_UP", r.Pattern.Category)
		assert.Equal(t, "Link ", r.Fragment)

		r, ok = m.Match("eth0: link up")
		require.True(t, ok)
		assert.Equal(t, "LINK", r.Pattern.Category)
	})

	t.Run("disabled", func(t *testing.T) {
		m := Compile(patterns, CompileOptions{})
		assert.Equal(t, 1, m.Len())
		require.Len(t, m.Rejected(), 1)
		assert.Equal(t, "link (?!up)", m.Rejected()[0].Expression)
	})
}

func TestMatcherEmpty(t *testing.T) {
	m := Compile(nil, DefaultCompileOptions())
	_, ok := m.Match("anything")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

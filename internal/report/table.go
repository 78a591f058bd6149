package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/harrison/logscan/internal/metrics"
	"github.com/harrison/logscan/internal/models"
)

// Table is a minimal column-aligned text table measured in terminal cells.
type Table struct {
	headers []string
	rows    [][]string
	// flex is the column that absorbs truncation when the table is too wide.
	flex int
}

// NewTable creates a table; the last column is the flexible one.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers, flex: len(headers) - 1}
}

// AddRow appends a row; missing cells are blank.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	copy(row, cells)
	t.rows = append(t.rows, row)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table fitted to width cells.
func (t *Table) Render(w io.Writer, width int) error {
	if width <= 0 {
		width = DefaultWidth
	}
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	// two spaces between columns
	total := 2 * (len(widths) - 1)
	for _, cw := range widths {
		total += cw
	}
	if total > width && t.flex >= 0 {
		shrunk := widths[t.flex] - (total - width)
		if floor := runewidth.StringWidth(t.headers[t.flex]); shrunk < floor {
			shrunk = floor
		}
		widths[t.flex] = shrunk
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i > 0 {
				b.WriteString("  ")
			}
			cell = truncate(cell, widths[i])
			if i == len(cells)-1 {
				b.WriteString(cell)
				continue
			}
			b.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		b.WriteString("\n")
	}

	writeRow(t.headers)
	rule := make([]string, len(widths))
	for i, cw := range widths {
		rule[i] = strings.Repeat("-", cw)
	}
	writeRow(rule)
	for _, row := range t.rows {
		writeRow(row)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// truncate shortens s to max cells, marking the cut with "...".
func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 3 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}

// WriteText renders the summary, category counts and a match table.
func WriteText(w io.Writer, result *models.ScanResult, opts Options) error {
	stats := metrics.Summarize(result.Durations)
	if _, err := fmt.Fprintf(w, "%s\nDuration: %s (per file p50 %s, p95 %s, max %s)\n\n",
		result.StatusMessage(), result.Duration().Round(time.Millisecond),
		stats.P50.Round(time.Millisecond), stats.P95.Round(time.Millisecond), stats.Max.Round(time.Millisecond)); err != nil {
		return err
	}

	if len(result.CategoryCounts) > 0 {
		categories := NewTable("CATEGORY", "COUNT")
		for _, c := range sortedCategories(result.CategoryCounts) {
			categories.AddRow(c, strconv.Itoa(result.CategoryCounts[c]))
		}
		if err := categories.Render(w, opts.Width); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	if len(result.Matches) > 0 {
		if err := MatchTable(limited(result.Matches, opts.Limit)).Render(w, opts.Width); err != nil {
			return err
		}
		if opts.Limit > 0 && len(result.Matches) > opts.Limit {
			fmt.Fprintf(w, "... %d more not shown\n", len(result.Matches)-opts.Limit)
		}
	}

	if len(result.FileErrors) > 0 {
		fmt.Fprintln(w, "\nUnreadable files:")
		for _, path := range sortedKeys(result.FileErrors) {
			fmt.Fprintf(w, "  %s: %s\n", path, result.FileErrors[path])
		}
	}
	return nil
}

// MatchTable builds the DEVICE/LINE/CATEGORY/TEXT table for matches.
func MatchTable(matches []models.Match) *Table {
	t := NewTable("DEVICE", "LINE", "CATEGORY", "TEXT")
	for _, m := range matches {
		device := m.Device
		if device == "" {
			device = "-"
		}
		t.AddRow(device, strconv.Itoa(m.LineNumber), m.Category, m.Line)
	}
	return t
}

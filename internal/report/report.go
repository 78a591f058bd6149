// Package report renders scan results for people: aligned text tables for the
// terminal, Markdown, HTML (rendered from the Markdown) and JSON.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/term"

	"github.com/harrison/logscan/internal/metrics"
	"github.com/harrison/logscan/internal/models"
)

// Format is an output format.
type Format string

// Supported formats
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 120

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatText, FormatMarkdown, FormatHTML, FormatJSON:
		return f, nil
	case "md":
		return FormatMarkdown, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, markdown, html or json)", s)
}

// TerminalWidth returns f's column count, or DefaultWidth when f is not a
// terminal.
func TerminalWidth(f *os.File) int {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return DefaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return width
}

// Options control rendering.
type Options struct {
	Width int // text tables only; zero uses DefaultWidth
	Limit int // maximum match rows; zero means all
}

// Write renders result in format.
func Write(w io.Writer, result *models.ScanResult, format Format, opts Options) error {
	switch format {
	case FormatText, "":
		return WriteText(w, result, opts)
	case FormatMarkdown:
		return WriteMarkdown(w, result, opts)
	case FormatHTML:
		return WriteHTML(w, result, opts)
	case FormatJSON:
		return WriteJSON(w, result)
	}
	return fmt.Errorf("unknown format %q", format)
}

// sortedCategories orders categories by descending count, then name.
func sortedCategories(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for c := range counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func limited(matches []models.Match, limit int) []models.Match {
	if limit > 0 && len(matches) > limit {
		return matches[:limit]
	}
	return matches
}

// WriteMarkdown renders a Markdown report with a GFM match table.
func WriteMarkdown(w io.Writer, result *models.ScanResult, opts Options) error {
	var b strings.Builder
	stats := metrics.Summarize(result.Durations)

	fmt.Fprintf(&b, "# Scan report: %s\n\n", escapeMarkdown(result.Root))
	fmt.Fprintf(&b, "%s\n\n", escapeMarkdown(result.StatusMessage()))
	fmt.Fprintf(&b, "- **State:** %s\n", result.State)
	fmt.Fprintf(&b, "- **Files:** %d/%d (%d unreadable)\n", result.Completed, result.Total, result.Errors)
	fmt.Fprintf(&b, "- **Anomalies:** %d\n", len(result.Matches))
	fmt.Fprintf(&b, "- **Duration:** %s (per file p50 %s, p95 %s, max %s)\n\n",
		result.Duration().Round(time.Millisecond), stats.P50.Round(time.Millisecond), stats.P95.Round(time.Millisecond), stats.Max.Round(time.Millisecond))

	if len(result.CategoryCounts) > 0 {
		b.WriteString("## Categories\n\n| Category | Count |\n|---|---:|\n")
		for _, c := range sortedCategories(result.CategoryCounts) {
			fmt.Fprintf(&b, "| %s | %d |\n", escapeMarkdown(c), result.CategoryCounts[c])
		}
		b.WriteString("\n")
	}

	if len(result.Matches) > 0 {
		b.WriteString("## Anomalies\n\n| Device | Line | Category | Pattern | Text |\n|---|---:|---|---|---|\n")
		for _, m := range limited(result.Matches, opts.Limit) {
			fmt.Fprintf(&b, "| %s | %d | %s | `%s` | %s |\n",
				escapeMarkdown(m.Device), m.LineNumber, escapeMarkdown(m.Category),
				codeSpan(m.Fragment), escapeMarkdown(m.Line))
		}
		if opts.Limit > 0 && len(result.Matches) > opts.Limit {
			fmt.Fprintf(&b, "\n_%d more not shown._\n", len(result.Matches)-opts.Limit)
		}
		b.WriteString("\n")
	}

	if len(result.FileErrors) > 0 {
		b.WriteString("## Unreadable files\n\n")
		for _, path := range sortedKeys(result.FileErrors) {
			fmt.Fprintf(&b, "- `%s`: %s\n", path, escapeMarkdown(result.FileErrors[path]))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`", "<", "&lt;", ">", "&gt;", "[", `\[`, "]", `\]`,
)

// codeSpan makes s safe inside a backtick span within a table cell.
func codeSpan(s string) string {
	return strings.NewReplacer("`", "'", "|", `\|`).Replace(s)
}

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// WriteHTML renders the Markdown report to a standalone HTML page.
func WriteHTML(w io.Writer, result *models.ScanResult, opts Options) error {
	var md bytes.Buffer
	if err := WriteMarkdown(&md, result, opts); err != nil {
		return err
	}

	renderer := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := renderer.Convert(md.Bytes(), &body); err != nil {
		return fmt.Errorf("render html: %w", err)
	}

	_, err := fmt.Fprintf(w, htmlPage, body.String())
	return err
}

const htmlPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>logscan report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; }
</style>
</head>
<body>
%s</body>
</html>
`

type jsonSummary struct {
	JobID          string            `json:"job_id"`
	Root           string            `json:"root"`
	State          models.ScanState  `json:"state"`
	Completed      int               `json:"completed"`
	Total          int               `json:"total"`
	Errors         int               `json:"errors"`
	Anomalies      int               `json:"anomalies"`
	CategoryCounts map[string]int    `json:"category_counts"`
	FileErrors     map[string]string `json:"file_errors,omitempty"`
	SnapshotPath   string            `json:"snapshot_path,omitempty"`
	Status         string            `json:"status"`
	DurationMS     int64             `json:"duration_ms"`
}

type jsonReport struct {
	Summary jsonSummary                   `json:"summary"`
	Devices map[string]models.Categorized `json:"devices"`
}

// WriteJSON renders the summary and the per-device categorized matches.
func WriteJSON(w io.Writer, result *models.ScanResult) error {
	rep := jsonReport{
		Summary: jsonSummary{
			JobID:          result.JobID,
			Root:           result.Root,
			State:          result.State,
			Completed:      result.Completed,
			Total:          result.Total,
			Errors:         result.Errors,
			Anomalies:      len(result.Matches),
			CategoryCounts: result.CategoryCounts,
			FileErrors:     result.FileErrors,
			SnapshotPath:   result.SnapshotPath,
			Status:         result.StatusMessage(),
			DurationMS:     result.Duration().Milliseconds(),
		},
		Devices: models.CategorizeByDevice(result.Matches),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

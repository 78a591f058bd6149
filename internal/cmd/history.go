package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/history"
	"github.com/harrison/logscan/internal/report"
	"github.com/harrison/logscan/internal/scanner"
)

// NewHistoryCommand creates the history command group
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded scans",
		Long:  `List and inspect scans recorded in the history database (history.db_path).`,
	}
	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryTrendCommand())
	return cmd
}

func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.History.DBPath == "" {
		return nil, fmt.Errorf("no history database configured (history.db_path)")
	}
	if _, err := os.Stat(cfg.History.DBPath); err != nil {
		return nil, fmt.Errorf("no scan history at %s: %w", cfg.History.DBPath, err)
	}
	return history.NewStore(cfg.History.DBPath)
}

func newHistoryListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			scans, err := store.ListScans(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(scans) == 0 {
				fmt.Fprintln(out, "No scans recorded.")
				return nil
			}

			table := report.NewTable("ID", "STARTED", "STATE", "FILES", "ERRORS", "ANOMALIES", "ROOT")
			for _, s := range scans {
				table.AddRow(
					shortScanID(s.ID),
					s.StartedAt.Local().Format("2006-01-02 15:04:05"),
					string(s.State),
					fmt.Sprintf("%d/%d", s.Completed, s.Total),
					strconv.Itoa(s.Errors),
					strconv.Itoa(s.MatchCount),
					s.Root,
				)
			}
			return table.Render(out, report.TerminalWidth(os.Stdout))
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum scans to list (0 = all)")
	return cmd
}

func shortScanID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func newHistoryShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one scan and its anomalies",
		Long: `Show a recorded scan. The id may be any unique prefix of the scan id.
With --context N, each anomaly is printed with N lines of surrounding context
re-read from the original file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			scan, err := store.GetScan(ctx, args[0])
			if err != nil {
				return err
			}
			category, _ := cmd.Flags().GetString("category")
			device, _ := cmd.Flags().GetString("device")
			limit, _ := cmd.Flags().GetInt("limit")
			matches, err := store.GetMatches(ctx, scan.ID, history.MatchFilter{Category: category, Device: device, Limit: limit})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			writeScanSummary(out, scan)

			contextLines, _ := cmd.Flags().GetInt("context")
			if contextLines <= 0 {
				if len(matches) > 0 {
					fmt.Fprintln(out)
					return report.MatchTable(matches).Render(out, report.TerminalWidth(os.Stdout))
				}
				return nil
			}
			for _, m := range matches {
				fmt.Fprintf(out, "\n%s:%d [%s]\n", m.FullPath, m.LineNumber, m.Category)
				lines, err := scanner.ContextLines(m.FullPath, m.LineNumber, contextLines, contextLines)
				if err != nil {
					fmt.Fprintf(out, "  (context unavailable: %v)\n", err)
					continue
				}
				for _, l := range lines {
					marker := " "
					if l.Target {
						marker = ">"
					}
					fmt.Fprintf(out, "%s %6d  %s\n", marker, l.Number, l.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("context", 0, "Lines of context around each anomaly")
	cmd.Flags().String("category", "", "Only show this category")
	cmd.Flags().String("device", "", "Only show this device")
	cmd.Flags().Int("limit", 0, "Maximum anomalies to show (0 = all)")
	return cmd
}

func writeScanSummary(out io.Writer, scan *history.ScanSummary) {
	fmt.Fprintf(out, "Scan %s\n", scan.ID)
	fmt.Fprintf(out, "  Root:      %s\n", scan.Root)
	fmt.Fprintf(out, "  State:     %s\n", scan.State)
	fmt.Fprintf(out, "  Started:   %s\n", scan.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(out, "  Duration:  %s\n", scan.Duration().Round(time.Millisecond))
	fmt.Fprintf(out, "  Files:     %d/%d (%d unreadable)\n", scan.Completed, scan.Total, scan.Errors)
	fmt.Fprintf(out, "  Anomalies: %d\n", scan.MatchCount)
	if scan.SnapshotPath != "" {
		fmt.Fprintf(out, "  Snapshot:  %s\n", scan.SnapshotPath)
	}
	if scan.Fatal != "" {
		fmt.Fprintf(out, "  Failure:   %s\n", scan.Fatal)
	}
	for _, c := range history.SortedCategories(scan.CategoryCounts) {
		fmt.Fprintf(out, "    %-24s %d\n", c, scan.CategoryCounts[c])
	}
	paths := make([]string, 0, len(scan.FileErrors))
	for path := range scan.FileErrors {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		fmt.Fprintf(out, "  Unreadable: %s: %s\n", path, scan.FileErrors[path])
	}
}

func newHistoryTrendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trend <directory>",
		Short: "Sum category counts over recent scans of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			scans, _ := cmd.Flags().GetInt("scans")
			trend, err := store.CategoryTrend(cmd.Context(), root, scans)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(trend) == 0 {
				fmt.Fprintf(out, "No anomalies recorded for %s.\n", root)
				return nil
			}
			table := report.NewTable("CATEGORY", "COUNT")
			for _, c := range history.SortedCategories(trend) {
				table.AddRow(c, strconv.Itoa(trend[c]))
			}
			return table.Render(out, report.TerminalWidth(os.Stdout))
		},
	}
	cmd.Flags().Int("scans", 10, "Number of recent scans to include")
	return cmd
}

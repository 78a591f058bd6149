package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/logger"
	"github.com/harrison/logscan/internal/models"
	"github.com/harrison/logscan/internal/report"
	"github.com/harrison/logscan/internal/scanner"
	"github.com/harrison/logscan/internal/snapshot"
)

// NewClassifyCommand creates the classify command
func NewClassifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify [FILE|-]",
		Short: "Classify a single log file or standard input",
		Long: `Classify one file, or standard input when FILE is "-" or omitted, in
streaming mode and print every anomalous line.

Examples:
  logscan classify ap-01.log
  dmesg | logscan classify --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: runClassify,
	}
	cmd.Flags().String("format", "text", "Output format: text or json")
	return cmd
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	formatName, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	if format != report.FormatText && format != report.FormatJSON {
		return fmt.Errorf("classify supports text and json output, not %s", format)
	}

	log := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	d, err := newDetector(cfg, log)
	if err != nil {
		return err
	}
	fileOpts := schedulerOptions(cfg).File

	var matches []models.Match
	if len(args) == 0 || args[0] == "-" {
		matches, err = classifyReader(cmd.InOrStdin(), d.Compile(), fileOpts)
		if err != nil {
			return err
		}
	} else {
		outcome := scanner.ScanFile(args[0], d.Compile(), fileOpts)
		if outcome.Failed() {
			return outcome.Err
		}
		matches = outcome.Matches
	}

	out := cmd.OutOrStdout()
	if format == report.FormatJSON {
		if matches == nil {
			matches = []models.Match{}
		}
		return snapshot.Encode(out, matches)
	}
	if len(matches) == 0 {
		fmt.Fprintln(out, "No anomalies found.")
		return nil
	}
	if err := report.MatchTable(matches).Render(out, report.TerminalWidth(os.Stdout)); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d anomalies\n", len(matches))
	return nil
}

func classifyReader(r io.Reader, m *detector.Matcher, opts scanner.FileOptions) ([]models.Match, error) {
	var matches []models.Match
	_, err := detector.NewClassifier(m).Stream(scanner.LossyReader(r), detector.StreamOptions{
		MaxLineBytes: opts.MaxLineBytes,
		CheckEvery:   opts.CheckEvery,
	}, func(match models.Match) {
		matches = append(matches, match)
	})
	if err != nil {
		return matches, fmt.Errorf("classify stdin: %w", err)
	}
	return matches, nil
}

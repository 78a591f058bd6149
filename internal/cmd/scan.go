package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/config"
	"github.com/harrison/logscan/internal/filelock"
	"github.com/harrison/logscan/internal/history"
	"github.com/harrison/logscan/internal/logger"
	"github.com/harrison/logscan/internal/metrics"
	"github.com/harrison/logscan/internal/models"
	"github.com/harrison/logscan/internal/report"
	"github.com/harrison/logscan/internal/scanner"
	"github.com/harrison/logscan/internal/snapshot"
)

// NewScanCommand creates the scan command
func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <directory>",
		Short: "Scan a folder of log files for anomalies",
		Long: `Scan every log file under a directory in parallel and classify each line
against the effective pattern set.

Files are discovered recursively by extension (.log, .txt and .out by default,
case-insensitive). Unreadable files are reported and skipped. Press Ctrl-C to
stop the scan; matches found so far are kept and reported.

Examples:
  logscan scan /var/log/devices
  logscan scan --workers 4 --format markdown --output report.md ./logs
  logscan scan --no-history --no-snapshot --format json ./logs`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().Int("workers", 0, "Maximum concurrent files (0 = use config)")
	cmd.Flags().String("log-dir", "", "Directory for run logs")
	cmd.Flags().Bool("no-snapshot", false, "Do not write the JSON snapshot")
	cmd.Flags().Bool("no-history", false, "Do not record the scan in the history database")
	cmd.Flags().String("format", "text", "Report format: text, markdown, html or json")
	cmd.Flags().String("output", "", "Write the report to a file instead of stdout")
	cmd.Flags().String("metrics-textfile", "", "Write Prometheus metrics to a node_exporter textfile")
	cmd.Flags().Int("limit", 0, "Maximum anomaly rows in the report (0 = all)")
	cmd.Flags().Bool("verbose", false, "Show per-file results")

	return cmd
}

// scanOverrides collects the flags the user actually set.
func scanOverrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	flags := cmd.Flags()
	if flags.Changed("workers") {
		v, _ := flags.GetInt("workers")
		o.MaxWorkers = &v
	}
	if flags.Changed("log-dir") {
		v, _ := flags.GetString("log-dir")
		o.LogDir = &v
	}
	if flags.Changed("no-snapshot") {
		v, _ := flags.GetBool("no-snapshot")
		enabled := !v
		o.Snapshot = &enabled
	}
	if flags.Changed("no-history") {
		v, _ := flags.GetBool("no-history")
		enabled := !v
		o.History = &enabled
	}
	if flags.Changed("metrics-textfile") {
		v, _ := flags.GetString("metrics-textfile")
		o.Textfile = &v
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		level := "debug"
		o.LogLevel = &level
	}
	return o
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.MergeWithFlags(scanOverrides(cmd))
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	formatName, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	outputPath, _ := cmd.Flags().GetString("output")
	limit, _ := cmd.Flags().GetInt("limit")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log, closeLog := newLoggers(cmd.ErrOrStderr(), cfg)
	defer closeLog()

	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	result, err := executeScan(ctx, cfg, root, log)
	if err != nil {
		return err
	}

	opts := report.Options{Width: report.TerminalWidth(os.Stdout), Limit: limit}
	if err := writeReport(cmd.OutOrStdout(), outputPath, result, format, opts); err != nil {
		return err
	}
	if result.Fatal != nil {
		return result.Fatal
	}
	return nil
}

// executeScan runs one scan job to completion. Cancelling ctx aborts the job;
// the partial result is still returned.
func executeScan(ctx context.Context, cfg *config.Config, root string, log logger.ScanLogger) (*models.ScanResult, error) {
	d, err := newDetector(cfg, log)
	if err != nil {
		return nil, err
	}
	log.LogInfo(d.Status())

	options := []scanner.SchedulerOption{scanner.WithLogger(log)}
	if cfg.Snapshot.Enabled {
		options = append(options, scanner.WithSnapshotter(snapshot.NewWriter(cfg.Snapshot.Dir)))
	}
	if cfg.History.Enabled {
		store, err := history.NewStore(cfg.History.DBPath)
		if err != nil {
			log.LogWarn(fmt.Sprintf("Scan history disabled: %v", err))
		} else {
			defer store.Close()
			options = append(options, scanner.WithRecorders(store))
		}
	}
	if cfg.Metrics.Textfile != "" {
		options = append(options, scanner.WithRecorders(metrics.NewRecorder(cfg.Metrics.Textfile)))
	}

	sched := scanner.NewScheduler(d, schedulerOptions(cfg), options...)
	job, err := sched.StartScan(ctx, root, nil)
	if err != nil {
		return nil, err
	}
	// the job observes ctx itself, so wait without it
	return job.Wait(context.Background())
}

func writeReport(stdout io.Writer, outputPath string, result *models.ScanResult, format report.Format, opts report.Options) error {
	if outputPath == "" {
		return report.Write(stdout, result, format, opts)
	}
	if format == report.FormatText {
		opts.Width = report.DefaultWidth
	}
	if err := filelock.AtomicWriteFunc(outputPath, func(w io.Writer) error {
		return report.Write(w, result, format, opts)
	}); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(stdout, "%s\nReport written to %s\n", result.StatusMessage(), outputPath)
	return nil
}

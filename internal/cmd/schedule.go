package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/config"
	"github.com/harrison/logscan/internal/history"
	"github.com/harrison/logscan/internal/logger"
	"github.com/harrison/logscan/internal/metrics"
	"github.com/harrison/logscan/internal/scanner"
	"github.com/harrison/logscan/internal/snapshot"
)

// NewScheduleCommand creates the schedule command
func NewScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule --cron <expr> <directory>",
		Short: "Scan a directory periodically",
		Long: `Run a folder scan on a cron schedule until interrupted. The expression
takes six fields with seconds first, or a descriptor such as @hourly or
"@every 15m". A tick that arrives while the previous scan is still running
is skipped.

Examples:
  logscan schedule --cron "0 */5 * * * *" /var/log/devices
  logscan schedule --cron "@every 1h" ./logs`,
		Args: cobra.ExactArgs(1),
		RunE: runSchedule,
	}
	cmd.Flags().String("cron", "", "Cron expression with seconds (required)")
	cmd.Flags().String("metrics-textfile", "", "Write Prometheus metrics to a node_exporter textfile")
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("metrics-textfile") {
		v, _ := cmd.Flags().GetString("metrics-textfile")
		cfg.MergeWithFlags(config.Overrides{Textfile: &v})
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	root, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	spec, _ := cmd.Flags().GetString("cron")

	log, closeLog := newLoggers(cmd.ErrOrStderr(), cfg)
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPeriodicScanner(cfg, root, log)
	if err != nil {
		return err
	}
	defer p.Close()
	return p.Run(ctx, spec)
}

// periodicScanner owns one detector and scheduler shared by every tick, so
// metrics counters accumulate across scans.
type periodicScanner struct {
	root  string
	log   logger.ScanLogger
	sched *scanner.Scheduler
	store *history.Store
	ran   chan struct{}
}

func newPeriodicScanner(cfg *config.Config, root string, log logger.ScanLogger) (*periodicScanner, error) {
	d, err := newDetector(cfg, log)
	if err != nil {
		return nil, err
	}
	p := &periodicScanner{root: root, log: log, ran: make(chan struct{}, 1)}

	options := []scanner.SchedulerOption{scanner.WithLogger(log)}
	if cfg.Snapshot.Enabled {
		options = append(options, scanner.WithSnapshotter(snapshot.NewWriter(cfg.Snapshot.Dir)))
	}
	if cfg.History.Enabled {
		p.store, err = history.NewStore(cfg.History.DBPath)
		if err != nil {
			return nil, err
		}
		options = append(options, scanner.WithRecorders(p.store))
	}
	if cfg.Metrics.Textfile != "" {
		options = append(options, scanner.WithRecorders(metrics.NewRecorder(cfg.Metrics.Textfile)))
	}
	p.sched = scanner.NewScheduler(d, schedulerOptions(cfg), options...)
	return p, nil
}

// Close releases the history store.
func (p *periodicScanner) Close() error {
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// Run fires scans on spec until ctx is done, then aborts a running scan and
// waits for it to finish.
func (p *periodicScanner) Run(ctx context.Context, spec string) error {
	clog := cronLogger{p.log}
	c := cron.New(cron.WithSeconds(), cron.WithLogger(clog), cron.WithChain(cron.Recover(clog)))
	if _, err := c.AddFunc(spec, func() { p.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	p.log.LogInfo(fmt.Sprintf("Scheduled scans of %s (%s)", p.root, spec))
	c.Start()

	<-ctx.Done()
	_ = p.sched.RequestAbort()
	<-c.Stop().Done()
	return nil
}

func (p *periodicScanner) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	job, err := p.sched.StartScan(ctx, p.root, nil)
	if errors.Is(err, scanner.ErrScanInProgress) {
		p.log.LogWarn("Previous scan still running, skipping this tick")
		return
	}
	if err != nil {
		p.log.LogError(fmt.Sprintf("Scheduled scan failed to start: %v", err))
		return
	}
	_, _ = job.Wait(context.Background())
	select {
	case p.ran <- struct{}{}:
	default:
	}
}

// cronLogger routes cron's own messages into the scan logger.
type cronLogger struct {
	log logger.ScanLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.LogDebug(fmt.Sprintf("cron: %s %v", msg, keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.LogError(fmt.Sprintf("cron: %s: %v %v", msg, err, keysAndValues))
}

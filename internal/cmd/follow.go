package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/follow"
	"github.com/harrison/logscan/internal/logger"
	"github.com/harrison/logscan/internal/models"
)

// NewFollowCommand creates the follow command
func NewFollowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "follow <file>",
		Short: "Classify lines as they are appended to a log file",
		Long: `Follow a growing log file and print every anomalous line as it is written.
Rotation (rename or re-create) and truncation are handled by reading the new
file from the start. Press Ctrl-C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: runFollow,
	}
	cmd.Flags().Bool("from-start", false, "Classify the existing content before following")
	cmd.Flags().Bool("poll", false, "Poll for changes instead of using filesystem events")
	cmd.Flags().Duration("poll-interval", follow.DefaultPollInterval, "Polling period")
	return cmd
}

func runFollow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)
	d, err := newDetector(cfg, log)
	if err != nil {
		return err
	}

	fromStart, _ := cmd.Flags().GetBool("from-start")
	poll, _ := cmd.Flags().GetBool("poll")
	interval, _ := cmd.Flags().GetDuration("poll-interval")
	f, err := follow.New(args[0], d, follow.Options{
		FromStart:    fromStart,
		ForcePoll:    poll,
		PollInterval: interval,
		MaxLineBytes: cfg.Scanner.MaxLineBytes,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.LogInfo(fmt.Sprintf("Following %s (%s)", f.Path(), d.Status()))
	out := cmd.OutOrStdout()
	return f.Run(ctx, func(m models.Match) {
		fmt.Fprintln(out, formatFollowMatch(m))
	})
}

func formatFollowMatch(m models.Match) string {
	return fmt.Sprintf("[%s] %s %s:%d %s", m.DetectedAt.Format("15:04:05"), m.Category, m.Device, m.LineNumber, m.Line)
}

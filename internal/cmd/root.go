package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for logscan
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logscan",
		Short: "Log anomaly classification engine",
		Long: `Logscan classifies log lines against a set of regular-expression
signatures and scans folders of device logs in parallel.

Every line is matched against the effective pattern set (built-in defaults
plus custom patterns); the first pattern in registration order wins. Folder
scans report per-category counts, persist a JSON snapshot, and record the
result in a local history database.

Configuration is loaded from .logscan/config.yaml if present.
CLI flags override configuration file settings.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .logscan/config.yaml)")
	cmd.PersistentFlags().String("patterns", "", "Custom pattern file (yaml, toml or json)")

	cmd.AddCommand(NewScanCommand())
	cmd.AddCommand(NewClassifyCommand())
	cmd.AddCommand(NewPatternsCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewFollowCommand())
	cmd.AddCommand(NewScheduleCommand())

	return cmd
}

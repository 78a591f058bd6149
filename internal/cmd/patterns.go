package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/config"
	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/patternfile"
	"github.com/harrison/logscan/internal/report"
)

// NewPatternsCommand creates the patterns command group
func NewPatternsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List and edit anomaly patterns",
		Long: `Manage the pattern set. Built-in defaults are fixed; custom patterns are
persisted in the pattern file (patterns.file in the config, or --patterns).
A custom pattern with the same expression as a default overrides its category.`,
	}

	cmd.AddCommand(newPatternsListCommand())
	cmd.AddCommand(newPatternsAddCommand())
	cmd.AddCommand(newPatternsEditCommand())
	cmd.AddCommand(newPatternsRemoveCommand())
	cmd.AddCommand(newPatternsValidateCommand())
	cmd.AddCommand(newPatternsExportCommand())
	cmd.AddCommand(newPatternsImportCommand())
	cmd.AddCommand(newPatternsResetCommand())

	return cmd
}

func newPatternsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the effective pattern set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			d, err := newDetector(cfg, nil)
			if err != nil {
				return err
			}

			source, _ := cmd.Flags().GetString("source")
			set := d.Set()
			var patterns []detector.Pattern
			switch source {
			case "all":
				patterns = d.Effective()
			case "default":
				patterns = d.Defaults()
			case "custom":
				patterns = d.Customs()
			default:
				return fmt.Errorf("unknown source %q (want all, default or custom)", source)
			}

			table := report.NewTable("EXPRESSION", "CATEGORY", "SOURCE")
			for _, p := range patterns {
				origin := detector.SubsetDefault.String()
				if _, ok := set.Lookup(p.Expression, detector.SubsetCustom); ok {
					origin = detector.SubsetCustom.String()
				}
				table.AddRow(p.Expression, p.Category, origin)
			}
			out := cmd.OutOrStdout()
			if err := table.Render(out, report.TerminalWidth(os.Stdout)); err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s\n", d.Status())
			return nil
		},
	}
	cmd.Flags().String("source", "all", "Which patterns to list: all, default or custom")
	return cmd
}

func newPatternsAddCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <expression> <category> | add --from <expression>",
		Short: "Add or update a custom pattern",
		Long: `Add a custom pattern, or update the category of an existing one. The
expression must compile. With --from, an effective pattern (default or custom)
is copied into the custom set unchanged.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if from, _ := cmd.Flags().GetString("from"); from != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetString("from")
			msg, err := mutateCustoms(cfg, func(d *detector.Detector) (string, error) {
				if from != "" {
					return d.Copy(from)
				}
				return d.AddOrUpdate(args[0], args[1], detector.SubsetCustom)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().String("from", "", "Copy an existing pattern into the custom set")
	return cmd
}

func newPatternsEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <old-expression> <new-expression> <category>",
		Short: "Rename a custom pattern and set its category",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			msg, err := mutateCustoms(cfg, func(d *detector.Detector) (string, error) {
				if _, ok := d.Set().Lookup(args[0], detector.SubsetCustom); !ok {
					return "", fmt.Errorf("no custom pattern %q", args[0])
				}
				return d.Edit(args[0], args[1], args[2], detector.SubsetCustom)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newPatternsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <expression>",
		Short: "Remove a custom pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			msg, err := mutateCustoms(cfg, func(d *detector.Detector) (string, error) {
				return d.Remove(args[0], detector.SubsetCustom), nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newPatternsValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check that patterns compile",
		Long: `Check every pattern in a pattern file, or the effective set when no file
is given. Exits non-zero when any expression is rejected or the file is
malformed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			var patterns []detector.Pattern
			if len(args) == 1 {
				patterns, err = patternfile.Load(args[0])
			} else {
				var d *detector.Detector
				d, err = newDetector(cfg, nil)
				if err == nil {
					patterns = d.Effective()
				}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			opts := compileOptions(cfg)
			invalid := 0
			for _, p := range patterns {
				if err := detector.ValidateExpression(p.Expression, opts); err != nil {
					invalid++
					fmt.Fprintf(out, "  %s: %v\n", p.Category, err)
				}
			}
			fmt.Fprintf(out, "%d of %d patterns valid\n", len(patterns)-invalid, len(patterns))
			if invalid > 0 {
				return fmt.Errorf("%d invalid patterns", invalid)
			}
			return nil
		},
	}
}

func newPatternsExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export patterns sorted by expression",
		Long: `Export the effective pattern set, or only the custom patterns with
--custom, sorted by expression. The format follows the file extension
(.yaml, .yml, .toml or .json).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			d, err := newDetector(cfg, nil)
			if err != nil {
				return err
			}
			customOnly, _ := cmd.Flags().GetBool("custom")
			msg, err := patternfile.Export(args[0], d, customOnly)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().Bool("custom", false, "Export only custom patterns")
	return cmd
}

func newPatternsImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the custom patterns with a pattern file",
		Long: `Replace every custom pattern with the contents of a pattern file. A
malformed file is rejected as a whole and the current customs are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			imported, err := patternfile.Load(args[0])
			if err != nil {
				return err
			}
			msg, err := mutateCustoms(cfg, func(d *detector.Detector) (string, error) {
				return d.LoadCustoms(imported)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newPatternsResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Drop every custom pattern",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			msg, err := mutateCustoms(cfg, func(d *detector.Detector) (string, error) {
				return d.Reset(), nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

// mutateCustoms loads the persisted customs into a fresh detector, applies fn
// and writes the resulting custom set back, all under the pattern file lock.
func mutateCustoms(cfg *config.Config, fn func(d *detector.Detector) (string, error)) (string, error) {
	if cfg.Patterns.File == "" {
		return "", errors.New("no pattern file configured (set patterns.file or pass --patterns)")
	}
	return patternfile.Update(cfg.Patterns.File, func(customs []detector.Pattern) ([]detector.Pattern, string, error) {
		d := detector.New(detector.WithCompileOptions(compileOptions(cfg)))
		if _, err := d.LoadCustoms(customs); err != nil {
			return nil, "", err
		}
		msg, err := fn(d)
		if err != nil {
			return nil, "", err
		}
		return d.Customs(), msg, nil
	})
}

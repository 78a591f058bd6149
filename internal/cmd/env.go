package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/harrison/logscan/internal/config"
	"github.com/harrison/logscan/internal/detector"
	"github.com/harrison/logscan/internal/logger"
	"github.com/harrison/logscan/internal/patternfile"
	"github.com/harrison/logscan/internal/scanner"
)

// loadConfig reads --config, $LOGSCAN_HOME/config.yaml or
// .logscan/config.yaml, in that order, and applies the persistent --patterns
// override.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else if os.Getenv("LOGSCAN_HOME") != "" {
		home, err := config.GetLogscanHome()
		if err != nil {
			return nil, err
		}
		cfg, err = config.LoadConfig(filepath.Join(home, "config.yaml"))
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	if cmd.Flags().Changed("patterns") {
		patterns, _ := cmd.Flags().GetString("patterns")
		cfg.MergeWithFlags(config.Overrides{PatternsFile: &patterns})
	}
	return cfg, nil
}

func compileOptions(cfg *config.Config) detector.CompileOptions {
	opts := detector.DefaultCompileOptions()
	opts.ExtendedSyntax = cfg.Patterns.ExtendedSyntax
	if cfg.Patterns.MatchTimeout > 0 {
		opts.MatchTimeout = cfg.Patterns.MatchTimeout
	}
	return opts
}

// newDetector builds the engine from the built-in defaults and the persisted
// custom pattern file. A missing pattern file means no customs.
func newDetector(cfg *config.Config, log detector.Logger) (*detector.Detector, error) {
	opts := []detector.Option{detector.WithCompileOptions(compileOptions(cfg))}
	if log != nil {
		opts = append(opts, detector.WithLogger(log))
	}
	d := detector.New(opts...)
	if cfg.Patterns.File == "" {
		return d, nil
	}
	customs, err := patternfile.LoadOptional(cfg.Patterns.File)
	if err != nil {
		return nil, err
	}
	if len(customs) > 0 {
		if _, err := d.LoadCustoms(customs); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func schedulerOptions(cfg *config.Config) scanner.Options {
	return scanner.Options{
		Extensions:       cfg.NormalizedExtensions(),
		ExcludeDirs:      cfg.Scanner.ExcludeDirs,
		MaxWorkers:       cfg.Scanner.MaxWorkers,
		WorkerMultiplier: cfg.Scanner.WorkerMultiplier,
		WaitTimeout:      cfg.Scanner.WaitTimeout,
		StallLimit:       cfg.Scanner.StallLimit,
		File: scanner.FileOptions{
			MaxLineBytes:  cfg.Scanner.MaxLineBytes,
			CheckEvery:    cfg.Scanner.CancelCheckLines,
			SlowThreshold: cfg.Scanner.SlowFileThreshold,
		},
	}
}

// newLoggers creates the console logger and, when the log dir is usable, a
// run-log file logger. The returned close function is always safe to call.
func newLoggers(w io.Writer, cfg *config.Config) (logger.ScanLogger, func()) {
	console := logger.NewConsoleLogger(w, cfg.LogLevel)
	if cfg.LogDir == "" {
		return console, func() {}
	}
	fileLog, err := logger.NewFileLoggerWithDirAndLevel(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		console.LogWarn(fmt.Sprintf("Run log disabled: %v", err))
		return console, func() {}
	}
	return logger.NewMultiLogger(console, fileLog), func() { fileLog.Close() }
}

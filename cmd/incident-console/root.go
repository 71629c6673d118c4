package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/incident-console/internal/config"
	"github.com/miradorstack/incident-console/internal/notify"
	"github.com/miradorstack/incident-console/internal/utils"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

var rootCmd = &cobra.Command{
	Use:           "incident-console",
	Short:         "Operator console for log analysis, scan jobs and live incident telemetry.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $INCIDENT_CONSOLE_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON logs")
	rootCmd.AddCommand(serveCmd, analyzeCmd, jobsCmd, scanCmd, watchCmd, analyticsCmd)
}

// loadConfig reads configuration and builds a logger for cmd. Interactive
// commands log to stderr so stdout carries only results.
func loadConfig(cmd *cobra.Command, logTo io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger := utils.NewLoggerTo(logTo, level, cfg.Logging.JSON || jsonLogs).
		With(slog.String("command", cmd.Name()))
	return cfg, logger, nil
}

// stderrNotifier prints notifications for an operator at a terminal.
func stderrNotifier(w io.Writer) notify.Notifier {
	if w == nil {
		w = os.Stderr
	}
	return notify.Func(func(level notify.Level, message string) {
		fmt.Fprintf(w, "[%s] %s\n", level, message)
	})
}

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/incident-console/internal/engine"
	"github.com/miradorstack/incident-console/internal/models"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [file]",
	Short: "Run the four-stage analysis pipeline over log lines from a file or stdin.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd, args)
	},
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	lines, err := readLines(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	comps, err := buildComponents(cmd.Context(), cfg, logger, stderrNotifier(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer comps.Close()

	run, runErr := comps.pipeline.Run(cmd.Context(), lines)
	if run.ID == "" {
		return runErr
	}
	if err := printJSON(cmd.OutOrStdout(), run); err != nil {
		return err
	}
	fmt.Fprintln(cmd.ErrOrStderr(), runSummary(run))
	var stageErr *engine.StageError
	if errors.As(runErr, &stageErr) {
		return &exitError{code: 2, err: runErr, silent: true}
	}
	return runErr
}

// readLines reads log lines from the file named in args, or from in.
func readLines(in io.Reader, args []string) ([]string, error) {
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}

	var lines []string
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func runSummary(run models.PipelineRun) string {
	switch run.CurrentStage {
	case models.RunAllDone:
		return fmt.Sprintf("run %s complete (query %q)", run.ID, run.SearchQuery)
	case models.RunFailed:
		if run.FailedStage != nil {
			return fmt.Sprintf("run %s failed at %s: %s", run.ID, engine.StageLabel(*run.FailedStage), run.Error)
		}
		return fmt.Sprintf("run %s failed: %s", run.ID, run.Error)
	default:
		return fmt.Sprintf("run %s %s", run.ID, run.CurrentStage)
	}
}

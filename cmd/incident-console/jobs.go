package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/miradorstack/incident-console/internal/jobs"
	"github.com/miradorstack/incident-console/internal/models"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage scheduled log-scan jobs.",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsList(cmd)
	},
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a scheduled job.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsSave(cmd, "")
	},
}

var jobsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a scheduled job. Only the flags given are changed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsSave(cmd, args[0])
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a scheduled job.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsDelete(cmd, args[0])
	},
}

type jobFlags struct {
	name      string
	cluster   string
	namespace string
	pods      []string
	levels    []string
	interval  int
}

var (
	jobsJSON bool
	jobOpts  jobFlags
)

func init() {
	jobsListCmd.Flags().BoolVar(&jobsJSON, "json", false, "Print jobs as JSON")
	for _, c := range []*cobra.Command{jobsCreateCmd, jobsEditCmd} {
		c.Flags().StringVar(&jobOpts.name, "name", "", "Job name")
		c.Flags().StringVar(&jobOpts.cluster, "cluster", "", "Cluster to scan")
		c.Flags().StringVar(&jobOpts.namespace, "namespace", "", "Namespace to scan")
		c.Flags().StringSliceVar(&jobOpts.pods, "pod", nil, "Pod to include (repeatable; default all pods)")
		c.Flags().StringSliceVar(&jobOpts.levels, "level", nil, "Log level to match (repeatable)")
		c.Flags().IntVar(&jobOpts.interval, "interval-minutes", jobs.DefaultIntervalMinutes, "Run interval in minutes")
	}
	jobsCmd.AddCommand(jobsListCmd, jobsCreateCmd, jobsEditCmd, jobsDeleteCmd)
}

func runJobsList(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	comps, err := buildComponents(cmd.Context(), cfg, logger, stderrNotifier(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer comps.Close()

	if _, err := comps.registry.List(cmd.Context()); err != nil {
		return err
	}
	if jobsJSON {
		return printJSON(cmd.OutOrStdout(), comps.registry.Jobs())
	}
	return writeJobRows(cmd.OutOrStdout(), comps.registry.Rows())
}

func writeJobRows(w io.Writer, rows []jobs.JobRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCLUSTER\tNAMESPACE\tPODS\tLEVELS\tINTERVAL\tLAST RUN")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Cluster, r.Namespace, r.Pods, r.LogLevels, r.Interval, r.LastRun)
	}
	return tw.Flush()
}

func runJobsSave(cmd *cobra.Command, id string) error {
	cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	comps, err := buildComponents(cmd.Context(), cfg, logger, stderrNotifier(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer comps.Close()

	ctx := cmd.Context()
	var editor *jobs.Editor
	if id == "" {
		editor = comps.registry.BeginCreate()
	} else {
		if editor, err = comps.registry.BeginEdit(ctx, id); err != nil {
			return err
		}
	}
	applyJobFlags(cmd, editor)

	job, err := editor.Submit(ctx)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), jobs.Present(job))
}

// applyJobFlags walks the cascade for changed cluster/namespace flags before
// applying the scalar fields, the same order an interactive editor follows.
func applyJobFlags(cmd *cobra.Command, e *jobs.Editor) {
	ctx := cmd.Context()
	flags := cmd.Flags()
	if flags.Changed("cluster") {
		e.SelectCluster(ctx, jobOpts.cluster)
	}
	if flags.Changed("namespace") {
		e.SelectNamespace(ctx, jobOpts.namespace)
	}
	if flags.Changed("pod") {
		e.SetPods(jobOpts.pods)
	}
	if flags.Changed("name") {
		e.SetName(jobOpts.name)
	}
	if flags.Changed("interval-minutes") {
		e.SetIntervalMinutes(jobOpts.interval)
	}
	if flags.Changed("level") {
		e.SetLogLevels(parseLevels(jobOpts.levels))
	}
}

func parseLevels(values []string) []models.LogLevel {
	levels := make([]models.LogLevel, 0, len(values))
	for _, v := range values {
		if v = strings.ToUpper(strings.TrimSpace(v)); v != "" {
			levels = append(levels, models.LogLevel(v))
		}
	}
	return levels
}

func runJobsDelete(cmd *cobra.Command, id string) error {
	cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	comps, err := buildComponents(cmd.Context(), cfg, logger, stderrNotifier(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer comps.Close()

	return comps.registry.Delete(cmd.Context(), id)
}

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run an on-demand log scan and print the analysed lines.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd)
	},
}

var scanOpts struct {
	jobID      string
	cluster    string
	namespaces []string
	labels     []string
	patterns   []string
	levels     []string
	minutes    int
	maxLines   int
	json       bool
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanOpts.jobID, "job", "", "Seed the request from a scheduled job")
	f.StringVar(&scanOpts.cluster, "cluster", "", "Cluster to scan")
	f.StringSliceVar(&scanOpts.namespaces, "namespace", nil, "Namespace to scan (repeatable)")
	f.StringSliceVar(&scanOpts.labels, "label", nil, "Pod label selector as key=value (repeatable)")
	f.StringSliceVar(&scanOpts.patterns, "pattern", nil, "Search pattern (repeatable)")
	f.StringSliceVar(&scanOpts.levels, "level", nil, "Log level to match (repeatable)")
	f.IntVar(&scanOpts.minutes, "minutes", 0, "Time range in minutes")
	f.IntVar(&scanOpts.maxLines, "max-lines", 0, "Maximum lines per pod")
	f.BoolVar(&scanOpts.json, "json", false, "Print the normalised result as JSON")
}

func runScan(cmd *cobra.Command) error {
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
	req := scan.NewRequest(scanOpts.cluster, comps.scanDefs)
	if scanOpts.jobID != "" {
		job, err := comps.registry.Find(ctx, scanOpts.jobID)
		if err != nil {
			return err
		}
		req = scan.FromJob(job, comps.scanDefs)
	}
	if err := applyScanFlags(cmd, &req); err != nil {
		return err
	}

	result, err := comps.scanner.Execute(ctx, req)
	if err != nil {
		return err
	}
	if scanOpts.json {
		return printJSON(cmd.OutOrStdout(), result)
	}
	return scan.Render(cmd.OutOrStdout(), result)
}

func applyScanFlags(cmd *cobra.Command, req *models.ScanRequest) error {
	flags := cmd.Flags()
	if flags.Changed("cluster") {
		req.Cluster = scanOpts.cluster
	}
	if flags.Changed("namespace") {
		scan.SetNamespaces(req, scanOpts.namespaces)
	}
	for _, label := range scanOpts.labels {
		key, value, ok := strings.Cut(label, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return fmt.Errorf("invalid --label %q, want key=value", label)
		}
		scan.SetPodLabel(req, strings.TrimSpace(key), strings.TrimSpace(value))
	}
	for _, p := range scanOpts.patterns {
		scan.AddSearchPattern(req, p)
	}
	if flags.Changed("level") {
		req.LogLevels = parseLevels(scanOpts.levels)
	}
	if flags.Changed("minutes") {
		req.TimeRangeMinutes = scanOpts.minutes
	}
	if flags.Changed("max-lines") {
		req.MaxLinesPerPod = scanOpts.maxLines
	}
	return nil
}

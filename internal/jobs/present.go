package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/incident-console/internal/models"
)

// NeverRunLabel is shown for jobs the store has never executed.
const NeverRunLabel = "never run"

// JobRow is the display form of a job.
type JobRow struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Cluster   string `json:"cluster"`
	Namespace string `json:"namespace"`
	Pods      string `json:"pods"`
	LogLevels string `json:"logLevels"`
	Interval  string `json:"interval"`
	LastRun   string `json:"lastRun"`
}

// Present renders job for display.
func Present(job models.ScheduledJob) JobRow {
	row := JobRow{
		ID:        job.ID,
		Name:      job.Name,
		Cluster:   job.Cluster,
		Namespace: job.Namespace,
		Pods:      "all pods",
		Interval:  formatInterval(job.IntervalSeconds),
		LastRun:   NeverRunLabel,
	}
	if row.Name == "" {
		row.Name = job.Namespace
	}
	if len(job.PodFilter) > 0 {
		row.Pods = strings.Join(job.PodFilter, ", ")
	}
	levels := make([]string, 0, len(job.LogLevels))
	for _, l := range job.LogLevels {
		levels = append(levels, string(l))
	}
	row.LogLevels = strings.Join(levels, ", ")
	if job.LastRunAt != nil {
		row.LastRun = job.LastRunAt.UTC().Format(time.RFC3339)
	}
	return row
}

func formatInterval(seconds int) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds) * time.Second
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("every %dh", int(d.Hours()))
	case d%time.Minute == 0:
		return fmt.Sprintf("every %dm", int(d.Minutes()))
	default:
		return "every " + d.String()
	}
}

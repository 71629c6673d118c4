// Package scan issues on-demand batch scans and renders their per-line analysis.
package scan

import (
	"slices"
	"strings"

	"github.com/miradorstack/incident-console/internal/config"
	"github.com/miradorstack/incident-console/internal/models"
)

// Defaults seed new scan requests.
type Defaults struct {
	TimeRangeMinutes int
	MaxLinesPerPod   int
	LogLevels        []models.LogLevel
}

// DefaultsFromConfig converts the scan section of the configuration.
func DefaultsFromConfig(cfg config.ScanConfig) Defaults {
	d := Defaults{
		TimeRangeMinutes: cfg.TimeRangeMinutes,
		MaxLinesPerPod:   cfg.MaxLinesPerPod,
	}
	for _, l := range cfg.LogLevels {
		d.LogLevels = append(d.LogLevels, models.LogLevel(strings.ToUpper(strings.TrimSpace(l))))
	}
	return d
}

// NewRequest returns a request for cluster seeded with defaults.
func NewRequest(cluster string, d Defaults) models.ScanRequest {
	req := models.ScanRequest{
		Cluster:          cluster,
		TimeRangeMinutes: d.TimeRangeMinutes,
		MaxLinesPerPod:   d.MaxLinesPerPod,
		LogLevels:        slices.Clone(d.LogLevels),
	}
	if req.TimeRangeMinutes <= 0 {
		req.TimeRangeMinutes = 60
	}
	if req.MaxLinesPerPod <= 0 {
		req.MaxLinesPerPod = 1000
	}
	if len(req.LogLevels) == 0 {
		req.LogLevels = slices.Clone(models.DefaultLogLevels)
	}
	return req
}

// FromJob seeds a scan from a scheduled job's cluster, namespace and levels.
func FromJob(job models.ScheduledJob, d Defaults) models.ScanRequest {
	req := NewRequest(job.Cluster, d)
	if job.Namespace != "" {
		req.Namespaces = []string{job.Namespace}
	}
	if len(job.LogLevels) > 0 {
		req.LogLevels = slices.Clone(job.LogLevels)
	}
	return req
}

// AddSearchPattern appends pattern unless it is blank or already present.
func AddSearchPattern(req *models.ScanRequest, pattern string) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || slices.Contains(req.SearchPatterns, pattern) {
		return
	}
	req.SearchPatterns = append(req.SearchPatterns, pattern)
}

// RemoveSearchPattern drops pattern if present.
func RemoveSearchPattern(req *models.ScanRequest, pattern string) {
	req.SearchPatterns = slices.DeleteFunc(req.SearchPatterns, func(p string) bool { return p == pattern })
}

// SetPodLabel sets a label selector entry. A blank key is ignored.
func SetPodLabel(req *models.ScanRequest, key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if req.PodLabels == nil {
		req.PodLabels = make(map[string]string)
	}
	req.PodLabels[key] = strings.TrimSpace(value)
}

// RemovePodLabel deletes a label selector entry.
func RemovePodLabel(req *models.ScanRequest, key string) {
	delete(req.PodLabels, key)
	if len(req.PodLabels) == 0 {
		req.PodLabels = nil
	}
}

// ToggleLogLevel adds level when absent and removes it otherwise.
func ToggleLogLevel(req *models.ScanRequest, level models.LogLevel) {
	if i := slices.Index(req.LogLevels, level); i >= 0 {
		req.LogLevels = slices.Delete(req.LogLevels, i, i+1)
		return
	}
	req.LogLevels = append(req.LogLevels, level)
}

// SetNamespaces replaces the namespaces, dropping blanks and duplicates.
func SetNamespaces(req *models.ScanRequest, namespaces []string) {
	out := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		ns = strings.TrimSpace(ns)
		if ns != "" && !slices.Contains(out, ns) {
			out = append(out, ns)
		}
	}
	req.Namespaces = out
}

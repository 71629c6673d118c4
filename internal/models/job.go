package models

import "time"

// LogLevel is one of the levels a scan job filters on.
type LogLevel string

const (
	LogLevelError    LogLevel = "ERROR"
	LogLevelWarn     LogLevel = "WARN"
	LogLevelCritical LogLevel = "CRITICAL"
	LogLevelInfo     LogLevel = "INFO"
	LogLevelDebug    LogLevel = "DEBUG"
)

// AllLogLevels lists every accepted level.
var AllLogLevels = []LogLevel{LogLevelError, LogLevelWarn, LogLevelCritical, LogLevelInfo, LogLevelDebug}

// DefaultLogLevels seeds new drafts and scans.
var DefaultLogLevels = []LogLevel{LogLevelError, LogLevelWarn, LogLevelCritical}

// ScheduledJob is a recurring scan definition as held by the job store.
// An empty PodFilter selects every pod in the namespace.
type ScheduledJob struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Cluster         string     `json:"cluster"`
	Namespace       string     `json:"namespace"`
	PodFilter       []string   `json:"podFilter"`
	LogLevels       []LogLevel `json:"logLevels"`
	IntervalSeconds int        `json:"intervalSeconds"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastRunAt       *time.Time `json:"lastRunAt"`
}

// NeverRun reports whether the store has no record of a run.
func (j ScheduledJob) NeverRun() bool {
	return j.LastRunAt == nil
}

// JobSpec is the writable part of a job, in stored units.
type JobSpec struct {
	Name            string
	Cluster         string
	Namespace       string
	PodFilter       []string
	LogLevels       []LogLevel
	IntervalSeconds int
}

// Cluster is a selectable cluster returned by the lookup service.
type Cluster struct {
	Name    string `json:"name"`
	Context string `json:"context,omitempty"`
}

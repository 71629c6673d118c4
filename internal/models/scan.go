package models

import "encoding/json"

// ScanRequest is an on-demand batch scan over one cluster.
type ScanRequest struct {
	Cluster          string            `json:"cluster" validate:"required"`
	Namespaces       []string          `json:"namespaces" validate:"min=1,dive,required"`
	PodLabels        map[string]string `json:"podLabels,omitempty"`
	TimeRangeMinutes int               `json:"timeRangeMinutes" validate:"gte=1"`
	LogLevels        []LogLevel        `json:"logLevels" validate:"min=1,dive,oneof=ERROR WARN CRITICAL INFO DEBUG"`
	SearchPatterns   []string          `json:"searchPatterns,omitempty"`
	MaxLinesPerPod   int               `json:"maxLinesPerPod" validate:"gte=1"`
}

// ScanEntry is one log line with the analysis attached to it.
type ScanEntry struct {
	Log             string          `json:"log"`
	Analysis        json.RawMessage `json:"analysis,omitempty"`
	RootCause       json.RawMessage `json:"rootCause,omitempty"`
	Knowledge       json.RawMessage `json:"knowledge,omitempty"`
	Recommendations json.RawMessage `json:"recommendations,omitempty"`
}

// ScanResult is a normalised scan response. Legacy is set when the collaborator
// answered with a single batch-level analysis shared by every line.
type ScanResult struct {
	Entries     []ScanEntry  `json:"entries"`
	PodsScanned int          `json:"podsScanned"`
	Errors      []string     `json:"errors,omitempty"`
	Patterns    []LogPattern `json:"patterns,omitempty"`
	Legacy      bool         `json:"legacy"`
}

// LogPattern is a recurring log signature with variable tokens masked.
type LogPattern struct {
	Signature  string  `json:"signature"`
	Count      int     `json:"count"`
	Prevalence float64 `json:"prevalence"`
	Example    string  `json:"example"`
}

package models

import (
	"encoding/json"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// CanonicalSeverities lists the severities with a fixed presentation order.
var CanonicalSeverities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// IncidentStatus tracks whether an incident has been resolved.
type IncidentStatus string

const (
	StatusOpen     IncidentStatus = "Open"
	StatusResolved IncidentStatus = "Resolved"
)

// Incident is one diagnosed event produced by a collaborator. The stage payloads
// are opaque and never interpreted beyond presence.
type Incident struct {
	ID                  string          `json:"id"`
	Timestamp           time.Time       `json:"timestamp"`
	CreatedAt           time.Time       `json:"createdAt"`
	SourceJobID         *string         `json:"sourceJobId"`
	LogLine             string          `json:"logLine"`
	Analysis            json.RawMessage `json:"analysis,omitempty"`
	RootCause           json.RawMessage `json:"rootCause,omitempty"`
	KnowledgeMatches    json.RawMessage `json:"knowledgeMatches,omitempty"`
	RecommendedActions  json.RawMessage `json:"recommendedActions,omitempty"`
	Severity            Severity        `json:"severity,omitempty"`
	Status              IncidentStatus  `json:"status"`
	Category            string          `json:"category,omitempty"`
	Service             string          `json:"service,omitempty"`
	ResolutionTimeHours *float64        `json:"resolutionTimeHours"`
}

// Resolved reports whether the incident is closed.
func (i Incident) Resolved() bool {
	return i.Status == StatusResolved
}

// ObservedAt is the instant used for day bucketing: CreatedAt when known, else Timestamp.
func (i Incident) ObservedAt() time.Time {
	if !i.CreatedAt.IsZero() {
		return i.CreatedAt
	}
	return i.Timestamp
}

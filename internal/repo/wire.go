package repo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/utils"
)

// Collaborators speak snake_case; the translation to and from the internal
// models lives here and nowhere else.

type jobWire struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Cluster   string   `json:"cluster"`
	Namespace string   `json:"namespace"`
	Pods      []string `json:"pods"`
	LogLevels []string `json:"log_levels"`
	Interval  int      `json:"interval"`
	CreatedAt string   `json:"created_at,omitempty"`
	LastRun   *string  `json:"last_run"`
}

type jobWriteWire struct {
	Name      string   `json:"name"`
	Cluster   string   `json:"cluster"`
	Namespace string   `json:"namespace"`
	Pods      []string `json:"pods"`
	LogLevels []string `json:"log_levels"`
	Interval  int      `json:"interval"`
}

type incidentWire struct {
	ID                  string          `json:"id"`
	Timestamp           string          `json:"timestamp"`
	CreatedAt           string          `json:"created_at,omitempty"`
	JobID               *string         `json:"job_id,omitempty"`
	LogLine             string          `json:"log_line"`
	Analysis            json.RawMessage `json:"analysis,omitempty"`
	RootCause           json.RawMessage `json:"root_cause,omitempty"`
	Knowledge           json.RawMessage `json:"knowledge,omitempty"`
	Action              json.RawMessage `json:"action,omitempty"`
	Recommendations     json.RawMessage `json:"recommendations,omitempty"`
	Severity            string          `json:"severity,omitempty"`
	Status              string          `json:"status,omitempty"`
	Category            string          `json:"category,omitempty"`
	Service             string          `json:"service,omitempty"`
	ResolutionTimeHours *float64        `json:"resolution_time_hours,omitempty"`
}

// UnmarshalJSON reads a row field by field. Ids and hours may arrive as
// numbers or strings; a field of any other shape decodes to its zero value
// rather than failing the row.
func (w *incidentWire) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*w = incidentWire{
		ID:                  looseString(fields["id"]),
		Timestamp:           looseString(fields["timestamp"]),
		CreatedAt:           looseString(fields["created_at"]),
		LogLine:             looseString(fields["log_line"]),
		Analysis:            fields["analysis"],
		RootCause:           fields["root_cause"],
		Knowledge:           fields["knowledge"],
		Action:              fields["action"],
		Recommendations:     fields["recommendations"],
		Severity:            looseString(fields["severity"]),
		Status:              looseString(fields["status"]),
		Category:            looseString(fields["category"]),
		Service:             looseString(fields["service"]),
		ResolutionTimeHours: looseFloat(fields["resolution_time_hours"]),
	}
	if id := looseString(fields["job_id"]); id != "" {
		w.JobID = &id
	}
	return nil
}

func looseString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func looseFloat(raw json.RawMessage) *float64 {
	if nullable(raw) == nil {
		return nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return nil
		}
		if v, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return nil
		}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

type scanRequestWire struct {
	Cluster          string            `json:"cluster"`
	Namespaces       []string          `json:"namespaces"`
	PodLabels        map[string]string `json:"pod_labels,omitempty"`
	TimeRangeMinutes int               `json:"time_range_minutes"`
	LogLevels        []string          `json:"log_levels"`
	SearchPatterns   []string          `json:"search_patterns,omitempty"`
	MaxLinesPerPod   int               `json:"max_lines_per_pod"`
}

func parseOptionalTime(value string) time.Time {
	t, err := utils.ParseTimestamp(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func jobFromWire(w jobWire) models.ScheduledJob {
	job := models.ScheduledJob{
		ID:              w.ID,
		Name:            w.Name,
		Cluster:         w.Cluster,
		Namespace:       w.Namespace,
		PodFilter:       append([]string(nil), w.Pods...),
		IntervalSeconds: w.Interval,
		CreatedAt:       parseOptionalTime(w.CreatedAt),
	}
	for _, level := range w.LogLevels {
		job.LogLevels = append(job.LogLevels, models.LogLevel(strings.ToUpper(strings.TrimSpace(level))))
	}
	// Stores report "never run" as null, an empty string or the zero time.
	if w.LastRun != nil {
		if t := parseOptionalTime(*w.LastRun); !t.IsZero() && t.Year() > 1 {
			job.LastRunAt = &t
		}
	}
	return job
}

func jobToWire(job models.ScheduledJob) jobWire {
	w := jobWire{
		ID:        job.ID,
		Name:      job.Name,
		Cluster:   job.Cluster,
		Namespace: job.Namespace,
		Pods:      nonNil(job.PodFilter),
		LogLevels: levelsToWire(job.LogLevels),
		Interval:  job.IntervalSeconds,
		CreatedAt: formatTime(job.CreatedAt),
	}
	if job.LastRunAt != nil {
		s := formatTime(*job.LastRunAt)
		w.LastRun = &s
	}
	return w
}

func specToWire(spec models.JobSpec) jobWriteWire {
	return jobWriteWire{
		Name:      spec.Name,
		Cluster:   spec.Cluster,
		Namespace: spec.Namespace,
		Pods:      nonNil(spec.PodFilter),
		LogLevels: levelsToWire(spec.LogLevels),
		Interval:  spec.IntervalSeconds,
	}
}

func levelsToWire(levels []models.LogLevel) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, string(l))
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string(nil), values...)
}

func incidentFromWire(w incidentWire) models.Incident {
	inc := models.Incident{
		ID:                 w.ID,
		Timestamp:          parseOptionalTime(w.Timestamp),
		CreatedAt:          parseOptionalTime(w.CreatedAt),
		LogLine:            w.LogLine,
		Analysis:           nullable(w.Analysis),
		RootCause:          nullable(w.RootCause),
		KnowledgeMatches:   nullable(w.Knowledge),
		RecommendedActions: nullable(w.Recommendations),
		Severity:           canonicalSeverity(w.Severity),
		Status:             models.StatusOpen,
		Category:           strings.TrimSpace(w.Category),
		Service:            strings.TrimSpace(w.Service),
	}
	if inc.RecommendedActions == nil {
		inc.RecommendedActions = nullable(w.Action)
	}
	if w.JobID != nil && *w.JobID != "" {
		id := *w.JobID
		inc.SourceJobID = &id
	}
	if strings.EqualFold(strings.TrimSpace(w.Status), string(models.StatusResolved)) {
		inc.Status = models.StatusResolved
	}
	if inc.Resolved() && w.ResolutionTimeHours != nil {
		hours := *w.ResolutionTimeHours
		inc.ResolutionTimeHours = &hours
	}
	return inc
}

func incidentToWire(inc models.Incident) incidentWire {
	w := incidentWire{
		ID:              inc.ID,
		Timestamp:       formatTime(inc.Timestamp),
		CreatedAt:       formatTime(inc.CreatedAt),
		JobID:           inc.SourceJobID,
		LogLine:         inc.LogLine,
		Analysis:        inc.Analysis,
		RootCause:       inc.RootCause,
		Knowledge:       inc.KnowledgeMatches,
		Recommendations: inc.RecommendedActions,
		Severity:        string(inc.Severity),
		Status:          string(inc.Status),
		Category:        inc.Category,
		Service:         inc.Service,
	}
	if inc.Resolved() {
		w.ResolutionTimeHours = inc.ResolutionTimeHours
	}
	return w
}

func canonicalSeverity(value string) models.Severity {
	value = strings.TrimSpace(value)
	for _, sev := range models.CanonicalSeverities {
		if strings.EqualFold(value, string(sev)) {
			return sev
		}
	}
	return models.Severity(value)
}

func nullable(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	return append(json.RawMessage(nil), trimmed...)
}

func scanRequestToWire(req models.ScanRequest) scanRequestWire {
	w := scanRequestWire{
		Cluster:          req.Cluster,
		Namespaces:       nonNil(req.Namespaces),
		TimeRangeMinutes: req.TimeRangeMinutes,
		LogLevels:        levelsToWire(req.LogLevels),
		MaxLinesPerPod:   req.MaxLinesPerPod,
	}
	if len(req.PodLabels) > 0 {
		w.PodLabels = make(map[string]string, len(req.PodLabels))
		for k, v := range req.PodLabels {
			w.PodLabels[k] = v
		}
	}
	if len(req.SearchPatterns) > 0 {
		w.SearchPatterns = append([]string(nil), req.SearchPatterns...)
	}
	return w
}

// unwrapList accepts either a bare JSON array or an object holding the array under key.
func unwrapList(data []byte, key string) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		return []byte("[]"), nil
	case trimmed[0] == '[':
		return trimmed, nil
	case trimmed[0] == '{':
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, err
		}
		inner, ok := envelope[key]
		if !ok {
			return nil, fmt.Errorf("object has no %q field", key)
		}
		return unwrapList(inner, key)
	default:
		return nil, fmt.Errorf("expected array or object, got %q", trimmed[:1])
	}
}

// DecodeIncidents translates a recent-incidents payload (an array, or an
// object with an "incidents" array) into models. Rows that are not objects
// are skipped; malformed fields within a row decode to neutral values.
func DecodeIncidents(data []byte) ([]models.Incident, error) {
	list, err := unwrapList(data, "incidents")
	if err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(list, &rows); err != nil {
		return nil, err
	}
	incidents := make([]models.Incident, 0, len(rows))
	for _, row := range rows {
		row = bytes.TrimSpace(row)
		if len(row) == 0 || row[0] != '{' {
			continue
		}
		var w incidentWire
		if err := json.Unmarshal(row, &w); err != nil {
			continue
		}
		incidents = append(incidents, incidentFromWire(w))
	}
	return incidents, nil
}

// EncodeIncidents renders incidents in the collaborator wire format.
func EncodeIncidents(incidents []models.Incident) ([]byte, error) {
	wire := make([]incidentWire, 0, len(incidents))
	for _, inc := range incidents {
		wire = append(wire, incidentToWire(inc))
	}
	return json.Marshal(wire)
}

// DecodeJobs translates a job list payload into models.
func DecodeJobs(data []byte) ([]models.ScheduledJob, error) {
	list, err := unwrapList(data, "jobs")
	if err != nil {
		return nil, err
	}
	var wire []jobWire
	if err := json.Unmarshal(list, &wire); err != nil {
		return nil, err
	}
	jobs := make([]models.ScheduledJob, 0, len(wire))
	for _, w := range wire {
		jobs = append(jobs, jobFromWire(w))
	}
	return jobs, nil
}

// EncodeJobs renders jobs in the collaborator wire format.
func EncodeJobs(jobs []models.ScheduledJob) ([]byte, error) {
	wire := make([]jobWire, 0, len(jobs))
	for _, job := range jobs {
		wire = append(wire, jobToWire(job))
	}
	return json.Marshal(wire)
}

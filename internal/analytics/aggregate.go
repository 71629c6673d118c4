// Package analytics derives render-ready summaries from a raw incident list.
// Every projection is a pure function of its input and never fails: absent
// labels fall back to neutral defaults and empty groups average to zero.
package analytics

import (
	"sort"
	"strings"

	"github.com/miradorstack/incident-console/internal/models"
	"github.com/miradorstack/incident-console/internal/utils"
)

const (
	// DefaultCategory labels incidents without a category.
	DefaultCategory = "Other"
	// DefaultSeverity labels incidents without a recognised severity.
	DefaultSeverity = "Other"
	// DefaultService labels incidents without a service.
	DefaultService = "Unknown"
	// UnknownDay buckets incidents carrying no usable timestamp.
	UnknownDay = "unknown"
	// FallbackColor is used for severities outside the canonical four.
	FallbackColor = "#9e9e9e"
)

var severityColors = map[string]string{
	string(models.SeverityCritical): "#f44336",
	string(models.SeverityHigh):     "#ff9800",
	string(models.SeverityMedium):   "#ffc107",
	string(models.SeverityLow):      "#4caf50",
}

// TrendPoint summarises one calendar day.
type TrendPoint struct {
	Date              string  `json:"date"`
	IncidentCount     int     `json:"incidentCount"`
	ResolvedCount     int     `json:"resolvedCount"`
	AvgResolutionTime float64 `json:"avgResolutionTime"`
}

// IssueSummary summarises one category.
type IssueSummary struct {
	Category          string  `json:"category"`
	Count             int     `json:"count"`
	AvgResolutionTime float64 `json:"avgResolutionTime"`
}

// SeveritySlice is one segment of the severity distribution.
type SeveritySlice struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
	Color    string `json:"color"`
}

// ServiceResolution summarises resolution cost for one service.
type ServiceResolution struct {
	Service        string  `json:"service"`
	AvgTime        float64 `json:"avgTime"`
	TotalIncidents int     `json:"totalIncidents"`
}

// Summary bundles the projections of one incident list.
type Summary struct {
	Trends               []TrendPoint        `json:"trends"`
	TopIssues            []IssueSummary      `json:"topIssues"`
	SeverityDistribution []SeveritySlice     `json:"severityDistribution"`
	ServiceResolution    []ServiceResolution `json:"serviceResolution"`
	Spikes               []TrendSpike        `json:"spikes"`
	TotalIncidents       int                 `json:"totalIncidents"`
}

// Summarize computes every projection of incidents.
func Summarize(incidents []models.Incident) Summary {
	trends := Trends(incidents)
	return Summary{
		Trends:               trends,
		TopIssues:            TopIssues(incidents),
		SeverityDistribution: SeverityDistribution(incidents),
		ServiceResolution:    ServiceResolutionTimes(incidents),
		Spikes:               Spikes(trends),
		TotalIncidents:       len(incidents),
	}
}

type group struct {
	count      int
	resolved   int
	totalHours float64
}

func (g *group) add(inc models.Incident) {
	g.count++
	if inc.Resolved() {
		g.resolved++
	}
	if hours, ok := resolutionHours(inc); ok {
		g.totalHours += hours
	}
}

func ensureGroup(m map[string]*group, key string) *group {
	g, ok := m[key]
	if !ok {
		g = &group{}
		m[key] = g
	}
	return g
}

// resolutionHours returns the measured resolution time when it is usable.
// Values on unresolved incidents violate the model and are ignored.
func resolutionHours(inc models.Incident) (float64, bool) {
	if inc.ResolutionTimeHours == nil || !inc.Resolved() {
		return 0, false
	}
	hours := *inc.ResolutionTimeHours
	if hours != hours || hours < 0 { // NaN or negative
		return 0, false
	}
	return hours, true
}

func ratio(num float64, den int) float64 {
	if den == 0 {
		return 0
	}
	return num / float64(den)
}

func labelOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}

// Trends groups incidents by day, ordered by date with unknown days last.
func Trends(incidents []models.Incident) []TrendPoint {
	groups := make(map[string]*group)
	for _, inc := range incidents {
		day := utils.DayKey(inc.ObservedAt())
		ensureGroup(groups, labelOr(day, UnknownDay)).add(inc)
	}

	points := make([]TrendPoint, 0, len(groups))
	for day, g := range groups {
		points = append(points, TrendPoint{
			Date:              day,
			IncidentCount:     g.count,
			ResolvedCount:     g.resolved,
			AvgResolutionTime: ratio(g.totalHours, g.resolved),
		})
	}
	sort.Slice(points, func(i, j int) bool {
		if (points[i].Date == UnknownDay) != (points[j].Date == UnknownDay) {
			return points[j].Date == UnknownDay
		}
		return points[i].Date < points[j].Date
	})
	return points
}

// TopIssues groups incidents by category, most frequent first. The average
// divides by every incident in the category, resolved or not.
func TopIssues(incidents []models.Incident) []IssueSummary {
	groups := make(map[string]*group)
	for _, inc := range incidents {
		ensureGroup(groups, labelOr(inc.Category, DefaultCategory)).add(inc)
	}

	issues := make([]IssueSummary, 0, len(groups))
	for category, g := range groups {
		issues = append(issues, IssueSummary{
			Category:          category,
			Count:             g.count,
			AvgResolutionTime: ratio(g.totalHours, g.count),
		})
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Count != issues[j].Count {
			return issues[i].Count > issues[j].Count
		}
		return issues[i].Category < issues[j].Category
	})
	return issues
}

// SeverityDistribution counts incidents per severity. Canonical severities come
// first in fixed order, the rest follow alphabetically.
func SeverityDistribution(incidents []models.Incident) []SeveritySlice {
	counts := make(map[string]int)
	for _, inc := range incidents {
		counts[normalizeSeverity(inc.Severity)]++
	}

	slices := make([]SeveritySlice, 0, len(counts))
	for _, sev := range models.CanonicalSeverities {
		if n, ok := counts[string(sev)]; ok {
			slices = append(slices, SeveritySlice{Severity: string(sev), Count: n, Color: SeverityColor(string(sev))})
			delete(counts, string(sev))
		}
	}
	rest := make([]string, 0, len(counts))
	for sev := range counts {
		rest = append(rest, sev)
	}
	sort.Strings(rest)
	for _, sev := range rest {
		slices = append(slices, SeveritySlice{Severity: sev, Count: counts[sev], Color: SeverityColor(sev)})
	}
	return slices
}

// SeverityColor returns the display color for a severity label.
func SeverityColor(severity string) string {
	if color, ok := severityColors[severity]; ok {
		return color
	}
	return FallbackColor
}

func normalizeSeverity(sev models.Severity) string {
	label := strings.TrimSpace(string(sev))
	if label == "" {
		return DefaultSeverity
	}
	for _, canonical := range models.CanonicalSeverities {
		if strings.EqualFold(label, string(canonical)) {
			return string(canonical)
		}
	}
	return label
}

// ServiceResolutionTimes reports the average resolution cost per incident for
// each service, ordered by service name.
func ServiceResolutionTimes(incidents []models.Incident) []ServiceResolution {
	groups := make(map[string]*group)
	for _, inc := range incidents {
		ensureGroup(groups, labelOr(inc.Service, DefaultService)).add(inc)
	}

	out := make([]ServiceResolution, 0, len(groups))
	for service, g := range groups {
		out = append(out, ServiceResolution{
			Service:        service,
			AvgTime:        ratio(g.totalHours, g.count),
			TotalIncidents: g.count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Package patterns groups log lines into recurring signatures so an operator
// can see which failures dominate a scan.
package patterns

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/miradorstack/incident-console/internal/models"
)

// DefaultLimit caps the number of patterns reported per scan.
const DefaultLimit = 5

const (
	idToken  = "<id>"
	numToken = "<num>"
)

var (
	uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	hexRe  = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{8,}$`)
)

// Miner mines frequency-based signatures from log lines.
type Miner struct {
	limit  int
	logger *slog.Logger
}

// NewMiner constructs a Miner reporting at most limit patterns.
func NewMiner(logger *slog.Logger, limit int) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Miner{limit: limit, logger: logger}
}

// Mine returns the most frequent signatures among lines. Patterns seen only
// once are dropped; ties are broken by signature so output is stable.
func (m *Miner) Mine(lines []string) []models.LogPattern {
	if len(lines) == 0 {
		return nil
	}

	stats := make(map[string]*aggregate)
	total := 0
	for _, line := range lines {
		sig := Signature(line)
		if sig == "" {
			continue
		}
		total++
		agg, ok := stats[sig]
		if !ok {
			agg = &aggregate{example: strings.TrimSpace(line)}
			stats[sig] = agg
		}
		agg.count++
	}

	patterns := make([]models.LogPattern, 0, len(stats))
	for sig, agg := range stats {
		if agg.count < 2 {
			continue
		}
		patterns = append(patterns, models.LogPattern{
			Signature:  sig,
			Count:      agg.count,
			Prevalence: float64(agg.count) / float64(total),
			Example:    agg.example,
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Count != patterns[j].Count {
			return patterns[i].Count > patterns[j].Count
		}
		return patterns[i].Signature < patterns[j].Signature
	})
	if len(patterns) > m.limit {
		patterns = patterns[:m.limit]
	}

	m.logger.Debug("mined log patterns", slog.Int("lines", total), slog.Int("patterns", len(patterns)))
	return patterns
}

// MineEntries mines the log text of scan entries.
func (m *Miner) MineEntries(entries []models.ScanEntry) []models.LogPattern {
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.Log)
	}
	return m.Mine(lines)
}

type aggregate struct {
	count   int
	example string
}

// Signature masks the variable tokens of line: identifiers become <id> and
// anything carrying a digit becomes <num>.
func Signature(line string) string {
	fields := strings.Fields(line)
	for i, f := range fields {
		fields[i] = maskToken(f)
	}
	return strings.Join(fields, " ")
}

func maskToken(token string) string {
	core := strings.Trim(token, `"'()[]{},;:=`)
	switch {
	case core == "":
		return token
	case uuidRe.MatchString(core), hexRe.MatchString(core) && strings.ContainsAny(core, "0123456789"):
		return strings.Replace(token, core, idToken, 1)
	case strings.ContainsAny(core, "0123456789"):
		return strings.Replace(token, core, numToken, 1)
	default:
		return token
	}
}

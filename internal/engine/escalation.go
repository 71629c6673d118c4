package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultEscalationKeywords mark a root cause as a code defect worth filing
// with the incident integrator when no rule pack is configured.
var defaultEscalationKeywords = []string{"exception", "fault", "error", "regression", "crash", "panic"}

// EscalationRules decides which diagnosed root causes are escalated.
type EscalationRules struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule escalates root causes containing any of its keywords.
type Rule struct {
	ID      string    `yaml:"id"`
	Match   RuleMatch `yaml:"match"`
	Summary string    `yaml:"summary"`
}

// RuleMatch lists case-insensitive substrings of the root-cause text.
type RuleMatch struct {
	Contains []string `yaml:"contains"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultEscalationRules returns the built-in keyword rule.
func DefaultEscalationRules(logger *slog.Logger) *EscalationRules {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalationRules{
		rules:  []Rule{{ID: "code-defect", Match: RuleMatch{Contains: defaultEscalationKeywords}}},
		logger: logger,
	}
}

// LoadEscalationRules reads a rule pack from path. An empty path or a missing
// file yields the built-in rule.
func LoadEscalationRules(path string, logger *slog.Logger) (*EscalationRules, error) {
	if path == "" {
		return DefaultEscalationRules(logger), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultEscalationRules(logger), nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalationRules{rules: cfg.Rules, logger: logger}, nil
}

// Match returns the first rule whose keywords occur in rootCause.
func (e *EscalationRules) Match(rootCause string) (Rule, bool) {
	if e == nil {
		return Rule{}, false
	}
	text := strings.ToLower(rootCause)
	for _, rule := range e.rules {
		for _, kw := range rule.Match.Contains {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				e.logger.Debug("escalation rule matched", slog.String("rule", rule.ID), slog.String("keyword", kw))
				return rule, true
			}
		}
	}
	return Rule{}, false
}

// Keywords lists every configured keyword, de-duplicated in rule order.
func (e *EscalationRules) Keywords() []string {
	if e == nil {
		return nil
	}
	var out []string
	for _, rule := range e.rules {
		out = appendUnique(out, rule.Match.Contains...)
	}
	return out
}

func appendUnique(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}

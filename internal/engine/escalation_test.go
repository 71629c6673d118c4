package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestEscalationRulesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte(`rules:
  - id: nil-deref
    match:
      contains: ["NullPointer", "nil pointer"]
    summary: "Application defect"
  - id: oom
    match:
      contains: ["OOMKilled"]
`), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rules, err := LoadEscalationRules(path, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}

	rule, ok := rules.Match("java.lang.NULLPOINTEREXCEPTION in OrderService")
	if !ok || rule.ID != "nil-deref" {
		t.Fatalf("expected nil-deref match, got %+v %v", rule, ok)
	}
	if _, ok := rules.Match("db-timeout"); ok {
		t.Fatalf("db-timeout must not escalate with this pack")
	}
	if got := rules.Keywords(); len(got) != 3 {
		t.Fatalf("expected 3 keywords, got %v", got)
	}
}

func TestEscalationRulesMissingFileUsesDefaults(t *testing.T) {
	rules, err := LoadEscalationRules("non-existent.yaml", nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, ok := rules.Match("Unhandled exception in handler"); !ok {
		t.Fatalf("expected default keywords to match")
	}
	if _, ok := rules.Match("disk pressure"); ok {
		t.Fatalf("unexpected match")
	}
}

func TestNilEscalationRules(t *testing.T) {
	var rules *EscalationRules
	if _, ok := rules.Match("panic"); ok {
		t.Fatalf("nil rules must never match")
	}
}

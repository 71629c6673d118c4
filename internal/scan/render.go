package scan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/miradorstack/incident-console/internal/models"
)

const absent = "(none)"

// Render writes a plain-text report of result to w.
func Render(w io.Writer, result models.ScanResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Pods scanned: %d\n", result.PodsScanned)
	if result.Legacy {
		b.WriteString("Analysis is shared across the batch.\n")
	}
	for _, e := range result.Errors {
		fmt.Fprintf(&b, "Error: %s\n", e)
	}
	if len(result.Patterns) > 0 {
		b.WriteString("Recurring patterns:\n")
		for _, p := range result.Patterns {
			fmt.Fprintf(&b, "  %dx %s\n", p.Count, p.Signature)
		}
	}
	if len(result.Entries) == 0 {
		b.WriteString("No matching log lines.\n")
	}
	for i, entry := range result.Entries {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, entry.Log)
		section(&b, "Analysis", entry.Analysis)
		section(&b, "Root Cause", entry.RootCause)
		section(&b, "Knowledge", entry.Knowledge)
		section(&b, "Recommendations", entry.Recommendations)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string, raw json.RawMessage) {
	fmt.Fprintf(b, "  %s:\n", title)
	if len(raw) == 0 {
		fmt.Fprintf(b, "    %s\n", absent)
		return
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "    ", "  "); err != nil {
		fmt.Fprintf(b, "    %s\n", raw)
		return
	}
	fmt.Fprintf(b, "    %s\n", out.String())
}

// Package report records per-user reconciliation decisions and exports them
// as CSV and JSON artifacts.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Action classifies one decision line.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionSkip       Action = "skip"
	ActionDeactivate Action = "deactivate"
	ActionError      Action = "error"
)

// Decision is one per-user outcome within an org.
type Decision struct {
	Org    string   `json:"org"`
	Email  string   `json:"email"`
	Action Action   `json:"action"`
	Group  string   `json:"group,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	Detail string   `json:"detail,omitempty"`
}

// Log accumulates decisions for one run. Not safe for concurrent use; the
// engine processes orgs sequentially.
type Log struct {
	decisions []Decision
}

// Record appends one decision.
func (l *Log) Record(d Decision) {
	l.decisions = append(l.decisions, d)
}

// Decisions returns the recorded decisions in insertion order.
func (l *Log) Decisions() []Decision {
	return l.decisions
}

// Summary counts decisions by action.
func (l *Log) Summary() map[Action]int {
	summary := map[Action]int{}
	for _, d := range l.decisions {
		summary[d.Action]++
	}
	return summary
}

// GenerateCSV writes the decision log to a CSV file, sorted by org then email.
func (l *Log) GenerateCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write([]string{"Org", "Email", "Action", "Group", "Roles", "Detail"}); err != nil {
		return err
	}
	for _, d := range sorted(l.decisions) {
		record := []string{d.Org, d.Email, string(d.Action), d.Group, strings.Join(d.Roles, "|"), d.Detail}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	return nil
}

// GenerateJSON writes the decision log to a JSON file, sorted by org then
// email.
func (l *Log) GenerateJSON(path string) error {
	data, err := json.MarshalIndent(sorted(l.decisions), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal decisions: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func sorted(decisions []Decision) []Decision {
	out := make([]Decision, len(decisions))
	copy(out, decisions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Org != out[j].Org {
			return out[i].Org < out[j].Org
		}
		return out[i].Email < out[j].Email
	})
	return out
}

// Package inspect renders a journaled run and the failures it logged.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/redispatch/internal/dispatch"
	"github.com/mattjoyce/redispatch/internal/journal"
)

// Report is the structured JSON representation of a run report.
type Report struct {
	RunID       string         `json:"run_id"`
	Service     string         `json:"service"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Status      string         `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Stats       dispatch.Stats `json:"stats"`
	ByKind      map[string]int `json:"by_kind,omitempty"`
	Failures    []Failure      `json:"failures"`
}

// Failure is one logged failure, in logging order.
type Failure struct {
	Seq      int       `json:"seq"`
	Kind     string    `json:"kind"`
	Depth    int       `json:"depth"`
	Message  string    `json:"message"`
	LoggedAt time.Time `json:"logged_at"`
}

// BuildReport renders a terminal-friendly report for a run.
func BuildReport(ctx context.Context, j *journal.Journal, runID string) (string, error) {
	report, err := gatherReportData(ctx, j, runID)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Run Report\n")
	fmt.Fprintf(&out, "Run ID      : %s\n", report.RunID)
	fmt.Fprintf(&out, "Service     : %s\n", report.Service)
	fmt.Fprintf(&out, "Fingerprint : %s\n", renderUnset(report.Fingerprint, "<none>"))
	fmt.Fprintf(&out, "Status      : %s\n", report.Status)
	fmt.Fprintf(&out, "Started     : %s\n", report.StartedAt.Format(time.RFC3339))
	if report.FinishedAt != nil {
		fmt.Fprintf(&out, "Finished    : %s\n", report.FinishedAt.Format(time.RFC3339))
	}
	s := report.Stats
	fmt.Fprintf(&out, "Stats       : executed=%d succeeded=%d failed=%d handled=%d dropped=%d\n",
		s.Executed, s.Succeeded, s.Failed, s.Handled, s.Dropped)
	fmt.Fprintf(&out, "\n")

	if len(report.Failures) == 0 {
		fmt.Fprintf(&out, "No failures logged\n")
		return out.String(), nil
	}

	kinds := make([]string, 0, len(report.ByKind))
	for k := range report.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&out, "%-20s x%d\n", k, report.ByKind[k])
	}
	fmt.Fprintf(&out, "\n")

	for _, f := range report.Failures {
		fmt.Fprintf(&out, "[%d] %s\n", f.Seq, f.Kind)
		fmt.Fprintf(&out, "    logged_at : %s\n", f.LoggedAt.Format(time.RFC3339Nano))
		fmt.Fprintf(&out, "    depth     : %d\n", f.Depth)
		fmt.Fprintf(&out, "    message   : %s\n", f.Message)
	}
	return out.String(), nil
}

// BuildJSONReport returns the same report as indented JSON.
func BuildJSONReport(ctx context.Context, j *journal.Journal, runID string) (string, error) {
	report, err := gatherReportData(ctx, j, runID)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, j *journal.Journal, runID string) (*Report, error) {
	run, err := j.Run(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	entries, err := j.Entries(ctx, runID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:       run.ID,
		Service:     run.Service,
		Fingerprint: run.Fingerprint,
		Status:      "running",
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Stats:       run.Stats,
		Failures:    make([]Failure, 0, len(entries)),
	}
	if run.FinishedAt != nil {
		report.Status = "finished"
	}
	if len(entries) > 0 {
		report.ByKind = make(map[string]int)
	}
	for i, e := range entries {
		report.ByKind[string(e.FailureKind)]++
		report.Failures = append(report.Failures, Failure{
			Seq:      i + 1,
			Kind:     string(e.FailureKind),
			Depth:    e.Depth,
			Message:  e.Message,
			LoggedAt: e.LoggedAt,
		})
	}
	return report, nil
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

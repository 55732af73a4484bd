package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/canon"
)

// Snapshot is the deterministic part of a Result: no durations, diagnostics
// or artifact paths, which vary between runs.
type Snapshot struct {
	Scenario    string         `json:"scenario"`
	Status      Status         `json:"status"`
	FailingStep *int           `json:"failing_step,omitempty"`
	Code        ErrorCode      `json:"code,omitempty"`
	Steps       []SnapshotStep `json:"steps"`
}

// SnapshotStep is one step of a Snapshot.
type SnapshotStep struct {
	Seq     int     `json:"seq"`
	Action  string  `json:"action"`
	Target  string  `json:"target,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// SnapshotOf extracts the snapshot of a result.
func SnapshotOf(r *Result) Snapshot {
	s := Snapshot{
		Scenario:    r.Name,
		Status:      r.Status,
		FailingStep: r.FailingStep,
		Code:        r.Code,
		Steps:       make([]SnapshotStep, 0, len(r.Steps)),
	}
	for _, step := range r.Steps {
		s.Steps = append(s.Steps, SnapshotStep{
			Seq:     step.Seq,
			Action:  step.Action,
			Target:  step.Target,
			Outcome: step.Outcome,
		})
	}
	return s
}

// RunWithGolden runs the scenario on page and compares its snapshot with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, h *Harness, page browser.Page, scenario *Scenario) *Result {
	t.Helper()

	result := h.Run(context.Background(), page, scenario)
	AssertGolden(t, scenario.Name, result)
	return result
}

// AssertGolden compares an existing result's snapshot against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := canon.MarshalIndent(SnapshotOf(result))
	if err != nil {
		t.Fatalf("snapshot %s: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}
